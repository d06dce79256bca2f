package notify

import (
	"bytes"
	"testing"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"firestige.xyz/defrag/internal/core"
)

func testFragment(payloadLen int) *core.Fragment {
	header := make([]byte, 20)
	header[0] = 0x45
	header[9] = 17
	payload := make([]byte, payloadLen)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	return &core.Fragment{Header: header, Payload: payload}
}

func TestTimeExceededShape(t *testing.T) {
	frag := testFragment(100)

	raw, err := TimeExceeded(frag)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg, err := icmp.ParseMessage(1, raw)
	if err != nil {
		t.Fatalf("built message does not parse: %v", err)
	}
	if msg.Type != ipv4.ICMPTypeTimeExceeded {
		t.Fatalf("type %v, want time exceeded", msg.Type)
	}
	if msg.Code != 1 {
		t.Fatalf("code %d, want 1 (fragment reassembly time exceeded)", msg.Code)
	}

	body, ok := msg.Body.(*icmp.TimeExceeded)
	if !ok {
		t.Fatalf("body type %T, want *icmp.TimeExceeded", msg.Body)
	}
	if !bytes.HasPrefix(body.Data, frag.Header) {
		t.Fatal("quoted data does not start with the fragment's IP header")
	}
	if want := len(frag.Header) + 8; len(body.Data) != want {
		t.Fatalf("quoted %d bytes, want header plus 64 bits = %d", len(body.Data), want)
	}
}

func TestTimeExceededShortPayload(t *testing.T) {
	frag := testFragment(3)

	raw, err := TimeExceeded(frag)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg, err := icmp.ParseMessage(1, raw)
	if err != nil {
		t.Fatalf("built message does not parse: %v", err)
	}
	body := msg.Body.(*icmp.TimeExceeded)
	if want := len(frag.Header) + 3; len(body.Data) != want {
		t.Fatalf("quoted %d bytes, want %d", len(body.Data), want)
	}
}
