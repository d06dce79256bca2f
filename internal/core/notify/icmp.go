// Package notify builds the ICMP messages the engine asks the host to
// emit when a reassembly times out.
package notify

import (
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"firestige.xyz/defrag/internal/core"
)

// RFC 792: the quoted datagram is the IP header plus 64 bits of payload.
const quoteBytes = 8

// TimeExceeded builds an ICMP Time Exceeded message with code 1
// ("fragment reassembly time exceeded") quoting the given fragment,
// which must be the offset-0 fragment of the expired queue.
func TimeExceeded(f *core.Fragment) ([]byte, error) {
	n := len(f.Payload)
	if n > quoteBytes {
		n = quoteBytes
	}
	quote := make([]byte, 0, len(f.Header)+n)
	quote = append(quote, f.Header...)
	quote = append(quote, f.Payload[:n]...)

	msg := icmp.Message{
		Type: ipv4.ICMPTypeTimeExceeded,
		Code: 1,
		Body: &icmp.TimeExceeded{Data: quote},
	}
	return msg.Marshal(nil)
}
