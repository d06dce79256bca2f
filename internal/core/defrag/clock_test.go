package defrag

import (
	"sync"
	"testing"
	"time"

	"firestige.xyz/defrag/internal/core"
)

// fakeClock drives expiry and rekey deterministically.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and fires due timers outside the clock lock,
// so handlers are free to re-arm or stop other timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, rest []*fakeTimer
	for _, t := range c.timers {
		switch {
		case t.stopped || t.fired:
		case !t.when.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// ─── shared test helpers ───

func testKey(id uint16) core.FragmentKey {
	return core.FragmentKey{
		SrcIP:    [4]byte{10, 0, 0, 1},
		DstIP:    [4]byte{10, 0, 0, 2},
		Protocol: 17,
		ID:       id,
	}
}

// testFrag builds a fragment whose payload byte at datagram position p
// is byte(p % 251), so overlapping copies carry identical data and the
// reassembled payload is position-verifiable.
func testFrag(key core.FragmentKey, offset, length int, more bool) *core.Fragment {
	payload := make([]byte, length)
	for i := range payload {
		payload[i] = byte((offset + i) % 251)
	}
	header := make([]byte, 20)
	header[0] = 0x45
	header[8] = 64
	header[9] = key.Protocol
	header[4] = byte(key.ID >> 8)
	header[5] = byte(key.ID)
	copy(header[12:16], key.SrcIP[:])
	copy(header[16:20], key.DstIP[:])
	return &core.Fragment{
		Key:      key,
		Offset:   offset,
		More:     more,
		Header:   header,
		Payload:  payload,
		Checksum: core.ChecksumUnnecessary,
	}
}

func wantPattern(t *testing.T, payload []byte) {
	t.Helper()
	for i, b := range payload {
		if b != byte(i%251) {
			t.Fatalf("payload byte %d = %#x, want %#x", i, b, byte(i%251))
		}
	}
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	if cfg.Clock == nil {
		cfg.Clock = clk
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)
	return e, clk
}
