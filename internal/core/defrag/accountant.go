package defrag

import (
	"sync/atomic"

	"firestige.xyz/defrag/internal/metrics"
)

// accountant is the lock-free gauge of bytes currently owned by the
// engine: fragment buffers plus queue descriptors. It is advisory; the
// only guarantee is a monotonic read of a single snapshot.
type accountant struct {
	n atomic.Int64
}

func (a *accountant) add(n int64) {
	metrics.FragMemBytes.Set(float64(a.n.Add(n)))
}

func (a *accountant) sub(n int64) {
	a.add(-n)
}

func (a *accountant) current() int64 {
	return a.n.Load()
}
