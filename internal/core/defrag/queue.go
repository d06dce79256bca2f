package defrag

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/defrag/internal/core"
	"firestige.xyz/defrag/internal/metrics"
)

// Queue state flags.
const (
	lastIn uint8 = 1 << iota // terminal fragment (MF=0) admitted
	firstIn                  // offset-0 fragment admitted
	complete                 // unlinked from table; terminal state
)

// queueOverhead is the descriptor size charged to the accountant for
// every live queue, independent of its fragments.
const queueOverhead = 192

// queue is one in-progress datagram reassembly. All fields below mu are
// guarded by it except refs (atomic) and lruElem (guarded by the engine
// table lock).
type queue struct {
	key    core.FragmentKey
	engine *Engine

	mu        sync.Mutex
	fragments list.List // of *core.Fragment, ascending Offset, disjoint
	total     int       // best estimate of full payload length
	meat      int       // payload bytes currently held
	flags     uint8
	device    int // device of the most recent arrival with a nonzero Device
	stamp     time.Time
	timer     Timer

	refs    atomic.Int64
	lruElem *list.Element
}

func (q *queue) hold() {
	q.refs.Add(1)
}

// release drops one reference; the last one destroys the queue. The
// destructor runs without any lock held.
func (q *queue) release() {
	if q.refs.Add(-1) == 0 {
		q.destroy()
	}
}

// destroy returns all owned memory to the accountant. The queue is
// unreachable by the time the final reference drains, so no lock is
// taken.
func (q *queue) destroy() {
	for el := q.fragments.Front(); el != nil; el = el.Next() {
		q.engine.mem.sub(int64(el.Value.(*core.Fragment).Size))
	}
	q.fragments.Init()
	q.engine.mem.sub(queueOverhead)
}

// kill takes q out of service: cancels the pending expiry timer, unlinks
// it from the table and LRU, and marks it COMPLETE. Callers must hold
// q.mu and their own reference. Idempotent: a second call finds the
// timer gone and the COMPLETE flag set.
func (e *Engine) kill(q *queue) {
	if q.timer != nil && q.timer.Stop() {
		q.release() // timer reference
	}
	q.timer = nil

	if q.flags&complete == 0 {
		q.flags |= complete
		e.mu.Lock()
		e.unlinkLocked(q)
		e.mu.Unlock()
		q.release() // table reference
	}
}

// unlinkLocked removes q from its bucket chain and the LRU. Caller holds
// the table write lock.
func (e *Engine) unlinkLocked(q *queue) {
	idx := hashKey(q.key, e.seed) & e.bucketMask
	chain := e.buckets[idx]
	for i, cand := range chain {
		if cand == q {
			e.buckets[idx] = append(chain[:i], chain[i+1:]...)
			break
		}
	}
	if q.lruElem != nil {
		e.lru.Remove(q.lruElem)
		q.lruElem = nil
	}
	e.nqueues--
	metrics.ActiveQueues.Dec()
}

// expire is the per-queue timer handler. It owns the timer reference and
// releases it on return.
func (e *Engine) expire(q *queue) {
	q.mu.Lock()
	if q.flags&complete != 0 {
		q.mu.Unlock()
		q.release()
		return
	}

	metrics.ReasmTimeouts.Inc()
	metrics.ReasmFails.Inc()

	if q.flags&firstIn != 0 && e.cfg.OnExpiry != nil {
		if front := q.fragments.Front(); front != nil {
			if f := front.Value.(*core.Fragment); f.Offset == 0 {
				e.cfg.OnExpiry(f)
			}
		}
	}

	e.kill(q)
	q.mu.Unlock()
	q.release()
}
