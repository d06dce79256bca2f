package defrag

import (
	"firestige.xyz/defrag/internal/core"
	"firestige.xyz/defrag/internal/log"
	"firestige.xyz/defrag/internal/metrics"
)

// find returns the queue for key with one reference held for the
// caller, creating it if absent. Returns nil when creation is refused
// for lack of memory.
func (e *Engine) find(key core.FragmentKey) *queue {
	e.mu.RLock()
	idx := hashKey(key, e.seed) & e.bucketMask
	for _, q := range e.buckets[idx] {
		if q.key == key {
			q.hold()
			e.mu.RUnlock()
			return q
		}
	}
	e.mu.RUnlock()

	return e.create(key)
}

func (e *Engine) create(key core.FragmentKey) *queue {
	// The eviction sweep already ran; still being above the high
	// watermark means the fragment memory is pinned by live callers.
	if e.mem.current() > e.cfg.HighWatermark {
		return nil
	}

	q := &queue{key: key, engine: e}
	q.fragments.Init()
	q.refs.Store(1) // caller reference
	e.mem.add(queueOverhead)

	e.mu.Lock()
	// A concurrent creator may have won between the read-path scan and
	// taking the write lock; re-scan before publishing.
	idx := hashKey(key, e.seed) & e.bucketMask
	for _, dup := range e.buckets[idx] {
		if dup.key == key {
			dup.hold()
			e.mu.Unlock()
			q.flags |= complete
			q.release()
			return dup
		}
	}

	q.timer = e.clock.AfterFunc(e.cfg.FragTTL, func() { e.expire(q) })
	q.refs.Add(1) // timer reference
	q.refs.Add(1) // table reference
	e.buckets[idx] = append(e.buckets[idx], q)
	q.lruElem = e.lru.PushBack(q)
	e.nqueues++
	metrics.ActiveQueues.Inc()
	e.mu.Unlock()

	return q
}

// rekey replaces the hash seed and relinks every queue into its new
// bucket. LRU order, refcounts, and fragment contents are untouched.
func (e *Engine) rekey() {
	e.mu.Lock()
	e.seed = newSeed()
	fresh := make([][]*queue, len(e.buckets))
	n := 0
	for _, chain := range e.buckets {
		for _, q := range chain {
			idx := hashKey(q.key, e.seed) & e.bucketMask
			fresh[idx] = append(fresh[idx], q)
			n++
		}
	}
	e.buckets = fresh
	e.mu.Unlock()

	log.GetLogger().WithField("queues", n).Debug("reassembly hash rekeyed")
}

func (e *Engine) scheduleRekey() {
	e.mu.Lock()
	if !e.closed.Load() && e.cfg.RekeyInterval > 0 {
		e.rekeyTimer = e.clock.AfterFunc(e.cfg.RekeyInterval, e.rekeyTick)
	}
	e.mu.Unlock()
}

func (e *Engine) rekeyTick() {
	e.rekey()
	e.scheduleRekey()
}
