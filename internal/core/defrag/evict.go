package defrag

import "firestige.xyz/defrag/internal/metrics"

// evictUntil kills queues from the LRU head until accounted memory
// drops to target or nothing evictable remains. Each killed queue
// counts as one reassembly failure, mirroring the classic evictor.
func (e *Engine) evictUntil(target int64) {
	for e.mem.current() > target {
		e.mu.RLock()
		front := e.lru.Front()
		if front == nil {
			e.mu.RUnlock()
			return
		}
		q := front.Value.(*queue)
		q.hold()
		e.mu.RUnlock()

		q.mu.Lock()
		if q.flags&complete == 0 {
			e.kill(q)
		}
		q.mu.Unlock()
		q.release()

		metrics.ReasmFails.Inc()
	}
}
