// Package defrag implements the IPv4 datagram reassembly engine: a
// content-addressed table of in-progress reassemblies with precise
// overlap resolution, a global memory accountant with LRU eviction,
// per-queue expiry, and periodic rekeying of the bucket hash.
package defrag

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/defrag/internal/core"
	"firestige.xyz/defrag/internal/log"
	"firestige.xyz/defrag/internal/metrics"
)

// Default limits, matching the classic ipfrag sysctl values.
const (
	DefaultHighWatermark = 256 * 1024
	DefaultLowWatermark  = 192 * 1024
	DefaultFragTTL       = 30 * time.Second
	DefaultRekeyInterval = 10 * time.Minute
	DefaultBucketCount   = 64
)

// fragmentOverhead approximates the per-buffer bookkeeping charged on
// top of the raw bytes, so tiny fragments still cost an attacker
// something.
const fragmentOverhead = 64

// Config parameterizes an Engine. Zero values take the defaults above.
type Config struct {
	HighWatermark int64
	LowWatermark  int64
	FragTTL       time.Duration
	RekeyInterval time.Duration // <= 0 after defaulting disables rekey
	BucketCount   int

	// Clock drives expiry and rekey; tests inject a virtual clock.
	Clock Clock

	// OnExpiry receives the offset-0 fragment of a timed-out queue so
	// the host can emit an ICMP reassembly-timeout. Called with the
	// queue lock held; it must not call back into the engine.
	OnExpiry func(*core.Fragment)

	// SizeOf reports the accounted size of a fragment the engine is
	// about to own. Defaults to buffer length plus a fixed overhead.
	SizeOf func(*core.Fragment) int
}

func defaultSizeOf(f *core.Fragment) int {
	return len(f.Header) + len(f.Payload) + fragmentOverhead
}

// Status classifies the outcome of one Ingest call.
type Status uint8

const (
	Pending Status = iota
	Delivered
	Dropped
)

// DropReason explains a Dropped result.
type DropReason uint8

const (
	ReasonNone DropReason = iota
	ReasonCorrupt
	ReasonZeroLength
	ReasonOversize
	ReasonNoMemory
	ReasonExpired
	ReasonShutdown
)

func (r DropReason) String() string {
	switch r {
	case ReasonCorrupt:
		return "corrupt"
	case ReasonZeroLength:
		return "zero-length"
	case ReasonOversize:
		return "oversize"
	case ReasonNoMemory:
		return "no-memory"
	case ReasonExpired:
		return "expired"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// Result is the outcome of one Ingest call. Datagram is non-nil exactly
// when Status is Delivered.
type Result struct {
	Status   Status
	Reason   DropReason
	Datagram *core.Datagram
}

// Engine is the defragmenter. All state is owned by the value; separate
// engines are fully isolated and safe to run in parallel.
type Engine struct {
	cfg   Config
	clock Clock

	mem accountant

	mu         sync.RWMutex // guards buckets, lru, seed, rekeyTimer
	seed       uint32
	bucketMask uint32
	buckets    [][]*queue
	lru        *list.List
	nqueues    int
	rekeyTimer Timer

	closed atomic.Bool
}

// New builds an engine, seeds the bucket hash from the system entropy
// source, and arms the rekey timer.
func New(cfg Config) (*Engine, error) {
	if cfg.HighWatermark == 0 {
		cfg.HighWatermark = DefaultHighWatermark
	}
	if cfg.LowWatermark == 0 {
		cfg.LowWatermark = DefaultLowWatermark
	}
	if cfg.FragTTL == 0 {
		cfg.FragTTL = DefaultFragTTL
	}
	if cfg.RekeyInterval == 0 {
		cfg.RekeyInterval = DefaultRekeyInterval
	}
	if cfg.BucketCount == 0 {
		cfg.BucketCount = DefaultBucketCount
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.SizeOf == nil {
		cfg.SizeOf = defaultSizeOf
	}

	if cfg.LowWatermark >= cfg.HighWatermark {
		return nil, fmt.Errorf("%w: low watermark %d must be below high watermark %d",
			core.ErrConfigInvalid, cfg.LowWatermark, cfg.HighWatermark)
	}
	if cfg.BucketCount <= 0 || cfg.BucketCount&(cfg.BucketCount-1) != 0 {
		return nil, fmt.Errorf("%w: bucket count %d must be a power of two",
			core.ErrConfigInvalid, cfg.BucketCount)
	}

	e := &Engine{
		cfg:        cfg,
		clock:      cfg.Clock,
		seed:       newSeed(),
		bucketMask: uint32(cfg.BucketCount - 1),
		buckets:    make([][]*queue, cfg.BucketCount),
		lru:        list.New(),
	}
	e.scheduleRekey()
	return e, nil
}

// Ingest admits one IPv4 fragment. The fragment must be a real fragment
// (MF set or a nonzero offset); non-fragments belong to the fast path
// upstream. The engine takes ownership of the fragment's buffers on any
// non-Dropped outcome.
func (e *Engine) Ingest(f *core.Fragment) Result {
	metrics.ReasmReqds.Inc()

	if e.closed.Load() {
		return Result{Status: Dropped, Reason: ReasonShutdown}
	}
	if f.Size == 0 {
		f.Size = e.cfg.SizeOf(f)
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = e.clock.Now()
	}

	if e.mem.current() > e.cfg.HighWatermark {
		e.evictUntil(e.cfg.LowWatermark)
	}

	q := e.find(f.Key)
	if q == nil {
		metrics.ReasmFails.Inc()
		return Result{Status: Dropped, Reason: ReasonNoMemory}
	}

	q.mu.Lock()
	err := e.insert(q, f)
	var d *core.Datagram
	if err == nil && q.flags&(firstIn|lastIn) == firstIn|lastIn && q.meat == q.total {
		d, err = e.reassemble(q)
	}
	q.mu.Unlock()
	q.release()

	switch {
	case d != nil:
		return Result{Status: Delivered, Datagram: d}
	case err == nil:
		return Result{Status: Pending}
	default:
		return Result{Status: Dropped, Reason: dropReason(err)}
	}
}

func dropReason(err error) DropReason {
	switch err {
	case core.ErrFragmentCorrupt:
		return ReasonCorrupt
	case core.ErrZeroLength:
		return ReasonZeroLength
	case core.ErrOversize:
		return ReasonOversize
	case core.ErrNoMemory:
		return ReasonNoMemory
	case core.ErrQueueExpired:
		return ReasonExpired
	case core.ErrEngineClosed:
		return ReasonShutdown
	default:
		return ReasonNone
	}
}

// Flush kills every in-progress queue without ICMP notification.
func (e *Engine) Flush() {
	e.evictUntil(0)
}

// Close stops the rekey timer and flushes the table. Subsequent Ingest
// calls return Dropped(Shutdown).
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.mu.Lock()
	if e.rekeyTimer != nil {
		e.rekeyTimer.Stop()
		e.rekeyTimer = nil
	}
	e.mu.Unlock()
	e.Flush()
	log.GetLogger().Debug("defrag engine closed")
}

// MemUsage reads the accountant: bytes currently held in fragments and
// queue descriptors.
func (e *Engine) MemUsage() int64 {
	return e.mem.current()
}

// QueueCount reports the number of in-progress reassembly queues.
func (e *Engine) QueueCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nqueues
}
