// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReasmReqds counts fragments handed to the engine (REASMREQDS).
	ReasmReqds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "defrag_reasm_requests_total",
			Help: "Total number of IP fragments received for reassembly",
		},
	)

	// ReasmOKs counts successfully reassembled datagrams (REASMOKS).
	ReasmOKs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "defrag_reasm_oks_total",
			Help: "Total number of datagrams successfully reassembled",
		},
	)

	// ReasmFails counts terminally failed reassemblies (REASMFAILS):
	// eviction, expiry, oversize, and queue allocation failure.
	ReasmFails = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "defrag_reasm_fails_total",
			Help: "Total number of reassembly failures",
		},
	)

	// ReasmTimeouts counts queues killed by the expiry timer (REASMTIMEOUT).
	ReasmTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "defrag_reasm_timeouts_total",
			Help: "Total number of reassembly queues that timed out",
		},
	)

	// FragMemBytes mirrors the engine's memory accountant.
	FragMemBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "defrag_frag_mem_bytes",
			Help: "Bytes currently held in fragments and queue descriptors",
		},
	)

	// ActiveQueues tracks reassembly queues currently linked in the table.
	ActiveQueues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "defrag_active_queues",
			Help: "Number of in-progress reassembly queues",
		},
	)
)
