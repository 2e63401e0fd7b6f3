package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sources provides the counter readbacks for the exposition. Every callback
// must be safe for concurrent use; all counters are monotonic except the
// active-flow gauge.
type Sources struct {
	TotalPackets    func() uint64
	TotalBytes      func() uint64
	ActiveFlows     func() int
	RingDrops       func() uint64
	KernelRingDrops func() uint64
	DecodeErrors    func() uint64
	WriteFailures   func() uint64
	LateEvents      func() uint64
	OffloadDrops    func() uint64
}

// Metrics exposes the agent counters in the Prometheus text format. It is a
// pure read path: scrape-time callbacks into the live structures, no state
// of its own.
type Metrics struct {
	registry *prometheus.Registry
}

// New registers all collectors over the given sources.
func New(src Sources) *Metrics {
	registry := prometheus.NewRegistry()

	counter := func(name, help string, fn func() uint64) {
		registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: name,
			Help: help,
		}, func() float64 { return float64(fn()) }))
	}

	counter("flowscope_packets_total", "Total number of observed packets", src.TotalPackets)
	counter("flowscope_bytes_total", "Total bytes observed", src.TotalBytes)
	counter("flowscope_ring_drops_total", "Capture records dropped against a full userspace ring", src.RingDrops)
	counter("flowscope_kernel_ring_drops_total", "Events dropped by the kernel ring buffer", src.KernelRingDrops)
	counter("flowscope_decode_errors_total", "Malformed capture records skipped by ingestion", src.DecodeErrors)
	counter("flowscope_store_write_failures_total", "Persistence batches abandoned after retries", src.WriteFailures)
	counter("flowscope_late_events_total", "Events accepted for an already-closed aggregation window", src.LateEvents)
	counter("flowscope_offload_drops_total", "Persistence batches dropped against a full offload queue", src.OffloadDrops)

	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "flowscope_active_flows",
		Help: "Currently tracked live flows",
	}, func() float64 { return float64(src.ActiveFlows()) }))

	return &Metrics{registry: registry}
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
