// Package metrics provides Prometheus instrumentation for Strata providers:
// items read and written, bulk calls issued, and errors by kind, labeled per
// provider instance.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsRead counts items yielded by read streams.
	ItemsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_items_read_total",
			Help: "Total items yielded by provider read streams",
		},
		[]string{"provider", "backend"},
	)

	// ItemsWritten counts items accepted by write calls.
	ItemsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_items_written_total",
			Help: "Total items written through providers",
		},
		[]string{"provider", "backend"},
	)

	// BulkCalls counts native bulk-write calls issued to backends.
	BulkCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_bulk_calls_total",
			Help: "Total native bulk-write calls issued to backends",
		},
		[]string{"provider", "backend"},
	)

	// Errors counts normalized provider errors by kind.
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_errors_total",
			Help: "Total normalized provider errors by kind",
		},
		[]string{"provider", "backend", "kind"},
	)

	// OperationDuration tracks backend call latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strata_operation_duration_seconds",
			Help:    "Latency of provider operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"provider", "backend", "operation"},
	)
)

// Collector records metrics for one provider instance.
type Collector struct {
	provider string
	backend  string
}

// NewCollector creates a collector labeled with the provider instance name
// and backend name.
func NewCollector(provider, backend string) *Collector {
	return &Collector{provider: provider, backend: backend}
}

// RecordRead counts n items yielded by a read stream.
func (c *Collector) RecordRead(n int) {
	ItemsRead.WithLabelValues(c.provider, c.backend).Add(float64(n))
}

// RecordWrite counts n items written and one bulk call.
func (c *Collector) RecordWrite(n int) {
	ItemsWritten.WithLabelValues(c.provider, c.backend).Add(float64(n))
	BulkCalls.WithLabelValues(c.provider, c.backend).Inc()
}

// RecordError counts one normalized error of the given kind.
func (c *Collector) RecordError(kind string) {
	Errors.WithLabelValues(c.provider, c.backend, kind).Inc()
}

// Timer measures one operation's duration.
type Timer struct {
	collector *Collector
	operation string
	start     time.Time
}

// StartTimer begins timing an operation.
func (c *Collector) StartTimer(operation string) *Timer {
	return &Timer{collector: c, operation: operation, start: time.Now()}
}

// Stop records the elapsed duration and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	OperationDuration.
		WithLabelValues(t.collector.provider, t.collector.backend, t.operation).
		Observe(elapsed.Seconds())
	return elapsed
}
