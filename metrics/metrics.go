// Package metrics exposes Prometheus instrumentation for the counting layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "velocity"

// Sink records counter observability metrics. It implements
// counter.MetricsSink.
type Sink struct {
	increments *prometheus.CounterVec
	reads      prometheus.Counter
}

// NewSink registers the velocity metrics on the default registry.
func NewSink() *Sink {
	return &Sink{
		increments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_increments_total",
			Help:      "Number of window increments by outcome status",
		}, []string{"status"}),
		reads: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_reads_total",
			Help:      "Number of per-key read operations issued to the store for window aggregation",
		}),
	}
}

// IncrementObserved records the outcome of one Increment call.
func (s *Sink) IncrementObserved(status string) {
	s.increments.WithLabelValues(status).Inc()
}

// ReadsObserved records the number of store reads behind one aggregation.
func (s *Sink) ReadsObserved(n int) {
	s.reads.Add(float64(n))
}
