package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "notifications"

// Metrics holds the collectors shared by the dispatch engine, the channel
// processors and the aggregation store.
type Metrics struct {
	EventsDispatched   prometheus.Counter
	EndpointsProcessed *prometheus.CounterVec
	ProcessorRetries   *prometheus.CounterVec
	ProcessorDuration  *prometheus.HistogramVec
	AggregationAdds    prometheus.Counter
	AggregationFlushes prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Number of events handed to the dispatch engine.",
		}),
		EndpointsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "endpoints_total",
			Help:      "Number of history records produced, by endpoint type and status.",
		}, []string{"type", "status"}),
		ProcessorRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "retries_total",
			Help:      "Number of transport retries, by endpoint type.",
		}, []string{"type"}),
		ProcessorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "duration_seconds",
			Help:      "Time spent in a channel processor for one endpoint batch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		AggregationAdds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "adds_total",
			Help:      "Number of payloads added to the aggregation store.",
		}),
		AggregationFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "flushes_total",
			Help:      "Number of non-empty aggregation flushes.",
		}),
	}

	reg.MustRegister(
		m.EventsDispatched,
		m.EndpointsProcessed,
		m.ProcessorRetries,
		m.ProcessorDuration,
		m.AggregationAdds,
		m.AggregationFlushes,
	)

	return m
}

// NewNop returns collectors registered on a private registry, for tests and
// tools that do not expose metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
