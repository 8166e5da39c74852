package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BusMetrics records dispatch activity on the event bus.
type BusMetrics struct {
	published *prometheus.CounterVec
	delivered *prometheus.CounterVec
	failures  *prometheus.CounterVec
	timeouts  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewBusMetrics registers the bus metrics on the provided registerer.
func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	if reg == nil {
		return &BusMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_events_published_total",
		Help: "Events accepted for delivery, per topic.",
	}, []string{"topic"})
	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_events_delivered_total",
		Help: "Successful handler invocations, per topic.",
	}, []string{"topic"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_handler_failures_total",
		Help: "Handler invocations that returned an error or overflowed, per topic.",
	}, []string{"topic"})
	timeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_handler_timeouts_total",
		Help: "Handler invocations abandoned after the delivery timeout, per topic.",
	}, []string{"topic"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bus_handler_duration_seconds",
		Help:    "Duration of handler invocations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
	reg.MustRegister(published, delivered, failures, timeouts, duration)
	return &BusMetrics{
		published: published,
		delivered: delivered,
		failures:  failures,
		timeouts:  timeouts,
		duration:  duration,
	}
}

// IncPublished counts an accepted publish for the topic.
func (m *BusMetrics) IncPublished(topic string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(topic)).Inc()
}

// IncDelivered counts a successful delivery for the topic.
func (m *BusMetrics) IncDelivered(topic string) {
	if m == nil || m.delivered == nil {
		return
	}
	m.delivered.WithLabelValues(normalizeLabel(topic)).Inc()
}

// IncFailure counts a failed delivery for the topic.
func (m *BusMetrics) IncFailure(topic string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(topic)).Inc()
}

// IncTimeout counts an abandoned delivery for the topic.
func (m *BusMetrics) IncTimeout(topic string) {
	if m == nil || m.timeouts == nil {
		return
	}
	m.timeouts.WithLabelValues(normalizeLabel(topic)).Inc()
}

// ObserveHandlerDuration records how long one handler invocation took.
func (m *BusMetrics) ObserveHandlerDuration(topic string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(topic)).Observe(duration.Seconds())
}

func normalizeLabel(topic string) string {
	if topic == "" {
		return "unknown"
	}
	return topic
}
