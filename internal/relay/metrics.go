package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeProcessed = "processed"
	OutcomeMalformed = "malformed"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
)

// Metrics holds the relay's per-topic collectors.
type Metrics struct {
	messages *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the relay collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracerelay",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Messages consumed, by topic and outcome.",
		}, []string{"topic", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tracerelay",
			Subsystem: "relay",
			Name:      "handler_duration_seconds",
			Help:      "Time spent handling one message, by topic.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"topic"}),
	}
	if reg != nil {
		reg.MustRegister(m.messages, m.duration)
	}
	return m
}

// MessagesCollector exposes the outcome counter, mostly for tests.
func (m *Metrics) MessagesCollector() *prometheus.CounterVec {
	return m.messages
}

func (m *Metrics) observe(topic, outcome string, seconds float64) {
	m.messages.WithLabelValues(topic, outcome).Inc()
	m.duration.WithLabelValues(topic).Observe(seconds)
}
