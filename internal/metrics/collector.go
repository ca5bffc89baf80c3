// Package metrics exposes request and history counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes.
const (
	OutcomeDispatched    = "dispatched"
	OutcomeRejected      = "rejected"
	OutcomeConfiguration = "configuration_error"
	OutcomeProvider      = "provider_error"
	OutcomeDispatchError = "dispatch_error"
	OutcomeContract      = "contract_violation"
)

// Collector holds the service counters. A nil *Collector records nothing.
type Collector struct {
	requestsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
}

// NewCollector registers the counters on registerer under namespace.
func NewCollector(namespace string, registerer prometheus.Registerer) *Collector {
	factory := promauto.With(registerer)

	return &Collector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tts_requests_total",
				Help:      "Total number of TTS requests by source and outcome",
			},
			[]string{"source", "provider", "outcome"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_transitions_total",
				Help:      "Total number of audit item transitions by resulting state",
			},
			[]string{"state"},
		),
	}
}

// RecordRequest counts one request outcome.
func (c *Collector) RecordRequest(source, provider, outcome string) {
	if c == nil {
		return
	}

	c.requestsTotal.WithLabelValues(source, provider, outcome).Inc()
}

// RecordTransition counts one audit item reaching state.
func (c *Collector) RecordTransition(state string) {
	if c == nil {
		return
	}

	c.transitionsTotal.WithLabelValues(state).Inc()
}
