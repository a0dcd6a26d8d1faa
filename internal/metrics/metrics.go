// Package metrics defines the Prometheus collectors for dispatch and relay.
// All Record methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deckrelay"

// Envelope results.
const (
	ResultDispatched    = "dispatched"
	ResultDecodeError   = "decode_error"
	ResultUnknownAction = "unknown_action"
	ResultIgnoredEvent  = "ignored_event"
	ResultPayloadError  = "payload_error"
	ResultHandlerError  = "handler_error"
)

// Metrics holds every collector and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	EnvelopesTotal   *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	Routers          prometheus.Gauge

	RelayMessages *prometheus.CounterVec
	RelayMatches  prometheus.Counter
	RelayPending  *prometheus.GaugeVec
	RelaySessions prometheus.Gauge
	RelayProbes   *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EnvelopesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "envelopes_total",
				Help:      "Inbound host messages by dispatch result",
			},
			[]string{"result"},
		),

		DispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Time spent routing and handling one envelope",
				Buckets:   prometheus.DefBuckets,
			},
		),

		Routers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "routers",
				Help:      "Live context routers on the current connection",
			},
		),

		RelayMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "messages_total",
				Help:      "Relay messages received by the broker, by verb",
			},
			[]string{"verb"},
		),

		RelayMatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "matches_total",
				Help:      "Broadcasters matched with requesters",
			},
		),

		RelayPending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "pending",
				Help:      "Pending broker entries by table (records, requesters)",
			},
			[]string{"table"},
		),

		RelaySessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "sessions",
				Help:      "Open broker sessions",
			},
		),

		RelayProbes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "probes_total",
				Help:      "Client port probes by role and outcome",
			},
			[]string{"role", "outcome"},
		),
	}

	m.registry.MustRegister(
		m.EnvelopesTotal,
		m.DispatchDuration,
		m.Routers,
		m.RelayMessages,
		m.RelayMatches,
		m.RelayPending,
		m.RelaySessions,
		m.RelayProbes,
	)
	return m
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEnvelope counts one inbound message outcome.
func (m *Metrics) RecordEnvelope(result string, seconds float64) {
	if m == nil {
		return
	}
	m.EnvelopesTotal.WithLabelValues(result).Inc()
	if result == ResultDispatched || result == ResultHandlerError {
		m.DispatchDuration.Observe(seconds)
	}
}

// RecordRouters sets the live router count.
func (m *Metrics) RecordRouters(n int) {
	if m == nil {
		return
	}
	m.Routers.Set(float64(n))
}

// RecordRelayMessage counts one broker message by verb.
func (m *Metrics) RecordRelayMessage(verb string) {
	if m == nil {
		return
	}
	m.RelayMessages.WithLabelValues(verb).Inc()
}

// RecordRelayMatch counts one successful hand-off.
func (m *Metrics) RecordRelayMatch() {
	if m == nil {
		return
	}
	m.RelayMatches.Inc()
}

// RecordRelayPending sets the size of the broker tables.
func (m *Metrics) RecordRelayPending(records, requesters int) {
	if m == nil {
		return
	}
	m.RelayPending.WithLabelValues("records").Set(float64(records))
	m.RelayPending.WithLabelValues("requesters").Set(float64(requesters))
}

// RecordRelaySession adjusts the open session gauge by delta.
func (m *Metrics) RecordRelaySession(delta int) {
	if m == nil {
		return
	}
	m.RelaySessions.Add(float64(delta))
}

// RecordRelayProbe counts one client probe outcome.
func (m *Metrics) RecordRelayProbe(role, outcome string) {
	if m == nil {
		return
	}
	m.RelayProbes.WithLabelValues(role, outcome).Inc()
}
