// Package metrics instruments the alarm runtime with Prometheus series:
// alarm counts by state, rule evaluation throughput, commit latency, timer
// churn, remedy outcomes, and connected WebSocket clients.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the alarm runtime exposes.
type Metrics struct {
	AlarmsTotal          *prometheus.GaugeVec
	RuleEvaluationsTotal *prometheus.CounterVec
	CommitDuration       prometheus.Histogram
	TimersActive         prometheus.Gauge
	RemedyInvocations    *prometheus.CounterVec
	WebSocketClients     prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		AlarmsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "alarmist_alarms_total",
				Help: "Current count of alarms by state",
			},
			[]string{"state"},
		),
		RuleEvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alarmist_rule_evaluations_total",
				Help: "Total rule firings by operator",
			},
			[]string{"op"},
		),
		CommitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "alarmist_engine_commit_duration_seconds",
				Help:    "Latency of committing a batch of engine side effects",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
			},
		),
		TimersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "alarmist_timers_active",
				Help: "Number of live debounce/hold/window timers",
			},
		),
		RemedyInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alarmist_remedy_invocations_total",
				Help: "Total remedy callback invocations by outcome",
			},
			[]string{"outcome"},
		),
		WebSocketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "alarmist_websocket_clients",
				Help: "Number of connected event-stream WebSocket clients",
			},
		),
	}

	registry.MustRegister(
		m.AlarmsTotal,
		m.RuleEvaluationsTotal,
		m.CommitDuration,
		m.TimersActive,
		m.RemedyInvocations,
		m.WebSocketClients,
	)

	return m
}

// GetRegistry returns the backing Prometheus registry.
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordAlarmCount sets the current gauge value for state.
func (m *Metrics) RecordAlarmCount(state string, count float64) {
	m.AlarmsTotal.WithLabelValues(state).Set(count)
}

// RecordRuleEvaluation increments the evaluation counter for op.
func (m *Metrics) RecordRuleEvaluation(op string) {
	m.RuleEvaluationsTotal.WithLabelValues(op).Inc()
}

// RecordCommitDuration observes one commit_side_effects latency sample.
func (m *Metrics) RecordCommitDuration(d time.Duration) {
	m.CommitDuration.Observe(d.Seconds())
}

// SetTimersActive sets the live timer count gauge.
func (m *Metrics) SetTimersActive(count float64) {
	m.TimersActive.Set(count)
}

// RecordRemedyInvocation increments the remedy outcome counter ("ok",
// "timeout", or "crash").
func (m *Metrics) RecordRemedyInvocation(outcome string) {
	m.RemedyInvocations.WithLabelValues(outcome).Inc()
}

// SetWebSocketClients sets the connected-client gauge.
func (m *Metrics) SetWebSocketClients(count float64) {
	m.WebSocketClients.Set(count)
}
