package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the response engine.
type Metrics struct {
	Registry *prometheus.Registry

	ActionsTotal      *prometheus.CounterVec
	GateDenials       *prometheus.CounterVec
	DispatchDuration  *prometheus.HistogramVec
	DispatchFailures  prometheus.Counter
	RollbacksTotal    *prometheus.CounterVec
	RateLimitHits     *prometheus.CounterVec
	AuditEntriesTotal *prometheus.CounterVec
	ActiveActions     prometheus.Gauge
	RequestsInFlight  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tre",
				Name:      "actions_total",
				Help:      "Total response actions by command type and final status.",
			},
			[]string{"command_type", "status"},
		),

		GateDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tre",
				Name:      "gate_denials_total",
				Help:      "Total pipeline gate denials by gate.",
			},
			[]string{"gate"},
		),

		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tre",
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of the single dispatch attempt to the agent.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"command_type"},
		),

		DispatchFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tre",
				Name:      "dispatch_failures_total",
				Help:      "Total terminal dispatch failures.",
			},
		),

		RollbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tre",
				Name:      "rollbacks_total",
				Help:      "Total rollbacks by reason and status.",
			},
			[]string{"reason", "status"},
		),

		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tre",
				Name:      "rate_limit_hits_total",
				Help:      "Total rate limit denials by limit type.",
			},
			[]string{"limit_type"},
		),

		AuditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tre",
				Name:      "audit_entries_total",
				Help:      "Total audit ledger entries by event type.",
			},
			[]string{"event"},
		),

		ActiveActions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tre",
				Name:      "active_actions",
				Help:      "Number of actions currently moving through the pipeline.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tre",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),
	}

	reg.MustRegister(
		m.ActionsTotal,
		m.GateDenials,
		m.DispatchDuration,
		m.DispatchFailures,
		m.RollbacksTotal,
		m.RateLimitHits,
		m.AuditEntriesTotal,
		m.ActiveActions,
		m.RequestsInFlight,
	)

	return m
}

// RecordAction records a finished pipeline run.
func (m *Metrics) RecordAction(commandType, status string) {
	m.ActionsTotal.WithLabelValues(commandType, status).Inc()
}

// RecordGateDenial records one gate denial.
func (m *Metrics) RecordGateDenial(gate string) {
	m.GateDenials.WithLabelValues(gate).Inc()
}

// RecordDispatch records the duration of the single dispatch attempt.
func (m *Metrics) RecordDispatch(commandType string, seconds float64) {
	m.DispatchDuration.WithLabelValues(commandType).Observe(seconds)
}
