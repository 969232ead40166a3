// Package metrics provides Prometheus metrics for the automation engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	TicksTotal      prometheus.Counter
	ExecutionsTotal *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	RulesBroken     prometheus.Gauge
	EvalDuration    *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "automation_ticks_total",
				Help: "Total scheduler ticks (including the startup sweep).",
			},
		),
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_rule_executions_total",
				Help: "Rule executions by execution type (scheduled, catch_up, skipped, event).",
			},
			[]string{"type"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		RulesBroken: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "automation_rules_broken",
				Help: "Number of rules currently marked broken.",
			},
		),
		EvalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automation_evaluation_duration_seconds",
				Help:    "Rule evaluation duration by trigger kind.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"trigger"},
		),
		registry: reg,
	}

	reg.MustRegister(m.TicksTotal)
	reg.MustRegister(m.ExecutionsTotal)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(m.RulesBroken)
	reg.MustRegister(m.EvalDuration)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTick increments the tick counter.
func (m *Metrics) RecordTick() {
	m.TicksTotal.Inc()
}

// RecordExecution increments the execution counter for a type.
func (m *Metrics) RecordExecution(execType string) {
	m.ExecutionsTotal.WithLabelValues(execType).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// SetBrokenRules sets the broken-rule gauge.
func (m *Metrics) SetBrokenRules(count float64) {
	m.RulesBroken.Set(count)
}

// ObserveEvaluation records one rule evaluation duration.
func (m *Metrics) ObserveEvaluation(trigger string, seconds float64) {
	m.EvalDuration.WithLabelValues(trigger).Observe(seconds)
}
