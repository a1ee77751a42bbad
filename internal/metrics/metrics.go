// Package metrics defines Prometheus metrics for the dispatch gateway.
//
// Metric naming follows Prometheus conventions:
//   - acteon_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics bundles every counter/histogram/gauge the dispatch
// pipeline, executor and background workers record against. A nil
// *GatewayMetrics (see NoOp) is safe to call methods on.
type GatewayMetrics struct {
	DispatchTotal      *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	RuleMatchesTotal   *prometheus.CounterVec
	RetryAttemptsTotal *prometheus.CounterVec
	DLQDepth           *prometheus.GaugeVec
	BackgroundTicks    *prometheus.CounterVec
	CircuitBreakerTrip *prometheus.CounterVec
}

// New constructs metrics and registers them with reg.
func New(reg prometheus.Registerer) *GatewayMetrics {
	m := &GatewayMetrics{
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acteon_dispatch_total",
			Help: "Total dispatched actions by provider and outcome kind.",
		}, []string{"provider", "outcome"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acteon_dispatch_duration_seconds",
			Help:    "End-to-end dispatch pipeline duration.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		RuleMatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acteon_rule_matches_total",
			Help: "Total rule matches by rule name.",
		}, []string{"rule"}),
		RetryAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acteon_retry_attempts_total",
			Help: "Total provider call retry attempts by provider.",
		}, []string{"provider"}),
		DLQDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "acteon_dlq_depth",
			Help: "Current depth of the dead letter queue by sink.",
		}, []string{"sink"}),
		BackgroundTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acteon_background_worker_ticks_total",
			Help: "Total background worker tick executions by worker name.",
		}, []string{"worker"}),
		CircuitBreakerTrip: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acteon_circuit_breaker_state_changes_total",
			Help: "Total circuit breaker state transitions by provider and new state.",
		}, []string{"provider", "state"}),
	}
	reg.MustRegister(
		m.DispatchTotal,
		m.DispatchDuration,
		m.RuleMatchesTotal,
		m.RetryAttemptsTotal,
		m.DLQDepth,
		m.BackgroundTicks,
		m.CircuitBreakerTrip,
	)
	return m
}

// NoOp returns metrics registered against a private registry, for callers
// (tests, dry-run mode) that don't want to touch the default registry.
func NoOp() *GatewayMetrics {
	return New(prometheus.NewRegistry())
}

func (m *GatewayMetrics) RecordDispatch(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(provider, outcome).Inc()
	m.DispatchDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *GatewayMetrics) RecordRuleMatch(rule string) {
	if m == nil || rule == "" {
		return
	}
	m.RuleMatchesTotal.WithLabelValues(rule).Inc()
}

func (m *GatewayMetrics) RecordRetryAttempt(provider string) {
	if m == nil {
		return
	}
	m.RetryAttemptsTotal.WithLabelValues(provider).Inc()
}

func (m *GatewayMetrics) SetDLQDepth(sink string, depth int) {
	if m == nil {
		return
	}
	m.DLQDepth.WithLabelValues(sink).Set(float64(depth))
}

func (m *GatewayMetrics) RecordBackgroundTick(worker string) {
	if m == nil {
		return
	}
	m.BackgroundTicks.WithLabelValues(worker).Inc()
}

func (m *GatewayMetrics) RecordCircuitBreakerTrip(provider, state string) {
	if m == nil {
		return
	}
	m.CircuitBreakerTrip.WithLabelValues(provider, state).Inc()
}
