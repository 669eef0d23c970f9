// File: internal/observability/metrics.go
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the run counters. A nil *Metrics is valid and records nothing,
// so components can take one unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	stepsTotal      *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	repairsTotal    *prometheus.CounterVec
	clickStrategy   *prometheus.CounterVec
	plannerRequests *prometheus.CounterVec
	plannerDuration *prometheus.HistogramVec
	plannerTokens   *prometheus.CounterVec
	artifactBytes   prometheus.Counter
	runsTotal       *prometheus.CounterVec
}

// NewMetrics registers every collector on a private registry. Each call gets
// its own registry so tests never collide on the default one.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Steps executed, by action and result.",
		}, []string{"action", "attempt", "result"}),
		stepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of a single step including verification.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"action"}),
		repairsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "Repair attempts, by outcome.",
		}, []string{"result"}),
		clickStrategy: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "click_strategy_total",
			Help:      "Click strategies attempted, by strategy and result.",
		}, []string{"strategy", "result"}),
		plannerRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planner_requests_total",
			Help:      "Requests sent to the language model.",
		}, []string{"model", "status"}),
		plannerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "planner_request_duration_seconds",
			Help:      "Language model request latency.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),
		plannerTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "planner_tokens_total",
			Help:      "Tokens consumed, by model and direction.",
		}, []string{"model", "type"}),
		artifactBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_bytes_total",
			Help:      "Bytes written to the artifact directory.",
		}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed and aborted runs.",
		}, []string{"status"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordStep(action, attempt string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(action, attempt, resultLabel(success)).Inc()
	m.stepDuration.WithLabelValues(action).Observe(d.Seconds())
}

// RecordRepair counts a repair by result: "success", "parse_error",
// "request_error" or "failed".
func (m *Metrics) RecordRepair(result string) {
	if m == nil {
		return
	}
	m.repairsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordClickStrategy(strategy string, success bool) {
	if m == nil {
		return
	}
	m.clickStrategy.WithLabelValues(strategy, resultLabel(success)).Inc()
}

func (m *Metrics) RecordPlannerRequest(model, status string, d time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.plannerRequests.WithLabelValues(model, status).Inc()
	m.plannerDuration.WithLabelValues(model).Observe(d.Seconds())
	if promptTokens > 0 {
		m.plannerTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.plannerTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

func (m *Metrics) AddArtifactBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.artifactBytes.Add(float64(n))
}

func (m *Metrics) RecordRun(status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
