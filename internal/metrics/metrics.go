// Package metrics holds the Prometheus collectors shared by the executor,
// the auth manager and the HTTP surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics is a registry plus the collectors the server records into.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	invocations  *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	authRefresh  *prometheus.CounterVec
	retries      *prometheus.CounterVec
	toolsLoaded  prometheus.Gauge
	resourcesReg prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supabase_mcp",
			Name:      "tool_invocations_total",
			Help:      "Tool and resource invocations by outcome.",
		}, []string{"tool", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "supabase_mcp",
			Name:      "tool_duration_seconds",
			Help:      "Invocation latency including any auth retry.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		authRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supabase_mcp",
			Name:      "auth_refresh_total",
			Help:      "Session recovery attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supabase_mcp",
			Name:      "executor_retries_total",
			Help:      "Operations re-run after an expired token was refreshed.",
		}, []string{"operation"}),
		toolsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "supabase_mcp",
			Name:      "tools_registered",
			Help:      "Configured tools registered with the server.",
		}),
		resourcesReg: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "supabase_mcp",
			Name:      "resources_registered",
			Help:      "Configured resources registered with the server.",
		}),
	}
	reg.MustRegister(
		m.invocations,
		m.duration,
		m.authRefresh,
		m.retries,
		m.toolsLoaded,
		m.resourcesReg,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveInvocation records one tool or resource call.
func (m *Metrics) ObserveInvocation(name string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.invocations.WithLabelValues(name, outcome).Inc()
	m.duration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// AuthRefresh records a session recovery attempt. method is "refresh_token",
// "password" or "force".
func (m *Metrics) AuthRefresh(method string, ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeError
	}
	m.authRefresh.WithLabelValues(method, outcome).Inc()
}

// Retry records an operation re-run after refresh.
func (m *Metrics) Retry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// SetRegistered records how many tools and resources were registered.
func (m *Metrics) SetRegistered(tools, resources int) {
	if m == nil {
		return
	}
	m.toolsLoaded.Set(float64(tools))
	m.resourcesReg.Set(float64(resources))
}
