// Package metrics exposes Prometheus counters for the phone login flow and its HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/open-rails/phoneauth/core"
)

type Metrics struct {
	StepsTotal                 *prometheus.CounterVec
	StepDurationSeconds        *prometheus.HistogramVec
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors curried with service and registers them on reg.
// A nil reg uses a fresh registry.
func New(serviceName string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	labels := prometheus.Labels{"service": serviceName}
	m := &Metrics{
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phoneauth_steps_total",
			Help: "Phone login steps by outcome.",
		}, []string{"service", "step", "result"}).MustCurryWith(labels),
		StepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phoneauth_step_duration_seconds",
			Help:    "Duration of phone login steps, including identity platform calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "step"}).MustCurryWith(labels).(*prometheus.HistogramVec),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"service", "method", "path", "status"}).MustCurryWith(labels),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "method", "path"}).MustCurryWith(labels).(*prometheus.HistogramVec),
		gatherer: reg,
	}
	reg.MustRegister(m.StepsTotal, m.StepDurationSeconds, m.HTTPRequestsTotal, m.HTTPRequestDurationSeconds)
	return m
}

// ObserveStep implements core.StepObserver.
func (m *Metrics) ObserveStep(step core.Step, result core.StepResult, elapsed time.Duration) {
	m.StepsTotal.WithLabelValues(string(step), string(result)).Inc()
	m.StepDurationSeconds.WithLabelValues(string(step)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency. The route pattern is used as the path label
// when the mux matched one, so ids in URLs do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sr.status)).Inc()
		m.HTTPRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

var _ core.StepObserver = (*Metrics)(nil)
