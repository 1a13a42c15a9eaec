// Package metrics exposes Prometheus metrics for sessions, backend attempts
// and the web front-end. Each Collector owns its registry so several can
// coexist in one process (tests, multiple sessions).
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/maxwelljoslyn/gm-trainer/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "gm_trainer"

// Collector records session, backend and HTTP metrics.
type Collector struct {
	registry *prometheus.Registry

	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	backoffSeconds  *prometheus.CounterVec

	turnsTotal    *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	roundsTotal   prometheus.Counter
	roundDuration prometheus.Histogram
	haltsTotal    *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a Collector with a fresh registry that also carries
// the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		attemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attempts_total",
			Help:      "Backend calls by player and outcome",
		}, []string{"player", "status"}),
		attemptDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_attempt_duration_seconds",
			Help:      "Backend call latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"player"}),
		backoffSeconds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_backoff_seconds_total",
			Help:      "Time spent waiting between backend attempts",
		}, []string{"player"}),
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed player turns",
		}, []string{"player"}),
		turnDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Player turn latency including retries",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"player"}),
		roundsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Completed rounds",
		}),
		roundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Round latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		haltsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_halts_total",
			Help:      "Sessions halted by a fatal error",
		}, []string{"reason"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveAttempt implements retry.Observer.
func (c *Collector) ObserveAttempt(player string, _ int, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	c.attemptsTotal.WithLabelValues(player, status).Inc()
	c.attemptDuration.WithLabelValues(player).Observe(latency.Seconds())
}

// ObserveBackoff implements retry.Observer.
func (c *Collector) ObserveBackoff(player string, wait time.Duration) {
	c.backoffSeconds.WithLabelValues(player).Add(wait.Seconds())
}

// ObserveTurn implements session.Observer.
func (c *Collector) ObserveTurn(player string, latency time.Duration) {
	c.turnsTotal.WithLabelValues(player).Inc()
	c.turnDuration.WithLabelValues(player).Observe(latency.Seconds())
}

// ObserveRound implements session.Observer.
func (c *Collector) ObserveRound(_ int, latency time.Duration) {
	c.roundsTotal.Inc()
	c.roundDuration.Observe(latency.Seconds())
}

// ObserveHalt implements session.Observer.
func (c *Collector) ObserveHalt(err error) {
	c.haltsTotal.WithLabelValues(haltReason(err)).Inc()
}

func haltReason(err error) string {
	switch {
	case errors.Is(err, core.ErrExhaustedRetries):
		return "exhausted_retries"
	case errors.Is(err, core.ErrPersistence):
		return "persistence"
	default:
		return "other"
	}
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Middleware records every request passing through next. The path label is
// the route pattern, not the raw URL.
func (c *Collector) Middleware(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		c.RecordHTTPRequest(r.Method, path, rw.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// websocket upgrades need.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
