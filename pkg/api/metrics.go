package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "grasshopper"

type metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	runsCreated     prometheus.Counter
	runsStopped     prometheus.Counter
	samplesRecorded prometheus.Counter
	samplesRejected *prometheus.CounterVec
	rateLimited     prometheus.Counter
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "tracker",
				Name:      "http_requests_total",
				Help:      "HTTP requests handled by the tracking service",
			}, []string{"method", "route", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "tracker",
				Name:      "http_request_duration_seconds",
				Help:      "Latency of HTTP requests handled by the tracking service",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "route"},
		),
		runsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "tracker",
			Name:      "test_runs_created_total",
			Help:      "Test runs registered",
		}),
		runsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "tracker",
			Name:      "test_runs_stopped_total",
			Help:      "Test runs transitioned to finished",
		}),
		samplesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "tracker",
			Name:      "cpu_samples_recorded_total",
			Help:      "CPU usage samples stored",
		}),
		samplesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "tracker",
				Name:      "cpu_samples_rejected_total",
				Help:      "CPU usage samples rejected",
			}, []string{"reason"},
		),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "tracker",
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the auth rate limiter",
		}),
	}

	registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.runsCreated,
		m.runsStopped,
		m.samplesRecorded,
		m.samplesRejected,
		m.rateLimited,
	)

	return m
}

// instrument records request counts and latency per chi route pattern.
func (s *server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		s.metrics.requests.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Inc()
		s.metrics.requestDuration.
			WithLabelValues(r.Method, route).
			Observe(time.Since(start).Seconds())
	})
}
