// Package metrics holds the Prometheus collectors of the car service: SQL
// statement timings fed by the db metrics hook, HTTP request counters and
// upsert outcomes.
package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cars"

// Metrics owns a private registry so tests and multiple instances never
// collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	QueryDuration  *prometheus.HistogramVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	UpsertOutcomes *prometheus.CounterVec
}

// New creates and registers all collectors, plus Go runtime and process
// metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "SQL statement duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"statement", "status"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		UpsertOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "upsert_outcomes_total",
				Help:      "Upsert outcomes (created, updated, retried, conflict)",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		m.QueryDuration,
		m.HTTPRequests,
		m.HTTPDuration,
		m.UpsertOutcomes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WatchDB exports connection pool statistics of sqldb.
func (m *Metrics) WatchDB(sqldb *sql.DB, name string) error {
	return m.registry.Register(collectors.NewDBStatsCollector(sqldb, name))
}

// RecordQuery implements db.MetricsCollector.
func (m *Metrics) RecordQuery(kind string, d time.Duration, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.QueryDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

// ObserveUpsert implements repo.UpsertObserver.
func (m *Metrics) ObserveUpsert(outcome string) {
	m.UpsertOutcomes.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Middleware counts requests by chi route pattern, so /cars/{id} is one
// series regardless of the id.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
