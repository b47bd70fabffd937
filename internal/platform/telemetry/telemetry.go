// Package telemetry exposes Prometheus metrics for the HTTP layer and the
// journal domain. A Provider owns its own registry so multiple instances
// (one per test, one per server) never collide on metric registration.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Provider struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	journalOps       *prometheus.CounterVec
	versionConflicts prometheus.Counter
	watcherSessions  *prometheus.GaugeVec

	outboxPublished prometheus.Counter
	outboxFailures  prometheus.Counter
	noticesTotal    *prometheus.CounterVec

	dbPoolTotal prometheus.Gauge
	dbPoolIdle  prometheus.Gauge
}

// NewProvider creates a Provider with all collectors registered on a fresh
// registry. serviceName becomes the metric namespace.
func NewProvider(serviceName string) *Provider {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Provider{
		registry: registry,

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route", "status"}),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		journalOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "journal",
			Name:      "operations_total",
			Help:      "Journal mutations by chart category and operation.",
		}, []string{"category", "operation"}),

		versionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "journal",
			Name:      "version_conflicts_total",
			Help:      "Upserts retried after losing a concurrent write race.",
		}),

		watcherSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "journal",
			Name:      "watcher_sessions",
			Help:      "Live record watchers by state (polling or subscribed).",
		}, []string{"state"}),

		outboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "events",
			Name:      "outbox_published_total",
			Help:      "Record events successfully published to the broker.",
		}),

		outboxFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "events",
			Name:      "outbox_failures_total",
			Help:      "Publish attempts that failed and will be retried.",
		}),

		noticesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "notices",
			Name:      "sent_total",
			Help:      "Operation outcome notices by severity.",
		}, []string{"severity"}),

		dbPoolTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "db",
			Name:      "pool_total_conns",
			Help:      "Current size of the connection pool.",
		}),

		dbPoolIdle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "db",
			Name:      "pool_idle_conns",
			Help:      "Idle connections in the pool.",
		}),
	}
}

// RecordJournalOp counts one journal mutation.
func (p *Provider) RecordJournalOp(category, operation string) {
	p.journalOps.WithLabelValues(category, operation).Inc()
}

// RecordVersionConflict counts one lost optimistic-concurrency race.
func (p *Provider) RecordVersionConflict() {
	p.versionConflicts.Inc()
}

// WatcherStateChange moves a watcher session between states. Pass an empty
// string for from on session start or for to on teardown.
func (p *Provider) WatcherStateChange(from, to string) {
	if from != "" {
		p.watcherSessions.WithLabelValues(from).Dec()
	}
	if to != "" {
		p.watcherSessions.WithLabelValues(to).Inc()
	}
}

// RecordOutboxPublished counts events delivered to the broker.
func (p *Provider) RecordOutboxPublished(n int) {
	p.outboxPublished.Add(float64(n))
}

// RecordOutboxFailure counts one failed publish attempt.
func (p *Provider) RecordOutboxFailure() {
	p.outboxFailures.Inc()
}

// RecordNotice counts one outcome notice by severity.
func (p *Provider) RecordNotice(severity string) {
	p.noticesTotal.WithLabelValues(severity).Inc()
}

// SetDBPoolStats publishes pool gauges. Callers feed it pgxpool.Stat values.
func (p *Provider) SetDBPoolStats(total, idle int64) {
	p.dbPoolTotal.Set(float64(total))
	p.dbPoolIdle.Set(float64(idle))
}

// MetricsMiddleware instruments every request with a counter, a latency
// histogram, and an in-flight gauge. The route template (not the raw path)
// is used as the label so /admissions/:id does not explode cardinality.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			p.inFlight.Inc()

			err := next(c)

			p.inFlight.Dec()

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			labels := []string{c.Request().Method, route, strconv.Itoa(status)}
			p.requestsTotal.WithLabelValues(labels...).Inc()
			p.requestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// Handler returns the /metrics endpoint for this provider's registry.
func (p *Provider) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

// Registry exposes the underlying registry for tests.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}
