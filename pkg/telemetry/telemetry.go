// Package telemetry exposes Prometheus counters for the engine and its collaborators.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ccollicutt/smartguard/pkg/metricscache"
)

const namespace = "smartguard"

// Query kinds used as the "kind" label.
const (
	QuerySearch  = "search"
	QueryNatural = "natural"
	QueryAlerts  = "alerts"
	QueryChat    = "chat"
	QueryAnalyze = "analyze"
)

// Metrics is a set of counters on a private registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	queries       *prometheus.CounterVec
	fallbacks     prometheus.Counter
	ingested      *prometheus.CounterVec
	rejected      prometheus.Counter
	alerts        *prometheus.CounterVec
	summarizeFail prometheus.Counter
}

// New creates the counters and registers them with Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Log queries served, by kind.",
		}, []string{"kind"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interpreter_fallbacks_total",
			Help:      "Natural-language queries answered with the substring fallback.",
		}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Log records accepted by the store, by severity.",
		}, []string{"severity"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Log records refused by the store.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Alerts delivered to sinks, by outcome.",
		}, []string{"outcome"}),
		summarizeFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarization_failures_total",
			Help:      "Records that kept the summarization failure sentinel.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.queries, m.fallbacks, m.ingested, m.rejected, m.alerts, m.summarizeFail,
	)
	return m
}

// RegisterCache exports the hit and miss counters of c.
func (m *Metrics) RegisterCache(c *metricscache.Cache) {
	if m == nil || c == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_cache_hits_total",
			Help:      "Derived-metric lookups served from cache.",
		}, func() float64 { return float64(c.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_cache_misses_total",
			Help:      "Derived-metric lookups that recomputed.",
		}, func() float64 { return float64(c.Stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_cache_invalidations_total",
			Help:      "Cache invalidations triggered by inserts.",
		}, func() float64 { return float64(c.Stats().Invalidations) }),
	)
}

// QueryServed counts one query of the given kind.
func (m *Metrics) QueryServed(kind string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(kind).Inc()
}

// InterpreterFellBack counts one fallback plan.
func (m *Metrics) InterpreterFellBack() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

// RecordIngested counts one stored record.
func (m *Metrics) RecordIngested(severity string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(severity).Inc()
}

// RecordRejected counts one refused insert.
func (m *Metrics) RecordRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

// AlertSent counts one alert delivery attempt.
func (m *Metrics) AlertSent(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.alerts.WithLabelValues(outcome).Inc()
}

// SummarizationFailed counts one record left with the failure sentinel.
func (m *Metrics) SummarizationFailed() {
	if m == nil {
		return
	}
	m.summarizeFail.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
