// Package telemetry exposes prometheus metrics for the service. Each
// instance carries its own registry so tests and multiple daemons in
// one process never collide.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's instruments.
type Metrics struct {
	registry *prometheus.Registry

	QueriesTotal     *prometheus.CounterVec
	QueryDuration    *prometheus.HistogramVec
	QueriesZeroTotal prometheus.Counter

	JobsTotal        *prometheus.CounterVec
	IngestedChunks   prometheus.Counter
	DroppedChunks    prometheus.Counter
	DocumentsTotal   prometheus.Gauge
	GraphTriples     prometheus.Gauge
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ProviderFailures *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbrain_queries_total",
				Help: "Queries served, by retrieval mode",
			},
			[]string{"mode"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentbrain_query_duration_seconds",
				Help:    "Query latency by retrieval mode",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		QueriesZeroTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentbrain_queries_zero_results_total",
				Help: "Queries that returned no results",
			},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbrain_jobs_total",
				Help: "Ingestion jobs finished, by terminal status",
			},
			[]string{"status"},
		),
		IngestedChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentbrain_chunks_ingested_total",
				Help: "Chunks written to the storage backend",
			},
		),
		DroppedChunks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "agentbrain_chunks_dropped_total",
				Help: "Chunks dropped after embedding retries",
			},
		),
		DocumentsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentbrain_documents_total",
				Help: "Documents currently stored",
			},
		),
		GraphTriples: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentbrain_graph_triples_total",
				Help: "Relationships in the graph index",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbrain_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentbrain_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		ProviderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentbrain_provider_failures_total",
				Help: "Provider call failures by operation",
			},
			[]string{"operation"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.QueriesTotal,
		m.QueryDuration,
		m.QueriesZeroTotal,
		m.JobsTotal,
		m.IngestedChunks,
		m.DroppedChunks,
		m.DocumentsTotal,
		m.GraphTriples,
		m.RequestsTotal,
		m.RequestDuration,
		m.ProviderFailures,
	)
	return m
}

// ObserveQuery records one served query.
func (m *Metrics) ObserveQuery(mode string, results int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(mode).Inc()
	m.QueryDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	if results == 0 {
		m.QueriesZeroTotal.Inc()
	}
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
