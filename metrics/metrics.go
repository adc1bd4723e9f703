package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the ingestion core.
type Metrics struct {
	Registry *prometheus.Registry

	ListingsFound    *prometheus.CounterVec
	ListingsUpserted *prometheus.CounterVec
	ListingsRejected *prometheus.CounterVec
	ListingsArchived *prometheus.CounterVec
	SourceRuns       *prometheus.CounterVec
	SourceDuration   *prometheus.HistogramVec
	FetchAttempts    *prometheus.CounterVec
	RunInProgress    prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, so tests can build as many as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ListingsFound: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunter_listings_found_total",
			Help: "Raw records produced by source adapters",
		}, []string{"source"}),
		ListingsUpserted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunter_listings_upserted_total",
			Help: "Listings written to the store",
		}, []string{"source"}),
		ListingsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunter_listings_rejected_total",
			Help: "Records dropped by normalization or the quality filter",
		}, []string{"source", "reason"}),
		ListingsArchived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunter_listings_archived_total",
			Help: "Listings marked removed from source by the archival sweep",
		}, []string{"source"}),
		SourceRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunter_source_runs_total",
			Help: "Finished source passes by status",
		}, []string{"source", "status"}),
		SourceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hunter_source_run_duration_seconds",
			Help:    "Wall time of one source pass",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"source"}),
		FetchAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunter_fetch_attempts_total",
			Help: "HTTP fetch attempts against source sites",
		}, []string{"result"}), // ok, retry, failed
		RunInProgress: f.NewGauge(prometheus.GaugeOpts{
			Name: "hunter_run_in_progress",
			Help: "1 while an orchestrated run is executing",
		}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hunter_http_requests_total",
			Help: "Requests served by the HTTP boundary",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hunter_http_request_duration_seconds",
			Help:    "Latency of the HTTP boundary",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}
