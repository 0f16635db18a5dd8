package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// sighting sync pipeline.
type Metrics struct {
	RecordsConsumed   prometheus.Counter
	SightingsSynced   prometheus.Counter
	RecordsSkipped    prometheus.Counter
	SyncRunning       prometheus.Gauge
	SnapshotConflicts prometheus.Counter

	// Batch processing metrics.
	BatchSize    prometheus.Histogram
	SyncDuration prometheus.Histogram

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={forward,reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward,reverse}
	GeocodeEnabled     prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RecordsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "whale_etl",
			Name:      "records_consumed_total",
			Help:      "Total raw sighting records read from the source feed.",
		}),
		SightingsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "whale_etl",
			Name:      "sightings_synced_total",
			Help:      "Total sighting documents upserted into the store.",
		}),
		RecordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "whale_etl",
			Name:      "records_skipped_total",
			Help:      "Total raw records dropped during normalization.",
		}),
		SyncRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "whale_etl",
			Name:      "sync_running",
			Help:      "1 while a sync batch is in flight, 0 otherwise.",
		}),
		SnapshotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "whale_etl",
			Name:      "snapshot_conflicts_total",
			Help:      "Total map cache writes rejected by the optimistic version check.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "whale_etl",
			Name:      "batch_size",
			Help:      "Number of raw records per sync batch.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "whale_etl",
			Name:      "sync_duration_seconds",
			Help:      "Duration of a complete normalize-upsert-materialize cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whale_etl",
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whale_etl",
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "whale_etl",
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "whale_etl",
			Name:      "geocode_enabled",
			Help:      "1 when geocoding enrichment is enabled, 0 otherwise.",
		}),
	}

	prometheus.MustRegister(
		m.RecordsConsumed,
		m.SightingsSynced,
		m.RecordsSkipped,
		m.SyncRunning,
		m.SnapshotConflicts,
		m.BatchSize,
		m.SyncDuration,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RecordsConsumed:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "whale_etl", Name: "records_consumed_total"}),
		SightingsSynced:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "whale_etl", Name: "sightings_synced_total"}),
		RecordsSkipped:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "whale_etl", Name: "records_skipped_total"}),
		SyncRunning:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "whale_etl", Name: "sync_running"}),
		SnapshotConflicts:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "whale_etl", Name: "snapshot_conflicts_total"}),
		BatchSize:          prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "whale_etl", Name: "batch_size"}),
		SyncDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "whale_etl", Name: "sync_duration_seconds"}),
		GeocodeRequests:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "whale_etl", Name: "geocode_requests_total"}, []string{"method", "outcome"}),
		GeocodeCache:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "whale_etl", Name: "geocode_cache_total"}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "whale_etl", Name: "geocode_api_duration_seconds"}, []string{"method"}),
		GeocodeEnabled:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "whale_etl", Name: "geocode_enabled"}),
	}
}
