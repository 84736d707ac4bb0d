package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "geodata_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingestion pipeline.
type Metrics struct {
	registry *prometheus.Registry

	StagesTotal     *prometheus.CounterVec   // labels: stage_kind={ingest,crs,utm,consolidate}, outcome={ok,failed}
	StageDuration   *prometheus.HistogramVec // labels: stage_kind
	Reprojections   *prometheus.CounterVec   // labels: kind={raster,vector}
	NoopNormalized  *prometheus.CounterVec   // labels: kind={raster,vector}
	BytesIngested   prometheus.Counter
	PipelineRunning prometheus.Gauge

	// OSM metrics.
	OSMFeatures    *prometheus.CounterVec   // labels: layer={buildings,roads,water}
	OSMRequests    *prometheus.CounterVec   // labels: api={nominatim,overpass}, outcome={success,error,empty}
	OSMAPIDuration *prometheus.HistogramVec // labels: api
	GeocodeCache   *prometheus.CounterVec   // labels: result={hit,miss}

	SinkErrors *prometheus.CounterVec // labels: sink={kafka,catalog}
}

func newMetrics() *Metrics {
	return &Metrics{
		StagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_total",
			Help:      "Pipeline stages run, by kind and outcome.",
		}, []string{"stage_kind", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of a pipeline stage.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"stage_kind"}),
		Reprojections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reprojections_total",
			Help:      "Datasets reprojected into a new CRS.",
		}, []string{"kind"}),
		NoopNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "noop_normalizations_total",
			Help:      "Datasets already in the target CRS and passed through unchanged.",
		}, []string{"kind"}),
		BytesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_ingested_total",
			Help:      "Bytes of raw data recorded by ingestion stages.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is in progress, 0 otherwise.",
		}),
		OSMFeatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "osm_features_total",
			Help:      "Features fetched from OpenStreetMap by layer.",
		}, []string{"layer"}),
		OSMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "osm_requests_total",
			Help:      "OpenStreetMap API requests by API and outcome.",
		}, []string{"api", "outcome"}),
		OSMAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "osm_api_duration_seconds",
			Help:      "OpenStreetMap API request duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		}, []string{"api"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Manifest sink publish failures by sink.",
		}, []string{"sink"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.StagesTotal,
		m.StageDuration,
		m.Reprojections,
		m.NoopNormalized,
		m.BytesIngested,
		m.PipelineRunning,
		m.OSMFeatures,
		m.OSMRequests,
		m.OSMAPIDuration,
		m.GeocodeCache,
		m.SinkErrors,
	}
}

// NewMetrics creates all pipeline metrics and registers them with the
// default Prometheus registry so the HTTP /metrics endpoint serves them.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics on a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(m.collectors()...)
	return m
}

// Gatherer returns the registry the metrics were registered with.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry != nil {
		return m.registry
	}
	return prometheus.DefaultGatherer
}

// Push sends the current metric values to a Prometheus Pushgateway under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	err := push.New(url, job).
		Gatherer(m.Gatherer()).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
