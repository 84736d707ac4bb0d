package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/couchcryptid/geodata-etl/internal/adapter/catalog"
	"github.com/couchcryptid/geodata-etl/internal/adapter/gdal"
	"github.com/couchcryptid/geodata-etl/internal/adapter/geojson"
	httpadapter "github.com/couchcryptid/geodata-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/geodata-etl/internal/adapter/kafka"
	"github.com/couchcryptid/geodata-etl/internal/adapter/osm"
	"github.com/couchcryptid/geodata-etl/internal/adapter/s3"
	"github.com/couchcryptid/geodata-etl/internal/config"
	"github.com/couchcryptid/geodata-etl/internal/ingest"
	"github.com/couchcryptid/geodata-etl/internal/manifest"
	"github.com/couchcryptid/geodata-etl/internal/observability"
	"github.com/couchcryptid/geodata-etl/internal/pipeline"
	"github.com/couchcryptid/geodata-etl/internal/reproject"
	"github.com/jonboulle/clockwork"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	layout   ingest.Layout
	pipeline *pipeline.Pipeline
	catalog  *catalog.Store
	closers  []func() error
}

func newApp(cfg *config.Config) (*app, error) {
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	layout := ingest.Layout{Root: cfg.DataDir}
	recorder := manifest.New(cfg.DataDir, clockwork.NewRealClock())
	vectors := geojson.NewStore()

	client := osm.NewClient(cfg.NominatimURL, cfg.OverpassURL, cfg.OSMUserAgent, cfg.OSMTimeout, metrics, logger)
	geocoder := osm.NewCachedGeocoder(client, cfg.GeocodeCacheTTL, cfg.GeocodeCacheSize, metrics)

	ing := ingest.New(ingest.Deps{
		Layout:   layout,
		Recorder: recorder,
		Fetcher:  s3.NewFetcher(cfg.S3Region, cfg.S3Endpoint, cfg.S3AccessKeyID, cfg.S3SecretAccessKey, logger),
		Geocoder: geocoder,
		Layers:   client,
		Vectors:  vectors,
		Metrics:  metrics,
		Logger:   logger,
	})

	a := &app{cfg: cfg, logger: logger, metrics: metrics, layout: layout}

	var sinks []pipeline.ManifestSink
	if len(cfg.KafkaBrokers) > 0 {
		pub := kafkaadapter.NewPublisher(cfg, logger)
		sinks = append(sinks, pub)
		a.closers = append(a.closers, pub.Close)
		logger.Info("kafka manifest publisher enabled", "topic", cfg.KafkaManifestTopic)
	}
	if cfg.CatalogDSN != "" {
		store, err := catalog.Open(cfg.CatalogDSN, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.catalog = store
		sinks = append(sinks, store)
		a.closers = append(a.closers, store.Close)
		logger.Info("manifest catalog enabled")
	}

	projector := gdal.NewProjector()
	a.closers = append(a.closers, projector.Close)

	a.pipeline = pipeline.New(pipeline.Deps{
		Layout:     layout,
		Ingester:   ing,
		Normalizer: reproject.NewNormalizer(projector, logger),
		Rasters:    gdal.NewStore(cfg.RasterCompression, logger),
		Vectors:    vectors,
		Recorder:   recorder,
		Sinks:      sinks,
		Metrics:    metrics,
		Logger:     logger,
	})
	return a, nil
}

// serve starts the HTTP server when HTTP_ADDR is set and returns a function
// that shuts it down.
func (a *app) serve() func() {
	if a.cfg.HTTPAddr == "" {
		return func() {}
	}
	opts := httpadapter.Options{Status: a.pipeline, Gatherer: a.metrics.Gatherer()}
	if a.catalog != nil {
		opts.Manifests = a.catalog
	}
	srv := httpadapter.NewServer(a.cfg.HTTPAddr, a.pipeline, opts, a.logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
		}
	}()
	a.logger.Info("http server listening", "addr", a.cfg.HTTPAddr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Error("http server shutdown error", "error", err)
		}
	}
}

func (a *app) pushMetrics(ctx context.Context) {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	if err := a.metrics.Push(ctx, a.cfg.PushgatewayURL, a.cfg.MetricsJob); err != nil {
		a.logger.Warn("metrics push failed", "error", err)
	}
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Error("close error", "error", err)
		}
	}
}
