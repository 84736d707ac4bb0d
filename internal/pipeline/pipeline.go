// Package pipeline runs ingestion, CRS normalization, UTM normalization and
// manifest consolidation as a sequence of isolated stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/couchcryptid/geodata-etl/internal/ingest"
	"github.com/couchcryptid/geodata-etl/internal/manifest"
	"github.com/couchcryptid/geodata-etl/internal/observability"
	"github.com/couchcryptid/geodata-etl/internal/reproject"
	"github.com/google/uuid"
)

// Ingester acquires raw data into the raw area.
type Ingester interface {
	DEM(ctx context.Context, req ingest.Request) (ingest.Result, error)
	Satellite(ctx context.Context, req ingest.Request) (ingest.Result, error)
	OSM(ctx context.Context, req ingest.Request) ([]ingest.Result, error)
}

// RasterStore reads and writes rasters.
type RasterStore interface {
	ReadRaster(path string) (*domain.Raster, error)
	WriteRaster(path string, r *domain.Raster) error
}

// VectorStore reads and writes vector datasets.
type VectorStore interface {
	ReadVector(path string) (*domain.Vector, error)
	WriteVector(path string, v *domain.Vector) error
}

// ManifestSink receives every manifest recorded during a run.
type ManifestSink interface {
	Name() string
	Publish(ctx context.Context, manifests []domain.Manifest) error
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Layout     ingest.Layout
	Ingester   Ingester
	Normalizer *reproject.Normalizer
	Rasters    RasterStore
	Vectors    VectorStore
	Recorder   *manifest.Recorder
	Sinks      []ManifestSink
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// Pipeline orchestrates the stages of a run. Stages run sequentially; a
// failed stage is recorded and never aborts the run.
type Pipeline struct {
	layout     ingest.Layout
	ingester   Ingester
	normalizer *reproject.Normalizer
	rasters    RasterStore
	vectors    VectorStore
	recorder   *manifest.Recorder
	sinks      []ManifestSink
	metrics    *observability.Metrics
	logger     *slog.Logger
	newRunID   func() string

	running atomic.Bool
	mu      sync.Mutex
	current Summary
}

// New creates a Pipeline. A nil normalizer uses the default projector.
func New(d Deps) *Pipeline {
	n := d.Normalizer
	if n == nil {
		n = reproject.NewNormalizer(nil, d.Logger)
	}
	return &Pipeline{
		layout:     d.Layout,
		ingester:   d.Ingester,
		normalizer: n,
		rasters:    d.Rasters,
		vectors:    d.Vectors,
		recorder:   d.Recorder,
		sinks:      d.Sinks,
		metrics:    d.Metrics,
		logger:     d.Logger,
		newRunID:   uuid.NewString,
	}
}

// Selection chooses which sources a run ingests.
type Selection struct {
	DEM       bool
	Satellite bool
	OSM       bool
}

func (s Selection) categories() []string {
	var out []string
	if s.DEM {
		out = append(out, ingest.CategoryDEM)
	}
	if s.Satellite {
		out = append(out, ingest.CategorySatellite)
	}
	if s.OSM {
		out = append(out, ingest.CategoryOSM)
	}
	return out
}

// All selects every source.
var All = Selection{DEM: true, Satellite: true, OSM: true}

// NewSelection resolves the --*-only and --skip-* flags. At most one
// "only" flag may be set.
func NewSelection(demOnly, satelliteOnly, osmOnly, skipDEM, skipSatellite, skipOSM bool) (Selection, error) {
	only := 0
	for _, b := range []bool{demOnly, satelliteOnly, osmOnly} {
		if b {
			only++
		}
	}
	if only > 1 {
		return Selection{}, errors.New("only one of --dem-only, --satellite-only and --osm-only may be set")
	}

	sel := All
	if only == 1 {
		sel = Selection{DEM: demOnly, Satellite: satelliteOnly, OSM: osmOnly}
	}
	sel.DEM = sel.DEM && !skipDEM
	sel.Satellite = sel.Satellite && !skipSatellite
	sel.OSM = sel.OSM && !skipOSM
	if !sel.DEM && !sel.Satellite && !sel.OSM {
		return Selection{}, errors.New("every source is skipped")
	}
	return sel, nil
}

// Options configure a run.
type Options struct {
	Selection     Selection
	Place         string
	DEMFile       string
	SatelliteFile string
	DEMSource     string
	TargetCRS     domain.CRS
	Normalize     bool
}

// artifact is a file produced by one stage and consumed by the next.
type artifact struct {
	category string
	name     string
	path     string
	source   string
	dataType string
}

// CheckReadiness reports whether the data root is usable.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	info, err := os.Stat(p.layout.Root)
	if err != nil {
		return fmt.Errorf("data root %s: %w", p.layout.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data root %s is not a directory", p.layout.Root)
	}
	return nil
}

// Status reports the current run, or the last one when idle.
func (p *Pipeline) Status() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.status(p.running.Load())
}

// run is the state of one pipeline run.
type run struct {
	p         *Pipeline
	ctx       context.Context
	summary   Summary
	manifests []domain.Manifest
}

func (p *Pipeline) begin(ctx context.Context) *run {
	r := &run{
		p:   p,
		ctx: ctx,
		summary: Summary{
			RunID:     p.newRunID(),
			StartedAt: p.recorder.Now(),
		},
	}
	p.mu.Lock()
	p.current = r.summary
	p.mu.Unlock()
	p.running.Store(true)
	p.metrics.PipelineRunning.Set(1)
	return r
}

func (r *run) finish() Summary {
	r.publish()
	r.summary.Duration = r.p.recorder.Now().Sub(r.summary.StartedAt)

	p := r.p
	p.mu.Lock()
	p.current = r.summary
	p.mu.Unlock()
	p.running.Store(false)
	p.metrics.PipelineRunning.Set(0)

	p.logger.Info("pipeline finished",
		"run_id", r.summary.RunID,
		"stages", len(r.summary.Stages),
		"failed", r.summary.FailedCount(),
		"duration", r.summary.Duration,
	)
	return r.summary
}

// stage runs fn as a named stage and records its result. fn returns the
// paths it produced.
func (r *run) stage(name string, fn func() ([]string, error)) bool {
	p := r.p
	start := time.Now()
	res := StageResult{Name: name}

	if err := r.ctx.Err(); err != nil {
		res.Err = fmt.Errorf("not started: %w", err)
	} else {
		p.logger.Info("stage started", "stage", name, "run_id", r.summary.RunID)
		res.Artifacts, res.Err = fn()
	}
	res.OK = res.Err == nil
	res.Duration = time.Since(start)

	outcome := "ok"
	if !res.OK {
		outcome = "failed"
		p.logger.Error("stage failed", "stage", name, "error", res.Err, "error_kind", domain.ErrorKind(res.Err))
	} else {
		p.logger.Info("stage finished", "stage", name, "duration", res.Duration, "artifacts", len(res.Artifacts))
	}
	p.metrics.StagesTotal.WithLabelValues(res.Kind(), outcome).Inc()
	p.metrics.StageDuration.WithLabelValues(res.Kind()).Observe(res.Duration.Seconds())

	r.summary.Stages = append(r.summary.Stages, res)
	p.mu.Lock()
	p.current.Stages = append([]StageResult(nil), r.summary.Stages...)
	p.mu.Unlock()
	return res.OK
}

// Run executes ingestion for the selected sources, then (unless
// opts.Normalize is false) CRS and UTM normalization, then consolidation.
func (p *Pipeline) Run(ctx context.Context, opts Options) Summary {
	r := p.begin(ctx)
	p.logger.Info("pipeline started",
		"run_id", r.summary.RunID,
		"place", opts.Place,
		"target_crs", opts.TargetCRS.String(),
		"normalize", opts.Normalize,
	)

	raw := r.ingest(opts)
	areas := []string{ingest.AreaRaw}

	if opts.Normalize {
		categories := opts.Selection.categories()
		processed := r.normalizeAll(categories, raw, ingest.AreaProcessed, "crs", Target{CRS: opts.TargetCRS}, reproject.Nearest)
		r.normalizeAll(categories, processed, ingest.AreaNormalized, "utm", Target{UTM: true}, reproject.Bilinear)
		areas = append(areas, ingest.AreaProcessed, ingest.AreaNormalized)
	}

	r.consolidate(areas...)
	return r.finish()
}

// Consolidate rebuilds the area manifests from the category manifests
// already on disk.
func (p *Pipeline) Consolidate(ctx context.Context) Summary {
	r := p.begin(ctx)
	r.consolidate(ingest.AreaRaw, ingest.AreaProcessed, ingest.AreaNormalized)
	return r.finish()
}

func (r *run) ingest(opts Options) []artifact {
	var out []artifact
	req := ingest.Request{Source: opts.DEMSource, Place: opts.Place, RunID: r.summary.RunID}

	single := func(category string, fn func(context.Context, ingest.Request) (ingest.Result, error), input string) {
		req := req
		req.Input = input
		ok := r.stage("ingest:"+category, func() ([]string, error) {
			res, err := fn(r.ctx, req)
			if err != nil {
				return nil, err
			}
			r.manifests = append(r.manifests, res.Manifest)
			out = append(out, artifact{
				category: category,
				name:     category,
				path:     res.Path,
				source:   res.Manifest.Source,
				dataType: res.Manifest.DataType,
			})
			return []string{res.Manifest.Filepath}, nil
		})
		if !ok {
			r.clearManifest(ingest.AreaRaw, category)
		}
	}

	if opts.Selection.DEM {
		single(ingest.CategoryDEM, r.p.ingester.DEM, opts.DEMFile)
	}
	if opts.Selection.Satellite {
		single(ingest.CategorySatellite, r.p.ingester.Satellite, opts.SatelliteFile)
	}
	if opts.Selection.OSM {
		var results []ingest.Result
		err := r.ctx.Err()
		if err == nil {
			results, err = r.p.ingester.OSM(r.ctx, req)
		}
		if err != nil && len(results) == 0 {
			// Without a place there is nothing to fetch; every layer fails.
			for _, layer := range ingest.OSMLayers {
				r.stage("ingest:osm:"+layer, func() ([]string, error) { return nil, err })
			}
		}
		fetched := 0
		for _, res := range results {
			r.stage("ingest:osm:"+res.Name, func() ([]string, error) {
				if res.Err != nil {
					return nil, res.Err
				}
				r.manifests = append(r.manifests, res.Manifest)
				out = append(out, artifact{
					category: ingest.CategoryOSM,
					name:     res.Name,
					path:     res.Path,
					source:   res.Manifest.Source,
					dataType: res.Manifest.DataType,
				})
				fetched++
				return []string{res.Manifest.Filepath}, nil
			})
		}
		if err != nil && len(results) > 0 {
			// The layers were written but their category manifest was not.
			r.stage("ingest:osm:manifest", func() ([]string, error) { return nil, err })
		}
		if fetched == 0 {
			r.clearManifest(ingest.AreaRaw, ingest.CategoryOSM)
		}
	}
	return out
}

// clearManifest removes the category manifest of area left by an earlier
// run, so consolidation only lists files this run produced.
func (r *run) clearManifest(area, category string) {
	path := r.p.layout.Manifest(area, category)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.warn(fmt.Sprintf("remove stale %s/%s manifest: %v", area, category, err))
	}
}

// normalizeAll runs one normalization stage per input artifact into area
// and saves the category manifests of area.
func (r *run) normalizeAll(categories []string, inputs []artifact, area, kind string, t Target, rs reproject.Resampling) []artifact {
	var out []artifact
	byCategory := map[string][]domain.Manifest{}

	for _, a := range inputs {
		r.stage(kind+":"+a.name, func() ([]string, error) {
			next, m, err := r.normalizeOne(a, area, kind, t, rs)
			if err != nil {
				return nil, err
			}
			out = append(out, next)
			byCategory[a.category] = append(byCategory[a.category], m)
			r.manifests = append(r.manifests, m)
			return []string{m.Filepath}, nil
		})
	}

	for category, ms := range byCategory {
		var v any = ms
		if category != ingest.CategoryOSM {
			v = ms[len(ms)-1]
		}
		if err := manifest.Save(r.p.layout.Manifest(area, category), v); err != nil {
			r.warn(fmt.Sprintf("save %s/%s manifest: %v", area, category, err))
		}
	}
	for _, category := range categories {
		if _, ok := byCategory[category]; !ok {
			r.clearManifest(area, category)
		}
	}
	return out
}

func (r *run) normalizeOne(a artifact, area, kind string, t Target, rs reproject.Resampling) (artifact, domain.Manifest, error) {
	dir := r.p.layout.Dir(area, a.category)
	ext := filepath.Ext(a.path)
	stem := strings.TrimSuffix(filepath.Base(a.path), ext)
	if kind == "utm" {
		stem = a.name + "_utm"
	}
	outPath := func(reprojected bool) string {
		if reprojected && !isVector(a.path) {
			return filepath.Join(dir, stem+".tif")
		}
		return filepath.Join(dir, stem+ext)
	}

	o, err := r.p.normalizeFile(a.path, outPath, t, rs)
	if err != nil {
		return artifact{}, domain.Manifest{}, err
	}

	description := fmt.Sprintf("%s in %s", a.name, o.TargetCRS)
	if o.Zone != nil {
		description = fmt.Sprintf("%s in UTM zone %s (%s)", a.name, o.Zone, o.TargetCRS)
	}
	m, err := r.p.recorder.Record(o.Path, a.source, description, a.dataType, o.extras(kind, r.summary.RunID))
	if err != nil {
		return artifact{}, domain.Manifest{}, err
	}
	r.p.logger.Info("normalized",
		"stage", kind+":"+a.name,
		"path", m.Filepath,
		"source_crs", o.SourceCRS.String(),
		"target_crs", o.TargetCRS.String(),
		"reprojected", o.Reprojected,
	)

	next := a
	next.path = o.Path
	return next, m, nil
}

func (r *run) consolidate(areas ...string) {
	for _, area := range areas {
		r.stage("consolidate:"+area, func() ([]string, error) {
			out := r.p.layout.AreaManifest(area)
			c, err := r.p.recorder.ConsolidateTo(r.p.layout.CategoryManifests(area), out)
			if err != nil {
				return nil, err
			}
			r.p.logger.Info("manifests consolidated", "area", area, "total_files", c.TotalFiles)
			return []string{out}, nil
		})
	}
}

// publish hands every recorded manifest to the sinks. Sink failures are
// warnings, never stage failures.
func (r *run) publish() {
	if len(r.manifests) == 0 {
		return
	}
	for _, sink := range r.p.sinks {
		if err := sink.Publish(r.ctx, r.manifests); err != nil {
			r.p.metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
			r.warn(fmt.Sprintf("publish manifests to %s: %v", sink.Name(), err))
			continue
		}
		r.p.logger.Info("manifests published", "sink", sink.Name(), "count", len(r.manifests))
	}
}

func (r *run) warn(msg string) {
	r.p.logger.Warn(msg, "run_id", r.summary.RunID)
	r.summary.Warnings = append(r.summary.Warnings, msg)
}
