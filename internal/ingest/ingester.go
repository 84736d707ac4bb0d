// Package ingest acquires raw DEM, satellite and OpenStreetMap data into the
// raw area of the data tree and records a manifest for each file.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/couchcryptid/geodata-etl/internal/manifest"
	"github.com/couchcryptid/geodata-etl/internal/observability"
	"github.com/paulmach/orb"
)

// Sources recorded in raw manifests.
const (
	SourceSatellite = "Copernicus Data Space"
	SourceOSM       = "OpenStreetMap"
)

// OSMLayers are the vector layers fetched for a place.
var OSMLayers = []string{"buildings", "roads", "water"}

var demSources = map[string]string{
	"SRTM":       "USGS EarthExplorer",
	"Copernicus": "Copernicus DEM",
}

// DEMSource maps a DEM source key to the provider recorded in manifests.
// Unknown keys are recorded as given.
func DEMSource(key string) string {
	if s, ok := demSources[key]; ok {
		return s
	}
	return key
}

// Fetcher downloads a remote object to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, uri, dest string) (int64, error)
}

// LayerFetcher returns the features of a named OSM layer within bounds.
type LayerFetcher interface {
	FetchLayer(ctx context.Context, layer string, bounds orb.Bound) (*domain.Vector, error)
}

// VectorWriter persists a vector dataset.
type VectorWriter interface {
	WriteVector(path string, v *domain.Vector) error
}

// Deps are the collaborators of an Ingester. Fetcher, Geocoder and Layers
// may be nil when the corresponding inputs are never used.
type Deps struct {
	Layout   Layout
	Recorder *manifest.Recorder
	Fetcher  Fetcher
	Geocoder domain.Geocoder
	Layers   LayerFetcher
	Vectors  VectorWriter
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Ingester runs the per-source ingestion flows.
type Ingester struct {
	Deps
}

// New creates an Ingester.
func New(d Deps) *Ingester {
	return &Ingester{Deps: d}
}

// Request selects what to ingest. Input is a local path or s3:// URI and
// may be empty to discover a file already in the raw area.
type Request struct {
	Input  string
	Source string
	Place  string
	RunID  string
}

// Result describes one ingested file.
type Result struct {
	Name     string
	Path     string
	Manifest domain.Manifest
	Err      error
}

// DEM ingests a digital elevation model.
func (in *Ingester) DEM(ctx context.Context, req Request) (Result, error) {
	source := req.Source
	if source == "" {
		source = "SRTM"
	}
	path, err := in.acquire(ctx, req.Input, CategoryDEM, demExtensions, [][]string{demExtensions})
	if err != nil {
		return Result{Name: CategoryDEM}, err
	}
	return in.record(path, CategoryDEM, DEMSource(source), source+" DEM data", domain.DataTypeDEM, req.RunID)
}

// Satellite ingests a satellite scene, preferring JPEG2000 on discovery.
func (in *Ingester) Satellite(ctx context.Context, req Request) (Result, error) {
	path, err := in.acquire(ctx, req.Input, CategorySatellite, satelliteExtensions,
		[][]string{{".jp2"}, {".tif", ".tiff"}})
	if err != nil {
		return Result{Name: CategorySatellite}, err
	}
	return in.record(path, CategorySatellite, SourceSatellite, "Sentinel-2 L2A Imagery", domain.DataTypeSatellite, req.RunID)
}

// acquire resolves the input into a validated file inside the raw
// category directory.
func (in *Ingester) acquire(ctx context.Context, input, category string, exts []string, preference [][]string) (string, error) {
	dir := in.Layout.Dir(AreaRaw, category)

	if strings.HasPrefix(input, "s3://") {
		if !hasExtension(input, exts) {
			return "", fmt.Errorf("unsupported format %q, expected %s: %w",
				filepath.Ext(input), strings.Join(exts, ", "), domain.ErrUnsupportedFormat)
		}
		if in.Fetcher == nil {
			return "", fmt.Errorf("fetch %s: no object store configured: %w", input, domain.ErrRemoteFetch)
		}
		dest := filepath.Join(dir, filepath.Base(input))
		if _, err := in.Fetcher.Fetch(ctx, input, dest); err != nil {
			return "", err
		}
		input = dest
	}

	if input == "" {
		found, err := discover(dir, preference)
		if err != nil {
			return "", err
		}
		input = found
	}

	if err := validate(input, exts); err != nil {
		return "", err
	}

	dest := filepath.Join(dir, filepath.Base(input))
	if !samePath(input, dest) {
		if err := CopyFile(input, dest); err != nil {
			return "", err
		}
		in.Logger.Info("input copied", "src", input, "dest", dest)
	}
	return dest, nil
}

// record builds the manifest for a raw single-file category and saves it
// as the category manifest.
func (in *Ingester) record(path, category, source, description, dataType, runID string) (Result, error) {
	m, err := in.Recorder.Record(path, source, description, dataType, ingestExtra(runID, nil))
	if err != nil {
		return Result{Name: category}, err
	}
	if err := manifest.Save(in.Layout.Manifest(AreaRaw, category), m); err != nil {
		return Result{Name: category}, err
	}
	in.Metrics.BytesIngested.Add(float64(m.SizeBytes))
	in.Logger.Info("ingested", "category", category, "file", m.Filename, "size_bytes", m.SizeBytes, "hash", m.Hash)
	return Result{Name: category, Path: path, Manifest: m}, nil
}

// OSM geocodes the place and fetches every layer. Layers succeed or fail
// independently. Manifests of the successful layers are saved as a JSON
// array. The returned error is set when the place cannot be resolved, with
// no results, or when that array cannot be saved, alongside the results.
func (in *Ingester) OSM(ctx context.Context, req Request) ([]Result, error) {
	if in.Geocoder == nil || in.Layers == nil {
		return nil, fmt.Errorf("osm ingestion: no OSM client configured: %w", domain.ErrRemoteFetch)
	}
	place, err := in.Geocoder.Geocode(ctx, req.Place)
	if err != nil {
		return nil, fmt.Errorf("resolve place %q: %w", req.Place, err)
	}
	in.Logger.Info("place resolved", "place", req.Place, "name", place.Name, "lat", place.Lat, "lon", place.Lon)

	results := make([]Result, 0, len(OSMLayers))
	var manifests []domain.Manifest
	for _, layer := range OSMLayers {
		r := in.osmLayer(ctx, layer, place, req.RunID)
		if r.Err != nil {
			in.Logger.Error("osm layer failed", "layer", layer, "error", r.Err, "error_kind", domain.ErrorKind(r.Err))
		} else {
			manifests = append(manifests, r.Manifest)
		}
		results = append(results, r)
	}

	if len(manifests) > 0 {
		if err := manifest.Save(in.Layout.Manifest(AreaRaw, CategoryOSM), manifests); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (in *Ingester) osmLayer(ctx context.Context, layer string, place domain.Place, runID string) Result {
	res := Result{Name: layer}

	v, err := in.Layers.FetchLayer(ctx, layer, place.Bounds)
	if err != nil {
		res.Err = err
		return res
	}
	if len(v.Features) == 0 {
		res.Err = fmt.Errorf("osm %s: no features in %s: %w", layer, place.Name, domain.ErrEmptyDataset)
		return res
	}

	path := filepath.Join(in.Layout.Dir(AreaRaw, CategoryOSM), layer+".geojson")
	if err := in.Vectors.WriteVector(path, v); err != nil {
		res.Err = err
		return res
	}

	m, err := in.Recorder.Record(path, SourceOSM,
		fmt.Sprintf("OSM %s for %s", layer, place.Name),
		domain.DataTypeVector,
		ingestExtra(runID, map[string]any{
			"layer":         layer,
			"feature_count": len(v.Features),
			"place":         place.Name,
			"crs":           v.CRS.String(),
		}))
	if err != nil {
		res.Err = err
		return res
	}
	in.Metrics.BytesIngested.Add(float64(m.SizeBytes))
	in.Logger.Info("ingested", "category", CategoryOSM, "layer", layer, "features", len(v.Features), "hash", m.Hash)

	res.Path = path
	res.Manifest = m
	return res
}

func ingestExtra(runID string, fields map[string]any) map[string]any {
	extra := map[string]any{"stage": "ingest"}
	if runID != "" {
		extra["run_id"] = runID
	}
	for k, v := range fields {
		extra[k] = v
	}
	return extra
}
