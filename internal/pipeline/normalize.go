package pipeline

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/couchcryptid/geodata-etl/internal/ingest"
	"github.com/couchcryptid/geodata-etl/internal/reproject"
)

var vectorExtensions = []string{".geojson", ".json"}

func isVector(path string) bool {
	return slices.Contains(vectorExtensions, strings.ToLower(filepath.Ext(path)))
}

// Target is either a fixed CRS or "the UTM zone of the dataset".
type Target struct {
	CRS domain.CRS
	UTM bool
}

// ParseTarget accepts "utm" or any form ParseCRS understands.
func ParseTarget(s string) (Target, error) {
	if strings.EqualFold(strings.TrimSpace(s), "utm") {
		return Target{UTM: true}, nil
	}
	c, err := domain.ParseCRS(s)
	if err != nil {
		return Target{}, err
	}
	return Target{CRS: c}, nil
}

func (t Target) String() string {
	if t.UTM {
		return "utm"
	}
	return t.CRS.String()
}

// Outcome describes a normalized file.
type Outcome struct {
	Path        string
	SourceCRS   domain.CRS
	TargetCRS   domain.CRS
	Zone        *domain.UTMZone
	Reprojected bool
	Resampling  reproject.Resampling
	Vector      bool
}

// NormalizeFile reprojects the raster or vector at in into t and writes
// the result to out. Files already in the target CRS are copied byte for
// byte. Vectors are recognised by extension.
func (p *Pipeline) NormalizeFile(in, out string, t Target, r reproject.Resampling) (Outcome, error) {
	return p.normalizeFile(in, func(bool) string { return out }, t, r)
}

// normalizeFile resolves the output path only after the outcome is known,
// since a reprojected raster is always written as GeoTIFF while a no-op
// copy keeps the input format.
func (p *Pipeline) normalizeFile(in string, outPath func(reprojected bool) string, t Target, r reproject.Resampling) (Outcome, error) {
	if isVector(in) {
		return p.normalizeVector(in, outPath, t)
	}
	return p.normalizeRaster(in, outPath, t, r)
}

func (p *Pipeline) normalizeRaster(in string, outPath func(bool) string, t Target, r reproject.Resampling) (Outcome, error) {
	src, err := p.rasters.ReadRaster(in)
	if err != nil {
		return Outcome{}, err
	}
	o := Outcome{SourceCRS: src.CRS, TargetCRS: t.CRS, Resampling: r}
	if t.UTM {
		zone, err := p.normalizer.UTMForRaster(src)
		if err != nil {
			return Outcome{}, err
		}
		o.Zone = &zone
		o.TargetCRS = zone.CRS()
	}

	dst, changed, err := p.normalizer.Raster(src, o.TargetCRS, r)
	if err != nil {
		return Outcome{}, fmt.Errorf("normalize %s: %w", in, err)
	}
	o.Reprojected = changed
	o.Path = outPath(changed)

	if !changed {
		p.metrics.NoopNormalized.WithLabelValues("raster").Inc()
		return o, ingest.CopyFile(in, o.Path)
	}
	p.metrics.Reprojections.WithLabelValues("raster").Inc()
	return o, p.rasters.WriteRaster(o.Path, dst)
}

func (p *Pipeline) normalizeVector(in string, outPath func(bool) string, t Target) (Outcome, error) {
	src, err := p.vectors.ReadVector(in)
	if err != nil {
		return Outcome{}, err
	}
	o := Outcome{SourceCRS: src.CRS, TargetCRS: t.CRS, Vector: true}
	if t.UTM {
		zone, err := p.normalizer.UTMForVector(src)
		if err != nil {
			return Outcome{}, err
		}
		o.Zone = &zone
		o.TargetCRS = zone.CRS()
	}

	dst, changed, err := p.normalizer.Vector(src, o.TargetCRS)
	if err != nil {
		return Outcome{}, fmt.Errorf("normalize %s: %w", in, err)
	}
	o.Reprojected = changed
	o.Path = outPath(changed)

	if !changed {
		p.metrics.NoopNormalized.WithLabelValues("vector").Inc()
		return o, ingest.CopyFile(in, o.Path)
	}
	p.metrics.Reprojections.WithLabelValues("vector").Inc()
	return o, p.vectors.WriteVector(o.Path, dst)
}

// extras are the manifest fields recorded for a normalized artifact.
func (o Outcome) extras(stage, runID string) map[string]any {
	e := map[string]any{
		"stage":       stage,
		"source_crs":  o.SourceCRS.String(),
		"target_crs":  o.TargetCRS.String(),
		"reprojected": o.Reprojected,
	}
	if !o.Vector {
		e["resampling"] = o.Resampling.String()
	}
	if o.Zone != nil {
		e["utm_zone"] = o.Zone.String()
	}
	if runID != "" {
		e["run_id"] = runID
	}
	return e
}
