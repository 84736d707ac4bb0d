package ingest

import (
	"path/filepath"

	"github.com/couchcryptid/geodata-etl/internal/manifest"
)

// Areas of the data tree, in processing order.
const (
	AreaRaw        = "raw"
	AreaProcessed  = "processed"
	AreaNormalized = "normalized"
)

// Categories within each area.
const (
	CategoryDEM       = "dem"
	CategorySatellite = "satellite"
	CategoryOSM       = "osm"
)

// Categories lists every category in ingestion order.
var Categories = []string{CategoryDEM, CategorySatellite, CategoryOSM}

// Layout resolves paths under the data root.
type Layout struct {
	Root string
}

// Dir returns <root>/<area>/<category>.
func (l Layout) Dir(area, category string) string {
	return filepath.Join(l.Root, area, category)
}

// Manifest returns the category manifest path for area.
func (l Layout) Manifest(area, category string) string {
	return filepath.Join(l.Dir(area, category), manifest.Filename)
}

// AreaManifest returns the consolidated manifest path for area.
func (l Layout) AreaManifest(area string) string {
	return filepath.Join(l.Root, area, manifest.Filename)
}

// CategoryManifests lists the category manifests of area in category order.
func (l Layout) CategoryManifests(area string) []string {
	out := make([]string, 0, len(Categories))
	for _, c := range Categories {
		out = append(out, l.Manifest(area, c))
	}
	return out
}
