// Package geojson reads and writes vector datasets as GeoJSON feature
// collections, carrying the CRS in the legacy "crs" member.
package geojson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	ogeojson "github.com/paulmach/orb/geojson"
)

// Extensions lists the file extensions the store accepts.
var Extensions = []string{".geojson", ".json"}

// Store implements vector dataset I/O on the local filesystem.
type Store struct{}

// NewStore creates a GeoJSON store.
func NewStore() *Store { return &Store{} }

// ReadVector loads a feature collection. A collection without a "crs"
// member is EPSG:4326, the only CRS RFC 7946 allows.
func (s *Store) ReadVector(path string) (*domain.Vector, error) {
	if !Supported(path) {
		return nil, fmt.Errorf("read %s: %w", path, domain.ErrUnsupportedFormat)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", path, errors.Join(domain.ErrInvalidFile, err))
		}
		return nil, fmt.Errorf("read %s: %v: %w", path, err, domain.ErrIO)
	}

	fc, err := ogeojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", path, err, domain.ErrInvalidFile)
	}

	crs := domain.WGS84
	if raw, ok := fc.ExtraMembers["crs"]; ok && raw != nil {
		if crs, err = parseCRSMember(raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return &domain.Vector{CRS: crs, Features: fc.Features}, nil
}

// WriteVector saves v as a feature collection, creating parent directories.
// Collections in a CRS other than EPSG:4326 get a named "crs" member.
func (s *Store) WriteVector(path string, v *domain.Vector) error {
	if v == nil {
		return fmt.Errorf("write %s: %w", path, domain.ErrEmptyDataset)
	}
	fc := ogeojson.NewFeatureCollection()
	fc.Features = v.Features
	if !v.CRS.IsZero() && v.CRS != domain.WGS84 {
		fc.ExtraMembers = ogeojson.Properties{"crs": crsMember(v.CRS)}
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %v: %w", filepath.Dir(path), err, domain.ErrIO)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %v: %w", path, err, domain.ErrIO)
	}
	return nil
}

// Supported reports whether path has a GeoJSON extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func crsMember(c domain.CRS) map[string]any {
	return map[string]any{
		"type": "name",
		"properties": map[string]any{
			"name": fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", c.EPSG()),
		},
	}
}

// crsObject is the GeoJSON 2008 crs member in its "name" and "EPSG" forms.
type crsObject struct {
	Type       string `json:"type"`
	Properties struct {
		Name string          `json:"name"`
		Code json.RawMessage `json:"code"`
	} `json:"properties"`
}

func parseCRSMember(raw any) (domain.CRS, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return 0, fmt.Errorf("crs member: %w", domain.ErrUnsupportedCRS)
	}
	var obj crsObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return 0, fmt.Errorf("crs member: %v: %w", err, domain.ErrUnsupportedCRS)
	}

	switch strings.ToLower(obj.Type) {
	case "name":
		return domain.ParseCRS(obj.Properties.Name)
	case "epsg":
		return domain.ParseCRS(strings.Trim(string(obj.Properties.Code), `"`))
	default:
		return 0, fmt.Errorf("crs member type %q: %w", obj.Type, domain.ErrUnsupportedCRS)
	}
}
