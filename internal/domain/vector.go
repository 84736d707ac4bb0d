package domain

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Vector is an ordered collection of features sharing one CRS.
type Vector struct {
	CRS      CRS
	Features []*geojson.Feature
}

// Bounds returns the envelope of every feature geometry. ok is false when
// the dataset has no geometry to measure.
func (v *Vector) Bounds() (b orb.Bound, ok bool) {
	for _, f := range v.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		fb := f.Geometry.Bound()
		if !ok {
			b, ok = fb, true
			continue
		}
		b = b.Union(fb)
	}
	return b, ok
}
