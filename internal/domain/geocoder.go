package domain

import (
	"context"

	"github.com/paulmach/orb"
)

// Place is a geocoded area of interest.
type Place struct {
	Name   string
	Lat    float64
	Lon    float64
	Bounds orb.Bound // lon/lat envelope of the place
	OSMID  int64
	Type   string // OSM element type: node, way or relation
}

// Geocoder resolves a free-form place name to its location and extent.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (Place, error)
}
