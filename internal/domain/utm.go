package domain

import (
	"fmt"
	"math"
)

// UTMZone is one of the 60 Universal Transverse Mercator zones in a hemisphere.
type UTMZone struct {
	Number int  // 1–60
	North  bool // latitude >= 0
}

// EPSG returns the WGS 84 / UTM projected CRS for the zone.
func (z UTMZone) EPSG() int {
	if z.North {
		return 32600 + z.Number
	}
	return 32700 + z.Number
}

// CRS returns the zone's EPSG code as a CRS.
func (z UTMZone) CRS() CRS { return CRS(z.EPSG()) }

func (z UTMZone) String() string {
	h := "S"
	if z.North {
		h = "N"
	}
	return fmt.Sprintf("%d%s", z.Number, h)
}

// ResolveUTM maps a geographic coordinate to its UTM zone.
// Longitude 180 belongs to zone 60; latitude 0 is northern.
func ResolveUTM(lat, lon float64) (UTMZone, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return UTMZone{}, fmt.Errorf("resolve utm (%v, %v): %w", lat, lon, ErrInvalidCoordinate)
	}
	if lon < -180 || lon > 180 {
		return UTMZone{}, fmt.Errorf("resolve utm: longitude %v out of range: %w", lon, ErrInvalidCoordinate)
	}
	if lat < -90 || lat > 90 {
		return UTMZone{}, fmt.Errorf("resolve utm: latitude %v out of range: %w", lat, ErrInvalidCoordinate)
	}

	zone := int(math.Floor((lon+180)/6)) + 1
	if zone > 60 {
		zone = 60
	}
	return UTMZone{Number: zone, North: lat >= 0}, nil
}
