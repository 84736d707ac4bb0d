// Package reproject moves raster and vector datasets between EPSG coordinate
// reference systems and picks the UTM zone a dataset belongs to.
package reproject

import (
	"fmt"
	"math"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/wroge/wgs84"
)

// TransformFunc maps one coordinate between two CRSs. Geographic
// coordinates are passed as (lon, lat).
type TransformFunc func(x, y float64) (float64, float64, error)

// Projector builds coordinate transforms between EPSG systems.
type Projector interface {
	Transformer(from, to domain.CRS) (TransformFunc, error)
}

var epsg = wgs84.EPSG()

// WGS84Projector resolves EPSG codes against the wgs84 registry, which
// covers geographic WGS 84, Web Mercator, every WGS 84 UTM zone and the
// common national grids.
type WGS84Projector struct{}

// Transformer returns a transform from one CRS to another.
func (WGS84Projector) Transformer(from, to domain.CRS) (TransformFunc, error) {
	if from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("build transform %s -> %s: %w", from, to, domain.ErrMissingCRS)
	}
	src := epsg.Code(from.EPSG())
	if src == nil {
		return nil, fmt.Errorf("source %s: %w", from, domain.ErrUnsupportedCRS)
	}
	dst := epsg.Code(to.EPSG())
	if dst == nil {
		return nil, fmt.Errorf("target %s: %w", to, domain.ErrUnsupportedCRS)
	}

	fn := wgs84.Transform(src, dst)
	return func(x, y float64) (float64, float64, error) {
		a, b, _ := fn(x, y, 0)
		if !finite(a) || !finite(b) {
			return 0, 0, fmt.Errorf("transform (%v, %v) %s -> %s: %w", x, y, from, to, domain.ErrInvalidCoordinate)
		}
		return a, b, nil
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
