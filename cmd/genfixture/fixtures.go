package main

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/couchcryptid/geodata-etl/internal/reproject"
	"github.com/paulmach/orb"
	ogeojson "github.com/paulmach/orb/geojson"
)

// cellDegrees is roughly 30 m at the equator, the SRTM posting.
const cellDegrees = 1.0 / 3600

const demNoData = -32768

// area is the footprint shared by every fixture file.
type area struct {
	lat, lon   float64
	size       int
	crs        domain.CRS
	normalizer *reproject.Normalizer
}

func newArea(lat, lon float64, size int, crs string, projector reproject.Projector, logger *slog.Logger) (*area, error) {
	if _, err := domain.ResolveUTM(lat, lon); err != nil {
		return nil, err
	}
	a := &area{lat: lat, lon: lon, size: size, crs: domain.WGS84, normalizer: reproject.NewNormalizer(projector, logger)}
	if strings.EqualFold(crs, "utm") {
		zone, _ := domain.ResolveUTM(lat, lon)
		a.crs = zone.CRS()
		return a, nil
	}
	c, err := domain.ParseCRS(crs)
	if err != nil {
		return nil, err
	}
	if c != domain.WGS84 {
		return nil, fmt.Errorf("-crs %s: only EPSG:4326 and utm are generated: %w", c, domain.ErrUnsupportedCRS)
	}
	return a, nil
}

func (a *area) bounds() orb.Bound {
	half := float64(a.size) * cellDegrees / 2
	return orb.Bound{
		Min: orb.Point{a.lon - half, a.lat - half},
		Max: orb.Point{a.lon + half, a.lat + half},
	}
}

func (a *area) grid(bands int, dataType string) *domain.Raster {
	b := a.bounds()
	r := domain.NewRaster(a.size, a.size, bands)
	r.CRS = domain.WGS84
	r.DataType = dataType
	r.Transform = domain.GeoTransform{b.Min[0], cellDegrees, 0, b.Max[1], 0, -cellDegrees}
	return r
}

// project moves a geographic fixture into the area CRS.
func (a *area) project(r *domain.Raster, rs reproject.Resampling) (*domain.Raster, error) {
	out, _, err := a.normalizer.Raster(r, a.crs, rs)
	return out, err
}

// dem is a Gaussian hill with one nodata cell in the top-left corner.
func (a *area) dem() (*domain.Raster, error) {
	r := a.grid(1, "Int16")
	nd := float64(demNoData)
	r.NoData = &nd

	c := float64(a.size-1) / 2
	sigma := float64(a.size) / 4
	for row := 0; row < a.size; row++ {
		for col := 0; col < a.size; col++ {
			dx, dy := float64(col)-c, float64(row)-c
			r.Bands[0][row*a.size+col] = math.Round(12 + 380*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma)))
		}
	}
	r.Bands[0][0] = nd
	return a.project(r, reproject.Bilinear)
}

// scene has one gradient per band so band order survives a round trip.
func (a *area) scene() (*domain.Raster, error) {
	r := a.grid(3, "UInt16")
	n := float64(a.size - 1)
	for row := 0; row < a.size; row++ {
		for col := 0; col < a.size; col++ {
			i := row*a.size + col
			r.Bands[0][i] = math.Round(1000 + 2000*float64(col)/n)
			r.Bands[1][i] = math.Round(1000 + 2000*float64(row)/n)
			r.Bands[2][i] = 1500
		}
	}
	return a.project(r, reproject.Nearest)
}

// buildings is a 3x3 block of square footprints around the centre.
func (a *area) buildings() *domain.Vector {
	v := &domain.Vector{CRS: domain.WGS84}
	side := 2 * cellDegrees
	id := 1
	for i := -1; i <= 1; i++ {
		for j := -1; j <= 1; j++ {
			x := a.lon + float64(i)*4*cellDegrees
			y := a.lat + float64(j)*4*cellDegrees
			f := ogeojson.NewFeature(orb.Polygon{{
				{x, y}, {x + side, y}, {x + side, y + side}, {x, y + side}, {x, y},
			}})
			f.ID = fmt.Sprintf("way/%d", id)
			f.Properties["building"] = "yes"
			f.Properties["osm_id"] = id
			v.Features = append(v.Features, f)
			id++
		}
	}
	return v
}

// roads are two streets crossing at the centre.
func (a *area) roads() *domain.Vector {
	b := a.bounds()
	ns := ogeojson.NewFeature(orb.LineString{{a.lon, b.Min[1]}, {a.lon, b.Max[1]}})
	ns.ID = "way/100"
	ns.Properties["highway"] = "primary"
	ns.Properties["name"] = "North Street"

	ew := ogeojson.NewFeature(orb.LineString{{b.Min[0], a.lat}, {b.Max[0], a.lat}})
	ew.ID = "way/101"
	ew.Properties["highway"] = "secondary"
	ew.Properties["name"] = "East Street"

	return &domain.Vector{CRS: domain.WGS84, Features: []*ogeojson.Feature{ns, ew}}
}
