package gdal

import (
	"fmt"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/couchcryptid/geodata-etl/internal/reproject"
)

type crsPair struct{ from, to domain.CRS }

// Projector transforms coordinates with PROJ through GDAL. Spatial
// references are created with traditional GIS axis order, so geographic
// coordinates stay (lon, lat). Transforms are cached per CRS pair until
// Close.
type Projector struct {
	mu         sync.Mutex
	refs       map[domain.CRS]*godal.SpatialRef
	transforms map[crsPair]*godal.Transform
}

// NewProjector registers the GDAL drivers and returns an empty projector.
func NewProjector() *Projector {
	registerOnce.Do(godal.RegisterAll)
	return &Projector{
		refs:       map[domain.CRS]*godal.SpatialRef{},
		transforms: map[crsPair]*godal.Transform{},
	}
}

var _ reproject.Projector = (*Projector)(nil)

// Transformer returns a transform from one CRS to another.
func (p *Projector) Transformer(from, to domain.CRS) (reproject.TransformFunc, error) {
	if from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("build transform %s -> %s: %w", from, to, domain.ErrMissingCRS)
	}

	p.mu.Lock()
	trn, err := p.transform(from, to)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return func(x, y float64) (float64, float64, error) {
		xs, ys := []float64{x}, []float64{y}
		ok := []bool{false}
		p.mu.Lock()
		err := trn.TransformEx(xs, ys, nil, ok)
		p.mu.Unlock()
		if err != nil || !ok[0] {
			return 0, 0, fmt.Errorf("transform (%v, %v) %s -> %s: %w", x, y, from, to, domain.ErrInvalidCoordinate)
		}
		return xs[0], ys[0], nil
	}, nil
}

func (p *Projector) transform(from, to domain.CRS) (*godal.Transform, error) {
	key := crsPair{from, to}
	if trn, ok := p.transforms[key]; ok {
		return trn, nil
	}
	src, err := p.ref(from)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", from, err)
	}
	dst, err := p.ref(to)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", to, err)
	}
	trn, err := godal.NewTransform(src, dst)
	if err != nil {
		return nil, fmt.Errorf("transform %s -> %s: %v: %w", from, to, err, domain.ErrUnsupportedCRS)
	}
	p.transforms[key] = trn
	return trn, nil
}

func (p *Projector) ref(c domain.CRS) (*godal.SpatialRef, error) {
	if sr, ok := p.refs[c]; ok {
		return sr, nil
	}
	sr, err := godal.NewSpatialRefFromEPSG(c.EPSG())
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrUnsupportedCRS)
	}
	p.refs[c] = sr
	return sr, nil
}

// Close releases every cached transform and spatial reference.
func (p *Projector) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, trn := range p.transforms {
		trn.Close()
		delete(p.transforms, k)
	}
	for k, sr := range p.refs {
		sr.Close()
		delete(p.refs, k)
	}
	return nil
}
