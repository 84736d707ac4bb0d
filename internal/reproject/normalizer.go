package reproject

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

// edgeSamples is the number of points taken along each raster edge when
// estimating the output extent.
const edgeSamples = 21

// Grid describes an output raster: its size, georeferencing and CRS.
type Grid struct {
	Width, Height int
	Transform     domain.GeoTransform
	CRS           domain.CRS
}

// GridOf returns the grid a raster is laid out on.
func GridOf(r *domain.Raster) Grid {
	return Grid{Width: r.Width, Height: r.Height, Transform: r.Transform, CRS: r.CRS}
}

// Normalizer reprojects datasets into a target CRS.
type Normalizer struct {
	projector Projector
	logger    *slog.Logger
}

// NewNormalizer creates a Normalizer. A nil projector uses WGS84Projector.
func NewNormalizer(p Projector, logger *slog.Logger) *Normalizer {
	if p == nil {
		p = WGS84Projector{}
	}
	return &Normalizer{projector: p, logger: logger}
}

// Raster reprojects src into target on the default output grid. When src is
// already in target it is returned as-is and changed is false. src is never
// modified.
func (n *Normalizer) Raster(src *domain.Raster, target domain.CRS, r Resampling) (out *domain.Raster, changed bool, err error) {
	if src == nil {
		return nil, false, fmt.Errorf("normalize raster: %w", domain.ErrEmptyDataset)
	}
	if src.CRS.IsZero() {
		return nil, false, fmt.Errorf("normalize raster: source: %w", domain.ErrMissingCRS)
	}
	if target.IsZero() {
		return nil, false, fmt.Errorf("normalize raster: target: %w", domain.ErrMissingCRS)
	}
	if src.CRS == target {
		n.logger.Debug("raster already in target crs", "crs", target.String())
		return src, false, nil
	}

	grid, err := n.DefaultGrid(src, target)
	if err != nil {
		return nil, false, err
	}
	out, err = n.Reproject(src, grid, r)
	if err != nil {
		return nil, false, err
	}
	n.logger.Debug("raster reprojected",
		"source_crs", src.CRS.String(),
		"target_crs", target.String(),
		"resampling", r.String(),
		"width", out.Width,
		"height", out.Height,
	)
	return out, true, nil
}

// DefaultGrid computes the output grid for reprojecting src into target:
// the envelope of the transformed source edges, square pixels that keep the
// source's nominal resolution along the diagonal.
func (n *Normalizer) DefaultGrid(src *domain.Raster, target domain.CRS) (Grid, error) {
	if err := src.Validate(); err != nil {
		return Grid{}, err
	}
	fwd, err := n.projector.Transformer(src.CRS, target)
	if err != nil {
		return Grid{}, err
	}

	w, h := float64(src.Width), float64(src.Height)
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	ok := 0

	for i := range edgeSamples {
		t := float64(i) / float64(edgeSamples-1)
		for _, cell := range [4][2]float64{{t * w, 0}, {t * w, h}, {0, t * h}, {w, t * h}} {
			sx, sy := src.Transform.Apply(cell[0], cell[1])
			x, y, err := fwd(sx, sy)
			if err != nil {
				continue
			}
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
			ok++
		}
	}
	if ok == 0 {
		return Grid{}, fmt.Errorf("no raster edge point transforms from %s to %s: %w", src.CRS, target, domain.ErrInvalidCoordinate)
	}

	diag := math.Hypot(maxX-minX, maxY-minY)
	res := diag / math.Hypot(w, h)
	if res == 0 || !finite(res) {
		return Grid{}, fmt.Errorf("degenerate output extent in %s: %w", target, domain.ErrInvalidCoordinate)
	}

	return Grid{
		Width:     max(1, int((maxX-minX)/res+0.5)),
		Height:    max(1, int((maxY-minY)/res+0.5)),
		Transform: domain.GeoTransform{minX, res, 0, maxY, 0, -res},
		CRS:       target,
	}, nil
}

// Reproject resamples every band of src onto grid. Cells with no source
// coverage are set to the nodata value, or 0 when src declares none.
func (n *Normalizer) Reproject(src *domain.Raster, grid Grid, r Resampling) (*domain.Raster, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if grid.Width <= 0 || grid.Height <= 0 {
		return nil, fmt.Errorf("output grid %dx%d: %w", grid.Width, grid.Height, domain.ErrEmptyDataset)
	}
	if src.CRS.IsZero() || grid.CRS.IsZero() {
		return nil, fmt.Errorf("reproject raster: %w", domain.ErrMissingCRS)
	}

	inv, err := n.projector.Transformer(grid.CRS, src.CRS)
	if err != nil {
		return nil, err
	}
	srcInv, err := src.Transform.Invert()
	if err != nil {
		return nil, err
	}

	// Source cell coordinates of every output cell centre, shared by all bands.
	cells := grid.Width * grid.Height
	cols := make([]float64, cells)
	rows := make([]float64, cells)
	for row := range grid.Height {
		for col := range grid.Width {
			i := row*grid.Width + col
			x, y := grid.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
			sx, sy, err := inv(x, y)
			if err != nil {
				cols[i], rows[i] = math.NaN(), math.NaN()
				continue
			}
			cols[i], rows[i] = srcInv.Apply(sx, sy)
		}
	}

	out := domain.NewRaster(grid.Width, grid.Height, len(src.Bands))
	out.Transform = grid.Transform
	out.CRS = grid.CRS
	out.DataType = src.DataType
	if src.NoData != nil {
		nd := *src.NoData
		out.NoData = &nd
	}

	sample := r.sampler()
	fill := src.Fill()
	for b, band := range src.Bands {
		dst := out.Bands[b]
		for i := range dst {
			if math.IsNaN(cols[i]) {
				dst[i] = fill
				continue
			}
			v, ok := sample(src, band, cols[i], rows[i])
			if !ok {
				dst[i] = fill
				continue
			}
			dst[i] = fitDataType(v, src.DataType)
		}
	}
	return out, nil
}

// Vector reprojects every feature geometry of src into target. Properties,
// IDs and feature order are kept. When src is already in target it is
// returned as-is and changed is false. src is never modified.
func (n *Normalizer) Vector(src *domain.Vector, target domain.CRS) (out *domain.Vector, changed bool, err error) {
	if src == nil {
		return nil, false, fmt.Errorf("normalize vector: %w", domain.ErrEmptyDataset)
	}
	if src.CRS.IsZero() {
		return nil, false, fmt.Errorf("normalize vector: source: %w", domain.ErrMissingCRS)
	}
	if target.IsZero() {
		return nil, false, fmt.Errorf("normalize vector: target: %w", domain.ErrMissingCRS)
	}
	if len(src.Features) == 0 {
		return nil, false, fmt.Errorf("normalize vector: %w", domain.ErrEmptyDataset)
	}
	if src.CRS == target {
		n.logger.Debug("vector already in target crs", "crs", target.String())
		return src, false, nil
	}

	fwd, err := n.projector.Transformer(src.CRS, target)
	if err != nil {
		return nil, false, err
	}

	var projErr error
	proj := orb.Projection(func(p orb.Point) orb.Point {
		x, y, err := fwd(p[0], p[1])
		if err != nil {
			if projErr == nil {
				projErr = err
			}
			return p
		}
		return orb.Point{x, y}
	})

	out = &domain.Vector{CRS: target, Features: make([]*geojson.Feature, 0, len(src.Features))}
	for _, f := range src.Features {
		if f == nil {
			continue
		}
		nf := *f
		nf.BBox = nil
		nf.Properties = f.Properties.Clone()
		if f.Geometry != nil {
			nf.Geometry = project.Geometry(orb.Clone(f.Geometry), proj)
		}
		out.Features = append(out.Features, &nf)
	}
	if projErr != nil {
		return nil, false, fmt.Errorf("normalize vector to %s: %w", target, projErr)
	}

	n.logger.Debug("vector reprojected",
		"source_crs", src.CRS.String(),
		"target_crs", target.String(),
		"features", len(out.Features),
	)
	return out, true, nil
}

// UTMZone resolves the UTM zone containing the centre of b, expressed in crs.
func (n *Normalizer) UTMZone(b orb.Bound, crs domain.CRS) (domain.UTMZone, error) {
	if crs.IsZero() {
		return domain.UTMZone{}, fmt.Errorf("utm zone: %w", domain.ErrMissingCRS)
	}
	c := b.Center()
	lon, lat := c[0], c[1]
	if !crs.IsGeographic() {
		fn, err := n.projector.Transformer(crs, domain.WGS84)
		if err != nil {
			return domain.UTMZone{}, err
		}
		if lon, lat, err = fn(c[0], c[1]); err != nil {
			return domain.UTMZone{}, err
		}
	}
	return domain.ResolveUTM(lat, lon)
}

// UTMForRaster picks the UTM zone for a raster from its extent centroid.
func (n *Normalizer) UTMForRaster(r *domain.Raster) (domain.UTMZone, error) {
	if r == nil || r.Width <= 0 || r.Height <= 0 {
		return domain.UTMZone{}, fmt.Errorf("utm zone: %w", domain.ErrEmptyDataset)
	}
	return n.UTMZone(r.Bounds(), r.CRS)
}

// UTMForVector picks the UTM zone for a vector dataset from its extent centroid.
func (n *Normalizer) UTMForVector(v *domain.Vector) (domain.UTMZone, error) {
	if v == nil {
		return domain.UTMZone{}, fmt.Errorf("utm zone: %w", domain.ErrEmptyDataset)
	}
	b, ok := v.Bounds()
	if !ok {
		return domain.UTMZone{}, fmt.Errorf("utm zone: no geometry: %w", domain.ErrEmptyDataset)
	}
	return n.UTMZone(b, v.CRS)
}
