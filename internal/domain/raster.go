package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// GeoTransform is a GDAL affine transform from cell to CRS coordinates.
type GeoTransform [6]float64

// Apply maps fractional cell coordinates to CRS coordinates.
func (gt GeoTransform) Apply(col, row float64) (x, y float64) {
	return gt[0] + col*gt[1] + row*gt[2], gt[3] + col*gt[4] + row*gt[5]
}

// Invert returns the transform mapping CRS coordinates back to cell space.
func (gt GeoTransform) Invert() (GeoTransform, error) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 || math.IsNaN(det) {
		return GeoTransform{}, fmt.Errorf("geotransform %v is not invertible: %w", [6]float64(gt), ErrInvalidFile)
	}
	inv := 1 / det
	return GeoTransform{
		(gt[2]*gt[3] - gt[0]*gt[5]) * inv,
		gt[5] * inv,
		-gt[2] * inv,
		(-gt[1]*gt[3] + gt[0]*gt[4]) * inv,
		-gt[4] * inv,
		gt[1] * inv,
	}, nil
}

// Raster is an in-memory multi-band grid with its georeferencing.
type Raster struct {
	Width, Height int
	Transform     GeoTransform
	CRS           CRS
	DataType      string   // GDAL data type name, e.g. "Float32"
	NoData        *float64 // nil when the source declares no nodata value
	Bands         [][]float64
}

// NewRaster allocates a raster with zeroed bands.
func NewRaster(width, height, bands int) *Raster {
	r := &Raster{Width: width, Height: height, Bands: make([][]float64, bands)}
	for i := range r.Bands {
		r.Bands[i] = make([]float64, width*height)
	}
	return r
}

// At returns the value of band b at (col, row).
func (r *Raster) At(b, col, row int) float64 {
	return r.Bands[b][row*r.Width+col]
}

// IsNoData reports whether v equals the raster's nodata value.
func (r *Raster) IsNoData(v float64) bool {
	if r.NoData == nil {
		return false
	}
	if math.IsNaN(*r.NoData) {
		return math.IsNaN(v)
	}
	return v == *r.NoData
}

// Fill returns the value used for cells without source data.
func (r *Raster) Fill() float64 {
	if r.NoData != nil {
		return *r.NoData
	}
	return 0
}

// Validate checks the grid invariants: positive dimensions, at least one
// band and every band holding Width*Height cells.
func (r *Raster) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("raster size %dx%d: %w", r.Width, r.Height, ErrEmptyDataset)
	}
	if len(r.Bands) == 0 {
		return fmt.Errorf("raster has no bands: %w", ErrEmptyDataset)
	}
	for i, b := range r.Bands {
		if len(b) != r.Width*r.Height {
			return fmt.Errorf("band %d has %d cells, want %d: %w", i+1, len(b), r.Width*r.Height, ErrInvalidFile)
		}
	}
	return nil
}

// Bounds returns the envelope of the four grid corners in CRS units.
func (r *Raster) Bounds() orb.Bound {
	w, h := float64(r.Width), float64(r.Height)
	corners := [4][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}}

	x, y := r.Transform.Apply(0, 0)
	b := orb.Bound{Min: orb.Point{x, y}, Max: orb.Point{x, y}}
	for _, c := range corners[1:] {
		x, y = r.Transform.Apply(c[0], c[1])
		b = b.Extend(orb.Point{x, y})
	}
	return b
}
