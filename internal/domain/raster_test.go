package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeoTransform_InvertRoundTrip(t *testing.T) {
	gt := GeoTransform{72.75, 0.001, 0.0002, 19.25, 0.0001, -0.001}
	inv, err := gt.Invert()
	require.NoError(t, err)

	for _, cell := range [][2]float64{{0, 0}, {10.5, 3.25}, {500, 499}} {
		x, y := gt.Apply(cell[0], cell[1])
		col, row := inv.Apply(x, y)
		assert.InDelta(t, cell[0], col, 1e-9)
		assert.InDelta(t, cell[1], row, 1e-9)
	}
}

func TestGeoTransform_InvertSingular(t *testing.T) {
	_, err := GeoTransform{0, 0, 0, 0, 0, 0}.Invert()
	assert.True(t, errors.Is(err, ErrInvalidFile))
}

func TestRaster_Bounds(t *testing.T) {
	r := NewRaster(4, 2, 1)
	r.Transform = GeoTransform{100, 10, 0, 50, 0, -5}

	b := r.Bounds()
	assert.Equal(t, orb.Bound{Min: orb.Point{100, 40}, Max: orb.Point{140, 50}}, b)
}

func TestRaster_NoData(t *testing.T) {
	r := NewRaster(1, 1, 1)
	assert.False(t, r.IsNoData(0))
	assert.Equal(t, 0.0, r.Fill())

	nd := -9999.0
	r.NoData = &nd
	assert.True(t, r.IsNoData(-9999))
	assert.Equal(t, -9999.0, r.Fill())

	nan := math.NaN()
	r.NoData = &nan
	assert.True(t, r.IsNoData(math.NaN()))
	assert.False(t, r.IsNoData(1))
}

func TestRaster_Validate(t *testing.T) {
	r := NewRaster(3, 2, 2)
	require.NoError(t, r.Validate())
	assert.Equal(t, 0.0, r.At(1, 2, 1))

	r.Bands[1] = r.Bands[1][:5]
	assert.True(t, errors.Is(r.Validate(), ErrInvalidFile))

	assert.True(t, errors.Is(NewRaster(0, 2, 1).Validate(), ErrEmptyDataset))
	assert.True(t, errors.Is(NewRaster(2, 2, 0).Validate(), ErrEmptyDataset))
}
