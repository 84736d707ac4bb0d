//go:build gdal

package gdal

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/couchcryptid/geodata-etl/internal/reproject"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjector_UTMForward(t *testing.T) {
	p := NewProjector()
	defer p.Close()

	fwd, err := p.Transformer(domain.WGS84, 32643)
	require.NoError(t, err)

	e, n, err := fwd(72.8777, 19.0760)
	require.NoError(t, err)
	assert.InDelta(t, 276689.328, e, 0.01)
	assert.InDelta(t, 2110588.839, n, 0.01)
}

func TestProjector_RoundTrip(t *testing.T) {
	p := NewProjector()
	defer p.Close()

	fwd, err := p.Transformer(domain.WGS84, 32734)
	require.NoError(t, err)
	inv, err := p.Transformer(32734, domain.WGS84)
	require.NoError(t, err)

	e, n, err := fwd(18.4241, -33.9249)
	require.NoError(t, err)
	assert.Greater(t, n, 6e6, "southern hemisphere false northing")

	lon, lat, err := inv(e, n)
	require.NoError(t, err)
	assert.InDelta(t, 18.4241, lon, 1e-9)
	assert.InDelta(t, -33.9249, lat, 1e-9)
}

func TestProjector_CachesTransforms(t *testing.T) {
	p := NewProjector()
	defer p.Close()

	_, err := p.Transformer(domain.WGS84, 32643)
	require.NoError(t, err)
	_, err = p.Transformer(domain.WGS84, 32643)
	require.NoError(t, err)
	assert.Len(t, p.transforms, 1)
	assert.Len(t, p.refs, 2)

	require.NoError(t, p.Close())
	assert.Empty(t, p.transforms)
}

func TestProjector_Errors(t *testing.T) {
	p := NewProjector()
	defer p.Close()

	_, err := p.Transformer(0, domain.WGS84)
	assert.True(t, errors.Is(err, domain.ErrMissingCRS))

	_, err = p.Transformer(domain.WGS84, 999999)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedCRS))
}

func TestProjector_VectorRoundTripIsExact(t *testing.T) {
	p := NewProjector()
	defer p.Close()
	n := reproject.NewNormalizer(p, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ring := orb.Ring{{72.82, 18.93}, {72.83, 18.93}, {72.83, 18.94}, {72.82, 18.94}, {72.82, 18.93}}
	src := &domain.Vector{CRS: domain.WGS84, Features: []*geojson.Feature{geojson.NewFeature(orb.Polygon{ring})}}

	utm, _, err := n.Vector(src, 32643)
	require.NoError(t, err)
	back, _, err := n.Vector(utm, domain.WGS84)
	require.NoError(t, err)

	got := back.Features[0].Geometry.(orb.Polygon)[0]
	require.Len(t, got, len(ring))
	for i := range ring {
		assert.InDelta(t, ring[i][0], got[i][0], 1e-9)
		assert.InDelta(t, ring[i][1], got[i][1], 1e-9)
	}
}
