package osm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/couchcryptid/geodata-etl/internal/observability"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
	testUserAgent     = "geodata-etl-test/1.0"
)

func testClient(baseURL string) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		nominatimURL: baseURL,
		overpassURL:  baseURL + "/api/interpreter",
		userAgent:    testUserAgent,
		timeout:      30 * time.Second,
		metrics:      observability.NewMetricsForTesting(),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

var mumbaiBounds = orb.Bound{Min: orb.Point{72.77, 18.89}, Max: orb.Point{72.99, 19.27}}

func TestClient_Geocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Mumbai, India", r.URL.Query().Get("q"))
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, testUserAgent, r.Header.Get("User-Agent"))

		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`[{
			"osm_type": "relation",
			"osm_id": 7888990,
			"lat": "19.0815772",
			"lon": "72.8866275",
			"display_name": "Mumbai, Maharashtra, India",
			"boundingbox": ["18.8928676", "19.2716339", "72.7758729", "72.9864994"]
		}]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	p, err := c.Geocode(context.Background(), "Mumbai, India")
	require.NoError(t, err)

	assert.Equal(t, "Mumbai, Maharashtra, India", p.Name)
	assert.InDelta(t, 19.0815772, p.Lat, 1e-9)
	assert.InDelta(t, 72.8866275, p.Lon, 1e-9)
	assert.Equal(t, int64(7888990), p.OSMID)
	assert.Equal(t, "relation", p.Type)
	assert.InDelta(t, 72.7758729, p.Bounds.Min.Lon(), 1e-9)
	assert.InDelta(t, 18.8928676, p.Bounds.Min.Lat(), 1e-9)
	assert.InDelta(t, 72.9864994, p.Bounds.Max.Lon(), 1e-9)
	assert.InDelta(t, 19.2716339, p.Bounds.Max.Lat(), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.OSMRequests.WithLabelValues("nominatim", "success")))
}

func TestClient_Geocode_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Geocode(context.Background(), "Atlantis")
	assert.True(t, errors.Is(err, domain.ErrRemoteFetch))
}

func TestClient_Geocode_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`rate limited`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Geocode(context.Background(), "Mumbai")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRemoteFetch))
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.OSMRequests.WithLabelValues("nominatim", "error")))
}

func TestClient_Geocode_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testClient(url).Geocode(context.Background(), "Mumbai")
	assert.True(t, errors.Is(err, domain.ErrRemoteFetch))
}

func TestClient_Fetch_Buildings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/interpreter", r.URL.Path)
		require.NoError(t, r.ParseForm())
		q := r.PostForm.Get("data")
		assert.Contains(t, q, "[out:json][timeout:30]")
		assert.Contains(t, q, `way["building"](18.89,72.77,19.27,72.99)`)
		assert.Contains(t, q, "out geom;")

		resp := overpassResponse{Elements: []element{
			{
				Type: "way", ID: 101,
				Tags: map[string]string{"building": "yes", "name": "Gateway"},
				Geometry: []latLon{
					{Lat: 18.92, Lon: 72.83}, {Lat: 18.92, Lon: 72.84},
					{Lat: 18.93, Lon: 72.84}, {Lat: 18.92, Lon: 72.83},
				},
			},
			// open building ways are dropped
			{
				Type: "way", ID: 102,
				Tags:     map[string]string{"building": "yes"},
				Geometry: []latLon{{Lat: 18.92, Lon: 72.83}, {Lat: 18.93, Lon: 72.84}},
			},
		}}
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	v, err := c.Fetch(context.Background(), Buildings, mumbaiBounds)
	require.NoError(t, err)

	assert.Equal(t, domain.WGS84, v.CRS)
	require.Len(t, v.Features, 1)
	f := v.Features[0]
	assert.Equal(t, "way/101", f.ID)
	assert.Equal(t, "Gateway", f.Properties["name"])
	assert.Equal(t, int64(101), f.Properties["osm_id"])
	assert.Equal(t, "way", f.Properties["osm_type"])
	poly, ok := f.Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.Equal(t, orb.Point{72.83, 18.92}, poly[0][0])
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.OSMFeatures.WithLabelValues("buildings")))
}

func TestClient_Fetch_Remark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"remark":"runtime error: Query timed out","elements":[]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Fetch(context.Background(), Roads, mumbaiBounds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRemoteFetch))
	assert.Contains(t, err.Error(), "timed out")
}

func TestClient_Fetch_EmptyIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"elements":[]}`))
	}))
	defer srv.Close()

	v, err := testClient(srv.URL).Fetch(context.Background(), Water, mumbaiBounds)
	require.NoError(t, err)
	assert.Empty(t, v.Features)
}

func TestLayer_String(t *testing.T) {
	assert.Equal(t, "buildings", Buildings.String())
	assert.Equal(t, "roads", Roads.String())
	assert.Equal(t, "water", Water.String())
	assert.Equal(t, "layer(9)", Layer(9).String())
}

func TestLayer_QueryRoadsUsesDriveFilter(t *testing.T) {
	q := Roads.Query(mumbaiBounds, 0)
	assert.Contains(t, q, "[timeout:180]")
	assert.Contains(t, q, `["highway"]`)
	assert.Contains(t, q, `["motorcar"!~"no"]`)
	assert.NotContains(t, q, "relation")
}

func TestLayer_WaterFeatures(t *testing.T) {
	elements := []element{
		{
			Type: "way", ID: 1,
			Tags: map[string]string{"waterway": "river", "name": "Mithi"},
			Geometry: []latLon{
				{Lat: 19.0, Lon: 72.8}, {Lat: 19.1, Lon: 72.9},
			},
		},
		{
			Type: "way", ID: 2,
			Tags: map[string]string{"natural": "water"},
			Geometry: []latLon{
				{Lat: 19.0, Lon: 72.8}, {Lat: 19.0, Lon: 72.9},
				{Lat: 19.1, Lon: 72.9}, {Lat: 19.0, Lon: 72.8},
			},
		},
		{Type: "node", ID: 3, Lat: 19.05, Lon: 72.85, Tags: map[string]string{"natural": "spring"}},
		{Type: "node", ID: 4, Lat: 19.05, Lon: 72.85},
	}

	v := Water.features(elements)
	require.Len(t, v.Features, 3)
	assert.IsType(t, orb.LineString{}, v.Features[0].Geometry)
	assert.IsType(t, orb.Polygon{}, v.Features[1].Geometry)
	assert.Equal(t, orb.Point{72.85, 19.05}, v.Features[2].Geometry)
}

func TestLayer_MultipolygonRelation(t *testing.T) {
	// Outer ring split across two ways, one inner ring.
	e := element{
		Type: "relation", ID: 900,
		Tags: map[string]string{"natural": "water", "type": "multipolygon"},
		Members: []member{
			{Type: "way", Ref: 1, Role: "outer", Geometry: []latLon{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 10}, {Lat: 10, Lon: 10}}},
			{Type: "way", Ref: 2, Role: "outer", Geometry: []latLon{{Lat: 0, Lon: 0}, {Lat: 10, Lon: 0}, {Lat: 10, Lon: 10}}},
			{Type: "way", Ref: 3, Role: "inner", Geometry: []latLon{{Lat: 2, Lon: 2}, {Lat: 2, Lon: 4}, {Lat: 4, Lon: 4}, {Lat: 2, Lon: 2}}},
			{Type: "node", Ref: 4, Role: "label"},
		},
	}

	v := Water.features([]element{e})
	require.Len(t, v.Features, 1)
	assert.Equal(t, "relation/900", v.Features[0].ID)
	poly, ok := v.Features[0].Geometry.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, poly, 2)
	assert.Len(t, poly[0], 5)
	assert.Equal(t, poly[0][0], poly[0][len(poly[0])-1])
}

func TestLayer_RelationWithoutRings(t *testing.T) {
	e := element{
		Type: "relation", ID: 7,
		Tags: map[string]string{"waterway": "river"},
		Members: []member{
			{Type: "way", Role: "main_stream", Geometry: []latLon{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}}},
			{Type: "way", Role: "main_stream", Geometry: []latLon{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 3}}},
		},
	}

	water := Water.features([]element{e})
	require.Len(t, water.Features, 1)
	assert.IsType(t, orb.MultiLineString{}, water.Features[0].Geometry)

	assert.Empty(t, Buildings.features([]element{e}).Features)
}

func TestClient_FetchLayer_UnknownName(t *testing.T) {
	_, err := testClient("http://127.0.0.1:1").FetchLayer(context.Background(), "railways", mumbaiBounds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "railways")
}

func TestParseLayer(t *testing.T) {
	for _, l := range Layers {
		got, err := ParseLayer(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
}
