// Package osm fetches OpenStreetMap data: place geocoding through Nominatim
// and building, road and water layers through the Overpass API.
package osm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/couchcryptid/geodata-etl/internal/observability"
	"github.com/paulmach/orb"
)

// Client implements domain.Geocoder with Nominatim and fetches vector
// layers from Overpass.
type Client struct {
	httpClient   *http.Client
	nominatimURL string
	overpassURL  string
	userAgent    string
	timeout      time.Duration
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewClient creates an OSM client. timeout bounds each HTTP request and is
// also passed to Overpass as the server-side query timeout.
func NewClient(nominatimURL, overpassURL, userAgent string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		nominatimURL: strings.TrimRight(nominatimURL, "/"),
		overpassURL:  overpassURL,
		userAgent:    userAgent,
		timeout:      timeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Geocode resolves a place name to its centre and bounding box.
func (c *Client) Geocode(ctx context.Context, query string) (domain.Place, error) {
	params := url.Values{
		"q":      {query},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nominatimURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return domain.Place{}, fmt.Errorf("create request: %w", err)
	}

	var results []nominatimResult
	if err := c.do(req, "nominatim", &results); err != nil {
		return domain.Place{}, err
	}
	if len(results) == 0 {
		c.metrics.OSMRequests.WithLabelValues("nominatim", "empty").Inc()
		return domain.Place{}, fmt.Errorf("geocode %q: no results: %w", query, domain.ErrRemoteFetch)
	}
	c.metrics.OSMRequests.WithLabelValues("nominatim", "success").Inc()

	place, err := results[0].place()
	if err != nil {
		return domain.Place{}, fmt.Errorf("geocode %q: %v: %w", query, err, domain.ErrRemoteFetch)
	}
	c.logger.Debug("place geocoded", "query", query, "name", place.Name, "lat", place.Lat, "lon", place.Lon)
	return place, nil
}

// Fetch runs the Overpass query for layer over bounds (lon/lat) and
// returns the matching features in EPSG:4326.
func (c *Client) Fetch(ctx context.Context, layer Layer, bounds orb.Bound) (*domain.Vector, error) {
	q := layer.Query(bounds, c.timeout)
	form := url.Values{"data": {q}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.overpassURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp overpassResponse
	if err := c.do(req, "overpass", &resp); err != nil {
		return nil, err
	}
	if resp.Remark != "" && len(resp.Elements) == 0 {
		c.metrics.OSMRequests.WithLabelValues("overpass", "error").Inc()
		return nil, fmt.Errorf("overpass %s: %s: %w", layer, resp.Remark, domain.ErrRemoteFetch)
	}

	v := layer.features(resp.Elements)
	if len(v.Features) == 0 {
		c.metrics.OSMRequests.WithLabelValues("overpass", "empty").Inc()
	} else {
		c.metrics.OSMRequests.WithLabelValues("overpass", "success").Inc()
	}
	c.metrics.OSMFeatures.WithLabelValues(layer.String()).Add(float64(len(v.Features)))
	c.logger.Info("osm layer fetched", "layer", layer.String(), "elements", len(resp.Elements), "features", len(v.Features))
	return v, nil
}

// FetchLayer is Fetch keyed by layer name.
func (c *Client) FetchLayer(ctx context.Context, name string, bounds orb.Bound) (*domain.Vector, error) {
	layer, err := ParseLayer(name)
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, layer, bounds)
}

func (c *Client) do(req *http.Request, api string, into any) error {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.OSMAPIDuration.WithLabelValues(api).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.OSMRequests.WithLabelValues(api, "error").Inc()
		return fmt.Errorf("%s request: %v: %w", api, err, domain.ErrRemoteFetch)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.OSMRequests.WithLabelValues(api, "error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s API error: status %d: %s: %w", api, resp.StatusCode, body, domain.ErrRemoteFetch)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		c.metrics.OSMRequests.WithLabelValues(api, "error").Inc()
		return fmt.Errorf("decode %s response: %v: %w", api, err, domain.ErrRemoteFetch)
	}
	return nil
}

// Nominatim API response types.

type nominatimResult struct {
	OSMType     string   `json:"osm_type"`
	OSMID       int64    `json:"osm_id"`
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	DisplayName string   `json:"display_name"`
	BoundingBox []string `json:"boundingbox"` // [south, north, west, east]
}

func (r nominatimResult) place() (domain.Place, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return domain.Place{}, fmt.Errorf("lat %q: %w", r.Lat, err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return domain.Place{}, fmt.Errorf("lon %q: %w", r.Lon, err)
	}

	p := domain.Place{
		Name:   r.DisplayName,
		Lat:    lat,
		Lon:    lon,
		OSMID:  r.OSMID,
		Type:   r.OSMType,
		Bounds: orb.Bound{Min: orb.Point{lon, lat}, Max: orb.Point{lon, lat}},
	}
	if len(r.BoundingBox) == 4 {
		var bb [4]float64
		for i, s := range r.BoundingBox {
			if bb[i], err = strconv.ParseFloat(s, 64); err != nil {
				return domain.Place{}, fmt.Errorf("bounding box %q: %w", s, err)
			}
		}
		p.Bounds = orb.Bound{Min: orb.Point{bb[2], bb[0]}, Max: orb.Point{bb[3], bb[1]}}
	}
	return p, nil
}

// Overpass API response types.

type overpassResponse struct {
	Remark   string    `json:"remark"`
	Elements []element `json:"elements"`
}

type element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Tags     map[string]string `json:"tags"`
	Geometry []latLon          `json:"geometry"`
	Members  []member          `json:"members"`
}

type member struct {
	Type     string   `json:"type"`
	Ref      int64    `json:"ref"`
	Role     string   `json:"role"`
	Geometry []latLon `json:"geometry"`
}

type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
