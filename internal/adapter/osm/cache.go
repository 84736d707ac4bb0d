package osm

import (
	"context"
	"strings"
	"time"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/couchcryptid/geodata-etl/internal/observability"
	"github.com/jellydator/ttlcache/v3"
)

// CachedGeocoder wraps a Geocoder with a bounded in-memory TTL cache.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *ttlcache.Cache[string, domain.Place]
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder. Entries
// expire after ttl; at most maxEntries are kept.
func NewCachedGeocoder(inner domain.Geocoder, ttl time.Duration, maxEntries int, metrics *observability.Metrics) *CachedGeocoder {
	opts := []ttlcache.Option[string, domain.Place]{ttlcache.WithTTL[string, domain.Place](ttl)}
	if maxEntries > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, domain.Place](uint64(maxEntries)))
	}
	return &CachedGeocoder{
		inner:   inner,
		cache:   ttlcache.New(opts...),
		metrics: metrics,
	}
}

func (c *CachedGeocoder) Geocode(ctx context.Context, query string) (domain.Place, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if item := c.cache.Get(key); item != nil {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return item.Value(), nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	place, err := c.inner.Geocode(ctx, query)
	if err != nil {
		return place, err
	}
	// Only cache resolved places so a transient empty answer is retried.
	if place.Name != "" {
		c.cache.Set(key, place, ttlcache.DefaultTTL)
	}
	return place, nil
}

// Len reports the number of cached places.
func (c *CachedGeocoder) Len() int {
	return c.cache.Len()
}
