package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks variables a developer machine or CI runner may export.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "KAFKA_BROKERS", "CATALOG_DSN",
		"PUSHGATEWAY_URL", "HTTP_ADDR", "S3_ENDPOINT", "TARGET_CRS", "DATA_DIR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "Mumbai City, Maharashtra, India", cfg.PlaceName)
	assert.Equal(t, domain.WGS84, cfg.TargetCRS)
	assert.Equal(t, "SRTM", cfg.DEMSource)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.NominatimURL)
	assert.Equal(t, "https://overpass-api.de/api/interpreter", cfg.OverpassURL)
	assert.Equal(t, 180*time.Second, cfg.OSMTimeout)
	assert.Equal(t, "geodata-etl/1.0", cfg.OSMUserAgent)
	assert.Equal(t, time.Hour, cfg.GeocodeCacheTTL)
	assert.Equal(t, 128, cfg.GeocodeCacheSize)
	assert.Equal(t, "us-west-2", cfg.S3Region)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "geodata-manifests", cfg.KafkaManifestTopic)
	assert.Empty(t, cfg.CatalogDSN)
	assert.Equal(t, "geodata-etl", cfg.MetricsJob)
	assert.Equal(t, "LZW", cfg.RasterCompression)
}

func TestLoad_CustomEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/srv/geodata")
	t.Setenv("PLACE_NAME", "Cape Town, South Africa")
	t.Setenv("TARGET_CRS", "urn:ogc:def:crs:EPSG::3857")
	t.Setenv("DEM_SOURCE", "Copernicus")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("NOMINATIM_URL", "http://nominatim.local/")
	t.Setenv("OSM_TIMEOUT", "30s")
	t.Setenv("GEOCODE_CACHE_TTL", "5m")
	t.Setenv("GEOCODE_CACHE_SIZE", "16")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("CATALOG_DSN", "file:catalog.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/geodata", cfg.DataDir)
	assert.Equal(t, "Cape Town, South Africa", cfg.PlaceName)
	assert.Equal(t, domain.CRS(3857), cfg.TargetCRS)
	assert.Equal(t, "Copernicus", cfg.DEMSource)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "http://nominatim.local", cfg.NominatimURL)
	assert.Equal(t, 30*time.Second, cfg.OSMTimeout)
	assert.Equal(t, 5*time.Minute, cfg.GeocodeCacheTTL)
	assert.Equal(t, 16, cfg.GeocodeCacheSize)
	assert.Equal(t, "AKIA", cfg.S3AccessKeyID)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "file:catalog.db", cfg.CatalogDSN)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value, msg string
	}{
		{"TARGET_CRS", "ESRI:102003", "invalid TARGET_CRS"},
		{"OSM_TIMEOUT", "soon", "invalid OSM_TIMEOUT"},
		{"SHUTDOWN_TIMEOUT", "-1s", "invalid SHUTDOWN_TIMEOUT"},
		{"GEOCODE_CACHE_TTL", "0s", "invalid GEOCODE_CACHE_TTL"},
		{"GEOCODE_CACHE_SIZE", "zero", "invalid GEOCODE_CACHE_SIZE"},
		{"AWS_ACCESS_KEY_ID", "AKIA", "must be set together"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides a variable that exists, even when empty.
	t.Setenv("PLACE_NAME", "")
	require.NoError(t, os.Unsetenv("PLACE_NAME"))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PLACE_NAME=Pune, India\n"), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Pune, India", cfg.PlaceName)
}
