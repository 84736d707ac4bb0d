package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/joho/godotenv"
)

// Config holds all pipeline settings, populated from environment variables.
type Config struct {
	DataDir   string
	PlaceName string
	TargetCRS domain.CRS
	DEMSource string

	LogLevel        string
	LogFormat       string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	// OpenStreetMap configuration.
	NominatimURL     string
	OverpassURL      string
	OSMTimeout       time.Duration
	OSMUserAgent     string
	GeocodeCacheTTL  time.Duration
	GeocodeCacheSize int

	// S3 configuration for s3:// inputs. Empty keys mean anonymous access.
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Manifest sinks; each is disabled when its setting is empty.
	KafkaBrokers       []string
	KafkaManifestTopic string
	CatalogDSN         string

	PushgatewayURL string
	MetricsJob     string

	RasterCompression string
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is loaded first when
// present; real environment variables take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	targetCRS, err := domain.ParseCRS(envOrDefault("TARGET_CRS", "EPSG:4326"))
	if err != nil {
		return nil, fmt.Errorf("invalid TARGET_CRS: %w", err)
	}

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	osmTimeout, err := parseDuration("OSM_TIMEOUT", "180s")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("GEOCODE_CACHE_TTL", "1h")
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("GEOCODE_CACHE_SIZE", 128)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:   envOrDefault("DATA_DIR", "data"),
		PlaceName: envOrDefault("PLACE_NAME", "Mumbai City, Maharashtra, India"),
		TargetCRS: targetCRS,
		DEMSource: envOrDefault("DEM_SOURCE", "SRTM"),

		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		ShutdownTimeout: shutdownTimeout,

		NominatimURL:     strings.TrimRight(envOrDefault("NOMINATIM_URL", "https://nominatim.openstreetmap.org"), "/"),
		OverpassURL:      envOrDefault("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
		OSMTimeout:       osmTimeout,
		OSMUserAgent:     envOrDefault("OSM_USER_AGENT", "geodata-etl/1.0"),
		GeocodeCacheTTL:  cacheTTL,
		GeocodeCacheSize: cacheSize,

		S3Region:          envOrDefault("S3_REGION", "us-west-2"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),

		KafkaBrokers:       parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaManifestTopic: envOrDefault("KAFKA_MANIFEST_TOPIC", "geodata-manifests"),
		CatalogDSN:         os.Getenv("CATALOG_DSN"),

		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
		MetricsJob:     envOrDefault("METRICS_JOB", "geodata-etl"),

		RasterCompression: envOrDefault("RASTER_COMPRESSION", "LZW"),
	}

	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	if (cfg.S3AccessKeyID == "") != (cfg.S3SecretAccessKey == "") {
		return nil, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaManifestTopic == "" {
		return nil, errors.New("KAFKA_MANIFEST_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
