package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	StorePath string

	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string // empty disables sink publishing
	KafkaGroupID     string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	RecentActivityDays int
	MaxMapResults      int

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// LoggerLevel implements observability.LoggerConfig.
func (c *Config) LoggerLevel() string { return c.LogLevel }

// LoggerFormat implements observability.LoggerConfig.
func (c *Config) LoggerFormat() string { return c.LogFormat }

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	flushInterval, err := envDuration("BATCH_FLUSH_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := envDuration("MAPBOX_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	batchSize, err := envInt("BATCH_SIZE", 50)
	if err != nil {
		return nil, err
	}
	recentDays, err := envInt("RECENT_ACTIVITY_DAYS", 7)
	if err != nil {
		return nil, err
	}
	maxResults, err := envInt("MAX_MAP_RESULTS", 1000)
	if err != nil {
		return nil, err
	}
	mapboxCacheSize, err := envInt("MAPBOX_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		StorePath:          envOrDefault("STORE_PATH", "data/sightings.db"),
		KafkaBrokers:       splitBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   envOrDefault("KAFKA_SOURCE_TOPIC", "raw-sighting-reports"),
		KafkaSinkTopic:     os.Getenv("KAFKA_SINK_TOPIC"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "whale-map-etl"),
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		RecentActivityDays: recentDays,
		MaxMapResults:      maxResults,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: mapboxCacheSize,
	}

	if cfg.StorePath == "" {
		return nil, errors.New("STORE_PATH is required")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("BATCH_SIZE must be positive")
	}
	if cfg.RecentActivityDays <= 0 {
		return nil, errors.New("RECENT_ACTIVITY_DAYS must be positive")
	}
	if cfg.MaxMapResults <= 0 {
		return nil, errors.New("MAX_MAP_RESULTS must be positive")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
