package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/salishsea/whale-map-etl/internal/adapter/http"
	kafkaadapter "github.com/salishsea/whale-map-etl/internal/adapter/kafka"
	"github.com/salishsea/whale-map-etl/internal/adapter/mapbox"
	"github.com/salishsea/whale-map-etl/internal/config"
	"github.com/salishsea/whale-map-etl/internal/domain"
	"github.com/salishsea/whale-map-etl/internal/observability"
	"github.com/salishsea/whale-map-etl/internal/pipeline"
	"github.com/salishsea/whale-map-etl/internal/query"
	"github.com/salishsea/whale-map-etl/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	st, err := store.Open(cfg.StorePath, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.StorePath)
		os.Exit(1)
	}

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	transformer := pipeline.NewTransformer(geocoder, logger)

	// The sink topic is optional: without one the pipeline only writes the
	// store and the map cache.
	var publisher pipeline.Publisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaSinkTopic != "" {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
	}

	p := pipeline.New(reader, transformer, st, publisher, logger, metrics,
		cfg.BatchSize, cfg.RecentActivityDays)

	reads := query.New(st, logger, cfg.MaxMapResults)
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, reads, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ingestion pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := st.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
