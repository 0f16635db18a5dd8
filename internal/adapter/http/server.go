// Package http exposes the service's HTTP surface: health and metrics plus
// the map read API and the manual sync trigger.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/salishsea/whale-map-etl/internal/domain"
)

// maxSyncBodyBytes bounds a manual sync payload. The Kafka path handles bulk
// ingestion; the HTTP trigger exists for backfills and ops pokes.
const maxSyncBodyBytes = 8 << 20

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Syncer ingests a batch of raw records on demand.
type Syncer interface {
	Sync(ctx context.Context, rawBatch []domain.RawRecord) (domain.SyncResult, error)
}

// MapReader answers read queries for the map API.
type MapReader interface {
	ForMap(ctx context.Context, q domain.MapQuery) (domain.MapView, error)
	LatestImport(ctx context.Context) (domain.ImportStatus, bool, error)
}

// Server exposes health, readiness, metrics, and the map API.
type Server struct {
	httpServer *http.Server
	syncer     Syncer
	reader     MapReader
	logger     *slog.Logger
}

// NewServer wires the route table. syncer may be nil to disable the manual
// sync trigger (read-only deployments).
func NewServer(addr string, ready ReadinessChecker, syncer Syncer, reader MapReader, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		syncer: syncer,
		reader: reader,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/map", s.handleMap)
	mux.HandleFunc("GET /api/v1/import-status", s.handleImportStatus)
	mux.HandleFunc("POST /api/v1/sync", s.handleSync)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// handleMap serves GET /api/v1/map. All query parameters are optional:
// from/to (RFC 3339), north/south/east/west (all four or none), limit.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	q, err := parseMapQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	view, err := s.reader.ForMap(r.Context(), q)
	if err != nil {
		s.logger.Error("map query failed", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("map query failed"))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	status, found, err := s.reader.LatestImport(r.Context())
	if err != nil {
		s.logger.Error("import status read failed", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("import status read failed"))
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("no import has run yet"))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSync serves POST /api/v1/sync: a JSON array of raw sighting reports
// ingested through the same pipeline as the Kafka feed.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("manual sync is disabled"))
		return
	}

	var payloads []json.RawMessage
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSyncBodyBytes))
	if err := dec.Decode(&payloads); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("request body must be a JSON array: %w", err))
		return
	}
	if len(payloads) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("empty batch"))
		return
	}

	now := time.Now().UTC()
	rawBatch := make([]domain.RawRecord, len(payloads))
	for i, p := range payloads {
		rawBatch[i] = domain.RawRecord{
			Value:     p,
			Topic:     "http",
			Timestamp: now,
		}
	}

	result, err := s.syncer.Sync(r.Context(), rawBatch)
	if err != nil {
		s.logger.Error("manual sync failed", "error", err, "batch_size", len(rawBatch))
		writeError(w, http.StatusInternalServerError, fmt.Errorf("sync failed"))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseMapQuery(r *http.Request) (domain.MapQuery, error) {
	var q domain.MapQuery
	params := r.URL.Query()

	from, hasFrom, err := parseTimeParam(params.Get("from"))
	if err != nil {
		return q, fmt.Errorf("invalid from: %w", err)
	}
	to, hasTo, err := parseTimeParam(params.Get("to"))
	if err != nil {
		return q, fmt.Errorf("invalid to: %w", err)
	}
	if hasFrom || hasTo {
		if hasFrom && hasTo && to.Before(from) {
			return q, fmt.Errorf("to precedes from")
		}
		q.TimeRange = &domain.TimeRange{Start: from, End: to}
	}

	bounds, err := parseBoundsParams(params)
	if err != nil {
		return q, err
	}
	q.Bounds = bounds

	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return q, fmt.Errorf("invalid limit %q", raw)
		}
		q.Limit = limit
	}
	return q, nil
}

func parseTimeParam(raw string) (time.Time, bool, error) {
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// parseBoundsParams requires all four edges or none.
func parseBoundsParams(params map[string][]string) (*domain.Bounds, error) {
	keys := []string{"north", "south", "east", "west"}
	values := make(map[string]float64, len(keys))
	present := 0
	for _, k := range keys {
		raw := ""
		if vs := params[k]; len(vs) > 0 {
			raw = vs[0]
		}
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", k, raw)
		}
		values[k] = v
		present++
	}
	if present == 0 {
		return nil, nil
	}
	if present != len(keys) {
		return nil, fmt.Errorf("bounds require north, south, east, and west together")
	}
	if values["north"] < values["south"] {
		return nil, fmt.Errorf("north edge below south edge")
	}
	return &domain.Bounds{
		North: values["north"],
		South: values["south"],
		East:  values["east"],
		West:  values["west"],
	}, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response write
}
