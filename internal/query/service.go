// Package query serves map-ready reads: filtered sightings joined with the
// materialized map cache.
package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/salishsea/whale-map-etl/internal/domain"
)

// DefaultMaxResults caps a map query when the caller asks for no limit or an
// absurd one. Map clients render markers; thousands of rows help nobody.
const DefaultMaxResults = 1000

// Store is the read surface the query service needs.
type Store interface {
	QuerySightings(ctx context.Context, q domain.MapQuery) ([]domain.Sighting, error)
	LoadSnapshot(ctx context.Context) (domain.MapCacheSnapshot, int64, bool, error)
	ImportStatus(ctx context.Context) (domain.ImportStatus, bool, error)
}

// Service answers read queries from the store and the materialized cache.
type Service struct {
	store      Store
	logger     *slog.Logger
	maxResults int
}

// New creates a Service. maxResults <= 0 falls back to DefaultMaxResults.
func New(store Store, logger *slog.Logger, maxResults int) *Service {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Service{store: store, logger: logger, maxResults: maxResults}
}

// ForMap returns the sightings matching q plus the cached hotspots and
// bounds. When no snapshot has been materialized yet (fresh store), the
// derivates are computed from the queried rows instead so the first read
// still renders a usable map.
func (s *Service) ForMap(ctx context.Context, q domain.MapQuery) (domain.MapView, error) {
	if q.Limit <= 0 || q.Limit > s.maxResults {
		q.Limit = s.maxResults
	}

	sightings, err := s.store.QuerySightings(ctx, q)
	if err != nil {
		return domain.MapView{}, fmt.Errorf("query sightings: %w", err)
	}

	snap, _, found, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return domain.MapView{}, fmt.Errorf("load map cache: %w", err)
	}

	view := domain.MapView{Sightings: sightings}
	if found {
		view.Hotspots = snap.Hotspots
		view.Bounds = snap.Bounds
		view.LastUpdated = snap.LastUpdated
	} else {
		s.logger.Debug("no map cache yet, deriving from query results", "count", len(sightings))
		view.Hotspots = domain.AggregateHotspots(sightings)
		view.Bounds = domain.ComputeBounds(sightings)
	}
	return view, nil
}

// Snapshot returns the full materialized cache. found is false when no sync
// has completed against this store yet.
func (s *Service) Snapshot(ctx context.Context) (domain.MapCacheSnapshot, bool, error) {
	snap, _, found, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return domain.MapCacheSnapshot{}, false, fmt.Errorf("load map cache: %w", err)
	}
	return snap, found, nil
}

// LatestImport returns the most recent import status record.
func (s *Service) LatestImport(ctx context.Context) (domain.ImportStatus, bool, error) {
	status, found, err := s.store.ImportStatus(ctx)
	if err != nil {
		return domain.ImportStatus{}, false, fmt.Errorf("load import status: %w", err)
	}
	return status, found, nil
}
