package query_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salishsea/whale-map-etl/internal/domain"
	"github.com/salishsea/whale-map-etl/internal/query"
	"github.com/salishsea/whale-map-etl/internal/store"
)

type mockStore struct {
	sightings []domain.Sighting
	lastQuery domain.MapQuery
	queryErr  error

	snapshot    domain.MapCacheSnapshot
	hasSnapshot bool
	snapshotErr error

	status    domain.ImportStatus
	hasStatus bool
}

func (m *mockStore) QuerySightings(_ context.Context, q domain.MapQuery) ([]domain.Sighting, error) {
	m.lastQuery = q
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.sightings, nil
}

func (m *mockStore) LoadSnapshot(_ context.Context) (domain.MapCacheSnapshot, int64, bool, error) {
	if m.snapshotErr != nil {
		return domain.MapCacheSnapshot{}, 0, false, m.snapshotErr
	}
	return m.snapshot, 3, m.hasSnapshot, nil
}

func (m *mockStore) ImportStatus(_ context.Context) (domain.ImportStatus, bool, error) {
	return m.status, m.hasStatus, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func coords(lat, lng float64) *domain.Coordinates {
	return &domain.Coordinates{Lat: lat, Lng: lng}
}

func TestForMap_UsesCachedDerivates(t *testing.T) {
	updated := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	st := &mockStore{
		sightings: []domain.Sighting{{ID: "a-1", Source: "hydrophone"}},
		snapshot: domain.MapCacheSnapshot{
			LastUpdated: updated,
			Hotspots:    []domain.HotspotSummary{{Name: "Lime Kiln", Count: 4}},
			Bounds:      domain.Bounds{North: 49.0, South: 48.0, East: -122.5, West: -123.5},
		},
		hasSnapshot: true,
	}
	svc := query.New(st, discardLogger(), 0)

	view, err := svc.ForMap(context.Background(), domain.MapQuery{})
	require.NoError(t, err)

	assert.Len(t, view.Sightings, 1)
	require.Len(t, view.Hotspots, 1)
	assert.Equal(t, "Lime Kiln", view.Hotspots[0].Name)
	assert.Equal(t, 49.0, view.Bounds.North)
	assert.Equal(t, updated, view.LastUpdated)
}

func TestForMap_FallsBackWhenNoSnapshot(t *testing.T) {
	st := &mockStore{
		sightings: []domain.Sighting{
			{ID: "a-1", LocationLabel: strPtr("Lime Kiln"), Coordinates: coords(48.5, -123.1), Source: "hydrophone"},
			{ID: "b-2", LocationLabel: strPtr("Lime Kiln"), Coordinates: coords(48.6, -123.0), Source: "citizen"},
		},
	}
	svc := query.New(st, discardLogger(), 0)

	view, err := svc.ForMap(context.Background(), domain.MapQuery{})
	require.NoError(t, err)

	require.Len(t, view.Hotspots, 1)
	assert.Equal(t, 2, view.Hotspots[0].Count)
	assert.Equal(t, 48.6, view.Bounds.North)
	assert.Equal(t, -123.0, view.Bounds.East)
	assert.True(t, view.LastUpdated.IsZero())
}

func TestForMap_ClampsLimit(t *testing.T) {
	st := &mockStore{}
	svc := query.New(st, discardLogger(), 100)

	for _, tc := range []struct {
		name   string
		limit  int
		expect int
	}{
		{"zero defaults to max", 0, 100},
		{"negative defaults to max", -5, 100},
		{"over max is clamped", 5000, 100},
		{"within max passes through", 25, 25},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ForMap(context.Background(), domain.MapQuery{Limit: tc.limit})
			require.NoError(t, err)
			assert.Equal(t, tc.expect, st.lastQuery.Limit)
		})
	}
}

func TestForMap_PropagatesStoreErrors(t *testing.T) {
	st := &mockStore{queryErr: store.ErrStoreUnavailable}
	svc := query.New(st, discardLogger(), 0)

	_, err := svc.ForMap(context.Background(), domain.MapQuery{})
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestLatestImport(t *testing.T) {
	st := &mockStore{
		status:    domain.ImportStatus{SyncedCount: 12, DataVersion: "sync-20240610T120000.000000000"},
		hasStatus: true,
	}
	svc := query.New(st, discardLogger(), 0)

	status, found, err := svc.LatestImport(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 12, status.SyncedCount)
}

func strPtr(s string) *string { return &s }
