// Package store persists sighting documents and the materialized map cache
// in an embedded sqlite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/salishsea/whale-map-etl/internal/domain"
)

var (
	// ErrStoreUnavailable wraps connectivity failures. Sync cycles treat it
	// as fatal; there is no degraded mode inside the pipeline.
	ErrStoreUnavailable = errors.New("sighting store unavailable")

	// ErrSnapshotConflict is returned when a concurrent sync committed a
	// newer map cache snapshot between this sync's read and write.
	ErrSnapshotConflict = errors.New("map cache snapshot superseded by a newer version")
)

const (
	// snapshotKey is the fixed key of the single map cache row.
	snapshotKey = "current"

	// metadataKey is the fixed key of the sync metadata sentinel row.
	metadataKey = "_metadata"

	// importStatusKey is the fixed key of the latest-import status row.
	importStatusKey = "latest"

	// batchChunkSize bounds the rows written per transaction. Each chunk
	// commits independently and atomically.
	batchChunkSize = 500
)

const schema = `
CREATE TABLE IF NOT EXISTS sightings (
	id                TEXT PRIMARY KEY,
	ts                INTEGER NOT NULL,
	location_label    TEXT,
	lat               REAL,
	lng               REAL,
	group_size        INTEGER,
	behavior          TEXT,
	confidence        REAL,
	source            TEXT NOT NULL,
	source_type       TEXT NOT NULL DEFAULT '',
	geo_bucket        TEXT,
	time_slot         TEXT NOT NULL,
	behavior_category TEXT NOT NULL,
	confidence_level  TEXT NOT NULL,
	search_tags       TEXT NOT NULL DEFAULT '[]',
	synced_at         INTEGER NOT NULL,
	data_version      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sightings_ts ON sightings(ts DESC);
CREATE INDEX IF NOT EXISTS idx_sightings_geo_bucket ON sightings(geo_bucket);
CREATE INDEX IF NOT EXISTS idx_sightings_coords ON sightings(lat, lng);

CREATE TABLE IF NOT EXISTS sync_metadata (
	k          TEXT PRIMARY KEY,
	last_sync  INTEGER NOT NULL,
	batch_size INTEGER NOT NULL,
	sources    TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS map_cache (
	k          TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	payload    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS import_status (
	k          TEXT PRIMARY KEY,
	updated_at INTEGER NOT NULL,
	payload    TEXT NOT NULL
);
`

// Store is the sqlite-backed sighting store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the sqlite database at path and applies the
// schema. Connectivity failures are wrapped in ErrStoreUnavailable.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	// WAL lets map queries read concurrently with sync writes.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("sighting store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity, wrapping failures in ErrStoreUnavailable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// UpsertBatch writes the sightings in chunks of batchChunkSize, each chunk a
// single transaction: a chunk either commits whole or not at all. Writes are
// field-level merges keyed by sighting id — fields the incoming record never
// supplied keep their stored values. The sync metadata sentinel is updated in
// the final chunk's transaction.
func (s *Store) UpsertBatch(ctx context.Context, sightings []domain.Sighting, meta domain.SyncMetadata) error {
	if len(sightings) == 0 {
		return s.writeMetadataTx(ctx, meta)
	}

	for start := 0; start < len(sightings); start += batchChunkSize {
		end := min(start+batchChunkSize, len(sightings))
		lastChunk := end == len(sightings)

		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for i := start; i < end; i++ {
				if err := upsertSighting(ctx, tx, &sightings[i]); err != nil {
					return fmt.Errorf("upsert sighting %s: %w", sightings[i].ID, err)
				}
			}
			if lastChunk {
				return upsertMetadata(ctx, tx, meta)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const upsertSightingSQL = `
INSERT INTO sightings (
	id, ts, location_label, lat, lng, group_size, behavior, confidence,
	source, source_type, geo_bucket, time_slot, behavior_category,
	confidence_level, search_tags, synced_at, data_version
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	ts                = excluded.ts,
	location_label    = COALESCE(excluded.location_label, location_label),
	lat               = COALESCE(excluded.lat, lat),
	lng               = COALESCE(excluded.lng, lng),
	group_size        = COALESCE(excluded.group_size, group_size),
	behavior          = COALESCE(excluded.behavior, behavior),
	confidence        = COALESCE(excluded.confidence, confidence),
	source            = excluded.source,
	source_type       = CASE WHEN excluded.source_type <> '' THEN excluded.source_type ELSE source_type END,
	geo_bucket        = COALESCE(excluded.geo_bucket, geo_bucket),
	time_slot         = excluded.time_slot,
	behavior_category = CASE WHEN excluded.behavior IS NOT NULL THEN excluded.behavior_category ELSE behavior_category END,
	confidence_level  = CASE WHEN excluded.confidence IS NOT NULL THEN excluded.confidence_level ELSE confidence_level END,
	search_tags       = excluded.search_tags,
	synced_at         = excluded.synced_at,
	data_version      = excluded.data_version
`

func upsertSighting(ctx context.Context, tx *sql.Tx, sighting *domain.Sighting) error {
	var lat, lng any
	if sighting.Coordinates != nil {
		lat, lng = sighting.Coordinates.Lat, sighting.Coordinates.Lng
	}

	tags, err := json.Marshal(sightingTags(sighting))
	if err != nil {
		return fmt.Errorf("marshal search tags: %w", err)
	}

	_, err = tx.ExecContext(ctx, upsertSightingSQL,
		sighting.ID,
		sighting.Timestamp.UTC().UnixNano(),
		nullableString(sighting.LocationLabel),
		lat,
		lng,
		nullableInt(sighting.GroupSize),
		nullableString(sighting.Behavior),
		nullableFloat(sighting.Confidence),
		sighting.Source,
		sighting.SourceType,
		nullableString(sighting.GeoBucket),
		string(sighting.TimeSlot),
		string(sighting.BehaviorCategory),
		string(sighting.ConfidenceLevel),
		string(tags),
		sighting.SyncedAt.UTC().UnixNano(),
		sighting.DataVersion,
	)
	return err
}

func upsertMetadata(ctx context.Context, tx *sql.Tx, meta domain.SyncMetadata) error {
	sources, err := json.Marshal(meta.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_metadata (k, last_sync, batch_size, sources)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(k) DO UPDATE SET
			last_sync  = excluded.last_sync,
			batch_size = excluded.batch_size,
			sources    = excluded.sources`,
		metadataKey, meta.LastSync.UTC().UnixNano(), meta.BatchSize, string(sources),
	)
	return err
}

func (s *Store) writeMetadataTx(ctx context.Context, meta domain.SyncMetadata) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertMetadata(ctx, tx, meta)
	})
}

// Metadata returns the sync sentinel, reporting false when no sync has run.
func (s *Store) Metadata(ctx context.Context) (domain.SyncMetadata, bool, error) {
	var (
		lastSync  int64
		batchSize int
		sourcesJS string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync, batch_size, sources FROM sync_metadata WHERE k = ?`, metadataKey,
	).Scan(&lastSync, &batchSize, &sourcesJS)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SyncMetadata{}, false, nil
	}
	if err != nil {
		return domain.SyncMetadata{}, false, fmt.Errorf("read sync metadata: %w", err)
	}

	meta := domain.SyncMetadata{
		LastSync:  time.Unix(0, lastSync).UTC(),
		BatchSize: batchSize,
	}
	if err := json.Unmarshal([]byte(sourcesJS), &meta.Sources); err != nil {
		return domain.SyncMetadata{}, false, fmt.Errorf("decode sources: %w", err)
	}
	return meta, true, nil
}

// AllSightings returns every stored sighting, oldest first. The materializer
// scans this to rebuild the snapshot.
func (s *Store) AllSightings(ctx context.Context) ([]domain.Sighting, error) {
	rows, err := s.db.QueryContext(ctx, selectSightingSQL+` ORDER BY ts ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sightings: %w", err)
	}
	defer rows.Close()
	return scanSightings(rows)
}

// QuerySightings returns sightings newest first, filtered by the optional
// inclusive time range and bounding box, capped at q.Limit.
func (s *Store) QuerySightings(ctx context.Context, q domain.MapQuery) ([]domain.Sighting, error) {
	query := selectSightingSQL
	var conditions []string
	var args []any

	// Each edge is optional: a zero Start or End leaves that side open.
	if q.TimeRange != nil {
		if !q.TimeRange.Start.IsZero() {
			conditions = append(conditions, "ts >= ?")
			args = append(args, q.TimeRange.Start.UTC().UnixNano())
		}
		if !q.TimeRange.End.IsZero() {
			conditions = append(conditions, "ts <= ?")
			args = append(args, q.TimeRange.End.UTC().UnixNano())
		}
	}
	if q.Bounds != nil {
		conditions = append(conditions,
			"lat IS NOT NULL", "lat >= ?", "lat <= ?", "lng >= ?", "lng <= ?")
		args = append(args, q.Bounds.South, q.Bounds.North, q.Bounds.West, q.Bounds.East)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY ts DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sightings: %w", err)
	}
	defer rows.Close()
	return scanSightings(rows)
}

// SightingCount returns the number of stored sighting documents.
func (s *Store) SightingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sightings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sightings: %w", err)
	}
	return n, nil
}

// SnapshotVersion returns the version of the stored snapshot, 0 when none.
func (s *Store) SnapshotVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM map_cache WHERE k = ?`, snapshotKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read snapshot version: %w", err)
	}
	return v, nil
}

// SaveSnapshot atomically replaces the map cache snapshot, but only if the
// stored version still equals baseVersion (the version read when the sync
// began). A failed compare means a concurrent sync committed fresher data;
// the caller gets ErrSnapshotConflict and must not retry with stale input.
func (s *Store) SaveSnapshot(ctx context.Context, snap domain.MapCacheSnapshot, baseVersion int64) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if baseVersion == 0 {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO map_cache (k, version, updated_at, payload)
				VALUES (?, 1, ?, ?)
				ON CONFLICT(k) DO NOTHING`,
				snapshotKey, snap.LastUpdated.UTC().UnixNano(), string(payload))
			if err != nil {
				return fmt.Errorf("insert snapshot: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrSnapshotConflict
			}
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE map_cache SET version = ?, updated_at = ?, payload = ?
			WHERE k = ? AND version = ?`,
			baseVersion+1, snap.LastUpdated.UTC().UnixNano(), string(payload),
			snapshotKey, baseVersion)
		if err != nil {
			return fmt.Errorf("update snapshot: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrSnapshotConflict
		}
		return nil
	})
}

// LoadSnapshot returns the materialized snapshot and its version, reporting
// false when no sync has materialized one yet.
func (s *Store) LoadSnapshot(ctx context.Context) (domain.MapCacheSnapshot, int64, bool, error) {
	var (
		version int64
		payload string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, payload FROM map_cache WHERE k = ?`, snapshotKey,
	).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MapCacheSnapshot{}, 0, false, nil
	}
	if err != nil {
		return domain.MapCacheSnapshot{}, 0, false, fmt.Errorf("read snapshot: %w", err)
	}

	var snap domain.MapCacheSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return domain.MapCacheSnapshot{}, 0, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, version, true, nil
}

// SaveImportStatus overwrites the latest-import status document.
func (s *Store) SaveImportStatus(ctx context.Context, status domain.ImportStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal import status: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO import_status (k, updated_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(k) DO UPDATE SET
			updated_at = excluded.updated_at,
			payload    = excluded.payload`,
		importStatusKey, status.Timestamp.UTC().UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("write import status: %w", err)
	}
	return nil
}

// ImportStatus returns the latest-import status, reporting false when no
// import has completed yet.
func (s *Store) ImportStatus(ctx context.Context) (domain.ImportStatus, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM import_status WHERE k = ?`, importStatusKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ImportStatus{}, false, nil
	}
	if err != nil {
		return domain.ImportStatus{}, false, fmt.Errorf("read import status: %w", err)
	}

	var status domain.ImportStatus
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		return domain.ImportStatus{}, false, fmt.Errorf("decode import status: %w", err)
	}
	return status, true, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const selectSightingSQL = `
SELECT id, ts, location_label, lat, lng, group_size, behavior, confidence,
	source, source_type, geo_bucket, time_slot, behavior_category,
	confidence_level, search_tags, synced_at, data_version
FROM sightings`

func scanSightings(rows *sql.Rows) ([]domain.Sighting, error) {
	var out []domain.Sighting
	for rows.Next() {
		var (
			s          domain.Sighting
			ts         int64
			syncedAt   int64
			label      sql.NullString
			lat, lng   sql.NullFloat64
			groupSize  sql.NullInt64
			behavior   sql.NullString
			confidence sql.NullFloat64
			geoBucket  sql.NullString
			timeSlot   string
			category   string
			level      string
			tagsJS     string
		)
		err := rows.Scan(
			&s.ID, &ts, &label, &lat, &lng, &groupSize, &behavior, &confidence,
			&s.Source, &s.SourceType, &geoBucket, &timeSlot, &category,
			&level, &tagsJS, &syncedAt, &s.DataVersion,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sighting: %w", err)
		}

		s.Timestamp = time.Unix(0, ts).UTC()
		s.SyncedAt = time.Unix(0, syncedAt).UTC()
		if label.Valid {
			v := label.String
			s.LocationLabel = &v
		}
		if lat.Valid && lng.Valid {
			s.Coordinates = &domain.Coordinates{Lat: lat.Float64, Lng: lng.Float64}
		}
		if groupSize.Valid {
			v := int(groupSize.Int64)
			s.GroupSize = &v
		}
		if behavior.Valid {
			v := behavior.String
			s.Behavior = &v
		}
		if confidence.Valid {
			v := confidence.Float64
			s.Confidence = &v
		}
		if geoBucket.Valid {
			v := geoBucket.String
			s.GeoBucket = &v
		}
		s.TimeSlot = domain.TimeSlot(timeSlot)
		s.BehaviorCategory = domain.BehaviorCategory(category)
		s.ConfidenceLevel = domain.ConfidenceLevel(level)
		if err := json.Unmarshal([]byte(tagsJS), &s.SearchTags); err != nil {
			return nil, fmt.Errorf("decode search tags for %s: %w", s.ID, err)
		}

		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sightings: %w", err)
	}
	return out, nil
}

func sightingTags(s *domain.Sighting) []string {
	if s.SearchTags == nil {
		return []string{}
	}
	return s.SearchTags
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
