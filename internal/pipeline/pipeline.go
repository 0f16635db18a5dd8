// Package pipeline orchestrates sighting ingestion: normalize raw feed
// records, upsert them into the store, and rematerialize the map cache.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/salishsea/whale-map-etl/internal/domain"
	"github.com/salishsea/whale-map-etl/internal/observability"
	"github.com/salishsea/whale-map-etl/internal/store"
)

// BatchExtractor reads up to batchSize raw records from the source feed.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawRecord, error)
}

// Transformer normalizes a raw record into a canonical sighting.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawRecord) (domain.Sighting, error)
}

// Publisher republishes normalized sightings for downstream consumers.
type Publisher interface {
	PublishBatch(ctx context.Context, sightings []domain.Sighting) error
}

// Store is the persistence surface the pipeline writes through.
type Store interface {
	UpsertBatch(ctx context.Context, sightings []domain.Sighting, meta domain.SyncMetadata) error
	AllSightings(ctx context.Context) ([]domain.Sighting, error)
	SnapshotVersion(ctx context.Context) (int64, error)
	SaveSnapshot(ctx context.Context, snap domain.MapCacheSnapshot, baseVersion int64) error
	SaveImportStatus(ctx context.Context, status domain.ImportStatus) error
}

// Pipeline runs the extract-normalize-upsert-materialize loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	store       Store
	publisher   Publisher // nil disables sink publishing
	logger      *slog.Logger
	metrics     *observability.Metrics

	batchSize  int
	recentDays int

	// syncMu serializes sync batches: the pipeline is single-writer and a
	// manual trigger must not overlap the feed-driven loop.
	syncMu sync.Mutex
	ready  atomic.Bool
}

// New creates a Pipeline with the given stages and observability. publisher
// may be nil.
func New(e BatchExtractor, t Transformer, st Store, pub Publisher, logger *slog.Logger, metrics *observability.Metrics, batchSize, recentDays int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		store:       st,
		publisher:   pub,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
		recentDays:  recentDays,
	}
}

// CheckReadiness returns nil once the pipeline has completed at least one
// sync batch.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a sync batch yet")
	}
	return nil
}

// Run executes the feed-driven sync loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	// Keeps retry storms short while avoiding tight loops during outages.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-sync cycle. Returns false if the pipeline
// should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(rawBatch) == 0 {
		return ctx.Err() == nil
	}

	*backoff = 200 * time.Millisecond

	if _, err := p.Sync(ctx, rawBatch); err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("sync batch failed", "error", err, "batch_size", len(rawBatch))
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	// Offsets commit only after the whole batch is durably stored, so a
	// crash mid-sync redelivers; deterministic keys make redelivery a no-op.
	for _, raw := range rawBatch {
		p.commitOffset(ctx, raw)
	}
	return true
}

// Sync ingests one batch of raw records: normalize, upsert, rematerialize
// the map cache, and record the import status. Batches are serialized; a
// concurrent call blocks until the running sync finishes.
func (p *Pipeline) Sync(ctx context.Context, rawBatch []domain.RawRecord) (domain.SyncResult, error) {
	p.syncMu.Lock()
	defer p.syncMu.Unlock()

	start := time.Now()
	p.metrics.SyncRunning.Set(1)
	defer p.metrics.SyncRunning.Set(0)

	p.metrics.RecordsConsumed.Add(float64(len(rawBatch)))
	p.metrics.BatchSize.Observe(float64(len(rawBatch)))

	dataVersion := "sync-" + start.UTC().Format("20060102T150405.000000000")

	// Snapshot version is read before any writes: if another process
	// finishes a sync while this one runs, the version check at commit time
	// refuses to clobber its fresher snapshot.
	baseVersion, err := p.store.SnapshotVersion(ctx)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("read snapshot version: %w", err)
	}

	sightings, bySource, skipped := p.normalizeBatch(ctx, rawBatch, dataVersion)

	meta := domain.SyncMetadata{
		LastSync:  time.Now().UTC(),
		BatchSize: len(sightings),
		Sources:   sourceNames(bySource),
	}
	if err := p.store.UpsertBatch(ctx, sightings, meta); err != nil {
		p.recordImportFailure(ctx, dataVersion, err)
		return domain.SyncResult{}, fmt.Errorf("upsert batch: %w", err)
	}
	p.metrics.SightingsSynced.Add(float64(len(sightings)))

	if err := p.materialize(ctx, baseVersion); err != nil {
		p.recordImportFailure(ctx, dataVersion, err)
		return domain.SyncResult{}, err
	}

	p.publish(ctx, sightings)

	result := domain.SyncResult{
		SyncedCount:  len(sightings),
		SkippedCount: skipped,
		DataVersion:  dataVersion,
		CompletedAt:  time.Now().UTC(),
	}

	status := domain.ImportStatus{
		Timestamp:    result.CompletedAt,
		SyncedCount:  result.SyncedCount,
		SkippedCount: result.SkippedCount,
		DataVersion:  dataVersion,
		BySource:     bySource,
	}
	if err := p.store.SaveImportStatus(ctx, status); err != nil {
		p.logger.Warn("import status write failed", "error", err)
	}

	p.metrics.SyncDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	p.logger.Info("sync batch complete",
		"synced", result.SyncedCount,
		"skipped", result.SkippedCount,
		"data_version", dataVersion,
		"duration", time.Since(start),
	)
	return result, nil
}

// normalizeBatch transforms every raw record, skipping (with a warning) the
// ones that cannot be normalized. Skipped records are counted, not fatal.
func (p *Pipeline) normalizeBatch(ctx context.Context, rawBatch []domain.RawRecord, dataVersion string) ([]domain.Sighting, map[string]int, int) {
	sightings := make([]domain.Sighting, 0, len(rawBatch))
	bySource := map[string]int{}
	skipped := 0

	for _, raw := range rawBatch {
		sighting, err := p.transformer.Transform(ctx, raw)
		if err != nil {
			p.logger.Warn("normalize failed, skipping record",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.RecordsSkipped.Inc()
			skipped++
			continue
		}
		sighting = domain.Enrich(sighting, dataVersion)
		sightings = append(sightings, sighting)
		bySource[sighting.Source]++
	}
	return sightings, bySource, skipped
}

// materialize rebuilds the map cache snapshot from the full store contents
// and commits it with the optimistic version check. Losing the version race
// is not a failure: the surviving snapshot was built from fresher data.
func (p *Pipeline) materialize(ctx context.Context, baseVersion int64) error {
	all, err := p.store.AllSightings(ctx)
	if err != nil {
		return fmt.Errorf("load sightings for materialization: %w", err)
	}

	snap := domain.BuildSnapshot(all, p.recentDays)
	if err := p.store.SaveSnapshot(ctx, snap, baseVersion); err != nil {
		if errors.Is(err, store.ErrSnapshotConflict) {
			p.metrics.SnapshotConflicts.Inc()
			p.logger.Warn("map cache write lost version race, keeping newer snapshot", "base_version", baseVersion)
			return nil
		}
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, sightings []domain.Sighting) {
	if p.publisher == nil || len(sightings) == 0 {
		return
	}
	if err := p.publisher.PublishBatch(ctx, sightings); err != nil {
		p.logger.Warn("sink publish failed", "error", err, "count", len(sightings))
	}
}

func (p *Pipeline) recordImportFailure(ctx context.Context, dataVersion string, cause error) {
	status := domain.ImportStatus{
		Timestamp:   time.Now().UTC(),
		DataVersion: dataVersion,
		Error:       cause.Error(),
	}
	if err := p.store.SaveImportStatus(ctx, status); err != nil {
		p.logger.Warn("import status write failed", "error", err)
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current
// backoff, and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the record offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawRecord) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func sourceNames(bySource map[string]int) []string {
	names := make([]string, 0, len(bySource))
	for name := range bySource {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
