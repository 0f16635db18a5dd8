package domain

import (
	"context"
	"time"
)

// RawRecord is an unprocessed sighting payload from the source feed, plus
// the transport metadata needed to commit it after a successful sync.
type RawRecord struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Coordinates is a WGS-84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// TimeSlot is a coarse time-of-day category derived from the sighting hour.
type TimeSlot string

const (
	SlotDawn      TimeSlot = "dawn"      // [5,9)
	SlotMorning   TimeSlot = "morning"   // [9,12)
	SlotAfternoon TimeSlot = "afternoon" // [12,17)
	SlotDusk      TimeSlot = "dusk"      // [17,20)
	SlotNight     TimeSlot = "night"
)

// BehaviorCategory is the normalized behavior class keyword-matched from the
// free-text behavior field.
type BehaviorCategory string

const (
	BehaviorFeeding   BehaviorCategory = "feeding"
	BehaviorTraveling BehaviorCategory = "traveling"
	BehaviorSocial    BehaviorCategory = "social"
	BehaviorResting   BehaviorCategory = "resting"
	BehaviorUnknown   BehaviorCategory = "unknown"
)

// ConfidenceLevel is the bucketed report confidence.
type ConfidenceLevel string

const (
	ConfidenceHigh    ConfidenceLevel = "high"     // >= 0.8
	ConfidenceMedium  ConfidenceLevel = "medium"   // >= 0.6
	ConfidenceLow     ConfidenceLevel = "low"      // >= 0.4
	ConfidenceVeryLow ConfidenceLevel = "very_low"
)

// Sighting is the canonical sighting document. Optional fields are pointers:
// nil means the source never supplied the field, which the store's field-level
// merge must not overwrite. Use the *Value accessors for defaulted reads.
type Sighting struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	LocationLabel *string      `json:"location_label,omitempty"`
	Coordinates   *Coordinates `json:"coordinates,omitempty"`
	GroupSize     *int         `json:"group_size,omitempty"`
	Behavior      *string      `json:"behavior,omitempty"`
	Confidence    *float64     `json:"confidence,omitempty"`

	Source     string `json:"source"`
	SourceType string `json:"source_type,omitempty"`

	// Derived by Enrich.
	GeoBucket        *string          `json:"geo_bucket,omitempty"`
	TimeSlot         TimeSlot         `json:"time_slot"`
	BehaviorCategory BehaviorCategory `json:"behavior_category"`
	ConfidenceLevel  ConfidenceLevel  `json:"confidence_level"`
	SearchTags       []string         `json:"search_tags,omitempty"`

	SyncedAt    time.Time `json:"synced_at"`
	DataVersion string    `json:"data_version,omitempty"`
}

// Defaults applied when a source omits or mangles a field.
const (
	DefaultLocationLabel = "Unknown"
	DefaultGroupSize     = 1
	DefaultBehavior      = "unknown"
	DefaultConfidence    = 0.5
)

// LocationName returns the location label or "Unknown" when absent.
func (s *Sighting) LocationName() string {
	if s.LocationLabel == nil || *s.LocationLabel == "" {
		return DefaultLocationLabel
	}
	return *s.LocationLabel
}

// GroupSizeValue returns the group size, defaulting to 1.
func (s *Sighting) GroupSizeValue() int {
	if s.GroupSize == nil || *s.GroupSize < 1 {
		return DefaultGroupSize
	}
	return *s.GroupSize
}

// BehaviorValue returns the free-text behavior, defaulting to "unknown".
func (s *Sighting) BehaviorValue() string {
	if s.Behavior == nil || *s.Behavior == "" {
		return DefaultBehavior
	}
	return *s.Behavior
}

// ConfidenceValue returns the confidence clamped to [0,1], defaulting to 0.5.
func (s *Sighting) ConfidenceValue() float64 {
	if s.Confidence == nil {
		return DefaultConfidence
	}
	c := *s.Confidence
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// HasCoordinates reports whether the sighting carries a usable coordinate pair.
func (s *Sighting) HasCoordinates() bool {
	return s.Coordinates != nil
}

// HotspotSummary is an aggregated view of sightings sharing a location label.
type HotspotSummary struct {
	Name             string       `json:"name"`
	Coordinates      *Coordinates `json:"coordinates,omitempty"`
	Count            int          `json:"count"`
	AvgGroupSize     float64      `json:"avg_group_size"`
	DominantBehavior string       `json:"dominant_behavior"`
	Intensity        float64      `json:"intensity"`
}

// Bounds is a rectangular geographic extent plus its center point.
type Bounds struct {
	North  float64     `json:"north"`
	South  float64     `json:"south"`
	East   float64     `json:"east"`
	West   float64     `json:"west"`
	Center Coordinates `json:"center"`
}

// SourceStat summarizes one source's contribution to the store.
type SourceStat struct {
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// WeekdayCount pairs a day-of-week (0=Sunday) with its sighting count.
type WeekdayCount struct {
	Day   int    `json:"day"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// MapCacheSnapshot is the materialized view rebuilt wholesale after each
// sync. Map consumers read it instead of scanning the store.
type MapCacheSnapshot struct {
	LastUpdated          time.Time             `json:"last_updated"`
	TotalSightings       int                   `json:"total_sightings"`
	Hotspots             []HotspotSummary      `json:"hotspots"`
	HourlyDistribution   [24]int               `json:"hourly_distribution"`
	WeeklyPattern        [7]WeekdayCount       `json:"weekly_pattern"`
	SourceStats          map[string]SourceStat `json:"source_stats"`
	BehaviorDistribution map[string]int        `json:"behavior_distribution"`
	Bounds               Bounds                `json:"bounds"`
	RecentActivity       []Sighting            `json:"recent_activity"`
}

// SyncMetadata is the sentinel record updated alongside every batch write.
type SyncMetadata struct {
	LastSync  time.Time `json:"last_sync"`
	BatchSize int       `json:"batch_size"`
	Sources   []string  `json:"sources"`
}

// SyncResult reports the outcome of one sync batch.
type SyncResult struct {
	SyncedCount  int       `json:"synced_count"`
	SkippedCount int       `json:"skipped_count"`
	DataVersion  string    `json:"data_version"`
	CompletedAt  time.Time `json:"completed_at"`
}

// ImportStatus is the latest-import record read by operational dashboards.
type ImportStatus struct {
	Timestamp    time.Time      `json:"timestamp"`
	SyncedCount  int            `json:"synced_count"`
	SkippedCount int            `json:"skipped_count"`
	DataVersion  string         `json:"data_version"`
	BySource     map[string]int `json:"by_source,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// TimeRange is an inclusive [Start, End] timestamp filter.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MapQuery carries the optional filters accepted by the query service.
type MapQuery struct {
	TimeRange *TimeRange
	Bounds    *Bounds
	Limit     int
}

// MapView is the map-ready read: recent sightings plus the cached derivates.
type MapView struct {
	Sightings   []Sighting       `json:"sightings"`
	Hotspots    []HotspotSummary `json:"hotspots"`
	Bounds      Bounds           `json:"bounds"`
	LastUpdated time.Time        `json:"last_updated"`
}
