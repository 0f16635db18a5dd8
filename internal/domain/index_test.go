package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTimeSlot(t *testing.T) {
	cases := []struct {
		hour int
		want TimeSlot
	}{
		{0, SlotNight},
		{4, SlotNight},
		{5, SlotDawn},
		{8, SlotDawn},
		{9, SlotMorning},
		{11, SlotMorning},
		{12, SlotAfternoon},
		{16, SlotAfternoon},
		{17, SlotDusk},
		{19, SlotDusk},
		{20, SlotNight}, // dusk ends strictly before 20
		{23, SlotNight},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, DeriveTimeSlot(c.hour), "hour %d", c.hour)
	}
}

func TestClassifyBehavior(t *testing.T) {
	cases := []struct {
		behavior string
		want     BehaviorCategory
	}{
		{"foraging", BehaviorFeeding},
		{"Lunge feeding near shore", BehaviorFeeding},
		{"traveling north", BehaviorTraveling},
		{"fast transit", BehaviorTraveling},
		{"breaching and tail slaps", BehaviorSocial},
		{"logging at surface", BehaviorResting},
		{"milling", BehaviorResting},
		{"spotted briefly", BehaviorUnknown},
		{"", BehaviorUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyBehavior(c.behavior), "behavior %q", c.behavior)
	}
}

func TestClassifyConfidence(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, ClassifyConfidence(0.8))
	assert.Equal(t, ConfidenceHigh, ClassifyConfidence(1.0))
	assert.Equal(t, ConfidenceMedium, ClassifyConfidence(0.6))
	assert.Equal(t, ConfidenceLow, ClassifyConfidence(0.4))
	assert.Equal(t, ConfidenceVeryLow, ClassifyConfidence(0.39))
	assert.Equal(t, ConfidenceVeryLow, ClassifyConfidence(0))
}

func TestEnrich(t *testing.T) {
	fixed := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixed))
	defer SetClock(nil)

	label := "Lime Kiln"
	behavior := "foraging"
	confidence := 0.9

	t.Run("full record", func(t *testing.T) {
		s := Enrich(Sighting{
			Timestamp:     time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC),
			LocationLabel: &label,
			Coordinates:   &Coordinates{Lat: 48.516, Lng: -123.152},
			Behavior:      &behavior,
			Confidence:    &confidence,
			Source:        "hydrophone",
		}, "batch-1")

		require.NotNil(t, s.GeoBucket)
		assert.Equal(t, "4851_-12316", *s.GeoBucket)
		assert.Equal(t, SlotDawn, s.TimeSlot)
		assert.Equal(t, BehaviorFeeding, s.BehaviorCategory)
		assert.Equal(t, ConfidenceHigh, s.ConfidenceLevel)
		assert.Equal(t, fixed, s.SyncedAt)
		assert.Equal(t, "batch-1", s.DataVersion)

		assert.Contains(t, s.SearchTags, "lime")
		assert.Contains(t, s.SearchTags, "kiln")
		assert.Contains(t, s.SearchTags, "foraging")
		assert.Contains(t, s.SearchTags, "hydrophone")
		assert.Contains(t, s.SearchTags, "dawn")
		assert.Contains(t, s.SearchTags, "feeding")
	})

	t.Run("no coordinates means no geo bucket", func(t *testing.T) {
		s := Enrich(Sighting{
			Timestamp: time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC),
			Source:    "citizen",
		}, "batch-1")

		assert.Nil(t, s.GeoBucket)
		assert.Equal(t, SlotNight, s.TimeSlot)
		assert.Equal(t, BehaviorUnknown, s.BehaviorCategory)
		assert.Equal(t, ConfidenceLow, s.ConfidenceLevel, "default confidence 0.5 buckets as low")
	})
}

func TestDeriveGeoBucket_NegativeCoordinatesFloorDown(t *testing.T) {
	// floor(-123.152*100) = -12316, not -12315: cells must tile without gaps
	// across the antimeridian-facing hemisphere.
	b := deriveGeoBucket(&Coordinates{Lat: 48.516, Lng: -123.152})
	require.NotNil(t, b)
	assert.Equal(t, "4851_-12316", *b)

	b = deriveGeoBucket(&Coordinates{Lat: -36.855, Lng: 174.765})
	require.NotNil(t, b)
	assert.Equal(t, "-3686_17476", *b)
}
