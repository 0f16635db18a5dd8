package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Enrich derives the spatial-temporal index fields for a normalized sighting:
// geo bucket, time slot, behavior category, confidence level, and search tags.
// It also stamps SyncedAt from the package clock and tags the sync batch.
func Enrich(s Sighting, dataVersion string) Sighting {
	s.GeoBucket = deriveGeoBucket(s.Coordinates)
	s.TimeSlot = DeriveTimeSlot(s.Timestamp.Hour())
	s.BehaviorCategory = ClassifyBehavior(s.BehaviorValue())
	s.ConfidenceLevel = ClassifyConfidence(s.ConfidenceValue())
	s.SearchTags = deriveSearchTags(s)
	s.SyncedAt = clock.Now()
	s.DataVersion = dataVersion
	return s
}

// deriveGeoBucket buckets coordinates into 0.01-degree grid cells (~1.1 km),
// e.g. (48.516, -123.152) -> "4851_-12316". Nil coordinates yield nil.
func deriveGeoBucket(c *Coordinates) *string {
	if c == nil {
		return nil
	}
	bucket := fmt.Sprintf("%d_%d",
		int(math.Floor(c.Lat*100)),
		int(math.Floor(c.Lng*100)),
	)
	return &bucket
}

// DeriveTimeSlot maps an hour of day onto the fixed slot boundaries.
// Boundaries are inclusive-low, exclusive-high; hour 20 is already night.
func DeriveTimeSlot(hour int) TimeSlot {
	switch {
	case hour >= 5 && hour < 9:
		return SlotDawn
	case hour >= 9 && hour < 12:
		return SlotMorning
	case hour >= 12 && hour < 17:
		return SlotAfternoon
	case hour >= 17 && hour < 20:
		return SlotDusk
	default:
		return SlotNight
	}
}

// behaviorKeywords maps category to the substrings that select it. Checked in
// categoryOrder; the first category with a matching keyword wins.
var behaviorKeywords = map[BehaviorCategory][]string{
	BehaviorFeeding:   {"forag", "feed", "lunge", "hunt"},
	BehaviorTraveling: {"travel", "transit", "porpois", "swim"},
	BehaviorSocial:    {"social", "breach", "play", "tail slap", "spyhop"},
	BehaviorResting:   {"rest", "logging", "milling"},
}

var categoryOrder = []BehaviorCategory{
	BehaviorFeeding, BehaviorTraveling, BehaviorSocial, BehaviorResting,
}

// ClassifyBehavior keyword-matches free-text behavior into a category.
func ClassifyBehavior(behavior string) BehaviorCategory {
	b := strings.ToLower(behavior)
	for _, cat := range categoryOrder {
		for _, kw := range behaviorKeywords[cat] {
			if strings.Contains(b, kw) {
				return cat
			}
		}
	}
	return BehaviorUnknown
}

// ClassifyConfidence buckets a [0,1] confidence into coarse levels.
func ClassifyConfidence(c float64) ConfidenceLevel {
	switch {
	case c >= 0.8:
		return ConfidenceHigh
	case c >= 0.6:
		return ConfidenceMedium
	case c >= 0.4:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// deriveSearchTags collects the lowercase searchable terms of a sighting:
// location words, behavior words, source, and the derived enums.
func deriveSearchTags(s Sighting) []string {
	seen := map[string]struct{}{}
	add := func(raw string) {
		for _, w := range strings.Fields(strings.ToLower(raw)) {
			w = strings.Trim(w, ".,;:()")
			if w != "" {
				seen[w] = struct{}{}
			}
		}
	}

	add(s.LocationName())
	add(s.BehaviorValue())
	add(s.Source)
	add(string(s.TimeSlot))
	add(string(s.BehaviorCategory))

	tags := make([]string, 0, len(seen))
	for w := range seen {
		tags = append(tags, w)
	}
	sort.Strings(tags)
	return tags
}
