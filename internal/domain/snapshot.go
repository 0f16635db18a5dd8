package domain

import "sort"

// DefaultRecentActivityDays is the default recent-activity window.
const DefaultRecentActivityDays = 7

var dayNames = [7]string{
	"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday",
}

// BuildSnapshot recomputes the materialized map cache from the full store
// contents. It is pure given a fixed clock: the same sightings always
// produce the same snapshot. Callers persist the result as a single atomic
// replace; nothing here mutates incrementally.
func BuildSnapshot(sightings []Sighting, recentDays int) MapCacheSnapshot {
	if recentDays <= 0 {
		recentDays = DefaultRecentActivityDays
	}
	now := clock.Now()
	cutoff := now.AddDate(0, 0, -recentDays)

	snap := MapCacheSnapshot{
		LastUpdated:          now,
		TotalSightings:       len(sightings),
		Hotspots:             AggregateHotspots(sightings),
		SourceStats:          map[string]SourceStat{},
		BehaviorDistribution: map[string]int{},
		Bounds:               ComputeBounds(sightings),
	}

	for d := range snap.WeeklyPattern {
		snap.WeeklyPattern[d] = WeekdayCount{Day: d, Name: dayNames[d]}
	}

	var recent []Sighting
	for i := range sightings {
		s := sightings[i]

		// Histograms bucket in UTC so a record counts the same whether it
		// arrives fresh or round-trips through the store, which persists
		// timestamps as UTC instants. Time slots, by contrast, are derived
		// at ingest from the record's own zone.
		utc := s.Timestamp.UTC()
		snap.HourlyDistribution[utc.Hour()]++
		snap.WeeklyPattern[int(utc.Weekday())].Count++
		snap.BehaviorDistribution[s.BehaviorValue()]++

		// Running mean keeps a single pass over arbitrarily large stores.
		stat := snap.SourceStats[s.Source]
		stat.AvgConfidence += (s.ConfidenceValue() - stat.AvgConfidence) / float64(stat.Count+1)
		stat.Count++
		snap.SourceStats[s.Source] = stat

		if !s.Timestamp.Before(cutoff) {
			recent = append(recent, s)
		}
	}

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.After(recent[j].Timestamp)
	})
	snap.RecentActivity = recent

	return snap
}
