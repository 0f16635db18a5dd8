package domain

import (
	"math"
	"sort"
)

// hotspotSaturation is the sighting count at which a hotspot's intensity
// reaches 1.0.
const hotspotSaturation = 10

// AggregateHotspots clusters sightings by location label into ranked
// summaries. Grouping is by label, not geo bucket: two records sharing a
// label but carrying different coordinates merge into one hotspot, and the
// hotspot keeps the coordinates of whichever record appears first in the
// input. That is a deliberate modeling simplification — labels are the unit
// map consumers pin, buckets are only a cheap index.
//
// Output is deterministic for a fixed input order: sorted by count
// descending, ties by name ascending; dominant behavior ties break
// alphabetically.
func AggregateHotspots(sightings []Sighting) []HotspotSummary {
	type group struct {
		summary        HotspotSummary
		totalGroupSize int
		behaviors      map[string]int
	}

	groups := map[string]*group{}
	order := make([]string, 0)

	for i := range sightings {
		s := &sightings[i]
		name := s.LocationName()

		g, ok := groups[name]
		if !ok {
			g = &group{
				summary:   HotspotSummary{Name: name},
				behaviors: map[string]int{},
			}
			groups[name] = g
			order = append(order, name)
		}

		g.summary.Count++
		g.totalGroupSize += s.GroupSizeValue()
		g.behaviors[s.BehaviorValue()]++
		if g.summary.Coordinates == nil && s.Coordinates != nil {
			c := *s.Coordinates
			g.summary.Coordinates = &c
		}
	}

	out := make([]HotspotSummary, 0, len(order))
	for _, name := range order {
		g := groups[name]
		g.summary.AvgGroupSize = round1(float64(g.totalGroupSize) / float64(g.summary.Count))
		g.summary.DominantBehavior = dominantBehavior(g.behaviors)
		g.summary.Intensity = math.Min(1.0, float64(g.summary.Count)/hotspotSaturation)
		out = append(out, g.summary)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// dominantBehavior returns the behavior with the highest count, breaking
// ties alphabetically so the result does not depend on map iteration order.
func dominantBehavior(counts map[string]int) string {
	best, bestCount := "", -1
	for behavior, count := range counts {
		if count > bestCount || (count == bestCount && behavior < best) {
			best, bestCount = behavior, count
		}
	}
	return best
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
