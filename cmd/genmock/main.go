// Command genmock generates synthetic sighting report fixtures for the test
// suites. It pushes every generated report through the actual domain package
// so the normalized output matches real pipeline behavior.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -count 200 -seed 42 \
//	  -raw-out data/mock/sighting_reports_raw.json \
//	  -normalized-out data/mock/sighting_reports_normalized.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/salishsea/whale-map-etl/internal/domain"
)

var baseDate = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

// site is a known sighting location used to seed realistic reports.
type site struct {
	name string
	lat  float64
	lng  float64
}

var sites = []site{
	{"Lime Kiln", 48.5160, -123.1522},
	{"Active Pass", 48.8715, -123.2940},
	{"Boundary Pass", 48.7250, -123.0480},
	{"Haro Strait", 48.5500, -123.2000},
	{"Point Roberts", 48.9720, -123.0810},
	{"Turn Point", 48.6890, -123.2370},
}

var behaviors = []string{
	"foraging", "feeding on salmon", "northbound travel", "southbound travel",
	"milling", "socializing", "breaching and playing", "resting at surface",
}

var sources = []string{"hydrophone", "citizen", "ferry", "research"}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	count := flag.Int("count", 200, "number of reports to generate")
	seed := flag.Int64("seed", 42, "random seed for reproducible fixtures")
	rawOut := flag.String("raw-out", "", "output path for raw report JSON fixture")
	normalizedOut := flag.String("normalized-out", "", "output path for normalized sighting JSON fixture")
	flag.Parse()

	if *rawOut == "" || *normalizedOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -raw-out, -normalized-out")
	}

	// Fix the clock for reproducible SyncedAt timestamps.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2024, time.June, 8, 6, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	rng := rand.New(rand.NewSource(*seed))

	rawReports := make([]map[string]any, 0, *count)
	normalized := make([]domain.Sighting, 0, *count)

	for i := 0; i < *count; i++ {
		raw := generateReport(rng, i)
		rawReports = append(rawReports, raw)

		payload, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("marshal report %d: %w", i, err)
		}

		sighting, err := domain.ParseRawRecord(domain.RawRecord{
			Value:     payload,
			Timestamp: baseDate,
		})
		if err != nil {
			return fmt.Errorf("parse report %d: %w", i, err)
		}
		normalized = append(normalized, domain.Enrich(sighting, "genmock"))
	}

	if err := writeJSON(*rawOut, rawReports); err != nil {
		return fmt.Errorf("writing raw fixture: %w", err)
	}
	log.Printf("wrote raw fixture: %s (%d reports)", *rawOut, len(rawReports))

	if err := writeJSON(*normalizedOut, normalized); err != nil {
		return fmt.Errorf("writing normalized fixture: %w", err)
	}
	log.Printf("wrote normalized fixture: %s", *normalizedOut)

	printStats(normalized)
	return nil
}

// generateReport builds one raw report. Shapes vary deliberately: aliased
// field names, string-typed numbers, nested coordinates, and dropped
// optionals all appear, matching the mess the real feeds deliver.
func generateReport(rng *rand.Rand, i int) map[string]any {
	s := sites[rng.Intn(len(sites))]
	ts := baseDate.Add(time.Duration(rng.Intn(7*24*60)) * time.Minute)
	source := sources[rng.Intn(len(sources))]

	report := map[string]any{
		"timestamp": ts.Format(time.RFC3339),
		"source":    source,
	}

	// A third of reports use aliased keys the way the citizen app does.
	aliased := rng.Intn(3) == 0

	if rng.Intn(10) > 0 { // 10% anonymous, exercising the derived-ID path
		if aliased {
			report["sighting_id"] = fmt.Sprintf("%s-%04d", source, i)
		} else {
			report["id"] = fmt.Sprintf("%s-%04d", source, i)
		}
	}

	if rng.Intn(5) > 0 { // 80% carry a label
		if aliased {
			report["location_label"] = s.name
		} else {
			report["location"] = s.name
		}
	}

	if rng.Intn(5) > 0 { // 80% carry coordinates
		lat := s.lat + (rng.Float64()-0.5)*0.05
		lng := s.lng + (rng.Float64()-0.5)*0.05
		switch rng.Intn(3) {
		case 0:
			report["coordinates"] = map[string]float64{"lat": lat, "lng": lng}
		case 1:
			report["latitude"] = fmt.Sprintf("%.4f", lat)
			report["longitude"] = fmt.Sprintf("%.4f", lng)
		default:
			report["lat"] = lat
			report["lng"] = lng
		}
	}

	if rng.Intn(3) > 0 {
		size := 1 + rng.Intn(12)
		if aliased {
			report["count"] = fmt.Sprintf("%d", size)
		} else {
			report["group_size"] = size
		}
	}

	if rng.Intn(4) > 0 {
		behavior := behaviors[rng.Intn(len(behaviors))]
		if aliased {
			report["activity"] = behavior
		} else {
			report["behavior"] = behavior
		}
	}

	if rng.Intn(4) > 0 {
		report["confidence"] = float64(rng.Intn(100)) / 100
	}

	return report
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

type labelCount struct {
	label string
	count int
}

func printStats(sightings []domain.Sighting) {
	bySource := map[string]int{}
	bySlot := map[domain.TimeSlot]int{}
	byCategory := map[domain.BehaviorCategory]int{}
	byLocation := map[string]int{}
	withCoords := 0

	for i := range sightings {
		s := &sightings[i]
		bySource[s.Source]++
		bySlot[s.TimeSlot]++
		byCategory[s.BehaviorCategory]++
		byLocation[s.LocationName()]++
		if s.HasCoordinates() {
			withCoords++
		}
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d\n", len(sightings))
	fmt.Printf("With coordinates: %d\n", withCoords)

	fmt.Printf("By source:")
	for _, src := range sources {
		fmt.Printf(" %s=%d", src, bySource[src])
	}
	fmt.Println()

	fmt.Printf("By time slot: dawn=%d, morning=%d, afternoon=%d, dusk=%d, night=%d\n",
		bySlot[domain.SlotDawn], bySlot[domain.SlotMorning], bySlot[domain.SlotAfternoon],
		bySlot[domain.SlotDusk], bySlot[domain.SlotNight])
	fmt.Printf("By behavior category: feeding=%d, traveling=%d, social=%d, resting=%d, unknown=%d\n",
		byCategory[domain.BehaviorFeeding], byCategory[domain.BehaviorTraveling],
		byCategory[domain.BehaviorSocial], byCategory[domain.BehaviorResting],
		byCategory[domain.BehaviorUnknown])

	lc := make([]labelCount, 0, len(byLocation))
	for label, c := range byLocation {
		lc = append(lc, labelCount{label, c})
	}
	sort.Slice(lc, func(i, j int) bool { return lc[i].count > lc[j].count })
	fmt.Printf("Locations (%d):", len(lc))
	for _, l := range lc {
		fmt.Printf(" %s=%d", l.label, l.count)
	}
	fmt.Println()

	hotspots := domain.AggregateHotspots(sightings)
	if len(hotspots) > 0 {
		h := hotspots[0]
		fmt.Printf("\nTop hotspot: %s (count=%d, avg_group_size=%.1f, dominant=%s, intensity=%.1f)\n",
			h.Name, h.Count, h.AvgGroupSize, h.DominantBehavior, h.Intensity)
	}
}
