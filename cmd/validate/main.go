// Command validate performs integrity checks across the sighting fixtures:
// it re-runs every raw report through the domain package and verifies that
// the normalized fixture matches, that IDs are deterministic, and that every
// derived field is well-formed.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -raw-json data/mock/sighting_reports_raw.json \
//	  -normalized-json data/mock/sighting_reports_normalized.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"regexp"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/salishsea/whale-map-etl/internal/domain"
)

var baseDate = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

var geoBucketRe = regexp.MustCompile(`^-?\d+_-?\d+$`)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	rawJSON := flag.String("raw-json", "", "path to raw report JSON fixture")
	normalizedJSON := flag.String("normalized-json", "", "path to normalized sighting JSON fixture")
	flag.Parse()

	if *rawJSON == "" || *normalizedJSON == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*rawJSON, *normalizedJSON); code != 0 {
		os.Exit(code)
	}
}

func run(rawJSONPath, normalizedJSONPath string) int {
	// Fix the clock to match genmock for SyncedAt reproducibility.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2024, time.June, 8, 6, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	fmt.Println("=== Sighting Fixture Integrity Validation ===")
	fmt.Println()

	rawReports, err := loadJSON[json.RawMessage](rawJSONPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load raw JSON: %v\n", err)
		return 1
	}

	normalized, err := loadJSON[domain.Sighting](normalizedJSONPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load normalized JSON: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateNormalization(rawReports, normalized),
		validateIDDeterminism(rawReports),
		validateDerivedFields(normalized),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d raw, %d normalized\n", len(rawReports), len(normalized))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// validateNormalization re-runs every raw report through the domain package
// and compares the result against the normalized fixture.
func validateNormalization(rawReports []json.RawMessage, normalized []domain.Sighting) *phase {
	p := &phase{name: "Raw-to-normalized consistency"}

	if len(rawReports) != len(normalized) {
		p.errorf("count mismatch: %d raw vs %d normalized", len(rawReports), len(normalized))
		return p
	}

	for i, raw := range rawReports {
		want := normalized[i]
		got, err := domain.ParseRawRecord(domain.RawRecord{Value: raw, Timestamp: baseDate})
		if err != nil {
			p.errorf("record %d: parse failed: %v", i, err)
			continue
		}
		got = domain.Enrich(got, want.DataVersion)

		if got.ID != want.ID {
			p.errorf("record %d: ID %q, fixture has %q", i, got.ID, want.ID)
		}
		if !got.Timestamp.Equal(want.Timestamp) {
			p.errorf("record %d: timestamp %s, fixture has %s", i, got.Timestamp, want.Timestamp)
		}
		if got.Source != want.Source {
			p.errorf("record %d: source %q, fixture has %q", i, got.Source, want.Source)
		}
		if got.LocationName() != want.LocationName() {
			p.errorf("record %d: location %q, fixture has %q", i, got.LocationName(), want.LocationName())
		}
		if got.HasCoordinates() != want.HasCoordinates() {
			p.errorf("record %d: coordinate presence mismatch", i)
		} else if got.HasCoordinates() {
			if math.Abs(got.Coordinates.Lat-want.Coordinates.Lat) > 1e-9 ||
				math.Abs(got.Coordinates.Lng-want.Coordinates.Lng) > 1e-9 {
				p.errorf("record %d: coordinates drifted", i)
			}
		}
		if got.TimeSlot != want.TimeSlot {
			p.errorf("record %d: time slot %q, fixture has %q", i, got.TimeSlot, want.TimeSlot)
		}
		if got.BehaviorCategory != want.BehaviorCategory {
			p.errorf("record %d: behavior category %q, fixture has %q", i, got.BehaviorCategory, want.BehaviorCategory)
		}
		if got.ConfidenceLevel != want.ConfidenceLevel {
			p.errorf("record %d: confidence level %q, fixture has %q", i, got.ConfidenceLevel, want.ConfidenceLevel)
		}
	}
	return p
}

// validateIDDeterminism parses every raw report twice and verifies the
// resolved IDs agree, including the hash-derived IDs for anonymous reports.
func validateIDDeterminism(rawReports []json.RawMessage) *phase {
	p := &phase{name: "ID determinism"}

	seen := map[string]int{}
	for i, raw := range rawReports {
		first, err := domain.ParseRawRecord(domain.RawRecord{Value: raw, Timestamp: baseDate})
		if err != nil {
			p.errorf("record %d: parse failed: %v", i, err)
			continue
		}
		second, err := domain.ParseRawRecord(domain.RawRecord{Value: raw, Timestamp: baseDate})
		if err != nil {
			p.errorf("record %d: reparse failed: %v", i, err)
			continue
		}
		if first.ID != second.ID {
			p.errorf("record %d: unstable ID: %q then %q", i, first.ID, second.ID)
		}
		seen[first.ID]++
	}

	// Duplicate IDs within the fixture are allowed (same report twice merges
	// on write) but worth reporting, since genmock does not generate them.
	for id, n := range seen {
		if n > 1 {
			p.errorf("duplicate ID %q appears %d times", id, n)
		}
	}
	return p
}

// validateDerivedFields checks every indexed field for well-formedness.
func validateDerivedFields(normalized []domain.Sighting) *phase {
	p := &phase{name: "Derived field validity"}

	validSlots := map[domain.TimeSlot]bool{
		domain.SlotDawn: true, domain.SlotMorning: true, domain.SlotAfternoon: true,
		domain.SlotDusk: true, domain.SlotNight: true,
	}
	validCategories := map[domain.BehaviorCategory]bool{
		domain.BehaviorFeeding: true, domain.BehaviorTraveling: true,
		domain.BehaviorSocial: true, domain.BehaviorResting: true, domain.BehaviorUnknown: true,
	}
	validLevels := map[domain.ConfidenceLevel]bool{
		domain.ConfidenceHigh: true, domain.ConfidenceMedium: true,
		domain.ConfidenceLow: true, domain.ConfidenceVeryLow: true,
	}

	for i := range normalized {
		s := &normalized[i]
		if s.ID == "" {
			p.errorf("record %d: empty ID", i)
		}
		if !validSlots[s.TimeSlot] {
			p.errorf("record %d: invalid time slot %q", i, s.TimeSlot)
		}
		if !validCategories[s.BehaviorCategory] {
			p.errorf("record %d: invalid behavior category %q", i, s.BehaviorCategory)
		}
		if !validLevels[s.ConfidenceLevel] {
			p.errorf("record %d: invalid confidence level %q", i, s.ConfidenceLevel)
		}
		if s.HasCoordinates() {
			if s.GeoBucket == nil || !geoBucketRe.MatchString(*s.GeoBucket) {
				p.errorf("record %d: missing or malformed geo bucket", i)
			}
			if s.Coordinates.Lat < -90 || s.Coordinates.Lat > 90 ||
				s.Coordinates.Lng < -180 || s.Coordinates.Lng > 180 {
				p.errorf("record %d: coordinates out of range", i)
			}
		} else if s.GeoBucket != nil {
			p.errorf("record %d: geo bucket without coordinates", i)
		}
		if len(s.SearchTags) == 0 {
			p.errorf("record %d: no search tags", i)
		}
		if s.ConfidenceValue() < 0 || s.ConfidenceValue() > 1 {
			p.errorf("record %d: confidence outside [0,1]", i)
		}
	}
	return p
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return out, nil
}
