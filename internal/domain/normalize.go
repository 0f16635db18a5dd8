package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RawSighting is the loosely-typed shape accepted from source feeds. Every
// source sends a different subset of these fields, and several sources send
// numbers as JSON strings, so scalar fields use the flex* wrappers which
// coerce instead of failing.
type RawSighting struct {
	ID         flexString `json:"id"`
	SightingID flexString `json:"sighting_id"`

	Timestamp flexString `json:"timestamp"`
	Date      flexString `json:"date"`

	Location      flexString `json:"location"`
	LocationLabel flexString `json:"location_label"`

	Lat       flexFloat `json:"lat"`
	Latitude  flexFloat `json:"latitude"`
	Lng       flexFloat `json:"lng"`
	Lon       flexFloat `json:"lon"`
	Longitude flexFloat `json:"longitude"`

	Coordinates *rawCoordinates `json:"coordinates"`

	GroupSize flexInt `json:"group_size"`
	Count     flexInt `json:"count"`

	Behavior flexString `json:"behavior"`
	Activity flexString `json:"activity"`

	Confidence flexFloat `json:"confidence"`

	Source     flexString `json:"source"`
	SourceType flexString `json:"source_type"`
}

type rawCoordinates struct {
	Lat flexFloat `json:"lat"`
	Lng flexFloat `json:"lng"`
}

// ErrMissingSource is returned for records that carry no source attribution.
// Source is one of the two fields every feed is contractually required to send.
var ErrMissingSource = errors.New("record has no source")

// ErrMissingTimestamp is returned for records whose observation time cannot
// be determined from the payload or the transport metadata.
var ErrMissingTimestamp = errors.New("record has no usable timestamp")

// timestampLayouts are tried in order when parsing observation times.
// Sources disagree on precision; date-only reports are pinned to midnight.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseRawRecord normalizes one raw feed payload into a canonical Sighting.
// Malformed individual fields (non-numeric coordinates, negative group sizes)
// are coerced to absent rather than rejecting the record; only a missing
// source or timestamp fails the whole record.
func ParseRawRecord(raw RawRecord) (Sighting, error) {
	var rec RawSighting
	dec := json.NewDecoder(bytes.NewReader(raw.Value))
	if err := dec.Decode(&rec); err != nil {
		return Sighting{}, fmt.Errorf("parse raw sighting: %w", err)
	}

	source := firstString(rec.Source)
	if source == "" {
		return Sighting{}, ErrMissingSource
	}

	ts, err := resolveTimestamp(rec, raw.Timestamp)
	if err != nil {
		return Sighting{}, err
	}

	s := Sighting{
		Timestamp:  ts,
		Source:     source,
		SourceType: firstString(rec.SourceType),
	}

	if label := firstString(rec.Location, rec.LocationLabel); label != "" {
		s.LocationLabel = &label
	}
	s.Coordinates = resolveCoordinates(rec)
	if size, ok := firstInt(rec.GroupSize, rec.Count); ok && size >= 1 {
		s.GroupSize = &size
	}
	if behavior := firstString(rec.Behavior, rec.Activity); behavior != "" {
		s.Behavior = &behavior
	}
	if c, ok := rec.Confidence.value(); ok {
		c = clamp01(c)
		s.Confidence = &c
	}

	s.ID = ResolveDedupKey(firstString(rec.ID, rec.SightingID), s)
	return s, nil
}

// resolveTimestamp picks the observation time from the payload, falling back
// to the transport timestamp (set by the collector) when the payload has none.
func resolveTimestamp(rec RawSighting, transport time.Time) (time.Time, error) {
	for _, field := range []flexString{rec.Timestamp, rec.Date} {
		raw := strings.TrimSpace(string(field))
		if raw == "" {
			continue
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, nil
			}
		}
		// Some feeds send epoch seconds.
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
			return time.Unix(secs, 0).UTC(), nil
		}
	}
	if !transport.IsZero() {
		return transport, nil
	}
	return time.Time{}, ErrMissingTimestamp
}

// resolveCoordinates extracts a valid lat/lng pair from whichever field
// aliases the source used. Out-of-range or partial pairs yield nil.
func resolveCoordinates(rec RawSighting) *Coordinates {
	lat, latOK := firstFloat(rec.Lat, rec.Latitude)
	lng, lngOK := firstFloat(rec.Lng, rec.Lon, rec.Longitude)

	if (!latOK || !lngOK) && rec.Coordinates != nil {
		lat, latOK = rec.Coordinates.Lat.value()
		lng, lngOK = rec.Coordinates.Lng.value()
	}

	if !latOK || !lngOK {
		return nil
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil
	}
	return &Coordinates{Lat: lat, Lng: lng}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func firstString(fields ...flexString) string {
	for _, f := range fields {
		if s := strings.TrimSpace(string(f)); s != "" {
			return s
		}
	}
	return ""
}

func firstFloat(fields ...flexFloat) (float64, bool) {
	for _, f := range fields {
		if v, ok := f.value(); ok {
			return v, true
		}
	}
	return 0, false
}

func firstInt(fields ...flexInt) (int, bool) {
	for _, f := range fields {
		if v, ok := f.value(); ok {
			return v, true
		}
	}
	return 0, false
}

// flexString accepts a JSON string, number, or bool and stores its text form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	// Numbers, bools: keep the literal text.
	*f = flexString(data)
	return nil
}

// flexFloat accepts a JSON number or numeric string. Anything else parses as
// unset rather than an error, matching the coerce-don't-reject contract.
type flexFloat struct {
	set bool
	v   float64
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil //nolint:nilerr // malformed field coerces to unset
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			f.v, f.set = v, true
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		f.v, f.set = v, true
	}
	return nil
}

func (f flexFloat) value() (float64, bool) { return f.v, f.set }

// flexInt accepts a JSON integer, float, or numeric string. Floats truncate.
type flexInt struct {
	set bool
	v   int
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var ff flexFloat
	if err := ff.UnmarshalJSON(data); err != nil {
		return err
	}
	if ff.set {
		f.v, f.set = int(ff.v), true
	}
	return nil
}

func (f flexInt) value() (int, bool) { return f.v, f.set }
