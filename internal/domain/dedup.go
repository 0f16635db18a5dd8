package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

// idSanitizeRe strips everything outside the document-key-safe alphabet.
var idSanitizeRe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ResolveDedupKey produces the stable document key for a sighting. A
// source-supplied identifier is sanitized and used directly. Otherwise the
// key is a deterministic hash of the record's identity fields, so replaying
// the same sourceless record upserts the same document instead of creating a
// duplicate. Two genuinely distinct sightings with identical timestamp,
// coordinates, label, and source collapse into one document.
func ResolveDedupKey(suppliedID string, s Sighting) string {
	if clean := idSanitizeRe.ReplaceAllString(suppliedID, ""); clean != "" {
		return clean
	}

	lat, lng := "-", "-"
	if s.Coordinates != nil {
		lat = fmt.Sprintf("%.4f", s.Coordinates.Lat)
		lng = fmt.Sprintf("%.4f", s.Coordinates.Lng)
	}
	input := fmt.Sprintf("%s|%s|%s|%s|%s",
		s.Timestamp.UTC().Format(time.RFC3339Nano), lat, lng, s.LocationName(), s.Source)
	hash := sha256.Sum256([]byte(input))
	return "sig-" + hex.EncodeToString(hash[:8])
}
