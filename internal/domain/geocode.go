package domain

import (
	"context"
	"log/slog"
)

// EnrichWithGeocoding fills in the missing half of a sighting's location:
// label-only records get coordinates (forward), coordinate-only records get a
// label (reverse). A nil geocoder or a provider failure leaves the sighting
// unchanged — geocoding is best-effort enrichment, never a gate.
//
// Runs before Enrich so a forward-geocoded record still receives a geo bucket.
func EnrichWithGeocoding(ctx context.Context, s Sighting, geocoder Geocoder, logger *slog.Logger) Sighting {
	if geocoder == nil {
		return s
	}

	hasCoords := s.Coordinates != nil
	hasLabel := s.LocationLabel != nil && *s.LocationLabel != ""

	if !hasCoords && hasLabel {
		result, err := geocoder.ForwardGeocode(ctx, *s.LocationLabel)
		if err != nil {
			logger.Warn("forward geocoding failed",
				"sighting_id", s.ID,
				"label", *s.LocationLabel,
				"error", err,
			)
			return s
		}
		if result.Lat != 0 || result.Lng != 0 {
			s.Coordinates = &Coordinates{Lat: result.Lat, Lng: result.Lng}
		}
		return s
	}

	if hasCoords && !hasLabel {
		result, err := geocoder.ReverseGeocode(ctx, s.Coordinates.Lat, s.Coordinates.Lng)
		if err != nil {
			logger.Warn("reverse geocoding failed",
				"sighting_id", s.ID,
				"lat", s.Coordinates.Lat,
				"lng", s.Coordinates.Lng,
				"error", err,
			)
			return s
		}
		if result.PlaceName != "" {
			label := result.PlaceName
			s.LocationLabel = &label
		}
		return s
	}

	return s
}
