package domain

import "context"

// GeocodingResult contains location data returned by a geocoding provider.
type GeocodingResult struct {
	Lat        float64
	Lng        float64
	PlaceName  string
	Confidence float64 // 0.0–1.0 provider confidence score
}

// Geocoder fills in the half of a sighting's location the source omitted.
type Geocoder interface {
	// ForwardGeocode converts a location label to coordinates.
	ForwardGeocode(ctx context.Context, label string) (GeocodingResult, error)

	// ReverseGeocode converts coordinates to a place name.
	ReverseGeocode(ctx context.Context, lat, lng float64) (GeocodingResult, error)
}
