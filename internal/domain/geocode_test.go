package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockGeocoder struct {
	forward    GeocodingResult
	forwardErr error
	reverse    GeocodingResult
	reverseErr error

	forwardCalls int
	reverseCalls int
}

func (m *mockGeocoder) ForwardGeocode(_ context.Context, _ string) (GeocodingResult, error) {
	m.forwardCalls++
	return m.forward, m.forwardErr
}

func (m *mockGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (GeocodingResult, error) {
	m.reverseCalls++
	return m.reverse, m.reverseErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnrichWithGeocoding(t *testing.T) {
	ctx := context.Background()
	label := "Lime Kiln"

	base := func() Sighting {
		return Sighting{
			Timestamp: time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC),
			Source:    "citizen",
		}
	}

	t.Run("nil geocoder is a no-op", func(t *testing.T) {
		s := base()
		s.LocationLabel = &label
		out := EnrichWithGeocoding(ctx, s, nil, discardLogger())
		assert.Nil(t, out.Coordinates)
	})

	t.Run("label-only record gains coordinates", func(t *testing.T) {
		geo := &mockGeocoder{forward: GeocodingResult{Lat: 48.516, Lng: -123.152, PlaceName: "Lime Kiln Point", Confidence: 0.95}}
		s := base()
		s.LocationLabel = &label

		out := EnrichWithGeocoding(ctx, s, geo, discardLogger())
		require.NotNil(t, out.Coordinates)
		assert.Equal(t, 48.516, out.Coordinates.Lat)
		assert.Equal(t, 1, geo.forwardCalls)
		assert.Equal(t, 0, geo.reverseCalls)
	})

	t.Run("coordinate-only record gains a label", func(t *testing.T) {
		geo := &mockGeocoder{reverse: GeocodingResult{PlaceName: "Haro Strait", Confidence: 0.8}}
		s := base()
		s.Coordinates = &Coordinates{Lat: 48.5, Lng: -123.2}

		out := EnrichWithGeocoding(ctx, s, geo, discardLogger())
		require.NotNil(t, out.LocationLabel)
		assert.Equal(t, "Haro Strait", *out.LocationLabel)
		assert.Equal(t, 0, geo.forwardCalls)
		assert.Equal(t, 1, geo.reverseCalls)
	})

	t.Run("complete record is untouched", func(t *testing.T) {
		geo := &mockGeocoder{}
		s := base()
		s.LocationLabel = &label
		s.Coordinates = &Coordinates{Lat: 48.5, Lng: -123.2}

		EnrichWithGeocoding(ctx, s, geo, discardLogger())
		assert.Equal(t, 0, geo.forwardCalls)
		assert.Equal(t, 0, geo.reverseCalls)
	})

	t.Run("provider error leaves the record unchanged", func(t *testing.T) {
		geo := &mockGeocoder{forwardErr: errors.New("rate limited")}
		s := base()
		s.LocationLabel = &label

		out := EnrichWithGeocoding(ctx, s, geo, discardLogger())
		assert.Nil(t, out.Coordinates)
	})

	t.Run("empty result leaves the record unchanged", func(t *testing.T) {
		geo := &mockGeocoder{}
		s := base()
		s.LocationLabel = &label

		out := EnrichWithGeocoding(ctx, s, geo, discardLogger())
		assert.Nil(t, out.Coordinates)
	})
}
