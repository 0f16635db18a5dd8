package pipeline

import (
	"context"
	"log/slog"

	"github.com/salishsea/whale-map-etl/internal/domain"
)

// SightingTransformer implements Transformer using the domain normalization
// functions with optional geocoding enrichment.
type SightingTransformer struct {
	geocoder domain.Geocoder
	logger   *slog.Logger
}

// NewTransformer creates a SightingTransformer. Pass a nil geocoder to
// disable geocoding enrichment.
func NewTransformer(geocoder domain.Geocoder, logger *slog.Logger) *SightingTransformer {
	return &SightingTransformer{
		geocoder: geocoder,
		logger:   logger,
	}
}

// Transform normalizes a raw record into a canonical sighting. Index fields
// are derived later, once the sync batch assigns its data version.
func (t *SightingTransformer) Transform(ctx context.Context, raw domain.RawRecord) (domain.Sighting, error) {
	sighting, err := domain.ParseRawRecord(raw)
	if err != nil {
		return domain.Sighting{}, err
	}

	sighting = domain.EnrichWithGeocoding(ctx, sighting, t.geocoder, t.logger)
	return sighting, nil
}
