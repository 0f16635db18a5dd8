package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/salishsea/whale-map-etl/internal/config"
	"github.com/salishsea/whale-map-etl/internal/domain"
)

// Writer republishes normalized sightings to the sink topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishBatch serializes and publishes the sightings in a single
// WriteMessages call for efficiency.
func (w *Writer) PublishBatch(ctx context.Context, sightings []domain.Sighting) error {
	if len(sightings) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(sightings))
	for i := range sightings {
		msg, err := serializeToMessage(sightings[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Sighting into a Kafka message. The message
// key is the sighting ID so compacted downstream topics keep one record per
// sighting.
func serializeToMessage(sighting domain.Sighting) (kafkago.Message, error) {
	data, err := json.Marshal(sighting)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize sighting: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(sighting.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(sighting.Source)},
			{Key: "synced_at", Value: []byte(sighting.SyncedAt.Format(time.RFC3339))},
		},
	}, nil
}
