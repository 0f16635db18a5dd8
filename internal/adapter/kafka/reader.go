// Package kafka adapts the sighting feed topics to the pipeline interfaces.
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/salishsea/whale-map-etl/internal/config"
	"github.com/salishsea/whale-map-etl/internal/domain"
)

// Reader consumes raw sighting reports from the source topic.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader        *kafkago.Reader
	logger        *slog.Logger
	flushInterval time.Duration
}

// NewReader creates a consumer-group reader for the configured source topic.
// Offsets are committed explicitly through each record's Commit hook, never
// on fetch, so redelivery covers any batch that dies mid-sync.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaSourceTopic,
		GroupID:     cfg.KafkaGroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	return &Reader{reader: r, logger: logger, flushInterval: cfg.BatchFlushInterval}
}

// ExtractBatch blocks for the first record, then keeps fetching until the
// batch is full or the flush interval elapses. A partial batch is returned
// rather than held, so low-traffic hours still sync promptly.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawRecord, error) {
	first, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	batch := []domain.RawRecord{r.mapMessage(first)}

	deadline, cancel := context.WithTimeout(ctx, r.flushInterval)
	defer cancel()

	for len(batch) < batchSize {
		msg, err := r.reader.FetchMessage(deadline)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				break // flush the partial batch
			}
			if ctx.Err() != nil {
				break // drain what we have, caller sees cancellation next cycle
			}
			r.logger.Warn("fetch failed mid-batch, flushing partial batch",
				"error", err, "collected", len(batch))
			break
		}
		batch = append(batch, r.mapMessage(msg))
	}
	return batch, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessage converts a Kafka message into the transport-neutral RawRecord
// and wires its Commit hook to the consumer group offset commit.
func (r *Reader) mapMessage(msg kafkago.Message) domain.RawRecord {
	raw := mapMessageToRawRecord(msg)
	raw.Commit = func(ctx context.Context) error {
		return r.reader.CommitMessages(ctx, msg)
	}
	return raw
}

func mapMessageToRawRecord(msg kafkago.Message) domain.RawRecord {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawRecord{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
