//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salishsea/whale-map-etl/internal/adapter/kafka"
	"github.com/salishsea/whale-map-etl/internal/config"
	"github.com/salishsea/whale-map-etl/internal/domain"
	"github.com/salishsea/whale-map-etl/internal/observability"
	"github.com/salishsea/whale-map-etl/internal/pipeline"
	"github.com/salishsea/whale-map-etl/internal/store"
)

const (
	testSourceTopic = "test-raw-sightings"
	testSinkTopic   = "test-normalized-sightings"
)

// sinkMessage holds a deserialized message read from the sink topic.
type sinkMessage struct {
	Sighting domain.Sighting
	Key      string
	Headers  map[string]string
}

// readSink reads a single message from the sink consumer and deserializes it.
func readSink(ctx context.Context, t *testing.T, consumer *kafkago.Reader) sinkMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var sighting domain.Sighting
	require.NoError(t, json.Unmarshal(msg.Value, &sighting), "unmarshal sink message")

	return sinkMessage{
		Sighting: sighting,
		Key:      string(msg.Key),
		Headers:  headers,
	}
}

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:       []string{broker},
		KafkaSourceTopic:   testSourceTopic,
		KafkaSinkTopic:     testSinkTopic,
		KafkaGroupID:       group,
		BatchFlushInterval: 5 * time.Second,
	}
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sightings.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// TestKafkaReaderWriter verifies the adapter layer: kafka.Reader (extractor)
// and kafka.Writer (publisher) correctly round-trip a message through Kafka.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)

	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)

	cfg := testConfig(broker, fmt.Sprintf("test-reader-%d", time.Now().UnixNano()))

	payload := []byte(sampleReports()[0])
	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte("test-key"),
		Value: payload,
		Time:  time.Date(2024, time.June, 1, 6, 10, 0, 0, time.UTC),
	}))

	// Extract via kafka.Reader.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	batch, err := reader.ExtractBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	raw := batch[0]
	assert.Equal(t, []byte("test-key"), raw.Key)
	assert.Equal(t, payload, raw.Value)
	assert.Equal(t, testSourceTopic, raw.Topic)
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	// Normalize the raw record into a sighting.
	transformer := pipeline.NewTransformer(nil, discardLogger())
	sighting, err := transformer.Transform(ctx, raw)
	require.NoError(t, err)
	sighting = domain.Enrich(sighting, "test-version")

	// Publish via kafka.Writer.
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	require.NoError(t, writer.PublishBatch(ctx, []domain.Sighting{sighting}))

	// Read from the sink topic and verify key, headers, and value.
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	sm := readSink(ctx, t, consumer)
	assert.Equal(t, "hyd-001", sm.Key)
	assert.Equal(t, "hydrophone", sm.Headers["source"])
	_, err = time.Parse(time.RFC3339, sm.Headers["synced_at"])
	assert.NoError(t, err, "synced_at should be valid RFC3339")

	assert.Equal(t, "hyd-001", sm.Sighting.ID)
	assert.Equal(t, "Lime Kiln", sm.Sighting.LocationName())
	assert.Equal(t, domain.SlotDawn, sm.Sighting.TimeSlot)
	assert.Equal(t, domain.BehaviorFeeding, sm.Sighting.BehaviorCategory)
}

// TestPipelineEndToEnd wires the full pipeline (reader, transformer, store,
// writer) against real Kafka and verifies ingestion, the materialized map
// cache, and sink republication.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)

	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)

	cfg := testConfig(broker, fmt.Sprintf("test-pipeline-%d", time.Now().UnixNano()))

	reports := sampleReports()
	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	msgs := make([]kafkago.Message, 0, len(reports))
	for i, report := range reports {
		msgs = append(msgs, kafkago.Message{
			Key:   []byte(fmt.Sprintf("record-%d", i)),
			Value: []byte(report),
			Time:  time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	require.NoError(t, producer.WriteMessages(ctx, msgs...))

	// Wire up the pipeline.
	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	st := testStore(t)
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(reader, pipeline.NewTransformer(nil, discardLogger()), st, writer,
		discardLogger(), metrics, 50, 7)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	// Read all normalized sightings from the sink topic.
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	received := make([]sinkMessage, 0, len(reports))
	for len(received) < len(reports) {
		received = append(received, readSink(ctx, t, consumer))
	}

	pipelineCancel()
	require.NoError(t, <-errCh)

	// Every sink message carries source and synced_at headers and indexed fields.
	bySource := map[string]int{}
	for _, sm := range received {
		bySource[sm.Sighting.Source]++
		assert.NotEmpty(t, sm.Headers["source"], "missing source header")
		assert.Contains(t, sm.Headers, "synced_at", "missing synced_at header")
		assert.NotEmpty(t, sm.Sighting.TimeSlot, "missing time slot")
		assert.NotEmpty(t, sm.Sighting.SearchTags, "missing search tags")
	}
	assert.Equal(t, map[string]int{"hydrophone": 1, "citizen": 2, "ferry": 1}, bySource)

	// The store holds every sighting and a materialized snapshot.
	count, err := st.SightingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(reports), count)

	snap, version, found, err := st.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, found, "snapshot should be materialized")
	assert.GreaterOrEqual(t, version, int64(1))
	assert.Equal(t, len(reports), snap.TotalSightings)

	// Lime Kiln got two sightings, so it leads the hotspot list.
	require.NotEmpty(t, snap.Hotspots)
	assert.Equal(t, "Lime Kiln", snap.Hotspots[0].Name)
	assert.Equal(t, 2, snap.Hotspots[0].Count)

	// A report with no supplied ID still got a deterministic key.
	status, foundStatus, err := st.ImportStatus(ctx)
	require.NoError(t, err)
	require.True(t, foundStatus)
	assert.Equal(t, 0, status.SkippedCount)
}

// TestPipelinePoisonPill verifies that an invalid message is skipped and the
// pipeline continues processing valid messages.
func TestPipelinePoisonPill(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)

	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)

	cfg := testConfig(broker, fmt.Sprintf("test-poison-%d", time.Now().UnixNano()))

	producer := &kafkago.Writer{
		Addr:  kafkago.TCP(broker),
		Topic: testSourceTopic,
	}
	t.Cleanup(func() { _ = producer.Close() })

	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{"), Time: time.Now()},
		kafkago.Message{Key: []byte("good"), Value: []byte(sampleReports()[0]), Time: time.Now()},
	))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	st := testStore(t)
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(reader, pipeline.NewTransformer(nil, discardLogger()), st, writer,
		discardLogger(), metrics, 50, 7)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	// Only the valid message should appear on the sink topic.
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	sm := readSink(ctx, t, consumer)
	assert.Equal(t, "hyd-001", sm.Sighting.ID)

	// Verify no second message arrives (the poison pill was skipped).
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err := consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no second message on sink topic")

	pipelineCancel()
	require.NoError(t, <-errCh)

	count, err := st.SightingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	status, found, err := st.ImportStatus(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, status.SkippedCount)
}
