//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

// startKafka launches a single-broker Kafka container and returns its
// bootstrap address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("test-cluster"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err, "resolve kafka brokers")
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err, "dial broker")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "resolve controller")

	controllerConn, err := kafkago.Dial("tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err, "dial controller")
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sampleReports returns the raw sighting payloads published during the
// end-to-end tests. Shapes deliberately vary: aliased field names, string
// numbers, nested coordinates, and missing optionals all appear in the real
// feeds.
func sampleReports() []string {
	return []string{
		`{"id":"hyd-001","timestamp":"2024-06-01T06:10:00Z","location":"Lime Kiln","lat":48.516,"lng":-123.152,"group_size":4,"behavior":"foraging","confidence":0.92,"source":"hydrophone"}`,
		`{"sighting_id":"app-002","date":"2024-06-01 09:30:00","location_label":"Lime Kiln","latitude":"48.52","longitude":"-123.15","count":"3","activity":"milling and feeding","confidence":"0.7","source":"citizen"}`,
		`{"timestamp":"2024-06-01T18:45:00Z","coordinates":{"lat":48.87,"lng":-123.29},"behavior":"northbound travel","confidence":0.55,"source":"ferry"}`,
		`{"id":"app-004","timestamp":"2024-06-02T13:05:00Z","location":"Active Pass","group_size":7,"behavior":"resting","confidence":0.81,"source":"citizen"}`,
	}
}
