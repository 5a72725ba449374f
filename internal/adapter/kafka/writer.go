package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/property-forecast/internal/config"
	"github.com/couchcryptid/property-forecast/internal/domain"
	"github.com/couchcryptid/property-forecast/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces forecast events to the sink topic.
// It implements forecast.Publisher.
type Writer struct {
	writer  *kafkago.Writer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Writer{writer: w, logger: logger, metrics: metrics}
}

// Publish serializes and writes a single forecast event keyed by sector, so
// every forecast for a sector lands on the same partition.
func (w *Writer) Publish(ctx context.Context, event domain.ForecastEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		w.metrics.EventsPublished.WithLabelValues("error").Inc()
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		w.metrics.EventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("write forecast event: %w", err)
	}
	w.metrics.EventsPublished.WithLabelValues("success").Inc()
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a ForecastEvent into a Kafka message.
func serializeToMessage(event domain.ForecastEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize forecast event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Sector),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "bundle_id", Value: []byte(event.BundleID)},
			{Key: "served_at", Value: []byte(event.ServedAt.Format(time.RFC3339))},
		},
	}, nil
}
