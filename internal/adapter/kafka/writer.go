// Package kafka announces recorded file manifests on a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/geodata-etl/internal/config"
	"github.com/couchcryptid/geodata-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher produces one message per manifest to the manifest topic.
// It implements pipeline.ManifestSink.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured manifest topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaManifestTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// Name identifies the publisher in sink metrics and warnings.
func (p *Publisher) Name() string { return "kafka" }

// Publish writes all manifests in a single WriteMessages call.
func (p *Publisher) Publish(ctx context.Context, manifests []domain.Manifest) error {
	if len(manifests) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(manifests))
	for i := range manifests {
		msg, err := serializeToMessage(manifests[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d manifests: %w", len(msgs), err)
	}
	p.logger.Debug("manifests published", "topic", p.writer.Topic, "count", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage keys the message by content hash so re-ingesting an
// identical file lands on the same partition.
func serializeToMessage(m domain.Manifest) (kafkago.Message, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize manifest %s: %w", m.Filename, err)
	}
	return kafkago.Message{
		Key:   []byte(m.Hash),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "data_type", Value: []byte(m.DataType)},
			{Key: "ingested_at", Value: []byte(m.IngestedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
