package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes completion notices to a Kafka topic, keyed by job
// name so every notice of one job lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher for topic on brokers
func NewKafkaPublisher(logger *zap.Logger, brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			WriteTimeout:           10 * time.Second,
			AllowAutoTopicCreation: true,
		},
		logger: logger.With(zap.String("component", "signal"), zap.String("topic", topic)),
	}
}

// Publish sends one notice
func (p *KafkaPublisher) Publish(ctx context.Context, m Message) error {
	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal completion message: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.Job),
		Value: value,
		Time:  m.CompletedAt,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(m.Status)},
			{Key: "cycle_id", Value: []byte(m.CycleID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish completion message: %w", err)
	}

	p.logger.Info("published completion message",
		zap.String("cycle_id", m.CycleID),
		zap.String("status", string(m.Status)),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
