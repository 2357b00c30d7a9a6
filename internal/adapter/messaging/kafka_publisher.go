package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const (
	DefaultMovementTopic = "stock.movements"
	movementEventType    = "stock.movement.recorded"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes movements keyed by product and warehouse, so every
// movement of one ledger row lands on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultMovementTopic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) Name() string {
	return "kafka"
}

func (p *KafkaPublisher) Publish(ctx context.Context, m domain.StockMovement) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal movement: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(m.Key().String()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(movementEventType)},
			{Key: "movement-id", Value: []byte(m.ID)},
			{Key: "movement-type", Value: []byte(m.Type)},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: m.CreatedAt,
	}
	if m.ReferenceID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "reference-id", Value: []byte(m.ReferenceID)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write movement to %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
