package outbox

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"

	"github.com/akylbek/payment-system/ride-payments/internal/models"
)

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink writes to the message's topic, so the writer must not pin one.
type KafkaSink struct {
	writer KafkaWriter
}

func NewKafkaSink(writer KafkaWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Publish(ctx context.Context, msg *models.OutboxMessage) error {
	err := s.writer.WriteMessages(ctx, kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: "outbox-id", Value: []byte(msg.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", msg.Topic, err)
	}
	return nil
}

type NatsPublisher interface {
	PublishMsg(m *nats.Msg) error
}

type NatsSink struct {
	conn NatsPublisher
}

func NewNatsSink(conn NatsPublisher) *NatsSink {
	return &NatsSink{conn: conn}
}

func (s *NatsSink) Publish(_ context.Context, msg *models.OutboxMessage) error {
	m := nats.NewMsg(msg.Topic)
	m.Data = msg.Payload
	m.Header.Set(nats.MsgIdHdr, msg.ID)
	m.Header.Set("Key", msg.Key)
	if err := s.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("nats publish %s: %w", msg.Topic, err)
	}
	return nil
}
