// Package notify доставляет события о заказах внешним получателям.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/mmeshcher/storefront/internal/model"
)

// ErrDisabled возвращается, если для получателя не задан адрес.
var ErrDisabled = errors.New("publisher disabled")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher публикует события в топик Kafka. Ключом сообщения служит
// идентификатор заказа, поэтому события одного заказа попадают в одну партицию.
type KafkaPublisher struct {
	writer messageWriter
}

// ParseBrokers разбирает список брокеров, разделённых запятыми.
func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewKafkaPublisher создаёт издателя для брокеров brokersCSV и топика topic.
func NewKafkaPublisher(brokersCSV, topic string) (*KafkaPublisher, error) {
	brokers := ParseBrokers(brokersCSV)
	if len(brokers) == 0 {
		return nil, ErrDisabled
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Publish отправляет событие и ждёт подтверждения брокера.
func (p *KafkaPublisher) Publish(ctx context.Context, e model.Event) error {
	msg, err := message(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close сбрасывает буферы и закрывает соединения.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func message(e model.Event) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.OrderID),
		Value: data,
		Time:  e.CreatedAt.UTC(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
			{Key: "event-id", Value: []byte(e.EventID)},
		},
	}, nil
}
