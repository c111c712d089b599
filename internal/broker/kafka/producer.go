package kafka

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/BearBump/FreightDesk/internal/broker/messages"
)

// Заголовки, по которым консьюмеры фильтруют и дедуплицируют события без разбора тела.
const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string) *Producer {
	return newProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	})
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w}
}

// PublishEvent пишет конверт события с ключом по агрегату: Hash-балансировщик
// кладёт события одной заявки или отгрузки в одну партицию, порядок сохраняется.
func (p *Producer) PublishEvent(ctx context.Context, topic string, ev messages.DeskEvent) error {
	if ev.ID == "" || ev.AggregateID == "" {
		return errors.Errorf("kafka publish: event %q has no aggregate id", ev.ID)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrapf(err, "marshal event %s", ev.ID)
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(ev.AggregateID),
		Value: b,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(ev.Type)},
			{Key: HeaderEventID, Value: []byte(ev.ID)},
		},
	}); err != nil {
		return errors.Wrapf(err, "kafka publish %s", ev.Type)
	}
	return nil
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
