package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"booktape/domain/event"
)

// Publisher mirrors landed events to a downstream topic for lake
// consumers that tail the normalized stream instead of the log files.
// Messages are keyed by instrument so a consumer sees each scope in
// landed order.
type Publisher struct {
	writer *kafka.Writer
	buf    []byte
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish sends one event in the log's wire encoding.
func (p *Publisher) Publish(ctx context.Context, ev *event.Event) error {
	payload, err := event.AppendMarshal(p.buf[:0], ev)
	if err != nil {
		return err
	}
	p.buf = payload
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Instrument),
		Value: payload,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
