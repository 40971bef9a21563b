// Package announce publishes committed rebuild results so downstream
// lake consumers can pick up fresh checkpoints. Announcements are
// best-effort: a failed publish never rolls back a committed rebuild.
package announce

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	"booktape/builder"
)

type Announcer struct {
	producer sarama.SyncProducer
	topic    string
}

// New connects a synchronous producer with full-acknowledgement
// delivery.
func New(brokers []string, topic string) (*Announcer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Announcer{producer: producer, topic: topic}, nil
}

// Announce implements builder.Announcer. The message key is the scope
// so one scope's rebuilds land on one partition, in order.
func (a *Announcer) Announce(_ context.Context, res *builder.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, _, err = a.producer.SendMessage(&sarama.ProducerMessage{
		Topic: a.topic,
		Key:   sarama.StringEncoder(res.Instrument + "/" + res.Partition),
		Value: sarama.ByteEncoder(payload),
	})
	return err
}

func (a *Announcer) Close() error {
	return a.producer.Close()
}
