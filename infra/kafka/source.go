// Package kafka adapts the ingestion collaborator's normalized
// update-log topics to the event model. One topic partition carries one
// (instrument, partition) scope, already ordered; this side only lands
// records into the local event log, it never reorders or interprets
// them.
package kafka

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"

	"booktape/domain/event"
	"booktape/infra/eventlog"
)

// Source reads events from one topic partition.
type Source struct {
	reader *kafka.Reader
}

func NewSource(brokers []string, topic string, partition int) *Source {
	return &Source{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:   brokers,
			Topic:     topic,
			Partition: partition,
			MinBytes:  1,
			MaxBytes:  10 * 1024 * 1024,
		}),
	}
}

// Next blocks for the next event until ctx ends.
func (s *Source) Next(ctx context.Context) (*event.Event, error) {
	msg, err := s.reader.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	return event.Unmarshal(msg.Value)
}

// Land copies up to maxEvents into w, stopping early when ctx ends.
// Returns the number landed; context expiry is a normal stop, not an
// error. When mirror is non-nil each landed event is also republished;
// the local append is the durability boundary, so a mirror failure
// aborts before the event counts as landed.
func (s *Source) Land(ctx context.Context, w *eventlog.Writer, mirror *Publisher, maxEvents int) (int, error) {
	landed := 0
	for maxEvents <= 0 || landed < maxEvents {
		ev, err := s.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return landed, err
		}
		if err := w.Append(ev); err != nil {
			return landed, err
		}
		if mirror != nil {
			if err := mirror.Publish(ctx, ev); err != nil {
				return landed, err
			}
		}
		landed++
	}
	if err := w.Sync(); err != nil {
		return landed, err
	}
	return landed, nil
}

func (s *Source) Close() error {
	return s.reader.Close()
}
