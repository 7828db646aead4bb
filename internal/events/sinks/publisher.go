package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/medprice/internal/events"
)

// Publisher sends a payload to a topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublisherSink forwards task outcomes and search completions to a message
// topic, one message per flushed batch. Start events are not published.
type PublisherSink struct {
	pub   Publisher
	topic string
}

// EventBatch is the published message body.
type EventBatch struct {
	Events []events.Event `json:"events"`
}

// NewPublisherSink wraps pub.
func NewPublisherSink(pub Publisher, topic string) (*PublisherSink, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	return &PublisherSink{pub: pub, topic: topic}, nil
}

// Consume publishes the terminal events in batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	out := make([]events.Event, 0, len(batch))
	for _, evt := range batch {
		if evt.Stage.Terminal() || evt.Stage == events.StageSearchDone {
			out = append(out, evt)
		}
	}
	if len(out) == 0 {
		return nil
	}
	if _, err := s.pub.Publish(ctx, s.topic, EventBatch{Events: out}); err != nil {
		return fmt.Errorf("publish %d events: %w", len(out), err)
	}
	return nil
}

// Close is a no-op; the publisher is owned by the caller.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
