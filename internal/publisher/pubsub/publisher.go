// Package pubsub publishes JSON messages to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrNotConfigured is returned when no topic publisher was supplied.
var ErrNotConfigured = errors.New("pubsub publisher is not configured")

// Publisher sends JSON payloads through one topic publisher. The topic
// argument of Publish is carried as an attribute for consumers that share a
// subscription across producers.
type Publisher struct {
	publisher *pubsub.Publisher
	service   string
}

// New wraps publisher. service is stamped on every message.
func New(publisher *pubsub.Publisher, service string) *Publisher {
	return &Publisher{publisher: publisher, service: service}
}

// Publish marshals payload, injects the trace context and waits for the
// server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.publisher == nil {
		return "", ErrNotConfigured
	}
	msg, err := p.message(ctx, topic, payload)
	if err != nil {
		return "", err
	}
	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) message(ctx context.Context, topic string, payload any) (*pubsub.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	attrs := propagation.MapCarrier{
		"content_type": "application/json",
	}
	if topic != "" {
		attrs["event_topic"] = topic
	}
	if p.service != "" {
		attrs["service"] = p.service
	}
	otel.GetTextMapPropagator().Inject(ctx, attrs)
	return &pubsub.Message{Data: data, Attributes: map[string]string(attrs)}, nil
}
