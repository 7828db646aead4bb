package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestPublishWithoutTopicPublisher(t *testing.T) {
	t.Parallel()

	var nilPub *Publisher
	_, err := nilPub.Publish(context.Background(), "t", nil)
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = New(nil, "medprice").Publish(context.Background(), "t", nil)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestMessageCarriesAttributesAndTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	p := New(nil, "medprice")
	msg, err := p.message(ctx, "search-events", map[string]string{"stage": "SEARCH_DONE"})
	require.NoError(t, err)
	require.Equal(t, "application/json", msg.Attributes["content_type"])
	require.Equal(t, "search-events", msg.Attributes["event_topic"])
	require.Equal(t, "medprice", msg.Attributes["service"])
	require.Contains(t, msg.Attributes["traceparent"], "4bf92f3577b34da6a3ce929d0e0e4736")

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, "SEARCH_DONE", decoded["stage"])
}

func TestMessageRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "").message(context.Background(), "", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}
