package queuedispatch

import (
	"bytes"
	"context"
	"testing"
	"time"

	"skylift/internal/execution"
	"skylift/internal/modules"
	"skylift/internal/payloadstore"
	"skylift/pkg/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureTransport struct {
	last event.OutboundMessage
}

func (c *captureTransport) Emit(_ context.Context, msg event.OutboundMessage) error {
	c.last = msg
	return nil
}

func TestEmitterOffloadsOversizedBody(t *testing.T) {
	queues := NewRegistry()
	require.NoError(t, queues.Register(&Definition{Name: "orders", Module: "workers/orders"}))

	store := payloadstore.NewMemoryStore()
	transport := &captureTransport{}
	emitter := NewEmitter(queues, transport, WithOffload(store, 64))

	small := []byte(`{"n":1}`)
	require.NoError(t, emitter.Emit(context.Background(), event.OutboundMessage{Queue: "orders", Body: small}))
	assert.Equal(t, small, transport.last.Body, "small bodies travel inline")

	big := bytes.Repeat([]byte("x"), 128)
	require.NoError(t, emitter.Emit(context.Background(), event.OutboundMessage{Queue: "orders", Body: big}))

	key := offloadKey(transport.last.Body)
	require.NotEmpty(t, key, "oversized bodies travel as reference envelopes")

	stored, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, big, stored)
}

func TestEngineResolvesOffloadedPayload(t *testing.T) {
	queues := NewRegistry()
	require.NoError(t, queues.Register(&Definition{Name: "orders", Module: "workers/orders"}))

	store := payloadstore.NewMemoryStore()
	big := bytes.Repeat([]byte("x"), 128)
	require.NoError(t, store.Put(context.Background(), "k1", big))

	var seen []byte
	registry := modules.NewRegistry()
	require.NoError(t, registry.Register(&modules.Module{
		Path: "workers/orders",
		OnMessage: func(_ *execution.Context, msg *event.Message) error {
			seen = msg.Body
			return nil
		},
	}))

	engine := NewEngine(queues, registry, WithPayloadStore(store))
	result := engine.HandleBatch(context.Background(), []*event.Message{{
		ID:    "m1",
		Queue: "orders",
		Body:  []byte(`{"payload_ref":"k1"}`),
	}}, func() time.Duration { return time.Minute })

	require.Empty(t, result.FailedIDs)
	assert.Equal(t, big, seen, "handler sees the resolved payload")

	_, err := store.Get(context.Background(), "k1")
	assert.ErrorIs(t, err, payloadstore.ErrNotFound, "payload deleted after success")
}

func TestEngineFailsMessageWhenPayloadMissing(t *testing.T) {
	queues := NewRegistry()
	require.NoError(t, queues.Register(&Definition{Name: "orders", Module: "workers/orders"}))

	invoked := false
	registry := modules.NewRegistry()
	require.NoError(t, registry.Register(&modules.Module{
		Path: "workers/orders",
		OnMessage: func(_ *execution.Context, _ *event.Message) error {
			invoked = true
			return nil
		},
	}))

	engine := NewEngine(queues, registry, WithPayloadStore(payloadstore.NewMemoryStore()))
	result := engine.HandleBatch(context.Background(), []*event.Message{{
		ID:    "m1",
		Queue: "orders",
		Body:  []byte(`{"payload_ref":"ghost"}`),
	}}, func() time.Duration { return time.Minute })

	assert.Equal(t, []string{"m1"}, result.FailedIDs)
	assert.False(t, invoked, "handler never sees an unresolvable message")
}
