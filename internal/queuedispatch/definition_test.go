package queuedispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"skylift/pkg/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitionValidation(t *testing.T) {
	tests := []struct {
		name    string
		def     *Definition
		wantErr bool
	}{
		{name: "standard", def: &Definition{Name: "orders", Module: "m"}},
		{name: "fifo", def: &Definition{Name: "orders.fifo", Module: "m"}},
		{name: "max timeout", def: &Definition{Name: "slow", Module: "m", TimeoutSeconds: 500}},
		{name: "timeout too large", def: &Definition{Name: "slow", Module: "m", TimeoutSeconds: 501}, wantErr: true},
		{name: "bad characters", def: &Definition{Name: "orders!", Module: "m"}, wantErr: true},
		{name: "too long", def: &Definition{Name: strings.Repeat("q", 41), Module: "m"}, wantErr: true},
		{name: "long fifo ok", def: &Definition{Name: strings.Repeat("q", 40) + ".fifo", Module: "m"}},
		{name: "missing module", def: &Definition{Name: "orders"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.def)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefinitionDefaults(t *testing.T) {
	d := &Definition{Name: "orders.fifo", Module: "m"}
	assert.True(t, d.FIFO())
	assert.Equal(t, 30*time.Second, d.Timeout())

	d = &Definition{Name: "orders", Module: "m", TimeoutSeconds: 120}
	assert.False(t, d.FIFO())
	assert.Equal(t, 2*time.Minute, d.Timeout())
}

func TestEmitterGroupIDRules(t *testing.T) {
	queues := NewRegistry()
	require.NoError(t, queues.Register(&Definition{Name: "orders.fifo", Module: "m"}))
	require.NoError(t, queues.Register(&Definition{Name: "events", Module: "m"}))

	var sent []event.OutboundMessage
	transport := event.EmitterFunc(func(_ context.Context, msg event.OutboundMessage) error {
		sent = append(sent, msg)
		return nil
	})
	emitter := NewEmitter(queues, transport)

	ctx := context.Background()

	err := emitter.Emit(ctx, event.OutboundMessage{Queue: "orders.fifo"})
	assert.ErrorContains(t, err, "require a group id")

	require.NoError(t, emitter.Emit(ctx, event.OutboundMessage{Queue: "orders.fifo", GroupID: "g1"}))

	err = emitter.Emit(ctx, event.OutboundMessage{Queue: "events", GroupID: "g1"})
	assert.ErrorContains(t, err, "non-FIFO")

	require.NoError(t, emitter.Emit(ctx, event.OutboundMessage{Queue: "events"}))

	err = emitter.Emit(ctx, event.OutboundMessage{Queue: "unknown"})
	assert.ErrorContains(t, err, "not registered")

	assert.Len(t, sent, 2)
}
