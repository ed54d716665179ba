package queuedispatch

import (
	"context"
	"fmt"

	"skylift/internal/payloadstore"
	"skylift/pkg/event"
)

// Emitter validates outbound messages against the queue registry before
// handing them to the transport: FIFO queues require a group id on every
// message, and standard queues reject one outright rather than silently
// ignoring it. With a payload store attached, bodies over the inline limit
// travel as reference envelopes.
type Emitter struct {
	queues    *Registry
	transport event.Emitter
	payloads  payloadstore.Store
	maxInline int
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithOffload attaches a payload store for oversized bodies. A
// non-positive limit falls back to the transport default.
func WithOffload(store payloadstore.Store, maxInlineBytes int) EmitterOption {
	return func(e *Emitter) {
		e.payloads = store
		if maxInlineBytes > 0 {
			e.maxInline = maxInlineBytes
		}
	}
}

// NewEmitter wraps a transport emitter with queue-definition validation.
func NewEmitter(queues *Registry, transport event.Emitter, opts ...EmitterOption) *Emitter {
	e := &Emitter{queues: queues, transport: transport, maxInline: DefaultMaxInlineBytes}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit implements event.Emitter.
func (e *Emitter) Emit(ctx context.Context, msg event.OutboundMessage) error {
	def, ok := e.queues.Lookup(msg.Queue)
	if !ok {
		return fmt.Errorf("queue %q is not registered", msg.Queue)
	}

	if def.FIFO() {
		if msg.GroupID == "" {
			return fmt.Errorf("queue %q: FIFO queues require a group id on every message", msg.Queue)
		}
	} else {
		if msg.GroupID != "" {
			return fmt.Errorf("queue %q: group id supplied for a non-FIFO queue", msg.Queue)
		}
		if msg.DedupeID != "" {
			return fmt.Errorf("queue %q: dedupe id supplied for a non-FIFO queue", msg.Queue)
		}
	}

	if e.payloads != nil && len(msg.Body) > e.maxInline {
		envelope, err := offloadBody(ctx, e.payloads, msg.Body)
		if err != nil {
			return fmt.Errorf("queue %q: %w", msg.Queue, err)
		}
		msg.Body = envelope
	}

	return e.transport.Emit(ctx, msg)
}
