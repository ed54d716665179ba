package event

import "context"

// Emitter sends follow-on messages to a named queue. The dispatch core
// injects one into every execution context; implementations live in the
// transport adapters (SQS in production, an in-process loop in dev mode).
type Emitter interface {
	Emit(ctx context.Context, msg OutboundMessage) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, msg OutboundMessage) error

func (f EmitterFunc) Emit(ctx context.Context, msg OutboundMessage) error {
	return f(ctx, msg)
}
