package execution

import (
	"context"
	"errors"
	"sync"
	"time"

	"skylift/pkg/event"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUserAlreadySet is returned when a handler sets the authenticated
	// user twice without an explicit Reauthenticate.
	ErrUserAlreadySet = errors.New("authenticated user already set")

	// ErrNoEmitter is returned when a handler emits a message but the
	// adapter supplied no emit capability.
	ErrNoEmitter = errors.New("no message emitter configured")
)

// Context is the per-event scoped state: deadline and cancellation, the
// authenticated-user slot, correlation id, and the emit capability. It is
// owned by one dispatch pipeline for the lifetime of one event and never
// shared across concurrent events.
type Context struct {
	ctx    context.Context
	cancel context.CancelFunc

	requestID    string
	connectionID string

	mu   sync.Mutex
	user *event.User

	emitter event.Emitter
	log     *logrus.Entry
}

// Option configures a new Context.
type Option func(*Context)

// WithRequestID propagates an inbound correlation id instead of minting one.
func WithRequestID(id string) Option {
	return func(c *Context) {
		if id != "" {
			c.requestID = id
		}
	}
}

// WithConnectionID binds the context to a WebSocket connection.
func WithConnectionID(id string) Option {
	return func(c *Context) { c.connectionID = id }
}

// WithEmitter injects the emit-message capability.
func WithEmitter(e event.Emitter) Option {
	return func(c *Context) { c.emitter = e }
}

// WithUser pre-binds an authenticated user, e.g. a queue message's attached
// user id or an already-authenticated WebSocket connection.
func WithUser(u *event.User) Option {
	return func(c *Context) { c.user = u }
}

// New creates an execution context with a deadline. Close must be called on
// every exit path to release the timer.
func New(parent context.Context, timeout time.Duration, opts ...Option) *Context {
	c := &Context{requestID: uuid.New().String()}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithTimeout(parent, timeout)
	c.log = logrus.WithField("request_id", c.requestID)
	if c.connectionID != "" {
		c.log = c.log.WithField("connection_id", c.connectionID)
	}
	return c
}

// context.Context implementation, delegating to the deadline context.

func (c *Context) Deadline() (time.Time, bool) { return c.ctx.Deadline() }
func (c *Context) Done() <-chan struct{}       { return c.ctx.Done() }
func (c *Context) Err() error                  { return c.ctx.Err() }
func (c *Context) Value(key any) any           { return c.ctx.Value(key) }

// RequestID returns the correlation id for this event.
func (c *Context) RequestID() string { return c.requestID }

// ConnectionID returns the WebSocket connection id, or empty.
func (c *Context) ConnectionID() string { return c.connectionID }

// Remaining reports the time left before the deadline fires.
func (c *Context) Remaining() time.Duration {
	deadline, ok := c.ctx.Deadline()
	if !ok {
		return 0
	}
	return time.Until(deadline)
}

// SetUser stores the authenticated user. The slot is settable exactly once
// per event; use Reauthenticate to replace an existing identity.
func (c *Context) SetUser(u *event.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user != nil {
		return ErrUserAlreadySet
	}
	c.user = u
	return nil
}

// Reauthenticate replaces the authenticated user explicitly.
func (c *Context) Reauthenticate(u *event.User) {
	c.mu.Lock()
	c.user = u
	c.mu.Unlock()
}

// User returns the authenticated user, or nil.
func (c *Context) User() *event.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Authenticated reports whether a user has been bound to this event.
func (c *Context) Authenticated() bool { return c.User() != nil }

// Emit sends a follow-on message through the injected emitter. The
// authenticated user id is attached when not already set on the message.
func (c *Context) Emit(msg event.OutboundMessage) error {
	if c.emitter == nil {
		return ErrNoEmitter
	}
	if msg.UserID == "" {
		if u := c.User(); u != nil {
			msg.UserID = u.ID
		}
	}
	return c.emitter.Emit(c.ctx, msg)
}

// Log returns a logrus entry scoped with the event's correlation id.
func (c *Context) Log() *logrus.Entry { return c.log }

// Cancel fires the cancellation signal without waiting for the deadline.
func (c *Context) Cancel() { c.cancel() }

// Close releases the deadline timer. Safe to call more than once; every
// dispatch exit path must reach it.
func (c *Context) Close() { c.cancel() }
