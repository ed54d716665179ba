package wsdispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"skylift/internal/connstore"
	"skylift/internal/execution"
	"skylift/internal/modules"
	"skylift/pkg/event"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// actionField is the frame-embedded routing discriminator.
const actionField = "action"

// Sender pushes data to an open connection. Outbound sends happen
// out-of-band from the transport's perspective; implementations live in
// the adapters (API Gateway management API, local gorilla connection).
type Sender interface {
	Send(ctx context.Context, connID string, data []byte) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, connID string, data []byte) error

func (f SenderFunc) Send(ctx context.Context, connID string, data []byte) error {
	return f(ctx, connID, data)
}

// OfflineNotifier is called, best effort, when a user's last open
// connection disconnects.
type OfflineNotifier func(ctx context.Context, userID string)

// Pipeline handles the WebSocket connect / message / disconnect lifecycle.
// Each inbound frame is dispatched independently to a handler keyed by the
// frame's action discriminator.
type Pipeline struct {
	modules *modules.Registry
	store   connstore.Store
	emitter event.Emitter
	sender  Sender

	connectModule string
	defaultModule string
	actions       map[string]string
	offline       OfflineNotifier
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConnectModule designates the module whose hooks run at connect time.
func WithConnectModule(path string) Option {
	return func(p *Pipeline) { p.connectModule = path }
}

// WithAction routes frames carrying the given action to a module.
func WithAction(action, modulePath string) Option {
	return func(p *Pipeline) { p.actions[action] = modulePath }
}

// WithDefaultModule designates the fallback module for frames whose action
// matches no explicit route.
func WithDefaultModule(path string) Option {
	return func(p *Pipeline) { p.defaultModule = path }
}

// WithSender wires the outbound send capability.
func WithSender(s Sender) Option {
	return func(p *Pipeline) { p.sender = s }
}

// WithEmitter injects the emit capability into frame execution contexts.
func WithEmitter(e event.Emitter) Option {
	return func(p *Pipeline) { p.emitter = e }
}

// WithOfflineNotifier registers the last-connection-closed callback.
func WithOfflineNotifier(n OfflineNotifier) Option {
	return func(p *Pipeline) { p.offline = n }
}

// New creates a WebSocket dispatch pipeline over a module registry and a
// connection store.
func New(registry *modules.Registry, store connstore.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		modules: registry,
		store:   store,
		actions: make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleConnect registers the connection and runs connect-time hooks. A
// hook failure or a non-2xx handler response rejects the handshake; the
// adapter closes the socket and the connection is unregistered.
func (p *Pipeline) HandleConnect(ctx context.Context, connID string, req *event.Request) *event.Response {
	if err := p.store.Put(ctx, connstore.Connection{ID: connID}); err != nil {
		logrus.WithField("connection_id", connID).WithError(err).Error("Failed to register connection")
		return &event.Response{StatusCode: http.StatusInternalServerError}
	}

	if p.connectModule == "" {
		return &event.Response{StatusCode: http.StatusOK}
	}

	module, err := p.modules.Resolve(p.connectModule)
	if err != nil {
		logrus.WithField("module", p.connectModule).WithError(err).Error("Connect module failed to load")
		return p.reject(ctx, connID, http.StatusInternalServerError)
	}

	ec := execution.New(ctx, moduleTimeout(module),
		execution.WithConnectionID(connID),
		execution.WithEmitter(p.emitter),
		execution.WithRequestID(req.Header("X-Correlation-ID")),
	)
	defer ec.Close()

	if module.Hooks.Authenticate != nil {
		user, err := module.Hooks.Authenticate(ec, req)
		if err != nil {
			ec.Log().WithError(err).Warn("Connect authentication failed; rejecting handshake")
			return p.reject(ctx, connID, http.StatusForbidden)
		}
		if user != nil {
			if user.ID == "" {
				ec.Log().Warn("Connect authenticate hook returned user without stable ID")
				return p.reject(ctx, connID, http.StatusForbidden)
			}
			if err := p.store.BindUser(ctx, connID, user.ID); err != nil {
				ec.Log().WithError(err).Error("Failed to bind user to connection")
				return p.reject(ctx, connID, http.StatusInternalServerError)
			}
		}
		// nil user defers authentication to the first frame.
	}

	if module.Handler != nil {
		result, err := module.Handler(ec, req)
		if err != nil {
			if re, ok := event.AsResponseError(err); ok {
				if re.Response.StatusCode >= 300 {
					return p.reject(ctx, connID, re.Response.StatusCode)
				}
				return re.Response
			}
			ec.Log().WithError(err).Warn("onConnect handler failed; rejecting handshake")
			return p.reject(ctx, connID, http.StatusInternalServerError)
		}
		if resp, ok := result.(*event.Response); ok && resp.StatusCode >= 300 {
			return p.reject(ctx, connID, resp.StatusCode)
		}
	}

	return &event.Response{StatusCode: http.StatusOK}
}

// HandleMessage dispatches one inbound frame. Errors are reported to the
// caller for logging only; they never close the connection. If the
// connection is not yet authenticated and the resolved module carries an
// authenticate hook, this frame is consumed for authentication and does
// not reach the handler.
func (p *Pipeline) HandleMessage(ctx context.Context, frame *event.Frame) error {
	conn, err := p.store.Get(ctx, frame.ConnectionID)
	if err != nil {
		return fmt.Errorf("frame for unknown connection %s: %w", frame.ConnectionID, err)
	}

	action := gjson.GetBytes(frame.Data, actionField).String()
	modulePath, ok := p.actions[action]
	if !ok {
		modulePath = p.defaultModule
	}
	if modulePath == "" {
		return fmt.Errorf("no handler for action %q", action)
	}

	module, err := p.modules.Resolve(modulePath)
	if err != nil {
		return fmt.Errorf("module for action %q failed to load: %w", action, err)
	}
	if module.OnFrame == nil {
		return fmt.Errorf("module %q exports no frame handler", modulePath)
	}

	opts := []execution.Option{
		execution.WithConnectionID(frame.ConnectionID),
		execution.WithEmitter(p.emitter),
	}
	if conn.UserID != "" {
		opts = append(opts, execution.WithUser(&event.User{ID: conn.UserID}))
	}
	ec := execution.New(ctx, moduleTimeout(module), opts...)
	defer ec.Close()

	if conn.UserID == "" && module.Hooks.Authenticate != nil {
		return p.authenticateFrame(ec, module, action, frame)
	}

	payload, err := decodePayload(frame.Data, module.Config.Format)
	if err != nil {
		return fmt.Errorf("action %q: %w", action, err)
	}

	done := make(chan struct {
		value any
		err   error
	}, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- struct {
					value any
					err   error
				}{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		value, err := module.OnFrame(ec, payload)
		done <- struct {
			value any
			err   error
		}{value: value, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil {
			ec.Log().WithField("action", action).WithError(result.err).Error("Frame handler failed")
			return fmt.Errorf("action %q failed: %w", action, result.err)
		}
		if result.value != nil && p.sender != nil {
			data, err := encodeReply(result.value)
			if err != nil {
				return fmt.Errorf("action %q: failed to encode reply: %w", action, err)
			}
			if err := p.sender.Send(ctx, frame.ConnectionID, data); err != nil {
				ec.Log().WithField("action", action).WithError(err).Warn("Failed to send frame reply")
			}
		}
		return nil
	case <-ec.Done():
		ec.Log().WithField("action", action).Warn("Frame handler timed out")
		return fmt.Errorf("action %q: %w", action, event.ErrTimeout)
	}
}

// authenticateFrame consumes an inbound frame as the connection's
// authentication exchange.
func (p *Pipeline) authenticateFrame(ec *execution.Context, module *modules.Module, action string, frame *event.Frame) error {
	req := &event.Request{
		Method: "WS",
		Path:   action,
		Body:   frame.Data,
	}
	user, err := module.Hooks.Authenticate(ec, req)
	if err != nil || user == nil || user.ID == "" {
		ec.Log().WithField("action", action).WithError(err).Warn("Frame authentication failed")
		return fmt.Errorf("connection %s: %w", frame.ConnectionID, event.ErrForbidden)
	}
	if err := p.store.BindUser(ec, frame.ConnectionID, user.ID); err != nil {
		return fmt.Errorf("failed to bind user to connection %s: %w", frame.ConnectionID, err)
	}
	ec.Log().WithField("user_id", user.ID).Debug("Connection authenticated")
	return nil
}

// HandleDisconnect unregisters the connection and, when it was the user's
// last open one, fires the offline notification best-effort.
func (p *Pipeline) HandleDisconnect(ctx context.Context, connID string) error {
	conn, err := p.store.Remove(ctx, connID)
	if err != nil {
		return fmt.Errorf("disconnect for unknown connection %s: %w", connID, err)
	}

	if conn.UserID == "" || p.offline == nil {
		return nil
	}

	count, err := p.store.CountForUser(ctx, conn.UserID)
	if err != nil {
		logrus.WithField("user_id", conn.UserID).WithError(err).Warn("Failed to count remaining connections")
		return nil
	}
	if count == 0 {
		notifyOffline(ctx, p.offline, conn.UserID)
	}
	return nil
}

// notifyOffline runs the notifier with panic containment.
func notifyOffline(ctx context.Context, notifier OfflineNotifier, userID string) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{"user_id": userID, "panic": fmt.Sprint(r)}).
				Warn("Offline notifier panicked")
		}
	}()
	notifier(ctx, userID)
}

func (p *Pipeline) reject(ctx context.Context, connID string, status int) *event.Response {
	if _, err := p.store.Remove(ctx, connID); err != nil {
		logrus.WithField("connection_id", connID).WithError(err).Debug("Connection already unregistered")
	}
	return &event.Response{StatusCode: status}
}

func moduleTimeout(m *modules.Module) time.Duration {
	if m.Config.TimeoutSeconds > 0 {
		return time.Duration(m.Config.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// decodePayload converts raw frame bytes into the handler's payload shape.
func decodePayload(data []byte, format modules.PayloadFormat) (any, error) {
	switch format {
	case modules.FormatText:
		return string(data), nil
	case modules.FormatBinary:
		return data, nil
	default:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode JSON frame: %w", err)
		}
		return v, nil
	}
}

// encodeReply serializes a handler reply for the wire.
func encodeReply(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
