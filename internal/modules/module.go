package modules

import (
	"fmt"
	"strings"

	"skylift/internal/execution"
	"skylift/pkg/event"
)

// HandlerFunc processes one HTTP request. The return value is normalized
// by the response normalizer: *event.Response, string, []byte, nil, or any
// JSON-serializable value.
type HandlerFunc func(ec *execution.Context, req *event.Request) (any, error)

// MessageHandlerFunc processes one queue message.
type MessageHandlerFunc func(ec *execution.Context, msg *event.Message) error

// FrameHandlerFunc processes one WebSocket frame payload. The payload type
// depends on the module's declared format: map[string]any for JSON, string
// for text, []byte for binary. A nil result means no reply is sent.
type FrameHandlerFunc func(ec *execution.Context, payload any) (any, error)

// ScheduleHandlerFunc runs one scheduled job invocation.
type ScheduleHandlerFunc func(ec *execution.Context) error

// AuthenticateFunc authenticates one event. It must return a user carrying
// a stable ID, or an error; the pipeline fails closed on anything else.
type AuthenticateFunc func(ec *execution.Context, req *event.Request) (*event.User, error)

// RequestHookFunc observes a request before the handler runs. An error
// aborts the dispatch.
type RequestHookFunc func(ec *execution.Context, req *event.Request) error

// ResponseHookFunc observes the normalized response and may replace it.
type ResponseHookFunc func(ec *execution.Context, req *event.Request, resp *event.Response) (*event.Response, error)

// ErrorHookFunc observes a handler failure. Best effort: its own failures
// are swallowed and logged by the pipeline.
type ErrorHookFunc func(ec *execution.Context, err error)

// MessageErrorHookFunc observes a queue handler failure together with the
// failed message's metadata. Best effort, same containment as ErrorHookFunc.
type MessageErrorHookFunc func(ec *execution.Context, msg *event.Message, err error)

// HookKind names a middleware hook for explicit disabling.
type HookKind string

const (
	HookAuthenticate HookKind = "authenticate"
	HookOnRequest    HookKind = "onRequest"
	HookOnResponse   HookKind = "onResponse"
	HookOnError      HookKind = "onError"
)

// Hooks is one scope's middleware declaration. A hook listed in Disable is
// explicitly removed at this scope even when an ancestor scope declares it,
// which is distinct from merely leaving the field nil.
type Hooks struct {
	Authenticate AuthenticateFunc
	OnRequest    RequestHookFunc
	OnResponse   ResponseHookFunc
	OnError      ErrorHookFunc
	Disable      []HookKind
}

// PayloadFormat selects how WebSocket frame payloads are decoded before
// reaching the handler.
type PayloadFormat string

const (
	FormatJSON   PayloadFormat = "json"
	FormatText   PayloadFormat = "text"
	FormatBinary PayloadFormat = "binary"
)

// Config is the optional per-module declaration of route constraints.
type Config struct {
	Methods        []string
	ContentTypes   []string
	CORS           bool
	TimeoutSeconds int
	CacheSeconds   int
	CacheControl   func(result any) string
	NoETag         bool
	Queue          string
	Format         PayloadFormat
}

// Module is a normalized user-supplied handler module: a default or
// per-method handler (HTTP), a message handler (queues), a frame handler
// (WebSocket), or a job handler (schedules), plus config and hooks.
type Module struct {
	Path string

	Config Config

	Handler    HandlerFunc
	Methods    map[string]HandlerFunc
	OnMessage  MessageHandlerFunc
	OnFrame    FrameHandlerFunc
	OnSchedule ScheduleHandlerFunc

	// OnMessageError is the per-queue error hook, invoked with the failed
	// message's metadata.
	OnMessageError MessageErrorHookFunc

	Hooks Hooks
}

// normalize validates the module shape once at registration, so dispatch
// never re-checks it per request.
func (m *Module) normalize() error {
	if m.Path == "" {
		return fmt.Errorf("module path is required")
	}
	if m.Handler == nil && len(m.Methods) == 0 && m.OnMessage == nil && m.OnFrame == nil && m.OnSchedule == nil {
		return fmt.Errorf("module %q exports no handler", m.Path)
	}
	if len(m.Methods) > 0 {
		normalized := make(map[string]HandlerFunc, len(m.Methods))
		for method, h := range m.Methods {
			if h == nil {
				return fmt.Errorf("module %q: nil handler for method %q", m.Path, method)
			}
			normalized[strings.ToUpper(method)] = h
		}
		m.Methods = normalized
	}
	if m.Config.Format == "" {
		m.Config.Format = FormatJSON
	}
	return nil
}

// HandlerFor selects the handler for an HTTP method: a verb-named export
// wins over the default export.
func (m *Module) HandlerFor(method string) (HandlerFunc, bool) {
	if h, ok := m.Methods[strings.ToUpper(method)]; ok {
		return h, true
	}
	if m.Handler != nil {
		return m.Handler, true
	}
	return nil, false
}
