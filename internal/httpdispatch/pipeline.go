package httpdispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"skylift/internal/execution"
	"skylift/internal/modules"
	"skylift/internal/routes"
	"skylift/pkg/event"

	"github.com/sirupsen/logrus"
)

// Pipeline dispatches one normalized HTTP request: route resolution, CORS
// short-circuit, method and content-type checks, authentication, the
// middleware chain, handler invocation under the route deadline, and
// response normalization.
type Pipeline struct {
	routes  *routes.Holder
	modules *modules.Registry
	emitter event.Emitter
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEmitter injects the emit-message capability into every execution
// context the pipeline creates.
func WithEmitter(e event.Emitter) Option {
	return func(p *Pipeline) { p.emitter = e }
}

// New creates a dispatch pipeline over a published route table and module
// registry.
func New(holder *routes.Holder, registry *modules.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{routes: holder, modules: registry}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type handlerResult struct {
	value any
	err   error
}

// Dispatch runs the full pipeline for one request. Failures are contained:
// the returned response always carries a transport-ready status and a
// minimal body, never internal error detail.
func (p *Pipeline) Dispatch(ctx context.Context, req *event.Request) *event.Response {
	match, ok := p.routes.Current().Resolve(req.Path)
	if !ok {
		return errorResponse(http.StatusNotFound, "Not found")
	}
	route := match.Route

	if req.PathParams == nil {
		req.PathParams = match.Params
	} else {
		for k, v := range match.Params {
			req.PathParams[k] = v
		}
	}

	// Preflight bypasses body, method, and auth checks entirely.
	if route.CORS && req.Method == http.MethodOptions {
		return preflightResponse(route)
	}

	if !route.AllowsMethod(req.Method) {
		resp := errorResponse(http.StatusMethodNotAllowed, "Method not allowed")
		resp.SetHeader("Allow", allowedMethods(route))
		return finishCORS(resp, route)
	}

	if len(req.Body) > 0 && !route.AcceptsContentType(req.ContentType()) {
		return finishCORS(errorResponse(http.StatusUnsupportedMediaType, "Unsupported media type"), route)
	}

	module, err := p.modules.Resolve(route.Module)
	if err != nil {
		logrus.WithFields(logrus.Fields{"route": route.Pattern, "module": route.Module}).
			WithError(err).Error("Handler module failed to load")
		return finishCORS(errorResponse(http.StatusInternalServerError, "Internal server error"), route)
	}

	handler, ok := module.HandlerFor(req.Method)
	if !ok {
		return finishCORS(errorResponse(http.StatusMethodNotAllowed, "Method not allowed"), route)
	}

	ec := execution.New(ctx, time.Duration(route.Timeout())*time.Second,
		execution.WithRequestID(req.Header("X-Correlation-ID")),
		execution.WithEmitter(p.emitter),
	)
	defer ec.Close()

	// Authentication runs before onRequest so request middleware can rely
	// on the authenticated user.
	authRequired := module.Hooks.Authenticate != nil
	if authRequired {
		user, err := module.Hooks.Authenticate(ec, req)
		if err != nil {
			if re, ok := event.AsResponseError(err); ok {
				return finishCORS(re.Response, route)
			}
			ec.Log().WithField("route", route.Pattern).WithError(err).Warn("Authentication failed")
			return finishCORS(errorResponse(http.StatusForbidden, "Forbidden"), route)
		}
		if user != nil {
			if user.ID == "" {
				ec.Log().WithField("route", route.Pattern).Warn("Authenticate hook returned user without stable ID")
				return finishCORS(errorResponse(http.StatusForbidden, "Forbidden"), route)
			}
			if err := ec.SetUser(user); err != nil {
				ec.Log().WithError(err).Warn("Authenticated user already bound")
			}
		}
		// A nil user without error defers authentication to the handler,
		// which must bind one through the execution context.
	}

	if module.Hooks.OnRequest != nil {
		if err := module.Hooks.OnRequest(ec, req); err != nil {
			return p.failure(ec, route, module, err)
		}
	}

	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		value, err := handler(ec, req)
		done <- handlerResult{value: value, err: err}
	}()

	var result handlerResult
	select {
	case result = <-done:
	case <-ec.Done():
		// The handler is abandoned, not awaited; its cancellation signal
		// has fired and its eventual result is ignored.
		ec.Log().WithFields(logrus.Fields{
			"route":   route.Pattern,
			"timeout": route.Timeout(),
		}).Warn("Request timed out")
		return finishCORS(errorResponse(http.StatusGatewayTimeout, "Request timed out"), route)
	}

	if result.err != nil {
		return p.failure(ec, route, module, result.err)
	}

	if authRequired && !ec.Authenticated() {
		ec.Log().WithField("route", route.Pattern).
			Warn("Authenticate hook present but no user was bound; failing closed")
		return finishCORS(errorResponse(http.StatusForbidden, "Forbidden"), route)
	}

	resp, err := Normalize(result.value, route, req.Method)
	if err != nil {
		ec.Log().WithField("route", route.Pattern).WithError(err).Error("Response normalization failed")
		return finishCORS(errorResponse(http.StatusInternalServerError, "Internal server error"), route)
	}

	if module.Hooks.OnResponse != nil {
		replaced, err := module.Hooks.OnResponse(ec, req, resp)
		if err != nil {
			ec.Log().WithField("route", route.Pattern).WithError(err).Warn("onResponse hook failed; keeping original response")
		} else if replaced != nil {
			resp = replaced
		}
	}

	return finishCORS(resp, route)
}

// failure converts a handler (or onRequest) error into a response.
// Structured responses are control flow, not failures; everything else is
// routed through the onError hook and collapsed to a generic 500.
func (p *Pipeline) failure(ec *execution.Context, route *routes.Route, module *modules.Module, err error) *event.Response {
	if re, ok := event.AsResponseError(err); ok {
		return finishCORS(re.Response, route)
	}

	ec.Log().WithField("route", route.Pattern).WithError(err).Error("Handler error")

	if module.Hooks.OnError != nil {
		runErrorHook(ec, module.Hooks.OnError, err)
	}

	return finishCORS(errorResponse(http.StatusInternalServerError, "Internal server error"), route)
}

// runErrorHook invokes an onError hook best-effort; its own panic is
// swallowed and logged, never propagated.
func runErrorHook(ec *execution.Context, hook modules.ErrorHookFunc, err error) {
	defer func() {
		if r := recover(); r != nil {
			ec.Log().WithField("panic", fmt.Sprint(r)).Warn("onError hook panicked")
		}
	}()
	hook(ec, err)
}

func errorResponse(status int, message string) *event.Response {
	return &event.Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(fmt.Sprintf(`{"error":%q}`, message)),
	}
}

func allowedMethods(route *routes.Route) string {
	if len(route.Methods) == 0 {
		return "*"
	}
	return strings.Join(route.Methods, ", ")
}
