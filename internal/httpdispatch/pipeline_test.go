package httpdispatch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"skylift/internal/execution"
	"skylift/internal/modules"
	"skylift/internal/routes"
	"skylift/pkg/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, declared []*routes.Route, mods ...*modules.Module) *Pipeline {
	t.Helper()
	table, err := routes.NewTable(declared)
	require.NoError(t, err)
	registry := modules.NewRegistry()
	for _, m := range mods {
		require.NoError(t, registry.Register(m))
	}
	return New(routes.NewHolder(table), registry)
}

func get(path string) *event.Request {
	return &event.Request{Method: http.MethodGet, Path: path, Headers: map[string]string{}}
}

func TestDispatchNotFound(t *testing.T) {
	p := newTestPipeline(t, nil)
	resp := p.Dispatch(context.Background(), get("/missing"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Not found"}`, string(resp.Body))
}

func TestDispatchMethodNotAllowed(t *testing.T) {
	p := newTestPipeline(t,
		[]*routes.Route{{Pattern: "things", Module: "things", Methods: []string{"GET"}}},
		&modules.Module{Path: "things", Handler: func(_ *execution.Context, _ *event.Request) (any, error) {
			return nil, nil
		}},
	)

	resp := p.Dispatch(context.Background(), &event.Request{Method: "DELETE", Path: "/things"})
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "GET", resp.Headers["Allow"])
}

func TestDispatchUnsupportedMediaType(t *testing.T) {
	p := newTestPipeline(t,
		[]*routes.Route{{Pattern: "things", Module: "things", ContentTypes: []string{"application/json"}}},
		&modules.Module{Path: "things", Handler: func(_ *execution.Context, _ *event.Request) (any, error) {
			return nil, nil
		}},
	)

	resp := p.Dispatch(context.Background(), &event.Request{
		Method:  "POST",
		Path:    "/things",
		Headers: map[string]string{"Content-Type": "text/csv"},
		Body:    []byte("a,b"),
	})
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	// Body-less requests skip the content-type check.
	resp = p.Dispatch(context.Background(), get("/things"))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	authCalled := false
	p := newTestPipeline(t,
		[]*routes.Route{{Pattern: "api/items", Module: "items", CORS: true, Methods: []string{"GET", "POST"}}},
		&modules.Module{
			Path:    "items",
			Handler: func(_ *execution.Context, _ *event.Request) (any, error) { return nil, nil },
			Hooks: modules.Hooks{
				Authenticate: func(_ *execution.Context, _ *event.Request) (*event.User, error) {
					authCalled = true
					return nil, errors.New("must not run")
				},
			},
		},
	)

	resp := p.Dispatch(context.Background(), &event.Request{Method: http.MethodOptions, Path: "/api/items"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "GET, POST", resp.Headers["Access-Control-Allow-Methods"])
	assert.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])
	assert.False(t, authCalled, "preflight must bypass authentication")
}

func TestDispatchNormalizesResults(t *testing.T) {
	tests := []struct {
		name        string
		result      any
		wantStatus  int
		wantCT      string
		wantBody    string
		skipBodyCmp bool
	}{
		{name: "nil is empty 204", result: nil, wantStatus: http.StatusNoContent},
		{name: "object is json", result: map[string]int{"a": 1}, wantStatus: http.StatusOK, wantCT: "application/json", wantBody: `{"a":1}`},
		{name: "string is text", result: "hello", wantStatus: http.StatusOK, wantCT: "text/plain", wantBody: "hello"},
		{name: "bytes are octet-stream", result: []byte{0x1, 0x2}, wantStatus: http.StatusOK, wantCT: "application/octet-stream", skipBodyCmp: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t,
				[]*routes.Route{{Pattern: "r", Module: "r"}},
				&modules.Module{Path: "r", Handler: func(_ *execution.Context, _ *event.Request) (any, error) {
					return tt.result, nil
				}},
			)

			resp := p.Dispatch(context.Background(), get("/r"))
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			if tt.wantCT != "" {
				assert.Equal(t, tt.wantCT, resp.Headers["Content-Type"])
			}
			if !tt.skipBodyCmp && tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, string(resp.Body))
			}
		})
	}
}

func TestDispatchPathParams(t *testing.T) {
	p := newTestPipeline(t,
		[]*routes.Route{{Pattern: "users/:id", Module: "users/show"}},
		&modules.Module{Path: "users/show", Handler: func(_ *execution.Context, req *event.Request) (any, error) {
			return map[string]string{"id": req.PathParams["id"]}, nil
		}},
	)

	resp := p.Dispatch(context.Background(), get("/users/42"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":"42"}`, string(resp.Body))
}

func TestDispatchTimeoutCancelsHandler(t *testing.T) {
	cancelObserved := make(chan struct{})
	p := newTestPipeline(t,
		[]*routes.Route{{Pattern: "slow", Module: "slow", TimeoutSeconds: 1}},
		&modules.Module{Path: "slow", Handler: func(ec *execution.Context, _ *event.Request) (any, error) {
			<-ec.Done()
			close(cancelObserved)
			return nil, ec.Err()
		}},
	)

	// Parent context deadline is shorter than the route timeout so the test
	// stays fast; the pipeline races handler completion against it.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	resp := p.Dispatch(ctx, get("/slow"))
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	select {
	case <-cancelObserved:
	case <-time.After(time.Second):
		t.Fatal("handler never observed cancellation")
	}
}

func TestDispatchStructuredResponsePassesThrough(t *testing.T) {
	p := newTestPipeline(t,
		[]*routes.Route{{Pattern: "teapot", Module: "teapot", CORS: true}},
		&modules.Module{Path: "teapot", Handler: func(_ *execution.Context, _ *event.Request) (any, error) {
			return nil, event.Abort(http.StatusTeapot, "short and stout")
		}},
	)

	resp := p.Dispatch(context.Background(), get("/teapot"))
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.JSONEq(t, `{"error":"short and stout"}`, string(resp.Body))
	assert.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"], "CORS headers merged into thrown responses")
}

func TestDispatchErrorRunsOnErrorHook(t *testing.T) {
	var hookErr error
	p := newTestPipeline(t,
		[]*routes.Route{{Pattern: "boom", Module: "boom"}},
		&modules.Module{
			Path: "boom",
			Handler: func(_ *execution.Context, _ *event.Request) (any, error) {
				return nil, errors.New("kaput")
			},
			Hooks: modules.Hooks{OnError: func(_ *execution.Context, err error) {
				hookErr = err
				panic("hook panics are swallowed")
			}},
		},
	)

	resp := p.Dispatch(context.Background(), get("/boom"))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Internal server error"}`, string(resp.Body), "no internal detail crosses the boundary")
	assert.EqualError(t, hookErr, "kaput")
}

func TestDispatchAuthentication(t *testing.T) {
	t.Run("hook binds user", func(t *testing.T) {
		p := newTestPipeline(t,
			[]*routes.Route{{Pattern: "me", Module: "me"}},
			&modules.Module{
				Path: "me",
				Handler: func(ec *execution.Context, _ *event.Request) (any, error) {
					return map[string]string{"user": ec.User().ID}, nil
				},
				Hooks: modules.Hooks{
					Authenticate: func(_ *execution.Context, _ *event.Request) (*event.User, error) {
						return &event.User{ID: "u-1"}, nil
					},
				},
			},
		)

		resp := p.Dispatch(context.Background(), get("/me"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"user":"u-1"}`, string(resp.Body))
	})

	t.Run("hook error fails closed", func(t *testing.T) {
		p := newTestPipeline(t,
			[]*routes.Route{{Pattern: "me", Module: "me"}},
			&modules.Module{
				Path:    "me",
				Handler: func(_ *execution.Context, _ *event.Request) (any, error) { return "never", nil },
				Hooks: modules.Hooks{
					Authenticate: func(_ *execution.Context, _ *event.Request) (*event.User, error) {
						return nil, errors.New("bad token")
					},
				},
			},
		)

		resp := p.Dispatch(context.Background(), get("/me"))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("deferred auth set by handler", func(t *testing.T) {
		p := newTestPipeline(t,
			[]*routes.Route{{Pattern: "me", Module: "me"}},
			&modules.Module{
				Path: "me",
				Handler: func(ec *execution.Context, _ *event.Request) (any, error) {
					require.NoError(t, ec.SetUser(&event.User{ID: "late"}))
					return "ok", nil
				},
				Hooks: modules.Hooks{
					Authenticate: func(_ *execution.Context, _ *event.Request) (*event.User, error) {
						return nil, nil // defer to the handler
					},
				},
			},
		)

		resp := p.Dispatch(context.Background(), get("/me"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("deferred auth never resolved", func(t *testing.T) {
		p := newTestPipeline(t,
			[]*routes.Route{{Pattern: "me", Module: "me"}},
			&modules.Module{
				Path:    "me",
				Handler: func(_ *execution.Context, _ *event.Request) (any, error) { return "ok", nil },
				Hooks: modules.Hooks{
					Authenticate: func(_ *execution.Context, _ *event.Request) (*event.User, error) {
						return nil, nil
					},
				},
			},
		)

		resp := p.Dispatch(context.Background(), get("/me"))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestAuthenticateRunsBeforeOnRequest(t *testing.T) {
	var order []string
	p := newTestPipeline(t,
		[]*routes.Route{{Pattern: "ordered", Module: "ordered"}},
		&modules.Module{
			Path:    "ordered",
			Handler: func(_ *execution.Context, _ *event.Request) (any, error) { return nil, nil },
			Hooks: modules.Hooks{
				Authenticate: func(_ *execution.Context, _ *event.Request) (*event.User, error) {
					order = append(order, "authenticate")
					return &event.User{ID: "u"}, nil
				},
				OnRequest: func(ec *execution.Context, _ *event.Request) error {
					order = append(order, "onRequest")
					assert.True(t, ec.Authenticated(), "onRequest sees the authenticated user")
					return nil
				},
			},
		},
	)

	p.Dispatch(context.Background(), get("/ordered"))
	assert.Equal(t, []string{"authenticate", "onRequest"}, order)
}

func TestOnResponseMayReplaceResponse(t *testing.T) {
	p := newTestPipeline(t,
		[]*routes.Route{{Pattern: "wrapped", Module: "wrapped"}},
		&modules.Module{
			Path:    "wrapped",
			Handler: func(_ *execution.Context, _ *event.Request) (any, error) { return "original", nil },
			Hooks: modules.Hooks{
				OnResponse: func(_ *execution.Context, _ *event.Request, resp *event.Response) (*event.Response, error) {
					resp.SetHeader("X-Wrapped", "yes")
					return resp, nil
				},
			},
		},
	)

	resp := p.Dispatch(context.Background(), get("/wrapped"))
	assert.Equal(t, "yes", resp.Headers["X-Wrapped"])
	assert.Equal(t, "original", string(resp.Body))
}
