package devserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"skylift/internal/config"
	"skylift/internal/execution"
	"skylift/internal/modules"
	"skylift/internal/queuedispatch"
	"skylift/internal/routes"
	"skylift/pkg/event"
	"skylift/pkg/server"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		LogLevel:    "error",
		RateLimit:   config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}
}

func TestDispatchThroughRouter(t *testing.T) {
	app := &server.App{
		Modules: []*modules.Module{{
			Path: "api/greet",
			Handler: func(_ *execution.Context, req *event.Request) (any, error) {
				return map[string]string{"hello": req.PathParams["name"]}, nil
			},
		}},
		Routes: []*routes.Route{{Pattern: "/greet/:name", Methods: []string{"GET"}, Module: "api/greet"}},
	}

	s, err := New(testConfig(), app)
	require.NoError(t, err)
	defer s.Close()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/greet/ada", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"hello":"ada"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s, err := New(testConfig(), &server.App{})
	require.NoError(t, err)
	defer s.Close()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestLocalQueueLoop(t *testing.T) {
	var processed atomic.Int32

	app := &server.App{
		Modules: []*modules.Module{
			{
				Path: "api/orders",
				Handler: func(ec *execution.Context, _ *event.Request) (any, error) {
					err := ec.Emit(event.OutboundMessage{Queue: "orders", Body: []byte(`{"n":1}`)})
					return nil, err
				},
			},
			{
				Path: "workers/orders",
				OnMessage: func(_ *execution.Context, _ *event.Message) error {
					processed.Add(1)
					return nil
				},
			},
		},
		Routes: []*routes.Route{{Pattern: "/orders", Methods: []string{"POST"}, Module: "api/orders"}},
		Queues: []*queuedispatch.Definition{{Name: "orders", Module: "workers/orders"}},
	}

	s, err := New(testConfig(), app)
	require.NoError(t, err)
	defer s.Close()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/orders", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusNoContent, w.Code)

	require.Eventually(t, func() bool { return processed.Load() == 1 },
		2*time.Second, 10*time.Millisecond, "emitted message reaches the worker in-process")
}

func TestWebSocketEcho(t *testing.T) {
	app := &server.App{
		Modules: []*modules.Module{{
			Path: "socket/echo",
			OnFrame: func(_ *execution.Context, payload any) (any, error) {
				return payload, nil
			},
		}},
		SocketDefault: "socket/echo",
	}

	s, err := New(testConfig(), app)
	require.NoError(t, err)
	defer s.Close()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	defer resp.Body.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"action":"echo","v":1}`)))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"echo","v":1}`, string(data))
}
