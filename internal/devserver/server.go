package devserver

import (
	"io"
	"net/http"
	"time"

	"skylift/internal/config"
	"skylift/internal/middleware"
	"skylift/pkg/event"
	"skylift/pkg/server"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server is the local development server. It funnels every HTTP request
// into the dispatch pipeline, serves a WebSocket endpoint over the same
// module registry, and loops emitted queue messages back through the queue
// engine in-process.
type Server struct {
	Container *server.Container

	cfg    *config.Config
	engine *gin.Engine
	hub    *hub
	loop   *localLoop
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dev server trusts local origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// New wires a container for local development and builds the router.
func New(cfg *config.Config, app *server.App) (*Server, error) {
	h := newHub()
	loop := newLocalLoop()

	container, err := server.NewContainer(cfg, app,
		server.WithLocalMode(),
		server.WithTransport(loop),
		server.WithSender(h),
	)
	if err != nil {
		return nil, err
	}
	loop.start(container.Engine)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.CorrelationID())
	engine.Use(middleware.StructuredLogger())
	engine.Use(middleware.SecurityHeaders())
	engine.Use(middleware.RateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))

	s := &Server{
		Container: container,
		cfg:       cfg,
		engine:    engine,
		hub:       h,
		loop:      loop,
	}

	engine.GET("/health", s.health)
	engine.GET("/ws", s.websocket)
	engine.NoRoute(s.dispatch)

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Close stops the local queue loop and releases container resources.
func (s *Server) Close() error {
	s.loop.stop()
	return s.Container.Close()
}

// dispatch funnels an HTTP request through the dispatch pipeline.
func (s *Server) dispatch(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	req := &event.Request{
		Method:      c.Request.Method,
		Path:        c.Request.URL.Path,
		Headers:     flattenHeader(c.Request.Header),
		QueryParams: flattenValues(c.Request.URL.Query()),
		Cookies:     requestCookies(c),
		Body:        body,
		SourceIP:    c.ClientIP(),
	}

	resp := s.Container.HTTP.Dispatch(c.Request.Context(), req)
	for name, value := range resp.Headers {
		c.Header(name, value)
	}
	c.Data(resp.StatusCode, resp.Headers["Content-Type"], resp.Body)
}

// websocket upgrades the connection and pumps frames through the WebSocket
// pipeline until the client goes away.
func (s *Server) websocket(c *gin.Context) {
	connID := uuid.New().String()

	handshake := &event.Request{
		Method:      "WS",
		Path:        "$connect",
		Headers:     flattenHeader(c.Request.Header),
		QueryParams: flattenValues(c.Request.URL.Query()),
		Cookies:     requestCookies(c),
		SourceIP:    c.ClientIP(),
	}

	resp := s.Container.WS.HandleConnect(c.Request.Context(), connID, handshake)
	if resp.StatusCode >= 300 {
		c.JSON(resp.StatusCode, gin.H{"error": "Connection rejected"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		_ = s.Container.WS.HandleDisconnect(c.Request.Context(), connID)
		return
	}
	s.hub.add(connID, ws)

	defer func() {
		s.hub.remove(connID)
		_ = ws.Close()
		if err := s.Container.WS.HandleDisconnect(c.Request.Context(), connID); err != nil {
			logrus.WithField("connection_id", connID).WithError(err).Debug("Disconnect cleanup failed")
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frame := &event.Frame{ConnectionID: connID, Data: data}
		if err := s.Container.WS.HandleMessage(c.Request.Context(), frame); err != nil {
			logrus.WithField("connection_id", connID).WithError(err).Warn("Frame dispatch failed")
		}
	}
}

// health reports server status and the registered surface.
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"routes":    len(s.Container.Routes.Current().Routes()),
		"queues":    s.Container.Queues.Names(),
		"jobs":      s.Container.Sched.Jobs(),
	})
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}

func flattenValues(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for name, vs := range values {
		if len(vs) > 0 {
			out[name] = vs[0]
		}
	}
	return out
}

func requestCookies(c *gin.Context) map[string]string {
	cookies := c.Request.Cookies()
	if len(cookies) == 0 {
		return nil
	}
	out := make(map[string]string, len(cookies))
	for _, ck := range cookies {
		out[ck.Name] = ck.Value
	}
	return out
}
