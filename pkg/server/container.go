package server

import (
	"fmt"
	"time"

	"skylift/internal/auth"
	"skylift/internal/config"
	"skylift/internal/connstore"
	"skylift/internal/httpdispatch"
	"skylift/internal/modules"
	"skylift/internal/payloadstore"
	"skylift/internal/queuedispatch"
	"skylift/internal/routes"
	"skylift/internal/sched"
	"skylift/internal/wsdispatch"
	"skylift/pkg/event"

	"github.com/sirupsen/logrus"
)

// App is the declarative application definition: the modules, routes,
// queues and jobs an application registers at cold start.
type App struct {
	Modules []*modules.Module
	Shared  map[string]modules.Hooks
	Routes  []*routes.Route
	Queues  []*queuedispatch.Definition
	Jobs    []*sched.Job

	// WebSocket wiring.
	ConnectModule string
	SocketDefault string
	SocketActions map[string]string
}

// Container holds all application dependencies
type Container struct {
	Config  *config.Config
	Auth    *auth.Service
	Modules *modules.Registry
	Routes  *routes.Holder
	Queues  *queuedispatch.Registry
	Store   connstore.Store
	Emitter *queuedispatch.Emitter
	HTTP    *httpdispatch.Pipeline
	WS      *wsdispatch.Pipeline
	Engine  *queuedispatch.Engine
	Sched   *sched.Dispatcher

	ownsStore bool
}

// Option configures container construction.
type Option func(*options)

type options struct {
	transport event.Emitter
	deleter   queuedispatch.Deleter
	sender    wsdispatch.Sender
	offline   wsdispatch.OfflineNotifier
	store     connstore.Store
	payloads  payloadstore.Store
	maxInline int
	local     bool
}

// WithTransport wires the outbound message transport (SQS in Lambda, the
// in-process loop locally). Without one, Emit returns an error.
func WithTransport(t event.Emitter) Option {
	return func(o *options) { o.transport = t }
}

// WithDeleter wires per-message deletion for queue batches.
func WithDeleter(d queuedispatch.Deleter) Option {
	return func(o *options) { o.deleter = d }
}

// WithSender wires the outbound WebSocket send capability.
func WithSender(s wsdispatch.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithOfflineNotifier wires the last-connection-closed callback.
func WithOfflineNotifier(n wsdispatch.OfflineNotifier) Option {
	return func(o *options) { o.offline = n }
}

// WithStore overrides the connection store chosen from configuration.
func WithStore(s connstore.Store) Option {
	return func(o *options) { o.store = s }
}

// WithLocalMode marks the container as running under the dev server.
func WithLocalMode() Option {
	return func(o *options) { o.local = true }
}

// WithPayloadStore enables offloading of queue bodies over the inline
// limit; zero keeps the transport default.
func WithPayloadStore(store payloadstore.Store, maxInlineBytes int) Option {
	return func(o *options) {
		o.payloads = store
		o.maxInline = maxInlineBytes
	}
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config, app *App, opts ...Option) (*Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	configureLogging(cfg)

	registry := modules.NewRegistry()
	for scope, hooks := range app.Shared {
		registry.RegisterShared(scope, hooks)
	}
	for _, m := range app.Modules {
		if err := registry.Register(m); err != nil {
			return nil, fmt.Errorf("failed to register module: %w", err)
		}
	}

	table, err := routes.NewTable(app.Routes)
	if err != nil {
		return nil, fmt.Errorf("failed to build route table: %w", err)
	}
	holder := routes.NewHolder(table)

	queues := queuedispatch.NewRegistry()
	for _, q := range app.Queues {
		if err := queues.Register(q); err != nil {
			return nil, fmt.Errorf("failed to register queue: %w", err)
		}
	}

	store, ownsStore, err := buildStore(cfg, &o)
	if err != nil {
		return nil, err
	}

	var emitterOpts []queuedispatch.EmitterOption
	if o.payloads != nil {
		emitterOpts = append(emitterOpts, queuedispatch.WithOffload(o.payloads, o.maxInline))
	}
	emitter := queuedispatch.NewEmitter(queues, o.transport, emitterOpts...)

	engineOpts := []queuedispatch.EngineOption{queuedispatch.WithEmitter(emitter)}
	if o.payloads != nil {
		engineOpts = append(engineOpts, queuedispatch.WithPayloadStore(o.payloads))
	}
	if o.deleter != nil {
		engineOpts = append(engineOpts, queuedispatch.WithDeleter(o.deleter))
	}
	if o.local {
		engineOpts = append(engineOpts, queuedispatch.WithLocalMode())
	}

	wsOpts := []wsdispatch.Option{wsdispatch.WithEmitter(emitter)}
	if app.ConnectModule != "" {
		wsOpts = append(wsOpts, wsdispatch.WithConnectModule(app.ConnectModule))
	}
	if app.SocketDefault != "" {
		wsOpts = append(wsOpts, wsdispatch.WithDefaultModule(app.SocketDefault))
	}
	for action, module := range app.SocketActions {
		wsOpts = append(wsOpts, wsdispatch.WithAction(action, module))
	}
	if o.sender != nil {
		wsOpts = append(wsOpts, wsdispatch.WithSender(o.sender))
	}
	if o.offline != nil {
		wsOpts = append(wsOpts, wsdispatch.WithOfflineNotifier(o.offline))
	}

	container := &Container{
		Config:  cfg,
		Modules: registry,
		Routes:  holder,
		Queues:  queues,
		Store:   store,
		Emitter: emitter,
		HTTP:    httpdispatch.New(holder, registry, httpdispatch.WithEmitter(emitter)),
		WS:      wsdispatch.New(registry, store, wsOpts...),
		Engine:  queuedispatch.NewEngine(queues, registry, engineOpts...),
		Sched:   sched.NewDispatcher(registry, emitter),

		ownsStore: ownsStore,
	}

	if cfg.JWT.Secret != "" {
		container.Auth = auth.NewService(&auth.Config{
			JWTSecret:     cfg.JWT.Secret,
			TokenDuration: time.Duration(cfg.JWT.ExpiryHours) * time.Hour,
			Issuer:        cfg.JWT.Issuer,
		})
	}

	for _, job := range app.Jobs {
		if err := container.Sched.Register(job); err != nil {
			return nil, fmt.Errorf("failed to register job: %w", err)
		}
	}

	return container, nil
}

// SwapRoutes replaces the route table atomically. In-flight requests keep
// resolving against the table they started with.
func (c *Container) SwapRoutes(declared []*routes.Route) error {
	table, err := routes.NewTable(declared)
	if err != nil {
		return fmt.Errorf("failed to build route table: %w", err)
	}
	c.Routes.Swap(table)
	logrus.WithField("routes", len(declared)).Info("Route table reloaded")
	return nil
}

// Close cleans up all resources
func (c *Container) Close() error {
	if c.ownsStore && c.Store != nil {
		if err := c.Store.Close(); err != nil {
			return fmt.Errorf("failed to close connection store: %w", err)
		}
	}
	return nil
}

// buildStore selects the connection registry backend from configuration.
func buildStore(cfg *config.Config, o *options) (connstore.Store, bool, error) {
	if o.store != nil {
		return o.store, false, nil
	}
	switch cfg.Registry.Backend {
	case "", "memory":
		return connstore.NewMemoryStore(), true, nil
	case "sqlite":
		store, err := connstore.NewSQLiteStore(cfg.Registry.Path)
		if err != nil {
			return nil, false, fmt.Errorf("failed to open connection registry: %w", err)
		}
		return store, true, nil
	default:
		return nil, false, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}
}

// configureLogging applies the configured log level and format.
func configureLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Environment == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}
