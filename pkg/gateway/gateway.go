package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/surfboard-io/surfboard/pkg/actions"
	"github.com/surfboard-io/surfboard/pkg/audit"
	auditpg "github.com/surfboard-io/surfboard/pkg/audit/postgres"
	"github.com/surfboard-io/surfboard/pkg/auth"
	"github.com/surfboard-io/surfboard/pkg/browser"
	"github.com/surfboard-io/surfboard/pkg/database/migrate"
	"github.com/surfboard-io/surfboard/pkg/health"
	"github.com/surfboard-io/surfboard/pkg/metrics"
	"github.com/surfboard-io/surfboard/pkg/ratelimit"
	"github.com/surfboard-io/surfboard/pkg/session"

	// Postgres driver for the optional event store.
	_ "github.com/lib/pq"
)

// cleanupInterval is how often the Postgres event store prunes events
// past retention.
const cleanupInterval = time.Hour

// Gateway owns the server's components and their lifecycle. It builds
// everything from one Config, exposes the pieces the HTTP layer mounts,
// and guarantees startup and shutdown run in dependency order.
type Gateway struct {
	config *Config
	logger *slog.Logger

	lifecycle *Lifecycle
	checker   *health.Checker

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics

	factory   browser.Factory
	registry  *session.Registry
	reaper    *session.Reaper
	validator *auth.Validator
	limiter   *ratelimit.Limiter
	recorder  audit.Recorder

	mcpServer *mcp.Server
}

// New builds a gateway. The config is required; every other dependency
// is built from it unless overridden through an option.
func New(opts ...Option) (*Gateway, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := options.Config.Validate(); err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config:    options.Config,
		logger:    logger,
		lifecycle: NewLifecycle(logger),
		checker:   health.NewChecker(),
	}

	g.initMetrics()
	if err := g.initRecorder(options); err != nil {
		return nil, err
	}
	if err := g.initGovernance(options); err != nil {
		return nil, err
	}
	g.initMCPServer()

	return g, nil
}

// initMetrics gives the gateway its own collector registry so multiple
// instances in one process never collide on registration.
func (g *Gateway) initMetrics() {
	g.promRegistry = prometheus.NewRegistry()
	g.metrics = metrics.New(g.promRegistry)
}

// initRecorder selects the governance event recorder: an injected one,
// Postgres when a DSN is configured, otherwise the in-memory slog
// recorder. An injected recorder stays owned by its caller; the gateway
// registers teardown only for recorders it built itself.
func (g *Gateway) initRecorder(opts *Options) error {
	if opts.Recorder != nil {
		g.recorder = opts.Recorder
		return nil
	}

	dsn := g.config.Audit.PostgresDSN
	if dsn == "" {
		recorder := audit.NewSlogRecorder(g.logger, g.config.Audit.Buffer)
		g.recorder = recorder
		g.lifecycle.RegisterCloser("event recorder", recorder.Close)
		return nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("opening event store database: %w", err)
	}
	store := auditpg.New(db, auditpg.Config{RetentionDays: g.config.Audit.RetentionDays})
	g.recorder = store

	g.lifecycle.Register("event store",
		func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("connecting to event store: %w", err)
			}
			if err := migrate.Run(db); err != nil {
				return err
			}
			store.StartCleanupRoutine(cleanupInterval)
			return nil
		},
		func(context.Context) error {
			if err := store.Close(); err != nil {
				return err
			}
			if err := db.Close(); err != nil {
				return fmt.Errorf("closing event store database: %w", err)
			}
			return nil
		})
	return nil
}

// initGovernance builds the admission chain and registers lifecycle
// hooks in dependency order. The recorder is registered before any of
// these, so on shutdown it outlives the registry and still receives the
// eviction events emitted while sessions close.
func (g *Gateway) initGovernance(opts *Options) error {
	validator, err := auth.NewValidator(g.config.Auth, g.metrics, g.logger)
	if err != nil {
		return fmt.Errorf("building auth validator: %w", err)
	}
	g.validator = validator
	g.limiter = ratelimit.New(g.config.RateLimit, g.logger)

	if opts.Factory != nil {
		g.factory = opts.Factory
	} else {
		g.factory = browser.NewPlaywrightFactory(g.config.Browser, g.logger)
	}

	g.registry = session.NewRegistry(g.config.Sessions, g.factory, g.recorder, g.metrics, g.logger)
	g.reaper = session.NewReaper(g.registry, g.logger, g.limiter, g.validator)

	g.registerFactory()
	g.lifecycle.Register("auth validator",
		func(ctx context.Context) error {
			g.validator.Start(ctx)
			return nil
		},
		func(context.Context) error {
			g.validator.Close()
			return nil
		})
	g.lifecycle.Register("session registry", nil,
		func(context.Context) error {
			g.registry.Close()
			return nil
		})
	g.lifecycle.Register("session reaper",
		func(ctx context.Context) error {
			g.reaper.Start(ctx)
			return nil
		},
		func(context.Context) error {
			g.reaper.Close()
			return nil
		})
	return nil
}

// registerFactory wires the factory's warmup and teardown into the
// lifecycle when the implementation has them. The Factory contract is
// Create only; plain factories, like test fakes, need no cycling.
func (g *Gateway) registerFactory() {
	var start, stop func(context.Context) error
	if s, ok := g.factory.(interface{ Start(context.Context) error }); ok {
		start = s.Start
	}
	if s, ok := g.factory.(interface{ Stop() error }); ok {
		stop = func(context.Context) error { return s.Stop() }
	}
	if start == nil && stop == nil {
		return
	}
	g.lifecycle.Register("browser driver", start, stop)
}

// initMCPServer builds the MCP server, registers the automation tools
// and attaches the tool call audit middleware.
func (g *Gateway) initMCPServer() {
	g.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    g.config.Server.Name,
		Version: g.config.Server.Version,
	}, nil)
	actions.Register(g.mcpServer)
	g.mcpServer.AddReceivingMiddleware(actions.AuditMiddleware(g.recorder, g.logger))
}

// Start brings every component up and marks the server ready. On
// failure the components already started are stopped again and the
// server stays unready.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.lifecycle.Start(ctx); err != nil {
		return err
	}
	g.checker.MarkReady()
	g.logger.Info("gateway started",
		"server", g.config.Server.Name,
		"version", g.config.Server.Version,
		"max_sessions", g.registry.Stats().Limit)
	return nil
}

// Close stops the gateway. Readiness flips to draining first so load
// balancers stop routing before sessions begin closing.
func (g *Gateway) Close(ctx context.Context) error {
	g.checker.MarkDraining()
	return g.lifecycle.Stop(ctx)
}

// Config returns the gateway configuration.
func (g *Gateway) Config() *Config { return g.config }

// Logger returns the gateway logger.
func (g *Gateway) Logger() *slog.Logger { return g.logger }

// MCPServer returns the MCP server with the automation tools attached.
func (g *Gateway) MCPServer() *mcp.Server { return g.mcpServer }

// Sessions returns the session registry.
func (g *Gateway) Sessions() *session.Registry { return g.registry }

// Validator returns the auth validator.
func (g *Gateway) Validator() *auth.Validator { return g.validator }

// Limiter returns the rate limiter.
func (g *Gateway) Limiter() *ratelimit.Limiter { return g.limiter }

// Recorder returns the governance event recorder.
func (g *Gateway) Recorder() audit.Recorder { return g.recorder }

// Metrics returns the gateway metrics set.
func (g *Gateway) Metrics() *metrics.Metrics { return g.metrics }

// MetricsRegistry returns the collector registry backing Metrics, for
// mounting a scrape endpoint.
func (g *Gateway) MetricsRegistry() *prometheus.Registry { return g.promRegistry }

// Health returns the health checker.
func (g *Gateway) Health() *health.Checker { return g.checker }
