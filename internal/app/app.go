// Package app wires all Tessera subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the world store, builds
// and loads the configured modules and assembles the HTTP and MCP surfaces,
// Run drives the tick loop and serves requests, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tessera/internal/api"
	"github.com/MrWong99/tessera/internal/config"
	"github.com/MrWong99/tessera/internal/health"
	"github.com/MrWong99/tessera/internal/host"
	"github.com/MrWong99/tessera/internal/mcpserver"
	"github.com/MrWong99/tessera/internal/observe"
	"github.com/MrWong99/tessera/internal/resilience"
	"github.com/MrWong99/tessera/internal/world"
	"github.com/MrWong99/tessera/internal/world/postgres"
	"github.com/MrWong99/tessera/pkg/module"
)

// DefaultListenAddr is used when server.listen_addr is unset.
const DefaultListenAddr = ":8080"

// shutdownGrace bounds the HTTP server drain on Run exit.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	version        string
	configPath     string
	watchInterval  time.Duration
	level          *slog.LevelVar
	metrics        *observe.Metrics
	metricsHandler http.Handler

	// Subsystems, initialised in New and torn down in Shutdown.
	store   world.Store
	pinger  health.Pinger
	host    *host.Host
	ticks   *api.TickHub
	mcp     *mcpserver.Server
	handler http.Handler
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a world store instead of creating one from config.
// A store that implements [health.Pinger] is checked by /readyz.
func WithStore(s world.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics instance shared by all subsystems.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level of the logger
// built on v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigPath enables hot reloading of the config file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithWatchInterval overrides the config polling interval.
func WithWatchInterval(d time.Duration) Option {
	return func(a *App) { a.watchInterval = d }
}

// WithVersion sets the version reported by /healthz and the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Module factories are
// looked up in reg by manifest kind.
//
// A module that fails to initialise does not fail New: it is reported in the
// module status list and by the log, and it never runs. A module that cannot
// be constructed at all is a configuration error.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: reg,
		version:  "dev",
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. World store ───────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Host ──────────────────────────────────────────────────────────
	a.ticks = api.NewTickHub(a.metrics)
	a.host = host.New(module.NewWorld(a.store),
		host.WithMetrics(a.metrics),
		host.WithBreakerConfig(breakerConfig(cfg.Host.Breaker)),
		host.WithTickObserver(a.ticks.Publish),
	)

	// ── 3. Modules ───────────────────────────────────────────────────────
	if err := a.loadModules(ctx); err != nil {
		return nil, fmt.Errorf("app: load modules: %w", err)
	}

	// ── 4. Surfaces ──────────────────────────────────────────────────────
	a.initHTTP()
	a.mcp = mcpserver.New(a.host, a.version, a.metrics)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects to PostgreSQL when a DSN is configured and falls back
// to an in-memory world otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		if p, ok := a.store.(health.Pinger); ok {
			a.pinger = p
		}
		return nil
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		a.store = world.NewMemWorld()
		slog.Info("world store ready", "backend", "memory")
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.pinger = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("world store ready", "backend", "postgres")
	return nil
}

// loadModules constructs every enabled module from the registry and hands
// them to the host.
func (a *App) loadModules(ctx context.Context) error {
	var mods []host.Loaded
	for _, m := range a.cfg.Modules {
		if !m.IsEnabled() {
			slog.Info("module disabled", "module", m.Name)
			continue
		}
		mod, err := a.registry.CreateModule(m)
		if err != nil {
			return err
		}
		mods = append(mods, host.Loaded{Manifest: m, Module: mod})
	}

	if err := a.host.Load(ctx, mods); err != nil {
		if errors.Is(err, module.ErrMissingDependency) || errors.Is(err, module.ErrDependencyCycle) {
			return err
		}
		// Individual module failures are already recorded by the host.
		slog.Warn("some modules failed to load", "err", err)
	}
	slog.Info("modules loaded", "running", a.host.Running(), "configured", len(a.cfg.Modules))
	return nil
}

func (a *App) initHTTP() {
	mux := http.NewServeMux()

	srv := api.NewServer(a.host, a.ticks, api.WithMetrics(a.metrics))
	srv.Register(mux)

	checkers := []health.Checker{health.ModulesChecker(a.host.Running)}
	if a.pinger != nil {
		checkers = append(checkers, health.PingChecker("storage", a.pinger))
	}
	health.New(a.version, checkers...).Register(mux)

	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}
	a.handler = srv.Handler(mux)
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Host returns the module host.
func (a *App) Host() *host.Host { return a.host }

// Store returns the world store backing the host.
func (a *App) Store() world.Store { return a.store }

// Handler returns the HTTP handler serving the API, health and metrics
// routes.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the tick loop, the HTTP server and, when a config path was
// given, the config watcher. It blocks until ctx is cancelled or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.configPath, a.applyConfig, wopts...)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		defer w.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.host.Run(gctx, a.cfg.Host.EffectiveTickRate())
	})

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.server.Addr)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ServeMCP serves the MCP tools on t instead of HTTP. The tick loop keeps
// running while the session is open.
func (a *App) ServeMCP(ctx context.Context, t mcpsdk.Transport) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.host.Run(gctx, a.cfg.Host.EffectiveTickRate())
	})
	g.Go(func() error {
		if err := a.mcp.Serve(gctx, t); err != nil {
			return err
		}
		// The client closing the session ends the whole run.
		return errSessionClosed
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errSessionClosed) {
		return err
	}
	return nil
}

var errSessionClosed = errors.New("mcp session closed")

// applyConfig is the config watcher callback. Log level and tick rate are
// applied live; module changes are only reported.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TickRateChanged {
		a.host.SetTickRate(d.NewTickRate)
		slog.Info("tick rate changed", "rate", d.NewTickRate)
	}
	for _, mc := range d.ModuleChanges {
		slog.Warn("module config changed; restart to apply",
			"module", mc.Name,
			"added", mc.Added,
			"removed", mc.Removed,
			"kind_changed", mc.KindChanged,
			"options_changed", mc.OptionsChanged,
			"enabled_changed", mc.EnabledChanged,
		)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown shuts every module down in reverse load order and then runs the
// closers. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "modules", len(a.host.Modules()), "closers", len(a.closers))

		a.host.Shutdown(ctx)

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func breakerConfig(c config.BreakerConfig) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		MaxFailures:  c.MaxFailures,
		ResetTimeout: c.ResetTimeout,
		HalfOpenMax:  c.HalfOpenMax,
	}
}
