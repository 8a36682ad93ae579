// Command tessera is the main entry point for the Tessera world host.
//
// Usage:
//
//	tessera [-config path]              serve the HTTP API and tick loop
//	tessera -mcp [-config path]         serve MCP tools over stdio
//	tessera gen -module KIND [-params FILE] [-chunks N] [-option k=v ...]
//	                                    generate N×N chunks and print the merged map
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MrWong99/tessera/internal/app"
	"github.com/MrWong99/tessera/internal/config"
	"github.com/MrWong99/tessera/internal/observe"
	"github.com/MrWong99/tessera/pkg/module/clock"
	"github.com/MrWong99/tessera/pkg/module/gridgen"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "gen" {
		os.Exit(runGen(os.Args[2:], os.Stdin, os.Stdout, os.Stderr))
	}
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "tessera.yaml", "path to the YAML configuration file")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools over stdio instead of HTTP")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tessera: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tessera: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("tessera starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"mcp", *serveMCP,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Registry:       promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Module registry ───────────────────────────────────────────────────────
	reg := newRegistry()

	printStartupSummary(cfg, reg)

	application, err := app.New(ctx, cfg, reg,
		app.WithVersion(version),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(provider.MetricsHandler()),
		app.WithLevelVar(level),
		app.WithConfigPath(*configPath),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *serveMCP {
		slog.Info("serving MCP over stdio")
		err = application.ServeMCP(ctx, &mcpsdk.StdioTransport{})
	} else {
		slog.Info("server ready; press Ctrl+C to shut down")
		err = application.Run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if serr := application.Shutdown(shutdownCtx); serr != nil {
		slog.Error("shutdown error", "err", serr)
		return 1
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Module wiring ─────────────────────────────────────────────────────────────

// newRegistry returns a registry holding every built-in module factory.
func newRegistry() *config.Registry {
	reg := config.NewRegistry()
	for kind, factory := range gridgen.Factories() {
		reg.RegisterModule(kind, factory)
	}
	reg.RegisterModule(clock.Kind, clock.New)

	for _, kind := range reg.Kinds() {
		slog.Debug("registered module kind", "kind", kind)
	}
	return reg
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, reg *config.Registry) {
	enabled := 0
	for _, m := range cfg.Modules {
		if m.IsEnabled() {
			enabled++
		}
	}
	storage := "memory"
	if cfg.Storage.PostgresDSN != "" {
		storage = "postgres"
	}

	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║         Tessera — startup summary     ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	fmt.Fprintf(os.Stderr, "║  Module kinds    : %-19d ║\n", len(reg.Kinds()))
	fmt.Fprintf(os.Stderr, "║  Modules enabled : %-19d ║\n", enabled)
	fmt.Fprintf(os.Stderr, "║  Tick rate (Hz)  : %-19.1f ║\n", cfg.Host.EffectiveTickRate())
	fmt.Fprintf(os.Stderr, "║  World storage   : %-19s ║\n", storage)
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(os.Stderr, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a text logger on stderr whose level can be changed
// through the returned LevelVar.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(level.Level())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}
