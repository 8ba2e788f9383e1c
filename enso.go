// Package enso is the public API for embedding the program execution
// server.
//
// Consumers register programs at startup and run the App:
//
//	app, err := enso.New(
//	    enso.WithProgram(myProgram, "gpt-4o-mini", nil),
//	    enso.WithVersion(version),
//	    enso.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: enso (root)
// imports internal/*, but internal/* never imports enso (root).
package enso

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/enso/internal/admission"
	"github.com/ashita-ai/enso/internal/auth"
	"github.com/ashita-ai/enso/internal/config"
	"github.com/ashita-ai/enso/internal/dispatch"
	"github.com/ashita-ai/enso/internal/logwriter"
	"github.com/ashita-ai/enso/internal/mcp"
	"github.com/ashita-ai/enso/internal/metrics"
	"github.com/ashita-ai/enso/internal/registry"
	"github.com/ashita-ai/enso/internal/schedule"
	"github.com/ashita-ai/enso/internal/server"
	"github.com/ashita-ai/enso/internal/syncbridge"
	"github.com/ashita-ai/enso/internal/telemetry"
	"github.com/ashita-ai/enso/internal/tracestore"
	"github.com/ashita-ai/enso/ui"
)

// shutdownTimeout bounds each phase of graceful shutdown.
const shutdownTimeout = 10 * time.Second

// App is the server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	engine       *dispatch.Engine
	srv          *server.Server
	bridge       *syncbridge.Bridge
	logs         *logwriter.Writer
	traces       tracestore.Store
	scheduler    *schedule.Scheduler
	ready        *atomic.Bool
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the server: loads configuration, wires every
// subsystem, and registers programs and cron jobs. It does NOT start
// any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("enso starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Trace store: explicit override, else Postgres when a DSN is
	// configured, else SQLite.
	var traces tracestore.Store
	switch {
	case o.traceStore != nil:
		traces = o.traceStore
	case cfg.DatabaseURL != "":
		pg, pgErr := tracestore.NewPostgres(context.Background(), cfg.DatabaseURL)
		if pgErr != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("trace store (postgres): %w", pgErr)
		}
		traces = pg
		logger.Info("trace store: postgres")
	default:
		sq, sqErr := tracestore.NewSQLite(context.Background(), cfg.TraceDB)
		if sqErr != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("trace store (sqlite): %w", sqErr)
		}
		traces = sq
		logger.Info("trace store: sqlite", "path", cfg.TraceDB)
	}

	logs, err := logwriter.New(cfg.LogsDir, cfg.LogQueueSize, logger)
	if err != nil {
		_ = traces.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("log writer: %w", err)
	}

	reg := registry.New()
	for _, pr := range o.programs {
		if err := reg.Register(pr.program, registry.ConfigTemplate{Model: pr.model, Params: pr.params}); err != nil {
			_ = traces.Close()
			_ = otelShutdown(context.Background())
			return nil, err
		}
	}
	logger.Info("programs registered", "count", reg.Len())

	workers := cfg.SyncWorkers
	if workers == 0 {
		workers = syncbridge.DefaultWorkers()
	}
	bridge := syncbridge.New(workers, logger)

	engine := dispatch.New(dispatch.Config{
		Registry:  reg,
		Admission: admission.New(int64(cfg.MaxConcurrentPerProgram), cfg.AdmissionWait),
		Bridge:    bridge,
		Logs:      logs,
		Metrics:   metrics.New(),
		Traces:    traces,
		Logger:    logger,
		LiveFold:  true,
	})

	authMgr, err := auth.New(cfg.APIKey, cfg.JWTExpiration)
	if err != nil {
		_ = traces.Close()
		_ = otelShutdown(context.Background())
		return nil, err
	}
	if authMgr.Enabled() {
		logger.Info("auth: enabled (API key configured)")
	} else {
		logger.Warn("auth: disabled (no ENSO_API_KEY)")
	}

	scheduler := schedule.New(engine, logger)
	for _, job := range o.cronJobs {
		if err := scheduler.Add(schedule.Job{Program: job.program, Spec: job.spec, Inputs: job.inputs}); err != nil {
			_ = traces.Close()
			_ = otelShutdown(context.Background())
			return nil, err
		}
	}

	mcpSrv := mcp.New(engine, version, logger)

	ready := &atomic.Bool{}

	var extraRoutes func(mux *http.ServeMux)
	if len(o.extraRoutes) > 0 {
		registrars := o.extraRoutes
		extraRoutes = func(mux *http.ServeMux) {
			for _, fn := range registrars {
				fn(mux)
			}
		}
	}

	// Dashboard assets are only present in builds with the ui tag.
	uiFS, err := ui.DistFS()
	if err != nil {
		_ = traces.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("ui assets: %w", err)
	}

	srv := server.New(server.Config{
		Engine:              engine,
		AuthMgr:             authMgr,
		Logger:              logger,
		Ready:               ready,
		MCPServer:           mcpSrv.MCPServer(),
		UI:                  uiFS,
		ExtraRoutes:         extraRoutes,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		engine:       engine,
		srv:          srv,
		bridge:       bridge,
		logs:         logs,
		traces:       traces,
		scheduler:    scheduler,
		ready:        ready,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Engine exposes the dispatcher for in-process execution, bypassing
// HTTP. Useful for embedders that run programs directly.
func (a *App) Engine() *dispatch.Engine { return a.engine }

// Run starts the log writer, the scheduler and the HTTP server, then
// blocks until ctx is cancelled or a fatal server error occurs. On
// return, Shutdown has already been performed.
func (a *App) Run(ctx context.Context) error {
	a.logs.Start()
	a.scheduler.Start()
	a.ready.Store(true)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.ready.Store(false)
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a graceful shutdown: stop accepting HTTP requests
// and drain in-flight ones, stop the scheduler, shut down the bridge
// pool, flush the inference logs, then close stores and OTEL.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("enso shutting down")
	a.ready.Store(false)

	httpCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	schedCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	if err := a.scheduler.Stop(schedCtx); err != nil {
		a.logger.Error("scheduler stop error", "error", err)
	}
	cancel()

	bridgeCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	if err := a.bridge.Shutdown(bridgeCtx); err != nil {
		a.logger.Error("bridge shutdown error", "error", err)
	}
	cancel()

	drainCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	a.logs.Drain(drainCtx)
	cancel()

	if err := a.traces.Close(); err != nil {
		a.logger.Error("trace store close error", "error", err)
	}
	_ = a.otelShutdown(context.Background())

	a.logger.Info("enso stopped")
	return nil
}
