// Package app wires configuration, logging, storage, the consolidation
// engine and the HTTP server into a runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"qworker/internal/config"
	"qworker/internal/infrastructure"
	customMiddleware "qworker/internal/middleware"
	"qworker/internal/pipeline"
	"qworker/internal/progress"
	"qworker/internal/store"
	transport "qworker/internal/transport/http"
)

// AppName is the application name used in logs.
const AppName = "qworker"

// Application holds all application components.
type Application struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   store.Store
	Tracker *progress.Registry
	Engine  *pipeline.Engine
	Metrics *infrastructure.MetricsProviders
	Router  chi.Router
	Server  *http.Server
}

// NewApplication creates and wires a new application instance.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &Application{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initializeStore(); err != nil {
		return nil, err
	}

	app.Metrics, err = infrastructure.InitializeMetrics(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	app.Tracker = progress.NewRegistry(cfg.Consolidation.ProgressRetention)
	app.Engine = pipeline.NewEngine(cfg, app.Store, app.Tracker,
		&pipeline.LogNotifier{Logger: logger}, nil, logger)

	if err := app.setupRouter(); err != nil {
		return nil, err
	}
	app.createServer()

	return app, nil
}

// initializeStore selects the declaration store: Postgres when a DSN is
// configured, the in-memory store otherwise.
func (a *Application) initializeStore() error {
	if dsn := a.Config.Database.DSN; dsn != "" {
		st, err := store.NewPostgresStore(context.Background(), dsn)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.Logger.Info("using postgres declaration store")
		a.Store = st
		return nil
	}

	a.Logger.Warn("no database DSN configured, using in-memory store; history will not survive restarts")
	a.Store = store.NewMemoryStore()
	return nil
}

// setupRouter configures the middleware chain and mounts the API. The
// Prometheus scrape endpoint sits outside the API group so it bypasses
// timeouts and rate limiting.
func (a *Application) setupRouter() error {
	metricsMW, err := customMiddleware.NewMetricsMiddleware(a.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create metrics middleware: %w", err)
	}
	a.Engine.SetMetrics(metricsMW.BusinessMetrics())

	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))

	if rps := a.Config.Server.RateLimitRPS; rps > 0 {
		r.Use(customMiddleware.NewRateLimiter(rps, a.Config.Server.RateLimitBurst, a.Logger).Handler)
	}

	r.Handle("/metrics", a.Metrics.PrometheusHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(metricsMW.Handler)
		r.Use(customMiddleware.Timeout(a.Config.Server.ReadTimeout, a.Logger))

		r.Get("/health", a.handleHealth)
		r.Mount("/", transport.NewHandler(a.Engine, a.Tracker, a.Logger).Routes())
	})

	a.Router = r
	return nil
}

// handleHealth reports process liveness and which store backs the engine.
func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	backend := "memory"
	if a.Config.Database.DSN != "" {
		backend = "postgres"
	}
	render.JSON(w, r, map[string]string{
		"status": "ok",
		"app":    AppName,
		"store":  backend,
	})
}

// createServer creates the HTTP server.
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start starts the HTTP server. Server failures cancel the run context.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) {
	a.Logger.InfoContext(ctx, "starting application",
		slog.String("name", AppName),
		slog.Int("port", a.Config.Server.Port),
		slog.String("output_dir", a.Config.Paths.OutputDir))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()
}

// Stop shuts the application down gracefully.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if err := a.Store.Close(); err != nil {
		a.Logger.ErrorContext(ctx, "failed to close store", slog.String("error", err.Error()))
	}

	if a.Metrics != nil {
		if err := a.Metrics.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "failed to shut down metrics", slog.String("error", err.Error()))
		}
	}

	infrastructure.CloseLogFile()
	a.Logger.InfoContext(ctx, "application shutdown complete")
	return nil
}

// Run runs the application until interrupted.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	a.Start(ctx, cancel)

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
