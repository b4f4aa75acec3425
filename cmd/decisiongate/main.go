package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfhttp "github.com/Strob0t/decisiongate/internal/adapter/http"
	cfotel "github.com/Strob0t/decisiongate/internal/adapter/otel"
	"github.com/Strob0t/decisiongate/internal/adapter/ws"
	"github.com/Strob0t/decisiongate/internal/config"
	"github.com/Strob0t/decisiongate/internal/logger"
	"github.com/Strob0t/decisiongate/internal/middleware"
	"github.com/Strob0t/decisiongate/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return err
	}
	cfg, path, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", path,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"executor", cfg.Executor.Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(flushCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---
	infra, err := openInfra(ctx, cfg)
	if err != nil {
		return err
	}
	defer infra.Close()

	// --- Collaborators ---
	client := &http.Client{
		Timeout:   cfg.Health.Timeout,
		Transport: cfotel.HTTPTransport(http.DefaultTransport),
	}
	exec, err := buildExecutor(cfg)
	if err != nil {
		return err
	}
	notifiers, err := buildNotifiers(cfg)
	if err != nil {
		return err
	}
	subsystems, names, err := buildSubsystems(cfg, client)
	if err != nil {
		return err
	}

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	defer hub.Close()

	deps := service.Deps{
		Store:      infra.store,
		Executor:   exec,
		Reviewer:   buildReviewer(cfg, client),
		Checker:    buildChecker(cfg, client, names),
		Cache:      infra.cache,
		Hub:        hub,
		Notifiers:  notifiers,
		Subsystems: subsystems,
		Metrics:    metrics,
	}
	if infra.queue != nil {
		deps.Queue = infra.queue
	}
	engine, err := service.NewEngine(cfg, deps)
	if err != nil {
		return err
	}

	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx) }()

	// --- HTTP ---
	handlers := &cfhttp.Handlers{
		Engine:     engine,
		Store:      infra.store,
		Hub:        hub,
		Subsystems: names,
	}
	if infra.queue != nil {
		handlers.Queue = infra.queue
	}

	r := chi.NewRouter()
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
		defer stopCleanup()
		r.Use(limiter.Handler)
	}
	cfhttp.MountRoutes(r, handlers, cfg.Server.APIKey)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-serveErr:
		runErr = fmt.Errorf("server: %w", err)
	case err := <-engineDone:
		engineDone <- err
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("engine: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown", "error", err)
	}
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
		runErr = fmt.Errorf("engine: %w", err)
	}
	return runErr
}
