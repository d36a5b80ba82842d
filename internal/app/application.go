// Package app wires configuration, storage, and the HTTP server into a
// single runnable process with an orderly startup and shutdown path.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/railguard/sentinel/internal/api/routes"
	"github.com/railguard/sentinel/internal/infrastructure/config"
	"github.com/railguard/sentinel/internal/infrastructure/database"
	"github.com/railguard/sentinel/internal/infrastructure/di"
	"github.com/railguard/sentinel/pkg/logger"
	"github.com/railguard/sentinel/pkg/tracing"
)

// Application owns every long-lived resource the process holds: the
// database pool, the dependency container, the HTTP server, and the
// tracer shutdown hook.
type Application struct {
	cfg       *config.Config
	log       *logger.Logger
	server    *http.Server
	container *di.Container

	tracingShutdown func(context.Context) error
}

func NewApplication() *Application {
	return &Application{}
}

// Initialize loads configuration, opens and migrates the database,
// starts tracing, builds the dependency container, and prepares the
// HTTP server. It does not start listening — call Start for that.
func (app *Application) Initialize() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app.cfg = cfg

	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	app.log = log

	db, err := database.NewConnection(cfg.DatabaseURL, cfg.DatabaseMaxOpen, cfg.DatabaseMaxIdle)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	if err := database.RunMigrations("file://migrations", cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	tracingShutdown, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName:  "sentinel",
		Environment:  cfg.Environment,
		CollectorURL: cfg.OTelCollectorURL,
		SampleRate:   cfg.OTelSampleRate,
	})
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}
	app.tracingShutdown = tracingShutdown

	container, err := di.Build(context.Background(), cfg, db, log)
	if err != nil {
		return fmt.Errorf("build dependency container: %w", err)
	}
	app.container = container

	if err := container.Sweeper.Start(); err != nil {
		return fmt.Errorf("start sweep worker: %w", err)
	}

	router := routes.Setup(container)
	app.server = &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        router,
		ReadTimeout:    cfg.ServerReadTimeout,
		WriteTimeout:   cfg.ServerWriteTimeout,
		IdleTimeout:    cfg.ServerIdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	return nil
}

// Start launches the HTTP server in the background. It returns
// immediately; call WaitForShutdown to block until an interrupt.
func (app *Application) Start() error {
	go func() {
		app.log.Info("starting server",
			zap.String("port", app.cfg.ServerPort),
			zap.String("environment", app.cfg.Environment))

		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.Fatal("server failed", zap.Error(err))
		}
	}()

	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM is received.
func (app *Application) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

// Shutdown stops the sweep worker and the secrets provider, drains
// in-flight requests within a 30-second timeout, then closes the
// database pool and flushes the tracer; those last two steps run
// without a timeout of their own.
func (app *Application) Shutdown() error {
	app.log.Info("shutting down server")

	if app.container != nil && app.container.Sweeper != nil {
		app.container.Sweeper.Stop()
	}
	if app.container != nil && app.container.Secrets != nil {
		app.container.Secrets.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.log.Warn("server forced to shutdown", zap.Error(err))
	}

	if app.container != nil && app.container.DB != nil {
		if err := app.container.DB.Close(); err != nil {
			app.log.Warn("error closing database pool", zap.Error(err))
		}
	}

	if app.tracingShutdown != nil {
		if err := app.tracingShutdown(context.Background()); err != nil {
			app.log.Warn("error shutting down tracer", zap.Error(err))
		}
	}

	app.log.Info("server exited gracefully")
	return nil
}
