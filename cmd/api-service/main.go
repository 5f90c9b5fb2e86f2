package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/vendor-gateway/internal/api/handler"
	"github.com/cuongbtq/vendor-gateway/internal/api/router"
	"github.com/cuongbtq/vendor-gateway/internal/bootstrap"
	"github.com/cuongbtq/vendor-gateway/internal/config"
	"github.com/cuongbtq/vendor-gateway/internal/queue"
	"github.com/cuongbtq/vendor-gateway/internal/reconciler"
	"github.com/cuongbtq/vendor-gateway/internal/scrubber"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize durable job store
	backend, err := bootstrap.OpenBackend(ctx, &cfg.Database, appLogger.Component("storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer backend.Close()

	appLogger.Info("Database connection established", slog.String("driver", backend.Driver))

	// Initialize RabbitMQ client
	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Initialize metrics exporter
	exporter, err := bootstrap.InitMetrics(&cfg.App)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	m := exporter.Metrics()
	store := storage.NewStore(&storage.Config{
		Backend:       backend,
		Logger:        appLogger.Component("job-store"),
		Metrics:       m,
		BatchSize:     cfg.Buffer.BatchSize,
		FlushInterval: cfg.Buffer.FlushInterval,
		ShutdownGrace: cfg.Buffer.ShutdownGrace,
	})

	deps := &handler.Dependencies{
		Logger: appLogger.Logger,
		Store:  store,
		Queue:  queue.NewDispatchQueue(rabbitClient, appLogger.Component("queue")),
		Reconciler: reconciler.New(&reconciler.Config{
			Store:    store,
			Scrubber: scrubber.New(cfg.Scrubber.SensitiveFields...),
			Metrics:  m,
			Logger:   appLogger.Component("reconciler"),
			Vendors:  bootstrap.VendorTypes(cfg),
		}),
		HealthChecks: map[string]handler.HealthCheck{
			"database": store.Ping,
			"rabbitmq": rabbitClient.HealthCheck,
		},
		App: handler.AppInfo{
			Name:        cfg.App.Name,
			Version:     cfg.App.Version,
			Environment: cfg.App.Environment,
		},
		StartedAt: time.Now().UTC(),
	}

	r := initRouter(cfg, deps, exporter.Handler())

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// the flusher outlives the server so requests accepted during shutdown
	// are still drained
	storeCtx, stopStore := context.WithCancel(context.Background())
	defer stopStore()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return store.Run(storeCtx)
	})

	g.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		defer stopStore()

		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown",
				slog.Any("error", err),
			)
			return err
		}
		return nil
	})

	// the exporter stops after the flusher has recorded its last batches
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Failed to shut down metrics exporter", slog.Any("error", err))
		}
	}()

	if err := g.Wait(); err != nil {
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies, metricsHandler http.Handler) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, &router.Config{
		MaxBodyBytes:      cfg.Ingress.MaxBodyBytes,
		RequestsPerSecond: cfg.Ingress.RequestsPerSecond,
		Burst:             cfg.Ingress.Burst,
		SignatureHeader:   cfg.Webhook.SignatureHeader,
		RequireSignature:  cfg.Webhook.RequireSignature,
		WebhookSecrets:    bootstrap.WebhookSecrets(cfg),
		MetricsPath:       cfg.Metrics.Path,
		MetricsHandler:    metricsHandler,
	})
}
