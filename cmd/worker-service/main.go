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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/vendor-gateway/internal/backoff"
	"github.com/cuongbtq/vendor-gateway/internal/bootstrap"
	"github.com/cuongbtq/vendor-gateway/internal/config"
	"github.com/cuongbtq/vendor-gateway/internal/dispatch"
	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/queue"
	"github.com/cuongbtq/vendor-gateway/internal/ratelimit"
	"github.com/cuongbtq/vendor-gateway/internal/scrubber"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
	"github.com/cuongbtq/vendor-gateway/internal/sweep"
	"github.com/cuongbtq/vendor-gateway/internal/vendor"
	"github.com/cuongbtq/vendor-gateway/internal/worker"
	"github.com/cuongbtq/vendor-gateway/shared/logger"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
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

	// Initialize Redis client for vendor rate limits
	redisClient, err := bootstrap.InitRedis(&cfg.Redis, appLogger.Component("redis"))
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	appLogger.Info("Redis connection established")

	// Initialize metrics exporter
	exporter, err := bootstrap.InitMetrics(&cfg.App)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Failed to shut down metrics exporter", slog.Any("error", err))
		}
	}()

	m := exporter.Metrics()
	store := storage.NewStore(&storage.Config{
		Backend:       backend,
		Logger:        appLogger.Component("job-store"),
		Metrics:       m,
		BatchSize:     cfg.Buffer.BatchSize,
		FlushInterval: cfg.Buffer.FlushInterval,
		ShutdownGrace: cfg.Buffer.ShutdownGrace,
	})

	dispatchQueue := queue.NewDispatchQueue(rabbitClient, appLogger.Component("queue"))

	limiter := ratelimit.New(redisClient.GetClient(), vendorLimits(cfg),
		ratelimit.WithKeyPrefix(cfg.RateLimit.KeyPrefix),
		ratelimit.WithDefaultLimit(ratelimit.Limit{
			Max:      cfg.RateLimit.Default.Max,
			Duration: cfg.RateLimit.Default.Duration,
		}),
		ratelimit.WithLogger(appLogger.Component("ratelimit")),
	)

	dispatcher := dispatch.NewDispatcher(&dispatch.DispatcherConfig{
		Registry:      initVendors(cfg, appLogger),
		Limiter:       limiter,
		Queue:         dispatchQueue,
		Scrubber:      scrubber.New(cfg.Scrubber.SensitiveFields...),
		Metrics:       m,
		Logger:        appLogger.Component("dispatcher"),
		VendorTimeout: cfg.Worker.VendorTimeout,
		DeferBuffer:   cfg.RateLimit.DeferBuffer,
	})

	runner := dispatch.NewRunner(&dispatch.RunnerConfig{
		Store:      store,
		Dispatcher: dispatcher,
		Metrics:    m,
		Logger:     appLogger.Component("runner"),
	})

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:   appLogger.Component("worker"),
		Consumer: rabbitClient,
		Runner:   runner,
		Queue:    dispatchQueue,
		Backoff: &backoff.Jittered{
			Inner:    backoff.NewExponential(cfg.Worker.BackoffInitial, cfg.Worker.BackoffMax),
			Fraction: 0.1,
		},
		Metrics:         m,
		Concurrency:     cfg.Worker.Concurrency,
		MaxAttempts:     cfg.Worker.MaxAttempts,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	})

	sweeper, err := sweep.New(&sweep.Config{
		Store:      store,
		Runner:     runner,
		Queue:      dispatchQueue,
		Metrics:    m,
		Logger:     appLogger.Component("sweep"),
		Schedule:   cfg.Retry.Schedule,
		MaxRetries: cfg.Retry.MaxRetries,
		BatchLimit: cfg.Retry.BatchLimit,
	})
	if err != nil {
		return err
	}

	// the flusher stops only after the worker pool has drained so the last
	// outcomes reach the durable store
	storeCtx, stopStore := context.WithCancel(context.Background())
	defer stopStore()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return store.Run(storeCtx)
	})

	g.Go(func() error {
		defer stopStore()
		return workerInstance.Start(gctx)
	})

	g.Go(func() error {
		return sweeper.Start(gctx)
	})

	metricsSrv := newMetricsServer(cfg.Metrics, exporter.Handler())

	g.Go(func() error {
		appLogger.Info("Starting metrics listener",
			slog.String("address", metricsSrv.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listener failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	appLogger.Info("Worker service started successfully")

	if err := g.Wait(); err != nil {
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Worker service stopped")
	return nil
}

// newMetricsServer serves the Prometheus scrape endpoint
func newMetricsServer(cfg config.MetricsConfig, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, handler)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// vendorLimits converts configured vendor limits for the rate limiter
func vendorLimits(cfg *config.Config) map[string]ratelimit.Limit {
	limits := make(map[string]ratelimit.Limit, len(cfg.Vendors))
	for name, v := range cfg.Vendors {
		limits[name] = ratelimit.Limit{Max: v.RateLimit.Max, Duration: v.RateLimit.Duration}
	}
	return limits
}

// initVendors registers a simulated client for each vendor type. Async
// vendors deliver their final data to the API's webhook endpoint when a
// callback URL is configured.
func initVendors(cfg *config.Config, appLogger *logger.Logger) *vendor.Registry {
	var callback vendor.CallbackSender
	if cfg.Webhook.CallbackBaseURL != "" {
		callback = vendor.NewWebhookSender(
			cfg.Webhook.CallbackBaseURL,
			cfg.Webhook.SignatureHeader,
			bootstrap.WebhookSecrets(cfg),
			cfg.Webhook.CallbackTimeout,
		)
	}

	registry := vendor.NewRegistry()
	for _, vendorType := range []domain.VendorType{domain.VendorTypeSync, domain.VendorTypeAsync} {
		name, ok := cfg.VendorFor(string(vendorType))
		if !ok {
			continue
		}
		v := cfg.Vendors[name]

		registry.Register(vendorType, vendor.NewSimulated(vendor.SimulatedConfig{
			Name:       name,
			MinLatency: v.ProcessingTime.Min,
			MaxLatency: v.ProcessingTime.Max,
			Callback:   callback,
			Logger:     appLogger.Component("vendor").With(slog.String("vendor", name)),
		}))
	}
	return registry
}
