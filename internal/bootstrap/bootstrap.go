// Package bootstrap builds the infrastructure clients shared by the api and
// worker services from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/cuongbtq/vendor-gateway/internal/config"
	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/metrics"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
	"github.com/cuongbtq/vendor-gateway/internal/storage/memory"
	"github.com/cuongbtq/vendor-gateway/internal/storage/mongo"
	"github.com/cuongbtq/vendor-gateway/internal/storage/postgres"
	"github.com/cuongbtq/vendor-gateway/shared/logger"
	"github.com/cuongbtq/vendor-gateway/shared/mongodb"
	"github.com/cuongbtq/vendor-gateway/shared/postgresql"
	"github.com/cuongbtq/vendor-gateway/shared/rabbitmq"
	"github.com/cuongbtq/vendor-gateway/shared/redis"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// InitMetrics creates the Prometheus-backed metrics exporter and installs
// its MeterProvider as the global one
func InitMetrics(cfg *config.AppConfig) (*metrics.Exporter, error) {
	exporter, err := metrics.NewExporter(cfg.Name, cfg.Version)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(exporter.MeterProvider())
	return exporter, nil
}

// InitRabbitMQ connects to RabbitMQ and declares the dispatch topology
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		DelayQueueName:     cfg.DelayQueue,
		DelayClasses:       cfg.DelayClasses,
		DeadLetterExchange: cfg.DeadLetter.Exchange,
		DeadLetterQueue:    cfg.DeadLetter.Queue,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// InitRedis connects to the rate limiter store
func InitRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(&redis.Config{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}, logger)
}

// Backend is an opened durable job store together with its connection
type Backend struct {
	storage.Backend
	Driver string
	close  func() error
}

// Close releases the backend's connection
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenBackend connects the durable store selected by cfg.Driver, running
// migrations or index creation where the driver needs them
func OpenBackend(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*Backend, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		client, err := postgresql.NewClient(&postgresql.Config{
			Host:            cfg.Host,
			Port:            cfg.Port,
			User:            cfg.User,
			Password:        cfg.Password,
			Database:        cfg.Database,
			SSLMode:         cfg.SSLMode,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		}, logger)
		if err != nil {
			return nil, err
		}

		pg := postgres.NewStorage(client.GetDB(), logger)
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				client.Close()
				return nil, err
			}
		}
		return &Backend{Backend: pg, Driver: cfg.Driver, close: client.Close}, nil

	case config.DriverMongo:
		client, err := mongodb.NewClient(&mongodb.Config{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}

		mg := mongo.NewStorage(client.Collection(cfg.Mongo.Collection), logger)
		if err := mg.EnsureIndexes(ctx); err != nil {
			client.Close()
			return nil, err
		}
		return &Backend{Backend: mg, Driver: cfg.Driver, close: client.Close}, nil

	case config.DriverMemory:
		logger.Warn("Using in-memory job store, jobs are lost on restart")
		return &Backend{Backend: memory.New(), Driver: cfg.Driver}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}

// VendorTypes maps each configured vendor name to the job type it serves
func VendorTypes(cfg *config.Config) map[string]domain.VendorType {
	out := make(map[string]domain.VendorType, len(cfg.Vendors))
	for name, v := range cfg.Vendors {
		out[name] = domain.VendorType(v.Type)
	}
	return out
}

// WebhookSecrets maps each vendor name with a secret to that secret
func WebhookSecrets(cfg *config.Config) map[string]string {
	out := make(map[string]string, len(cfg.Vendors))
	for name, v := range cfg.Vendors {
		if v.WebhookSecret != "" {
			out[name] = v.WebhookSecret
		}
	}
	return out
}
