package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Supported durable store drivers
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Database  DatabaseConfig          `yaml:"database"`
	Redis     RedisConfig             `yaml:"redis"`
	RabbitMQ  RabbitMQConfig          `yaml:"rabbitmq"`
	Logging   LoggingConfig           `yaml:"logging"`
	App       AppConfig               `yaml:"app"`
	Worker    WorkerConfig            `yaml:"worker"`
	Vendors   map[string]VendorConfig `yaml:"vendors"`
	RateLimit RateLimitConfig         `yaml:"rate_limit"`
	Buffer    BufferConfig            `yaml:"buffer"`
	Retry     RetryConfig             `yaml:"retry"`
	Scrubber  ScrubberConfig          `yaml:"scrubber"`
	Webhook   WebhookConfig           `yaml:"webhook"`
	Ingress   IngressConfig           `yaml:"ingress"`
	Metrics   MetricsConfig           `yaml:"metrics"`
}

// MetricsConfig holds the Prometheus scrape endpoint settings. The API
// serves Path on its own port; the worker listens on Addr.
type MetricsConfig struct {
	Path string `yaml:"path"`
	Addr string `yaml:"addr"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds durable job store configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
	Mongo           MongoConfig   `yaml:"mongo"`
}

// MongoConfig holds MongoDB settings used when driver is mongo
type MongoConfig struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	Collection     string        `yaml:"collection"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// RedisConfig holds the rate limiter store connection settings
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	DelayQueue string           `yaml:"delay_queue"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`

	// DelayClasses are the upper bounds of the delay queues, shortest first
	DelayClasses []time.Duration `yaml:"delay_classes"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// DeadLetterConfig names the exchange and queue that receive exhausted tasks
type DeadLetterConfig struct {
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	VendorTimeout   time.Duration `yaml:"vendor_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BackoffInitial  time.Duration `yaml:"backoff_initial"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// VendorConfig describes one external vendor
type VendorConfig struct {
	Type           string        `yaml:"type"`
	RateLimit      LimitConfig   `yaml:"rate_limit"`
	ProcessingTime DurationRange `yaml:"processing_time"`
	WebhookSecret  string        `yaml:"webhook_secret"`
}

// LimitConfig is a fixed-window admission limit
type LimitConfig struct {
	Max      int           `yaml:"max"`
	Duration time.Duration `yaml:"duration"`
}

// DurationRange is an inclusive [min, max] duration range
type DurationRange struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// RateLimitConfig holds vendor admission settings shared by all vendors
type RateLimitConfig struct {
	KeyPrefix   string        `yaml:"key_prefix"`
	Default     LimitConfig   `yaml:"default"`
	DeferBuffer time.Duration `yaml:"defer_buffer"`
}

// BufferConfig holds write buffer flush settings
type BufferConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// RetryConfig holds retry sweep settings
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries"`
	Schedule   string `yaml:"schedule"`
	BatchLimit int    `yaml:"batch_limit"`
}

// ScrubberConfig lists the field names removed from vendor documents
type ScrubberConfig struct {
	SensitiveFields []string `yaml:"sensitive_fields"`
}

// WebhookConfig holds inbound and simulated outbound callback settings
type WebhookConfig struct {
	RequireSignature bool          `yaml:"require_signature"`
	SignatureHeader  string        `yaml:"signature_header"`
	CallbackBaseURL  string        `yaml:"callback_base_url"`
	CallbackTimeout  time.Duration `yaml:"callback_timeout"`
}

// IngressConfig holds API throttling and request size settings
type IngressConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxBodyBytes      int64   `yaml:"max_body_bytes"`
}

// Load reads the configuration file, expands ${VAR} references from the
// environment and applies defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills unset values with the gateway defaults
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.Mongo.Collection == "" {
		c.Database.Mongo.Collection = "jobs"
	}
	if c.Database.Mongo.ConnectTimeout <= 0 {
		c.Database.Mongo.ConnectTimeout = 10 * time.Second
	}

	if c.RabbitMQ.DelayQueue == "" && c.RabbitMQ.Queue.Name != "" {
		c.RabbitMQ.DelayQueue = c.RabbitMQ.Queue.Name + ".delay"
	}
	if len(c.RabbitMQ.DelayClasses) == 0 {
		c.RabbitMQ.DelayClasses = []time.Duration{2 * time.Second, 10 * time.Second, time.Minute, 5 * time.Minute}
	}
	if c.RabbitMQ.DeadLetter.Exchange == "" && c.RabbitMQ.Exchange.Name != "" {
		c.RabbitMQ.DeadLetter.Exchange = c.RabbitMQ.Exchange.Name + ".dlx"
	}
	if c.RabbitMQ.DeadLetter.Queue == "" && c.RabbitMQ.Queue.Name != "" {
		c.RabbitMQ.DeadLetter.Queue = c.RabbitMQ.Queue.Name + ".dlq"
	}

	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 5
	}
	if c.Worker.VendorTimeout <= 0 {
		c.Worker.VendorTimeout = 10 * time.Second
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 4
	}
	if c.Worker.BackoffInitial <= 0 {
		c.Worker.BackoffInitial = time.Second
	}
	if c.Worker.BackoffMax <= 0 {
		c.Worker.BackoffMax = time.Minute
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}

	if len(c.Vendors) == 0 {
		c.Vendors = DefaultVendors()
	}

	if c.RateLimit.KeyPrefix == "" {
		c.RateLimit.KeyPrefix = "rate_limit"
	}
	if c.RateLimit.Default.Max <= 0 {
		c.RateLimit.Default.Max = 1
	}
	if c.RateLimit.Default.Duration <= 0 {
		c.RateLimit.Default.Duration = time.Second
	}
	if c.RateLimit.DeferBuffer <= 0 {
		c.RateLimit.DeferBuffer = 100 * time.Millisecond
	}

	if c.Buffer.BatchSize <= 0 {
		c.Buffer.BatchSize = 100
	}
	if c.Buffer.FlushInterval <= 0 {
		c.Buffer.FlushInterval = time.Second
	}
	if c.Buffer.ShutdownGrace <= 0 {
		c.Buffer.ShutdownGrace = 10 * time.Second
	}

	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.Schedule == "" {
		c.Retry.Schedule = "*/5 * * * *"
	}
	if c.Retry.BatchLimit <= 0 {
		c.Retry.BatchLimit = 500
	}

	if len(c.Scrubber.SensitiveFields) == 0 {
		c.Scrubber.SensitiveFields = []string{"customerEmail", "ssn"}
	}

	if c.Webhook.SignatureHeader == "" {
		c.Webhook.SignatureHeader = "X-Vendor-Signature"
	}
	if c.Webhook.CallbackTimeout <= 0 {
		c.Webhook.CallbackTimeout = 5 * time.Second
	}

	if c.Ingress.RequestsPerSecond <= 0 {
		c.Ingress.RequestsPerSecond = 100
	}
	if c.Ingress.Burst <= 0 {
		c.Ingress.Burst = 200
	}
	if c.Ingress.MaxBodyBytes <= 0 {
		c.Ingress.MaxBodyBytes = 16 << 10
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9091"
	}
}

// DefaultVendors returns the built-in sync and async vendor definitions
func DefaultVendors() map[string]VendorConfig {
	return map[string]VendorConfig{
		"syncVendor": {
			Type:           "sync",
			RateLimit:      LimitConfig{Max: 5, Duration: time.Second},
			ProcessingTime: DurationRange{Min: 500 * time.Millisecond, Max: 1500 * time.Millisecond},
		},
		"asyncVendor": {
			Type:           "async",
			RateLimit:      LimitConfig{Max: 3, Duration: time.Second},
			ProcessingTime: DurationRange{Min: 2000 * time.Millisecond, Max: 4000 * time.Millisecond},
		},
	}
}

// VendorFor returns the name of the vendor that serves the given type
func (c *Config) VendorFor(vendorType string) (string, bool) {
	for name, v := range c.Vendors {
		if v.Type == vendorType {
			return name, true
		}
	}
	return "", false
}

// Validate checks the settings shared by both services
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case DriverMongo:
		if c.Database.Mongo.URI == "" {
			return fmt.Errorf("mongo uri is required")
		}

		if c.Database.Mongo.Database == "" {
			return fmt.Errorf("mongo database is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	for i, class := range c.RabbitMQ.DelayClasses {
		if class <= 0 || (i > 0 && class <= c.RabbitMQ.DelayClasses[i-1]) {
			return fmt.Errorf("rabbitmq delay_classes must be positive and ascending")
		}
	}

	if c.Buffer.BatchSize <= 0 {
		return fmt.Errorf("buffer batch_size must be greater than 0")
	}

	if c.Buffer.FlushInterval <= 0 {
		return fmt.Errorf("buffer flush_interval must be greater than 0")
	}

	for name, v := range c.Vendors {
		if v.Type != "sync" && v.Type != "async" {
			return fmt.Errorf("vendor %s: type must be sync or async", name)
		}

		if v.RateLimit.Max <= 0 {
			return fmt.Errorf("vendor %s: rate_limit max must be greater than 0", name)
		}

		if v.RateLimit.Duration < time.Millisecond {
			return fmt.Errorf("vendor %s: rate_limit duration must be at least 1ms", name)
		}

		if v.ProcessingTime.Min < 0 || v.ProcessingTime.Max < v.ProcessingTime.Min {
			return fmt.Errorf("vendor %s: invalid processing_time range", name)
		}
	}

	for _, vendorType := range []string{"sync", "async"} {
		if _, ok := c.VendorFor(vendorType); !ok {
			return fmt.Errorf("no vendor configured for type %s", vendorType)
		}
	}

	return nil
}

// ValidateAPIConfig checks the settings required by the API service
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Webhook.RequireSignature {
		for name, v := range c.Vendors {
			if v.Type == "async" && v.WebhookSecret == "" {
				return fmt.Errorf("vendor %s: webhook_secret is required when signatures are enforced", name)
			}
		}
	}

	if c.Ingress.MaxBodyBytes <= 0 {
		return fmt.Errorf("ingress max_body_bytes must be greater than 0")
	}

	return nil
}

// ValidateWorkerConfig checks the settings required by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.VendorTimeout <= 0 {
		return fmt.Errorf("worker vendor_timeout must be greater than 0")
	}

	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker max_attempts must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Retry.MaxRetries <= 0 {
		return fmt.Errorf("retry max_retries must be greater than 0")
	}

	if c.Retry.Schedule == "" {
		return fmt.Errorf("retry schedule is required")
	}

	return nil
}
