package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Store       StoreConfig
	Invoicing   InvoicingConfig
	Marketplace MarketplaceConfig
	Labels      LabelsConfig
	Scheduler   SchedulerConfig
	Telemetry   TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	// OrdersView is the unified order view reloads read from
	OrdersView string
}

// RedisConfig holds Redis connection settings. Redis backs event dedupe and
// emission locks; without it both fall back to in-process implementations.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// KafkaConfig holds the realtime order change stream settings
type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	TopicPrefix string // topic per tenant is <prefix><tenant id>
	GroupPrefix string
	EventsTopic string // domain events are forwarded here; empty disables forwarding
	MinBytes    int
	MaxBytes    int
	MaxWait     time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	CORSAllowOrigins []string
	TrustedProxies   []string
}

// StoreConfig holds the order reconciliation store settings
type StoreConfig struct {
	PageSize          int
	OptimisticTimeout time.Duration
	Timezone          string
	EventBuffer       int
	DedupeTTL         time.Duration
	ShippingPriority  []string
	BulkConcurrency   int
}

// InvoicingConfig holds the invoicing service settings
type InvoicingConfig struct {
	Environment   string // sandbox or production
	SandboxURL    string
	ProductionURL string
	Token         string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	PollInterval  time.Duration
	LockTTL       time.Duration
}

// MarketplaceConfig holds the marketplace sync service settings
type MarketplaceConfig struct {
	SyncURL string
	Token   string
	Timeout time.Duration
}

// LabelsConfig holds label storage settings
type LabelsConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
	CacheDir        string // local pebble cache; empty disables it
	CacheTTL        time.Duration
}

// SchedulerConfig holds emission worker pool configuration
type SchedulerConfig struct {
	Enabled           bool
	MaxConcurrentJobs int
	QueueSize         int
	JobTimeout        time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool   // Whether to enable OpenTelemetry metrics export
	CollectorEndpoint string // OTEL Collector endpoint (e.g., "localhost:4317")
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	ExportInterval    time.Duration
	TracingEnabled    bool
	SamplingRatio     float64 // 0.0 to 1.0
	LogsEnabled       bool    // bridge zap records to the collector
	DBTracing         bool    // otelgorm spans for order view and record queries
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with FULFILLMENT_ prefix (e.g., FULFILLMENT_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("FULFILLMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			OrdersView:      v.GetString("database.orders_view"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Enabled:     v.GetBool("kafka.enabled"),
			Brokers:     v.GetStringSlice("kafka.brokers"),
			TopicPrefix: v.GetString("kafka.topic_prefix"),
			GroupPrefix: v.GetString("kafka.group_prefix"),
			EventsTopic: v.GetString("kafka.events_topic"),
			MinBytes:    v.GetInt("kafka.min_bytes"),
			MaxBytes:    v.GetInt("kafka.max_bytes"),
			MaxWait:     v.GetDuration("kafka.max_wait"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Store: StoreConfig{
			PageSize:          v.GetInt("store.page_size"),
			OptimisticTimeout: v.GetDuration("store.optimistic_timeout"),
			Timezone:          v.GetString("store.timezone"),
			EventBuffer:       v.GetInt("store.event_buffer"),
			DedupeTTL:         v.GetDuration("store.dedupe_ttl"),
			ShippingPriority:  v.GetStringSlice("store.shipping_priority"),
			BulkConcurrency:   v.GetInt("store.bulk_concurrency"),
		},
		Invoicing: InvoicingConfig{
			Environment:   v.GetString("invoicing.environment"),
			SandboxURL:    v.GetString("invoicing.sandbox_url"),
			ProductionURL: v.GetString("invoicing.production_url"),
			Token:         v.GetString("invoicing.token"),
			Timeout:       v.GetDuration("invoicing.timeout"),
			MaxRetries:    v.GetInt("invoicing.max_retries"),
			RetryDelay:    v.GetDuration("invoicing.retry_delay"),
			PollInterval:  v.GetDuration("invoicing.poll_interval"),
			LockTTL:       v.GetDuration("invoicing.lock_ttl"),
		},
		Marketplace: MarketplaceConfig{
			SyncURL: v.GetString("marketplace.sync_url"),
			Token:   v.GetString("marketplace.token"),
			Timeout: v.GetDuration("marketplace.timeout"),
		},
		Labels: LabelsConfig{
			Bucket:          v.GetString("labels.bucket"),
			Region:          v.GetString("labels.region"),
			Endpoint:        v.GetString("labels.endpoint"),
			AccessKeyID:     v.GetString("labels.access_key_id"),
			SecretAccessKey: v.GetString("labels.secret_access_key"),
			Prefix:          v.GetString("labels.prefix"),
			UsePathStyle:    v.GetBool("labels.use_path_style"),
			CacheDir:        v.GetString("labels.cache_dir"),
			CacheTTL:        v.GetDuration("labels.cache_ttl"),
		},
		Scheduler: SchedulerConfig{
			Enabled:           v.GetBool("scheduler.enabled"),
			MaxConcurrentJobs: v.GetInt("scheduler.max_concurrent_jobs"),
			QueueSize:         v.GetInt("scheduler.queue_size"),
			JobTimeout:        v.GetDuration("scheduler.job_timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			TracingEnabled:    v.GetBool("telemetry.tracing_enabled"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTracing:         v.GetBool("telemetry.db_tracing"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills empty values with defaults
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "fulfillment"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "fulfillment"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.OrdersView == "" {
		cfg.Database.OrdersView = "unified_orders"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.TopicPrefix == "" {
		cfg.Kafka.TopicPrefix = "orders."
	}
	if cfg.Kafka.GroupPrefix == "" {
		cfg.Kafka.GroupPrefix = "fulfillment-"
	}
	if cfg.Kafka.MinBytes == 0 {
		cfg.Kafka.MinBytes = 1
	}
	if cfg.Kafka.MaxBytes == 0 {
		cfg.Kafka.MaxBytes = 10 << 20 // 10MB
	}
	if cfg.Kafka.MaxWait == 0 {
		cfg.Kafka.MaxWait = 500 * time.Millisecond
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.Store.PageSize == 0 {
		cfg.Store.PageSize = 30
	}
	if cfg.Store.OptimisticTimeout == 0 {
		cfg.Store.OptimisticTimeout = 10 * time.Second
	}
	if cfg.Store.Timezone == "" {
		cfg.Store.Timezone = "America/Sao_Paulo"
	}
	if cfg.Store.EventBuffer == 0 {
		cfg.Store.EventBuffer = 256
	}
	if cfg.Store.DedupeTTL == 0 {
		cfg.Store.DedupeTTL = 24 * time.Hour
	}
	if len(cfg.Store.ShippingPriority) == 0 {
		cfg.Store.ShippingPriority = []string{"full", "flex", "envios", "correios", "other"}
	}
	if cfg.Store.BulkConcurrency == 0 {
		cfg.Store.BulkConcurrency = 8
	}
	if cfg.Invoicing.Environment == "" {
		cfg.Invoicing.Environment = "sandbox"
	}
	if cfg.Invoicing.SandboxURL == "" {
		cfg.Invoicing.SandboxURL = "https://homologacao.focusnfe.com.br"
	}
	if cfg.Invoicing.ProductionURL == "" {
		cfg.Invoicing.ProductionURL = "https://api.focusnfe.com.br"
	}
	if cfg.Invoicing.Timeout == 0 {
		cfg.Invoicing.Timeout = 30 * time.Second
	}
	if cfg.Invoicing.MaxRetries == 0 {
		cfg.Invoicing.MaxRetries = 3
	}
	if cfg.Invoicing.RetryDelay == 0 {
		cfg.Invoicing.RetryDelay = 30 * time.Second
	}
	if cfg.Invoicing.PollInterval == 0 {
		cfg.Invoicing.PollInterval = time.Minute
	}
	if cfg.Invoicing.LockTTL == 0 {
		cfg.Invoicing.LockTTL = 2 * time.Minute
	}
	if cfg.Marketplace.Timeout == 0 {
		cfg.Marketplace.Timeout = 30 * time.Second
	}
	if cfg.Labels.Region == "" {
		cfg.Labels.Region = "us-east-1"
	}
	if cfg.Labels.Prefix == "" {
		cfg.Labels.Prefix = "labels"
	}
	if cfg.Labels.CacheTTL == 0 {
		cfg.Labels.CacheTTL = 6 * time.Hour
	}
	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 3
	}
	if cfg.Scheduler.QueueSize == 0 {
		cfg.Scheduler.QueueSize = 100
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 2 * time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "fulfillment"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Store.PageSize <= 0 {
		return fmt.Errorf("store.page_size must be positive")
	}
	if c.Store.OptimisticTimeout <= 0 {
		return fmt.Errorf("store.optimistic_timeout must be positive")
	}
	if _, err := time.LoadLocation(c.Store.Timezone); err != nil {
		return fmt.Errorf("store.timezone %q: %w", c.Store.Timezone, err)
	}

	switch c.Invoicing.Environment {
	case "sandbox", "production":
	default:
		return fmt.Errorf("invoicing.environment must be sandbox or production, got %q", c.Invoicing.Environment)
	}
	if c.Invoicing.Timeout <= 0 {
		return fmt.Errorf("invoicing.timeout must be positive")
	}

	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0 and 1")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Invoicing.Token == "" {
			return fmt.Errorf("invoicing.token is required in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	return nil
}

// Location returns the store timezone
func (s *StoreConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// BaseURL returns the invoicing service URL of an environment
func (i *InvoicingConfig) BaseURL(env string) string {
	if env == "production" {
		return i.ProductionURL
	}
	return i.SandboxURL
}
