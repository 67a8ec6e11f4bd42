package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	pkgconfig "github.com/utafrali/fulfillment/pkg/config"
	"github.com/utafrali/fulfillment/pkg/database"
	"github.com/utafrali/fulfillment/pkg/tracing"
)

// Driver names for the pluggable infrastructure.
const (
	BusDriverKafka    = "kafka"
	BusDriverMemory   = "memory"
	DedupDriverRedis  = "redis"
	DedupDriverMemory = "memory"
)

// Config holds all configuration for the fulfillment service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort           int      `env:"FULFILLMENT_HTTP_PORT" envDefault:"8010"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"fulfillment"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"fulfillment_secret"`
	PostgresDB   string `env:"FULFILLMENT_DB_NAME" envDefault:"fulfillment_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	// Event bus
	BusDriver    string   `env:"BUS_DRIVER" envDefault:"kafka"`
	BusWorkers   int      `env:"BUS_WORKERS" envDefault:"8"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Time-window dedup of catalog stock signals
	DedupDriver string        `env:"DEDUP_DRIVER" envDefault:"redis"`
	DedupWindow time.Duration `env:"DEDUP_WINDOW" envDefault:"5s"`

	// Pricing
	TaxRate     decimal.Decimal `env:"TAX_RATE" envDefault:"0.10"`
	ShippingFee int64           `env:"SHIPPING_FEE" envDefault:"1500"`
	Currency    string          `env:"CURRENCY" envDefault:"BRL"`

	// Outbox
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"500ms"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxRetention    time.Duration `env:"OUTBOX_RETENTION" envDefault:"168h"`

	// Notifications
	NotificationWebhookURL    string `env:"NOTIFICATION_WEBHOOK_URL"`
	NotificationWebhookRPS    int    `env:"NOTIFICATION_WEBHOOK_RPS" envDefault:"20"`
	NotificationOperatorEmail string `env:"NOTIFICATION_OPERATOR_EMAIL" envDefault:"operations@example.com"`

	// OpenTelemetry
	Tracing tracing.Config

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load fulfillment config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	switch c.BusDriver {
	case BusDriverKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when BUS_DRIVER=kafka")
		}
	case BusDriverMemory:
	default:
		return fmt.Errorf("BUS_DRIVER must be %q or %q, got %q", BusDriverKafka, BusDriverMemory, c.BusDriver)
	}
	if c.BusWorkers < 1 {
		return fmt.Errorf("BUS_WORKERS must be > 0, got %d", c.BusWorkers)
	}
	if c.DedupDriver != DedupDriverRedis && c.DedupDriver != DedupDriverMemory {
		return fmt.Errorf("DEDUP_DRIVER must be %q or %q, got %q", DedupDriverRedis, DedupDriverMemory, c.DedupDriver)
	}
	if c.DedupWindow <= 0 {
		return fmt.Errorf("DEDUP_WINDOW must be > 0, got %s", c.DedupWindow)
	}
	if c.TaxRate.IsNegative() {
		return fmt.Errorf("TAX_RATE must not be negative, got %s", c.TaxRate)
	}
	if c.ShippingFee < 0 {
		return fmt.Errorf("SHIPPING_FEE must not be negative, got %d", c.ShippingFee)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("CURRENCY must be a 3-letter code, got %q", c.Currency)
	}
	if c.OutboxPollInterval <= 0 {
		return fmt.Errorf("OUTBOX_POLL_INTERVAL must be > 0, got %s", c.OutboxPollInterval)
	}
	if c.OutboxBatchSize < 1 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be > 0, got %d", c.OutboxBatchSize)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.Tracing.SampleRate)
	}
	return nil
}

// Postgres returns the pool settings for database.NewPostgresPool.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the client settings for database.NewRedisClient.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:        c.RedisHost,
		Port:        c.RedisPort,
		Password:    c.RedisPassword,
		DB:          c.RedisDB,
		PoolSize:    c.RedisPoolSize,
		DialTimeout: 5 * time.Second,
	}
}

// NeedsRedis reports whether any configured component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.DedupDriver == DedupDriverRedis || c.BusDriver == BusDriverKafka
}
