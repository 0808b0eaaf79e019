package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Store        StoreConfig
	Postgres     PostgresConfig
	SQLite       SQLiteConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Kafka        KafkaConfig
	Blob         BlobConfig
	Evidence     EvidenceConfig
	Worker       WorkerConfig
	Expense      ExpenseConfig
	Tracing      TracingConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `env:"APP_NAME" envDefault:"work-order-service"`
	Env                   string `env:"APP_ENV" envDefault:"development"`
	Host                  string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port                  string `env:"APP_PORT" envDefault:"8080"`
	Version               string `env:"APP_VERSION" envDefault:"dev"`
	RequestTimeoutSeconds int    `env:"HTTP_REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
	BodyLimitMB           int    `env:"HTTP_BODY_LIMIT_MB" envDefault:"32"`
	ConflictRetries       uint64 `env:"CONFLICT_MAX_RETRIES" envDefault:"3"`
}

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

// Sequence backends.
const (
	SequenceStore  = "store"
	SequenceRedis  = "redis"
	SequenceMemory = "memory"
)

// StoreConfig selects the persistence backend and work order number allocator.
type StoreConfig struct {
	Driver   string `env:"STORE_DRIVER" envDefault:"postgres"`
	Sequence string `env:"SEQUENCE_BACKEND" envDefault:"store"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `env:"POSTGRES_DSN"`
	MaxConns       int32  `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	MinConns       int32  `env:"POSTGRES_MIN_CONNS" envDefault:"2"`
	RunMigrations  bool   `env:"POSTGRES_RUN_MIGRATIONS" envDefault:"true"`
	ConnMaxIdleSec int32  `env:"POSTGRES_CONN_MAX_IDLE_SECONDS" envDefault:"30"`
	ConnMaxLifeSec int32  `env:"POSTGRES_CONN_MAX_LIFE_SECONDS" envDefault:"300"`
}

// SQLiteConfig configures the embedded store.
type SQLiteConfig struct {
	Path string `env:"SQLITE_PATH" envDefault:"data/workorders.db"`
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr            string `env:"REDIS_ADDR"`
	Password        string `env:"REDIS_PASSWORD"`
	DB              int    `env:"REDIS_DB" envDefault:"0"`
	DirectoryTTLSec int    `env:"REDIS_DIRECTORY_TTL_SECONDS" envDefault:"300"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string `env:"AUTH_JWT_SECRET" envDefault:"dev-secret"`
	Issuer                string `env:"AUTH_JWT_ISSUER" envDefault:"work-order-service"`
	AccessTokenTTLMinutes int    `env:"AUTH_ACCESS_TOKEN_TTL_MINUTES" envDefault:"60"`
}

// Notification transports.
const (
	NotifyLog     = "log"
	NotifyWebhook = "webhook"
	NotifyKafka   = "kafka"
)

// NotificationConfig selects and configures the notification transport.
type NotificationConfig struct {
	Transport       string  `env:"NOTIFY_TRANSPORT" envDefault:"log"`
	WebhookURL      string  `env:"NOTIFY_WEBHOOK_URL"`
	WebhookRPS      float64 `env:"NOTIFY_WEBHOOK_RPS" envDefault:"10"`
	WebhookBurst    int     `env:"NOTIFY_WEBHOOK_BURST" envDefault:"20"`
	WebhookTimeoutS int     `env:"NOTIFY_WEBHOOK_TIMEOUT_SECONDS" envDefault:"5"`
}

// KafkaConfig configures the notification producer.
type KafkaConfig struct {
	Brokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic    string   `env:"KAFKA_NOTIFICATION_TOPIC" envDefault:"work-order-notifications"`
	ClientID string   `env:"KAFKA_CLIENT_ID" envDefault:"work-order-service"`
}

// BlobConfig configures evidence file storage.
type BlobConfig struct {
	Root string `env:"BLOB_ROOT" envDefault:"data/blobs"`
}

// EvidenceConfig holds the photo policy limits.
type EvidenceConfig struct {
	MaxFiles     int      `env:"EVIDENCE_MAX_FILES" envDefault:"5"`
	MaxFileBytes int64    `env:"EVIDENCE_MAX_FILE_BYTES" envDefault:"5242880"`
	AllowedTypes []string `env:"EVIDENCE_ALLOWED_TYPES" envSeparator:"," envDefault:"image/jpeg,image/png"`
}

// WorkerConfig sizes the side-effect worker pool.
type WorkerConfig struct {
	Concurrency    int `env:"WORKER_CONCURRENCY" envDefault:"4"`
	QueueSize      int `env:"WORKER_QUEUE_SIZE" envDefault:"256"`
	JobTimeoutSecs int `env:"WORKER_JOB_TIMEOUT_SECONDS" envDefault:"45"`
}

// ExpenseConfig tunes retries of expense creation. The retry window runs
// inside one worker job, so it must be shorter than the job timeout.
type ExpenseConfig struct {
	MaxElapsedSeconds int `env:"EXPENSE_RETRY_MAX_ELAPSED_SECONDS" envDefault:"30"`
}

// TracingConfig configures OpenTelemetry export. An empty endpoint disables export.
type TracingConfig struct {
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1"`
}

// Load reads configuration from the environment, after merging a local .env file when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadAuth reads only the token settings, so tokens can be issued without a
// reachable store.
func LoadAuth() (AuthConfig, error) {
	_ = godotenv.Load()

	var cfg AuthConfig
	if err := env.Parse(&cfg); err != nil {
		return AuthConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverSQLite, StoreDriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.Store.Driver)
	}
	switch c.Store.Sequence {
	case SequenceStore, SequenceMemory:
	case SequenceRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("SEQUENCE_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("invalid SEQUENCE_BACKEND %q", c.Store.Sequence)
	}
	switch c.Notification.Transport {
	case NotifyLog:
	case NotifyWebhook:
		if strings.TrimSpace(c.Notification.WebhookURL) == "" {
			return fmt.Errorf("NOTIFY_TRANSPORT=webhook requires NOTIFY_WEBHOOK_URL")
		}
	case NotifyKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("NOTIFY_TRANSPORT=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("invalid NOTIFY_TRANSPORT %q", c.Notification.Transport)
	}
	if retry := c.Expense.MaxElapsed(); retry >= c.Worker.JobTimeout() {
		return fmt.Errorf("EXPENSE_RETRY_MAX_ELAPSED_SECONDS (%s) must be shorter than WORKER_JOB_TIMEOUT_SECONDS (%s)", retry, c.Worker.JobTimeout())
	}
	if c.Store.Driver == StoreDriverPostgres && c.Postgres.DSN == "" {
		return fmt.Errorf("STORE_DRIVER=postgres requires POSTGRES_DSN")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AccessTokenTTL returns the lifetime of issued bearer tokens.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// JobTimeout bounds a single side-effect handler invocation.
func (w WorkerConfig) JobTimeout() time.Duration {
	if w.JobTimeoutSecs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(w.JobTimeoutSecs) * time.Second
}

// MaxElapsed bounds the expense retry loop.
func (e ExpenseConfig) MaxElapsed() time.Duration {
	if e.MaxElapsedSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.MaxElapsedSeconds) * time.Second
}

// DirectoryTTL is how long resolved names and contacts stay cached.
func (r RedisConfig) DirectoryTTL() time.Duration {
	return time.Duration(r.DirectoryTTLSec) * time.Second
}
