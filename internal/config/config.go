package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Service    Service    `envconfig:"SERVICE"`
	SQS        SQS        `envconfig:"SQS"`
	ClickHouse ClickHouse `envconfig:"CLICKHOUSE"`
	Postgres   Postgres   `envconfig:"POSTGRES"`
	Redis      Redis      `envconfig:"REDIS"`
	Counter    Counter    `envconfig:"COUNTER"`
	Consumer   Consumer   `envconfig:"CONSUMER"`
	Lead       Lead       `envconfig:"LEAD"`
	Reconcile  Reconcile  `envconfig:"RECONCILE"`
}

type Service struct {
	Environment string `envconfig:"ENVIRONMENT" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	APIPort     string `envconfig:"API_PORT" default:"8080"`
	Host        string `envconfig:"HOST" default:"localhost:8080"`
}

type SQS struct {
	Endpoint string `envconfig:"ENDPOINT"`
	QueueURL string `envconfig:"QUEUE_URL" required:"true"`
	Region   string `envconfig:"REGION" required:"true"`
}

type ClickHouse struct {
	Host            string `envconfig:"HOST" required:"true"`
	Port            string `envconfig:"PORT" required:"true"`
	Database        string `envconfig:"DB" required:"true"`
	User            string `envconfig:"USER" default:""`
	Password        string `envconfig:"PASSWORD" default:""`
	UseTLS          bool   `envconfig:"USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CONN_MAX_LIFETIME_SEC" default:"3600"`
}

type Postgres struct {
	DSN             string `envconfig:"DSN" required:"true"`
	MaxOpenConns    int    `envconfig:"MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int    `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime int    `envconfig:"CONN_MAX_LIFETIME_SEC" default:"1800"`
}

type Redis struct {
	Address  string `envconfig:"ADDRESS" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD" default:""`
	DB       int    `envconfig:"DB" default:"0"`
}

// Counter selects and tunes the counter store backend.
type Counter struct {
	Backend string        `envconfig:"BACKEND" default:"redis"`
	TTL     time.Duration `envconfig:"TTL" default:"168h"`
}

type Consumer struct {
	BatchSizeMin    int    `envconfig:"BATCH_SIZE_MIN" default:"100"`
	BatchSizeMax    int    `envconfig:"BATCH_SIZE_MAX" default:"2000"`
	BatchTimeoutSec int    `envconfig:"BATCH_TIMEOUT_SEC" default:"10"`
	HealthCheckPort string `envconfig:"HEALTH_CHECK_PORT" default:"8081"`
	EffectWorkers   int    `envconfig:"EFFECT_WORKERS" default:"16"`
}

type Lead struct {
	MaxWriteAttempts int           `envconfig:"MAX_WRITE_ATTEMPTS" default:"5"`
	LockStripes      int           `envconfig:"LOCK_STRIPES" default:"256"`
	RetryBackoff     time.Duration `envconfig:"RETRY_BACKOFF" default:"10ms"`
}

type Reconcile struct {
	PageSize       int     `envconfig:"PAGE_SIZE" default:"1000"`
	MaxPages       int     `envconfig:"MAX_PAGES" default:"100"`
	PagesPerSecond float64 `envconfig:"PAGES_PER_SECOND" default:"5"`
	Schedule       string  `envconfig:"SCHEDULE" default:"0 3 * * *"`
	WindowDays     int     `envconfig:"WINDOW_DAYS" default:"7"`
	MaxAttempts    int     `envconfig:"MAX_ATTEMPTS" default:"3"`
	ApplyFixes     bool    `envconfig:"APPLY_FIXES" default:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if cfg.Counter.Backend != "redis" && cfg.Counter.Backend != "memory" {
		return nil, fmt.Errorf("unsupported counter backend: %s (supported: redis, memory)", cfg.Counter.Backend)
	}

	if cfg.Reconcile.PageSize <= 0 || cfg.Reconcile.MaxPages <= 0 {
		return nil, fmt.Errorf("reconcile page size and max pages must be positive")
	}

	return &cfg, nil
}
