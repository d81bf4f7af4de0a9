package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/chungtau/ledger-payments/internal/domain"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	// Server settings
	GatewayPort string `env:"GATEWAY_PORT" envDefault:"8080"`
	GRPCPort    string `env:"GRPC_PORT" envDefault:"9090"`

	// Storage
	StoreDriver  string `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL  string `env:"DATABASE_URL"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"ledger-payments.db"`
	DemoClientID string `env:"DEMO_CLIENT_ID" envDefault:"demo-client"`

	// Payments
	BaseCurrency string `env:"BASE_CURRENCY" envDefault:"RSD"`

	// Redis backs rate limiting and idempotency; both are skipped when it is unreachable.
	RedisAddr      string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RateLimitRPS   int           `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int           `env:"RATE_LIMIT_BURST" envDefault:"20"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	// JWT settings
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-key"`

	// Event sinks, each disabled when empty
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic         string   `env:"KAFKA_TOPIC" envDefault:"ledger.transactions"`
	ElasticsearchURL   string   `env:"ELASTICSEARCH_URL"`
	ElasticsearchIndex string   `env:"ELASTICSEARCH_INDEX" envDefault:"ledger-payments-audit"`

	// Audit consumer (cmd/audit)
	AuditGroupID    string `env:"AUDIT_GROUP_ID" envDefault:"ledger-payments-audit"`
	DeadLetterTopic string `env:"KAFKA_DLQ_TOPIC" envDefault:"ledger.transactions.dlq"`

	// Feature flags
	DevMode  bool   `env:"DEV_MODE" envDefault:"false"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if !domain.ParseCurrency(c.BaseCurrency).Valid() {
		return fmt.Errorf("BASE_CURRENCY %q is not an ISO currency code", c.BaseCurrency)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// Currency returns the normalised base currency.
func (c *Config) Currency() domain.Currency {
	return domain.ParseCurrency(c.BaseCurrency)
}
