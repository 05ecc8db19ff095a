package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/example/bank-ledger/internal/logging"
)

const configDirPathEnv = "LEDGER_CONFIG_DIR"

// Config holds the application configuration.
type Config struct {
	Environment string `env:"APP_ENV"`

	Database DatabaseConfig
	Ledger   LedgerConfig
	Server   ServerConfig
	Auth     AuthConfig
	Redis    RedisConfig
	Events   EventsConfig
	Monitor  MonitorConfig
	Audit    AuditConfig
	Log      logging.Config
}

type DatabaseConfig struct {
	Driver      string `env:"DB_DRIVER" env-default:"postgres"` // postgres or sqlite
	URL         string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" env-default:"ledger.db"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" env-default:"true"`
}

type LedgerConfig struct {
	LockTimeout    time.Duration `env:"LEDGER_LOCK_TIMEOUT" env-default:"5s"`
	RetryAttempts  int           `env:"LEDGER_RETRY_ATTEMPTS" env-default:"3"`
	RetryBaseDelay time.Duration `env:"LEDGER_RETRY_BASE_DELAY" env-default:"50ms"`
}

type ServerConfig struct {
	HTTPAddr       string   `env:"HTTP_ADDR" env-default:":8080"`
	GRPCHealthAddr string   `env:"GRPC_HEALTH_ADDR" env-default:":9090"`
	TLSCertFile    string   `env:"TLS_CERT_FILE"`
	TLSKeyFile     string   `env:"TLS_KEY_FILE"`
	TLSCAFile      string   `env:"TLS_CA_FILE"`
	TLSClientAuth  string   `env:"TLS_CLIENT_AUTH" env-default:"optional"` // none, optional or require
	AdminAllowlist []string `env:"ADMIN_IP_ALLOWLIST" env-separator:","`
	MaxBodyBytes   int64    `env:"MAX_BODY_BYTES" env-default:"1048576"`
}

type AuthConfig struct {
	PublicKeyFile string `env:"JWT_PUBLIC_KEY_FILE"`
	Issuer        string `env:"JWT_ISSUER"`
}

type RedisConfig struct {
	Addr               string  `env:"REDIS_ADDR"`
	RateLimitCapacity  int     `env:"RATE_LIMIT_CAPACITY" env-default:"100"`
	RateLimitPerSecond float64 `env:"RATE_LIMIT_REFILL_PER_SEC" env-default:"50"`
}

type EventsConfig struct {
	Sink         string   `env:"EVENTS_SINK" env-default:"none"` // none, kafka or redis
	KafkaBrokers []string `env:"KAFKA_BROKERS" env-separator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" env-default:"ledger.journal_posted"`
	RedisChannel string   `env:"REDIS_EVENTS_CHANNEL" env-default:"ledger_events"`
}

type MonitorConfig struct {
	Interval time.Duration `env:"MONITOR_INTERVAL" env-default:"1m"`
}

type AuditConfig struct {
	LogFile string `env:"AUDIT_LOG_FILE"` // hash-chained JSON lines; empty keeps the chain in memory
}

// Load reads an optional .env file from LEDGER_CONFIG_DIR (or the working directory), then the
// process environment.
func Load() (*Config, error) {
	dir := os.Getenv(configDirPathEnv)
	if dir == "" {
		dir = "."
	}
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return LoadFromEnv()
}

// LoadFromEnv builds the configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.Database.Driver)
	}
	switch c.Events.Sink {
	case "", "none":
	case "kafka":
		if len(c.Events.KafkaBrokers) == 0 {
			missing = append(missing, "KAFKA_BROKERS")
		}
	case "redis":
		if c.Redis.Addr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
	default:
		return fmt.Errorf("EVENTS_SINK must be none, kafka or redis, got %q", c.Events.Sink)
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	if c.Production() {
		if c.Database.Driver != "postgres" {
			return errors.New("DB_DRIVER must be postgres in " + c.Environment)
		}
		if c.Auth.PublicKeyFile == "" {
			missing = append(missing, "JWT_PUBLIC_KEY_FILE")
		}
		if len(missing) > 0 {
			return errors.New("missing required environment variables for " + c.Environment + ": " + strings.Join(missing, ", "))
		}
	}

	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	switch c.Server.TLSClientAuth {
	case "", "none", "optional":
	case "require":
		if c.Server.TLSCAFile == "" {
			return errors.New("TLS_CLIENT_AUTH=require needs TLS_CA_FILE")
		}
	default:
		return fmt.Errorf("TLS_CLIENT_AUTH must be none, optional or require, got %q", c.Server.TLSClientAuth)
	}
	if c.Ledger.RetryAttempts < 1 {
		return errors.New("LEDGER_RETRY_ATTEMPTS must be at least 1")
	}
	if c.Ledger.LockTimeout <= 0 || c.Monitor.Interval <= 0 {
		return errors.New("LEDGER_LOCK_TIMEOUT and MONITOR_INTERVAL must be positive")
	}
	return nil
}

// Production reports whether the stricter production rules apply.
func (c *Config) Production() bool {
	return c.Environment == "production" || c.Environment == "staging"
}
