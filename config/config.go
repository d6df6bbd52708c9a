/*
Package config loads server configuration.

PURPOSE:
  One Config struct for every tunable of the server: listen port, database
  path, token secret, ledger rates, logging, throttling, the balance auditor
  and seed data.

SOURCES (lowest to highest precedence):
  1. Built-in defaults (setDefaults)
  2. Optional YAML file (-config flag, or ./config.yaml when present)
  3. .env file in the working directory (loaded into the environment)
  4. LOYALTY_* environment variables, e.g. LOYALTY_LEDGER_BASE_RATE=5

  Command-line flags in cmd/server override the loaded values last.

EXAMPLE config.yaml:
  server:
    port: 8080
  database:
    path: ./data/loyalty.db
  ledger:
    base_rate: 4
    max_spent: 10000
    redemption_policy: lenient
  throttle:
    backend: redis
    rps: 5
    burst: 10
  redis:
    addr: localhost:6379

SEE ALSO:
  - cmd/server/main.go: flag overrides
  - ledger/engine.go: ledger.Config
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/warp/loyalty-engine/ledger"
)

const envPrefix = "LOYALTY"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Log      LogConfig      `mapstructure:"log"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LedgerConfig keeps numbers as strings so rates like 0.1 are not rounded
// through float64 before reaching decimal.
type LedgerConfig struct {
	BaseRate         string `mapstructure:"base_rate"`
	MaxSpent         string `mapstructure:"max_spent"`
	RedemptionPolicy string `mapstructure:"redemption_policy"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type ThrottleConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Backend string        `mapstructure:"backend"`
	RPS     float64       `mapstructure:"rps"`
	Burst   int           `mapstructure:"burst"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuditConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type SeedConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.path", "./data/loyalty.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("ledger.base_rate", "4")
	v.SetDefault("ledger.max_spent", "10000")
	v.SetDefault("ledger.redemption_policy", string(ledger.RedemptionLenient))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("throttle.enabled", true)
	v.SetDefault("throttle.backend", "memory")
	v.SetDefault("throttle.rps", 5.0)
	v.SetDefault("throttle.burst", 10)
	v.SetDefault("throttle.ttl", 10*time.Minute)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.interval", time.Hour)
	v.SetDefault("seed.path", "")
}

// Load reads configuration from path (optional), .env and the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if _, err := c.LedgerConfig(); err != nil {
		return err
	}
	switch c.Throttle.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("throttle.backend must be memory or redis, got %q", c.Throttle.Backend)
	}
	if c.Throttle.Enabled && (c.Throttle.RPS <= 0 || c.Throttle.Burst <= 0) {
		return fmt.Errorf("throttle.rps and throttle.burst must be positive")
	}
	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		return fmt.Errorf("audit.interval must be positive")
	}
	return nil
}

// LedgerConfig converts the ledger section to ledger.Config.
func (c *Config) LedgerConfig() (ledger.Config, error) {
	rate, err := decimal.NewFromString(c.Ledger.BaseRate)
	if err != nil || !rate.IsPositive() {
		return ledger.Config{}, fmt.Errorf("ledger.base_rate must be a positive number, got %q", c.Ledger.BaseRate)
	}
	maxSpent, err := decimal.NewFromString(c.Ledger.MaxSpent)
	if err != nil || !maxSpent.IsPositive() {
		return ledger.Config{}, fmt.Errorf("ledger.max_spent must be a positive number, got %q", c.Ledger.MaxSpent)
	}
	policy, err := ledger.ParseRedemptionPolicy(c.Ledger.RedemptionPolicy)
	if err != nil {
		return ledger.Config{}, err
	}
	return ledger.Config{BaseRate: rate, MaxSpent: maxSpent, RedemptionPolicy: policy}, nil
}
