package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Log           LogConfig           `mapstructure:"log"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	Fulfillment   FulfillmentConfig   `mapstructure:"fulfillment"`
	Crypto        CryptoConfig        `mapstructure:"crypto"`
	Loyalty       LoyaltyConfig       `mapstructure:"loyalty"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type LedgerConfig struct {
	Currency       string        `mapstructure:"currency"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type FulfillmentConfig struct {
	BatchSize   int            `mapstructure:"batch_size"`
	MaxAttempts int            `mapstructure:"max_attempts"`
	Provider    ProviderConfig `mapstructure:"provider"`
}

// ProviderConfig configures the HTTP delivery provider. An empty BaseURL disables it.
type ProviderConfig struct {
	Name    string        `mapstructure:"name"` // products with this provider key are delivered over HTTP
	BaseURL string        `mapstructure:"base_url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit caps outgoing requests per second; 0 disables the cap.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type CryptoConfig struct {
	PayloadKey string `mapstructure:"payload_key"` // 32-byte hex-encoded key for AES-256
}

// LoyaltyConfig lists tiers ordered by ascending spend threshold.
// Thresholds are decimal strings in major units ("500.00").
type LoyaltyConfig struct {
	Tiers []TierConfig `mapstructure:"tiers"`
}

type TierConfig struct {
	Name      string `mapstructure:"name"`
	Threshold string `mapstructure:"threshold"`
}

type SchedulerConfig struct {
	HealthAddr  string `mapstructure:"health_addr"`
	Fulfillment string `mapstructure:"fulfillment"`
	Settlement  string `mapstructure:"settlement"`
	Reconcile   string `mapstructure:"reconcile"`
	Loyalty     string `mapstructure:"loyalty"`
}

type NotificationsConfig struct {
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: STOREFRONT_.
// Nested keys use underscore: STOREFRONT_DATABASE_HOST, STOREFRONT_CRYPTO_PAYLOAD_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "storefront")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("ledger.currency", "USD")
	v.SetDefault("ledger.idempotency_ttl", "24h")
	v.SetDefault("fulfillment.batch_size", 50)
	v.SetDefault("fulfillment.max_attempts", 3)
	v.SetDefault("fulfillment.provider.name", "http")
	v.SetDefault("fulfillment.provider.base_url", "")
	v.SetDefault("fulfillment.provider.secret", "")
	v.SetDefault("fulfillment.provider.timeout", "15s")
	v.SetDefault("fulfillment.provider.rate_limit", 5)
	v.SetDefault("fulfillment.provider.burst", 1)
	v.SetDefault("crypto.payload_key", "")
	v.SetDefault("loyalty.tiers", []map[string]any{
		{"name": "bronze", "threshold": "0"},
		{"name": "silver", "threshold": "500"},
		{"name": "gold", "threshold": "2000"},
		{"name": "platinum", "threshold": "5000"},
	})
	v.SetDefault("scheduler.health_addr", ":8081")
	v.SetDefault("scheduler.fulfillment", "@every 1m")
	v.SetDefault("scheduler.settlement", "0 2 * * *")
	v.SetDefault("scheduler.reconcile", "30 3 * * *")
	v.SetDefault("scheduler.loyalty", "0 4 * * *")
	v.SetDefault("notifications.channel_prefix", "storefront:notifications")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
