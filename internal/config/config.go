// Package config loads service configuration from YAML files and
// ORDEREXEC_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "ORDEREXEC"

// Config is the root configuration.
type Config struct {
	Environment string          `mapstructure:"environment" json:"environment" validate:"required,oneof=development staging production test"`
	Engine      EngineConfig    `mapstructure:"engine" json:"engine"`
	Lifecycle   LifecycleConfig `mapstructure:"lifecycle" json:"lifecycle"`
	Executor    ExecutorConfig  `mapstructure:"executor" json:"executor"`
	Quotes      QuotesConfig    `mapstructure:"quotes" json:"quotes"`
	Database    DatabaseConfig  `mapstructure:"database" json:"database"`
	Redis       RedisConfig     `mapstructure:"redis" json:"redis"`
	Kafka       KafkaConfig     `mapstructure:"kafka" json:"kafka"`
	Server      ServerConfig    `mapstructure:"server" json:"server"`
	Tracing     TracingConfig   `mapstructure:"tracing" json:"tracing"`
	Log         LogConfig       `mapstructure:"log" json:"log"`
}

// EngineConfig tunes the monitoring loop.
type EngineConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval" validate:"gt=0"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff" json:"error_backoff" validate:"gt=0"`
	QuoteTimeout  time.Duration `mapstructure:"quote_timeout" json:"quote_timeout" validate:"gt=0"`
	MaxConditions int           `mapstructure:"max_conditions" json:"max_conditions" validate:"gt=0"`
}

// LifecycleConfig controls archive retention and intake validation.
type LifecycleConfig struct {
	Retention       time.Duration `mapstructure:"retention" json:"retention" validate:"gt=0"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval" validate:"gt=0"`
	Symbols         []string      `mapstructure:"symbols" json:"symbols"`
}

// ExecutorConfig selects where converted orders go.
type ExecutorConfig struct {
	Kind    string  `mapstructure:"kind" json:"kind" validate:"oneof=paper kafka"`
	FeeRate float64 `mapstructure:"fee_rate" json:"fee_rate" validate:"gte=0"`
	Topic   string  `mapstructure:"topic" json:"topic"`
}

// QuotesConfig selects the quote source.
type QuotesConfig struct {
	Source    string            `mapstructure:"source" json:"source" validate:"oneof=static redis"`
	KeyPrefix string            `mapstructure:"key_prefix" json:"key_prefix"`
	Static    map[string]string `mapstructure:"static" json:"static"`
}

// DatabaseConfig configures order storage.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" json:"driver" validate:"oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn" json:"-" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" json:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate" json:"auto_migrate"`
}

// RedisConfig configures the Redis client used for quotes and order caching.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled" json:"enabled"`
	Addr     string        `mapstructure:"addr" json:"addr"`
	Password string        `mapstructure:"password" json:"-"`
	DB       int           `mapstructure:"db" json:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
}

// KafkaConfig configures transition and order publishing.
type KafkaConfig struct {
	Enabled         bool     `mapstructure:"enabled" json:"enabled"`
	Brokers         []string `mapstructure:"brokers" json:"brokers"`
	TransitionTopic string   `mapstructure:"transition_topic" json:"transition_topic"`
	Group           string   `mapstructure:"group" json:"group"`
	Compression     string   `mapstructure:"compression" json:"compression"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `mapstructure:"host" json:"host"`
	Port            int           `mapstructure:"port" json:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" json:"allowed_origins"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	PrettyPrint bool   `mapstructure:"pretty_print" json:"pretty_print"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `mapstructure:"level" json:"level" validate:"oneof=debug info warn error"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads .env (if present), then every existing file in paths in order,
// then environment overrides, and validates the result.
func Load(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if c.Quotes.Source == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("configuration validation failed: quotes.source=redis requires redis.enabled")
	}
	if c.Executor.Kind == "kafka" && (!c.Kafka.Enabled || len(c.Kafka.Brokers) == 0 || c.Executor.Topic == "") {
		return fmt.Errorf("configuration validation failed: executor.kind=kafka requires kafka brokers and executor.topic")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("configuration validation failed: kafka.enabled requires kafka.brokers")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("engine.sweep_interval", 2*time.Second)
	v.SetDefault("engine.error_backoff", 5*time.Second)
	v.SetDefault("engine.quote_timeout", 2*time.Second)
	v.SetDefault("engine.max_conditions", 10000)

	v.SetDefault("lifecycle.retention", 24*time.Hour)
	v.SetDefault("lifecycle.cleanup_interval", 10*time.Minute)
	v.SetDefault("lifecycle.symbols", []string{})

	v.SetDefault("executor.kind", "paper")
	v.SetDefault("executor.fee_rate", 0.001)
	v.SetDefault("executor.topic", "orders.concrete")

	v.SetDefault("quotes.source", "static")
	v.SetDefault("quotes.key_prefix", "quote:")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:orderexec.db?cache=shared")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 5*time.Minute)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.transition_topic", "orders.transitions")
	v.SetDefault("kafka.group", "orderexec")
	v.SetDefault("kafka.compression", "snappy")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "orderexec")
	v.SetDefault("tracing.pretty_print", false)

	v.SetDefault("log.level", "info")
}
