// Package config loads application configuration from defaults, an optional
// config file, a .env file, and TXFLOW_-prefixed environment variables, in
// that order of precedence (later sources win).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Form    FormConfig    `mapstructure:"form"`
	Fees    FeeConfig     `mapstructure:"fees"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// APIConfig holds API-related configuration
type APIConfig struct {
	Port               string   `mapstructure:"port"`
	Version            string   `mapstructure:"version"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute"`
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Brokers        string `mapstructure:"brokers"`
	ConsumerGroup  string `mapstructure:"consumer_group"`
	SubmitTopic    string `mapstructure:"submit_topic"`
	ConfirmedTopic string `mapstructure:"confirmed_topic"`
	FailedTopic    string `mapstructure:"failed_topic"`
}

// AuthConfig holds authentication-related configuration
type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	TokenExpiry int64  `mapstructure:"token_expiry"`
}

// FormConfig holds form controller configuration
type FormConfig struct {
	// DebounceWindow is the quiescence window applied to raw field edits
	// before a preparation is triggered.
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	// SessionTTL is how long an idle form session is kept before eviction.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// MaxSessions bounds the number of concurrently open form sessions.
	MaxSessions int `mapstructure:"max_sessions"`
}

// FeeConfig holds the fee schedule used during transaction preparation
type FeeConfig struct {
	Rate       float64 `mapstructure:"rate"`
	Minimum    float64 `mapstructure:"minimum"`
	GasLimit   uint64  `mapstructure:"gas_limit"`
	DefaultGas float64 `mapstructure:"default_gas_price"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// LoadOptions controls where configuration is loaded from
type LoadOptions struct {
	// ConfigFile is an optional path to a YAML config file.
	ConfigFile string
	// EnvFile is an optional path to a .env file loaded before env lookup.
	EnvFile string
	// EnvPrefix is the environment variable prefix (default "TXFLOW").
	EnvPrefix string
}

// DefaultLoadOptions returns the default load options
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		EnvFile:   ".env",
		EnvPrefix: "TXFLOW",
	}
}

// Load loads configuration using the default options
func Load() (*Config, error) {
	return LoadWithOptions(DefaultLoadOptions())
}

// LoadWithOptions loads configuration from defaults, the optional config
// file, and environment variables
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Best effort: a missing .env file is not an error
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	}

	v := viper.New()
	setDefaults(v)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "TXFLOW"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
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

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior
func (c *Config) Validate() error {
	if c.Form.DebounceWindow <= 0 {
		return fmt.Errorf("form.debounce_window must be positive, got %s", c.Form.DebounceWindow)
	}
	if c.Form.MaxSessions <= 0 {
		return fmt.Errorf("form.max_sessions must be positive, got %d", c.Form.MaxSessions)
	}
	if c.Fees.Rate < 0 {
		return fmt.Errorf("fees.rate must not be negative, got %f", c.Fees.Rate)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", "8080")
	v.SetDefault("api.version", "v1")
	v.SetDefault("api.cors_allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.rate_limit_per_minute", 100)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.consumer_group", "txflow")
	v.SetDefault("kafka.submit_topic", "transactions")
	v.SetDefault("kafka.confirmed_topic", "confirmed_transactions")
	v.SetDefault("kafka.failed_topic", "failed_transactions")

	v.SetDefault("auth.jwt_secret", "change_me")
	v.SetDefault("auth.token_expiry", 86400)

	v.SetDefault("form.debounce_window", 500*time.Millisecond)
	v.SetDefault("form.session_ttl", 30*time.Minute)
	v.SetDefault("form.max_sessions", 10000)

	v.SetDefault("fees.rate", 0.001)
	v.SetDefault("fees.minimum", 0.01)
	v.SetDefault("fees.gas_limit", 21000)
	v.SetDefault("fees.default_gas_price", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")

	v.SetDefault("metrics.namespace", "txflow")
}
