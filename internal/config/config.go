package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Broker kinds.
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// Config holds server and client configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	StoreDriver    string `mapstructure:"store_driver" yaml:"store_driver"`
	DatabasePath   string `mapstructure:"database_path" yaml:"database_path"`
	DatabaseURL    string `mapstructure:"database_url" yaml:"database_url"`
	PostgresSchema string `mapstructure:"postgres_schema" yaml:"postgres_schema"`
	PostgresConns  int32  `mapstructure:"postgres_max_conns" yaml:"postgres_max_conns"`

	Broker      string `mapstructure:"broker" yaml:"broker"`
	RedisURL    string `mapstructure:"redis_url" yaml:"redis_url"`
	RedisPrefix string `mapstructure:"redis_prefix" yaml:"redis_prefix"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	MaxMessageBytes int `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SubscribeBuffer int `mapstructure:"subscribe_buffer" yaml:"subscribe_buffer"`

	// Client side: where the CLI finds the server.
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`
	Token     string `mapstructure:"token" yaml:"token"`

	PageSize         int           `mapstructure:"page_size" yaml:"page_size"`
	RetryAttempts    int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryInitial     time.Duration `mapstructure:"retry_initial" yaml:"retry_initial"`
	RetryMaxInterval time.Duration `mapstructure:"retry_max_interval" yaml:"retry_max_interval"`
	RecoveryOverlap  time.Duration `mapstructure:"recovery_overlap" yaml:"recovery_overlap"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		StoreDriver:       StoreSQLite,
		DatabasePath:      "wirechat.db",
		PostgresSchema:    "public",
		PostgresConns:     10,
		Broker:            BrokerMemory,
		RedisPrefix:       "wirechat",
		JWTSecret:         "change-me",
		JWTIssuer:         "wirechat",
		JWTTTL:            24 * time.Hour,
		MaxMessageBytes:   4096,
		SubscribeBuffer:   64,
		ServerURL:         "http://localhost:8080",
		PageSize:          100,
		RetryAttempts:     4,
		RetryInitial:      100 * time.Millisecond,
		RetryMaxInterval:  2 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	setString(&c.Addr, other.Addr)
	setDuration(&c.ReadHeaderTimeout, other.ReadHeaderTimeout)
	setDuration(&c.ShutdownTimeout, other.ShutdownTimeout)
	setString(&c.LogLevel, other.LogLevel)
	setString(&c.LogFormat, other.LogFormat)
	setString(&c.StoreDriver, other.StoreDriver)
	setString(&c.DatabasePath, other.DatabasePath)
	setString(&c.DatabaseURL, other.DatabaseURL)
	setString(&c.PostgresSchema, other.PostgresSchema)
	if other.PostgresConns != 0 {
		c.PostgresConns = other.PostgresConns
	}
	setString(&c.Broker, other.Broker)
	setString(&c.RedisURL, other.RedisURL)
	setString(&c.RedisPrefix, other.RedisPrefix)
	setString(&c.JWTSecret, other.JWTSecret)
	setString(&c.JWTIssuer, other.JWTIssuer)
	setString(&c.JWTAudience, other.JWTAudience)
	setDuration(&c.JWTTTL, other.JWTTTL)
	setInt(&c.MaxMessageBytes, other.MaxMessageBytes)
	setInt(&c.SubscribeBuffer, other.SubscribeBuffer)
	setString(&c.ServerURL, other.ServerURL)
	setString(&c.Token, other.Token)
	setInt(&c.PageSize, other.PageSize)
	setInt(&c.RetryAttempts, other.RetryAttempts)
	setDuration(&c.RetryInitial, other.RetryInitial)
	setDuration(&c.RetryMaxInterval, other.RetryMaxInterval)
	setDuration(&c.RecoveryOverlap, other.RecoveryOverlap)
}

// Validate checks the values the server depends on.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("database_path is required for sqlite"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database_url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store_driver %q", c.StoreDriver))
	}
	switch c.Broker {
	case BrokerMemory:
	case BrokerRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis_url is required for the redis broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown broker %q", c.Broker))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if c.MaxMessageBytes < 0 || c.PageSize < 0 || c.RetryAttempts < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	if c.PageSize > proto.MaxPageSize {
		errs = append(errs, fmt.Errorf("page_size must not exceed %d", proto.MaxPageSize))
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
