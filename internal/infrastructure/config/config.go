// Package config loads service bus settings from config.toml and SB_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SB_MESSAGING_DRIVER
const EnvPrefix = "SB"

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type AppConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
	Output string `mapstructure:"output"` // stdout, stderr, or file path
}

// DatabaseConfig holds the user directory connection settings
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	SQLitePath      string        `mapstructure:"sqlite_path"` // used when Driver is sqlite
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"gte=0"`
	// AutoMigrate applies the embedded migrations at server start. It needs
	// a persistent database: an in-memory sqlite path is a fresh database
	// per connection.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig holds the connection shared by the broker, idempotency store
// and record cache
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix"` // prefix for every key and channel this service owns
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MessagingConfig holds broker and request/reply settings
type MessagingConfig struct {
	Driver                 string        `mapstructure:"driver" validate:"oneof=memory redis"`
	ReplyDestination       string        `mapstructure:"reply_destination" validate:"required,nefield=UserRequestDestination"`
	UserRequestDestination string        `mapstructure:"user_request_destination" validate:"required"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout" validate:"gt=0"` // wait for a reply before giving up
	LookupTimeout          time.Duration `mapstructure:"lookup_timeout" validate:"gte=0"` // resolver-side store lookup bound
	FailurePolicy          string        `mapstructure:"failure_policy" validate:"oneof=fail_fast best_effort"`
	IdempotencyEnabled     bool          `mapstructure:"idempotency_enabled"`
	IdempotencyTTL         time.Duration `mapstructure:"idempotency_ttl" validate:"gte=0"`
	CacheEnabled           bool          `mapstructure:"cache_enabled"`
	CacheTTL               time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	ResolverEnabled        bool          `mapstructure:"resolver_enabled"` // host the user directory resolver in this process
}

// TelemetryConfig holds OpenTelemetry export settings
type TelemetryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	CollectorEndpoint string        `mapstructure:"collector_endpoint"` // OTLP gRPC, e.g. localhost:4317
	SamplingRatio     float64       `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
	ServiceName       string        `mapstructure:"service_name"` // defaults to app.name
	Insecure          bool          `mapstructure:"insecure"`
	MetricsInterval   time.Duration `mapstructure:"metrics_interval" validate:"gte=0"`
	LogsEnabled       bool          `mapstructure:"logs_enabled"`
	DBTraceEnabled    bool          `mapstructure:"db_trace_enabled"`
	DBLogFullSQL      bool          `mapstructure:"db_log_full_sql"` // bound values in logs and spans; dev only
	DBSlowQueryThresh time.Duration `mapstructure:"db_slow_query_threshold"`
}

// defaults registers every key, which also lets AutomaticEnv resolve keys
// that appear in neither config.toml nor the defaults otherwise
var defaults = map[string]any{
	"app.name": "servicebus",
	"app.env":  "development",

	"database.driver":             "postgres",
	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.password":           "",
	"database.dbname":             "servicebus",
	"database.sslmode":            "disable",
	"database.sqlite_path":        "servicebus.db",
	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  time.Hour,
	"database.conn_max_idle_time": 30 * time.Minute,
	"database.auto_migrate":       true,

	"redis.host":       "localhost",
	"redis.port":       6379,
	"redis.password":   "",
	"redis.db":         0,
	"redis.key_prefix": "servicebus:",

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"messaging.driver":                   "memory",
	"messaging.reply_destination":        "user-info.reply",
	"messaging.user_request_destination": "user-info.request",
	"messaging.request_timeout":          10 * time.Second,
	"messaging.lookup_timeout":           5 * time.Second,
	"messaging.failure_policy":           "fail_fast",
	"messaging.idempotency_enabled":      true,
	"messaging.idempotency_ttl":          time.Hour,
	"messaging.cache_enabled":            true,
	"messaging.cache_ttl":                5 * time.Minute,
	"messaging.resolver_enabled":         true,

	"telemetry.enabled":                 false,
	"telemetry.collector_endpoint":      "localhost:4317",
	"telemetry.sampling_ratio":          1.0,
	"telemetry.service_name":            "",
	"telemetry.insecure":                false,
	"telemetry.metrics_interval":        15 * time.Second,
	"telemetry.logs_enabled":            false,
	"telemetry.db_trace_enabled":        false,
	"telemetry.db_log_full_sql":         false,
	"telemetry.db_slow_query_threshold": 200 * time.Millisecond,
}

// Load reads config.toml from the working directory or /app, then applies
// SB_ environment overrides on top of the built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		errs := make([]error, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			errs = append(errs, describe(fe))
		}
		return errors.Join(errs...)
	}

	if c.Messaging.CacheEnabled && c.Messaging.CacheTTL <= 0 {
		return errors.New("messaging.cache_ttl must be greater than 0 when messaging.cache_enabled is set")
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "postgres" && c.Database.Password == "" {
			return errors.New("database.password is required in production")
		}
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return errors.New("database.sslmode cannot be 'disable' in production")
		}
		if c.Messaging.Driver == "memory" {
			return errors.New("messaging.driver=memory cannot reach other services; use redis in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return errors.New("telemetry.db_log_full_sql must be false in production")
		}
	}
	return nil
}

// describe renders a field error with its config key, e.g.
// "messaging.driver must be one of [memory redis], got \"kafka\""
func describe(fe validator.FieldError) error {
	key := fe.Namespace()
	if i := strings.IndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", key)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", key, fe.Param(), fmt.Sprint(fe.Value()))
	case "gt":
		return fmt.Errorf("%s must be greater than %s", key, fe.Param())
	case "gte":
		return fmt.Errorf("%s cannot be negative", key)
	case "lte":
		return fmt.Errorf("%s must be at most %s, got %v", key, fe.Param(), fe.Value())
	case "ltefield":
		return fmt.Errorf("%s cannot exceed %s", key, fe.Param())
	case "nefield":
		return fmt.Errorf("%s must differ from %s", key, fe.Param())
	default:
		return fmt.Errorf("%s failed %s validation", key, fe.Tag())
	}
}

// DSN returns the postgres connection URL with escaped credentials
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
