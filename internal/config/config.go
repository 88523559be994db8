// Package config provides configuration management for the bibliometrics
// service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the bibliometrics service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Gender contains gender inference provider settings.
	Gender GenderConfig `mapstructure:"gender"`
	// Geocoder contains affiliation-to-country resolver settings.
	Geocoder GeocoderConfig `mapstructure:"geocoder"`
	// Matching contains identity-resolution thresholds.
	Matching MatchingConfig `mapstructure:"matching"`
	// Pipeline contains batch pipeline settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading the request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HTTPAddress returns the listen address for the HTTP server.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password. Loaded exclusively from the
	// environment, never from config files.
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum idle time before a connection is closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Namespace is the metric name prefix.
	Namespace string `mapstructure:"namespace"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// GenderConfig holds gender inference provider configuration.
type GenderConfig struct {
	// BaseURL is the gender inference API endpoint.
	BaseURL string `mapstructure:"base_url"`
	// APIKey authenticates against the provider. Loaded exclusively from
	// the environment.
	APIKey string `mapstructure:"-"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int `mapstructure:"max_retries"`
}

// GeocoderConfig holds affiliation-to-country resolver configuration.
type GeocoderConfig struct {
	// BaseURL is the geocoding API endpoint.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
}

// MatchingConfig holds identity-resolution tunables. The values were tuned
// empirically; they are defaults, not hard requirements.
type MatchingConfig struct {
	// FirstNameThreshold is the minimum first-name similarity for a
	// duplicate candidate.
	FirstNameThreshold float64 `mapstructure:"first_name_threshold"`
	// LastNameThreshold is the minimum last-name similarity for a
	// duplicate candidate.
	LastNameThreshold float64 `mapstructure:"last_name_threshold"`
	// CombinedThreshold is the minimum full-string similarity when names
	// are compared without splitting.
	CombinedThreshold float64 `mapstructure:"combined_threshold"`
	// BlockWindow is the sliding window size over the last-name sort order.
	BlockWindow int `mapstructure:"block_window"`
}

// PipelineConfig holds batch pipeline configuration.
type PipelineConfig struct {
	// Phases is the ordered list of phases to run
	// (load, gender, countries, attribute, hindex, dedup, export).
	Phases []string `mapstructure:"phases"`
	// DatasetPath is the tab-separated paper dataset consumed by the load
	// phase.
	DatasetPath string `mapstructure:"dataset_path"`
	// ExportPath is the CSV file written by the export phase.
	ExportPath string `mapstructure:"export_path"`
	// CandidatesPath is the CSV file with duplicate candidates written by
	// the dedup phase.
	CandidatesPath string `mapstructure:"candidates_path"`
}

// Load reads configuration from defaults, an optional config file, and
// environment variables with the BIBLIO_ prefix.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BIBLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/bibliometrics-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; env vars and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets come exclusively from environment variables; the fields carry
	// mapstructure:"-" so config files cannot set them.
	cfg.Database.Password = v.GetString("database_password")
	cfg.Gender.APIKey = v.GetString("gender_api_key")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults establishes default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "biblio")
	v.SetDefault("database.name", "bibliometrics")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "bibliometrics")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("gender.base_url", "https://api.genderize.io")
	v.SetDefault("gender.timeout", "10s")
	v.SetDefault("gender.rate_limit", 5)
	v.SetDefault("gender.max_retries", 3)

	v.SetDefault("geocoder.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.timeout", "10s")
	v.SetDefault("geocoder.rate_limit", 1)

	v.SetDefault("matching.first_name_threshold", 0.95)
	v.SetDefault("matching.last_name_threshold", 0.85)
	v.SetDefault("matching.combined_threshold", 0.95)
	v.SetDefault("matching.block_window", 50)

	v.SetDefault("pipeline.phases", []string{"load", "gender", "attribute", "hindex", "dedup"})
	v.SetDefault("pipeline.dataset_path", "data/papers.tsv")
	v.SetDefault("pipeline.export_path", "data/authors_export.csv")
	v.SetDefault("pipeline.candidates_path", "data/duplicate_candidates.csv")
}

// validPhases is the set of recognized pipeline phase names.
var validPhases = map[string]bool{
	"load":      true,
	"gender":    true,
	"countries": true,
	"attribute": true,
	"hindex":    true,
	"dedup":     true,
	"export":    true,
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	for _, t := range []struct {
		name  string
		value float64
	}{
		{"first_name_threshold", c.Matching.FirstNameThreshold},
		{"last_name_threshold", c.Matching.LastNameThreshold},
		{"combined_threshold", c.Matching.CombinedThreshold},
	} {
		if t.value < 0 || t.value > 1 {
			return fmt.Errorf("matching %s must be between 0 and 1", t.name)
		}
	}
	if c.Matching.BlockWindow <= 0 {
		return fmt.Errorf("matching block_window must be positive")
	}

	for _, phase := range c.Pipeline.Phases {
		if !validPhases[phase] {
			return fmt.Errorf("unknown pipeline phase: %s", phase)
		}
	}

	return nil
}
