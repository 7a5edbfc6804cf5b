// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles. The webhook route is always
// exempt: the job runner does not send API keys.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DatabaseConfig controls access to the relational database. An empty DSN
// selects the in-memory stores for local development.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RunnerConfig points at the external job-runner platform.
type RunnerConfig struct {
	BaseURL              string `mapstructure:"base_url"`
	Token                string `mapstructure:"token"`
	CallbackURL          string `mapstructure:"callback_url"`
	SubmitTimeoutSeconds int    `mapstructure:"submit_timeout_seconds"`
	FetchTimeoutSeconds  int    `mapstructure:"fetch_timeout_seconds"`
}

// ReconcileConfig tunes the liveness decision table.
type ReconcileConfig struct {
	QuietPeriodSeconds  int `mapstructure:"quiet_period_seconds"`
	HardDeadlineSeconds int `mapstructure:"hard_deadline_seconds"`
	// MinFollowerFloor rejects scrapes that returned data but hit an error
	// page, empty profile, or wrong account. A heuristic, kept configurable.
	MinFollowerFloor int64 `mapstructure:"min_follower_floor"`
}

// StorageConfig selects the raw-dataset audit archive backend.
type StorageConfig struct {
	Backend  string `mapstructure:"backend"` // gcs | local | memory
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	LocalDir string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for terminal-status notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("runner.base_url", "https://api.apify.com")
	v.SetDefault("runner.submit_timeout_seconds", 30)
	v.SetDefault("runner.fetch_timeout_seconds", 30)
	v.SetDefault("reconcile.quiet_period_seconds", 120)
	v.SetDefault("reconcile.hard_deadline_seconds", 600)
	v.SetDefault("reconcile.min_follower_floor", 200)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "datasets")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Runner.BaseURL == "" {
		return fmt.Errorf("runner.base_url is required")
	}
	if c.Runner.SubmitTimeoutSeconds <= 0 {
		return fmt.Errorf("runner.submit_timeout_seconds must be > 0")
	}
	if c.Reconcile.QuietPeriodSeconds <= 0 {
		return fmt.Errorf("reconcile.quiet_period_seconds must be > 0")
	}
	if c.Reconcile.HardDeadlineSeconds <= c.Reconcile.QuietPeriodSeconds {
		return fmt.Errorf("reconcile.hard_deadline_seconds must exceed the quiet period")
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
	}
	if c.Storage.Backend == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set when storage.backend is local")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// QuietPeriod returns the configured quiet period as a duration.
func (c Config) QuietPeriod() time.Duration {
	return time.Duration(c.Reconcile.QuietPeriodSeconds) * time.Second
}

// HardDeadline returns the configured hard deadline as a duration.
func (c Config) HardDeadline() time.Duration {
	return time.Duration(c.Reconcile.HardDeadlineSeconds) * time.Second
}

// SubmitTimeout returns the runner submit timeout as a duration.
func (c Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Runner.SubmitTimeoutSeconds) * time.Second
}

// FetchTimeout returns the runner dataset-fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Runner.FetchTimeoutSeconds) * time.Second
}
