// Package config loads control-plane configuration from an optional YAML
// file plus environment variable overrides, following the precedence the
// rest of the stack uses: defaults, then file, then environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener serving the Request API.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"CONTROLPLANE_ADDR"`
}

// DatabaseConfig controls the Postgres connection backing the Store.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn" env:"CONTROLPLANE_DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"CONTROLPLANE_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"CONTROLPLANE_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds" env:"CONTROLPLANE_DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"CONTROLPLANE_DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls the logrus-backed logger.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"CONTROLPLANE_LOG_LEVEL"`
	Format     string `yaml:"format" env:"CONTROLPLANE_LOG_FORMAT"`
	Output     string `yaml:"output" env:"CONTROLPLANE_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"CONTROLPLANE_LOG_FILE_PREFIX"`
}

// AuthConfig holds the single shared API token accepted by the Request API.
// Non-goals exclude multi-tenant authorization; one token is the contract.
type AuthConfig struct {
	Token string `yaml:"token" env:"CONTROLPLANE_API_TOKEN"`
}

// ReconcilerConfig controls the periodic lifecycle driver.
type ReconcilerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval" env:"CONTROLPLANE_RECONCILER_TICK_INTERVAL"`
}

// ProvisionerConfig selects and configures the Provisioner backend.
type ProvisionerConfig struct {
	// Kind is "dev" or "external".
	Kind string `yaml:"kind" env:"CONTROLPLANE_PROVISIONER_KIND"`

	// Dev provisioner knobs.
	DevLagCycles    int     `yaml:"dev_lag_cycles" env:"CONTROLPLANE_PROVISIONER_DEV_LAG_CYCLES"`
	DevFailureRate  float64 `yaml:"dev_failure_rate" env:"CONTROLPLANE_PROVISIONER_DEV_FAILURE_RATE"`

	// External provisioner wire client.
	ExternalBaseURL string        `yaml:"external_base_url" env:"CONTROLPLANE_PROVISIONER_EXTERNAL_BASE_URL"`
	ExternalToken   string        `yaml:"external_token" env:"CONTROLPLANE_PROVISIONER_EXTERNAL_TOKEN"`
	ExternalTimeout time.Duration `yaml:"external_timeout" env:"CONTROLPLANE_PROVISIONER_EXTERNAL_TIMEOUT"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
	Auth        AuthConfig        `yaml:"auth"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
	Provisioner ProvisionerConfig `yaml:"provisioner"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "controlplane",
		},
		Reconciler: ReconcilerConfig{
			TickInterval: time.Second,
		},
		Provisioner: ProvisionerConfig{
			Kind:            "dev",
			DevLagCycles:    1,
			ExternalTimeout: 10 * time.Second,
		},
	}
}

// Load reads configuration from an optional YAML file (CONFIG_FILE, or
// configs/config.yaml if unset) and applies environment variable overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides layers environment variables on top of file/defaults.
// Deliberately hand-rolled rather than reflection-based (envdecode) because
// the field set is small and fixed.
func applyEnvOverrides(cfg *Config) {
	str(&cfg.Server.Addr, "CONTROLPLANE_ADDR")
	str(&cfg.Database.DSN, "CONTROLPLANE_DATABASE_DSN")
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
	intv(&cfg.Database.MaxOpenConns, "CONTROLPLANE_DATABASE_MAX_OPEN_CONNS")
	intv(&cfg.Database.MaxIdleConns, "CONTROLPLANE_DATABASE_MAX_IDLE_CONNS")
	intv(&cfg.Database.ConnMaxLifetime, "CONTROLPLANE_DATABASE_CONN_MAX_LIFETIME")
	boolv(&cfg.Database.MigrateOnStart, "CONTROLPLANE_DATABASE_MIGRATE_ON_START")

	str(&cfg.Logging.Level, "CONTROLPLANE_LOG_LEVEL")
	str(&cfg.Logging.Format, "CONTROLPLANE_LOG_FORMAT")
	str(&cfg.Logging.Output, "CONTROLPLANE_LOG_OUTPUT")
	str(&cfg.Logging.FilePrefix, "CONTROLPLANE_LOG_FILE_PREFIX")

	str(&cfg.Auth.Token, "CONTROLPLANE_API_TOKEN")

	durv(&cfg.Reconciler.TickInterval, "CONTROLPLANE_RECONCILER_TICK_INTERVAL")

	str(&cfg.Provisioner.Kind, "CONTROLPLANE_PROVISIONER_KIND")
	intv(&cfg.Provisioner.DevLagCycles, "CONTROLPLANE_PROVISIONER_DEV_LAG_CYCLES")
	floatv(&cfg.Provisioner.DevFailureRate, "CONTROLPLANE_PROVISIONER_DEV_FAILURE_RATE")
	str(&cfg.Provisioner.ExternalBaseURL, "CONTROLPLANE_PROVISIONER_EXTERNAL_BASE_URL")
	str(&cfg.Provisioner.ExternalToken, "CONTROLPLANE_PROVISIONER_EXTERNAL_TOKEN")
	durv(&cfg.Provisioner.ExternalTimeout, "CONTROLPLANE_PROVISIONER_EXTERNAL_TIMEOUT")
}

func str(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func intv(dst *int, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatv(dst *float64, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func boolv(dst *bool, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func durv(dst *time.Duration, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate rejects configurations the rest of the system cannot run with.
func (c *Config) Validate() error {
	if c.Provisioner.Kind != "dev" && c.Provisioner.Kind != "external" {
		return fmt.Errorf("provisioner.kind must be \"dev\" or \"external\", got %q", c.Provisioner.Kind)
	}
	if c.Provisioner.Kind == "external" && strings.TrimSpace(c.Provisioner.ExternalBaseURL) == "" {
		return fmt.Errorf("provisioner.external_base_url is required when provisioner.kind is \"external\"")
	}
	if c.Reconciler.TickInterval <= 0 {
		return fmt.Errorf("reconciler.tick_interval must be positive")
	}
	return nil
}
