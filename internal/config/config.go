// Package config loads honeycomb configuration.
// Source priority (highest to lowest):
// 1. Command-line flags (applied by the CLI)
// 2. HONEYCOMB_* environment variables
// 3. Config file given via --config, else ~/.config/honeycomb/config.yaml
// 4. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverBBolt    = "bbolt"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
)

// StorageConfig selects and configures the durable key/value backend.
type StorageConfig struct {
	// Driver: "bbolt" (default) | "memory" | "postgres" | "sqlite" | "mysql" | "redis"
	Driver string `yaml:"driver"`
	// DSN for postgres, sqlite and mysql. For sqlite an empty DSN means a
	// file in the data directory.
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	// Passphrase enables at-rest encryption of every stored value.
	Passphrase string `yaml:"passphrase"`
}

// ExpiryConfig tunes the expiry monitor.
type ExpiryConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	WarnThreshold time.Duration `yaml:"warn_threshold"`
}

// HTTPConfig tunes the outbound HTTP client.
type HTTPConfig struct {
	// Timeout per request. 0 leaves the transport default.
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// Config is the complete honeycomb configuration.
type Config struct {
	BaseURL     string `yaml:"base_url"`
	APIPrefix   string `yaml:"api_prefix"`
	LoginPath   string `yaml:"login_path"`
	RefreshPath string `yaml:"refresh_path"`
	HealthPath  string `yaml:"health_path"`
	DataDir     string `yaml:"data_dir"`

	Storage StorageConfig `yaml:"storage"`
	Expiry  ExpiryConfig  `yaml:"expiry"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := "honeycomb-data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".local", "share", "honeycomb")
	}
	return &Config{
		BaseURL:     "http://localhost:8000",
		APIPrefix:   "/api",
		LoginPath:   "/api/auth/login",
		RefreshPath: "/api/auth/refresh",
		HealthPath:  "/api/health",
		DataDir:     dataDir,
		Storage:     StorageConfig{Driver: DriverBBolt},
		Expiry: ExpiryConfig{
			PollInterval:  60 * time.Second,
			WarnThreshold: 5 * time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// DefaultPath is ~/.config/honeycomb/config.yaml, or "" without a home
// directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "honeycomb", "config.yaml")
}

// Load builds the configuration from defaults, the config file and the
// environment. An explicit path must exist; the default path may not.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", path, err)
			}
		case explicit || !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	for name, dst := range map[string]*string{
		"HONEYCOMB_BASE_URL":       &cfg.BaseURL,
		"HONEYCOMB_API_PREFIX":     &cfg.APIPrefix,
		"HONEYCOMB_LOGIN_PATH":     &cfg.LoginPath,
		"HONEYCOMB_REFRESH_PATH":   &cfg.RefreshPath,
		"HONEYCOMB_HEALTH_PATH":    &cfg.HealthPath,
		"HONEYCOMB_DATA_DIR":       &cfg.DataDir,
		"HONEYCOMB_STORAGE_DRIVER": &cfg.Storage.Driver,
		"HONEYCOMB_STORAGE_DSN":    &cfg.Storage.DSN,
		"HONEYCOMB_REDIS_ADDR":     &cfg.Storage.RedisAddr,
		"HONEYCOMB_REDIS_PASSWORD": &cfg.Storage.RedisPassword,
		"HONEYCOMB_PASSPHRASE":     &cfg.Storage.Passphrase,
		"HONEYCOMB_LOG_LEVEL":      &cfg.Log.Level,
		"HONEYCOMB_LOG_FORMAT":     &cfg.Log.Format,
	} {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("HONEYCOMB_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HONEYCOMB_REDIS_DB: %w", err)
		}
		cfg.Storage.RedisDB = n
	}
	for name, dst := range map[string]*time.Duration{
		"HONEYCOMB_POLL_INTERVAL":  &cfg.Expiry.PollInterval,
		"HONEYCOMB_WARN_THRESHOLD": &cfg.Expiry.WarnThreshold,
		"HONEYCOMB_HTTP_TIMEOUT":   &cfg.HTTP.Timeout,
	} {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = d
		}
	}
	return nil
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if c.BaseURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q must be an absolute http(s) URL", c.BaseURL)
	}
	switch c.Storage.Driver {
	case DriverBBolt, DriverMemory, DriverSQLite:
	case DriverPostgres, DriverMySQL:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if (c.Storage.Driver == DriverBBolt || (c.Storage.Driver == DriverSQLite && c.Storage.DSN == "")) && c.DataDir == "" {
		return errors.New("data_dir is required for file-backed storage")
	}
	if c.Expiry.PollInterval <= 0 {
		return errors.New("expiry.poll_interval must be positive")
	}
	if c.Expiry.WarnThreshold < 0 {
		return errors.New("expiry.warn_threshold must not be negative")
	}
	if c.HTTP.Timeout < 0 {
		return errors.New("http.timeout must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format %q must be json or console", c.Log.Format)
	}
	return nil
}
