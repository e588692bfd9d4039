// ABOUTME: Configuration loading for coven-relay
// ABOUTME: Optional YAML file with ${VAR} expansion, overridden by environment variables

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// Config represents the complete coven-relay configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Loop     LoopConfig     `yaml:"loop"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listen configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoopConfig holds the loop guard tunables.
type LoopConfig struct {
	MaxPerMinute   int   `yaml:"max_per_minute"`
	DefaultDelayMs int64 `yaml:"default_delay_ms"`
	BurstDelayMs   int64 `yaml:"burst_delay_ms"`
}

// DeliveryConfig holds the callback retry tunables.
type DeliveryConfig struct {
	MaxRetries  int   `yaml:"max_retries"`
	BaseDelayMs int64 `yaml:"base_delay_ms"`
}

// AdminConfig holds the admin login shared secret.
type AdminConfig struct {
	Password string `yaml:"password"`
}

// DatabaseConfig holds the audit sink location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults per the deployment contract.
const (
	DefaultPort         = 8787
	DefaultMaxPerMinute = 6
	DefaultDelayMs      = 2000
	DefaultMaxRetries   = 3
	DefaultBaseDelayMs  = 1000
	DefaultDatabasePath = "data/relay.db"
)

// Load reads an optional YAML configuration file, applies defaults, and then
// applies environment-variable overrides. Environment variables always win.
// An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server:   ServerConfig{Port: DefaultPort},
		Loop:     LoopConfig{MaxPerMinute: DefaultMaxPerMinute, DefaultDelayMs: DefaultDelayMs},
		Delivery: DeliveryConfig{MaxRetries: DefaultMaxRetries, BaseDelayMs: DefaultBaseDelayMs},
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// The burst delay follows the default delay unless set explicitly.
	if cfg.Loop.BurstDelayMs == 0 {
		cfg.Loop.BurstDelayMs = cfg.Loop.DefaultDelayMs
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv overrides config fields from the process environment.
func applyEnv(cfg *Config) error {
	var err error

	if cfg.Server.Port, err = envInt("PORT", cfg.Server.Port); err != nil {
		return err
	}
	if cfg.Loop.MaxPerMinute, err = envInt("LOOP_MAX_PER_MINUTE", cfg.Loop.MaxPerMinute); err != nil {
		return err
	}
	if cfg.Loop.DefaultDelayMs, err = envInt64("LOOP_DELAY_DEFAULT_MS", cfg.Loop.DefaultDelayMs); err != nil {
		return err
	}
	if cfg.Loop.BurstDelayMs, err = envInt64("LOOP_DELAY_BURST_MS", cfg.Loop.BurstDelayMs); err != nil {
		return err
	}
	if cfg.Delivery.MaxRetries, err = envInt("DELIVERY_MAX_RETRIES", cfg.Delivery.MaxRetries); err != nil {
		return err
	}
	if cfg.Delivery.BaseDelayMs, err = envInt64("DELIVERY_BASE_DELAY_MS", cfg.Delivery.BaseDelayMs); err != nil {
		return err
	}

	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.Admin.Password = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	return nil
}

// envInt reads an integer environment variable, keeping fallback when unset.
func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", name, v, err)
	}
	return parsed, nil
}

// envInt64 reads a 64-bit integer environment variable.
func envInt64(name string, fallback int64) (int64, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", name, v, err)
	}
	return parsed, nil
}
