// Package config loads ftpdesk settings from a TOML file, a .env file and
// FTPDESK_* environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Mode names the data-channel mode used for transfers.
const (
	ModePassive = "passive"
	ModeActive  = "active"
)

// Duration is a time.Duration that decodes from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds everything needed to open a session.
type Config struct {
	Host           string   `toml:"host"`
	Port           string   `toml:"port"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	Mode           string   `toml:"mode"`
	Timeout        Duration `toml:"timeout"`
	IdleTimeout    Duration `toml:"idle_timeout"`
	LocalDir       string   `toml:"local_dir"`
	BandwidthLimit int64    `toml:"bandwidth_limit"`
	LogLevel       string   `toml:"log_level"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:     "21",
		User:     "anonymous",
		Mode:     ModePassive,
		Timeout:  Duration{30 * time.Second},
		LocalDir: ".",
		LogLevel: "warn",
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty), .env and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg.Host = getEnv("FTPDESK_HOST", cfg.Host)
	cfg.Port = getEnv("FTPDESK_PORT", cfg.Port)
	cfg.User = getEnv("FTPDESK_USER", cfg.User)
	cfg.Password = getEnv("FTPDESK_PASSWORD", cfg.Password)
	cfg.Mode = getEnv("FTPDESK_MODE", cfg.Mode)
	cfg.LocalDir = getEnv("FTPDESK_LOCAL_DIR", cfg.LocalDir)
	cfg.LogLevel = getEnv("FTPDESK_LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.Timeout, err = getEnvDuration("FTPDESK_TIMEOUT", cfg.Timeout); err != nil {
		return nil, err
	}
	if cfg.IdleTimeout, err = getEnvDuration("FTPDESK_IDLE_TIMEOUT", cfg.IdleTimeout); err != nil {
		return nil, err
	}
	if v := os.Getenv("FTPDESK_BANDWIDTH_LIMIT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid FTPDESK_BANDWIDTH_LIMIT %q: %w", v, err)
		}
		cfg.BandwidthLimit = n
	}

	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	switch strings.ToLower(c.Mode) {
	case ModePassive, ModeActive:
	default:
		return fmt.Errorf("invalid mode %q: want active or passive", c.Mode)
	}
	if c.Timeout.Duration < 0 || c.IdleTimeout.Duration < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.BandwidthLimit < 0 {
		return errors.New("bandwidth_limit must not be negative")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Active reports whether transfers should negotiate PORT.
func (c *Config) Active() bool {
	return strings.EqualFold(c.Mode, ModeActive)
}

// SlogLevel returns the configured log level, Warn when it is not valid.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelWarn
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", s)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue Duration) (Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	var d Duration
	if err := d.UnmarshalText([]byte(value)); err != nil {
		return defaultValue, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
