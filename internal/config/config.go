// Package config loads and persists ycstats settings.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/theirongolddev/ycstats/internal/balance"
)

// Environment variables consulted on top of the config file.
const (
	EnvAPIKey          = "YESCODE_API_KEY"
	EnvEndpoint        = "YESCODE_ENDPOINT"
	EnvRefreshInterval = "YESCODE_REFRESH_INTERVAL"
	EnvDailyLimit      = "YESCODE_DAILY_LIMIT"
)

// Config holds all ycstats configuration.
type Config struct {
	API        APIConfig        `toml:"api"`
	Daemon     DaemonConfig     `toml:"daemon"`
	Appearance AppearanceConfig `toml:"appearance"`
	Log        LogConfig        `toml:"log"`
}

// APIConfig holds the balance endpoint settings. The API key is not stored here.
type APIConfig struct {
	Endpoint               string  `toml:"endpoint"`
	RefreshIntervalSec     int     `toml:"refresh_interval_sec"`
	DailySubscriptionLimit float64 `toml:"daily_subscription_limit"`
	TimeoutSec             int     `toml:"timeout_sec,omitempty"`
}

// DaemonConfig holds background service settings.
type DaemonConfig struct {
	Addr                 string `toml:"addr"`
	EventsBuffer         int    `toml:"events_buffer"`
	SkipOverlappingTicks bool   `toml:"skip_overlapping_ticks"`
}

// AppearanceConfig holds theme settings.
type AppearanceConfig struct {
	Theme string `toml:"theme"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// IntervalChoice is one of the suggested refresh periods.
type IntervalChoice struct {
	Label   string
	Seconds int
}

// IntervalChoices are the refresh periods offered by interactive menus.
// Any positive number of seconds is accepted.
var IntervalChoices = []IntervalChoice{
	{"10s", 10},
	{"30s", 30},
	{"1m", 60},
	{"5m", 300},
	{"30m", 1800},
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Endpoint:               balance.DefaultEndpoint,
			RefreshIntervalSec:     300,
			DailySubscriptionLimit: 100,
		},
		Daemon: DaemonConfig{
			Addr:         "127.0.0.1:8788",
			EventsBuffer: 200,
		},
		Appearance: AppearanceConfig{
			Theme: "flexoki-dark",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// RefreshInterval returns the poll period as a duration.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.API.RefreshIntervalSec) * time.Second
}

// RequestTimeout returns the per-request deadline; zero means none.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.TimeoutSec) * time.Second
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.API.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.endpoint %q must be an http(s) URL", c.API.Endpoint)
	}
	if c.API.RefreshIntervalSec <= 0 {
		return fmt.Errorf("api.refresh_interval_sec must be > 0 (got %d)", c.API.RefreshIntervalSec)
	}
	if c.API.DailySubscriptionLimit <= 0 {
		return fmt.Errorf("api.daily_subscription_limit must be > 0 (got %g)", c.API.DailySubscriptionLimit)
	}
	if c.API.TimeoutSec < 0 {
		return fmt.Errorf("api.timeout_sec must be >= 0 (got %d)", c.API.TimeoutSec)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Dir returns the XDG-compliant config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ycstats")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ycstats")
}

// Path returns the full path to the config file.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// CacheDir returns the directory for the state database, pid files and logs.
func CacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "ycstats")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "ycstats")
}

// StorePath returns the path of the secret/state database.
func StorePath() string {
	return filepath.Join(CacheDir(), "state.db")
}

// Load reads the config file, applies environment overrides and validates.
// A missing file yields defaults.
func Load() (Config, error) {
	return LoadPath(Path())
}

// LoadPath is Load for an explicit config file.
func LoadPath(path string) (Config, error) {
	cfg, err := LoadFrom(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFrom parses path without env overrides or validation.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // config path is chosen by the local user
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays YESCODE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := strings.TrimSpace(os.Getenv(EnvEndpoint)); v != "" {
		c.API.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRefreshInterval)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRefreshInterval, err)
		}
		c.API.RefreshIntervalSec = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvDailyLimit)); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDailyLimit, err)
		}
		c.API.DailySubscriptionLimit = f
	}
	return nil
}

// SaveTo writes the config to path, creating its directory.
func SaveTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // user config path
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return toml.NewEncoder(f).Encode(cfg)
}

// LoadDotEnv loads a .env file from the working directory, if any.
// Variables already set in the environment win.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// SettableKeys lists the keys accepted by Set.
var SettableKeys = []string{"endpoint", "interval", "daily-limit", "timeout", "theme", "log-level"}

// Set parses value into the setting named key and validates the result.
func (c *Config) Set(key, value string) error {
	value = strings.TrimSpace(value)
	next := *c

	switch key {
	case "endpoint":
		next.API.Endpoint = value
	case "interval":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("interval must be a whole number of seconds: %w", err)
		}
		next.API.RefreshIntervalSec = n
	case "daily-limit":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("daily-limit must be a number: %w", err)
		}
		next.API.DailySubscriptionLimit = f
	case "timeout":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("timeout must be a whole number of seconds: %w", err)
		}
		next.API.TimeoutSec = n
	case "theme":
		next.Appearance.Theme = value
	case "log-level":
		next.Log.Level = value
	default:
		return fmt.Errorf("unknown setting %q (one of: %s)", key, strings.Join(SettableKeys, ", "))
	}

	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}
