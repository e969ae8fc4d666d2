// Package config loads runtime configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration file.
type Config struct {
	Actuator ActuatorConfig `toml:"actuator"`
	Sender   SenderConfig   `toml:"sender"`
	Storage  StorageConfig  `toml:"storage"`
	Log      LogConfig      `toml:"log"`
}

// ActuatorConfig sizes the worker pool and sets task defaults.
type ActuatorConfig struct {
	Workers       int `toml:"workers"`
	QueueCapacity int `toml:"queue_capacity"`

	DefaultMaxRetries    int           `toml:"default_max_retries"`
	DefaultRetryInterval time.Duration `toml:"default_retry_interval"`
	DefaultExpiration    time.Duration `toml:"default_expiration"`
}

// SenderConfig holds request/response defaults.
type SenderConfig struct {
	ResponseTimeout time.Duration `toml:"response_timeout"`
	MaxRetries      int           `toml:"max_retries"`
}

// StorageConfig selects the database and optional cache.
type StorageConfig struct {
	// Driver is "sqlite" or "postgres". Empty disables storage.
	Driver      string        `toml:"driver"`
	DSN         string        `toml:"dsn"`
	BusyTimeout time.Duration `toml:"busy_timeout"`

	// RedisAddr enables the cache when set.
	RedisAddr string `toml:"redis_addr"`

	MaxRetries    int           `toml:"max_retries"`
	RetryInterval time.Duration `toml:"retry_interval"`

	// Expiration abandons a storage task older than this. Zero never expires.
	Expiration time.Duration `toml:"expiration"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Actuator: ActuatorConfig{
			Workers:              4,
			QueueCapacity:        1024,
			DefaultMaxRetries:    3,
			DefaultRetryInterval: time.Second,
			DefaultExpiration:    time.Minute,
		},
		Sender: SenderConfig{
			ResponseTimeout: 5 * time.Second,
			MaxRetries:      3,
		},
		Storage: StorageConfig{
			BusyTimeout:   5 * time.Second,
			MaxRetries:    5,
			RetryInterval: 50 * time.Millisecond,
			Expiration:    30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML file on top of Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML content on top of Default and validates the result.
func Parse(content string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(content, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component accepts.
func (c Config) Validate() error {
	var errs []error
	if c.Actuator.Workers < 0 {
		errs = append(errs, errors.New("actuator.workers must not be negative"))
	}
	if c.Actuator.QueueCapacity < 0 {
		errs = append(errs, errors.New("actuator.queue_capacity must not be negative"))
	}
	if c.Actuator.DefaultMaxRetries < 0 {
		errs = append(errs, errors.New("actuator.default_max_retries must not be negative"))
	}
	if c.Actuator.DefaultRetryInterval < 0 || c.Actuator.DefaultExpiration < 0 {
		errs = append(errs, errors.New("actuator durations must not be negative"))
	}
	if c.Sender.ResponseTimeout < 0 {
		errs = append(errs, errors.New("sender.response_timeout must not be negative"))
	}
	if c.Sender.MaxRetries < 0 {
		errs = append(errs, errors.New("sender.max_retries must not be negative"))
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if c.Storage.Driver != "" && c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required with a driver"))
	}
	if c.Storage.MaxRetries < 0 || c.Storage.RetryInterval < 0 || c.Storage.BusyTimeout < 0 || c.Storage.Expiration < 0 {
		errs = append(errs, errors.New("storage retry settings must not be negative"))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not supported", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds a slog.Logger writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := l.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
