package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	BaseURL              string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	WriteTimeout         time.Duration
	TickInterval         time.Duration
	AnnounceJoin         bool
	DatabaseURL          string
	LogLevel             string
	Dev                  bool
}

func Default() Config {
	return Config{
		BaseURL:              "ws://localhost:8000/ws",
		MaxReconnectAttempts: 3,
		ReconnectDelay:       2 * time.Second,
		WriteTimeout:         5 * time.Second,
		TickInterval:         time.Second,
		DatabaseURL:          "storyturns.db",
		LogLevel:             "info",
	}
}

// Load reads .env files (when present) and then STORY_* variables from the
// environment. Explicit environment variables win over .env values.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, falling back to Default for unset keys.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	var err error

	if v := getenv("STORY_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := getenv("STORY_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if cfg.MaxReconnectAttempts, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("%w: STORY_MAX_RECONNECT_ATTEMPTS: %v", ErrInvalid, err)
		}
	}
	if v := getenv("STORY_RECONNECT_DELAY"); v != "" {
		if cfg.ReconnectDelay, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("%w: STORY_RECONNECT_DELAY: %v", ErrInvalid, err)
		}
	}
	if v := getenv("STORY_WRITE_TIMEOUT"); v != "" {
		if cfg.WriteTimeout, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("%w: STORY_WRITE_TIMEOUT: %v", ErrInvalid, err)
		}
	}
	if v := getenv("STORY_TICK_INTERVAL"); v != "" {
		if cfg.TickInterval, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("%w: STORY_TICK_INTERVAL: %v", ErrInvalid, err)
		}
	}
	if v := getenv("STORY_ANNOUNCE_JOIN"); v != "" {
		if cfg.AnnounceJoin, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("%w: STORY_ANNOUNCE_JOIN: %v", ErrInvalid, err)
		}
	}
	if v := getenv("STORY_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := getenv("STORY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("STORY_DEV"); v != "" {
		if cfg.Dev, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("%w: STORY_DEV: %v", ErrInvalid, err)
		}
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: base url %q must be ws:// or wss://", ErrInvalid, c.BaseURL)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: max reconnect attempts must be >= 0", ErrInvalid)
	}
	if c.ReconnectDelay <= 0 || c.WriteTimeout <= 0 || c.TickInterval <= 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalid)
	}
	return nil
}
