package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Davincible/d-bounded/env"
	"github.com/Davincible/d-bounded/limiter"
	"github.com/Davincible/d-bounded/utils"
)

// Config is the daemon configuration. It is read from the JSON or YAML file
// named by BOUNDSD_CONFIG, if any, and then overridden from the environment.
type Config struct {
	Addr      string `json:"addr" yaml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
	Profiling bool   `json:"profiling" yaml:"profiling"`
	Brotli    bool   `json:"brotli" yaml:"brotli"`

	NATS NATSConfig `json:"nats" yaml:"nats"`

	RateLimits     []RateLimitConfig `json:"rate_limits" yaml:"rate_limits"`
	MaxTrackedKeys int               `json:"max_tracked_keys" yaml:"max_tracked_keys"`
	JWTIssuer      string            `json:"jwt_issuer" yaml:"jwt_issuer"`
}

// NATSConfig sizes the NATS connection pool.
type NATSConfig struct {
	URL         string         `json:"url" yaml:"url"`
	InitialSize int            `json:"initial_size" yaml:"initial_size"`
	MaxSize     int            `json:"max_size" yaml:"max_size"`
	IdleExpiry  utils.Duration `json:"idle_expiry" yaml:"idle_expiry"`
}

// RateLimitConfig is one fixed window applied per caller.
type RateLimitConfig struct {
	Interval utils.Duration `json:"interval" yaml:"interval"`
	MaxCount int            `json:"max_count" yaml:"max_count"`
}

func defaultConfig() Config {
	return Config{
		Addr:     ":9090",
		LogLevel: "info",
		NATS: NATSConfig{
			URL:         "nats://127.0.0.1:4222",
			InitialSize: 1,
			MaxSize:     4,
			IdleExpiry:  utils.Duration(5 * time.Minute),
		},
		RateLimits: []RateLimitConfig{
			{Interval: utils.Duration(time.Second), MaxCount: 10},
			{Interval: utils.Duration(time.Minute), MaxCount: 300},
		},
		MaxTrackedKeys: limiter.DefaultMaxKeys,
	}
}

func loadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := env.GetEnv("BOUNDSD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := parseConfig(path, data, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Addr = env.GetEnv("BOUNDSD_ADDR", cfg.Addr)
	cfg.LogLevel = env.GetEnv("BOUNDSD_LOG_LEVEL", cfg.LogLevel)
	cfg.Profiling = env.GetEnvBool("BOUNDSD_PROFILING", cfg.Profiling)
	cfg.Brotli = env.GetEnvBool("BOUNDSD_BROTLI", cfg.Brotli)
	cfg.JWTIssuer = env.GetEnv("WEB_APP_URL", cfg.JWTIssuer)
	cfg.NATS.URL = env.GetEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.MaxSize = env.GetEnvInt("BOUNDSD_NATS_MAX_SIZE", cfg.NATS.MaxSize)
	cfg.NATS.IdleExpiry = utils.Duration(env.GetEnvDuration("BOUNDSD_NATS_IDLE_EXPIRY", cfg.NATS.IdleExpiry.Std()))

	return cfg, cfg.validate()
}

// parseConfig decodes data by file extension.
func parseConfig(path string, data []byte, cfg *Config) error {
	var err error
	switch ext := filepath.Ext(path); ext {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".yml", ".yaml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c Config) validate() error {
	if len(c.RateLimits) == 0 {
		return errors.New("at least one rate limit is required")
	}
	for i, rl := range c.RateLimits {
		if rl.Interval <= 0 || rl.MaxCount < 1 {
			return fmt.Errorf("rate limit %d: interval and max count must be positive", i)
		}
	}
	if c.MaxTrackedKeys < 1 {
		return fmt.Errorf("max tracked keys must be positive, got %d", c.MaxTrackedKeys)
	}
	return nil
}

func (c Config) limits() []limiter.RateLimit {
	out := make([]limiter.RateLimit, 0, len(c.RateLimits))
	for _, rl := range c.RateLimits {
		out = append(out, limiter.RateLimit{Interval: rl.Interval.Std(), MaxCount: rl.MaxCount})
	}
	return out
}

func (c Config) slogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
