// Package config loads the idem server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aretw0/idem/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config is the root configuration.
type Config struct {
	Store      string                  `mapstructure:"store"`
	Server     ServerConfig            `mapstructure:"server"`
	Redis      RedisConfig             `mapstructure:"redis"`
	Log        LogConfig               `mapstructure:"log"`
	Guard      GuardConfig             `mapstructure:"guard"`
	Operations map[string]PolicyConfig `mapstructure:"operations"`
}

type ServerConfig struct {
	Addr        string `mapstructure:"addr"`
	MetricsAddr string `mapstructure:"metrics_addr"` // empty serves /metrics on Addr
	// ShutdownTimeout in milliseconds.
	ShutdownTimeout int64 `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GuardConfig holds guard-wide settings. Durations are in milliseconds.
type GuardConfig struct {
	LockTTL        int64 `mapstructure:"lock_ttl"`
	CleanupTimeout int64 `mapstructure:"cleanup_timeout"`
}

// PolicyConfig is the per-operation idempotency declaration, keyed by route.
// Durations are in milliseconds.
type PolicyConfig struct {
	KeyPrefix        string `mapstructure:"key_prefix"`
	ExpireTime       int64  `mapstructure:"expire_time"`
	Message          string `mapstructure:"message"`
	ReleaseOnFailure bool   `mapstructure:"release_on_failure"`
	ReplayResult     bool   `mapstructure:"replay_result"`
	ResultTTL        int64  `mapstructure:"result_ttl"`
	RequireToken     bool   `mapstructure:"require_token"`
}

// Policy converts the declaration to a domain.Policy.
func (p PolicyConfig) Policy() domain.Policy {
	return domain.Policy{
		Prefix:           p.KeyPrefix,
		TTL:              Millis(p.ExpireTime),
		Message:          p.Message,
		ReleaseOnFailure: p.ReleaseOnFailure,
		ReplayResult:     p.ReplayResult,
		ResultTTL:        Millis(p.ResultTTL),
	}.WithDefaults()
}

// Millis converts a millisecond count to a Duration.
func Millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Store: StoreRedis,
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5000,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Guard: GuardConfig{
			LockTTL:        domain.DefaultLockTTL.Milliseconds(),
			CleanupTimeout: 2000,
		},
		Operations: map[string]PolicyConfig{
			"/buyer/order/create": {
				KeyPrefix:  "order",
				ExpireTime: domain.DefaultTTL.Milliseconds(),
				Message:    domain.DefaultMessage,
			},
		},
	}
}

// Load reads path on top of Default. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := Decode(data, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Decode merges YAML data into cfg.
func Decode(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if raw == nil {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// Validate checks the values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreRedis, StoreMemory)
	}
	if c.Guard.LockTTL <= 0 {
		return fmt.Errorf("guard.lock_ttl must be positive, got %d", c.Guard.LockTTL)
	}
	for path, op := range c.Operations {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("operation %q: route must start with /", path)
		}
		if op.ExpireTime < 0 || op.ResultTTL < 0 {
			return fmt.Errorf("operation %q: durations must not be negative", path)
		}
	}
	return nil
}
