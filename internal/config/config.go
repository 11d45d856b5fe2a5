// Package config loads the gateway configuration from yaml with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Storage and idempotency backend identifiers.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the full gateway configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	EntitiesPath string `yaml:"entities_path"`

	Storage struct {
		Backend     string `yaml:"backend"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"storage"`

	Idempotency struct {
		Backend   string `yaml:"backend"`
		RedisAddr string `yaml:"redis_addr"`
	} `yaml:"idempotency"`

	Auth struct {
		// JWTSecret verifies HMAC bearer tokens. Empty disables bearer
		// auth entirely (header-only tenancy, dev setups).
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	RateLimit struct {
		RequestsPerSecond int `yaml:"requests_per_second"`
		Burst             int `yaml:"burst"`
	} `yaml:"rate_limit"`

	Audit struct {
		MaxEntries int    `yaml:"max_entries"`
		FilePath   string `yaml:"file_path"`
	} `yaml:"audit"`

	CORSOrigins []string `yaml:"cors_origins"`
}

// Load reads config/gateway.yaml.
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join("config", "gateway.yaml"))
}

// LoadFromPath loads the configuration from a specific path and applies
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gateway config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse gateway config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration or falls back to defaults when the
// file is absent.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		d := Default()
		d.applyEnv()
		return d
	}
	return cfg
}

// Default returns the development configuration.
func Default() *Config {
	cfg := &Config{
		ListenAddr:   ":8090",
		LogLevel:     "info",
		EntitiesPath: filepath.Join("config", "entities.yaml"),
	}
	cfg.Storage.Backend = BackendMemory
	cfg.Idempotency.Backend = BackendMemory
	cfg.RateLimit.RequestsPerSecond = 50
	cfg.RateLimit.Burst = 100
	cfg.Audit.MaxEntries = 200
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GATEWAY_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("GATEWAY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GATEWAY_ENTITIES_PATH"); v != "" {
		c.EntitiesPath = v
	}
	if v := os.Getenv("GATEWAY_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("GATEWAY_POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("GATEWAY_IDEMPOTENCY_BACKEND"); v != "" {
		c.Idempotency.Backend = v
	}
	if v := os.Getenv("GATEWAY_REDIS_ADDR"); v != "" {
		c.Idempotency.RedisAddr = v
	}
	if v := os.Getenv("GATEWAY_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("GATEWAY_RATE_LIMIT_RPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.RequestsPerSecond = n
		}
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage backend %q requires postgres_dsn", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Idempotency.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Idempotency.RedisAddr == "" {
			return fmt.Errorf("idempotency backend %q requires redis_addr", c.Idempotency.Backend)
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("idempotency backend %q requires postgres_dsn", c.Idempotency.Backend)
		}
	default:
		return fmt.Errorf("unknown idempotency backend %q", c.Idempotency.Backend)
	}
	return nil
}
