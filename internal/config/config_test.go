package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != ":8090" {
		t.Fatalf("unexpected listen addr %s", cfg.ListenAddr)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Idempotency.Backend != BackendMemory {
		t.Fatal("defaults must use the memory backends")
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9000"
log_level: debug
storage:
  backend: postgres
  postgres_dsn: postgres://localhost/gw
idempotency:
  backend: redis
  redis_addr: localhost:6379
`)
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9000" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Idempotency.Backend != BackendRedis {
		t.Fatalf("unexpected backends: %+v", cfg)
	}
	// Unset fields keep their defaults.
	if cfg.RateLimit.RequestsPerSecond != 50 {
		t.Fatalf("expected default rate limit, got %d", cfg.RateLimit.RequestsPerSecond)
	}
}

func TestLoadRejectsIncompleteBackends(t *testing.T) {
	cases := []string{
		"storage:\n  backend: postgres\n",
		"idempotency:\n  backend: redis\n",
		"storage:\n  backend: dynamo\n",
		"idempotency:\n  backend: memcached\n",
	}
	for _, content := range cases {
		path := writeConfig(t, content)
		if _, err := LoadFromPath(path); err == nil {
			t.Fatalf("expected validation error for config:\n%s", content)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_LISTEN_ADDR", ":7070")
	t.Setenv("GATEWAY_JWT_SECRET", "s3cret")
	t.Setenv("GATEWAY_RATE_LIMIT_RPS", "5")

	path := writeConfig(t, `listen_addr: ":9000"`)
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Fatalf("env must override file, got %s", cfg.ListenAddr)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("expected jwt secret from env, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.RateLimit.RequestsPerSecond != 5 {
		t.Fatalf("expected rate limit from env, got %d", cfg.RateLimit.RequestsPerSecond)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
