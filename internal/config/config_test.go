package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile("nonexistent.yaml")
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.Window != 60*time.Second {
		t.Errorf("expected default window 60s, got %s", cfg.RateLimit.Window)
	}
	if cfg.RateLimit.Limit != 100 {
		t.Errorf("expected default limit 100, got %d", cfg.RateLimit.Limit)
	}
	if cfg.RateLimit.Store != "redis" {
		t.Errorf("expected default store redis, got %q", cfg.RateLimit.Store)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("EDGE_SERVER__PORT", "9090")
	t.Setenv("EDGE_RATELIMIT__LIMIT", "30")
	t.Setenv("EDGE_RATELIMIT__STORE", "memory")
	t.Setenv("EDGE_BACKEND__OLLAMA_URL", "http://backend:11434")

	cfg, err := LoadFile("nonexistent.yaml")
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.Limit != 30 {
		t.Errorf("expected limit 30, got %d", cfg.RateLimit.Limit)
	}
	if cfg.Backend.OllamaURL != "http://backend:11434" {
		t.Errorf("unexpected backend url %q", cfg.Backend.OllamaURL)
	}
}

func TestLoadSecretSubstitution(t *testing.T) {
	t.Setenv("EDGE_BACKEND__INTERNAL_TOKEN", "${GATEWAY_INTERNAL_TOKEN}")
	t.Setenv("GATEWAY_INTERNAL_TOKEN", "s3cret")

	cfg, err := LoadFile("nonexistent.yaml")
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Backend.InternalToken != "s3cret" {
		t.Errorf("expected substituted token, got %q", cfg.Backend.InternalToken)
	}
}

func TestLoadRejectsBadRateLimit(t *testing.T) {
	t.Setenv("EDGE_RATELIMIT__LIMIT", "0")

	if _, err := LoadFile("nonexistent.yaml"); err == nil {
		t.Fatal("expected error for zero limit")
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("EDGE_RATELIMIT__STORE", "dynamo")

	if _, err := LoadFile("nonexistent.yaml"); err == nil {
		t.Fatal("expected error for unknown counter store")
	}
}
