// Package config loads gateway configuration from config.yaml and the
// environment. Environment variables use the EDGE_ prefix with "__" as the
// nesting separator, e.g. EDGE_SERVER__PORT=9090.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Redis     RedisConfig     `koanf:"redis"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Backend   BackendConfig   `koanf:"backend"`
}

type ServerConfig struct {
	Port    int    `koanf:"port"`
	Service string `koanf:"service"`
	Version string `koanf:"version"`
}

type StorageConfig struct {
	// Path is the SQLite database file holding users, API keys, sessions
	// and the audit log. ":memory:" is accepted for tests.
	Path string `koanf:"path"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type RateLimitConfig struct {
	// Window is the fixed-window duration, e.g. "60s".
	Window time.Duration `koanf:"window"`

	// Limit is the number of requests admitted per identity per window.
	Limit int `koanf:"limit"`

	// Store selects the counter backend: "redis" or "memory". Memory
	// counters are per-process and only suitable for single instances.
	Store string `koanf:"store"`
}

type BackendConfig struct {
	// OllamaURL is the base URL of the inference backend.
	OllamaURL string `koanf:"ollama_url"`

	// SearchURL is the base URL of the search backend.
	SearchURL string `koanf:"search_url"`

	// InternalToken is injected as X-Internal-Token toward privileged
	// backends. Sourced from deployment configuration only.
	InternalToken string `koanf:"internal_token"`

	// SearchVector enables the query-embedding sub-call before search.
	SearchVector bool `koanf:"search_vector"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile loads configuration from the given YAML file (missing file is
// fine) and overlays EDGE_* environment variables.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("EDGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "EDGE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Backend.InternalToken = substituteEnvVars(cfg.Backend.InternalToken)
	cfg.Redis.Password = substituteEnvVars(cfg.Redis.Password)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		"server.port":        8080,
		"server.service":     "llm-api-gateway",
		"server.version":     "dev",
		"storage.path":       "./data/gateway.db",
		"redis.addr":         "localhost:6379",
		"ratelimit.window":   "60s",
		"ratelimit.limit":    100,
		"ratelimit.store":    "redis",
		"backend.ollama_url": "http://localhost:11434",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

func (c *Config) validate() error {
	if c.RateLimit.Limit <= 0 {
		return fmt.Errorf("ratelimit.limit must be positive, got %d", c.RateLimit.Limit)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be positive, got %s", c.RateLimit.Window)
	}
	switch c.RateLimit.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("ratelimit.store must be redis or memory, got %q", c.RateLimit.Store)
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
