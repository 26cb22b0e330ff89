// Package config loads client configuration from an optional YAML file and
// BIOAGENT_-prefixed environment variables, environment taking precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Backend BackendConfig `koanf:"backend"`
	Run     RunConfig     `koanf:"run"`
	Storage StorageConfig `koanf:"storage"`
}

type BackendConfig struct {
	// BaseURL is the agent backend root, e.g. http://localhost:2024.
	BaseURL string `koanf:"base_url"`
	// AuthToken is a static bearer token; empty means unauthenticated.
	AuthToken string `koanf:"auth_token"`
	// ConnectTimeout bounds the initial stream handshake.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// RunConfig carries the default per-run configuration forwarded to the
// backend: model selection, search effort, and free-form feature toggles.
type RunConfig struct {
	Model        string          `koanf:"model"`
	SearchEffort string          `koanf:"search_effort"`
	Toggles      map[string]bool `koanf:"toggles"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// Load reads configuration. path may be empty or point to a YAML file; a
// missing file at the default location is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Double underscore separates nesting levels so keys like base_url
	// survive: BIOAGENT_BACKEND__BASE_URL -> backend.base_url.
	if err := k.Load(env.Provider("BIOAGENT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "BIOAGENT_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Defaults
	if !k.Exists("backend.base_url") {
		k.Set("backend.base_url", "http://localhost:2024")
	}
	if !k.Exists("backend.connect_timeout") {
		k.Set("backend.connect_timeout", "10s")
	}
	if !k.Exists("run.model") {
		k.Set("run.model", "gemini-2.5-flash")
	}
	if !k.Exists("run.search_effort") {
		k.Set("run.search_effort", "medium")
	}
	if !k.Exists("storage.type") {
		k.Set("storage.type", "memory")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
