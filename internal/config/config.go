package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models taskdeck.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Query struct {
		// Default result caps applied when a list request carries no
		// explicit limit. Zero means unlimited.
		ActorLimit uint64 `yaml:"actor_limit"`
		TaskLimit  uint64 `yaml:"task_limit"`
	} `yaml:"query"`
}

// Default returns the stock configuration: actors list unbounded, tasks
// capped at 100 per request.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = "127.0.0.1:3000"
	cfg.Server.BasePath = "/api"
	cfg.Query.ActorLimit = 0
	cfg.Query.TaskLimit = 100
	return &cfg
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskdeck.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Fields left
// unset inherit the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath == "" || c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// GenerateDefault returns default config YAML for `td init`.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:3000
  base_path: /api

query:
  # Result caps for list endpoints when the request has no explicit limit.
  # Zero means unlimited.
  actor_limit: 0
  task_limit: 100
`
