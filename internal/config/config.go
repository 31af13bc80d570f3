package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var validPriorities = map[string]bool{"low": true, "medium": true, "high": true, "urgent": true}

// Config models ventureboard.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Defaults struct {
		TaskPriority    string `yaml:"task_priority"`
		VenturePriority string `yaml:"venture_priority"`
		VentureIcon     string `yaml:"venture_icon"`
		AgentMaxTokens  int64  `yaml:"agent_max_tokens"`
		ActivityLimit   int    `yaml:"activity_limit"`
	} `yaml:"defaults"`
	Auth struct {
		// Environment variable holding the HS256 secret. Auth is
		// disabled when the variable is unset or empty.
		SecretEnv string `yaml:"secret_env"`
	} `yaml:"auth"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run vb init or create it", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Defaults.TaskPriority != "" && !validPriorities[c.Defaults.TaskPriority] {
		return fmt.Errorf("config.defaults.task_priority %q is not a priority", c.Defaults.TaskPriority)
	}
	if c.Defaults.VenturePriority != "" && !validPriorities[c.Defaults.VenturePriority] {
		return fmt.Errorf("config.defaults.venture_priority %q is not a priority", c.Defaults.VenturePriority)
	}
	if c.Defaults.AgentMaxTokens < 0 {
		return fmt.Errorf("config.defaults.agent_max_tokens must not be negative")
	}
	if c.Defaults.ActivityLimit < 0 {
		return fmt.Errorf("config.defaults.activity_limit must not be negative")
	}
	return nil
}

// TaskPriority returns the default priority for new tasks.
func (c *Config) TaskPriority() string {
	if c.Defaults.TaskPriority == "" {
		return "medium"
	}
	return c.Defaults.TaskPriority
}

// VenturePriority returns the default priority for new ventures.
func (c *Config) VenturePriority() string {
	if c.Defaults.VenturePriority == "" {
		return "medium"
	}
	return c.Defaults.VenturePriority
}

// VentureIcon returns the default icon for new ventures.
func (c *Config) VentureIcon() string {
	if c.Defaults.VentureIcon == "" {
		return "📁"
	}
	return c.Defaults.VentureIcon
}

// AgentMaxTokens returns the default token budget for new agents.
func (c *Config) AgentMaxTokens() int64 {
	if c.Defaults.AgentMaxTokens == 0 {
		return 200000
	}
	return c.Defaults.AgentMaxTokens
}

// ActivityLimit returns the default feed page size.
func (c *Config) ActivityLimit() int {
	if c.Defaults.ActivityLimit == 0 {
		return 50
	}
	return c.Defaults.ActivityLimit
}

// JWTSecret resolves the auth secret, empty when auth is disabled.
func (c *Config) JWTSecret() string {
	env := c.Auth.SecretEnv
	if env == "" {
		env = "VENTUREBOARD_JWT_SECRET"
	}
	return os.Getenv(env)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "ventureboard.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /api

defaults:
  task_priority: medium
  venture_priority: medium
  venture_icon: "📁"
  agent_max_tokens: 200000
  activity_limit: 50

auth:
  secret_env: VENTUREBOARD_JWT_SECRET
`
