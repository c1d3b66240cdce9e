// Package config loads the framework configuration from YAML, applies
// defaults, and overlays environment overrides.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/aixgo-dev/agora/agent"
)

// Config is the top-level application configuration.
type Config struct {
	// Server configures the HTTP/WebSocket transport.
	Server ServerConfig `yaml:"server"`

	// Providers maps provider names to construction options passed to the
	// provider registry (api_key, model, base_url, and provider-specific
	// settings). API keys left unset fall back to the conventional
	// environment variables inside each provider factory.
	Providers map[string]map[string]any `yaml:"providers,omitempty"`

	// Defaults are applied to agent definitions that leave the
	// corresponding field empty.
	Defaults Defaults `yaml:"defaults"`

	// Bus configures the shared message bus.
	Bus BusConfig `yaml:"bus"`

	// SharedMemory selects the shared key-value store backend.
	SharedMemory SharedMemoryConfig `yaml:"shared_memory"`

	// Agents are created at startup through the agent factory registry.
	Agents []agent.Def `yaml:"agents"`

	// Schedules are recurring orchestrator dispatches.
	Schedules []Schedule `yaml:"schedules,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string `yaml:"addr"`

	// RateLimit throttles API requests when enabled.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds token-bucket rate limiter settings.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Defaults fills in unset fields of agent definitions.
type Defaults struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// BusConfig holds message bus settings.
type BusConfig struct {
	// HistoryLimit bounds the bus history; 0 keeps it unbounded.
	HistoryLimit int `yaml:"history_limit"`
}

// SharedMemoryConfig selects the shared store backend.
type SharedMemoryConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend string `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the shared store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Schedule is a recurring orchestrator dispatch on a cron expression.
type Schedule struct {
	Cron     string `yaml:"cron"`
	Task     string `yaml:"task"`
	Strategy string `yaml:"strategy"`
}

// envOverrides are environment variables that take precedence over the
// file. PORT follows the deployment convention of overriding only the
// port part via ":<port>".
type envOverrides struct {
	Addr          string `env:"AGORA_ADDR"`
	Port          int    `env:"PORT"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	SharedBackend string `env:"AGORA_SHARED_BACKEND"`
	HistoryLimit  int    `env:"AGORA_HISTORY_LIMIT" envDefault:"-1"`
}

// FileReader reads files; the seam keeps Load testable.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader reads from the filesystem.
type OSFileReader struct{}

func (OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Default returns the configuration used when no file is given: one basic
// agent on an unbounded bus, serving on :8000.
func Default() *Config {
	cfg := &Config{
		Agents: []agent.Def{{Name: "assistant", Role: "general assistant", Kind: "basic"}},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads, parses, and validates the configuration at path, applying
// defaults and environment overrides.
func Load(path string) (*Config, error) {
	return LoadWithReader(OSFileReader{}, path)
}

// LoadWithReader is Load with an explicit file reader.
func LoadWithReader(fr FileReader, path string) (*Config, error) {
	data, err := fr.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.RateLimit.RequestsPerSecond == 0 {
		c.Server.RateLimit.RequestsPerSecond = 50
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 100
	}
	if c.Defaults.Provider == "" {
		c.Defaults.Provider = "openai"
	}
	if c.Defaults.MaxTokens == 0 {
		c.Defaults.MaxTokens = 1000
	}
	if c.Defaults.Temperature == 0 {
		c.Defaults.Temperature = 0.7
	}
	if c.SharedMemory.Backend == "" {
		c.SharedMemory.Backend = "memory"
	}

	for i := range c.Agents {
		def := &c.Agents[i]
		if def.Kind == "" {
			def.Kind = "basic"
		}
		if def.Kind != "basic" {
			if def.Provider == "" {
				def.Provider = c.Defaults.Provider
			}
			if def.Model == "" {
				def.Model = c.Defaults.Model
			}
			if def.MaxTokens == 0 {
				def.MaxTokens = c.Defaults.MaxTokens
			}
			if def.Temperature == 0 {
				def.Temperature = c.Defaults.Temperature
			}
		}
	}
	for i := range c.Schedules {
		if c.Schedules[i].Strategy == "" {
			c.Schedules[i].Strategy = "auto"
		}
	}
}

func (c *Config) applyEnv() error {
	overrides := envOverrides{}
	if err := env.Parse(&overrides); err != nil {
		return err
	}

	if overrides.Addr != "" {
		c.Server.Addr = overrides.Addr
	} else if overrides.Port != 0 {
		c.Server.Addr = fmt.Sprintf(":%d", overrides.Port)
	}
	if overrides.RedisAddr != "" {
		c.SharedMemory.Redis.Addr = overrides.RedisAddr
	}
	if overrides.RedisPassword != "" {
		c.SharedMemory.Redis.Password = overrides.RedisPassword
	}
	if overrides.SharedBackend != "" {
		c.SharedMemory.Backend = overrides.SharedBackend
	}
	if overrides.HistoryLimit >= 0 {
		c.Bus.HistoryLimit = overrides.HistoryLimit
	}
	return nil
}

// Validate checks the configuration for errors that would surface later
// as confusing runtime failures.
func (c *Config) Validate() error {
	switch c.SharedMemory.Backend {
	case "memory":
	case "redis":
		if c.SharedMemory.Redis.Addr == "" {
			return fmt.Errorf("shared_memory: redis backend requires an address")
		}
	default:
		return fmt.Errorf("shared_memory: unknown backend %q", c.SharedMemory.Backend)
	}

	if c.Bus.HistoryLimit < 0 {
		return fmt.Errorf("bus: history_limit must not be negative")
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, def := range c.Agents {
		if def.Name == "" {
			return fmt.Errorf("agents[%d]: name is required", i)
		}
		if seen[def.Name] {
			// The bus would silently overwrite; configuration is the
			// place to catch the collision.
			return fmt.Errorf("agents: duplicate name %q", def.Name)
		}
		seen[def.Name] = true
	}

	for i, s := range c.Schedules {
		if s.Cron == "" {
			return fmt.Errorf("schedules[%d]: cron expression is required", i)
		}
		if s.Task == "" {
			return fmt.Errorf("schedules[%d]: task is required", i)
		}
		switch s.Strategy {
		case "auto", "round_robin", "broadcast":
		default:
			return fmt.Errorf("schedules[%d]: unknown strategy %q", i, s.Strategy)
		}
	}
	return nil
}
