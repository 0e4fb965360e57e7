// Package config loads and validates the service configuration from a YAML
// file with environment expansion, merged over built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Search   SearchConfig   `yaml:"search"`
	Agent    AgentConfig    `yaml:"agent"`
	Events   EventsConfig   `yaml:"events"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects and configures the durable store. With Enabled false
// the service runs on the in-memory store.
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LLMConfig points at an OpenAI-compatible completion endpoint.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// SandboxConfig points at the sandbox gateway agents run their tools against.
type SandboxConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SearchConfig configures the external search tool. Empty endpoint disables
// the tool.
type SearchConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// AgentConfig bounds agent execution and memory.
type AgentConfig struct {
	MaxIterations   int `yaml:"max_iterations"`
	MemoryBudget    int `yaml:"memory_budget_tokens"`
	PreserveRecent  int `yaml:"preserve_recent_messages"`
	MaxResultTokens int `yaml:"max_result_tokens"`
}

// EventsConfig tunes the per-agent event hub.
type EventsConfig struct {
	RingCapacity  int           `yaml:"ring_capacity"`
	QueueCapacity int           `yaml:"queue_capacity"`
	IdleCutoff    time.Duration `yaml:"idle_cutoff"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// defaults returns the built-in configuration the file is merged over.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o",
			Temperature: 0.2,
			MaxTokens:   4096,
			Timeout:     120 * time.Second,
		},
		Sandbox: SandboxConfig{
			Timeout: 120 * time.Second,
		},
		Agent: AgentConfig{
			MaxIterations:   30,
			MemoryBudget:    32768,
			PreserveRecent:  10,
			MaxResultTokens: 4096,
		},
		Events: EventsConfig{
			RingCapacity:  1000,
			QueueCapacity: 100,
			IdleCutoff:    30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
	}
}

// validate rejects configurations the service cannot run with.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Database.Enabled && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.enabled is true")
	}
	if cfg.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if cfg.Sandbox.BaseURL == "" {
		return fmt.Errorf("sandbox.base_url is required")
	}
	if cfg.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be at least 1")
	}
	if cfg.Agent.MemoryBudget < 1 {
		return fmt.Errorf("agent.memory_budget_tokens must be positive")
	}
	if cfg.Events.RingCapacity < 1 || cfg.Events.QueueCapacity < 1 {
		return fmt.Errorf("events capacities must be positive")
	}
	return nil
}
