package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProviderConfig describes one LLM provider endpoint in the catalog
type ProviderConfig struct {
	Name    string   `json:"name" mapstructure:"name"`
	BaseURL string   `json:"base_url" mapstructure:"base_url"`
	APIKey  string   `json:"api_key" mapstructure:"api_key"`
	Models  []string `json:"models" mapstructure:"models"`
}

// PromptTemplate is a configurable system prompt for one agent mode
type PromptTemplate struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Text    string `json:"text" mapstructure:"text"`
}

// PromptsConfig holds per-agent-mode system prompt templates
type PromptsConfig struct {
	Plan  PromptTemplate `json:"plan" mapstructure:"plan"`
	Build PromptTemplate `json:"build" mapstructure:"build"`
}

// RuntimeConfig holds mutable defaults persisted back at runtime
type RuntimeConfig struct {
	DefaultModel string `json:"default_model" mapstructure:"default_model"` // "provider:model" or bare model
	AgentMode    string `json:"agent_mode" mapstructure:"agent_mode"`       // plan, build
	ApprovalMode string `json:"approval_mode" mapstructure:"approval_mode"` // read-only, agent, agent-full
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// Config is the root configuration
type Config struct {
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`
	Prompts   PromptsConfig    `json:"prompts" mapstructure:"prompts"`
	Runtime   RuntimeConfig    `json:"runtime" mapstructure:"runtime"`
	Logging   LoggingConfig    `json:"logging" mapstructure:"logging"`
	DataDir   string           `json:"data_dir" mapstructure:"data_dir"`
}

const (
	defaultPlanPrompt  = "You are a planning assistant."
	defaultBuildPrompt = "You are a helpful coding assistant."
)

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Providers: []ProviderConfig{},
		Prompts: PromptsConfig{
			Plan:  PromptTemplate{Enabled: false},
			Build: PromptTemplate{Enabled: false},
		},
		Runtime: RuntimeConfig{
			AgentMode:    "build",
			ApprovalMode: "read-only",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured: at least one provider is required")
	}
	seen := map[string]bool{}
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("provider %s: base_url is required", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %s: duplicate name", p.Name)
		}
		seen[p.Name] = true
	}
	if m := c.Runtime.AgentMode; m != "" && m != "plan" && m != "build" {
		return fmt.Errorf("invalid agent mode: %s", m)
	}
	if m := c.Runtime.ApprovalMode; m != "" && m != "read-only" && m != "agent" && m != "agent-full" {
		return fmt.Errorf("invalid approval mode: %s", m)
	}
	return nil
}

// Provider returns the catalog entry with the given name
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// ResolveModel resolves a model selector into a (provider, model) pair.
// Selectors are "provider:model" or a bare model name looked up across the
// catalog. An empty selector falls back to the runtime default, then to the
// first model of the first provider.
func (c *Config) ResolveModel(selector string) (ProviderConfig, string, error) {
	if selector == "" {
		selector = c.Runtime.DefaultModel
	}
	if selector == "" {
		if len(c.Providers) == 0 {
			return ProviderConfig{}, "", fmt.Errorf("no providers configured")
		}
		p := c.Providers[0]
		if len(p.Models) == 0 {
			return ProviderConfig{}, "", fmt.Errorf("provider %s has no models configured", p.Name)
		}
		return p, p.Models[0], nil
	}

	if name, model, ok := strings.Cut(selector, ":"); ok {
		p, found := c.Provider(name)
		if !found {
			return ProviderConfig{}, "", fmt.Errorf("unknown provider: %s", name)
		}
		return p, model, nil
	}

	for _, p := range c.Providers {
		for _, m := range p.Models {
			if m == selector {
				return p, m, nil
			}
		}
	}
	return ProviderConfig{}, "", fmt.Errorf("model %s not found in any configured provider", selector)
}

// SystemPromptFor returns the system prompt for the given agent mode,
// preferring an enabled template and falling back to the built-in default.
func (c *Config) SystemPromptFor(agentMode string) string {
	switch agentMode {
	case "plan":
		if c.Prompts.Plan.Enabled && c.Prompts.Plan.Text != "" {
			return c.Prompts.Plan.Text
		}
		return defaultPlanPrompt
	default:
		if c.Prompts.Build.Enabled && c.Prompts.Build.Text != "" {
			return c.Prompts.Build.Text
		}
		return defaultBuildPrompt
	}
}
