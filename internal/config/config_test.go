package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Providers = []ProviderConfig{
		{
			Name:    "openai",
			BaseURL: "https://api.openai.com",
			APIKey:  "test-key",
			Models:  []string{"gpt-4o", "gpt-4o-mini"},
		},
		{
			Name:    "anthropic",
			BaseURL: "https://api.anthropic.com",
			APIKey:  "test-key-2",
			Models:  []string{"claude-sonnet-4"},
		},
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "no providers",
			mutate:  func(c *Config) { c.Providers = nil },
			wantErr: "at least one provider is required",
		},
		{
			name:    "missing provider name",
			mutate:  func(c *Config) { c.Providers[0].Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.Providers[1].BaseURL = "" },
			wantErr: "base_url is required",
		},
		{
			name:    "duplicate provider",
			mutate:  func(c *Config) { c.Providers[1].Name = "openai" },
			wantErr: "duplicate name",
		},
		{
			name:    "invalid agent mode",
			mutate:  func(c *Config) { c.Runtime.AgentMode = "review" },
			wantErr: "invalid agent mode",
		},
		{
			name:    "invalid approval mode",
			mutate:  func(c *Config) { c.Runtime.ApprovalMode = "yolo" },
			wantErr: "invalid approval mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestResolveModel(t *testing.T) {
	cfg := testConfig()

	t.Run("provider colon model", func(t *testing.T) {
		p, model, err := cfg.ResolveModel("anthropic:claude-sonnet-4")
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Name)
		assert.Equal(t, "claude-sonnet-4", model)
	})

	t.Run("bare model looked up across catalog", func(t *testing.T) {
		p, model, err := cfg.ResolveModel("gpt-4o-mini")
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name)
		assert.Equal(t, "gpt-4o-mini", model)
	})

	t.Run("empty selector uses runtime default", func(t *testing.T) {
		cfg := testConfig()
		cfg.Runtime.DefaultModel = "anthropic:claude-sonnet-4"
		p, model, err := cfg.ResolveModel("")
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Name)
		assert.Equal(t, "claude-sonnet-4", model)
	})

	t.Run("empty selector without default picks first", func(t *testing.T) {
		p, model, err := cfg.ResolveModel("")
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name)
		assert.Equal(t, "gpt-4o", model)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, _, err := cfg.ResolveModel("mystery:gpt-4o")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown provider")
	})

	t.Run("unknown bare model", func(t *testing.T) {
		_, _, err := cfg.ResolveModel("llama-2")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestSystemPromptFor(t *testing.T) {
	cfg := testConfig()

	t.Run("built-in defaults", func(t *testing.T) {
		assert.Equal(t, "You are a planning assistant.", cfg.SystemPromptFor("plan"))
		assert.Equal(t, "You are a helpful coding assistant.", cfg.SystemPromptFor("build"))
	})

	t.Run("enabled template wins", func(t *testing.T) {
		cfg := testConfig()
		cfg.Prompts.Build = PromptTemplate{Enabled: true, Text: "Custom builder."}
		assert.Equal(t, "Custom builder.", cfg.SystemPromptFor("build"))
	})

	t.Run("disabled template falls back", func(t *testing.T) {
		cfg := testConfig()
		cfg.Prompts.Plan = PromptTemplate{Enabled: false, Text: "Ignored."}
		assert.Equal(t, "You are a planning assistant.", cfg.SystemPromptFor("plan"))
	})
}

func TestLoaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	loader := NewLoader(path)

	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Empty(t, cfg.Providers)
		assert.Equal(t, "build", cfg.Runtime.AgentMode)
		assert.Equal(t, dir, cfg.DataDir)
	})

	t.Run("save and reload", func(t *testing.T) {
		cfg := testConfig()
		cfg.Runtime.DefaultModel = "openai:gpt-4o"
		require.NoError(t, loader.Save(cfg))

		loaded, err := loader.Load()
		require.NoError(t, err)
		require.Len(t, loaded.Providers, 2)
		assert.Equal(t, "openai", loaded.Providers[0].Name)
		assert.Equal(t, []string{"claude-sonnet-4"}, loaded.Providers[1].Models)
		assert.Equal(t, "openai:gpt-4o", loaded.Runtime.DefaultModel)
	})

	t.Run("corrupt file errors", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
		_, err := NewLoader(bad).Load()
		assert.Error(t, err)
	})
}
