package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrydev/carrycode/internal/config"
)

func writeConfig(t *testing.T, dir string, providers string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	content := fmt.Sprintf(`{
  "providers": [%s],
  "runtime": {"default_model": "openai:m", "agent_mode": "build", "approval_mode": "agent"},
  "logging": {"level": "info", "redaction": true}
}`, providers)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const openaiProvider = `{"name": "openai", "base_url": "http://localhost:1", "api_key": "k", "models": ["m"]}`

func TestRuntimeNewAndOpenSession(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, openaiProvider)

	r, err := New(Options{ConfigPath: path})
	require.NoError(t, err)
	defer r.Close()

	assert.Len(t, r.Config().Providers, 1)

	s, err := r.OpenSession("")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, 1, r.Manager().Len())

	require.NoError(t, s.Save())
	metas, err := r.SavedSessions()
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, s.ID(), metas[0].SessionID)

	assert.NotNil(t, r.MetricsHandler())
}

func TestRuntimeRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	_, err := New(Options{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestRuntimeApplyReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, openaiProvider)

	r, err := New(Options{ConfigPath: path})
	require.NoError(t, err)
	defer r.Close()

	next := config.DefaultConfig()
	next.Providers = []config.ProviderConfig{
		{Name: "openai", BaseURL: "http://localhost:1", APIKey: "k", Models: []string{"m"}},
		{Name: "anthropic", BaseURL: "http://localhost:2", APIKey: "k2", Models: []string{"c"}},
	}
	r.applyReload(next)
	assert.Len(t, r.Config().Providers, 2)
}

func TestRuntimeWatchesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, openaiProvider)

	r, err := New(Options{ConfigPath: path, WatchConfig: true})
	require.NoError(t, err)
	defer r.Close()

	writeConfig(t, dir, openaiProvider+`, {"name": "gemini", "base_url": "http://localhost:3", "api_key": "g", "models": ["flash"]}`)

	require.Eventually(t, func() bool {
		return len(r.Config().Providers) == 2
	}, 5*time.Second, 50*time.Millisecond)
}
