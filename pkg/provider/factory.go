package provider

import (
	"fmt"
	"strings"
	"sync"
)

// Endpoint is one provider entry from the catalog.
type Endpoint struct {
	Name    string   `json:"name"`
	BaseURL string   `json:"base_url"`
	APIKey  string   `json:"api_key"`
	Models  []string `json:"models"`
}

// NewClient builds the concrete client for a provider name. Unknown
// names fall back to the OpenAI-compatible client, which also covers
// the zhipuai, deepseek, and qwen dialects.
func NewClient(providerName, baseURL, apiKey, model, systemPrompt string) Client {
	switch strings.ToLower(providerName) {
	case "anthropic", "claude":
		return NewClaudeClient(baseURL, apiKey, model).WithSystemPrompt(systemPrompt)
	case "codex":
		return NewCodexClient(baseURL, apiKey, model).WithSystemPrompt(systemPrompt)
	case "gemini":
		return NewGeminiClient(baseURL, apiKey, model).WithSystemPrompt(systemPrompt)
	default:
		return NewOpenAIClient(baseURL, apiKey, model).WithSystemPrompt(systemPrompt)
	}
}

type factoryKey struct {
	provider string
	model    string
}

type cachedClient struct {
	client       Client
	systemPrompt string
}

// Factory caches one client per (provider, model) pair. A cached
// client is rebuilt when the requested system prompt differs from the
// one it was built with.
type Factory struct {
	mu    sync.Mutex
	cache map[factoryKey]cachedClient
}

// NewFactory creates an empty client factory.
func NewFactory() *Factory {
	return &Factory{cache: make(map[factoryKey]cachedClient)}
}

// GetOrCreate returns the cached client for (provider, model) or
// builds one from the matching endpoint.
func (f *Factory) GetOrCreate(providerName, model string, endpoints []Endpoint, systemPrompt string) (Client, error) {
	var endpoint *Endpoint
	for i := range endpoints {
		if endpoints[i].Name == providerName {
			endpoint = &endpoints[i]
			break
		}
	}
	if endpoint == nil {
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}

	key := factoryKey{provider: providerName, model: model}

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[key]; ok && cached.systemPrompt == systemPrompt {
		return cached.client, nil
	}

	client := NewClient(providerName, endpoint.BaseURL, endpoint.APIKey, model, systemPrompt)
	f.cache[key] = cachedClient{client: client, systemPrompt: systemPrompt}
	return client, nil
}

// Invalidate drops the cached client for (provider, model).
func (f *Factory) Invalidate(providerName, model string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cache, factoryKey{provider: providerName, model: model})
}

// Size returns the number of cached clients.
func (f *Factory) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cache)
}
