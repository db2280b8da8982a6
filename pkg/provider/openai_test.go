package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatCompletionsURLCandidates(t *testing.T) {
	t.Run("plain base gets both candidates", func(t *testing.T) {
		got := chatCompletionsURLCandidates("https://api.example.com/")
		assert.Equal(t, []string{
			"https://api.example.com/chat/completions",
			"https://api.example.com/v1/chat/completions",
		}, got)
	})

	t.Run("full path used as-is", func(t *testing.T) {
		got := chatCompletionsURLCandidates("https://api.example.com/v4/chat/completions")
		assert.Equal(t, []string{"https://api.example.com/v4/chat/completions"}, got)
	})
}

func TestEncodeOpenAIMessages(t *testing.T) {
	t.Run("assistant tool calls become native tool_calls", func(t *testing.T) {
		content := EncodeToolCalls("Running.", []SentinelToolCall{
			{ID: "call_1", Name: "bash", Arguments: `{"command":"ls"}`},
		})
		out := encodeOpenAIMessages([]Message{{Role: "assistant", Content: content}})
		require.Len(t, out, 1)
		assert.Equal(t, "Running.", out[0]["content"])
		calls := out[0]["tool_calls"].([]map[string]any)
		require.Len(t, calls, 1)
		assert.Equal(t, "call_1", calls[0]["id"])
	})

	t.Run("tool result json becomes role tool", func(t *testing.T) {
		out := encodeOpenAIMessages([]Message{{
			Role:    "user",
			Content: EncodeToolResultJSON("call_1", map[string]any{"ok": true}),
		}})
		require.Len(t, out, 1)
		assert.Equal(t, "tool", out[0]["role"])
		assert.Equal(t, "call_1", out[0]["tool_call_id"])
	})

	t.Run("generic tool result with id becomes role tool", func(t *testing.T) {
		out := encodeOpenAIMessages([]Message{{
			Role:    "user",
			Content: EncodeToolResult(map[string]any{"tool_call_id": "call_2", "stdout": "ok"}),
		}})
		require.Len(t, out, 1)
		assert.Equal(t, "tool", out[0]["role"])
		assert.Equal(t, "call_2", out[0]["tool_call_id"])
	})

	t.Run("plain messages pass through", func(t *testing.T) {
		out := encodeOpenAIMessages([]Message{{Role: "user", Content: "hello"}})
		require.Len(t, out, 1)
		assert.Equal(t, "user", out[0]["role"])
		assert.Equal(t, "hello", out[0]["content"])
	})
}

func writeSSE(w http.ResponseWriter, payloads ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, p := range payloads {
		fmt.Fprintf(w, "data: %s\n\n", p)
	}
}

func TestOpenAIStreamChatEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])

		writeSSE(w,
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`[DONE]`,
		)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "test-key", "gpt-4o")
	stream, err := client.StreamChat(context.Background(), []Message{
		{Role: "user", Content: "say hello"},
	}, nil)
	require.NoError(t, err)

	chunks, err := collectStream(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", joinedContent(chunks))
	assert.Equal(t, "stop", chunks[len(chunks)-1].Choices[0].FinishReason)
}

func TestOpenAIStreamChatFallsBackToV1(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		writeSSE(w, `{"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`, `[DONE]`)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "test-key", "gpt-4o")
	stream, err := client.StreamChat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)

	chunks, err := collectStream(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "ok", joinedContent(chunks))
}

func TestOpenAIStreamChatAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"bad key"}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "bad-key", "gpt-4o")
	_, err := client.StreamChat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM API error (401)")
}

func TestOpenAIStreamChatMalformedChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{not json`)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "test-key", "gpt-4o")
	stream, err := client.StreamChat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)

	_, err = collectStream(t, stream)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse JSON from SSE data")
}

func TestOpenAIChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, false, body["stream"])

		// The injected system prompt should lead the message list.
		msgs := body["messages"].([]any)
		first := msgs[0].(map[string]any)
		assert.Equal(t, "system", first["role"])

		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "test-key", "gpt-4o").WithSystemPrompt("You are terse.")
	content, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "ping"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", content)
}
