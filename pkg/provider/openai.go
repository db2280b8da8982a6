package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/carrydev/carrycode/internal/observability"
)

// OpenAIClient talks to any OpenAI-compatible chat-completions
// endpoint. Chunks already arrive in the canonical shape and pass
// through after parsing.
type OpenAIClient struct {
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	http         *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    newHTTPClient(),
	}
}

// WithSystemPrompt sets the system prompt injected when the caller's
// messages carry none.
func (c *OpenAIClient) WithSystemPrompt(prompt string) *OpenAIClient {
	c.systemPrompt = prompt
	return c
}

func (c *OpenAIClient) Model() string   { return c.model }
func (c *OpenAIClient) BaseURL() string { return c.baseURL }

func (c *OpenAIClient) applySystemPrompt(messages []Message) []Message {
	if c.systemPrompt == "" {
		return messages
	}
	for _, m := range messages {
		if m.Role == "system" {
			return messages
		}
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: "system", Content: c.systemPrompt})
	return append(out, messages...)
}

// encodeMessages re-expands sentinel-encoded tool traffic into the
// native wire shape: assistant tool calls become tool_calls entries
// and tool results become role:"tool" messages when an id is known.
func encodeOpenAIMessages(messages []Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "assistant" {
			if text, calls, ok := ExtractToolCalls(msg.Content); ok {
				toolCalls := make([]map[string]any, 0, len(calls))
				for _, call := range calls {
					args := call.Arguments
					if args == "" {
						args = "{}"
					}
					toolCalls = append(toolCalls, map[string]any{
						"id":   call.ID,
						"type": "function",
						"function": map[string]any{
							"name":      call.Name,
							"arguments": args,
						},
					})
				}
				entry := map[string]any{
					"role":       "assistant",
					"tool_calls": toolCalls,
				}
				if text != "" {
					entry["content"] = text
				} else {
					entry["content"] = nil
				}
				out = append(out, entry)
				continue
			}
		}
		if msg.Role == "user" {
			if toolUseID, result, ok := ExtractToolResultJSON(msg.Content); ok {
				out = append(out, map[string]any{
					"role":         "tool",
					"tool_call_id": toolUseID,
					"content":      string(result),
				})
				continue
			}
			if body, ok := ExtractToolResult(msg.Content); ok {
				var probe struct {
					ToolCallID string `json:"tool_call_id"`
				}
				if err := json.Unmarshal([]byte(body), &probe); err == nil && probe.ToolCallID != "" {
					out = append(out, map[string]any{
						"role":         "tool",
						"tool_call_id": probe.ToolCallID,
						"content":      body,
					})
					continue
				}
			}
		}
		out = append(out, map[string]any{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}
	return out
}

func buildChatCompletionsBody(model string, messages []Message, stream bool, tools []ToolDefinition) map[string]any {
	body := map[string]any{
		"model":    model,
		"messages": encodeOpenAIMessages(messages),
		"stream":   stream,
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}
	return body
}

func chatCompletionsURLCandidates(baseURL string) []string {
	base := strings.TrimRight(baseURL, "/")
	if strings.Contains(base, "/chat/completions") {
		return []string{base}
	}
	return []string{
		base + "/chat/completions",
		base + "/v1/chat/completions",
	}
}

// sendFirstSuccessful tries each URL candidate in order, skipping 404s
// so bases with and without a /v1 segment both work.
func sendFirstSuccessful(ctx context.Context, client *http.Client, candidates []string, apiKey string, body any) (*http.Response, error) {
	var lastErr error
	for _, url := range candidates {
		resp, err := postJSON(ctx, client, url, map[string]string{
			"Authorization": "Bearer " + apiKey,
		}, body)
		if err != nil {
			lastErr = fmt.Errorf("failed to send request to LLM API (%s): %w", url, err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			lastErr = fmt.Errorf("LLM API endpoint not found: %s", url)
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("failed to send request to LLM API")
	}
	return nil, lastErr
}

// StreamChat starts a streaming completion against the endpoint.
func (c *OpenAIClient) StreamChat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Stream, error) {
	msgs := c.applySystemPrompt(messages)
	body := buildChatCompletionsBody(c.model, msgs, true, tools)

	resp, err := sendFirstSuccessful(ctx, c.http, chatCompletionsURLCandidates(c.baseURL), c.apiKey, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("LLM API error (%d): %s", resp.StatusCode, readErrorBody(resp))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s, out := newStream(func() {
		cancel()
		resp.Body.Close()
	})
	go c.normalize(streamCtx, resp.Body, out)
	return s, nil
}

func (c *OpenAIClient) normalize(ctx context.Context, body io.ReadCloser, out chan streamItem) {
	defer close(out)
	defer body.Close()

	raw := readBody(body)
	timer := time.NewTimer(chunkReadTimeout)
	defer timer.Stop()

	var frames frameBuffer
	for {
		data, done, err := nextRawChunk(ctx, raw, timer)
		if err != nil {
			emit(ctx, out, streamItem{err: err})
			return
		}
		if done {
			break
		}
		frames.write(data)

		for {
			frame, ok := frames.nextFrame()
			if !ok {
				break
			}
			if !c.emitFrame(ctx, out, frame) {
				return
			}
		}
	}

	if rest := frames.rest(); len(rest) > 0 {
		c.emitFrame(ctx, out, rest)
	}
}

// emitFrame parses one SSE frame into a canonical chunk. It returns
// false when the stream should stop.
func (c *OpenAIClient) emitFrame(ctx context.Context, out chan streamItem, frame []byte) bool {
	data, ok := sseDataFromFrame(frame)
	if !ok {
		return true
	}
	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return true
	}
	if trimmed == "[DONE]" {
		return false
	}

	var chunk Chunk
	if err := json.Unmarshal([]byte(trimmed), &chunk); err != nil {
		emit(ctx, out, streamItem{err: fmt.Errorf("failed to parse JSON from SSE data: %w", err)})
		return false
	}
	observability.RecordStreamChunk("openai")
	return emit(ctx, out, streamItem{chunk: chunk})
}

// Chat runs a non-streaming completion and returns the message text.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (string, error) {
	msgs := c.applySystemPrompt(messages)
	body := buildChatCompletionsBody(c.model, msgs, false, tools)

	resp, err := sendFirstSuccessful(ctx, c.http, chatCompletionsURLCandidates(c.baseURL), c.apiKey, body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("LLM API error (%d): %s", resp.StatusCode, readErrorBody(resp))
	}
	defer resp.Body.Close()

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("LLM API response has no choices")
	}

	log.Debug().Str("model", c.model).Msg("chat completion finished")
	return parsed.Choices[0].Message.Content, nil
}
