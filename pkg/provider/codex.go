package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carrydev/carrycode/internal/observability"
)

// CodexClient talks to a task-oriented agent endpoint speaking the
// event:/data: SSE dialect. The conversation is flattened into one
// task string; tool calls come back untyped and get synthetic ids.
type CodexClient struct {
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	http         *http.Client
}

// NewCodexClient creates a client for a Codex-style endpoint.
func NewCodexClient(baseURL, apiKey, model string) *CodexClient {
	return &CodexClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    newHTTPClient(),
	}
}

// WithSystemPrompt sets the text prepended to the flattened task.
func (c *CodexClient) WithSystemPrompt(prompt string) *CodexClient {
	c.systemPrompt = prompt
	return c
}

func (c *CodexClient) Model() string   { return c.model }
func (c *CodexClient) BaseURL() string { return c.baseURL }

func codexURLCandidates(baseURL string) []string {
	base := strings.TrimRight(baseURL, "/")
	return []string{
		base + "/v1/codex",
		base + "/v1/agent",
		base + "/codex",
		base + "/agent",
	}
}

// messagesToTask flattens the conversation into one prompt string.
// System content leads, then each turn as "role: content".
func (c *CodexClient) messagesToTask(messages []Message) string {
	var sb strings.Builder
	if sys := strings.TrimSpace(c.systemPrompt); sys != "" {
		sb.WriteString(sys)
		sb.WriteString("\n\n")
	}
	for _, msg := range messages {
		if msg.Role == "system" {
			if content := strings.TrimSpace(msg.Content); content != "" {
				sb.WriteString(content)
				sb.WriteString("\n\n")
			}
			continue
		}
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// chunkFromCodexEvent maps one parsed event:/data: pair to a canonical
// chunk. ok is false for empty or unknown events; stop marks the end.
func chunkFromCodexEvent(event, data string, toolCallIndex *int) (chunk Chunk, ok bool, stop bool) {
	if strings.TrimSpace(data) == "[DONE]" {
		return stopChunk(), true, true
	}

	var payload struct {
		Text    string          `json:"text"`
		Content string          `json:"content"`
		File    string          `json:"file"`
		Patch   string          `json:"patch"`
		Name    string          `json:"name"`
		Args    json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return Chunk{}, false, false
	}

	switch event {
	case "text_delta":
		if payload.Text == "" {
			return Chunk{}, false, false
		}
		return textChunk(payload.Text), true, false

	case "thought":
		if payload.Content == "" {
			return Chunk{}, false, false
		}
		return reasoningChunk(payload.Content), true, false

	case "diff":
		if payload.File == "" {
			return Chunk{}, false, false
		}
		text := fmt.Sprintf("--- %s ---\n%s", payload.File, payload.Patch)
		return textChunk(text), true, false

	case "tool_call":
		if payload.Name == "" {
			return Chunk{}, false, false
		}
		args := string(payload.Args)
		if args == "" {
			args = "{}"
		}
		idx := *toolCallIndex
		*toolCallIndex++
		id := fmt.Sprintf("codex_tool_%d", idx)
		return toolCallChunk(idx, id, payload.Name, args), true, false

	case "done":
		return stopChunk(), true, true
	}
	return Chunk{}, false, false
}

// StreamChat starts a streaming task against the first reachable
// endpoint candidate.
func (c *CodexClient) StreamChat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Stream, error) {
	task := c.messagesToTask(messages)
	body := map[string]any{
		"stream": true,
		"task":   task,
		"capabilities": map[string]any{
			"diff":      true,
			"tool_call": true,
		},
	}

	var resp *http.Response
	var lastErr error
	for _, url := range codexURLCandidates(c.baseURL) {
		r, err := postJSON(ctx, c.http, url, map[string]string{
			"authorization": "Bearer " + c.apiKey,
			"accept":        "text/event-stream",
		}, body)
		if err != nil {
			lastErr = fmt.Errorf("failed to send request to LLM API (%s): %w", url, err)
			continue
		}
		resp = r
		break
	}
	if resp == nil {
		if lastErr == nil {
			lastErr = fmt.Errorf("failed to send request to LLM API")
		}
		return nil, lastErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("Codex API error (%d): %s", resp.StatusCode, readErrorBody(resp))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s, out := newStream(func() {
		cancel()
		resp.Body.Close()
	})
	go c.normalize(streamCtx, resp.Body, out)
	return s, nil
}

func (c *CodexClient) normalize(ctx context.Context, body io.ReadCloser, out chan streamItem) {
	defer close(out)
	defer body.Close()

	raw := readBody(body)
	timer := time.NewTimer(chunkReadTimeout)
	defer timer.Stop()

	var frames frameBuffer
	toolCallIndex := 0

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
			event, data, ok := sseEventFromFrame(frame)
			if !ok {
				continue
			}
			chunk, ok, stop := chunkFromCodexEvent(event, data, &toolCallIndex)
			if ok {
				observability.RecordStreamChunk("codex")
				if !emit(ctx, out, streamItem{chunk: chunk}) {
					return
				}
			}
			if stop {
				return
			}
		}
	}

	// Natural EOF without a done event still ends the turn cleanly.
	emit(ctx, out, streamItem{chunk: stopChunk()})
}

// Chat aggregates a streaming run into the final text.
func (c *CodexClient) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (string, error) {
	stream, err := c.StreamChat(ctx, messages, tools)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		sb.WriteString(chunk.Choices[0].Delta.Content)
		if chunk.Choices[0].FinishReason == "stop" {
			break
		}
	}
	return sb.String(), nil
}
