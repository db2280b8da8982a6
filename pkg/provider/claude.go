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

// ClaudeClient talks to the Anthropic messages API and normalizes its
// typed SSE events into canonical chunks.
type ClaudeClient struct {
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	http         *http.Client
}

// NewClaudeClient creates a client for an Anthropic-compatible endpoint.
func NewClaudeClient(baseURL, apiKey, model string) *ClaudeClient {
	return &ClaudeClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    newHTTPClient(),
	}
}

// WithSystemPrompt sets the client-level system prompt. System messages
// in the conversation are appended after it.
func (c *ClaudeClient) WithSystemPrompt(prompt string) *ClaudeClient {
	c.systemPrompt = prompt
	return c
}

func (c *ClaudeClient) Model() string   { return c.model }
func (c *ClaudeClient) BaseURL() string { return c.baseURL }

func anthropicToolFromDefinition(def ToolDefinition) map[string]any {
	params := def.Function.Parameters
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	return map[string]any{
		"name":         def.Function.Name,
		"description":  def.Function.Description,
		"input_schema": params,
	}
}

// asBlockArray converts a message's content to block-array form so a
// further block can be appended.
func asBlockArray(entry map[string]any) []any {
	if arr, ok := entry["content"].([]any); ok {
		return arr
	}
	text, _ := entry["content"].(string)
	return []any{map[string]any{"type": "text", "text": text}}
}

// buildAnthropicMessages converts sentinel-encoded wire messages to
// the Anthropic block layout. Consecutive user content merges into one
// message because the API rejects adjacent same-role turns.
func buildAnthropicMessages(messages []Message, systemPrompt string) ([]map[string]any, string) {
	var out []map[string]any
	system := systemPrompt

	appendToLastUser := func(block any) bool {
		if len(out) == 0 {
			return false
		}
		last := out[len(out)-1]
		if last["role"] != "user" {
			return false
		}
		last["content"] = append(asBlockArray(last), block)
		return true
	}

	for _, msg := range messages {
		if msg.Role == "system" {
			if system == "" {
				system = msg.Content
			} else {
				system = system + "\n" + msg.Content
			}
			continue
		}

		if toolUseID, result, ok := ExtractToolResultJSON(msg.Content); ok {
			block := map[string]any{
				"type":        "tool_result",
				"tool_use_id": toolUseID,
				"content":     string(result),
			}
			if !appendToLastUser(block) {
				out = append(out, map[string]any{
					"role":    "user",
					"content": []any{block},
				})
			}
			continue
		}

		if msg.Role == "assistant" {
			if text, calls, ok := ExtractToolCalls(msg.Content); ok {
				var blocks []any
				if text != "" {
					blocks = append(blocks, map[string]any{"type": "text", "text": text})
				}
				for _, call := range calls {
					var input any = map[string]any{}
					if call.Arguments != "" {
						var parsed any
						if err := json.Unmarshal([]byte(call.Arguments), &parsed); err == nil {
							input = parsed
						}
					}
					blocks = append(blocks, map[string]any{
						"type":  "tool_use",
						"id":    call.ID,
						"name":  call.Name,
						"input": input,
					})
				}
				out = append(out, map[string]any{
					"role":    "assistant",
					"content": blocks,
				})
				continue
			}
			out = append(out, map[string]any{
				"role":    "assistant",
				"content": msg.Content,
			})
			continue
		}

		if msg.Role == "user" {
			block := map[string]any{"type": "text", "text": msg.Content}
			if appendToLastUser(block) {
				continue
			}
		}
		out = append(out, map[string]any{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}

	return out, system
}

func (c *ClaudeClient) requestBody(messages []Message, tools []ToolDefinition, stream bool) map[string]any {
	anthropicMessages, system := buildAnthropicMessages(messages, c.systemPrompt)

	body := map[string]any{
		"model":      c.model,
		"messages":   anthropicMessages,
		"stream":     stream,
		"max_tokens": 1024,
	}
	if system != "" {
		body["system"] = system
	}
	if len(tools) > 0 {
		converted := make([]any, 0, len(tools))
		for _, def := range tools {
			if def.Type != "function" {
				continue
			}
			converted = append(converted, anthropicToolFromDefinition(def))
		}
		if len(converted) > 0 {
			body["tools"] = converted
			body["tool_choice"] = map[string]any{"type": "auto"}
		}
	}
	return body
}

type claudeBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Text  string          `json:"text"`
	Input json.RawMessage `json:"input"`
}

type claudeDelta struct {
	Text           string          `json:"text"`
	PartialJSON    string          `json:"partial_json"`
	InputJSONDelta string          `json:"input_json_delta"`
	StopReason     json.RawMessage `json:"stop_reason"`
}

type claudeEvent struct {
	Type              string       `json:"type"`
	Index             *int         `json:"index"`
	ContentBlockIndex *int         `json:"content_block_index"`
	ContentBlock      *claudeBlock `json:"content_block"`
	Delta             *claudeDelta `json:"delta"`
	Message           *struct {
		Content []json.RawMessage `json:"content"`
	} `json:"message"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Choices json.RawMessage `json:"choices"`
	Data    json.RawMessage `json:"data"`
}

func (ev *claudeEvent) blockIndex() int {
	if ev.Index != nil {
		return *ev.Index
	}
	if ev.ContentBlockIndex != nil {
		return *ev.ContentBlockIndex
	}
	return 0
}

// inlineText probes the places Anthropic proxies put plain text.
func (ev *claudeEvent) inlineText() string {
	if ev.Delta != nil && ev.Delta.Text != "" {
		return ev.Delta.Text
	}
	if ev.ContentBlock != nil && ev.ContentBlock.Text != "" {
		return ev.ContentBlock.Text
	}
	if ev.Message != nil && len(ev.Message.Content) > 0 {
		var first struct {
			Text json.RawMessage `json:"text"`
		}
		if err := json.Unmarshal(ev.Message.Content[0], &first); err == nil && len(first.Text) > 0 {
			var s string
			if err := json.Unmarshal(first.Text, &s); err == nil {
				return s
			}
			var nested struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(first.Text, &nested); err == nil {
				return nested.Text
			}
		}
	}
	return ""
}

// decodeClaudeEvent parses one SSE data payload, unwrapping proxies
// that nest the real event under a "data" field.
func decodeClaudeEvent(data string) (*claudeEvent, error) {
	var ev claudeEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return nil, err
	}
	if ev.Type == "" && ev.Choices == nil && len(ev.Data) > 0 {
		var inner string
		if err := json.Unmarshal(ev.Data, &inner); err == nil {
			var unwrapped claudeEvent
			if err := json.Unmarshal([]byte(inner), &unwrapped); err == nil {
				return &unwrapped, nil
			}
			return &ev, nil
		}
		var unwrapped claudeEvent
		if err := json.Unmarshal(ev.Data, &unwrapped); err == nil {
			return &unwrapped, nil
		}
	}
	return &ev, nil
}

type claudeToolRef struct {
	index int
	id    string
	name  string
}

// claudeStreamState tracks normalization progress across one stream
// and powers the end-of-stream diagnostics.
type claudeStreamState struct {
	toolIndexCounter int
	toolByBlock      map[int]claudeToolRef

	chunkCount   int
	totalBytes   int
	parseErrors  int
	sawAnyEvent  bool
	emittedAny   bool
	lastSeenType string
}

func newClaudeStreamState() *claudeStreamState {
	return &claudeStreamState{toolByBlock: make(map[int]claudeToolRef)}
}

// chunksFor maps one SSE data payload to zero or more canonical
// chunks. stop reports that the stream is complete.
func (st *claudeStreamState) chunksFor(data string) (chunks []Chunk, stop bool) {
	st.chunkCount++
	st.totalBytes += len(data)

	trimmed := strings.TrimSpace(data)
	if trimmed == "[DONE]" {
		st.emittedAny = true
		return []Chunk{stopChunk()}, true
	}

	ev, err := decodeClaudeEvent(trimmed)
	if err != nil {
		st.parseErrors++
		if trimmed != "" {
			// Proxies sometimes hand back plain text; surface it.
			st.sawAnyEvent = true
			st.emittedAny = true
			return []Chunk{textChunk(trimmed)}, false
		}
		return nil, false
	}
	st.sawAnyEvent = true

	if ev.Choices != nil {
		var chunk Chunk
		if err := json.Unmarshal([]byte(`{"choices":`+string(ev.Choices)+`}`), &chunk); err == nil {
			st.emittedAny = true
			return []Chunk{chunk}, false
		}
		return nil, false
	}

	if ev.Type != "" {
		st.lastSeenType = ev.Type
	}

	switch ev.Type {
	case "message_start":
		if text := ev.inlineText(); text != "" {
			st.emittedAny = true
			return []Chunk{textChunk(text)}, false
		}
		return nil, false

	case "content_block_start":
		return st.chunksForBlockStart(ev), false

	case "content_block_delta":
		return st.chunksForBlockDelta(ev), false

	case "content_block_stop":
		return nil, false

	case "message_delta":
		if ev.Delta != nil && len(ev.Delta.StopReason) > 0 && string(ev.Delta.StopReason) != "null" {
			st.emittedAny = true
			return []Chunk{stopChunk()}, true
		}
		return nil, false

	case "message_stop":
		st.emittedAny = true
		return []Chunk{stopChunk()}, true

	case "error":
		msg := "Unknown API error"
		errType := "error"
		if ev.Error != nil {
			if ev.Error.Message != "" {
				msg = ev.Error.Message
			}
			if ev.Error.Type != "" {
				errType = ev.Error.Type
			}
		}
		log.Warn().Str("error_type", errType).Str("message", msg).Msg("Claude API stream error")
		st.emittedAny = true
		errorContent := fmt.Sprintf("\n\n⚠️ **API Error** (%s): %s\n", errType, msg)
		return []Chunk{textChunk(errorContent), stopChunk()}, true

	default:
		if text := ev.inlineText(); text != "" {
			st.emittedAny = true
			return []Chunk{textChunk(text)}, false
		}
		return nil, false
	}
}

func (st *claudeStreamState) chunksForBlockStart(ev *claudeEvent) []Chunk {
	if ev.ContentBlock == nil {
		return nil
	}
	switch ev.ContentBlock.Type {
	case "text":
		if ev.ContentBlock.Text != "" {
			st.emittedAny = true
			return []Chunk{textChunk(ev.ContentBlock.Text)}
		}
		return nil

	case "tool_use":
		name := ev.ContentBlock.Name
		if name == "" {
			name = "unknown"
		}
		ref := claudeToolRef{
			index: st.toolIndexCounter,
			id:    ev.ContentBlock.ID,
			name:  name,
		}
		st.toolIndexCounter++
		st.toolByBlock[ev.blockIndex()] = ref

		st.emittedAny = true
		chunks := []Chunk{toolCallChunk(ref.index, ref.id, ref.name, "")}

		if args := argsFromBlockInput(ev.ContentBlock.Input); args != "" {
			st.emittedAny = true
			chunks = append(chunks, toolCallChunk(ref.index, ref.id, ref.name, args))
		}
		return chunks
	}
	return nil
}

// argsFromBlockInput renders a non-trivial content_block_start input
// as an arguments payload. Empty objects are skipped since the deltas
// that follow carry the real arguments.
func argsFromBlockInput(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(input, &obj); err == nil && len(obj) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(input, &s); err == nil {
		if s == "" || s == "null" || s == "{}" {
			return ""
		}
		return s
	}
	args := string(input)
	if args == "null" || args == "{}" {
		return ""
	}
	return args
}

func (st *claudeStreamState) chunksForBlockDelta(ev *claudeEvent) []Chunk {
	if ev.Delta == nil {
		return nil
	}
	var chunks []Chunk
	if ev.Delta.Text != "" {
		st.emittedAny = true
		chunks = append(chunks, textChunk(ev.Delta.Text))
	}

	argsChunk := ev.Delta.PartialJSON
	if argsChunk == "" {
		argsChunk = ev.Delta.InputJSONDelta
	}
	if argsChunk != "" {
		if ref, ok := st.toolByBlock[ev.blockIndex()]; ok {
			st.emittedAny = true
			chunks = append(chunks, toolCallChunk(ref.index, ref.id, ref.name, argsChunk))
		}
	}
	return chunks
}

// finalError builds the zero-chunk diagnostic when a stream ended
// without emitting anything usable.
func (st *claudeStreamState) finalError() error {
	t := st.lastSeenType
	if t == "" {
		t = "unknown"
	}
	if st.chunkCount == 0 {
		return fmt.Errorf(
			"Claude stream ended without any chunks. Possible causes: API timeout, network interruption, or API error. Last event type: %s", t)
	}
	if st.totalBytes == 0 {
		return fmt.Errorf(
			"Claude stream received %d empty chunks. Possible causes: API returned no data, or connection was closed prematurely. Last event type: %s",
			st.chunkCount, t)
	}
	return fmt.Errorf(
		"Claude stream ended without usable chunks (received %d chunks, %d bytes, %d parse errors). Last event type: %s. This may indicate API timeout or malformed response",
		st.chunkCount, st.totalBytes, st.parseErrors, t)
}

// StreamChat starts a streaming completion against the messages API.
func (c *ClaudeClient) StreamChat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Stream, error) {
	url := strings.TrimRight(c.baseURL, "/") + "/v1/messages"
	body := c.requestBody(messages, tools, true)

	resp, err := postJSON(ctx, c.http, url, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
		"accept":            "text/event-stream",
	}, body)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to LLM API (%s): %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := resp.StatusCode
		errorText := readErrorBody(resp)
		log.Error().Int("status", status).Str("body", errorText).Msg("Claude API error")
		return nil, fmt.Errorf("Anthropic API error (%d): %s", status, errorText)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s, out := newStream(func() {
		cancel()
		resp.Body.Close()
	})
	go c.normalize(streamCtx, resp.Body, out)
	return s, nil
}

func (c *ClaudeClient) normalize(ctx context.Context, body io.ReadCloser, out chan streamItem) {
	defer close(out)
	defer body.Close()

	raw := readBody(body)
	timer := time.NewTimer(chunkReadTimeout)
	defer timer.Stop()

	st := newClaudeStreamState()
	var frames frameBuffer

	emitData := func(data string) (stop bool) {
		chunks, stop := st.chunksFor(data)
		for _, chunk := range chunks {
			observability.RecordStreamChunk("claude")
			if !emit(ctx, out, streamItem{chunk: chunk}) {
				return true
			}
		}
		return stop
	}

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
			if data, ok := sseDataFromFrame(frame); ok {
				if emitData(data) {
					return
				}
			}
		}
	}

	// Flush the trailing partial frame. A non-SSE remainder is treated
	// as raw text so proxy error bodies still reach the caller.
	if rest := frames.rest(); len(rest) > 0 {
		if data, ok := sseDataFromFrame(rest); ok {
			if emitData(data) {
				return
			}
		} else if trimmed := strings.TrimSpace(string(rest)); trimmed != "" {
			if emitData(trimmed) {
				return
			}
		}
	}

	if !st.emittedAny {
		if st.sawAnyEvent {
			log.Warn().Msg("Claude stream had events but nothing was emitted, sending stop signal")
			emit(ctx, out, streamItem{chunk: stopChunk()})
		} else {
			err := st.finalError()
			log.Error().Err(err).Msg("Claude stream produced no chunks")
			emit(ctx, out, streamItem{err: err})
		}
	}
}

// Chat runs a non-streaming completion and returns the joined text of
// the response content blocks.
func (c *ClaudeClient) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (string, error) {
	url := strings.TrimRight(c.baseURL, "/") + "/v1/messages"
	body := c.requestBody(messages, tools, false)

	resp, err := postJSON(ctx, c.http, url, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}, body)
	if err != nil {
		return "", fmt.Errorf("failed to send request to LLM API (%s): %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("Anthropic API error (%d): %s", resp.StatusCode, readErrorBody(resp))
	}
	defer resp.Body.Close()

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
