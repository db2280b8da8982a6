package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carrydev/carrycode/internal/observability"
)

// GeminiClient talks to the Gemini generateContent API. Streamed
// responses arrive as SSE frames or as an incrementally delivered JSON
// array; both paths funnel through the same event mapper.
type GeminiClient struct {
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	http         *http.Client
}

// NewGeminiClient creates a client for a Gemini-compatible endpoint.
func NewGeminiClient(baseURL, apiKey, model string) *GeminiClient {
	return &GeminiClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    newHTTPClient(),
	}
}

// WithSystemPrompt sets the system instruction for requests.
func (c *GeminiClient) WithSystemPrompt(prompt string) *GeminiClient {
	c.systemPrompt = prompt
	return c
}

func (c *GeminiClient) Model() string   { return c.model }
func (c *GeminiClient) BaseURL() string { return c.baseURL }

type geminiEvent struct {
	Choices      json.RawMessage `json:"choices"`
	FinishReason string          `json:"finishReason"`
	FinishSnake  string          `json:"finish_reason"`
	Candidates   []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// looksSSEFramed reports whether the buffered bytes start with an SSE
// field line rather than bare JSON.
func looksSSEFramed(buf []byte) bool {
	trimmed := bytes.TrimLeft(buf, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte("data:")) ||
		bytes.HasPrefix(trimmed, []byte("event:")) ||
		bytes.HasPrefix(trimmed, []byte(":"))
}

// chunkFromGeminiEvent maps one Gemini event object to a canonical
// chunk. ok is false when the event carries nothing emittable.
func chunkFromGeminiEvent(raw json.RawMessage) (Chunk, bool) {
	var ev geminiEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Chunk{}, false
	}

	if ev.Choices != nil {
		var chunk Chunk
		if err := json.Unmarshal(raw, &chunk); err == nil {
			return chunk, true
		}
		return Chunk{}, false
	}

	finish := ev.FinishReason
	if finish == "" {
		finish = ev.FinishSnake
	}
	if strings.EqualFold(finish, "stop") {
		return stopChunk(), true
	}

	if len(ev.Candidates) > 0 && len(ev.Candidates[0].Content.Parts) > 0 {
		if text := ev.Candidates[0].Content.Parts[0].Text; text != "" {
			return textChunk(text), true
		}
	}
	return Chunk{}, false
}

func (c *GeminiClient) requestBody(messages []Message) map[string]any {
	var contents []map[string]any
	var systemInstruction map[string]any

	if c.systemPrompt != "" {
		systemInstruction = map[string]any{
			"parts": []map[string]any{{"text": c.systemPrompt}},
		}
	}

	for _, msg := range messages {
		if msg.Role == "system" {
			systemInstruction = map[string]any{
				"parts": []map[string]any{{"text": msg.Content}},
			}
			continue
		}
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": msg.Content}},
		})
	}

	body := map[string]any{"contents": contents}
	if systemInstruction != nil {
		body["systemInstruction"] = systemInstruction
	}
	return body
}

// StreamChat starts a streaming completion. Tool definitions are not
// forwarded; tool traffic reaches Gemini as flattened sentinel text.
func (c *GeminiClient) StreamChat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Stream, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?key=%s",
		strings.TrimRight(c.baseURL, "/"), c.model, c.apiKey)

	resp, err := postJSON(ctx, c.http, url, map[string]string{
		"accept": "text/event-stream",
	}, c.requestBody(messages))
	if err != nil {
		return nil, fmt.Errorf("failed to send request to LLM API (%s): %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("Gemini API error (%d): %s", resp.StatusCode, readErrorBody(resp))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s, out := newStream(func() {
		cancel()
		resp.Body.Close()
	})
	go c.normalize(streamCtx, resp.Body, out)
	return s, nil
}

func (c *GeminiClient) normalize(ctx context.Context, body io.ReadCloser, out chan streamItem) {
	defer close(out)
	defer body.Close()

	raw := readBody(body)
	timer := time.NewTimer(chunkReadTimeout)
	defer timer.Stop()

	var buf []byte

	// emitParsed fans an array or single event out as chunks.
	// It reports whether the stream should stop.
	emitParsed := func(parsed json.RawMessage) (stop bool, halted bool) {
		events := []json.RawMessage{parsed}
		trimmed := bytes.TrimSpace(parsed)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var arr []json.RawMessage
			if err := json.Unmarshal(trimmed, &arr); err == nil {
				events = arr
			}
		}
		for _, ev := range events {
			chunk, ok := chunkFromGeminiEvent(ev)
			if !ok {
				continue
			}
			observability.RecordStreamChunk("gemini")
			if !emit(ctx, out, streamItem{chunk: chunk}) {
				return false, true
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].FinishReason == "stop" {
				return true, false
			}
		}
		return false, false
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
		buf = append(buf, data...)

		// SSE-framed responses first. NDJSON bodies skip the frame
		// scan entirely so a blank line between objects cannot consume
		// a frame that carries no data: lines.
		if looksSSEFramed(buf) {
			frames := frameBuffer{buf: buf}
			for {
				frame, ok := frames.nextFrame()
				if !ok {
					break
				}
				data, ok := sseDataFromFrame(frame)
				if !ok {
					continue
				}
				trimmed := strings.TrimSpace(data)
				if trimmed == "" {
					continue
				}
				if trimmed == "[DONE]" {
					emit(ctx, out, streamItem{chunk: stopChunk()})
					return
				}
				if json.Valid([]byte(trimmed)) {
					if stop, halted := emitParsed(json.RawMessage(trimmed)); stop || halted {
						return
					}
				}
			}
			buf = frames.buf
		}

		// Then newline-delimited JSON, re-buffering incomplete lines.
		for {
			pos := bytes.IndexByte(buf, '\n')
			if pos < 0 {
				break
			}
			line := bytes.TrimSpace(buf[:pos])
			rest := buf[pos+1:]
			if len(line) == 0 {
				buf = rest
				continue
			}
			if !json.Valid(line) {
				break
			}
			buf = rest
			if stop, halted := emitParsed(json.RawMessage(line)); stop || halted {
				return
			}
		}
	}

	// Final flush: the whole remainder may be one complete JSON array.
	if trimmed := bytes.TrimSpace(buf); len(trimmed) > 0 && json.Valid(trimmed) {
		emitParsed(json.RawMessage(trimmed))
	}
}

// Chat runs a non-streaming completion and returns the first
// candidate's text.
func (c *GeminiClient) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(c.baseURL, "/"), c.model, c.apiKey)

	resp, err := postJSON(ctx, c.http, url, nil, c.requestBody(messages))
	if err != nil {
		return "", fmt.Errorf("failed to send request to LLM API (%s): %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("Gemini API error (%d): %s", resp.StatusCode, readErrorBody(resp))
	}
	defer resp.Body.Close()

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("Gemini API response has no candidates")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
