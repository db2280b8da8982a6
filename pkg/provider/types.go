package provider

import (
	"context"
	"strings"
)

// Message is the wire and persistence form of one conversation turn.
// Tool calls and tool results ride inside Content using the sentinel
// encodings (see sentinel.go).
type Message struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// Chunk is the canonical streaming delta shape every provider client
// normalizes into. It mirrors the OpenAI chat-completion chunk layout.
type Chunk struct {
	Choices []Choice `json:"choices"`
}

// Choice is one choice slot of a chunk. Only index 0 is ever populated.
type Choice struct {
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Delta carries the incremental payload of a chunk.
type Delta struct {
	Content          string          `json:"content,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is a fragment of one in-progress tool call. Fragments
// sharing an Index belong to the same call; Arguments accumulate by
// string concatenation in arrival order.
type ToolCallDelta struct {
	Index    int           `json:"index"`
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type,omitempty"`
	Function FunctionDelta `json:"function"`
}

// FunctionDelta carries the function name and an argument fragment.
type FunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// ToolDefinition is an OpenAI-style function tool declaration.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction declares one callable function and its JSON schema.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Client is a provider-specific chat client producing canonical chunks.
type Client interface {
	// StreamChat starts a streaming completion. The returned stream
	// yields canonical chunks and io.EOF when the stream is done.
	StreamChat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Stream, error)

	// Chat runs a non-streaming completion and returns the full text.
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (string, error)

	// Model returns the model name this client targets.
	Model() string

	// BaseURL returns the endpoint base URL this client targets.
	BaseURL() string
}

// IsTerminalFinishReason reports whether a finish reason ends the
// agent loop ("stop" or "end", case-insensitive).
func IsTerminalFinishReason(reason string) bool {
	switch strings.ToLower(reason) {
	case "stop", "end":
		return true
	}
	return false
}

func textChunk(text string) Chunk {
	return Chunk{Choices: []Choice{{Delta: Delta{Content: text}}}}
}

func reasoningChunk(text string) Chunk {
	return Chunk{Choices: []Choice{{Delta: Delta{ReasoningContent: text}}}}
}

func stopChunk() Chunk {
	return Chunk{Choices: []Choice{{Delta: Delta{Content: ""}, FinishReason: "stop"}}}
}

func toolCallChunk(index int, id, name, arguments string) Chunk {
	return Chunk{Choices: []Choice{{Delta: Delta{ToolCalls: []ToolCallDelta{{
		Index: index,
		ID:    id,
		Type:  "function",
		Function: FunctionDelta{
			Name:      name,
			Arguments: arguments,
		},
	}}}}}}
}
