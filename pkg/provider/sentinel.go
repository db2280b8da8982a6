package provider

import (
	"encoding/json"
	"strings"
)

// Sentinel prefixes embed tool traffic inside plain-text message
// content so one Message shape round-trips through every provider.
const (
	// ToolCallsSentinel marks an assistant message carrying tool calls.
	ToolCallsSentinel = "ToolCallsJSON:"
	// ToolResultSentinel marks a generic tool result payload.
	ToolResultSentinel = "ToolResult:\n"
	// ToolResultJSONSentinel marks a tool result paired to a tool_use id.
	ToolResultJSONSentinel = "ToolResultJSON:"
)

// SentinelToolCall is one completed tool call as embedded in an
// assistant message after the ToolCallsJSON sentinel.
type SentinelToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ExtractToolCalls splits an assistant message into its leading text
// and the embedded tool calls. ok is false when no valid sentinel is
// present.
func ExtractToolCalls(content string) (text string, calls []SentinelToolCall, ok bool) {
	pos := strings.Index(content, ToolCallsSentinel)
	if pos < 0 {
		return "", nil, false
	}
	jsonStr := content[pos+len(ToolCallsSentinel):]
	if err := json.Unmarshal([]byte(jsonStr), &calls); err != nil {
		return "", nil, false
	}
	return strings.TrimSpace(content[:pos]), calls, true
}

// EncodeToolCalls appends the tool-call sentinel to the assistant text.
func EncodeToolCalls(text string, calls []SentinelToolCall) string {
	data, err := json.Marshal(calls)
	if err != nil {
		return text
	}
	if text == "" {
		return ToolCallsSentinel + string(data)
	}
	return text + "\n\n" + ToolCallsSentinel + string(data)
}

// ExtractToolResultJSON parses a ToolResultJSON message into its
// tool_use id and result payload.
func ExtractToolResultJSON(content string) (toolUseID string, result json.RawMessage, ok bool) {
	rest, found := strings.CutPrefix(content, ToolResultJSONSentinel)
	if !found {
		return "", nil, false
	}
	var payload struct {
		ToolUseID string          `json:"tool_use_id"`
		Result    json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal([]byte(rest), &payload); err != nil {
		return "", nil, false
	}
	if payload.ToolUseID == "" {
		return "", nil, false
	}
	result = payload.Result
	if len(result) == 0 {
		result = json.RawMessage("{}")
	}
	return payload.ToolUseID, result, true
}

// EncodeToolResultJSON builds a ToolResultJSON user message body.
func EncodeToolResultJSON(toolUseID string, result any) string {
	payload := map[string]any{
		"tool_use_id": toolUseID,
		"result":      result,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ToolResultJSONSentinel + `{"tool_use_id":"` + toolUseID + `","result":{}}`
	}
	return ToolResultJSONSentinel + string(data)
}

// ExtractToolResult returns the body of a generic ToolResult message.
func ExtractToolResult(content string) (body string, ok bool) {
	return strings.CutPrefix(content, ToolResultSentinel)
}

// EncodeToolResult builds a generic ToolResult user message body from
// a JSON-marshalable payload, pretty-printed for model readability.
func EncodeToolResult(result any) string {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return ToolResultSentinel + "{}"
	}
	return ToolResultSentinel + string(data)
}
