package agent

import (
	"encoding/json"

	"github.com/carrydev/carrycode/pkg/provider"
)

// rawOrString keeps already-encoded JSON payloads from being quoted a
// second time on export.
func rawOrString(s string) any {
	raw := json.RawMessage(s)
	if json.Valid(raw) {
		return raw
	}
	return s
}

// EntryKind discriminates conversation history entries.
type EntryKind string

const (
	EntryText       EntryKind = "text"
	EntryToolCalls  EntryKind = "tool_calls"
	EntryToolResult EntryKind = "tool_result"
)

// Entry is one conversation turn. Tool calls and tool results are
// first-class variants here; the sentinel text encoding exists only at
// the provider and persistence boundary.
type Entry struct {
	Kind             EntryKind
	Role             string
	Content          string
	ReasoningContent string
	Calls            []provider.SentinelToolCall
	ToolCallID       string
	Result           string
}

// History holds the ordered conversation for one agent.
type History struct {
	entries []Entry
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{}
}

// AppendText adds a plain text message.
func (h *History) AppendText(role, content string) {
	h.entries = append(h.entries, Entry{Kind: EntryText, Role: role, Content: content})
}

// AppendAssistant adds a final assistant answer.
func (h *History) AppendAssistant(content, reasoning string) {
	h.entries = append(h.entries, Entry{
		Kind:             EntryText,
		Role:             "assistant",
		Content:          content,
		ReasoningContent: reasoning,
	})
}

// AppendToolCalls adds an assistant turn that requested tool calls.
func (h *History) AppendToolCalls(content string, calls []provider.SentinelToolCall) {
	h.entries = append(h.entries, Entry{Kind: EntryToolCalls, Role: "assistant", Content: content, Calls: calls})
}

// AppendToolResult adds a tool result addressed to a tool call id. An
// empty id falls back to the generic result encoding on export.
func (h *History) AppendToolResult(toolCallID, result string) {
	h.entries = append(h.entries, Entry{Kind: EntryToolResult, Role: "user", ToolCallID: toolCallID, Result: result})
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Clear drops all entries.
func (h *History) Clear() {
	h.entries = nil
}

// Entries returns a copy of the entries.
func (h *History) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Messages serializes the history to the sentinel text form consumed
// by provider clients and the snapshot store.
func (h *History) Messages() []provider.Message {
	msgs := make([]provider.Message, 0, len(h.entries))
	for _, e := range h.entries {
		switch e.Kind {
		case EntryToolCalls:
			msgs = append(msgs, provider.Message{
				Role:    "assistant",
				Content: provider.EncodeToolCalls(e.Content, e.Calls),
			})
		case EntryToolResult:
			content := ""
			if e.ToolCallID != "" {
				content = provider.EncodeToolResultJSON(e.ToolCallID, rawOrString(e.Result))
			} else {
				content = provider.ToolResultSentinel + e.Result
			}
			msgs = append(msgs, provider.Message{Role: "user", Content: content})
		default:
			msgs = append(msgs, provider.Message{
				Role:             e.Role,
				Content:          e.Content,
				ReasoningContent: e.ReasoningContent,
			})
		}
	}
	return msgs
}

// ImportMessages replaces the history with entries decoded from the
// sentinel text form. The round trip preserves tool name, id, and
// arguments.
func (h *History) ImportMessages(msgs []provider.Message) {
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "assistant" {
			if text, calls, ok := provider.ExtractToolCalls(m.Content); ok {
				entries = append(entries, Entry{Kind: EntryToolCalls, Role: "assistant", Content: text, Calls: calls})
				continue
			}
		}
		if m.Role == "user" {
			if id, result, ok := provider.ExtractToolResultJSON(m.Content); ok {
				entries = append(entries, Entry{Kind: EntryToolResult, Role: "user", ToolCallID: id, Result: string(result)})
				continue
			}
			if body, ok := provider.ExtractToolResult(m.Content); ok {
				entries = append(entries, Entry{Kind: EntryToolResult, Role: "user", Result: body})
				continue
			}
		}
		entries = append(entries, Entry{
			Kind:             EntryText,
			Role:             m.Role,
			Content:          m.Content,
			ReasoningContent: m.ReasoningContent,
		})
	}
	h.entries = entries
}
