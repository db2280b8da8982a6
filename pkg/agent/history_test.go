package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrydev/carrycode/pkg/provider"
)

func TestHistoryTextEntries(t *testing.T) {
	h := NewHistory()
	h.AppendText("user", "hello")
	h.AppendAssistant("hi there", "thinking about it")

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, provider.Message{Role: "user", Content: "hello"}, msgs[0])
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "hi there", msgs[1].Content)
	assert.Equal(t, "thinking about it", msgs[1].ReasoningContent)
}

func TestHistoryToolCallRoundTrip(t *testing.T) {
	h := NewHistory()
	calls := []provider.SentinelToolCall{
		{ID: "call_1", Name: "grep", Arguments: `{"pattern":"x"}`},
		{ID: "call_2", Name: "bash", Arguments: `{"command":"ls"}`},
	}
	h.AppendToolCalls("let me look", calls)
	h.AppendToolResult("call_1", `{"version":1,"success":true}`)

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, strings.Contains(msgs[0].Content, provider.ToolCallsSentinel))
	assert.True(t, strings.HasPrefix(msgs[1].Content, provider.ToolResultJSONSentinel))

	restored := NewHistory()
	restored.ImportMessages(msgs)
	entries := restored.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, EntryToolCalls, entries[0].Kind)
	assert.Equal(t, "let me look", entries[0].Content)
	assert.Equal(t, calls, entries[0].Calls)
	assert.Equal(t, EntryToolResult, entries[1].Kind)
	assert.Equal(t, "call_1", entries[1].ToolCallID)
	assert.JSONEq(t, `{"version":1,"success":true}`, entries[1].Result)
}

func TestHistoryToolResultWithoutID(t *testing.T) {
	h := NewHistory()
	h.AppendToolResult("", `{"stdout":"done"}`)

	msgs := h.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0].Content, provider.ToolResultSentinel))

	restored := NewHistory()
	restored.ImportMessages(msgs)
	entries := restored.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, EntryToolResult, entries[0].Kind)
	assert.Empty(t, entries[0].ToolCallID)
	assert.JSONEq(t, `{"stdout":"done"}`, entries[0].Result)
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory()
	h.AppendText("user", "a")
	h.AppendText("assistant", "b")
	assert.Equal(t, 2, h.Len())
	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Messages())
}
