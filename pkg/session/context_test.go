package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrydev/carrycode/pkg/tool"
)

type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *collectSink) Handle(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collectSink) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collectSink) byType(et EventType) []Event {
	var out []Event
	for _, e := range c.snapshot() {
		if e.EventType == et {
			out = append(out, e)
		}
	}
	return out
}

func TestEmitAssignsMonotonicSeq(t *testing.T) {
	sctx := newContext("sess_x", nil, ModeBuild, ApprovalAgent)
	sink := &collectSink{}
	sctx.SetEventSink(sink)

	sctx.emit(Event{EventType: EventText, Text: "a"})
	sctx.emit(Event{EventType: EventText, Text: "b"})
	sctx.emit(Event{EventType: EventEnd})

	events := sink.snapshot()
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, ProtocolVersion, e.ProtocolVersion)
		assert.Equal(t, "sess_x", e.SessionID)
		assert.Positive(t, e.TsMs)
	}
}

func TestEmitWithoutSinkIsDropped(t *testing.T) {
	sctx := newContext("sess_x", nil, ModeBuild, ApprovalAgent)
	sctx.emit(Event{EventType: EventText, Text: "nobody listening"})

	sink := &collectSink{}
	sctx.SetEventSink(sink)
	sctx.emit(Event{EventType: EventText})
	require.Len(t, sink.snapshot(), 1)
	assert.Equal(t, int64(1), sink.snapshot()[0].Seq)
}

func TestSetEventSinkResetsSeq(t *testing.T) {
	sctx := newContext("sess_x", nil, ModeBuild, ApprovalAgent)
	sctx.SetEventSink(&collectSink{})
	sctx.emit(Event{EventType: EventText})
	sctx.emit(Event{EventType: EventText})

	sink := &collectSink{}
	sctx.SetEventSink(sink)
	sctx.emit(Event{EventType: EventText})
	assert.Equal(t, int64(1), sink.snapshot()[0].Seq)
}

func TestConfirmationCache(t *testing.T) {
	sctx := newContext("sess_x", nil, ModeBuild, ApprovalReadOnly)
	assert.False(t, sctx.allowedForSession("bash", "ls"))

	sctx.cacheAllowForSession("bash", "ls")
	assert.True(t, sctx.allowedForSession("bash", "ls"))
	assert.False(t, sctx.allowedForSession("bash", "rm -rf"))
	assert.False(t, sctx.allowedForSession("edit", "ls"))
}

func TestPendingReplaceResolvesOldAsDenial(t *testing.T) {
	sctx := newContext("sess_x", nil, ModeBuild, ApprovalReadOnly)

	first := newPendingConfirmation("bash", "ls")
	sctx.setPending(first)
	second := newPendingConfirmation("bash", "rm")
	sctx.setPending(second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Equal(t, DecisionDeny, first.await(ctx))

	assert.Nil(t, sctx.takePending(first.requestID))
	require.NotNil(t, sctx.takePending(second.requestID))
}

func TestTakePendingRequiresMatchingID(t *testing.T) {
	sctx := newContext("sess_x", nil, ModeBuild, ApprovalReadOnly)
	p := newPendingConfirmation("bash", "ls")
	sctx.setPending(p)

	assert.Nil(t, sctx.takePending("req_wrong"))
	require.NotNil(t, sctx.takePending(p.requestID))
	assert.Nil(t, sctx.takePending(p.requestID))
}

func TestClearPendingDenies(t *testing.T) {
	sctx := newContext("sess_x", nil, ModeBuild, ApprovalReadOnly)
	p := newPendingConfirmation("bash", "ls")
	sctx.setPending(p)
	sctx.clearPending()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Equal(t, DecisionDeny, p.await(ctx))
}

func TestAwaitCancelledContextDenies(t *testing.T) {
	p := newPendingConfirmation("bash", "ls")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, DecisionDeny, p.await(ctx))
}

func TestRequiresConfirmation(t *testing.T) {
	tests := []struct {
		mode ApprovalMode
		kind tool.Kind
		want bool
	}{
		{ApprovalReadOnly, tool.KindEdit, true},
		{ApprovalReadOnly, tool.KindDelete, true},
		{ApprovalReadOnly, tool.KindMove, true},
		{ApprovalReadOnly, tool.KindExecute, true},
		{ApprovalReadOnly, tool.KindFetch, true},
		{ApprovalReadOnly, tool.KindOther, true},
		{ApprovalReadOnly, tool.KindRead, false},
		{ApprovalReadOnly, tool.KindSearch, false},
		{ApprovalReadOnly, tool.KindThink, false},
		{ApprovalReadOnly, tool.KindTodo, false},
		{ApprovalAgent, tool.KindExecute, false},
		{ApprovalAgentFull, tool.KindDelete, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RequiresConfirmation(tt.mode, tt.kind), "%s/%s", tt.mode, tt.kind)
	}
}

func TestParseModes(t *testing.T) {
	assert.Equal(t, ModePlan, ParseAgentMode("plan"))
	assert.Equal(t, ModePlan, ParseAgentMode("PLAN"))
	assert.Equal(t, ModeBuild, ParseAgentMode("build"))
	assert.Equal(t, ModeBuild, ParseAgentMode("unknown"))

	assert.Equal(t, ApprovalReadOnly, ParseApprovalMode("read-only"))
	assert.Equal(t, ApprovalAgentFull, ParseApprovalMode("agent-full"))
	assert.Equal(t, ApprovalAgent, ParseApprovalMode("agent"))
	assert.Equal(t, ApprovalAgent, ParseApprovalMode("whatever"))
}

func TestGenerateIDs(t *testing.T) {
	id := GenerateSessionID()
	assert.NoError(t, ValidateSessionID(id))
	assert.Contains(t, id, "sess_")
	assert.NotEqual(t, id, GenerateSessionID())

	req := generateRequestID()
	assert.Contains(t, req, "req_")
	assert.NotEqual(t, req, generateRequestID())
}

func TestTruncateForDisplay(t *testing.T) {
	assert.Equal(t, "short", truncateForDisplay("short", 10))

	long := truncateForDisplay("aaaaaaaaaaaa", 5)
	assert.Equal(t, "aaaaa…", long)

	// Multi-byte runes are never split.
	jp := truncateForDisplay("日本語テキスト", 7)
	assert.Equal(t, "日本…", jp)
}
