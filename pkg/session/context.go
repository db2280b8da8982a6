package session

import (
	"context"
	"sync"
	"time"

	"github.com/carrydev/carrycode/pkg/agent"
	"github.com/carrydev/carrycode/pkg/tool"
)

type confirmKey struct {
	tool    string
	keyPath string
}

// Context is the per-session state: the exclusively-locked agent, the
// confirmation cache, the event sink with its sequence counter, and
// the in-flight cancellation handle.
type Context struct {
	ID        string
	CreatedAt int64
	UpdatedAt int64

	// execMu serializes Execute calls; a second call on the same
	// session blocks until the first completes.
	execMu sync.Mutex
	agent  *agent.Agent

	mu            sync.Mutex
	cancel        context.CancelFunc
	confirmCache  map[confirmKey]ConfirmationStatus
	pending       *pendingConfirmation
	stage         string
	toolOperation tool.Operation
	sink          EventSink
	seq           int64
	agentMode     AgentMode
	approvalMode  ApprovalMode
	enabledSkills []string
	title         string
}

func newContext(sessionID string, ag *agent.Agent, agentMode AgentMode, approvalMode ApprovalMode) *Context {
	now := time.Now().UnixMilli()
	return &Context{
		ID:           sessionID,
		CreatedAt:    now,
		UpdatedAt:    now,
		agent:        ag,
		confirmCache: map[confirmKey]ConfirmationStatus{},
		agentMode:    agentMode,
		approvalMode: approvalMode,
	}
}

// Agent returns the session's agent. Callers must hold the execution
// lock for anything beyond read-only inspection.
func (c *Context) Agent() *agent.Agent {
	return c.agent
}

// SetEventSink installs the sink and resets the sequence counter.
func (c *Context) SetEventSink(sink EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
	c.seq = 0
}

// ClearEventSink removes the sink.
func (c *Context) ClearEventSink() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = nil
}

// emit assigns a sequence number and timestamp and delivers the event.
// Events emitted without a sink installed are dropped.
func (c *Context) emit(event Event) {
	c.mu.Lock()
	sink := c.sink
	if sink == nil {
		c.mu.Unlock()
		return
	}
	c.seq++
	event.Seq = c.seq
	c.mu.Unlock()

	event.ProtocolVersion = ProtocolVersion
	event.SessionID = c.ID
	event.TsMs = time.Now().UnixMilli()
	sink.Handle(event)
}

func (c *Context) setStage(stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stage = stage
}

// Stage returns the current response stage tag.
func (c *Context) Stage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

func (c *Context) setToolOperation(op tool.Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolOperation = op
}

// ToolOperation returns the operation of the currently running tool,
// or the empty string when none is active.
func (c *Context) ToolOperation() tool.Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toolOperation
}

// allowedForSession reports whether a (tool, key path) pair was
// already approved for the whole session.
func (c *Context) allowedForSession(toolName, keyPath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmCache[confirmKey{tool: toolName, keyPath: keyPath}] == ConfirmAllowForSession
}

func (c *Context) cacheAllowForSession(toolName, keyPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmCache[confirmKey{tool: toolName, keyPath: keyPath}] = ConfirmAllowForSession
}

// setPending installs a new pending confirmation. An outstanding one
// is resolved as a denial first, so its waiter never hangs.
func (c *Context) setPending(p *pendingConfirmation) {
	c.mu.Lock()
	old := c.pending
	c.pending = p
	c.mu.Unlock()
	if old != nil {
		old.resolve(DecisionDeny)
	}
}

// takePending removes and returns the pending confirmation when the
// request id matches.
func (c *Context) takePending(requestID string) *pendingConfirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil || c.pending.requestID != requestID {
		return nil
	}
	p := c.pending
	c.pending = nil
	return p
}

// clearPending drops any outstanding confirmation, resolving it as a
// denial.
func (c *Context) clearPending() {
	c.mu.Lock()
	old := c.pending
	c.pending = nil
	c.mu.Unlock()
	if old != nil {
		old.resolve(DecisionDeny)
	}
}

func (c *Context) setCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel = cancel
}

// abort cancels the in-flight run, if any.
func (c *Context) abort() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// running reports whether an execution is in flight.
func (c *Context) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

func (c *Context) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UpdatedAt = time.Now().UnixMilli()
}

func (c *Context) lastActivity() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.UpdatedAt
}

// AgentMode returns the session's agent mode.
func (c *Context) AgentMode() AgentMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentMode
}

func (c *Context) setAgentMode(mode AgentMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentMode = mode
}

// ApprovalMode returns the session's approval mode.
func (c *Context) ApprovalMode() ApprovalMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.approvalMode
}

func (c *Context) setApprovalMode(mode ApprovalMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approvalMode = mode
}

// EnabledSkills returns the skills enabled for this session.
func (c *Context) EnabledSkills() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.enabledSkills))
	copy(out, c.enabledSkills)
	return out
}

func (c *Context) setEnabledSkills(skills []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabledSkills = append([]string(nil), skills...)
}

// Title returns the session title.
func (c *Context) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title
}

func (c *Context) setTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.title = title
}
