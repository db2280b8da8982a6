package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/carrydev/carrycode/internal/observability"
	"github.com/carrydev/carrycode/internal/tracing"
	"github.com/carrydev/carrycode/pkg/agent"
	"github.com/carrydev/carrycode/pkg/tool"
)

const summaryLimit = 200

// truncateForDisplay shortens a string for event summaries without
// splitting a UTF-8 sequence.
func truncateForDisplay(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	out := make([]rune, 0, limit)
	size := 0
	for _, r := range runes {
		size += len(string(r))
		if size > limit {
			break
		}
		out = append(out, r)
	}
	return string(out) + "…"
}

// stageSink adapts agent stream events onto the session event
// envelope.
type stageSink struct {
	sctx *Context
}

func stageTag(stage agent.Stage) string {
	if stage == agent.StageThinking {
		return StageTagThinking
	}
	return StageTagAnswering
}

func (s *stageSink) Text(text string) {
	s.sctx.emit(Event{EventType: EventText, Text: text})
}

func (s *stageSink) StageStart(stage agent.Stage) {
	tag := stageTag(stage)
	s.sctx.setStage(tag)
	s.sctx.emit(Event{EventType: EventStageStart, Stage: tag})
}

func (s *stageSink) StageEnd(stage agent.Stage) {
	s.sctx.emit(Event{EventType: EventStageEnd, Stage: stageTag(stage)})
}

func (s *stageSink) End(success bool) {
	s.sctx.setStage(StageTagEnd)
	s.sctx.emit(Event{EventType: EventEnd, Success: &success})
}

// gatedRunner executes tools behind the confirmation handshake and
// emits ToolStart/ToolOutput/ToolEnd around each call.
type gatedRunner struct {
	sctx *Context
}

func (g *gatedRunner) Run(ctx context.Context, t tool.Tool, arguments string) (string, error) {
	name := t.Name()
	kind := t.Kind()
	op := t.Operation()
	keyPath := tool.KeyPathFromArgs(name, arguments)

	g.sctx.setToolOperation(op)
	defer g.sctx.setToolOperation("")

	g.sctx.emit(Event{
		EventType:     EventToolStart,
		ToolName:      name,
		ToolOperation: op.Tag(),
		KeyPath:       keyPath,
		Kind:          string(kind),
		ArgsSummary:   truncateForDisplay(arguments, summaryLimit),
	})

	if !g.allow(ctx, t, arguments, keyPath) {
		denial := deniedResult(t, keyPath)
		g.emitToolEnd(op, name, keyPath, denial.Summary(), false)
		data, err := json.Marshal(denial)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	raw, err := runValidated(t, arguments)
	summary := truncateForDisplay(raw, summaryLimit)
	if err != nil {
		summary = truncateForDisplay(err.Error(), summaryLimit)
	}
	g.sctx.emit(Event{
		EventType:       EventToolOutput,
		ToolName:        name,
		ToolOperation:   op.Tag(),
		ResponseSummary: summary,
	})
	g.emitToolEnd(op, name, keyPath, summary, err == nil)
	return raw, err
}

func (g *gatedRunner) emitToolEnd(op tool.Operation, name, keyPath, summary string, success bool) {
	g.sctx.emit(Event{
		EventType:       EventToolEnd,
		ToolName:        name,
		ToolOperation:   op.EndTag(),
		KeyPath:         keyPath,
		ResponseSummary: summary,
		Success:         &success,
	})
}

// allow resolves the approval policy for one call: auto-allow, cached
// session-wide approval, or a blocking confirmation handshake.
func (g *gatedRunner) allow(ctx context.Context, t tool.Tool, arguments, keyPath string) bool {
	name := t.Name()
	if !RequiresConfirmation(g.sctx.ApprovalMode(), t.Kind()) {
		return true
	}
	if g.sctx.allowedForSession(name, keyPath) {
		return true
	}

	pending := newPendingConfirmation(name, keyPath)
	g.sctx.setPending(pending)
	g.sctx.emit(Event{
		EventType: EventConfirmationRequested,
		ToolName:  name,
		KeyPath:   keyPath,
		Kind:      string(t.Kind()),
		Confirm: &ConfirmationRequest{
			RequestID: pending.requestID,
			ToolName:  name,
			Arguments: arguments,
			Kind:      string(t.Kind()),
			KeyPath:   keyPath,
		},
	})

	ctx = tracing.WithRequestID(ctx, pending.requestID)
	decision := pending.await(ctx)
	observability.RecordConfirmation(decision)
	logger := tracing.LoggerFromContext(ctx)
	logger.Debug().
		Str("tool", name).
		Str("decision", decision).
		Msg("confirmation resolved")

	switch decision {
	case DecisionAllowOnce:
		return true
	case DecisionAllowForSession:
		g.sctx.cacheAllowForSession(name, keyPath)
		return true
	}
	return false
}

// deniedResult is the structured denial fed back to the model so it
// can react in-conversation instead of failing the run.
func deniedResult(t tool.Tool, keyPath string) tool.Result {
	return tool.Result{
		Version:              tool.ResultVersion,
		ToolName:             t.Name(),
		Kind:                 t.Kind(),
		Operation:            t.Operation(),
		KeyPath:              keyPath,
		Success:              false,
		RequiresConfirmation: true,
		Executed:             false,
		ResponseSummary:      "tool execution was denied by the user",
		Stderr:               "tool execution was denied by the user",
	}
}

func runValidated(t tool.Tool, arguments string) (string, error) {
	if err := tool.ValidateArguments(t, arguments); err != nil {
		return "", err
	}
	start := time.Now()
	raw, err := t.Execute(arguments)
	log.Debug().
		Str("tool", t.Name()).
		Dur("elapsed", time.Since(start)).
		Msg("tool call finished")
	return raw, err
}
