package agent

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/carrydev/carrycode/internal/observability"
	"github.com/carrydev/carrycode/internal/tracing"
	"github.com/carrydev/carrycode/pkg/provider"
	"github.com/carrydev/carrycode/pkg/tool"
)

// Stage is the phase of a model response being streamed.
type Stage string

const (
	StageThinking  Stage = "Thinking"
	StageAnswering Stage = "Answering"
)

const (
	maxStreamAttempts = 3
	retryBackoff      = time.Second
)

// StreamSink receives incremental output while Execute runs. All
// methods are called from the executing goroutine in emission order.
type StreamSink interface {
	// Text delivers a content or reasoning delta.
	Text(text string)

	// StageStart marks the beginning of a response stage.
	StageStart(stage Stage)

	// StageEnd marks the end of a response stage.
	StageEnd(stage Stage)

	// End marks loop completion. success is false only for terminal
	// errors; cancellation still ends with success.
	End(success bool)
}

// ToolRunner executes one tool call. Implementations may gate the call
// behind a confirmation handshake; a denial is returned as a normal
// result, not an error.
type ToolRunner interface {
	Run(ctx context.Context, t tool.Tool, arguments string) (string, error)
}

// Result is the outcome of one Execute call.
type Result struct {
	Content     string
	ToolsUsed   bool
	ToolResults []tool.Result
}

// Options configures a new Agent.
type Options struct {
	Provider     string
	Model        string
	SystemPrompt string
	Endpoints    []provider.Endpoint
	Tools        []tool.Tool
	Factory      *provider.Factory
}

// Agent drives the tool-calling loop for one session: it owns the
// conversation history, the active provider client, and the registered
// tool list. Not safe for concurrent use; callers serialize access.
type Agent struct {
	providerName string
	modelName    string
	systemPrompt string
	endpoints    []provider.Endpoint
	factory      *provider.Factory
	client       provider.Client
	tools        []tool.Tool
	history      *History
	sink         StreamSink
	runner       ToolRunner
}

// New builds an Agent, failing fast when the provider or model is not
// present in the endpoint catalog.
func New(opts Options) (*Agent, error) {
	factory := opts.Factory
	if factory == nil {
		factory = provider.NewFactory()
	}
	a := &Agent{
		providerName: opts.Provider,
		modelName:    opts.Model,
		systemPrompt: opts.SystemPrompt,
		endpoints:    opts.Endpoints,
		factory:      factory,
		tools:        opts.Tools,
		history:      NewHistory(),
	}
	if err := a.rebuildClient(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Agent) rebuildClient() error {
	if err := a.validateSelection(a.providerName, a.modelName); err != nil {
		return err
	}
	client, err := a.factory.GetOrCreate(a.providerName, a.modelName, a.endpoints, a.systemPrompt)
	if err != nil {
		return err
	}
	a.client = client
	return nil
}

func (a *Agent) validateSelection(providerName, model string) error {
	for _, ep := range a.endpoints {
		if ep.Name != providerName {
			continue
		}
		for _, m := range ep.Models {
			if m == model {
				return nil
			}
		}
		return fmt.Errorf("model %q is not configured for provider %q", model, providerName)
	}
	return fmt.Errorf("unknown provider: %s", providerName)
}

// SetSink installs the stream sink.
func (a *Agent) SetSink(sink StreamSink) {
	a.sink = sink
}

// SetToolRunner installs the tool runner. Without one, tools run
// directly with schema validation only.
func (a *Agent) SetToolRunner(runner ToolRunner) {
	a.runner = runner
}

// SetModel switches the active provider and model, rebuilding the
// client. History is retained.
func (a *Agent) SetModel(providerName, model string) error {
	prev, prevModel := a.providerName, a.modelName
	a.providerName, a.modelName = providerName, model
	if err := a.rebuildClient(); err != nil {
		a.providerName, a.modelName = prev, prevModel
		return err
	}
	return nil
}

// SetSystemPrompt replaces the system prompt and rebuilds the client.
func (a *Agent) SetSystemPrompt(prompt string) error {
	prev := a.systemPrompt
	a.systemPrompt = prompt
	if err := a.rebuildClient(); err != nil {
		a.systemPrompt = prev
		return err
	}
	return nil
}

// Provider returns the active provider name.
func (a *Agent) Provider() string { return a.providerName }

// Model returns the active model name.
func (a *Agent) Model() string { return a.modelName }

// SystemPrompt returns the active system prompt.
func (a *Agent) SystemPrompt() string { return a.systemPrompt }

// BaseURL returns the active client's endpoint base URL.
func (a *Agent) BaseURL() string { return a.client.BaseURL() }

// History returns the agent's conversation history.
func (a *Agent) History() *History { return a.history }

// Tools returns the registered tool list.
func (a *Agent) Tools() []tool.Tool { return a.tools }

// AvailableModels lists every configured provider:model pair.
func (a *Agent) AvailableModels() []string {
	var out []string
	for _, ep := range a.endpoints {
		for _, m := range ep.Models {
			out = append(out, ep.Name+":"+m)
		}
	}
	return out
}

// findTool resolves a tool by name.
func (a *Agent) findTool(name string) tool.Tool {
	for _, t := range a.tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// Execute appends the prompt to history and runs the tool-calling loop
// until the model stops requesting tools. Cancellation resolves as an
// empty, non-error result with a terminal End event.
func (a *Agent) Execute(ctx context.Context, prompt string) (Result, error) {
	start := time.Now()
	a.history.AppendText("user", prompt)

	defs := make([]provider.ToolDefinition, 0, len(a.tools))
	for _, t := range a.tools {
		defs = append(defs, t.Definition())
	}

	res, err := a.run(ctx, defs)
	if err != nil {
		observability.RecordAgentRun(a.providerName, time.Since(start), false)
		logger := tracing.LoggerFromContext(ctx)
		logger.Error().Err(err).
			Str("provider", a.providerName).
			Str("model", a.modelName).
			Msg("agent run failed")
		return Result{}, err
	}
	observability.RecordAgentRun(a.providerName, time.Since(start), true)
	a.emitEnd(true)
	return res, nil
}

func (a *Agent) run(ctx context.Context, defs []provider.ToolDefinition) (Result, error) {
	result := Result{}
	for {
		if ctx.Err() != nil {
			return Result{}, nil
		}

		turn, err := a.streamTurn(ctx, defs)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, nil
			}
			return Result{}, err
		}
		// A cancelled stream can still drain as a clean EOF; partial
		// output is discarded either way and never reaches history.
		if ctx.Err() != nil {
			return Result{}, nil
		}

		if len(turn.calls) == 0 {
			a.history.AppendAssistant(turn.content, turn.reasoning)
			result.Content = turn.content
			return result, nil
		}

		result.ToolsUsed = true
		a.history.AppendToolCalls(turn.content, turn.calls)
		for _, call := range turn.calls {
			if ctx.Err() != nil {
				return Result{}, nil
			}
			res := a.executeCall(ctx, call)
			result.ToolResults = append(result.ToolResults, res)
			a.history.AppendToolResult(call.ID, mustEncodeResult(res))
		}
	}
}

// streamTurn opens one stream and consumes it into a single model turn,
// retrying stream initiation on transient failures.
func (a *Agent) streamTurn(ctx context.Context, defs []provider.ToolDefinition) (turnResult, error) {
	stream, err := a.openStream(ctx, defs)
	if err != nil {
		return turnResult{}, err
	}
	defer stream.Close()
	return a.consume(ctx, stream)
}

func (a *Agent) openStream(ctx context.Context, defs []provider.ToolDefinition) (*provider.Stream, error) {
	var lastErr error
	for attempt := 1; attempt <= maxStreamAttempts; attempt++ {
		stream, err := a.client.StreamChat(ctx, a.history.Messages(), defs)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		if !isTransientError(err) || attempt == maxStreamAttempts {
			return nil, err
		}
		logger := tracing.LoggerFromContext(ctx)
		logger.Warn().Err(err).
			Int("attempt", attempt).
			Str("provider", a.providerName).
			Msg("retrying stream initiation")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
	return nil, lastErr
}

// isTransientError matches the failure signatures worth retrying:
// request-send and stream-initiation errors, not protocol errors.
func isTransientError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, sig := range []string{
		"failed to initiate llm stream",
		"failed to send request to llm api",
		"error sending request",
	} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// turnResult is the accumulated output of one model stream.
type turnResult struct {
	content   string
	reasoning string
	calls     []provider.SentinelToolCall
	finish    string
}

// pendingCall accumulates tool-call fragments sharing an index. The id
// and name are last-wins because some providers repeat them on every
// arguments delta; only the arguments concatenate.
type pendingCall struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

func (a *Agent) consume(ctx context.Context, stream *provider.Stream) (turnResult, error) {
	var (
		content   strings.Builder
		reasoning strings.Builder
		pending   = map[int]*pendingCall{}
		stage     Stage
		turn      turnResult
	)

	startStage := func(s Stage) {
		if stage == s {
			return
		}
		if stage != "" {
			a.emitStageEnd(stage)
		}
		stage = s
		a.emitStageStart(s)
	}
	closeStage := func() {
		if stage != "" {
			a.emitStageEnd(stage)
			stage = ""
		}
	}

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			closeStage()
			observability.RecordStreamError(a.providerName, "recv")
			return turnResult{}, err
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.ReasoningContent != "" {
			startStage(StageThinking)
			reasoning.WriteString(choice.Delta.ReasoningContent)
			a.emitText(choice.Delta.ReasoningContent)
		}
		if choice.Delta.Content != "" {
			startStage(StageAnswering)
			content.WriteString(choice.Delta.Content)
			a.emitText(choice.Delta.Content)
		}
		for _, tc := range choice.Delta.ToolCalls {
			p, ok := pending[tc.Index]
			if !ok {
				p = &pendingCall{index: tc.Index}
				pending[tc.Index] = p
			}
			if tc.ID != "" {
				p.id = tc.ID
			}
			if tc.Function.Name != "" {
				p.name = tc.Function.Name
			}
			p.args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			turn.finish = choice.FinishReason
			if provider.IsTerminalFinishReason(choice.FinishReason) {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	closeStage()

	turn.content = content.String()
	turn.reasoning = reasoning.String()

	ordered := make([]*pendingCall, 0, len(pending))
	for _, p := range pending {
		ordered = append(ordered, p)
	}
	// Execution order follows the stream index for determinism.
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })
	for _, p := range ordered {
		turn.calls = append(turn.calls, provider.SentinelToolCall{
			ID:        p.id,
			Name:      p.name,
			Arguments: p.args.String(),
		})
	}
	return turn, nil
}

// executeCall runs one accumulated tool call and normalizes whatever
// comes back into a Result. Failures feed back into the conversation
// instead of aborting the loop.
func (a *Agent) executeCall(ctx context.Context, call provider.SentinelToolCall) tool.Result {
	args := call.Arguments
	if args == "" {
		args = "{}"
	}
	keyPath := tool.KeyPathFromArgs(call.Name, args)
	logger := tracing.LoggerFromContext(ctx)

	t := a.findTool(call.Name)
	if t == nil {
		logger.Warn().Str("tool", call.Name).Msg("model requested unknown tool")
		res := tool.ErrResult(call.Name, tool.KindOther, tool.OpOther, fmt.Sprintf("unknown tool: %s", call.Name))
		res.KeyPath = keyPath
		res.ToolCallID = call.ID
		return res
	}

	start := time.Now()
	var (
		raw string
		err error
	)
	if a.runner != nil {
		raw, err = a.runner.Run(ctx, t, args)
	} else {
		raw, err = runDirect(t, args)
	}
	res := normalizeExecution(t, raw, err)
	res.KeyPath = keyPath
	res.ToolCallID = call.ID
	observability.RecordToolExecution(call.Name, time.Since(start), res.Success)
	logger.Debug().
		Str("tool", call.Name).
		Str("key_path", keyPath).
		Bool("success", res.Success).
		Msg("tool executed")
	return res
}

// runDirect is the default runner: schema validation then execution,
// with no confirmation gate.
func runDirect(t tool.Tool, args string) (string, error) {
	if err := tool.ValidateArguments(t, args); err != nil {
		return "", err
	}
	return t.Execute(args)
}

func (a *Agent) emitText(text string) {
	if a.sink != nil {
		a.sink.Text(text)
	}
}

func (a *Agent) emitStageStart(s Stage) {
	if a.sink != nil {
		a.sink.StageStart(s)
	}
}

func (a *Agent) emitStageEnd(s Stage) {
	if a.sink != nil {
		a.sink.StageEnd(s)
	}
}

func (a *Agent) emitEnd(success bool) {
	if a.sink != nil {
		a.sink.End(success)
	}
}
