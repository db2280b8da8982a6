package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/carrydev/carrycode/internal/config"
	"github.com/carrydev/carrycode/internal/tracing"
	"github.com/carrydev/carrycode/pkg/agent"
	"github.com/carrydev/carrycode/pkg/provider"
	"github.com/carrydev/carrycode/pkg/tool"
)

// Options wires the collaborators a session needs. Config and Manager
// are required; Store and Factory get defaults when nil.
type Options struct {
	Config  *config.Config
	Loader  *config.Loader
	Manager *Manager
	Store   *Store
	Factory *provider.Factory
	Tools   []tool.Tool
}

// Session is the exported facade over one session context: it opens or
// reuses the context, runs the agent loop, resolves confirmations, and
// persists snapshots after each run.
type Session struct {
	sctx    *Context
	manager *Manager
	store   *Store
	cfg     *config.Config
	loader  *config.Loader
}

// Open creates or reuses the session with the given id. An empty id
// generates a fresh one. A saved snapshot, when present, restores the
// conversation and per-session modes.
func Open(sessionID string, opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Manager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	store := opts.Store
	if store == nil {
		var err error
		store, err = DefaultStore()
		if err != nil {
			return nil, err
		}
	}

	if sessionID == "" {
		sessionID = GenerateSessionID()
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	s := &Session{
		manager: opts.Manager,
		store:   store,
		cfg:     opts.Config,
		loader:  opts.Loader,
	}

	if sctx := opts.Manager.Get(sessionID); sctx != nil {
		s.sctx = sctx
		return s, nil
	}

	snapshot, err := store.LoadSnapshot(sessionID)
	if err != nil {
		return nil, err
	}

	agentMode := ParseAgentMode(opts.Config.Runtime.AgentMode)
	approvalMode := ParseApprovalMode(opts.Config.Runtime.ApprovalMode)
	if snapshot != nil {
		agentMode = ParseAgentMode(snapshot.AgentMode)
		approvalMode = ParseApprovalMode(snapshot.ApprovalMode)
	}

	endpoint, model, err := opts.Config.ResolveModel("")
	if err != nil {
		return nil, err
	}

	ag, err := agent.New(agent.Options{
		Provider:     endpoint.Name,
		Model:        model,
		SystemPrompt: opts.Config.SystemPromptFor(string(agentMode)),
		Endpoints:    endpointsFromConfig(opts.Config),
		Tools:        opts.Tools,
		Factory:      opts.Factory,
	})
	if err != nil {
		return nil, err
	}

	sctx := newContext(sessionID, ag, agentMode, approvalMode)
	if snapshot != nil {
		ag.History().ImportMessages(snapshot.Messages)
		sctx.setEnabledSkills(snapshot.EnabledSkills)
		sctx.setTitle(snapshot.Title)
		if snapshot.CreatedAtMs > 0 {
			sctx.CreatedAt = snapshot.CreatedAtMs
		}
	}

	opts.Manager.Add(sctx)
	s.sctx = sctx
	log.Info().
		Str("session_id", sessionID).
		Str("provider", endpoint.Name).
		Str("model", model).
		Bool("restored", snapshot != nil).
		Msg("session opened")
	return s, nil
}

func endpointsFromConfig(cfg *config.Config) []provider.Endpoint {
	out := make([]provider.Endpoint, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		out = append(out, provider.Endpoint{
			Name:    p.Name,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Models:  p.Models,
		})
	}
	return out
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.sctx.ID
}

// SetEventSink installs the streaming event sink and resets the event
// sequence.
func (s *Session) SetEventSink(sink EventSink) {
	s.sctx.SetEventSink(sink)
}

// ClearEventSink removes the streaming event sink.
func (s *Session) ClearEventSink() {
	s.sctx.ClearEventSink()
}

// Execute runs one agent turn. Concurrent calls on the same session
// serialize. The caller always observes a terminal event: End on
// success or cancellation, Error on failure.
func (s *Session) Execute(ctx context.Context, prompt string) (agent.Result, error) {
	s.sctx.execMu.Lock()
	defer s.sctx.execMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.sctx.setCancel(cancel)
	defer func() {
		s.sctx.setCancel(nil)
		cancel()
	}()
	runCtx = tracing.NewRunContext(runCtx, s.sctx.ID)

	ag := s.sctx.agent
	ag.SetSink(&stageSink{sctx: s.sctx})
	ag.SetToolRunner(&gatedRunner{sctx: s.sctx})

	res, err := ag.Execute(runCtx, prompt)
	s.sctx.clearPending()
	s.sctx.touch()
	if err != nil {
		s.sctx.emit(Event{EventType: EventError, ErrorMessage: err.Error()})
		return agent.Result{}, err
	}

	if saveErr := s.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Str("session_id", s.sctx.ID).Msg("failed to persist session snapshot")
	}
	return res, nil
}

// ConfirmTool resolves the pending confirmation when the request id
// matches. It reports whether a request was resolved.
func (s *Session) ConfirmTool(requestID, decision string) bool {
	p := s.sctx.takePending(requestID)
	if p == nil {
		return false
	}
	p.resolve(decision)
	return true
}

// Cancel aborts the in-flight execution and resolves any pending
// confirmation as a denial. The aborted run still emits a terminal
// End event.
func (s *Session) Cancel() {
	s.sctx.clearPending()
	s.sctx.abort()
}

// ClearHistory drops the conversation. Blocks while a run is in
// flight.
func (s *Session) ClearHistory() {
	s.sctx.execMu.Lock()
	defer s.sctx.execMu.Unlock()
	s.sctx.agent.History().Clear()
}

// History exports the conversation in its portable message form.
func (s *Session) History() []provider.Message {
	s.sctx.execMu.Lock()
	defer s.sctx.execMu.Unlock()
	return s.sctx.agent.History().Messages()
}

// ImportHistory replaces the conversation wholesale.
func (s *Session) ImportHistory(messages []provider.Message) {
	s.sctx.execMu.Lock()
	defer s.sctx.execMu.Unlock()
	s.sctx.agent.History().ImportMessages(messages)
}

// AvailableModels lists every configured provider:model pair.
func (s *Session) AvailableModels() []string {
	return s.sctx.agent.AvailableModels()
}

// Model returns the active provider:model selector.
func (s *Session) Model() string {
	ag := s.sctx.agent
	return ag.Provider() + ":" + ag.Model()
}

// SetModel switches the session to another configured model and
// persists the choice as the runtime default when a loader is wired.
func (s *Session) SetModel(selector string) error {
	endpoint, model, err := s.cfg.ResolveModel(selector)
	if err != nil {
		return err
	}

	s.sctx.execMu.Lock()
	defer s.sctx.execMu.Unlock()
	if err := s.sctx.agent.SetModel(endpoint.Name, model); err != nil {
		return err
	}

	s.cfg.Runtime.DefaultModel = endpoint.Name + ":" + model
	if s.loader != nil {
		if err := s.loader.Save(s.cfg); err != nil {
			return fmt.Errorf("model switched but config save failed: %w", err)
		}
	}
	return nil
}

// AgentMode returns the session's agent mode.
func (s *Session) AgentMode() AgentMode {
	return s.sctx.AgentMode()
}

// SetAgentMode switches between plan and build, swapping the system
// prompt template while retaining the conversation.
func (s *Session) SetAgentMode(mode AgentMode) error {
	s.sctx.execMu.Lock()
	defer s.sctx.execMu.Unlock()
	if err := s.sctx.agent.SetSystemPrompt(s.cfg.SystemPromptFor(string(mode))); err != nil {
		return err
	}
	s.sctx.setAgentMode(mode)
	return nil
}

// ApprovalMode returns the session's approval mode.
func (s *Session) ApprovalMode() ApprovalMode {
	return s.sctx.ApprovalMode()
}

// SetApprovalMode changes the confirmation policy and persists it as
// the runtime default when a loader is wired.
func (s *Session) SetApprovalMode(mode ApprovalMode) error {
	s.sctx.setApprovalMode(mode)
	s.cfg.Runtime.ApprovalMode = string(mode)
	if s.loader != nil {
		return s.loader.Save(s.cfg)
	}
	return nil
}

// EnabledSkills returns the skills enabled for this session.
func (s *Session) EnabledSkills() []string {
	return s.sctx.EnabledSkills()
}

// SetEnabledSkills replaces the enabled-skills set.
func (s *Session) SetEnabledSkills(skills []string) {
	s.sctx.setEnabledSkills(skills)
}

// Title returns the session title.
func (s *Session) Title() string {
	return s.sctx.Title()
}

// SetTitle sets the session title shown in listings.
func (s *Session) SetTitle(title string) {
	s.sctx.setTitle(title)
}

// Save persists the current session state to the store.
func (s *Session) Save() error {
	return s.store.SaveSnapshot(Snapshot{
		SessionID:     s.sctx.ID,
		CreatedAtMs:   s.sctx.CreatedAt,
		AgentMode:     string(s.sctx.AgentMode()),
		ApprovalMode:  string(s.sctx.ApprovalMode()),
		EnabledSkills: s.sctx.EnabledSkills(),
		Title:         s.sctx.Title(),
		Messages:      s.sctx.agent.History().Messages(),
	})
}

// CheckLatency probes the active provider endpoint.
func (s *Session) CheckLatency(ctx context.Context) (LatencyReport, error) {
	ag := s.sctx.agent
	return checkLatency(ctx, ag.Provider(), ag.BaseURL(), ag.Model())
}

// SavedSessions lists all sessions persisted in the store.
func (s *Session) SavedSessions() ([]Meta, error) {
	return s.store.List()
}
