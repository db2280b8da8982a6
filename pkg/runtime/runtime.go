package runtime

import (
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/carrydev/carrycode/internal/config"
	"github.com/carrydev/carrycode/internal/logger"
	"github.com/carrydev/carrycode/internal/observability"
	"github.com/carrydev/carrycode/pkg/provider"
	"github.com/carrydev/carrycode/pkg/session"
	"github.com/carrydev/carrycode/pkg/tool"
)

// Options configures a Runtime.
type Options struct {
	// ConfigPath overrides the default config location.
	ConfigPath string

	// Tools is the flat tool list exposed to every session.
	Tools []tool.Tool

	// SessionIdleTTL enables eviction of idle sessions when non-zero.
	SessionIdleTTL time.Duration

	// WatchConfig enables hot reload of the provider catalog.
	WatchConfig bool
}

// Runtime assembles the long-lived collaborators of the agent core:
// configuration with optional hot reload, logging, metrics, the shared
// provider client factory, the session registry, and the snapshot
// store.
type Runtime struct {
	mu      sync.Mutex
	cfg     *config.Config
	loader  *config.Loader
	log     *logger.Logger
	watcher *config.Watcher
	manager *session.Manager
	factory *provider.Factory
	store   *session.Store
	tools   []tool.Tool
}

// New loads configuration, initializes logging and metrics, and builds
// the session infrastructure.
func New(opts Options) (*Runtime, error) {
	loader := config.NewLoader(opts.ConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	observability.EnsureRegistered()

	var managerOpts []session.ManagerOption
	if opts.SessionIdleTTL > 0 {
		managerOpts = append(managerOpts, session.WithIdleTTL(opts.SessionIdleTTL))
	}

	r := &Runtime{
		cfg:     cfg,
		loader:  loader,
		log:     lg,
		manager: session.NewManager(managerOpts...),
		factory: provider.NewFactory(),
		store:   session.NewStore(filepath.Join(cfg.DataDir, "sessions")),
		tools:   opts.Tools,
	}

	if opts.WatchConfig {
		watcher, err := config.NewWatcher(loader, r.applyReload)
		if err != nil {
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return nil, fmt.Errorf("failed to start config watcher: %w", err)
		}
		r.watcher = watcher
	}

	zl := lg.GetZerolog()
	zl.Info().
		Int("providers", len(cfg.Providers)).
		Bool("watching", r.watcher != nil).
		Msg("runtime initialized")
	return r, nil
}

// applyReload swaps the provider catalog in and drops stale cached
// clients. Live sessions pick up the new catalog on their next open.
func (r *Runtime) applyReload(cfg *config.Config) {
	r.mu.Lock()
	old := r.cfg
	r.cfg = cfg
	r.mu.Unlock()

	for _, p := range old.Providers {
		for _, m := range p.Models {
			r.factory.Invalidate(p.Name, m)
		}
	}
	zl := r.log.GetZerolog()
	zl.Info().Int("providers", len(cfg.Providers)).Msg("provider catalog reloaded")
}

// Config returns the current configuration.
func (r *Runtime) Config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Manager returns the session registry.
func (r *Runtime) Manager() *session.Manager {
	return r.manager
}

// OpenSession opens or reuses a session wired to the runtime's shared
// collaborators. An empty id creates a fresh session.
func (r *Runtime) OpenSession(sessionID string) (*session.Session, error) {
	return session.Open(sessionID, session.Options{
		Config:  r.Config(),
		Loader:  r.loader,
		Manager: r.manager,
		Store:   r.store,
		Factory: r.factory,
		Tools:   r.tools,
	})
}

// SavedSessions lists sessions persisted in the runtime's store.
func (r *Runtime) SavedSessions() ([]session.Meta, error) {
	return r.store.List()
}

// MetricsHandler exposes the prometheus metrics endpoint.
func (r *Runtime) MetricsHandler() http.Handler {
	return observability.MetricsHandler()
}

// Close stops the watcher and eviction sweeper and releases the log
// file.
func (r *Runtime) Close() error {
	if r.watcher != nil {
		if err := r.watcher.Stop(); err != nil {
			return err
		}
	}
	r.manager.Close()
	return r.log.Close()
}
