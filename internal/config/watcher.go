package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadCallback is called with the freshly loaded config after a change
type ReloadCallback func(cfg *Config)

// Watcher monitors the config file and reloads it on change
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	onReload ReloadCallback
	debounce time.Duration
	done     chan struct{}
	stopOnce sync.Once
	timerMu  sync.Mutex
	pending  *time.Timer
}

// NewWatcher creates a config watcher for the loader's config path
func NewWatcher(loader *Loader, onReload ReloadCallback) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:  fw,
		loader:   loader,
		onReload: onReload,
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory
func (w *Watcher) Start() error {
	configPath := w.loader.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	// Watch the directory so atomic replace (tmp + rename) is seen
	if err := w.watcher.Add(filepath.Dir(configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop(configPath)

	log.Info().
		Str("path", configPath).
		Msg("Config watcher started")

	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.timerMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop(configPath string) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, func() {
		cfg, err := w.loader.Load()
		if err != nil {
			log.Warn().Err(err).Msg("Config reload failed")
			return
		}
		if err := cfg.Validate(); err != nil {
			log.Warn().Err(err).Msg("Config reload rejected")
			return
		}
		log.Info().Msg("Config reloaded")
		if w.onReload != nil {
			w.onReload(cfg)
		}
	})
}
