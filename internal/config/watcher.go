package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeCallback receives the freshly loaded config after the file changes
type ChangeCallback func(cfg *Config)

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	Loader   *Loader
	OnChange ChangeCallback
	Debounce time.Duration
	Logger   zerolog.Logger
}

// Watcher reloads the config file when it changes on disk
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	path     string
	onChange ChangeCallback
	debounce time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a new config watcher
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("change callback is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 200 * time.Millisecond
	}

	return &Watcher{
		watcher:  watcher,
		loader:   cfg.Loader,
		path:     filepath.Clean(cfg.Loader.GetConfigPath()),
		onChange: cfg.OnChange,
		debounce: cfg.Debounce,
		logger:   cfg.Logger.With().Str("component", "config_watcher").Logger(),
		done:     make(chan struct{}),
	}, nil
}

// Start starts watching the config file. The parent directory is watched so
// editors that replace the file are still observed.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop()

	w.logger.Info().Str("path", w.path).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := w.loader.Load()
	if err != nil {
		// Keep running with the previous config.
		w.logger.Warn().Err(err).Msg("Config reload failed")
		return
	}
	if errs := NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		for _, e := range errs {
			w.logger.Warn().Err(e).Msg("Config reload rejected")
		}
		return
	}

	w.logger.Info().Bool("side_effects_disabled", cfg.Agent.SideEffectsDisabled).Int("max_steps", cfg.Agent.MaxSteps).Msg("Config reloaded")
	w.onChange(cfg)
}
