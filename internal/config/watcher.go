package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc is called with the previous and the newly loaded config and
// the difference between them.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher monitors a config file and hands every valid change to a
// [ChangeFunc]. It polls the file's mtime and hashes its content, so editors
// that replace the file atomically are handled too. Invalid files are logged
// and ignored; the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	mu      sync.Mutex
	current *Config

	// seen is only touched by the polling goroutine after construction.
	seen fileState

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it in a background
// goroutine. onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, state, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.seen = state

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling and waits for an in-flight check to finish. No change
// is delivered after Stop returns. It is idempotent but must not be called
// from the [ChangeFunc].
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	<-w.stopped
}

func (w *Watcher) poll() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			select {
			case <-w.done:
				return
			default:
			}
			w.check()
		}
	}
}

// check reloads the file when its mtime moved. A file that fails to load is
// reported once per modification, not on every poll.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	if info.ModTime().Equal(w.seen.mtime) {
		return
	}

	cfg, state, err := w.load()
	w.seen.mtime = state.mtime
	if err != nil {
		slog.Warn("config watcher: ignoring invalid config", "path", w.path, "err", err)
		return
	}
	if state.hash == w.seen.hash {
		return
	}
	w.seen = state

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	d := Diff(old, cfg)
	if !d.Changed() {
		return
	}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level", d.LogLevelChanged,
		"session", d.SessionChanged,
		"provider", d.ProviderChanged,
		"audio", d.AudioChanged,
	)
	for _, key := range d.RestartRequired {
		slog.Warn("config watcher: change requires a restart", "key", key)
	}

	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
}

// fileState identifies one version of the config file.
type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// load reads and validates the config file. The returned state carries the
// mtime even when validation fails.
func (w *Watcher) load() (*Config, fileState, error) {
	var st fileState
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, st, err
	}
	st.mtime = info.ModTime()

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, st, err
	}
	st.hash = sha256.Sum256(data)

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, st, err
	}
	return cfg, st, nil
}
