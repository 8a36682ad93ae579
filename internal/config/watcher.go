package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling interval used when none is given.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls a config file and the module manifests it references. When
// any of them changes and the result still validates, the callback receives
// the previous and the new config.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	state   snapshot

	done     chan struct{}
	stopOnce sync.Once
}

// snapshot is what the watcher knows about the files behind a config.
type snapshot struct {
	// mtimes is keyed by the path of the config file and of each manifest.
	mtimes map[string]time.Time
	digest [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it in the
// background. Stop must be called to end polling.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.state = snap

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	w.mu.Lock()
	mtimes := w.state.mtimes
	w.mu.Unlock()

	if !touched(mtimes) {
		return
	}

	cfg, snap, err := w.read()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.digest == w.state.digest {
		w.state.mtimes = snap.mtimes
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.state = snap
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path, "manifests", len(cfg.Manifests))

	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// touched reports whether any watched file has a different mtime or can no
// longer be stat'ed.
func touched(mtimes map[string]time.Time) bool {
	for path, mtime := range mtimes {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Equal(mtime) {
			return true
		}
	}
	return false
}

// read loads and validates the config and fingerprints the config file
// together with every manifest it names.
func (w *Watcher) read() (*Config, snapshot, error) {
	snap := snapshot{mtimes: make(map[string]time.Time)}
	h := sha256.New()

	data, err := readFile(w.path, snap.mtimes)
	if err != nil {
		return nil, snapshot{}, err
	}
	h.Write(data)

	dir := filepath.Dir(w.path)
	cfg, err := load(bytes.NewReader(data), dir)
	if err != nil {
		return nil, snapshot{}, err
	}

	for _, p := range cfg.Manifests {
		mdata, err := readFile(manifestPath(dir, p), snap.mtimes)
		if err != nil {
			return nil, snapshot{}, err
		}
		h.Write([]byte{0})
		h.Write(mdata)
	}

	copy(snap.digest[:], h.Sum(nil))
	return cfg, snap, nil
}

func readFile(path string, mtimes map[string]time.Time) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mtimes[path] = info.ModTime()
	return data, nil
}
