// Package configwatch keeps a hot-reloadable configuration value behind an
// atomic pointer. Readers always see a complete, successfully decoded value;
// a failed reload leaves the previous one in place.
package configwatch

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// DecodeFunc reads and decodes the file at path.
type DecodeFunc[T any] func(path string) (*T, error)

// Option configures a Watcher.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	onReload []func(version uint64, err error)
}

// WithLogger overrides the watcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithReloadHook registers fn to run after every Reload attempt. err is nil
// when a new value was published.
func WithReloadHook(fn func(version uint64, err error)) Option {
	return func(o *options) { o.onReload = append(o.onReload, fn) }
}

// Watcher holds the current decoded value of one file.
type Watcher[T any] struct {
	path     string
	decode   DecodeFunc[T]
	current  atomic.Pointer[T]
	version  atomic.Uint64
	reloadMu sync.Mutex
	opts     options
}

// New decodes path once and returns a Watcher holding the result. A decode
// failure here is returned to the caller.
func New[T any](path string, decode DecodeFunc[T], opts ...Option) (*Watcher[T], error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", "config-watcher")

	path = filepath.Clean(path)
	initial, err := decode(path)
	if err != nil {
		return nil, fmt.Errorf("loading initial config %s: %w", path, err)
	}

	w := &Watcher[T]{path: path, decode: decode, opts: o}
	w.current.Store(initial)
	w.version.Store(1)
	o.logger.Info("config loaded", "path", path)
	return w, nil
}

// Path returns the watched file.
func (w *Watcher[T]) Path() string {
	return w.path
}

// Load returns the current value. The value must be treated as read-only.
func (w *Watcher[T]) Load() *T {
	return w.current.Load()
}

// Version counts successful publishes, starting at 1 for the initial load.
func (w *Watcher[T]) Version() uint64 {
	return w.version.Load()
}

// Reload decodes the file again and publishes the result. On failure the
// previous value stays current and the error is returned.
func (w *Watcher[T]) Reload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	next, err := w.decode(w.path)
	if err != nil {
		w.opts.logger.Warn("config reload failed, keeping previous", "path", w.path, "error", err)
		w.notify(w.version.Load(), err)
		return fmt.Errorf("reloading config %s: %w", w.path, err)
	}

	w.current.Store(next)
	version := w.version.Add(1)
	w.opts.logger.Info("config reloaded", "path", w.path, "version", version)
	w.notify(version, nil)
	return nil
}

func (w *Watcher[T]) notify(version uint64, err error) {
	for _, fn := range w.opts.onReload {
		fn(version, err)
	}
}
