package configwatch

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/metrics"
)

// Reloadable is the part of a Watcher the Runner drives.
type Reloadable interface {
	Path() string
	Reload() error
}

// Runner consumes change events for the directory containing a config file
// and reloads the config when that file is written or replaced. Watching the
// directory keeps working when editors save by renaming a new file over the
// old one.
type Runner struct {
	target  Reloadable
	path    string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type RunnerOption func(*Runner)

// WithEventMetrics counts every event the Runner sees.
func WithEventMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a Runner for target.
func NewRunner(target Reloadable, opts ...RunnerOption) *Runner {
	r := &Runner{
		target: target,
		path:   filepath.Clean(target.Path()),
		logger: slog.Default().With("component", "config-runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run handles events until ctx ends or events is closed.
func (r *Runner) Run(ctx context.Context, events <-chan watcher.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.Handle(ev)
		}
	}
}

// Handle applies one event. Reload failures are logged and never fatal.
func (r *Runner) Handle(ev watcher.Event) {
	if r.metrics != nil {
		r.metrics.WatcherEventsTotal.WithLabelValues("config", ev.Kind.String()).Inc()
	}
	if filepath.Clean(ev.Path) != r.path {
		r.logger.Debug("ignoring event for other file", "path", ev.Path, "kind", ev.Kind)
		return
	}

	switch ev.Kind {
	case watcher.KindCreate, watcher.KindModify:
		if err := r.target.Reload(); err != nil {
			r.logger.Warn("config reload rejected", "kind", ev.Kind, "error", err)
		}
	case watcher.KindRemove:
		r.logger.Warn("config file removed, keeping current config", "path", ev.Path)
	default:
		r.logger.Info("unhandled config event", "kind", ev.Kind, "path", ev.Path)
	}
}
