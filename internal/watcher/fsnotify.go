package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSNotifyWatcher pushes events from the operating system's change
// notification facility.
type FSNotifyWatcher struct {
	watcher   *fsnotify.Watcher
	eventChan chan Event
	errorChan chan error
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewFSNotify starts watching cfg.Paths.
func NewFSNotify(cfg Config) (*FSNotifyWatcher, error) {
	cfg = cfg.withDefaults("fsnotify-watcher")

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	for _, path := range cfg.Paths {
		if err := fsWatcher.Add(path); err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("watching %s: %w", path, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &FSNotifyWatcher{
		watcher:   fsWatcher,
		eventChan: make(chan Event, cfg.QueueCapacity),
		errorChan: make(chan error, errorQueueCapacity),
		ctx:       ctx,
		cancel:    cancel,
		logger:    cfg.Logger,
	}

	w.wg.Add(1)
	go w.watchLoop()

	w.logger.Info("fsnotify watcher started", "paths", cfg.Paths)
	return w, nil
}

// Events returns the event channel.
func (w *FSNotifyWatcher) Events() <-chan Event {
	return w.eventChan
}

// Errors returns the error channel.
func (w *FSNotifyWatcher) Errors() <-chan error {
	return w.errorChan
}

// Close stops watching and closes both channels.
func (w *FSNotifyWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()
		err = w.watcher.Close()
		w.wg.Wait()
		close(w.eventChan)
		close(w.errorChan)
		w.logger.Info("fsnotify watcher closed")
	})
	return err
}

func (w *FSNotifyWatcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			select {
			case w.eventChan <- convertEvent(event):
			case <-w.ctx.Done():
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errorChan <- err:
			default:
				w.logger.Warn("error channel full, dropping error", "error", err)
			}
		}
	}
}

// convertEvent maps an fsnotify event to a Kind. A rename reports the old
// name, which no longer exists, so it is treated as a removal; the new name
// arrives as its own create.
func convertEvent(event fsnotify.Event) Event {
	ev := Event{
		Path: filepath.Clean(event.Name),
		Time: time.Now(),
	}
	switch {
	case event.Has(fsnotify.Create):
		ev.Kind = KindCreate
	case event.Has(fsnotify.Write):
		ev.Kind = KindModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		ev.Kind = KindRemove
	default:
		ev.Kind = KindOther
	}
	return ev
}
