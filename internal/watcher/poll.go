package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type fileState struct {
	size    int64
	modTime time.Time
}

// Poller detects changes by listing the watched directories on a fixed
// interval. It serves filesystems that do not deliver change notifications,
// such as network mounts.
type Poller struct {
	paths     []string
	interval  time.Duration
	state     map[string]fileState
	eventChan chan Event
	errorChan chan error
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewPoller records the current contents of cfg.Paths and starts polling.
// Files present at start produce no events.
func NewPoller(cfg Config) (*Poller, error) {
	cfg = cfg.withDefaults("poll-watcher")

	p := &Poller{
		paths:     make([]string, 0, len(cfg.Paths)),
		interval:  cfg.PollInterval,
		eventChan: make(chan Event, cfg.QueueCapacity),
		errorChan: make(chan error, errorQueueCapacity),
		logger:    cfg.Logger,
	}
	for _, path := range cfg.Paths {
		p.paths = append(p.paths, filepath.Clean(path))
	}

	state, err := p.list()
	if err != nil {
		return nil, err
	}
	p.state = state

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.pollLoop(ctx)

	p.logger.Info("poll watcher started", "paths", p.paths, "interval", p.interval)
	return p, nil
}

// Events returns the event channel.
func (p *Poller) Events() <-chan Event {
	return p.eventChan
}

// Errors returns the error channel.
func (p *Poller) Errors() <-chan error {
	return p.errorChan
}

// Close stops polling and closes both channels.
func (p *Poller) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		close(p.eventChan)
		close(p.errorChan)
		p.logger.Info("poll watcher closed")
	})
	return nil
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.poll(ctx) {
				return
			}
		}
	}
}

// poll compares one listing against the previous one and emits the
// differences. It returns false if ctx ended during delivery.
func (p *Poller) poll(ctx context.Context) bool {
	next, err := p.list()
	if err != nil {
		select {
		case p.errorChan <- err:
		default:
			p.logger.Warn("error channel full, dropping error", "error", err)
		}
		return true
	}

	now := time.Now()
	var events []Event
	for path, st := range next {
		prev, ok := p.state[path]
		switch {
		case !ok:
			events = append(events, Event{Kind: KindCreate, Path: path, Time: now})
		case prev.size != st.size || !prev.modTime.Equal(st.modTime):
			events = append(events, Event{Kind: KindModify, Path: path, Time: now})
		}
	}
	for path := range p.state {
		if _, ok := next[path]; !ok {
			events = append(events, Event{Kind: KindRemove, Path: path, Time: now})
		}
	}
	p.state = next

	sort.Slice(events, func(i, j int) bool {
		if events[i].Path != events[j].Path {
			return events[i].Path < events[j].Path
		}
		return events[i].Kind < events[j].Kind
	})
	for _, ev := range events {
		select {
		case p.eventChan <- ev:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (p *Poller) list() (map[string]fileState, error) {
	state := make(map[string]fileState)
	for _, dir := range p.paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				// removed between the listing and the stat
				continue
			}
			state[filepath.Join(dir, entry.Name())] = fileState{
				size:    info.Size(),
				modTime: info.ModTime(),
			}
		}
	}
	return state, nil
}
