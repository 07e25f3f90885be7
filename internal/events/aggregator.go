package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const recentCapacity = 50

type Stats struct {
	Loaded         int64            `json:"segments_loaded"`
	Unloaded       int64            `json:"segments_unloaded"`
	Replaced       int64            `json:"store_replacements"`
	Flushed        int64            `json:"segments_flushed"`
	ConfigReloads  int64            `json:"config_reloads"`
	ConfigRejects  int64            `json:"config_rejects"`
	LastGeneration uint64           `json:"last_generation"`
	LastChange     *time.Time       `json:"last_change,omitempty"`
	Recent         []LifecycleEvent `json:"recent"`
}

// Aggregator keeps counters and a window of the most recent events.
type Aggregator struct {
	mu     sync.RWMutex
	stats  Stats
	recent []LifecycleEvent
	next   int
	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		recent: make([]LifecycleEvent, 0, recentCapacity),
		logger: slog.Default().With("component", "lifecycle-aggregator"),
	}
}

// Track records ev.
func (a *Aggregator) Track(ev LifecycleEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Type {
	case EventSegmentLoaded:
		a.stats.Loaded++
	case EventSegmentUnloaded:
		a.stats.Unloaded++
	case EventStoreReplaced:
		a.stats.Replaced++
	case EventSegmentFlushed:
		a.stats.Flushed++
	case EventConfigReloaded:
		a.stats.ConfigReloads++
	case EventConfigRejected:
		a.stats.ConfigRejects++
	}
	if ev.Generation > a.stats.LastGeneration && ev.Source == "store" {
		a.stats.LastGeneration = ev.Generation
	}
	ts := ev.Timestamp
	a.stats.LastChange = &ts

	if len(a.recent) < recentCapacity {
		a.recent = append(a.recent, ev)
	} else {
		a.recent[a.next] = ev
	}
	a.next = (a.next + 1) % recentCapacity
}

// Stats returns a copy of the counters with recent events newest first.
func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := a.stats
	out.Recent = make([]LifecycleEvent, 0, len(a.recent))
	for i := 1; i <= len(a.recent); i++ {
		idx := (a.next - i + recentCapacity) % recentCapacity
		out.Recent = append(out.Recent, a.recent[idx])
	}
	return out
}

// ServeHTTP writes Stats as JSON.
func (a *Aggregator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(a.Stats()); err != nil {
		a.logger.Error("failed to write lifecycle stats response", "error", err)
	}
}
