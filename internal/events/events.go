// Package events records segment and config lifecycle changes. Events go to
// Kafka in batches for other services and to an in-process aggregator that
// backs the stats endpoint.
package events

import (
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/internal/store"
)

type EventType string

const (
	EventSegmentLoaded   EventType = "segment_loaded"
	EventSegmentUnloaded EventType = "segment_unloaded"
	EventStoreReplaced   EventType = "store_replaced"
	EventSegmentFlushed  EventType = "segment_flushed"
	EventConfigReloaded  EventType = "config_reloaded"
	EventConfigRejected  EventType = "config_rejected"
)

type LifecycleEvent struct {
	Type       EventType `json:"type"`
	Source     string    `json:"source"`
	Segment    string    `json:"segment,omitempty"`
	Version    string    `json:"version,omitempty"`
	Generation uint64    `json:"generation"`
	Segments   int       `json:"segments,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Key is the Kafka partition key: the segment when there is one, so events
// for one segment stay ordered.
func (e LifecycleEvent) Key() string {
	if e.Segment != "" {
		return e.Segment
	}
	return fmt.Sprintf("%s/%d", e.Source, e.Generation)
}

// Kind is sent as the Kafka event-type header.
func (e LifecycleEvent) Kind() string {
	return string(e.Type)
}

// Sink accepts events without blocking.
type Sink interface {
	Track(LifecycleEvent)
}

type tee []Sink

func (t tee) Track(ev LifecycleEvent) {
	for _, s := range t {
		s.Track(ev)
	}
}

// Tee fans events out to every non-nil sink.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// FromPublish converts a store publish into events. A whole-map replace is
// one store_replaced event; a scoped update yields one event per segment.
func FromPublish(source string, info store.PublishInfo) []LifecycleEvent {
	now := time.Now().UTC()
	if info.Replaced {
		return []LifecycleEvent{{
			Type:       EventStoreReplaced,
			Source:     source,
			Generation: info.Generation,
			Segments:   info.Segments,
			Timestamp:  now,
		}}
	}
	out := make([]LifecycleEvent, 0, len(info.Added)+len(info.Removed))
	for _, id := range info.Added {
		out = append(out, LifecycleEvent{
			Type:       EventSegmentLoaded,
			Source:     source,
			Segment:    id,
			Generation: info.Generation,
			Segments:   info.Segments,
			Timestamp:  now,
		})
	}
	for _, id := range info.Removed {
		out = append(out, LifecycleEvent{
			Type:       EventSegmentUnloaded,
			Source:     source,
			Segment:    id,
			Generation: info.Generation,
			Segments:   info.Segments,
			Timestamp:  now,
		})
	}
	return out
}
