// Package watcher turns filesystem changes in a set of directories into a
// bounded stream of events for a single consumer.
package watcher

import (
	"log/slog"
	"time"
)

// Kind classifies an event.
type Kind int

const (
	KindOther Kind = iota
	KindCreate
	KindModify
	KindRemove
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindModify:
		return "modify"
	case KindRemove:
		return "remove"
	default:
		return "other"
	}
}

// Event is one observed change. A single physical change can surface as more
// than one event, so consumers must tolerate repeats.
type Event struct {
	Kind Kind
	Path string
	Time time.Time
}

// Notifier delivers events until closed. Both channels are closed by Close.
type Notifier interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// Config configures a notifier.
type Config struct {
	// Paths are the directories to watch. Subdirectories are not followed.
	Paths []string
	// QueueCapacity bounds the event channel. Delivery blocks when the
	// consumer falls behind.
	QueueCapacity int
	// PollInterval is used by the poller only.
	PollInterval time.Duration
	Logger       *slog.Logger
}

const (
	defaultQueueCapacity = 1024
	defaultPollInterval  = time.Second
	errorQueueCapacity   = 10
)

func (c Config) withDefaults(component string) Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	c.Logger = c.Logger.With("component", component)
	return c
}
