package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/kafka"
)

// BatchPublisher writes a batch of events. *kafka.Producer implements it.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Record) error
}

// Collector buffers lifecycle events and publishes them in batches, either
// when the batch fills or after flushInterval, whichever comes first.
type Collector struct {
	publisher     BatchPublisher
	mu            sync.Mutex
	buffer        []kafka.Record
	batchSize     int
	maxBuffered   int
	flushInterval time.Duration
	kick          chan struct{}
	logger        *slog.Logger
	done          chan struct{}
}

// NewCollector creates a Collector. Zero values pick defaults.
func NewCollector(publisher BatchPublisher, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		buffer:        make([]kafka.Record, 0, batchSize),
		batchSize:     batchSize,
		maxBuffered:   batchSize * 3,
		flushInterval: flushInterval,
		kick:          make(chan struct{}, 1),
		logger:        slog.Default().With("component", "lifecycle-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the background flush loop, which runs until ctx ends and
// then flushes once more with a short deadline.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.flush(ctx)
			case <-c.kick:
				c.flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("lifecycle collector started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track buffers ev. A full batch wakes the flush loop.
func (c *Collector) Track(ev LifecycleEvent) {
	c.mu.Lock()
	c.buffer = append(c.buffer, ev)
	c.trimLocked()
	full := len(c.buffer) >= c.batchSize
	c.mu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Close waits for the flush loop to finish. Cancel the Start context first.
func (c *Collector) Close() {
	<-c.done
}

// BufferLen returns the number of events waiting to be published.
func (c *Collector) BufferLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Record, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("batch flush failed",
			"batch_size", len(batch),
			"error", err,
		)
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		c.trimLocked()
		c.mu.Unlock()
		return
	}

	c.logger.Debug("batch flushed", "events", len(batch))
}

// trimLocked drops the oldest events beyond maxBuffered.
func (c *Collector) trimLocked() {
	if over := len(c.buffer) - c.maxBuffered; over > 0 {
		c.buffer = append(c.buffer[:0:0], c.buffer[over:]...)
		c.logger.Warn("lifecycle buffer overflow, oldest events dropped", "dropped", over)
	}
}
