// Package kafka carries the index's two topics over segmentio/kafka-go:
// term-ingest messages into the indexer and segment lifecycle records out of
// both services.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/resilience"
)

// Message is a fetched message as handlers see it.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Kind      string
	Time      time.Time
}

// MessageHandler processes one message. Transient errors are retried in
// place; wrap an error with resilience.Permanent to drop the message at once.
type MessageHandler func(ctx context.Context, msg Message) error

// ConsumerStats counts what happened to fetched messages.
type ConsumerStats struct {
	Handled     int64
	Dropped     int64
	FetchErrors int64
}

// Consumer reads one topic as part of the configured group. Messages are
// handled in partition order and committed once handled or dropped, so a
// poison message cannot stall its partition.
type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	retry   resilience.RetryConfig
	logger  *slog.Logger

	handled     atomic.Int64
	dropped     atomic.Int64
	fetchErrors atomic.Int64
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return &Consumer{
		reader:  r,
		handler: handler,
		retry:   resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond},
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start fetches and handles messages until ctx is cancelled, then closes the
// reader. Fetch errors back off up to five seconds.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()

	backoff := 100 * time.Millisecond
	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "stats", c.Stats())
				return nil
			}
			c.fetchErrors.Add(1)
			c.logger.Error("fetch failed", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff = min(backoff*2, 5*time.Second)
			continue
		}
		backoff = 100 * time.Millisecond

		if !c.process(ctx, fromKafka(km)) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, km); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed", "partition", km.Partition, "offset", km.Offset, "error", err)
		}
	}
}

// process runs the handler with retries. It reports whether the message may
// be committed, which is false only when ctx ended first.
func (c *Consumer) process(ctx context.Context, msg Message) bool {
	err := resilience.Retry(ctx, "kafka.handle", c.retry, func() error {
		return c.handler(ctx, msg)
	})
	if err == nil {
		c.handled.Add(1)
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	c.dropped.Add(1)
	c.logger.Warn("message dropped",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
		"kind", msg.Kind,
		"error", err,
	)
	return true
}

// Stats returns counters since the consumer was created.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Handled:     c.handled.Load(),
		Dropped:     c.dropped.Load(),
		FetchErrors: c.fetchErrors.Load(),
	}
}

// Close closes the reader. Start closes it too when ctx ends.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func fromKafka(km kafka.Message) Message {
	return Message{
		Topic:     km.Topic,
		Partition: km.Partition,
		Offset:    km.Offset,
		Key:       km.Key,
		Value:     km.Value,
		Kind:      header(km.Headers, HeaderEventType),
		Time:      km.Time,
	}
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		return v, fmt.Errorf("decoding kafka message: %w", err)
	}
	return v, nil
}
