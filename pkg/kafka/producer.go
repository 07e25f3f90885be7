package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/config"
)

// Header names set on every published message.
const (
	HeaderEventType   = "event-type"
	HeaderContentType = "content-type"
)

// Record is something the Producer can publish. Key picks the partition, so
// records sharing a key (the same segment, say) stay ordered. Kind travels in
// the event-type header and lets consumers route without decoding the body.
type Record interface {
	Key() string
	Kind() string
}

// Producer publishes records as JSON to one topic.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:  kafka.TCP(cfg.Brokers...),
		Topic: topic,
		// consistent hashing keeps one segment's loads and unloads on one
		// partition
		Balancer:     &kafka.Hash{},
		BatchTimeout: 20 * time.Millisecond,
		MaxAttempts:  5,
		RequiredAcks: kafka.RequireAll,
	}
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// PublishBatch writes records in one request. Nothing is sent if any record
// fails to encode.
func (p *Producer) PublishBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(records))
	kinds := make(map[string]int)
	for i, r := range records {
		msg, err := newMessage(r)
		if err != nil {
			return err
		}
		msgs[i] = msg
		kinds[r.Kind()]++
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("failed to publish records", "count", len(msgs), "error", err)
		return fmt.Errorf("publishing %d records: %w", len(msgs), err)
	}
	p.logger.Debug("records published", "count", len(msgs), "kinds", kinds)
	return nil
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func newMessage(r Record) (kafka.Message, error) {
	value, err := json.Marshal(r)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding %s record %q: %w", r.Kind(), r.Key(), err)
	}
	return kafka.Message{
		Key:   []byte(r.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(r.Kind())},
			{Key: HeaderContentType, Value: []byte("application/json")},
		},
		Time: time.Now().UTC(),
	}, nil
}

// header returns the value of the named header, or "" if absent.
func header(headers []kafka.Header, name string) string {
	for _, h := range headers {
		if h.Key == name {
			return string(h.Value)
		}
	}
	return ""
}
