// Package consumer reads term-ingest events from Kafka and feeds them to the
// indexer engine.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/resilience"
)

// IngestEvent is one document's terms. Terms keep their order and may repeat;
// each occurrence becomes one posting.
type IngestEvent struct {
	DocID uint64   `json:"doc_id"`
	Terms []string `json:"terms"`
}

// Indexer is the part of the engine the consumer drives.
type Indexer interface {
	IndexDocument(docID uint64, terms []string) error
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler that indexes each event. Malformed
// or empty events are dropped without retry; any other indexing error is
// retried by the consumer before the message is given up on.
func HandleMessage(ix Indexer) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, msg kafka.Message) error {
		event, err := kafka.DecodeJSON[IngestEvent](msg.Value)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err))
		}

		if err := ix.IndexDocument(event.DocID, event.Terms); err != nil {
			if errors.Is(err, apperrors.ErrInvalidInput) {
				return resilience.Permanent(err)
			}
			return fmt.Errorf("indexing document %d: %w", event.DocID, err)
		}

		logger.Debug("document indexed",
			"doc_id", event.DocID,
			"terms", len(event.Terms),
			"offset", msg.Offset,
		)
		return nil
	}
}
