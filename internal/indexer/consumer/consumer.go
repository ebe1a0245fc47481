// Package consumer reads document events from Kafka and applies them to the
// index manager. Decoding failures and rejected documents are logged and
// acknowledged; anything else leaves the message uncommitted so it is
// redelivered.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/index"
	cerrors "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/postgres"
)

const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// IngestEvent is the Kafka message payload for one document mutation. An
// empty Op means upsert.
type IngestEvent struct {
	Op         string            `json:"op,omitempty"`
	Collection string            `json:"collection"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"embedding,omitempty"`
	IngestedAt time.Time         `json:"ingested_at"`
}

// Indexer is the subset of the index manager the consumer drives.
type Indexer interface {
	Index(ctx context.Context, collection string, doc index.Document, embedding []float32) error
	RemoveDocument(ctx context.Context, collection string, id string) (bool, error)
}

// StatusRecorder stores the outcome of each event. postgres.StatusStore
// implements it.
type StatusRecorder interface {
	RecordStatus(ctx context.Context, collection, docID, status, detail string) error
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

// HandleMessage returns a Kafka MessageHandler applying each IngestEvent to
// ix. status may be nil.
func HandleMessage(ix Indexer, status StatusRecorder) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[IngestEvent](value)
		if err != nil {
			logger.Error("failed to decode ingest event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if event.Collection == "" || event.DocumentID == "" {
			logger.Error("ingest event missing collection or document id",
				"key", string(key),
				"collection", event.Collection,
				"doc_id", event.DocumentID,
			)
			return nil
		}

		logger.Debug("processing ingest event",
			"op", event.Op,
			"collection", event.Collection,
			"doc_id", event.DocumentID,
		)

		switch event.Op {
		case OpDelete:
			removed, err := ix.RemoveDocument(ctx, event.Collection, event.DocumentID)
			if err != nil {
				return fmt.Errorf("removing document %s from %s: %w", event.DocumentID, event.Collection, err)
			}
			record(ctx, status, event, postgres.StatusRemoved, "", logger)
			logger.Info("document removed",
				"collection", event.Collection,
				"doc_id", event.DocumentID,
				"known", removed,
			)
			return nil
		case "", OpUpsert:
		default:
			logger.Error("unknown ingest op",
				"op", event.Op,
				"collection", event.Collection,
				"doc_id", event.DocumentID,
			)
			return nil
		}

		doc := index.Document{
			ID:       event.DocumentID,
			Content:  event.Content,
			Metadata: event.Metadata,
		}
		if err := ix.Index(ctx, event.Collection, doc, event.Embedding); err != nil {
			if cerrors.IsCallerError(err) {
				record(ctx, status, event, postgres.StatusFailed, err.Error(), logger)
				logger.Warn("document rejected",
					"collection", event.Collection,
					"doc_id", event.DocumentID,
					"error", err,
				)
				return nil
			}
			return fmt.Errorf("indexing document %s in %s: %w", event.DocumentID, event.Collection, err)
		}

		record(ctx, status, event, postgres.StatusIndexed, "", logger)
		logger.Info("document staged",
			"collection", event.Collection,
			"doc_id", event.DocumentID,
		)
		return nil
	}
}

func record(ctx context.Context, status StatusRecorder, event IngestEvent, state, detail string, logger *slog.Logger) {
	if status == nil {
		return
	}
	if err := status.RecordStatus(ctx, event.Collection, event.DocumentID, state, detail); err != nil {
		logger.Error("failed to record document status",
			"collection", event.Collection,
			"doc_id", event.DocumentID,
			"status", state,
			"error", err,
		)
	}
}
