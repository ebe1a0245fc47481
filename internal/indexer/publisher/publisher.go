// Package publisher announces published generations on Kafka so downstream
// consumers can refresh their own caches or replicas.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/resilience"
)

const defaultBuffer = 256

// CommitEvent is the JSON payload published for each new generation.
type CommitEvent struct {
	Collection  string    `json:"collection"`
	Generation  uint64    `json:"generation"`
	Docs        int       `json:"docs"`
	Segments    int       `json:"segments"`
	Compaction  bool      `json:"compaction"`
	CommittedAt time.Time `json:"committed_at"`
}

// EventSink is satisfied by *kafka.Producer.
type EventSink interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher queues commit notifications and forwards them to a sink.
type Publisher struct {
	sink   EventSink
	events chan CommitEvent
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// New creates a Publisher with room for buffer pending events. Events that
// arrive while the buffer is full are dropped.
func New(sink EventSink, buffer int, retry resilience.RetryConfig) *Publisher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if retry.Retryable == nil {
		retry.Retryable = func(err error) bool { return !errors.Is(err, kafka.ErrEncode) }
	}
	return &Publisher{
		sink:   sink,
		events: make(chan CommitEvent, buffer),
		retry:  retry,
		logger: slog.Default().With("component", "commit-publisher"),
	}
}

// Hook returns a CommitHook for indexer.Manager.Subscribe. It never blocks
// the committing goroutine.
func (p *Publisher) Hook() indexer.CommitHook {
	return func(info indexer.CommitInfo) {
		event := CommitEvent{
			Collection:  info.Collection,
			Generation:  info.Generation,
			Docs:        info.Docs,
			Segments:    info.Segments,
			Compaction:  info.Compaction,
			CommittedAt: info.CommittedAt.UTC(),
		}
		select {
		case p.events <- event:
		default:
			p.logger.Warn("commit event dropped, buffer full",
				"collection", info.Collection,
				"generation", info.Generation,
			)
		}
	}
}

// Run publishes queued events until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("commit publisher started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("commit publisher stopping", "pending", len(p.events))
			return
		case event := <-p.events:
			p.publish(ctx, event)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, event CommitEvent) {
	msg := kafka.Event{
		Key:   event.Collection,
		Value: event,
	}
	err := resilience.Retry(ctx, "publish-commit", p.retry, func() error {
		return p.sink.Publish(ctx, msg)
	})
	if err != nil {
		p.logger.Error("failed to publish commit event",
			"collection", event.Collection,
			"generation", event.Generation,
			"error", err,
		)
		return
	}
	p.logger.Debug("commit event published",
		"collection", event.Collection,
		"generation", event.Generation,
	)
}
