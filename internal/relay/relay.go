// Package relay drains the outbox and fans events out to the message
// broker and the display board cache.
package relay

import (
	"context"
	"log"
	"time"

	"qline/admission-service/internal/store"
)

type Store interface {
	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error)
	GetLastOffset(ctx context.Context) (time.Time, error)
	UpdateOffset(ctx context.Context, value time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, event store.OutboxEvent) error
}

type Board interface {
	Apply(ctx context.Context, event store.OutboxEvent) error
}

type Relay struct {
	store     Store
	publisher Publisher
	board     Board
	batchSize int
}

type Config struct {
	BatchSize int
}

func New(store Store, publisher Publisher, board Board, cfg Config) *Relay {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		board:     board,
		batchSize: batch,
	}
}

// Run drains one batch. The offset only advances past an event once it
// has been handed to the publisher, so a crash replays the tail; the
// broker side is at-least-once.
func (r *Relay) Run(ctx context.Context) error {
	last, err := r.store.GetLastOffset(ctx)
	if err != nil {
		return err
	}

	events, err := r.store.ListOutboxEvents(ctx, last, r.batchSize)
	if err != nil {
		return err
	}

	var advanced bool
	for _, event := range events {
		if r.publisher != nil {
			if err := r.publisher.Publish(ctx, event); err != nil {
				log.Printf("relay publish error: %v", err)
				break
			}
		}
		if r.board != nil {
			if err := r.board.Apply(ctx, event); err != nil {
				log.Printf("relay board error: %v", err)
			}
		}
		last = event.CreatedAt
		advanced = true
	}

	if advanced {
		if err := r.store.UpdateOffset(ctx, last); err != nil {
			return err
		}
	}
	return nil
}

func Start(ctx context.Context, interval time.Duration, r *Relay) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Run(ctx); err != nil {
				log.Printf("relay error: %v", err)
			}
		}
	}
}
