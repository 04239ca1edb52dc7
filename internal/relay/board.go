package relay

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"qline/admission-service/internal/store"

	"github.com/redis/go-redis/v9"
)

// RedisBoard mirrors the latest queue snapshots into Redis hashes so
// display clients can read the now-serving number without hitting
// Postgres.
type RedisBoard struct {
	client *redis.Client
}

func NewRedisBoard(client *redis.Client) *RedisBoard {
	return &RedisBoard{client: client}
}

func (b *RedisBoard) Apply(ctx context.Context, event store.OutboxEvent) error {
	var payload store.EventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return err
	}
	if payload.Queue == nil {
		return nil
	}

	queue := payload.Queue
	fields := map[string]interface{}{
		"name":           queue.Name,
		"kind":           queue.Kind,
		"status":         queue.Status,
		"current_number": strconv.FormatInt(queue.SequenceCounter, 10),
		"updated_at":     queue.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if queue.StockRemaining != nil {
		fields["stock_remaining"] = strconv.Itoa(*queue.StockRemaining)
	}

	return b.client.HSet(ctx, "board:"+queue.QueueID, fields).Err()
}
