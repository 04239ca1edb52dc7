package models

import "time"

type Queue struct {
	QueueID         string    `json:"queue_id"`
	Name            string    `json:"name"`
	Kind            string    `json:"kind"`
	Status          string    `json:"status"`
	SequenceCounter int64     `json:"sequence_counter"`
	StockCapacity   *int      `json:"stock_capacity,omitempty"`
	StockRemaining  *int      `json:"stock_remaining,omitempty"`
	Depleted        bool      `json:"depleted,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

const (
	KindPlain   = "plain"
	KindStocked = "stocked"
)

const (
	QueueActive = "active"
	QueuePaused = "paused"
	QueueClosed = "closed"
)

// Stocked reports whether the queue allocates admissions against a
// finite stock pool.
func (q Queue) Stocked() bool {
	return q.Kind == KindStocked
}

func ValidKind(kind string) bool {
	return kind == KindPlain || kind == KindStocked
}
