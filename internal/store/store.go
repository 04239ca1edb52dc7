package store

import (
	"context"
	"encoding/json"
	"time"

	"qline/admission-service/internal/models"
)

type CreateQueueInput struct {
	Name          string
	Kind          string
	StockCapacity int
	CreatedAt     time.Time
}

type AdmitInput struct {
	RequestID     string
	QueueID       string
	Quantity      int
	CustomerLabel string
	CreatedAt     time.Time
}

type TransitionInput struct {
	RequestID  string
	EntryID    string
	Target     string
	OccurredAt time.Time
}

type AssignInput struct {
	EntryID   string
	CashierID string
}

type LifecycleInput struct {
	RequestID  string
	QueueID    string
	OccurredAt time.Time
}

type AdjustStockInput struct {
	RequestID  string
	QueueID    string
	NewAmount  int
	OccurredAt time.Time
}

// QueueStore is the admission engine contract consumed by the HTTP
// layer. The bool results report whether the call mutated state (false
// on an idempotent request_id replay).
type QueueStore interface {
	CreateQueue(ctx context.Context, input CreateQueueInput) (models.Queue, error)
	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	ListQueues(ctx context.Context) ([]models.Queue, error)
	ListEntries(ctx context.Context, queueID string) ([]models.Entry, error)
	GetEntry(ctx context.Context, entryID string) (models.Entry, error)

	Admit(ctx context.Context, input AdmitInput) (models.Entry, bool, error)
	Transition(ctx context.Context, input TransitionInput) (models.Entry, bool, error)
	AssignCashier(ctx context.Context, input AssignInput) (models.Entry, error)

	PauseQueue(ctx context.Context, input LifecycleInput) (models.Queue, error)
	ResumeQueue(ctx context.Context, input LifecycleInput) (models.Queue, error)
	CloseQueue(ctx context.Context, input LifecycleInput) (models.Queue, error)
	ResetQueue(ctx context.Context, input LifecycleInput) (models.Queue, error)
	SkipNumber(ctx context.Context, input LifecycleInput) (models.Queue, bool, error)
	RecallCurrent(ctx context.Context, input LifecycleInput) (models.Queue, error)
	AdjustStock(ctx context.Context, input AdjustStockInput) (models.Queue, bool, error)
	UndoLastEntry(ctx context.Context, input LifecycleInput) (models.Queue, bool, error)

	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
	ListEntryEvents(ctx context.Context, entryID string) ([]EntryEvent, error)
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Event types written to the outbox. Payloads carry the full
// post-mutation snapshots under "queue" and/or "entry".
const (
	EventEntryCreated       = "entry.created"
	EventEntryStatusChanged = "entry.status_changed"
	EventQueueUpdated       = "queue.updated"
	EventStockDepleted      = "queue.stock_depleted"
)

// EventPayload is the decoded shape of an outbox payload.
type EventPayload struct {
	Action string        `json:"action,omitempty"`
	From   string        `json:"from,omitempty"`
	To     string        `json:"to,omitempty"`
	Queue  *models.Queue `json:"queue,omitempty"`
	Entry  *models.Entry `json:"entry,omitempty"`
}
