package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qline/admission-service/internal/models"
)

type EntryEvent struct {
	EntryID   string          `json:"entry_id"`
	EntrySeq  int             `json:"entry_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type entryEventPayload struct {
	EntryID           string     `json:"entry_id"`
	QueueID           string     `json:"queue_id"`
	SequenceNumber    *int64     `json:"sequence_number"`
	Status            string     `json:"status"`
	QuantityAllocated *int       `json:"quantity_allocated"`
	CashierID         *string    `json:"cashier_id"`
	CustomerLabel     string     `json:"customer_label"`
	CreatedAt         *time.Time `json:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at"`
}

func ComputeEntryEventHash(prevHash, entryID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, entryID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// RehydrateEntry folds an entry's journal into its latest snapshot.
func RehydrateEntry(events []EntryEvent) (models.Entry, error) {
	var entry models.Entry
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload entryEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Entry{}, err
		}
		if payload.EntryID != "" {
			entry.EntryID = payload.EntryID
		}
		if payload.QueueID != "" {
			entry.QueueID = payload.QueueID
		}
		if payload.SequenceNumber != nil {
			entry.SequenceNumber = *payload.SequenceNumber
		}
		if payload.Status != "" {
			entry.Status = payload.Status
		}
		if payload.QuantityAllocated != nil {
			entry.QuantityAllocated = *payload.QuantityAllocated
		}
		if payload.CashierID != nil {
			entry.CashierID = payload.CashierID
		}
		if payload.CustomerLabel != "" {
			entry.CustomerLabel = payload.CustomerLabel
		}
		if payload.CreatedAt != nil {
			entry.CreatedAt = *payload.CreatedAt
		}
		if payload.UpdatedAt != nil {
			entry.UpdatedAt = *payload.UpdatedAt
		}
	}
	return entry, nil
}
