package models

import "time"

type Entry struct {
	EntryID           string    `json:"entry_id"`
	QueueID           string    `json:"queue_id"`
	SequenceNumber    int64     `json:"sequence_number"`
	Status            string    `json:"status"`
	QuantityAllocated int       `json:"quantity_allocated"`
	CashierID         *string   `json:"cashier_id,omitempty"`
	CustomerLabel     string    `json:"customer_label,omitempty"`
	RequestID         string    `json:"request_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusReady      = "ready"
	StatusServing    = "serving"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// TerminalStatus reports whether status is a sink state of the entry
// lifecycle. Terminal entries are never mutated again.
func TerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}
