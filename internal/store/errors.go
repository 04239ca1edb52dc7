package store

import (
	"errors"
	"fmt"
)

var (
	ErrQueueNotFound     = errors.New("queue not found")
	ErrEntryNotFound     = errors.New("entry not found")
	ErrQueueNotActive    = errors.New("queue not active")
	ErrQueueClosed       = errors.New("queue closed")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrNotStocked        = errors.New("queue does not track stock")
	ErrNoEntriesToUndo   = errors.New("no entries to undo")
	ErrEntryTerminal     = errors.New("entry already finalized")
	ErrContention        = errors.New("queue contention")
)

// IllegalTransitionError names the rejected source/target pair so that
// callers can render specific guidance. It matches ErrIllegalTransition
// under errors.Is.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrIllegalTransition
}
