package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qline/admission-service/internal/models"
	"qline/admission-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultLockTimeout = 2 * time.Second
	defaultMaxAttempts = 3
)

type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	maxAttempts int
}

type Options struct {
	LockTimeout time.Duration
	MaxAttempts int
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	lockTimeout := options.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	attempts := options.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Store{
		pool:        pool,
		lockTimeout: lockTimeout,
		maxAttempts: attempts,
	}
}

// runTx executes fn inside a transaction with a bounded lock_timeout.
// Lock timeouts, serialization failures and deadlocks are retried up to
// maxAttempts before surfacing as ErrContention.
func (s *Store) runTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err = s.attemptTx(ctx, fn)
		if !retryableTxError(err) {
			return err
		}
	}
	return store.ErrContention
}

func (s *Store) attemptTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		return err
	}
	err = tx.Commit(ctx)
	return err
}

func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
		return true
	}
	return false
}

func (s *Store) CreateQueue(ctx context.Context, input store.CreateQueueInput) (models.Queue, error) {
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	status := models.QueueActive
	depleted := false
	var capacity, remaining interface{}
	if input.Kind == models.KindStocked {
		capacity = input.StockCapacity
		remaining = input.StockCapacity
		if input.StockCapacity == 0 {
			status = models.QueueClosed
			depleted = true
		}
	}

	var queue models.Queue
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO queues (queue_id, name, kind, status, sequence_counter, stock_capacity, stock_remaining, depleted, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8, $8)
			RETURNING `+queueColumns+`
		`, uuid.NewString(), input.Name, input.Kind, status, capacity, remaining, depleted, createdAt)
		var err error
		queue, err = scanQueue(row)
		if err != nil {
			return err
		}
		return insertOutboxEvent(ctx, tx, store.EventQueueUpdated, store.EventPayload{Action: "create", Queue: &queue})
	})
	if err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE queue_id = $1
	`, queueID)
	queue, err := scanQueue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) ListQueues(ctx context.Context) ([]models.Queue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queues []models.Queue
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, queue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return queues, nil
}

func (s *Store) ListEntries(ctx context.Context, queueID string) ([]models.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE queue_id = $1 AND status IN ('queued', 'in_progress', 'ready', 'serving')
		ORDER BY sequence_number ASC
	`, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE entry_id = $1
	`, entryID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Entry{}, store.ErrEntryNotFound
		}
		return models.Entry{}, err
	}
	return entry, nil
}

// Admit assigns the next sequence number and, for stocked queues,
// debits the pool; the queue row stays locked for the whole
// read-modify-write so concurrent admissions serialize per queue.
func (s *Store) Admit(ctx context.Context, input store.AdmitInput) (models.Entry, bool, error) {
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var entry models.Entry
	var admitted bool
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		existing, found, err := findEntryByRequestID(ctx, tx, input.RequestID)
		if err != nil {
			return err
		}
		if found {
			entry = existing
			admitted = false
			return nil
		}

		queue, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		if queue.Status != models.QueueActive {
			return store.ErrQueueNotActive
		}

		quantity := 0
		if queue.Stocked() {
			if input.Quantity <= 0 {
				return store.ErrInvalidQuantity
			}
			if input.Quantity > *queue.StockRemaining {
				return store.ErrInsufficientStock
			}
			quantity = input.Quantity
		}

		nextNumber := queue.SequenceCounter + 1
		row := tx.QueryRow(ctx, `
			INSERT INTO queue_entries (entry_id, queue_id, sequence_number, status, quantity_allocated, customer_label, request_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			ON CONFLICT (request_id) DO NOTHING
			RETURNING `+entryColumns+`
		`, uuid.NewString(), queue.QueueID, nextNumber, models.StatusQueued, quantity, input.CustomerLabel, input.RequestID, createdAt)
		entry, err = scanEntry(row)
		if err != nil {
			return err
		}

		updates := queueUpdate{SequenceCounter: &nextNumber}
		depletedNow := false
		if queue.Stocked() {
			newRemaining := *queue.StockRemaining - quantity
			updates.StockRemaining = &newRemaining
			if newRemaining == 0 {
				closed := models.QueueClosed
				depleted := true
				updates.Status = &closed
				updates.Depleted = &depleted
				depletedNow = true
			}
		}
		queue, err = applyQueueUpdate(ctx, tx, queue.QueueID, updates)
		if err != nil {
			return err
		}

		if err = insertEntryEvent(ctx, tx, entry, store.EventEntryCreated); err != nil {
			return err
		}
		if err = insertOutboxEvent(ctx, tx, store.EventEntryCreated, store.EventPayload{Action: "admit", Queue: &queue, Entry: &entry}); err != nil {
			return err
		}
		if err = insertOutboxEvent(ctx, tx, store.EventQueueUpdated, store.EventPayload{Action: "admit", Queue: &queue}); err != nil {
			return err
		}
		if depletedNow {
			if err = insertOutboxEvent(ctx, tx, store.EventStockDepleted, store.EventPayload{Action: "admit", Queue: &queue}); err != nil {
				return err
			}
		}
		admitted = true
		return nil
	})
	if err != nil {
		return models.Entry{}, false, err
	}
	return entry, admitted, nil
}

// Transition validates the requested edge against the transition table
// and applies it. Cancellation of a previously allocated entry restores
// the queue's stock in the same transaction; a depletion-closed queue
// reopens when the restore raises stock above zero.
func (s *Store) Transition(ctx context.Context, input store.TransitionInput) (models.Entry, bool, error) {
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	action := "transition:" + input.Target

	var entry models.Entry
	var applied bool
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		_, replayEntryID, found, err := findActionRequest(ctx, tx, action, input.RequestID)
		if err != nil {
			return err
		}
		if found {
			entry, err = getEntryTx(ctx, tx, replayEntryID, false)
			if err != nil {
				return err
			}
			applied = false
			return nil
		}

		current, err := getEntryTx(ctx, tx, input.EntryID, false)
		if err != nil {
			return err
		}
		// Queue lock first: every status change on a queue's entries
		// serializes behind it, which keeps stock restoration atomic
		// with the entry write.
		queue, err := lockQueue(ctx, tx, current.QueueID)
		if err != nil {
			return err
		}
		current, err = getEntryTx(ctx, tx, input.EntryID, true)
		if err != nil {
			return err
		}

		if err = store.CheckTransition(current.Status, input.Target); err != nil {
			return err
		}
		from := current.Status

		row := tx.QueryRow(ctx, `
			UPDATE queue_entries
			SET status = $1, updated_at = $2
			WHERE entry_id = $3
			RETURNING `+entryColumns+`
		`, input.Target, occurredAt, current.EntryID)
		entry, err = scanEntry(row)
		if err != nil {
			return err
		}

		var queueSnapshot *models.Queue
		if input.Target == models.StatusCancelled && queue.Stocked() && entry.QuantityAllocated > 0 {
			newRemaining := *queue.StockRemaining + entry.QuantityAllocated
			if newRemaining > *queue.StockCapacity {
				// adjust_stock may already have replenished past this
				// entry's share; never exceed capacity.
				newRemaining = *queue.StockCapacity
			}
			updates := queueUpdate{StockRemaining: &newRemaining}
			if queue.Status == models.QueueClosed && queue.Depleted && newRemaining > 0 {
				active := models.QueueActive
				depleted := false
				updates.Status = &active
				updates.Depleted = &depleted
			}
			queue, err = applyQueueUpdate(ctx, tx, queue.QueueID, updates)
			if err != nil {
				return err
			}
			queueSnapshot = &queue
			if err = insertOutboxEvent(ctx, tx, store.EventQueueUpdated, store.EventPayload{Action: "cancel", Queue: &queue}); err != nil {
				return err
			}
		}

		if err = insertEntryEvent(ctx, tx, entry, "entry."+input.Target); err != nil {
			return err
		}
		if err = insertOutboxEvent(ctx, tx, store.EventEntryStatusChanged, store.EventPayload{
			Action: input.Target,
			From:   from,
			To:     input.Target,
			Entry:  &entry,
			Queue:  queueSnapshot,
		}); err != nil {
			return err
		}
		if err = insertActionRequest(ctx, tx, action, input.RequestID, entry.QueueID, entry.EntryID); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return models.Entry{}, false, err
	}
	return entry, applied, nil
}

// AssignCashier updates the handler reference only; it deliberately
// skips the queue lock because the field is unrelated to sequencing
// and stock.
func (s *Store) AssignCashier(ctx context.Context, input store.AssignInput) (models.Entry, error) {
	var entry models.Entry
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		current, err := getEntryTx(ctx, tx, input.EntryID, true)
		if err != nil {
			return err
		}
		if models.TerminalStatus(current.Status) {
			return store.ErrEntryTerminal
		}
		row := tx.QueryRow(ctx, `
			UPDATE queue_entries
			SET cashier_id = $1, updated_at = $2
			WHERE entry_id = $3
			RETURNING `+entryColumns+`
		`, nullIfEmpty(input.CashierID), time.Now().UTC(), current.EntryID)
		entry, err = scanEntry(row)
		if err != nil {
			return err
		}
		return insertEntryEvent(ctx, tx, entry, "entry.assigned")
	})
	if err != nil {
		return models.Entry{}, err
	}
	return entry, nil
}

func (s *Store) PauseQueue(ctx context.Context, input store.LifecycleInput) (models.Queue, error) {
	var queue models.Queue
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		current, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		if current.Status == models.QueueClosed {
			return store.ErrQueueClosed
		}
		if current.Status == models.QueuePaused {
			queue = current
			return nil
		}
		paused := models.QueuePaused
		queue, err = applyQueueUpdate(ctx, tx, current.QueueID, queueUpdate{Status: &paused})
		if err != nil {
			return err
		}
		return insertOutboxEvent(ctx, tx, store.EventQueueUpdated, store.EventPayload{Action: "pause", Queue: &queue})
	})
	if err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) ResumeQueue(ctx context.Context, input store.LifecycleInput) (models.Queue, error) {
	var queue models.Queue
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		current, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		// close is irreversible by resume; a closed queue only reopens
		// through stock replenishment.
		if current.Status == models.QueueClosed {
			return store.ErrQueueClosed
		}
		if current.Status == models.QueueActive {
			queue = current
			return nil
		}
		active := models.QueueActive
		queue, err = applyQueueUpdate(ctx, tx, current.QueueID, queueUpdate{Status: &active})
		if err != nil {
			return err
		}
		return insertOutboxEvent(ctx, tx, store.EventQueueUpdated, store.EventPayload{Action: "resume", Queue: &queue})
	})
	if err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) CloseQueue(ctx context.Context, input store.LifecycleInput) (models.Queue, error) {
	var queue models.Queue
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		current, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		if current.Status == models.QueueClosed && !current.Depleted {
			queue = current
			return nil
		}
		closed := models.QueueClosed
		depleted := false
		queue, err = applyQueueUpdate(ctx, tx, current.QueueID, queueUpdate{Status: &closed, Depleted: &depleted})
		if err != nil {
			return err
		}
		return insertOutboxEvent(ctx, tx, store.EventQueueUpdated, store.EventPayload{Action: "close", Queue: &queue})
	})
	if err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) ResetQueue(ctx context.Context, input store.LifecycleInput) (models.Queue, error) {
	var queue models.Queue
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		current, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		var zero int64
		updates := queueUpdate{SequenceCounter: &zero}
		if current.Stocked() {
			capacity := *current.StockCapacity
			updates.StockRemaining = &capacity
			if current.Status == models.QueueClosed && capacity > 0 {
				active := models.QueueActive
				depleted := false
				updates.Status = &active
				updates.Depleted = &depleted
			}
		}
		queue, err = applyQueueUpdate(ctx, tx, current.QueueID, updates)
		if err != nil {
			return err
		}
		return insertOutboxEvent(ctx, tx, store.EventQueueUpdated, store.EventPayload{Action: "reset", Queue: &queue})
	})
	if err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

// SkipNumber burns the next sequence number without creating an entry.
func (s *Store) SkipNumber(ctx context.Context, input store.LifecycleInput) (models.Queue, bool, error) {
	var queue models.Queue
	var applied bool
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		replayQueueID, _, found, err := findActionRequest(ctx, tx, "skip", input.RequestID)
		if err != nil {
			return err
		}
		if found {
			queue, err = getQueueTx(ctx, tx, replayQueueID)
			if err != nil {
				return err
			}
			applied = false
			return nil
		}

		current, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		if current.Status != models.QueueActive {
			return store.ErrQueueNotActive
		}
		next := current.SequenceCounter + 1
		queue, err = applyQueueUpdate(ctx, tx, current.QueueID, queueUpdate{SequenceCounter: &next})
		if err != nil {
			return err
		}
		if err = insertActionRequest(ctx, tx, "skip", input.RequestID, queue.QueueID, ""); err != nil {
			return err
		}
		if err = insertOutboxEvent(ctx, tx, store.EventQueueUpdated, store.EventPayload{Action: "skip", Queue: &queue}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return models.Queue{}, false, err
	}
	return queue, applied, nil
}

// RecallCurrent re-emits the queue's current state without mutating it,
// so displays and notifiers can be re-triggered.
func (s *Store) RecallCurrent(ctx context.Context, input store.LifecycleInput) (models.Queue, error) {
	var queue models.Queue
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		current, err := getQueueTx(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		queue = current
		return insertOutboxEvent(ctx, tx, store.EventQueueUpdated, store.EventPayload{Action: "recall", Queue: &queue})
	})
	if err != nil {
		return models.Queue{}, err
	}
	return queue, nil
}

func (s *Store) AdjustStock(ctx context.Context, input store.AdjustStockInput) (models.Queue, bool, error) {
	var queue models.Queue
	var applied bool
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		replayQueueID, _, found, err := findActionRequest(ctx, tx, "adjust_stock", input.RequestID)
		if err != nil {
			return err
		}
		if found {
			queue, err = getQueueTx(ctx, tx, replayQueueID)
			if err != nil {
				return err
			}
			applied = false
			return nil
		}

		current, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		if !current.Stocked() {
			return store.ErrNotStocked
		}
		if input.NewAmount < 0 {
			return store.ErrInvalidQuantity
		}

		remaining := input.NewAmount
		capacity := *current.StockCapacity
		if remaining > capacity {
			capacity = remaining
		}
		updates := queueUpdate{StockRemaining: &remaining, StockCapacity: &capacity}
		depletedNow := false
		if remaining == 0 {
			closed := models.QueueClosed
			depleted := true
			updates.Status = &closed
			updates.Depleted = &depleted
			depletedNow = current.Status != models.QueueClosed || !current.Depleted
		} else if current.Status == models.QueueClosed {
			active := models.QueueActive
			depleted := false
			updates.Status = &active
			updates.Depleted = &depleted
		}
		queue, err = applyQueueUpdate(ctx, tx, current.QueueID, updates)
		if err != nil {
			return err
		}
		if err = insertActionRequest(ctx, tx, "adjust_stock", input.RequestID, queue.QueueID, ""); err != nil {
			return err
		}
		if err = insertOutboxEvent(ctx, tx, store.EventQueueUpdated, store.EventPayload{Action: "adjust_stock", Queue: &queue}); err != nil {
			return err
		}
		if depletedNow {
			if err = insertOutboxEvent(ctx, tx, store.EventStockDepleted, store.EventPayload{Action: "adjust_stock", Queue: &queue}); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return models.Queue{}, false, err
	}
	return queue, applied, nil
}

// UndoLastEntry reverses the most recent admission. "Last" is fenced on
// the queue's sequence counter under the queue lock: if the newest
// issued number does not belong to an undoable entry (a skip happened,
// or a fresher admission landed first), the undo fails instead of
// touching the wrong entry.
func (s *Store) UndoLastEntry(ctx context.Context, input store.LifecycleInput) (models.Queue, bool, error) {
	var queue models.Queue
	var applied bool
	err := s.runTx(ctx, func(tx pgx.Tx) error {
		replayQueueID, _, found, err := findActionRequest(ctx, tx, "undo_last_entry", input.RequestID)
		if err != nil {
			return err
		}
		if found {
			queue, err = getQueueTx(ctx, tx, replayQueueID)
			if err != nil {
				return err
			}
			applied = false
			return nil
		}

		current, err := lockQueue(ctx, tx, input.QueueID)
		if err != nil {
			return err
		}
		if !current.Stocked() {
			return store.ErrNotStocked
		}

		row := tx.QueryRow(ctx, `
			SELECT `+entryColumns+`
			FROM queue_entries
			WHERE queue_id = $1 AND sequence_number = $2
			FOR UPDATE
		`, current.QueueID, current.SequenceCounter)
		last, err := scanEntry(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				var undoable bool
				check := tx.QueryRow(ctx, `
					SELECT EXISTS (
						SELECT 1 FROM queue_entries
						WHERE queue_id = $1 AND quantity_allocated > 0
					)
				`, current.QueueID)
				if err := check.Scan(&undoable); err != nil {
					return err
				}
				if !undoable {
					return store.ErrNoEntriesToUndo
				}
				// The newest number was a skip; the latest allocated
				// entry is no longer "last".
				return store.ErrContention
			}
			return err
		}
		if models.TerminalStatus(last.Status) {
			return store.ErrEntryTerminal
		}
		if last.QuantityAllocated == 0 {
			return store.ErrNoEntriesToUndo
		}

		if err = insertEntryEvent(ctx, tx, last, "entry.undone"); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `DELETE FROM queue_entries WHERE entry_id = $1`, last.EntryID); err != nil {
			return err
		}

		remaining := *current.StockRemaining + last.QuantityAllocated
		if remaining > *current.StockCapacity {
			remaining = *current.StockCapacity
		}
		counter := current.SequenceCounter - 1
		if counter < 0 {
			counter = 0
		}
		updates := queueUpdate{SequenceCounter: &counter, StockRemaining: &remaining}
		if current.Status == models.QueueClosed && current.Depleted && remaining > 0 {
			active := models.QueueActive
			depleted := false
			updates.Status = &active
			updates.Depleted = &depleted
		}
		queue, err = applyQueueUpdate(ctx, tx, current.QueueID, updates)
		if err != nil {
			return err
		}
		if err = insertActionRequest(ctx, tx, "undo_last_entry", input.RequestID, queue.QueueID, last.EntryID); err != nil {
			return err
		}
		if err = insertOutboxEvent(ctx, tx, store.EventQueueUpdated, store.EventPayload{Action: "undo_last_entry", Queue: &queue}); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return models.Queue{}, false, err
	}
	return queue, applied, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) ListEntryEvents(ctx context.Context, entryID string) ([]store.EntryEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, entry_seq, type, payload, created_at, prev_hash, hash
		FROM entry_events
		WHERE entry_id = $1
		ORDER BY entry_seq ASC
	`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.EntryEvent
	for rows.Next() {
		var event store.EntryEvent
		if err := rows.Scan(&event.EntryID, &event.EntrySeq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// GetLastOffset and UpdateOffset back the relay's outbox cursor.
func (s *Store) GetLastOffset(ctx context.Context) (time.Time, error) {
	var value time.Time
	row := s.pool.QueryRow(ctx, `
		SELECT last_event_time
		FROM relay_offsets
		WHERE id = 1
	`)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return value, nil
}

func (s *Store) UpdateOffset(ctx context.Context, value time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_offsets (id, last_event_time)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_event_time = EXCLUDED.last_event_time
	`, value)
	return err
}

const queueColumns = "queue_id, name, kind, status, sequence_counter, stock_capacity, stock_remaining, depleted, created_at, updated_at"

const entryColumns = "entry_id, queue_id, sequence_number, status, quantity_allocated, cashier_id, customer_label, request_id, created_at, updated_at"

func scanQueue(row pgx.Row) (models.Queue, error) {
	var queue models.Queue
	var capacityNull, remainingNull sql.NullInt64
	if err := row.Scan(&queue.QueueID, &queue.Name, &queue.Kind, &queue.Status, &queue.SequenceCounter, &capacityNull, &remainingNull, &queue.Depleted, &queue.CreatedAt, &queue.UpdatedAt); err != nil {
		return models.Queue{}, err
	}
	if capacityNull.Valid {
		capacity := int(capacityNull.Int64)
		queue.StockCapacity = &capacity
	}
	if remainingNull.Valid {
		remaining := int(remainingNull.Int64)
		queue.StockRemaining = &remaining
	}
	return queue, nil
}

func scanEntry(row pgx.Row) (models.Entry, error) {
	var entry models.Entry
	var cashierNull sql.NullString
	var labelNull sql.NullString
	if err := row.Scan(&entry.EntryID, &entry.QueueID, &entry.SequenceNumber, &entry.Status, &entry.QuantityAllocated, &cashierNull, &labelNull, &entry.RequestID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return models.Entry{}, err
	}
	entry.CashierID = nullStringPtr(cashierNull)
	if labelNull.Valid {
		entry.CustomerLabel = labelNull.String
	}
	return entry, nil
}

func getQueueTx(ctx context.Context, tx pgx.Tx, queueID string) (models.Queue, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE queue_id = $1
	`, queueID)
	queue, err := scanQueue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	return queue, nil
}

func lockQueue(ctx context.Context, tx pgx.Tx, queueID string) (models.Queue, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE queue_id = $1
		FOR UPDATE
	`, queueID)
	queue, err := scanQueue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	return queue, nil
}

func getEntryTx(ctx context.Context, tx pgx.Tx, entryID string, forUpdate bool) (models.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM queue_entries
		WHERE entry_id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	row := tx.QueryRow(ctx, query, entryID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Entry{}, store.ErrEntryNotFound
		}
		return models.Entry{}, err
	}
	return entry, nil
}

func findEntryByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Entry, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE request_id = $1
	`, requestID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Entry{}, false, nil
		}
		return models.Entry{}, false, err
	}
	return entry, true, nil
}

type queueUpdate struct {
	SequenceCounter *int64
	StockRemaining  *int
	StockCapacity   *int
	Status          *string
	Depleted        *bool
}

func applyQueueUpdate(ctx context.Context, tx pgx.Tx, queueID string, updates queueUpdate) (models.Queue, error) {
	query := "UPDATE queues SET updated_at = $1"
	args := []interface{}{time.Now().UTC()}
	argPos := 2

	if updates.SequenceCounter != nil {
		query += fmt.Sprintf(", sequence_counter = $%d", argPos)
		args = append(args, *updates.SequenceCounter)
		argPos++
	}
	if updates.StockRemaining != nil {
		query += fmt.Sprintf(", stock_remaining = $%d", argPos)
		args = append(args, *updates.StockRemaining)
		argPos++
	}
	if updates.StockCapacity != nil {
		query += fmt.Sprintf(", stock_capacity = $%d", argPos)
		args = append(args, *updates.StockCapacity)
		argPos++
	}
	if updates.Status != nil {
		query += fmt.Sprintf(", status = $%d", argPos)
		args = append(args, *updates.Status)
		argPos++
	}
	if updates.Depleted != nil {
		query += fmt.Sprintf(", depleted = $%d", argPos)
		args = append(args, *updates.Depleted)
		argPos++
	}

	query += fmt.Sprintf(" WHERE queue_id = $%d RETURNING %s", argPos, queueColumns)
	args = append(args, queueID)

	row := tx.QueryRow(ctx, query, args...)
	queue, err := scanQueue(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	return queue, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, payload store.EventPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payloadJSON, time.Now().UTC())
	return err
}

func insertEntryEvent(ctx context.Context, tx pgx.Tx, entry models.Entry, eventType string) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.EntryID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT entry_seq, hash
		FROM entry_events
		WHERE entry_id = $1
		ORDER BY entry_seq DESC
		LIMIT 1
		FOR UPDATE
	`, entry.EntryID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	createdAt := time.Now().UTC()
	hash := store.ComputeEntryEventHash(prev, entry.EntryID, eventType, payload, createdAt, nextSeq)

	_, err = tx.Exec(ctx, `
		INSERT INTO entry_events (entry_id, entry_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.EntryID, nextSeq, eventType, payload, createdAt, prev, hash)
	return err
}

func findActionRequest(ctx context.Context, tx pgx.Tx, action, requestID string) (string, string, bool, error) {
	var queueID sql.NullString
	var entryID sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT queue_id, entry_id
		FROM queue_action_requests
		WHERE request_id = $1 AND action = $2
	`, requestID, action)
	if err := row.Scan(&queueID, &entryID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", false, nil
		}
		return "", "", false, err
	}
	return queueID.String, entryID.String, true, nil
}

func insertActionRequest(ctx context.Context, tx pgx.Tx, action, requestID, queueID, entryID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO queue_action_requests (request_id, action, queue_id, entry_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO NOTHING
	`, requestID, action, nullIfEmpty(queueID), nullIfEmpty(entryID), time.Now().UTC())
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
