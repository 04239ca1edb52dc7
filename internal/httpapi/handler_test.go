package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qline/admission-service/internal/models"
	"qline/admission-service/internal/store"
)

type fakeStore struct {
	createQueueFn func(ctx context.Context, input store.CreateQueueInput) (models.Queue, error)
	getQueueFn    func(ctx context.Context, queueID string) (models.Queue, error)
	listQueuesFn  func(ctx context.Context) ([]models.Queue, error)
	listEntriesFn func(ctx context.Context, queueID string) ([]models.Entry, error)
	getEntryFn    func(ctx context.Context, entryID string) (models.Entry, error)
	admitFn       func(ctx context.Context, input store.AdmitInput) (models.Entry, bool, error)
	transitionFn  func(ctx context.Context, input store.TransitionInput) (models.Entry, bool, error)
	assignFn      func(ctx context.Context, input store.AssignInput) (models.Entry, error)
	pauseFn       func(ctx context.Context, input store.LifecycleInput) (models.Queue, error)
	resumeFn      func(ctx context.Context, input store.LifecycleInput) (models.Queue, error)
	closeFn       func(ctx context.Context, input store.LifecycleInput) (models.Queue, error)
	resetFn       func(ctx context.Context, input store.LifecycleInput) (models.Queue, error)
	skipFn        func(ctx context.Context, input store.LifecycleInput) (models.Queue, bool, error)
	recallFn      func(ctx context.Context, input store.LifecycleInput) (models.Queue, error)
	adjustFn      func(ctx context.Context, input store.AdjustStockInput) (models.Queue, bool, error)
	undoFn        func(ctx context.Context, input store.LifecycleInput) (models.Queue, bool, error)
	outboxFn      func(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error)
	entryEventsFn func(ctx context.Context, entryID string) ([]store.EntryEvent, error)
}

func (f fakeStore) CreateQueue(ctx context.Context, input store.CreateQueueInput) (models.Queue, error) {
	if f.createQueueFn == nil {
		return models.Queue{}, nil
	}
	return f.createQueueFn(ctx, input)
}

func (f fakeStore) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	if f.getQueueFn == nil {
		return models.Queue{}, nil
	}
	return f.getQueueFn(ctx, queueID)
}

func (f fakeStore) ListQueues(ctx context.Context) ([]models.Queue, error) {
	if f.listQueuesFn == nil {
		return nil, nil
	}
	return f.listQueuesFn(ctx)
}

func (f fakeStore) ListEntries(ctx context.Context, queueID string) ([]models.Entry, error) {
	if f.listEntriesFn == nil {
		return nil, nil
	}
	return f.listEntriesFn(ctx, queueID)
}

func (f fakeStore) GetEntry(ctx context.Context, entryID string) (models.Entry, error) {
	if f.getEntryFn == nil {
		return models.Entry{}, nil
	}
	return f.getEntryFn(ctx, entryID)
}

func (f fakeStore) Admit(ctx context.Context, input store.AdmitInput) (models.Entry, bool, error) {
	if f.admitFn == nil {
		return models.Entry{}, false, nil
	}
	return f.admitFn(ctx, input)
}

func (f fakeStore) Transition(ctx context.Context, input store.TransitionInput) (models.Entry, bool, error) {
	if f.transitionFn == nil {
		return models.Entry{}, false, nil
	}
	return f.transitionFn(ctx, input)
}

func (f fakeStore) AssignCashier(ctx context.Context, input store.AssignInput) (models.Entry, error) {
	if f.assignFn == nil {
		return models.Entry{}, nil
	}
	return f.assignFn(ctx, input)
}

func (f fakeStore) PauseQueue(ctx context.Context, input store.LifecycleInput) (models.Queue, error) {
	if f.pauseFn == nil {
		return models.Queue{}, nil
	}
	return f.pauseFn(ctx, input)
}

func (f fakeStore) ResumeQueue(ctx context.Context, input store.LifecycleInput) (models.Queue, error) {
	if f.resumeFn == nil {
		return models.Queue{}, nil
	}
	return f.resumeFn(ctx, input)
}

func (f fakeStore) CloseQueue(ctx context.Context, input store.LifecycleInput) (models.Queue, error) {
	if f.closeFn == nil {
		return models.Queue{}, nil
	}
	return f.closeFn(ctx, input)
}

func (f fakeStore) ResetQueue(ctx context.Context, input store.LifecycleInput) (models.Queue, error) {
	if f.resetFn == nil {
		return models.Queue{}, nil
	}
	return f.resetFn(ctx, input)
}

func (f fakeStore) SkipNumber(ctx context.Context, input store.LifecycleInput) (models.Queue, bool, error) {
	if f.skipFn == nil {
		return models.Queue{}, false, nil
	}
	return f.skipFn(ctx, input)
}

func (f fakeStore) RecallCurrent(ctx context.Context, input store.LifecycleInput) (models.Queue, error) {
	if f.recallFn == nil {
		return models.Queue{}, nil
	}
	return f.recallFn(ctx, input)
}

func (f fakeStore) AdjustStock(ctx context.Context, input store.AdjustStockInput) (models.Queue, bool, error) {
	if f.adjustFn == nil {
		return models.Queue{}, false, nil
	}
	return f.adjustFn(ctx, input)
}

func (f fakeStore) UndoLastEntry(ctx context.Context, input store.LifecycleInput) (models.Queue, bool, error) {
	if f.undoFn == nil {
		return models.Queue{}, false, nil
	}
	return f.undoFn(ctx, input)
}

func (f fakeStore) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if f.outboxFn == nil {
		return nil, nil
	}
	return f.outboxFn(ctx, after, limit)
}

func (f fakeStore) ListEntryEvents(ctx context.Context, entryID string) ([]store.EntryEvent, error) {
	if f.entryEventsFn == nil {
		return nil, nil
	}
	return f.entryEventsFn(ctx, entryID)
}

func TestCreateQueueSuccess(t *testing.T) {
	st := fakeStore{
		createQueueFn: func(ctx context.Context, input store.CreateQueueInput) (models.Queue, error) {
			capacity := input.StockCapacity
			return models.Queue{
				QueueID:        "11111111-1111-1111-1111-111111111111",
				Name:           input.Name,
				Kind:           input.Kind,
				Status:         models.QueueActive,
				StockCapacity:  &capacity,
				StockRemaining: &capacity,
			}, nil
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{
		"name":           "Bakery pickup",
		"kind":           "stocked",
		"stock_capacity": 40,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/queues", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}

	var queue models.Queue
	if err := json.NewDecoder(resp.Body).Decode(&queue); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if queue.Kind != models.KindStocked || queue.StockRemaining == nil || *queue.StockRemaining != 40 {
		t.Fatalf("unexpected queue response: %+v", queue)
	}
}

func TestCreateQueueMissingCapacity(t *testing.T) {
	h := NewHandler(fakeStore{})

	payload := map[string]interface{}{
		"name": "Bakery pickup",
		"kind": "stocked",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/queues", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCreateQueueCapacityOnPlain(t *testing.T) {
	h := NewHandler(fakeStore{})

	payload := map[string]interface{}{
		"name":           "Walk-ins",
		"kind":           "plain",
		"stock_capacity": 10,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/queues", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestAdmitSuccess(t *testing.T) {
	st := fakeStore{
		admitFn: func(ctx context.Context, input store.AdmitInput) (models.Entry, bool, error) {
			return models.Entry{
				EntryID:           "22222222-2222-2222-2222-222222222222",
				QueueID:           input.QueueID,
				SequenceNumber:    7,
				Status:            models.StatusQueued,
				QuantityAllocated: input.Quantity,
				RequestID:         input.RequestID,
			}, true, nil
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{
		"request_id": "33333333-3333-3333-3333-333333333333",
		"quantity":   2,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/queues/11111111-1111-1111-1111-111111111111/admit", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var entry models.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if entry.SequenceNumber != 7 || entry.Status != models.StatusQueued {
		t.Fatalf("unexpected entry response: %+v", entry)
	}
}

func TestAdmitMissingRequestID(t *testing.T) {
	h := NewHandler(fakeStore{})

	body, _ := json.Marshal(map[string]interface{}{"quantity": 1})
	req := httptest.NewRequest(http.MethodPost, "/api/queues/11111111-1111-1111-1111-111111111111/admit", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestAdmitInsufficientStock(t *testing.T) {
	st := fakeStore{
		admitFn: func(ctx context.Context, input store.AdmitInput) (models.Entry, bool, error) {
			return models.Entry{}, false, store.ErrInsufficientStock
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{
		"request_id": "33333333-3333-3333-3333-333333333333",
		"quantity":   5,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/queues/11111111-1111-1111-1111-111111111111/admit", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}

	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "insufficient_stock" {
		t.Fatalf("expected error code insufficient_stock, got %s", errResp.Error.Code)
	}
}

func TestAdmitPausedQueue(t *testing.T) {
	st := fakeStore{
		admitFn: func(ctx context.Context, input store.AdmitInput) (models.Entry, bool, error) {
			return models.Entry{}, false, store.ErrQueueNotActive
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{
		"request_id": "33333333-3333-3333-3333-333333333333",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/queues/11111111-1111-1111-1111-111111111111/admit", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestEntryActionIllegalTransition(t *testing.T) {
	st := fakeStore{
		transitionFn: func(ctx context.Context, input store.TransitionInput) (models.Entry, bool, error) {
			return models.Entry{}, false, &store.IllegalTransitionError{From: models.StatusQueued, To: models.StatusServing}
		},
	}
	h := NewHandler(st)

	payload := map[string]string{
		"request_id": "33333333-3333-3333-3333-333333333333",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/entries/22222222-2222-2222-2222-222222222222/actions/serve", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}

	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "illegal_transition" {
		t.Fatalf("expected error code illegal_transition, got %s", errResp.Error.Code)
	}
	if errResp.Error.Message != "illegal status transition queued -> serving" {
		t.Fatalf("expected message naming both statuses, got %q", errResp.Error.Message)
	}
}

func TestEntryActionUnknown(t *testing.T) {
	h := NewHandler(fakeStore{})

	body, _ := json.Marshal(map[string]string{"request_id": "33333333-3333-3333-3333-333333333333"})
	req := httptest.NewRequest(http.MethodPost, "/api/entries/22222222-2222-2222-2222-222222222222/actions/hold", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestAssignTerminalEntry(t *testing.T) {
	st := fakeStore{
		assignFn: func(ctx context.Context, input store.AssignInput) (models.Entry, error) {
			return models.Entry{}, store.ErrEntryTerminal
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]string{"cashier_id": "44444444-4444-4444-4444-444444444444"})
	req := httptest.NewRequest(http.MethodPost, "/api/entries/22222222-2222-2222-2222-222222222222/assign", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestAdjustStockNotStocked(t *testing.T) {
	st := fakeStore{
		adjustFn: func(ctx context.Context, input store.AdjustStockInput) (models.Queue, bool, error) {
			return models.Queue{}, false, store.ErrNotStocked
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{
		"request_id": "33333333-3333-3333-3333-333333333333",
		"new_amount": 10,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/queues/11111111-1111-1111-1111-111111111111/actions/adjust-stock", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}

	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "not_stocked" {
		t.Fatalf("expected error code not_stocked, got %s", errResp.Error.Code)
	}
}

func TestAdjustStockMissingAmount(t *testing.T) {
	h := NewHandler(fakeStore{})

	body, _ := json.Marshal(map[string]string{"request_id": "33333333-3333-3333-3333-333333333333"})
	req := httptest.NewRequest(http.MethodPost, "/api/queues/11111111-1111-1111-1111-111111111111/actions/adjust-stock", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestUndoLastNothingToUndo(t *testing.T) {
	st := fakeStore{
		undoFn: func(ctx context.Context, input store.LifecycleInput) (models.Queue, bool, error) {
			return models.Queue{}, false, store.ErrNoEntriesToUndo
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]string{"request_id": "33333333-3333-3333-3333-333333333333"})
	req := httptest.NewRequest(http.MethodPost, "/api/queues/11111111-1111-1111-1111-111111111111/actions/undo-last", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestUndoLastMissingRequestID(t *testing.T) {
	h := NewHandler(fakeStore{})

	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/api/queues/11111111-1111-1111-1111-111111111111/actions/undo-last", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestPauseQueueSuccess(t *testing.T) {
	st := fakeStore{
		pauseFn: func(ctx context.Context, input store.LifecycleInput) (models.Queue, error) {
			return models.Queue{
				QueueID: input.QueueID,
				Status:  models.QueuePaused,
			}, nil
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/api/queues/11111111-1111-1111-1111-111111111111/actions/pause", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var queue models.Queue
	if err := json.NewDecoder(resp.Body).Decode(&queue); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if queue.Status != models.QueuePaused {
		t.Fatalf("expected paused queue, got %+v", queue)
	}
}

func TestResumeClosedQueue(t *testing.T) {
	st := fakeStore{
		resumeFn: func(ctx context.Context, input store.LifecycleInput) (models.Queue, error) {
			return models.Queue{}, store.ErrQueueClosed
		},
	}
	h := NewHandler(st)

	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/api/queues/11111111-1111-1111-1111-111111111111/actions/resume", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestGetQueueNotFound(t *testing.T) {
	st := fakeStore{
		getQueueFn: func(ctx context.Context, queueID string) (models.Queue, error) {
			return models.Queue{}, store.ErrQueueNotFound
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/queues/11111111-1111-1111-1111-111111111111", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestGetQueueBadID(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/queues/not-a-uuid", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestListEventsSuccess(t *testing.T) {
	st := fakeStore{
		outboxFn: func(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
			return []store.OutboxEvent{{
				EventID:   "55555555-5555-5555-5555-555555555555",
				Type:      store.EventEntryCreated,
				Payload:   json.RawMessage(`{}`),
				CreatedAt: time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC),
			}}, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/events?after=2026-02-03T08:00:00Z&limit=10", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var events []store.OutboxEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(events) != 1 || events[0].Type != store.EventEntryCreated {
		t.Fatalf("unexpected events response: %+v", events)
	}
}

func TestListEventsBadAfter(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/events?after=yesterday", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}
