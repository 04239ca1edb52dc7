package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qline/admission-service/internal/models"
	"qline/admission-service/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.QueueStore
}

func NewHandler(store store.QueueStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/queues", h.handleQueues)
	mux.HandleFunc("/api/queues/", h.handleQueueSubpaths)
	mux.HandleFunc("/api/entries/", h.handleEntrySubpaths)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createQueueRequest struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	StockCapacity *int   `json:"stock_capacity"`
}

type admitRequest struct {
	RequestID     string `json:"request_id"`
	Quantity      int    `json:"quantity"`
	CustomerLabel string `json:"customer_label"`
}

type queueActionRequest struct {
	RequestID string `json:"request_id"`
}

type adjustStockRequest struct {
	RequestID string `json:"request_id"`
	NewAmount *int   `json:"new_amount"`
}

type assignRequest struct {
	CashierID string `json:"cashier_id"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		queues, err := h.store.ListQueues(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, queues)
	case http.MethodPost:
		h.handleCreateQueue(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Kind = strings.TrimSpace(req.Kind)
	if req.Kind == "" {
		req.Kind = models.KindPlain
	}
	if req.Name == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if !models.ValidKind(req.Kind) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "kind must be plain or stocked")
		return
	}

	capacity := 0
	if req.Kind == models.KindStocked {
		if req.StockCapacity == nil || *req.StockCapacity < 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "stock_capacity must be a non-negative integer for stocked queues")
			return
		}
		capacity = *req.StockCapacity
	} else if req.StockCapacity != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "stock_capacity is only valid for stocked queues")
		return
	}

	queue, err := h.store.CreateQueue(r.Context(), store.CreateQueueInput{
		Name:          req.Name,
		Kind:          req.Kind,
		StockCapacity: capacity,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, queue)
}

func (h *Handler) handleQueueSubpaths(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queues/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	queueID := parts[0]
	if !isValidUUID(queueID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "queue_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1:
		h.handleGetQueue(w, r, queueID)
	case len(parts) == 2 && parts[1] == "entries":
		h.handleListEntries(w, r, queueID)
	case len(parts) == 2 && parts[1] == "admit":
		h.handleAdmit(w, r, queueID)
	case len(parts) == 3 && parts[1] == "actions":
		h.handleQueueAction(w, r, queueID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetQueue(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	queue, err := h.store.GetQueue(r.Context(), queueID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, err := h.store.GetQueue(r.Context(), queueID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	entries, err := h.store.ListEntries(r.Context(), queueID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleAdmit(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req admitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.CustomerLabel = strings.TrimSpace(req.CustomerLabel)
	if req.RequestID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "request_id is required")
		return
	}
	if !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}

	entry, _, err := h.store.Admit(r.Context(), store.AdmitInput{
		RequestID:     req.RequestID,
		QueueID:       queueID,
		Quantity:      req.Quantity,
		CustomerLabel: req.CustomerLabel,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleQueueAction(w http.ResponseWriter, r *http.Request, queueID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if action == "adjust-stock" {
		h.handleAdjustStock(w, r, queueID)
		return
	}

	var req queueActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)

	// skip and undo-last mutate irreversibly, so they carry an
	// idempotency key; the rest are safe to repeat as-is.
	if action == "skip" || action == "undo-last" {
		if req.RequestID == "" {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "request_id is required")
			return
		}
		if !isValidUUID(req.RequestID) {
			writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
			return
		}
	}

	input := store.LifecycleInput{
		RequestID:  req.RequestID,
		QueueID:    queueID,
		OccurredAt: time.Now().UTC(),
	}

	var queue models.Queue
	var err error
	switch action {
	case "pause":
		queue, err = h.store.PauseQueue(r.Context(), input)
	case "resume":
		queue, err = h.store.ResumeQueue(r.Context(), input)
	case "close":
		queue, err = h.store.CloseQueue(r.Context(), input)
	case "reset":
		queue, err = h.store.ResetQueue(r.Context(), input)
	case "skip":
		queue, _, err = h.store.SkipNumber(r.Context(), input)
	case "recall":
		queue, err = h.store.RecallCurrent(r.Context(), input)
	case "undo-last":
		queue, _, err = h.store.UndoLastEntry(r.Context(), input)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

func (h *Handler) handleAdjustStock(w http.ResponseWriter, r *http.Request, queueID string) {
	var req adjustStockRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "request_id is required")
		return
	}
	if !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}
	if req.NewAmount == nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "new_amount is required")
		return
	}

	queue, _, err := h.store.AdjustStock(r.Context(), store.AdjustStockInput{
		RequestID:  req.RequestID,
		QueueID:    queueID,
		NewAmount:  *req.NewAmount,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

func (h *Handler) handleEntrySubpaths(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/entries/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	entryID := parts[0]
	if !isValidUUID(entryID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "entry_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1:
		h.handleGetEntry(w, r, entryID)
	case len(parts) == 2 && parts[1] == "events":
		h.handleEntryEvents(w, r, entryID)
	case len(parts) == 2 && parts[1] == "assign":
		h.handleAssign(w, r, entryID)
	case len(parts) == 3 && parts[1] == "actions":
		h.handleEntryAction(w, r, entryID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entry, err := h.store.GetEntry(r.Context(), entryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleEntryEvents(w http.ResponseWriter, r *http.Request, entryID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, err := h.store.GetEntry(r.Context(), entryID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	events, err := h.store.ListEntryEvents(r.Context(), entryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request, entryID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req assignRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.CashierID = strings.TrimSpace(req.CashierID)
	if req.CashierID != "" && !isValidUUID(req.CashierID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "cashier_id must be a UUID when provided")
		return
	}

	entry, err := h.store.AssignCashier(r.Context(), store.AssignInput{
		EntryID:   entryID,
		CashierID: req.CashierID,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

var entryActionTargets = map[string]string{
	"start":    models.StatusInProgress,
	"ready":    models.StatusReady,
	"serve":    models.StatusServing,
	"complete": models.StatusCompleted,
	"cancel":   models.StatusCancelled,
}

func (h *Handler) handleEntryAction(w http.ResponseWriter, r *http.Request, entryID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	target, ok := entryActionTargets[action]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req queueActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "request_id is required")
		return
	}
	if !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}

	entry, _, err := h.store.Transition(r.Context(), store.TransitionInput{
		RequestID:  req.RequestID,
		EntryID:    entryID,
		Target:     target,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	afterRaw := strings.TrimSpace(r.URL.Query().Get("after"))
	var after time.Time
	if afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	var illegal *store.IllegalTransitionError
	if errors.As(err, &illegal) {
		return http.StatusConflict, "illegal_transition", illegal.Error()
	}
	switch {
	case errors.Is(err, store.ErrQueueNotFound):
		return http.StatusNotFound, "queue_not_found", "queue not found"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "entry not found"
	case errors.Is(err, store.ErrQueueNotActive):
		return http.StatusConflict, "queue_not_active", "queue is not accepting this action"
	case errors.Is(err, store.ErrQueueClosed):
		return http.StatusConflict, "queue_closed", "queue is closed"
	case errors.Is(err, store.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity", "quantity must be a positive integer"
	case errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock", "not enough stock remaining"
	case errors.Is(err, store.ErrIllegalTransition):
		return http.StatusConflict, "illegal_transition", "status transition not allowed"
	case errors.Is(err, store.ErrNotStocked):
		return http.StatusConflict, "not_stocked", "queue does not track stock"
	case errors.Is(err, store.ErrNoEntriesToUndo):
		return http.StatusConflict, "nothing_to_undo", "no entries to undo"
	case errors.Is(err, store.ErrEntryTerminal):
		return http.StatusConflict, "entry_finalized", "entry is already in a final status"
	case errors.Is(err, store.ErrContention):
		return http.StatusConflict, "contention", "concurrent update, retry the request"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
