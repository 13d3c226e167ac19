package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"puborch/internal/domain"
	"puborch/internal/notifier"
	"puborch/internal/ports"
	"puborch/internal/usecase"
)

type handlers struct {
	queue      ports.QueueStore
	checkbacks ports.CheckbackStore
	webhooks   ports.WebhookStore
	notif      *notifier.Notifier
	enqueuer   usecase.Enqueuer
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotCancellable), errors.Is(err, domain.ErrTerminalState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

type enqueueRequest struct {
	Platform     string          `json:"platform"`
	AccountRef   string          `json:"account_ref"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	ScheduledFor *time.Time      `json:"scheduled_for"`
	MaxRetries   int             `json:"max_retries"`
}

func (h *handlers) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Platform == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "platform is required"})
		return
	}

	item := &domain.QueueItem{
		Platform:   req.Platform,
		AccountRef: req.AccountRef,
		Payload:    datatypes.JSON(req.Payload),
		Priority:   req.Priority,
		MaxRetries: req.MaxRetries,
	}
	if req.ScheduledFor != nil {
		item.ScheduledFor = *req.ScheduledFor
	}

	created, err := h.enqueuer.Enqueue(r.Context(), item)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handlers) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	item, err := h.queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *handlers) cancelItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	if err := h.queue.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.notif.Trigger(r.Context(), domain.EventPostDeleted, map[string]any{"item_id": id.String()})
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusCancelled)})
}

func (h *handlers) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) listCheckbacks(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	rows, err := h.checkbacks.ListByItem(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type endpointRequest struct {
	URL    string             `json:"url"`
	Events []domain.EventType `json:"events"`
	Secret string             `json:"secret"`
	Active *bool              `json:"active"`
}

func (h *handlers) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}

	secret := req.Secret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			writeError(w, err)
			return
		}
		secret = hex.EncodeToString(buf)
	}

	events, _ := json.Marshal(req.Events)
	ep := &domain.WebhookEndpoint{
		URL:    req.URL,
		Secret: secret,
		Events: events,
		Active: true,
	}
	if err := h.webhooks.CreateEndpoint(r.Context(), ep); err != nil {
		writeError(w, err)
		return
	}

	// The secret is returned once, at registration.
	writeJSON(w, http.StatusCreated, map[string]any{
		"endpoint": ep,
		"secret":   secret,
	})
}

func (h *handlers) listEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := h.webhooks.ListEndpoints(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eps)
}

func (h *handlers) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	ep, err := h.webhooks.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if req.URL != "" {
		ep.URL = req.URL
	}
	if req.Secret != "" {
		ep.Secret = req.Secret
	}
	if req.Events != nil {
		events, _ := json.Marshal(req.Events)
		ep.Events = events
	}
	if req.Active != nil {
		// Manual reactivation clears the failure counter.
		if *req.Active && !ep.Active {
			ep.FailureCount = 0
		}
		ep.Active = *req.Active
	}

	if err := h.webhooks.UpdateEndpoint(r.Context(), ep); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (h *handlers) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	if err := h.webhooks.DeleteEndpoint(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	ds, err := h.webhooks.ListDeliveries(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *handlers) deliveryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.webhooks.DeliveryStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
