package handlers

import (
	"context"
	"net/http"
	"strconv"

	"marketplace-settlement/http/response"
	"marketplace-settlement/logger"
	eventbus "marketplace-settlement/services/kafka"
	"marketplace-settlement/utils"

	"github.com/go-chi/chi/v5"
)

type DeadLetters interface {
	List(ctx context.Context, limit int) ([]eventbus.DLQMessage, error)
	Retry(ctx context.Context, id string, producer *eventbus.Producer) error
	Resolve(ctx context.Context, id, notes string) error
	Stats(ctx context.Context) (eventbus.DLQStats, error)
}

type DLQHandler struct {
	store    DeadLetters
	producer *eventbus.Producer
	log      *logger.Logger
}

func NewDLQHandler(store DeadLetters, producer *eventbus.Producer, log *logger.Logger) *DLQHandler {
	return &DLQHandler{store: store, producer: producer, log: log}
}

// GetDLQMessages retrieves unresolved DLQ messages
// GET /admin/dlq/messages?limit=50
func (h *DLQHandler) GetDLQMessages(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	messages, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.log.Error("Error fetching DLQ messages: %v", err)
		response.FromError(w, err)
		return
	}
	if messages == nil {
		messages = []eventbus.DLQMessage{}
	}

	response.SuccessResponse(w, http.StatusOK, "DLQ messages retrieved", map[string]interface{}{
		"count": len(messages),
		"data":  messages,
	})
}

// RetryDLQMessage republishes a parked message to its original topic
// POST /admin/dlq/messages/{id}/retry
func (h *DLQHandler) RetryDLQMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	if err := h.store.Retry(r.Context(), messageID, h.producer); err != nil {
		h.log.Error("Error retrying DLQ message %s: %v", messageID, err)
		response.FromError(w, err)
		return
	}

	response.SuccessResponse(w, http.StatusOK, "Message republished", map[string]interface{}{
		"messageId": messageID,
	})
}

// ResolveDLQMessage marks a DLQ message as resolved
// POST /admin/dlq/messages/{id}/resolve
func (h *DLQHandler) ResolveDLQMessage(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")

	var req struct {
		Notes string `json:"notes" validate:"max=500"`
	}
	if err := utils.DecodeAndValidate(r, &req); err != nil || req.Notes == "" {
		req.Notes = "Manually resolved"
	}

	if err := h.store.Resolve(r.Context(), messageID, req.Notes); err != nil {
		h.log.Error("Error resolving DLQ message %s: %v", messageID, err)
		response.FromError(w, err)
		return
	}

	response.SuccessResponse(w, http.StatusOK, "Message marked as resolved", map[string]interface{}{
		"messageId": messageID,
	})
}

// GetDLQStats retrieves statistics about DLQ messages
// GET /admin/dlq/stats
func (h *DLQHandler) GetDLQStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.log.Error("Error fetching DLQ statistics: %v", err)
		response.FromError(w, err)
		return
	}

	response.SuccessResponse(w, http.StatusOK, "DLQ statistics", stats)
}
