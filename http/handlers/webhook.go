package handlers

import (
	"context"
	"io"
	"net/http"

	"marketplace-settlement/http/response"
	"marketplace-settlement/logger"
	"marketplace-settlement/services"
)

const maxWebhookBytes = 1 << 20

type WebhookProcessor interface {
	Process(ctx context.Context, body []byte, signature string) (*services.WebhookResult, error)
}

type WebhookHandler struct {
	processor WebhookProcessor
	log       *logger.Logger
}

func NewWebhookHandler(processor WebhookProcessor, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, log: log}
}

// Razorpay handles Razorpay webhook events. The raw body is needed for the
// signature check, so it is read before any decoding.
// POST /webhooks/razorpay
func (h *WebhookHandler) Razorpay(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		response.ErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.processor.Process(r.Context(), body, r.Header.Get("X-Razorpay-Signature"))
	if err != nil {
		h.log.Error("[WEBHOOK] Processing failed: %v", err)
		response.SettlementError(w, err)
		return
	}
	response.SendJSON(w, http.StatusOK, res)
}
