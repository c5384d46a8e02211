package handlers

import (
	"context"
	"io"
	"net/http"

	"marketplace-settlement/errors"
	"marketplace-settlement/http/middleware"
	"marketplace-settlement/http/response"
	"marketplace-settlement/logger"
	"marketplace-settlement/services"
	"marketplace-settlement/utils"

	"github.com/go-chi/chi/v5"
)

type Approver interface {
	Authority(ctx context.Context, paymentID string) (services.Decision, error)
	Approve(ctx context.Context, actor services.Actor, paymentID string) (*services.SettlementResult, error)
	Disapprove(ctx context.Context, actor services.Actor, paymentID, reason string) (*services.SettlementResult, error)
}

type Refunder interface {
	Refund(ctx context.Context, actor services.Actor, paymentID string, req services.RefundRequest) (*services.SettlementResult, error)
}

type PaymentHandler struct {
	settler   services.Settler
	approvals Approver
	refunds   Refunder
	log       *logger.Logger
}

func NewPaymentHandler(settler services.Settler, approvals Approver, refunds Refunder, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{settler: settler, approvals: approvals, refunds: refunds, log: log}
}

// Settle applies a payment outcome reported by an operator.
// POST /payments/settle
func (h *PaymentHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var o services.Outcome
	if err := utils.DecodeJSONRequest(r, &o); err != nil {
		response.FromError(w, err)
		return
	}
	actor, _ := middleware.ActorFrom(r.Context())
	o.Actor = actor.ID

	res, err := h.settler.Settle(r.Context(), o)
	if err != nil {
		h.log.Error("Settlement for enrollment %s failed: %v", o.EnrollmentID, err)
		response.SettlementError(w, err)
		return
	}

	msg := "Payment settled"
	if res.Duplicate {
		msg = "Outcome already applied"
	}
	response.SuccessResponse(w, http.StatusOK, msg, res)
}

// Authority reports who may approve a payment.
// GET /payments/{id}/authority
func (h *PaymentHandler) Authority(w http.ResponseWriter, r *http.Request) {
	d, err := h.approvals.Authority(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.SuccessResponse(w, http.StatusOK, "", d)
}

// POST /payments/{id}/approve
func (h *PaymentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFrom(r.Context())
	paymentID := chi.URLParam(r, "id")

	res, err := h.approvals.Approve(r.Context(), actor, paymentID)
	if err != nil {
		h.log.Warn("Approval of payment %s by %s failed: %v", paymentID, actor.ID, err)
		response.SettlementError(w, err)
		return
	}
	response.SuccessResponse(w, http.StatusOK, "Payment approved", res)
}

type disapproveRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// POST /payments/{id}/disapprove
func (h *PaymentHandler) Disapprove(w http.ResponseWriter, r *http.Request) {
	var req disapproveRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil {
		response.FromError(w, err)
		return
	}
	actor, _ := middleware.ActorFrom(r.Context())
	paymentID := chi.URLParam(r, "id")

	res, err := h.approvals.Disapprove(r.Context(), actor, paymentID, req.Reason)
	if err != nil {
		h.log.Warn("Disapproval of payment %s by %s failed: %v", paymentID, actor.ID, err)
		response.SettlementError(w, err)
		return
	}
	response.SuccessResponse(w, http.StatusOK, "Payment disapproved", res)
}

// Refund refunds a settled payment at the processor. An empty body refunds
// the full amount.
// POST /payments/{id}/refund
func (h *PaymentHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req services.RefundRequest
	if err := utils.DecodeAndValidate(r, &req); err != nil && !errors.Is(err, io.EOF) {
		response.FromError(w, err)
		return
	}
	actor, _ := middleware.ActorFrom(r.Context())
	paymentID := chi.URLParam(r, "id")

	res, err := h.refunds.Refund(r.Context(), actor, paymentID, req)
	if err != nil {
		h.log.Error("Refund of payment %s failed: %v", paymentID, err)
		response.SettlementError(w, err)
		return
	}
	response.SuccessResponse(w, http.StatusOK, "Payment refunded", res)
}
