package handlers

import (
	"context"
	"net/http"

	"marketplace-settlement/http/response"
	"marketplace-settlement/models"
	"marketplace-settlement/services"

	"github.com/go-chi/chi/v5"
)

type ReminderRunner interface {
	SendReminders(ctx context.Context) (*services.SweepResult, error)
	ReminderHistory(ctx context.Context, paymentID string) ([]models.PaymentReminder, error)
}

type ReminderHandler struct {
	reminders ReminderRunner
}

func NewReminderHandler(reminders ReminderRunner) *ReminderHandler {
	return &ReminderHandler{reminders: reminders}
}

// POST /admin/reminders/run
func (h *ReminderHandler) Run(w http.ResponseWriter, r *http.Request) {
	res, err := h.reminders.SendReminders(r.Context())
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.SuccessResponse(w, http.StatusOK, "Reminder sweep finished", res)
}

// GET /payments/{id}/reminders
func (h *ReminderHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.reminders.ReminderHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.SuccessResponse(w, http.StatusOK, "", history)
}
