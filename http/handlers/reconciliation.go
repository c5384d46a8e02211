package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"marketplace-settlement/http/response"
	"marketplace-settlement/logger"
	"marketplace-settlement/services"

	"github.com/go-chi/chi/v5"
)

type ConsistencyChecker interface {
	ValidateConsistency(ctx context.Context) (*services.ConsistencyReport, error)
	ValidateBooking(ctx context.Context, bookingID string) (*services.BookingCheck, error)
}

type BookingHealer interface {
	Heal(ctx context.Context, dryRun bool) (*services.HealResult, error)
}

type ReportWriter interface {
	Export(ctx context.Context, w io.Writer, report *services.ConsistencyReport) error
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ReconciliationHandler struct {
	checker  ConsistencyChecker
	healer   BookingHealer
	exporter ReportWriter
	log      *logger.Logger
}

func NewReconciliationHandler(checker ConsistencyChecker, healer BookingHealer, exporter ReportWriter, log *logger.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{checker: checker, healer: healer, exporter: exporter, log: log}
}

// GET /admin/reconciliation
func (h *ReconciliationHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.checker.ValidateConsistency(r.Context())
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.SuccessResponse(w, http.StatusOK, "", report)
}

// Export runs a reconciliation and streams it as a spreadsheet.
// GET /admin/reconciliation/export
func (h *ReconciliationHandler) Export(w http.ResponseWriter, r *http.Request) {
	report, err := h.checker.ValidateConsistency(r.Context())
	if err != nil {
		response.FromError(w, err)
		return
	}

	// buffer so a failed export can still be reported as JSON
	var buf bytes.Buffer
	if err := h.exporter.Export(r.Context(), &buf, report); err != nil {
		h.log.Error("Error exporting reconciliation report: %v", err)
		response.FromError(w, err)
		return
	}

	name := fmt.Sprintf("reconciliation_%s.xlsx", report.CheckedAt.Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Warn("Error writing reconciliation export: %v", err)
	}
}

// GET /admin/bookings/{id}/check
func (h *ReconciliationHandler) CheckBooking(w http.ResponseWriter, r *http.Request) {
	check, err := h.checker.ValidateBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.SuccessResponse(w, http.StatusOK, "", check)
}

// Heal moves inconsistent bookings to the status their payment implies.
// Pass dry_run=true to only list what would change.
// POST /admin/reconciliation/heal?dry_run=true
func (h *ReconciliationHandler) Heal(w http.ResponseWriter, r *http.Request) {
	dryRun := false
	if v := r.URL.Query().Get("dry_run"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			response.ErrorResponse(w, http.StatusBadRequest, "dry_run must be a boolean")
			return
		}
		dryRun = parsed
	}

	res, err := h.healer.Heal(r.Context(), dryRun)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.SuccessResponse(w, http.StatusOK, fmt.Sprintf("%d bookings healed", len(res.Healed)), res)
}
