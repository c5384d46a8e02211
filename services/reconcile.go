package services

import (
	"context"
	"fmt"
	"time"

	"marketplace-settlement/db"
	"marketplace-settlement/errors"
	"marketplace-settlement/logger"
	"marketplace-settlement/metrics"
	"marketplace-settlement/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	IssueNoEnrollment          = "no enrollment found for booking"
	IssueNoPaymentRecord       = "booking in payment state but no payment record"
	IssuePaidBookingOpen       = "Payment COMPLETED/PAID but booking not COMPLETED"
	IssueCompletedWithoutPaid  = "Payment COMPLETED/PAID expected"
	IssueFailedBookingNotFail  = "Payment FAILED but booking not FAILED"
	IssuePendingBookingSettled = "Payment PENDING but booking not PENDING or PAYMENT_INITIATED"
)

// Inconsistency is one booking whose payment state disagrees with it. Status
// fields are empty when the row is missing.
type Inconsistency struct {
	BookingID        string                         `json:"booking_id"`
	BookingStatus    models.BookingStatus           `json:"booking_status"`
	EnrollmentID     string                         `json:"enrollment_id,omitempty"`
	EnrollmentStatus models.EnrollmentPaymentStatus `json:"enrollment_status,omitempty"`
	PaymentID        string                         `json:"payment_id,omitempty"`
	PaymentStatus    models.PaymentStatus           `json:"payment_status,omitempty"`
	Issue            string                         `json:"issue"`
	SuggestedStatus  models.BookingStatus           `json:"suggested_status,omitempty"`
}

type ConsistencyReport struct {
	IsValid          bool                     `json:"is_valid"`
	CheckedAt        time.Time                `json:"checked_at"`
	BookingsChecked  int                      `json:"bookings_checked"`
	Inconsistencies  []Inconsistency          `json:"inconsistencies"`
	OrphanedPayments []models.OrphanedPayment `json:"orphaned_payments"`
}

// BookingCheck is the single-booking diagnostic.
type BookingCheck struct {
	Booking       models.Booking     `json:"booking"`
	Enrollment    *models.Enrollment `json:"enrollment,omitempty"`
	Payment       *models.Payment    `json:"payment,omitempty"`
	IsValid       bool               `json:"is_valid"`
	Inconsistency *Inconsistency     `json:"inconsistency,omitempty"`
}

// SuggestBookingStatus is the booking status a payment status implies.
func SuggestBookingStatus(s models.PaymentStatus) models.BookingStatus {
	switch s {
	case models.PaymentCompleted, models.PaymentPaid:
		return models.BookingCompleted
	case models.PaymentFailed:
		return models.BookingFailed
	case models.PaymentPending:
		return models.BookingPaymentInitiated
	default:
		return models.BookingPending
	}
}

// checkBooking applies the rules in order and reports the first that matches.
func checkBooking(b models.Booking, e *models.Enrollment, p *models.Payment) *Inconsistency {
	inc := &Inconsistency{BookingID: b.ID, BookingStatus: b.Status}
	if e == nil {
		inc.Issue = IssueNoEnrollment
		return inc
	}
	inc.EnrollmentID = e.ID
	inc.EnrollmentStatus = e.PaymentStatus

	if p == nil {
		if b.Status.InPaymentState() {
			inc.Issue = IssueNoPaymentRecord
			return inc
		}
		return nil
	}
	inc.PaymentID = p.ID
	inc.PaymentStatus = p.Status
	inc.SuggestedStatus = SuggestBookingStatus(p.Status)

	switch {
	case p.Status.IsSettled() && b.Status != models.BookingCompleted:
		inc.Issue = IssuePaidBookingOpen
	case p.Status == models.PaymentFailed && b.Status != models.BookingFailed:
		inc.Issue = IssueFailedBookingNotFail
	case b.Status == models.BookingCompleted && !p.Status.IsSettled() && p.Status != models.PaymentRefunded:
		inc.Issue = IssueCompletedWithoutPaid
	case p.Status == models.PaymentPending && b.Status != models.BookingPending && b.Status != models.BookingPaymentInitiated:
		inc.Issue = IssuePendingBookingSettled
	default:
		return nil
	}
	return inc
}

// Validator scans bookings for divergence from their payments. It never writes.
type Validator struct {
	reader db.ConsistencyReader
	log    *logger.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewValidator(reader db.ConsistencyReader, log *logger.Logger) *Validator {
	return &Validator{
		reader: reader,
		log:    log,
		tracer: otel.Tracer("marketplace-settlement/services"),
		now:    time.Now,
	}
}

func (v *Validator) ValidateConsistency(ctx context.Context) (*ConsistencyReport, error) {
	ctx, span := v.tracer.Start(ctx, "reconcile.ValidateConsistency")
	defer span.End()

	bookings, err := v.reader.ListBookings(ctx)
	if err != nil {
		return nil, errors.E(errors.ValidationFailure, "listing bookings", err)
	}

	report := &ConsistencyReport{
		CheckedAt:        v.now().UTC(),
		BookingsChecked:  len(bookings),
		Inconsistencies:  []Inconsistency{},
		OrphanedPayments: []models.OrphanedPayment{},
	}
	for _, b := range bookings {
		e, p, err := v.related(ctx, b)
		if err != nil {
			return nil, err
		}
		if inc := checkBooking(b, e, p); inc != nil {
			report.Inconsistencies = append(report.Inconsistencies, *inc)
		}
	}

	orphans, err := v.reader.OrphanedPayments(ctx)
	if err != nil {
		return nil, errors.E(errors.ValidationFailure, "scanning orphaned payments", err)
	}
	if orphans != nil {
		report.OrphanedPayments = orphans
	}

	report.IsValid = len(report.Inconsistencies) == 0 && len(report.OrphanedPayments) == 0
	span.SetAttributes(
		attribute.Int("reconcile.bookings", report.BookingsChecked),
		attribute.Int("reconcile.inconsistencies", len(report.Inconsistencies)),
		attribute.Int("reconcile.orphans", len(report.OrphanedPayments)),
	)
	metrics.SetReconciliationResult(len(report.Inconsistencies), len(report.OrphanedPayments))

	if !report.IsValid {
		v.log.Warn("Reconciliation found %d inconsistencies and %d orphaned payments across %d bookings",
			len(report.Inconsistencies), len(report.OrphanedPayments), report.BookingsChecked)
	} else {
		v.log.Info("Reconciliation checked %d bookings, all consistent", report.BookingsChecked)
	}
	return report, nil
}

// ValidateBooking runs the same checks for one booking.
func (v *Validator) ValidateBooking(ctx context.Context, bookingID string) (*BookingCheck, error) {
	b, err := v.reader.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.KindOf(err) == errors.NotFound {
			return nil, err
		}
		return nil, errors.E(errors.ValidationFailure, "loading booking "+bookingID, err)
	}
	e, p, err := v.related(ctx, *b)
	if err != nil {
		return nil, err
	}
	inc := checkBooking(*b, e, p)
	return &BookingCheck{Booking: *b, Enrollment: e, Payment: p, IsValid: inc == nil, Inconsistency: inc}, nil
}

func (v *Validator) related(ctx context.Context, b models.Booking) (*models.Enrollment, *models.Payment, error) {
	e, err := v.reader.EnrollmentByStudentCourse(ctx, b.StudentID, b.CourseID)
	if err != nil {
		return nil, nil, errors.E(errors.ValidationFailure, fmt.Sprintf("loading enrollment for booking %s", b.ID), err)
	}
	if e == nil {
		return nil, nil, nil
	}
	p, err := v.reader.LatestPayment(ctx, e.ID)
	if err != nil {
		return nil, nil, errors.E(errors.ValidationFailure, fmt.Sprintf("loading payment for booking %s", b.ID), err)
	}
	return e, p, nil
}

// HealResult lists the bookings moved (or, on a dry run, that would be moved).
type HealResult struct {
	DryRun  bool            `json:"dry_run"`
	Healed  []Inconsistency `json:"healed"`
	Skipped []Inconsistency `json:"skipped"`
}

// Healer moves inconsistent bookings to the status their payment implies.
type Healer struct {
	validator *Validator
	store     db.SettlementStore
	lock      JobLock
	lockTTL   time.Duration
	log       *logger.Logger
}

func NewHealer(validator *Validator, store db.SettlementStore, lock JobLock, lockTTL time.Duration, log *logger.Logger) *Healer {
	return &Healer{validator: validator, store: store, lock: lock, lockTTL: lockTTL, log: log}
}

func (h *Healer) Heal(ctx context.Context, dryRun bool) (*HealResult, error) {
	release, ok, err := h.lock.Acquire(ctx, "reconcile:heal", h.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.E(errors.Conflict, "another heal run is in progress")
	}
	defer release()

	report, err := h.validator.ValidateConsistency(ctx)
	if err != nil {
		return nil, err
	}

	result := &HealResult{DryRun: dryRun, Healed: []Inconsistency{}, Skipped: []Inconsistency{}}
	for _, inc := range report.Inconsistencies {
		// without a payment there is nothing to derive a target from
		if inc.PaymentID == "" || inc.SuggestedStatus == "" || inc.SuggestedStatus == inc.BookingStatus {
			result.Skipped = append(result.Skipped, inc)
			continue
		}
		if dryRun {
			result.Healed = append(result.Healed, inc)
			continue
		}

		moved, err := h.apply(ctx, inc)
		if err != nil {
			return nil, err
		}
		if moved {
			result.Healed = append(result.Healed, inc)
		} else {
			result.Skipped = append(result.Skipped, inc)
		}
	}

	h.log.Info("Heal run finished: %d healed, %d skipped (dry run: %t)", len(result.Healed), len(result.Skipped), dryRun)
	return result, nil
}

func (h *Healer) apply(ctx context.Context, inc Inconsistency) (bool, error) {
	moved := false
	err := h.store.InSettlementTx(ctx, func(tx db.SettlementTx) error {
		b, err := tx.LockBookingByID(ctx, inc.BookingID)
		if err != nil {
			return err
		}
		if b.Status != inc.BookingStatus {
			h.log.Info("Booking %s changed to %s since the report, leaving it", b.ID, b.Status)
			return nil
		}
		if err := tx.UpdateBookingStatus(ctx, b, inc.SuggestedStatus); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if errors.KindOf(err) == errors.Conflict || errors.KindOf(err) == errors.NotFound {
		h.log.Warn("Skipping booking %s: %v", inc.BookingID, err)
		return false, nil
	}
	return moved, err
}
