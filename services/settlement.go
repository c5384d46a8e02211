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
	"marketplace-settlement/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Disposition string

const (
	DispositionSuccess Disposition = "SUCCESS"
	DispositionFailure Disposition = "FAILURE"
	DispositionRefund  Disposition = "REFUND"
)

const defaultFailureReason = "payment failed"

// Outcome is a payment result delivered by the processor or by an approver.
type Outcome struct {
	EnrollmentID  string          `json:"enrollment_id" validate:"required"`
	InstitutionID string          `json:"institution_id" validate:"required"`
	PaymentID     string          `json:"payment_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	Method        string          `json:"payment_method,omitempty" validate:"omitempty,max=32"`
	ExternalRef   string          `json:"external_ref,omitempty" validate:"omitempty,max=128"`
	Disposition   Disposition     `json:"disposition" validate:"required,oneof=SUCCESS FAILURE REFUND"`

	RefundAmount        decimal.Decimal `json:"refund_amount"`
	OriginalExternalRef string          `json:"original_external_ref,omitempty" validate:"required_if=Disposition REFUND"`

	FailureReason     string `json:"failure_reason,omitempty" validate:"omitempty,max=500"`
	ReachedProcessing bool   `json:"reached_processing,omitempty"`

	// Actor is the reviewer id for manual approvals.
	Actor string `json:"-"`
}

// Validate checks the outcome before any row is touched.
func (o Outcome) Validate() error {
	if err := utils.ValidateStruct(o); err != nil {
		return err
	}
	if o.Currency == "" && o.Disposition != DispositionRefund {
		return errors.E(errors.Invalid, "currency is required")
	}
	if o.Amount.IsNegative() || o.RefundAmount.IsNegative() {
		return errors.E(errors.Invalid, "amounts must not be negative")
	}
	if o.Disposition == DispositionSuccess {
		if o.ExternalRef == "" && o.PaymentID == "" {
			return errors.E(errors.Invalid, "a successful outcome needs external_ref or payment_id")
		}
		if o.PaymentID == "" && !o.Amount.IsPositive() {
			return errors.E(errors.Invalid, "amount must be positive")
		}
	}
	if o.Disposition == DispositionFailure && o.ReachedProcessing && !o.Amount.IsPositive() {
		return errors.E(errors.Invalid, "a failure that reached processing needs a positive amount")
	}
	return nil
}

// SettlementResult describes what a Settle call wrote. Duplicate is set when
// the outcome had already been applied and nothing changed.
type SettlementResult struct {
	Payment    *models.Payment           `json:"payment,omitempty"`
	Payout     *models.InstitutionPayout `json:"payout,omitempty"`
	Booking    *models.Booking           `json:"booking,omitempty"`
	Enrollment *models.Enrollment        `json:"enrollment"`
	Duplicate  bool                      `json:"duplicate"`
}

// Settler applies payment outcomes.
type Settler interface {
	Settle(ctx context.Context, o Outcome) (*SettlementResult, error)
}

// Executor applies an Outcome to payment, enrollment, booking and payout rows
// in one transaction and notifies the student after commit.
type Executor struct {
	store         db.SettlementStore
	commission    CommissionResolver
	notifier      Notifier
	log           *logger.Logger
	tracer        trace.Tracer
	notifyTimeout time.Duration
	now           func() time.Time
	newID         func() string
}

type ExecutorOption func(*Executor)

func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

func WithNotifyTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.notifyTimeout = d }
}

func WithIDGenerator(fn func() string) ExecutorOption {
	return func(e *Executor) { e.newID = fn }
}

func NewExecutor(store db.SettlementStore, commission CommissionResolver, notifier Notifier, log *logger.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:         store,
		commission:    commission,
		notifier:      notifier,
		log:           log,
		tracer:        otel.Tracer("marketplace-settlement/services"),
		notifyTimeout: 5 * time.Second,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type settlementContext struct {
	enrollment  *models.Enrollment
	course      *models.Course
	student     *models.Student
	institution *models.Institution
}

func (e *Executor) Settle(ctx context.Context, o Outcome) (*SettlementResult, error) {
	ctx, span := e.tracer.Start(ctx, "settlement.Settle", trace.WithAttributes(
		attribute.String("settlement.disposition", string(o.Disposition)),
		attribute.String("settlement.enrollment_id", o.EnrollmentID),
		attribute.String("settlement.external_ref", o.ExternalRef),
	))
	defer span.End()

	start := time.Now()
	res, sc, err := e.settle(ctx, o)

	result := "ok"
	switch {
	case err != nil:
		result = errors.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.KindOf(err).String())
	case res.Duplicate:
		result = "duplicate"
	}
	metrics.RecordSettlement(string(o.Disposition), result, time.Since(start).Seconds())

	log := e.log.WithFields(map[string]interface{}{
		"enrollment_id": o.EnrollmentID,
		"disposition":   o.Disposition,
		"external_ref":  o.ExternalRef,
	})
	if err != nil {
		log.Warn("settlement failed: %v", err)
		return nil, err
	}
	if res.Duplicate {
		log.Info("outcome already applied, nothing to do")
		return res, nil
	}

	log.Info("settlement committed")
	e.notify(ctx, o, sc, res)
	return res, nil
}

func (e *Executor) settle(ctx context.Context, o Outcome) (*SettlementResult, *settlementContext, error) {
	if err := o.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		res *SettlementResult
		sc  *settlementContext
	)
	err := e.store.InSettlementTx(ctx, func(tx db.SettlementTx) error {
		var err error
		if sc, err = e.load(ctx, tx, o); err != nil {
			return err
		}
		switch o.Disposition {
		case DispositionSuccess:
			res, err = e.settleSuccess(ctx, tx, sc, o)
		case DispositionFailure:
			res, err = e.settleFailure(ctx, tx, sc, o)
		case DispositionRefund:
			res, err = e.settleRefund(ctx, tx, sc, o)
		default:
			err = errors.E(errors.Invalid, fmt.Sprintf("unknown disposition %q", o.Disposition))
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return res, sc, nil
}

// load locks the enrollment and reads everything the outcome refers to.
func (e *Executor) load(ctx context.Context, tx db.SettlementTx, o Outcome) (*settlementContext, error) {
	enrollment, err := tx.LockEnrollment(ctx, o.EnrollmentID)
	if err != nil {
		return nil, err
	}
	course, err := tx.GetCourse(ctx, enrollment.CourseID)
	if err != nil {
		return nil, err
	}
	if course.InstitutionID != o.InstitutionID {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("course %s does not belong to institution %s", course.ID, o.InstitutionID))
	}
	student, err := tx.GetStudent(ctx, enrollment.StudentID)
	if err != nil {
		return nil, err
	}
	institution, err := tx.GetInstitution(ctx, o.InstitutionID)
	if err != nil {
		return nil, err
	}
	return &settlementContext{enrollment: enrollment, course: course, student: student, institution: institution}, nil
}

// findPayment resolves the payment an outcome refers to: by id for manual
// payments, otherwise by external reference. It returns nil when neither matches.
func (e *Executor) findPayment(ctx context.Context, tx db.SettlementTx, o Outcome, enrollmentID string) (*models.Payment, error) {
	var (
		p   *models.Payment
		err error
	)
	if o.PaymentID != "" {
		p, err = tx.LockPayment(ctx, o.PaymentID)
	} else {
		p, err = tx.PaymentByExternalRef(ctx, o.ExternalRef)
	}
	if err != nil || p == nil {
		return nil, err
	}
	if p.EnrollmentID != enrollmentID {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("payment %s belongs to a different enrollment", p.ID))
	}
	return p, nil
}

func (e *Executor) settleSuccess(ctx context.Context, tx db.SettlementTx, sc *settlementContext, o Outcome) (*SettlementResult, error) {
	existing, err := e.findPayment(ctx, tx, o, sc.enrollment.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status.IsSettled() {
		return &SettlementResult{Payment: existing, Enrollment: sc.enrollment, Duplicate: true}, nil
	}
	// a processor redelivering the capture of a since-refunded payment
	if existing != nil && o.PaymentID == "" && existing.Status == models.PaymentRefunded {
		return &SettlementResult{Payment: existing, Enrollment: sc.enrollment, Duplicate: true}, nil
	}

	rate, err := e.commission.CommissionRate(ctx, tx, o.InstitutionID)
	if err != nil {
		return nil, err
	}

	booking, err := tx.LockBooking(ctx, sc.enrollment.StudentID, sc.enrollment.CourseID)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	payment := existing
	if payment == nil {
		// processor payments enter the lifecycle already in flight
		payment = &models.Payment{
			ID:           e.newID(),
			EnrollmentID: sc.enrollment.ID,
			Currency:     o.Currency,
			Status:       models.PaymentProcessing,
			ExternalRef:  o.ExternalRef,
			CreatedAt:    now,
		}
	}
	if err := advance(payment, models.PaymentCompleted); err != nil {
		return nil, err
	}

	if o.Amount.IsPositive() {
		payment.Amount = o.Amount
	}
	payment.Split = models.SplitAmount(payment.Amount, rate)
	payment.PaidAt = &now
	payment.UpdatedAt = now
	payment.FailureReason = ""
	if o.Method != "" {
		payment.Method = o.Method
	}
	if payment.ExternalRef == "" {
		payment.ExternalRef = o.ExternalRef
	}
	if o.Actor != "" {
		payment.ReviewedBy = o.Actor
	}
	if payment.BookingID == "" && booking != nil {
		payment.BookingID = booking.ID
	}

	if existing == nil {
		err = tx.InsertPayment(ctx, payment)
	} else {
		err = tx.UpdatePayment(ctx, payment)
	}
	if err != nil {
		return nil, err
	}

	enrollment := sc.enrollment
	enrollment.Status = models.EnrollmentEnrolled
	enrollment.PaymentStatus = models.EnrollmentPaymentPaid
	enrollment.PaymentMethod = payment.Method
	enrollment.PaymentReference = payment.ExternalRef
	enrollment.PaymentID = payment.ID
	enrollment.PaymentDate = &now
	enrollment.PaymentError = ""
	enrollment.UpdatedAt = now
	if err := tx.UpdateEnrollmentPayment(ctx, enrollment); err != nil {
		return nil, err
	}

	res := &SettlementResult{Payment: payment, Enrollment: enrollment, Booking: booking}
	if payment.Split.InstitutionAmount.IsPositive() {
		res.Payout = &models.InstitutionPayout{
			ID:             e.newID(),
			InstitutionID:  o.InstitutionID,
			EnrollmentID:   enrollment.ID,
			PaymentID:      payment.ID,
			Amount:         payment.Split.InstitutionAmount,
			Currency:       payment.Currency,
			Status:         models.PayoutPending,
			Type:           models.PayoutSettlement,
			CommissionRate: rate,
			CreatedAt:      now,
		}
		if err := tx.InsertPayout(ctx, res.Payout); err != nil {
			return nil, err
		}
	}

	if err := e.moveBooking(ctx, tx, booking, models.BookingCompleted,
		models.BookingPending, models.BookingPaymentInitiated, models.BookingFailed); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Executor) settleFailure(ctx context.Context, tx db.SettlementTx, sc *settlementContext, o Outcome) (*SettlementResult, error) {
	existing, err := e.findPayment(ctx, tx, o, sc.enrollment.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == models.PaymentFailed {
		return &SettlementResult{Payment: existing, Enrollment: sc.enrollment, Duplicate: true}, nil
	}

	booking, err := tx.LockBooking(ctx, sc.enrollment.StudentID, sc.enrollment.CourseID)
	if err != nil {
		return nil, err
	}

	reason := o.FailureReason
	if reason == "" {
		reason = defaultFailureReason
	}
	now := e.now().UTC()

	var payment *models.Payment
	switch {
	case existing != nil:
		if err := advance(existing, models.PaymentFailed); err != nil {
			return nil, err
		}
		existing.FailureReason = reason
		existing.UpdatedAt = now
		if o.Actor != "" {
			existing.ReviewedBy = o.Actor
		}
		if existing.BookingID == "" && booking != nil {
			existing.BookingID = booking.ID
		}
		if err := tx.UpdatePayment(ctx, existing); err != nil {
			return nil, err
		}
		payment = existing

	case o.ReachedProcessing:
		rate, err := e.commission.CommissionRate(ctx, tx, o.InstitutionID)
		if err != nil {
			return nil, err
		}
		payment = &models.Payment{
			ID:            e.newID(),
			EnrollmentID:  sc.enrollment.ID,
			Amount:        o.Amount,
			Currency:      o.Currency,
			Status:        models.PaymentProcessing,
			Method:        o.Method,
			ExternalRef:   o.ExternalRef,
			Split:         models.SplitAmount(o.Amount, rate),
			FailureReason: reason,
			ReviewedBy:    o.Actor,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if booking != nil {
			payment.BookingID = booking.ID
		}
		if err := Transition(payment, models.PaymentFailed); err != nil {
			return nil, err
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return nil, err
		}
	}

	enrollment := sc.enrollment
	if enrollment.PaymentStatus == models.EnrollmentPaymentPaid {
		// a stale failure must not undo a successful payment
		e.log.Warn("enrollment %s is already paid, keeping its payment status", enrollment.ID)
	} else {
		enrollment.PaymentStatus = models.EnrollmentPaymentFailed
		enrollment.PaymentError = reason
		enrollment.UpdatedAt = now
		if payment != nil {
			enrollment.PaymentID = payment.ID
			enrollment.PaymentReference = payment.ExternalRef
		}
		if err := tx.UpdateEnrollmentPayment(ctx, enrollment); err != nil {
			return nil, err
		}
	}

	res := &SettlementResult{Payment: payment, Enrollment: enrollment, Booking: booking}
	if payment != nil {
		if err := e.moveBooking(ctx, tx, booking, models.BookingFailed,
			models.BookingPending, models.BookingPaymentInitiated); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (e *Executor) settleRefund(ctx context.Context, tx db.SettlementTx, sc *settlementContext, o Outcome) (*SettlementResult, error) {
	original, err := tx.PaymentByExternalRef(ctx, o.OriginalExternalRef)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, errors.E(errors.NotFound,
			fmt.Sprintf("payment with reference %s not found", o.OriginalExternalRef))
	}
	if original.EnrollmentID != sc.enrollment.ID {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("payment %s belongs to a different enrollment", original.ID))
	}
	if original.Status == models.PaymentRefunded && o.ExternalRef != "" && original.RefundReference == o.ExternalRef {
		return &SettlementResult{Payment: original, Enrollment: sc.enrollment, Duplicate: true}, nil
	}

	refundAmount := o.RefundAmount
	if refundAmount.IsZero() {
		refundAmount = original.Amount
	}
	if refundAmount.GreaterThan(original.Amount) {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("refund %s exceeds paid amount %s", refundAmount, original.Amount))
	}

	if !CanTransition(original.Status, models.PaymentRefunded) {
		return nil, Transition(original, models.PaymentRefunded)
	}

	rate, err := e.commission.CommissionRate(ctx, tx, o.InstitutionID)
	if err != nil {
		return nil, err
	}
	split := models.SplitAmount(refundAmount, rate)
	now := e.now().UTC()

	if err := Transition(original, models.PaymentRefunded); err != nil {
		return nil, err
	}
	original.RefundAmount = refundAmount
	original.RefundSplit = split
	original.RefundReference = o.ExternalRef
	original.RefundedAt = &now
	original.UpdatedAt = now
	if err := tx.UpdatePayment(ctx, original); err != nil {
		return nil, err
	}

	enrollment := sc.enrollment
	enrollment.PaymentStatus = models.EnrollmentPaymentRefunded
	enrollment.UpdatedAt = now
	if err := tx.UpdateEnrollmentPayment(ctx, enrollment); err != nil {
		return nil, err
	}

	res := &SettlementResult{Payment: original, Enrollment: enrollment}
	if !split.InstitutionAmount.IsZero() {
		res.Payout = &models.InstitutionPayout{
			ID:             e.newID(),
			InstitutionID:  o.InstitutionID,
			EnrollmentID:   enrollment.ID,
			PaymentID:      original.ID,
			Amount:         split.InstitutionAmount.Neg(),
			Currency:       original.Currency,
			Status:         models.PayoutPending,
			Type:           models.PayoutRefund,
			CommissionRate: rate,
			CreatedAt:      now,
		}
		if err := tx.InsertPayout(ctx, res.Payout); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// moveBooking moves b to `to` when its current status is one of from. Other
// statuses are left alone for the reconciler to report.
func (e *Executor) moveBooking(ctx context.Context, tx db.SettlementTx, b *models.Booking, to models.BookingStatus, from ...models.BookingStatus) error {
	if b == nil || b.Status == to {
		return nil
	}
	for _, s := range from {
		if b.Status == s {
			return tx.UpdateBookingStatus(ctx, b, to)
		}
	}
	e.log.Warn("booking %s is %s, not moving it to %s", b.ID, b.Status, to)
	return nil
}

// notify runs after commit. Failures are logged and counted, never returned.
func (e *Executor) notify(ctx context.Context, o Outcome, sc *settlementContext, res *SettlementResult) {
	if e.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	defer cancel()

	notice := models.PaymentNotice{
		EnrollmentID:    sc.enrollment.ID,
		InstitutionID:   sc.institution.ID,
		StudentName:     sc.student.Name,
		StudentEmail:    sc.student.Email,
		CourseTitle:     sc.course.Title,
		InstitutionName: sc.institution.Name,
		Amount:          o.Amount,
		Currency:        o.Currency,
		Method:          o.Method,
		ExternalRef:     o.ExternalRef,
		OccurredAt:      e.now().UTC(),
	}
	if p := res.Payment; p != nil {
		notice.PaymentID = p.ID
		notice.Amount = p.Amount
		notice.Currency = p.Currency
		notice.Method = p.Method
		notice.ExternalRef = p.ExternalRef
	}

	var err error
	switch o.Disposition {
	case DispositionSuccess:
		err = e.notifier.SendPaymentConfirmation(nctx, notice)
	case DispositionFailure:
		notice.Reason = res.Enrollment.PaymentError
		if res.Payment != nil {
			notice.Reason = res.Payment.FailureReason
		}
		err = e.notifier.SendPaymentFailure(nctx, notice)
	case DispositionRefund:
		notice.Amount = res.Payment.RefundAmount
		notice.ExternalRef = res.Payment.RefundReference
		err = e.notifier.SendRefundConfirmation(nctx, notice)
	}

	if err != nil {
		nerr := errors.E(errors.NotificationFailure, "notifying "+sc.student.Email, err)
		metrics.RecordNotificationFailure(string(o.Disposition))
		e.log.Warn("%v", nerr)
	}
}
