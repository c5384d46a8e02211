package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"marketplace-settlement/errors"
	"marketplace-settlement/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var settleNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type settlementFixture struct {
	store    *memStore
	notifier *recordingNotifier
	exec     *Executor
}

// newSettlementFixture seeds one institution, course, student, enrollment and
// a PAYMENT_INITIATED booking, with a 20% commission rate.
func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	store := newMemStore()
	store.addCourse("course-1", "inst-1", "Go Fundamentals")
	store.addEnrollment("enr-1", "stu-1", "course-1")
	store.addBooking("bk-1", "stu-1", "course-1", models.BookingPaymentInitiated)

	n := &recordingNotifier{}
	var seq int
	exec := NewExecutor(store, fixedRate(decimal.NewFromInt(20)), n, testLogger(t),
		WithClock(func() time.Time { return settleNow }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	)
	return &settlementFixture{store: store, notifier: n, exec: exec}
}

func successOutcome() Outcome {
	return Outcome{
		EnrollmentID:  "enr-1",
		InstitutionID: "inst-1",
		Amount:        decimal.NewFromInt(1000),
		Currency:      "INR",
		Method:        "UPI",
		ExternalRef:   "pay_abc",
		Disposition:   DispositionSuccess,
	}
}

func TestSettleSuccessCreatesPaymentPayoutAndCompletesBooking(t *testing.T) {
	f := newSettlementFixture(t)

	res, err := f.exec.Settle(context.Background(), successOutcome())
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	p, ok := f.store.paymentByRef("pay_abc")
	require.True(t, ok)
	assert.Equal(t, models.PaymentCompleted, p.Status)
	assert.True(t, p.Split.CommissionAmount.Equal(decimal.NewFromInt(200)))
	assert.True(t, p.Split.InstitutionAmount.Equal(decimal.NewFromInt(800)))
	assert.Equal(t, "bk-1", p.BookingID)
	require.NotNil(t, p.PaidAt)

	e := f.store.enrollment("enr-1")
	assert.Equal(t, models.EnrollmentEnrolled, e.Status)
	assert.Equal(t, models.EnrollmentPaymentPaid, e.PaymentStatus)
	assert.Equal(t, p.ID, e.PaymentID)
	assert.Equal(t, "pay_abc", e.PaymentReference)

	require.Len(t, f.store.payouts, 1)
	payout := f.store.payouts[0]
	assert.Equal(t, models.PayoutSettlement, payout.Type)
	assert.Equal(t, models.PayoutPending, payout.Status)
	assert.True(t, payout.Amount.Equal(decimal.NewFromInt(800)))

	b := f.store.booking("bk-1")
	assert.Equal(t, models.BookingCompleted, b.Status)
	assert.Equal(t, 2, b.Version)
	assert.Equal(t, 2, b.StateVersion)

	require.Len(t, f.notifier.confirmed, 1)
	assert.Equal(t, "stu-1@example.com", f.notifier.confirmed[0].StudentEmail)
	assert.Equal(t, p.ID, f.notifier.confirmed[0].PaymentID)
}

func TestSettleSuccessIsIdempotentPerExternalRef(t *testing.T) {
	f := newSettlementFixture(t)

	_, err := f.exec.Settle(context.Background(), successOutcome())
	require.NoError(t, err)

	res, err := f.exec.Settle(context.Background(), successOutcome())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	assert.Len(t, f.store.payouts, 1)
	assert.Len(t, f.notifier.confirmed, 1)
	assert.Equal(t, 2, f.store.booking("bk-1").Version)
}

func TestSettleConcurrentDuplicatesWriteOnce(t *testing.T) {
	f := newSettlementFixture(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.exec.Settle(context.Background(), successOutcome())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, f.store.payouts, 1)
	assert.Len(t, f.store.payments, 1)
}

func TestSettleSuccessApprovesPendingManualPayment(t *testing.T) {
	f := newSettlementFixture(t)
	f.store.addPayment(models.Payment{
		ID:           "pm-1",
		EnrollmentID: "enr-1",
		Amount:       decimal.NewFromInt(500),
		Currency:     "INR",
		Status:       models.PaymentPending,
		Method:       "BANK_TRANSFER",
	})

	res, err := f.exec.Settle(context.Background(), Outcome{
		EnrollmentID:  "enr-1",
		InstitutionID: "inst-1",
		PaymentID:     "pm-1",
		Currency:      "INR",
		Disposition:   DispositionSuccess,
		Actor:         "admin-1",
	})
	require.NoError(t, err)

	p := f.store.payment("pm-1")
	assert.Equal(t, models.PaymentCompleted, p.Status)
	assert.Equal(t, "admin-1", p.ReviewedBy)
	assert.Equal(t, "BANK_TRANSFER", p.Method)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(500)))
	assert.True(t, p.Split.InstitutionAmount.Equal(decimal.NewFromInt(400)))
	require.NotNil(t, res.Payout)
	assert.True(t, res.Payout.Amount.Equal(decimal.NewFromInt(400)))
}

func TestSettleSuccessZeroCommissionAndFullCommission(t *testing.T) {
	for _, tc := range []struct {
		rate       int64
		wantPayout bool
	}{
		{rate: 0, wantPayout: true},
		{rate: 100, wantPayout: false},
	} {
		t.Run(fmt.Sprintf("rate %d", tc.rate), func(t *testing.T) {
			f := newSettlementFixture(t)
			f.exec.commission = fixedRate(decimal.NewFromInt(tc.rate))

			res, err := f.exec.Settle(context.Background(), successOutcome())
			require.NoError(t, err)
			assert.Equal(t, tc.wantPayout, res.Payout != nil)
			assert.Len(t, f.store.payouts, map[bool]int{true: 1, false: 0}[tc.wantPayout])
		})
	}
}

func TestSettleMissingRowsWriteNothing(t *testing.T) {
	f := newSettlementFixture(t)

	o := successOutcome()
	o.EnrollmentID = "enr-missing"
	_, err := f.exec.Settle(context.Background(), o)
	require.Error(t, err)
	assert.Equal(t, errors.NotFound, errors.KindOf(err))

	delete(f.store.students, "stu-1")
	_, err = f.exec.Settle(context.Background(), successOutcome())
	require.Error(t, err)
	assert.Equal(t, errors.NotFound, errors.KindOf(err))

	assert.Empty(t, f.store.payments)
	assert.Empty(t, f.store.payouts)
	assert.Equal(t, models.BookingPaymentInitiated, f.store.booking("bk-1").Status)
	assert.Empty(t, f.notifier.confirmed)
}

func TestSettleRejectsWrongInstitution(t *testing.T) {
	f := newSettlementFixture(t)

	o := successOutcome()
	o.InstitutionID = "inst-2"
	_, err := f.exec.Settle(context.Background(), o)
	require.Error(t, err)
	assert.Equal(t, errors.Invalid, errors.KindOf(err))
	assert.Empty(t, f.store.payments)
}

func TestSettleCommissionUnavailableWritesNothing(t *testing.T) {
	f := newSettlementFixture(t)
	f.exec.commission = failingRate{}

	_, err := f.exec.Settle(context.Background(), successOutcome())
	require.Error(t, err)
	assert.Equal(t, errors.DependencyUnavailable, errors.KindOf(err))
	assert.Empty(t, f.store.payments)
	assert.Equal(t, models.EnrollmentPaymentPending, f.store.enrollment("enr-1").PaymentStatus)
}

func TestSettleRollsBackWhenPayoutInsertFails(t *testing.T) {
	f := newSettlementFixture(t)
	f.store.insertPayoutErr = errors.E(errors.Internal, "disk full")

	_, err := f.exec.Settle(context.Background(), successOutcome())
	require.Error(t, err)

	assert.Empty(t, f.store.payments)
	assert.Equal(t, models.EnrollmentPending, f.store.enrollment("enr-1").Status)
	assert.Equal(t, models.BookingPaymentInitiated, f.store.booking("bk-1").Status)
	assert.Equal(t, 1, f.store.rollbacks)
}

func TestSettleBookingVersionConflictAborts(t *testing.T) {
	f := newSettlementFixture(t)
	f.store.afterLockBooking = func(s *memStore, b models.Booking) {
		b.Version++
		s.bookings[b.ID] = b
	}

	_, err := f.exec.Settle(context.Background(), successOutcome())
	require.Error(t, err)
	assert.Equal(t, errors.Conflict, errors.KindOf(err))
	assert.Empty(t, f.store.payments)
	assert.Empty(t, f.store.payouts)
	assert.Empty(t, f.notifier.confirmed)
}

func TestSettleNotificationFailureIsSwallowed(t *testing.T) {
	f := newSettlementFixture(t)
	f.notifier.err = errors.E(errors.Internal, "smtp down")

	res, err := f.exec.Settle(context.Background(), successOutcome())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, res.Payment.Status)

	p, ok := f.store.paymentByRef("pay_abc")
	require.True(t, ok)
	assert.Equal(t, models.PaymentCompleted, p.Status)
}

func TestSettleFailureMarksEnrollmentAndBooking(t *testing.T) {
	f := newSettlementFixture(t)

	_, err := f.exec.Settle(context.Background(), Outcome{
		EnrollmentID:      "enr-1",
		InstitutionID:     "inst-1",
		Amount:            decimal.NewFromInt(1000),
		Currency:          "INR",
		ExternalRef:       "pay_fail",
		Disposition:       DispositionFailure,
		FailureReason:     "card declined",
		ReachedProcessing: true,
	})
	require.NoError(t, err)

	p, ok := f.store.paymentByRef("pay_fail")
	require.True(t, ok)
	assert.Equal(t, models.PaymentFailed, p.Status)
	assert.Equal(t, "card declined", p.FailureReason)

	e := f.store.enrollment("enr-1")
	assert.Equal(t, models.EnrollmentPaymentFailed, e.PaymentStatus)
	assert.Equal(t, "card declined", e.PaymentError)
	assert.Equal(t, models.BookingFailed, f.store.booking("bk-1").Status)
	assert.Empty(t, f.store.payouts)

	require.Len(t, f.notifier.failed, 1)
	assert.Equal(t, "card declined", f.notifier.failed[0].Reason)
}

func TestSettleFailureWithoutProcessingOnlyTouchesEnrollment(t *testing.T) {
	f := newSettlementFixture(t)

	_, err := f.exec.Settle(context.Background(), Outcome{
		EnrollmentID:  "enr-1",
		InstitutionID: "inst-1",
		Currency:      "INR",
		Disposition:   DispositionFailure,
	})
	require.NoError(t, err)

	assert.Empty(t, f.store.payments)
	e := f.store.enrollment("enr-1")
	assert.Equal(t, models.EnrollmentPaymentFailed, e.PaymentStatus)
	assert.Equal(t, defaultFailureReason, e.PaymentError)
	assert.Equal(t, models.BookingPaymentInitiated, f.store.booking("bk-1").Status)
}

func TestSettleFailureAfterSuccessKeepsPaidEnrollment(t *testing.T) {
	f := newSettlementFixture(t)
	_, err := f.exec.Settle(context.Background(), successOutcome())
	require.NoError(t, err)

	_, err = f.exec.Settle(context.Background(), Outcome{
		EnrollmentID:  "enr-1",
		InstitutionID: "inst-1",
		Currency:      "INR",
		ExternalRef:   "pay_abc",
		Disposition:   DispositionFailure,
	})
	require.Error(t, err)
	assert.Equal(t, errors.InvalidTransition, errors.KindOf(err))
	assert.Equal(t, models.EnrollmentPaymentPaid, f.store.enrollment("enr-1").PaymentStatus)
	assert.Equal(t, models.BookingCompleted, f.store.booking("bk-1").Status)
}

func TestSettleRefund(t *testing.T) {
	f := newSettlementFixture(t)
	_, err := f.exec.Settle(context.Background(), successOutcome())
	require.NoError(t, err)

	refund := Outcome{
		EnrollmentID:        "enr-1",
		InstitutionID:       "inst-1",
		ExternalRef:         "rfnd_1",
		OriginalExternalRef: "pay_abc",
		RefundAmount:        decimal.NewFromInt(500),
		Disposition:         DispositionRefund,
	}
	res, err := f.exec.Settle(context.Background(), refund)
	require.NoError(t, err)
	require.NotNil(t, res.Payout)

	p, _ := f.store.paymentByRef("pay_abc")
	assert.Equal(t, models.PaymentRefunded, p.Status)
	assert.True(t, p.RefundAmount.Equal(decimal.NewFromInt(500)))
	assert.True(t, p.RefundSplit.InstitutionAmount.Equal(decimal.NewFromInt(400)))
	assert.Equal(t, "rfnd_1", p.RefundReference)
	assert.Equal(t, models.EnrollmentPaymentRefunded, f.store.enrollment("enr-1").PaymentStatus)

	require.Len(t, f.store.payouts, 2)
	assert.Equal(t, models.PayoutRefund, f.store.payouts[1].Type)
	assert.True(t, f.store.payouts[1].Amount.Equal(decimal.NewFromInt(-400)))

	// booking stays COMPLETED after a refund
	assert.Equal(t, models.BookingCompleted, f.store.booking("bk-1").Status)

	require.Len(t, f.notifier.refunded, 1)
	assert.True(t, f.notifier.refunded[0].Amount.Equal(decimal.NewFromInt(500)))

	t.Run("replay is a no-op", func(t *testing.T) {
		res, err := f.exec.Settle(context.Background(), refund)
		require.NoError(t, err)
		assert.True(t, res.Duplicate)
		assert.Len(t, f.store.payouts, 2)
	})

	t.Run("redelivered capture after refund is a no-op", func(t *testing.T) {
		res, err := f.exec.Settle(context.Background(), successOutcome())
		require.NoError(t, err)
		assert.True(t, res.Duplicate)

		p, _ := f.store.paymentByRef("pay_abc")
		assert.Equal(t, models.PaymentRefunded, p.Status)
		assert.Equal(t, models.EnrollmentPaymentRefunded, f.store.enrollment("enr-1").PaymentStatus)
		assert.Len(t, f.store.payouts, 2)
		assert.Len(t, f.notifier.confirmed, 1)
	})

	t.Run("second refund is rejected", func(t *testing.T) {
		again := refund
		again.ExternalRef = "rfnd_2"
		_, err := f.exec.Settle(context.Background(), again)
		require.Error(t, err)
		assert.Equal(t, errors.InvalidTransition, errors.KindOf(err))
	})
}

func TestSettleRefundErrors(t *testing.T) {
	f := newSettlementFixture(t)
	f.store.addPayment(models.Payment{
		ID:           "pm-pending",
		EnrollmentID: "enr-1",
		Amount:       decimal.NewFromInt(300),
		Currency:     "INR",
		Status:       models.PaymentPending,
		ExternalRef:  "pay_pending",
	})

	base := Outcome{
		EnrollmentID:  "enr-1",
		InstitutionID: "inst-1",
		ExternalRef:   "rfnd_x",
		Disposition:   DispositionRefund,
	}

	t.Run("unknown original", func(t *testing.T) {
		o := base
		o.OriginalExternalRef = "pay_nope"
		_, err := f.exec.Settle(context.Background(), o)
		assert.Equal(t, errors.NotFound, errors.KindOf(err))
	})

	t.Run("original not completed", func(t *testing.T) {
		o := base
		o.OriginalExternalRef = "pay_pending"
		_, err := f.exec.Settle(context.Background(), o)
		assert.Equal(t, errors.InvalidTransition, errors.KindOf(err))
		assert.Equal(t, models.PaymentPending, f.store.payment("pm-pending").Status)
	})

	t.Run("refund exceeds payment", func(t *testing.T) {
		_, err := f.exec.Settle(context.Background(), successOutcome())
		require.NoError(t, err)

		o := base
		o.OriginalExternalRef = "pay_abc"
		o.RefundAmount = decimal.NewFromInt(1001)
		_, err = f.exec.Settle(context.Background(), o)
		assert.Equal(t, errors.Invalid, errors.KindOf(err))
	})
}

func TestOutcomeValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Outcome)
	}{
		{"missing enrollment", func(o *Outcome) { o.EnrollmentID = "" }},
		{"missing institution", func(o *Outcome) { o.InstitutionID = "" }},
		{"bad disposition", func(o *Outcome) { o.Disposition = "MAYBE" }},
		{"bad currency", func(o *Outcome) { o.Currency = "RUPEES" }},
		{"negative amount", func(o *Outcome) { o.Amount = decimal.NewFromInt(-1) }},
		{"success without reference", func(o *Outcome) { o.ExternalRef = "" }},
		{"success without amount", func(o *Outcome) { o.Amount = decimal.Zero }},
		{"refund without original", func(o *Outcome) { o.Disposition = DispositionRefund }},
		{"processed failure without amount", func(o *Outcome) {
			o.Disposition = DispositionFailure
			o.ReachedProcessing = true
			o.Amount = decimal.Zero
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := successOutcome()
			tt.mutate(&o)
			err := o.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.Invalid, errors.KindOf(err))
		})
	}

	assert.NoError(t, successOutcome().Validate())

	// only failures that never reached processing may omit the amount
	early := successOutcome()
	early.Disposition = DispositionFailure
	early.Amount = decimal.Zero
	assert.NoError(t, early.Validate())
}

func TestSettleFailureRejectsZeroAmountProcessedPayment(t *testing.T) {
	f := newSettlementFixture(t)

	_, err := f.exec.Settle(context.Background(), Outcome{
		EnrollmentID:      "enr-1",
		InstitutionID:     "inst-1",
		Currency:          "INR",
		ExternalRef:       "pay_zero",
		Disposition:       DispositionFailure,
		ReachedProcessing: true,
	})
	require.Error(t, err)
	assert.Equal(t, errors.Invalid, errors.KindOf(err))

	_, ok := f.store.paymentByRef("pay_zero")
	assert.False(t, ok)
	assert.Equal(t, models.EnrollmentPaymentPending, f.store.enrollment("enr-1").PaymentStatus)
}
