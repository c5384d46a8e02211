package services

import (
	"context"
	"testing"
	"time"

	"marketplace-settlement/errors"
	"marketplace-settlement/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBookingRules(t *testing.T) {
	enr := &models.Enrollment{ID: "enr-1", PaymentStatus: models.EnrollmentPaymentPending}
	pay := func(s models.PaymentStatus) *models.Payment { return &models.Payment{ID: "pm-1", Status: s} }
	booking := func(s models.BookingStatus) models.Booking { return models.Booking{ID: "bk-1", Status: s} }

	tests := []struct {
		name    string
		booking models.Booking
		enr     *models.Enrollment
		pay     *models.Payment
		want    string
	}{
		{"no enrollment", booking(models.BookingCompleted), nil, pay(models.PaymentCompleted), IssueNoEnrollment},
		{"payment state without payment", booking(models.BookingPaymentInitiated), enr, nil, IssueNoPaymentRecord},
		{"pending booking without payment", booking(models.BookingPending), enr, nil, ""},
		{"paid but booking failed", booking(models.BookingFailed), enr, pay(models.PaymentCompleted), IssuePaidBookingOpen},
		{"legacy paid but booking pending", booking(models.BookingPending), enr, pay(models.PaymentPaid), IssuePaidBookingOpen},
		{"completed booking with pending payment", booking(models.BookingCompleted), enr, pay(models.PaymentPending), IssueCompletedWithoutPaid},
		{"completed booking with failed payment", booking(models.BookingCompleted), enr, pay(models.PaymentFailed), IssueFailedBookingNotFail},
		{"completed booking with refunded payment", booking(models.BookingCompleted), enr, pay(models.PaymentRefunded), ""},
		{"failed payment open booking", booking(models.BookingPaymentInitiated), enr, pay(models.PaymentFailed), IssueFailedBookingNotFail},
		{"pending payment failed booking", booking(models.BookingFailed), enr, pay(models.PaymentPending), IssuePendingBookingSettled},
		{"pending payment initiated booking", booking(models.BookingPaymentInitiated), enr, pay(models.PaymentPending), ""},
		{"consistent success", booking(models.BookingCompleted), enr, pay(models.PaymentCompleted), ""},
		{"processing is not judged", booking(models.BookingPaymentInitiated), enr, pay(models.PaymentProcessing), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := checkBooking(tt.booking, tt.enr, tt.pay)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Issue)
		})
	}
}

func TestSuggestBookingStatus(t *testing.T) {
	assert.Equal(t, models.BookingCompleted, SuggestBookingStatus(models.PaymentCompleted))
	assert.Equal(t, models.BookingCompleted, SuggestBookingStatus(models.PaymentPaid))
	assert.Equal(t, models.BookingFailed, SuggestBookingStatus(models.PaymentFailed))
	assert.Equal(t, models.BookingPaymentInitiated, SuggestBookingStatus(models.PaymentPending))
	assert.Equal(t, models.BookingPending, SuggestBookingStatus(models.PaymentRefunded))
	assert.Equal(t, models.BookingPending, SuggestBookingStatus(models.PaymentCancelled))
}

// seedDrift leaves bk-1 consistent, bk-2 COMPLETED-paid but FAILED, bk-3 with
// no enrollment, and one payment pointing at a deleted booking.
func seedDrift(s *memStore) {
	s.addCourse("course-1", "inst-1", "Go")
	s.addCourse("course-2", "inst-1", "Rust")
	s.addEnrollment("enr-1", "stu-1", "course-1")
	s.addEnrollment("enr-2", "stu-2", "course-2")

	s.addBooking("bk-1", "stu-1", "course-1", models.BookingCompleted)
	s.addBooking("bk-2", "stu-2", "course-2", models.BookingFailed)
	s.addBooking("bk-3", "stu-9", "course-1", models.BookingPending)

	t0 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	s.addPayment(models.Payment{ID: "pm-1", EnrollmentID: "enr-1", BookingID: "bk-1", Status: models.PaymentCompleted, Amount: decimal.NewFromInt(10), CreatedAt: t0})
	s.addPayment(models.Payment{ID: "pm-2a", EnrollmentID: "enr-2", BookingID: "bk-2", Status: models.PaymentFailed, CreatedAt: t0})
	s.addPayment(models.Payment{ID: "pm-2b", EnrollmentID: "enr-2", BookingID: "bk-2", Status: models.PaymentCompleted, CreatedAt: t0.Add(time.Hour)})
	s.addPayment(models.Payment{ID: "pm-orphan", EnrollmentID: "enr-1", BookingID: "bk-deleted", Status: models.PaymentFailed, CreatedAt: t0.Add(-time.Hour)})
}

func TestValidateConsistency(t *testing.T) {
	store := newMemStore()
	seedDrift(store)
	v := NewValidator(store, testLogger(t))

	report, err := v.ValidateConsistency(context.Background())
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.Equal(t, 3, report.BookingsChecked)

	require.Len(t, report.Inconsistencies, 2)
	byBooking := map[string]Inconsistency{}
	for _, inc := range report.Inconsistencies {
		byBooking[inc.BookingID] = inc
	}

	// the newest payment decides
	assert.Equal(t, IssuePaidBookingOpen, byBooking["bk-2"].Issue)
	assert.Equal(t, "pm-2b", byBooking["bk-2"].PaymentID)
	assert.Equal(t, models.BookingCompleted, byBooking["bk-2"].SuggestedStatus)
	assert.Equal(t, IssueNoEnrollment, byBooking["bk-3"].Issue)

	require.Len(t, report.OrphanedPayments, 1)
	assert.Equal(t, "pm-orphan", report.OrphanedPayments[0].PaymentID)

	// read-only
	assert.Equal(t, models.BookingFailed, store.booking("bk-2").Status)
	assert.Equal(t, 0, store.commits)
}

func TestValidateConsistencyCleanData(t *testing.T) {
	store := newMemStore()
	store.addCourse("course-1", "inst-1", "Go")
	store.addEnrollment("enr-1", "stu-1", "course-1")
	store.addBooking("bk-1", "stu-1", "course-1", models.BookingPending)

	report, err := NewValidator(store, testLogger(t)).ValidateConsistency(context.Background())
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Empty(t, report.Inconsistencies)
	assert.NotNil(t, report.OrphanedPayments)
}

func TestValidateConsistencyReadFailure(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.E(errors.Internal, "connection reset")

	_, err := NewValidator(store, testLogger(t)).ValidateConsistency(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ValidationFailure, errors.KindOf(err))
}

func TestValidateBooking(t *testing.T) {
	store := newMemStore()
	seedDrift(store)
	v := NewValidator(store, testLogger(t))

	check, err := v.ValidateBooking(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.True(t, check.IsValid)
	assert.Equal(t, "pm-1", check.Payment.ID)

	check, err = v.ValidateBooking(context.Background(), "bk-2")
	require.NoError(t, err)
	assert.False(t, check.IsValid)
	assert.Equal(t, IssuePaidBookingOpen, check.Inconsistency.Issue)

	_, err = v.ValidateBooking(context.Background(), "bk-nope")
	assert.Equal(t, errors.NotFound, errors.KindOf(err))
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

func TestHeal(t *testing.T) {
	store := newMemStore()
	seedDrift(store)
	log := testLogger(t)
	h := NewHealer(NewValidator(store, log), store, NoopJobLock{}, time.Minute, log)

	dry, err := h.Heal(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	require.Len(t, dry.Healed, 1)
	assert.Equal(t, "bk-2", dry.Healed[0].BookingID)
	require.Len(t, dry.Skipped, 1)
	assert.Equal(t, "bk-3", dry.Skipped[0].BookingID)
	assert.Equal(t, models.BookingFailed, store.booking("bk-2").Status)

	res, err := h.Heal(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, res.Healed, 1)

	b := store.booking("bk-2")
	assert.Equal(t, models.BookingCompleted, b.Status)
	assert.Equal(t, 2, b.Version)

	report, err := NewValidator(store, log).ValidateConsistency(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Inconsistencies, 1)
}

func TestHealRespectsJobLock(t *testing.T) {
	store := newMemStore()
	log := testLogger(t)
	h := NewHealer(NewValidator(store, log), store, heldLock{}, time.Minute, log)

	_, err := h.Heal(context.Background(), false)
	assert.Equal(t, errors.Conflict, errors.KindOf(err))
}
