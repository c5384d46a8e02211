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

func TestDaysUntilDue(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 7, DaysUntilDue(now.Add(7*24*time.Hour), now))
	assert.Equal(t, 7, DaysUntilDue(now.Add(6*24*time.Hour+time.Minute), now))
	assert.Equal(t, 1, DaysUntilDue(now.Add(time.Hour), now))
	assert.Equal(t, 0, DaysUntilDue(now, now))
	assert.Equal(t, -1, DaysUntilDue(now.Add(-25*time.Hour), now))
}

var reminderNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newReminderFixture(t *testing.T) (*memStore, *recordingNotifier, *ReminderScheduler) {
	store := newMemStore()
	store.addCourse("course-1", "inst-1", "Go")
	for _, id := range []string{"enr-7", "enr-3", "enr-1", "enr-5", "enr-paid"} {
		store.addEnrollment(id, "stu-"+id, "course-1")
	}
	paid := store.enrollments["enr-paid"]
	paid.PaymentStatus = models.EnrollmentPaymentPaid
	store.enrollments["enr-paid"] = paid

	due := func(days int) *time.Time {
		d := reminderNow.Add(time.Duration(days)*24*time.Hour - time.Hour)
		return &d
	}
	add := func(id, enr string, days int) {
		store.addPayment(models.Payment{
			ID:           id,
			EnrollmentID: enr,
			Amount:       decimal.NewFromInt(2500),
			Currency:     "INR",
			Status:       models.PaymentPending,
			DueDate:      due(days),
			CreatedAt:    reminderNow.Add(-48 * time.Hour),
		})
	}
	add("pm-7", "enr-7", 7)
	add("pm-3", "enr-3", 3)
	add("pm-1", "enr-1", 1)
	add("pm-5", "enr-5", 5)
	add("pm-paid", "enr-paid", 7)

	n := &recordingNotifier{failReminder: map[string]bool{}}
	s := NewReminderScheduler(store, n, NoopJobLock{}, time.Minute, 0, testLogger(t))
	s.now = func() time.Time { return reminderNow }
	return store, n, s
}

func TestSendReminders(t *testing.T) {
	store, n, s := newReminderFixture(t)

	res, err := s.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sent)
	assert.ElementsMatch(t, []string{"pm-7", "pm-3", "pm-1"}, res.PaymentIDs)

	urgency := map[string]models.ReminderUrgency{}
	types := map[string]models.ReminderType{}
	for _, r := range n.reminders {
		urgency[r.PaymentID] = r.Urgency
		types[r.PaymentID] = r.Type
	}
	assert.Equal(t, models.UrgencyLow, urgency["pm-7"])
	assert.Equal(t, models.ReminderFirst, types["pm-7"])
	assert.Equal(t, models.UrgencyMedium, urgency["pm-3"])
	assert.Equal(t, models.ReminderFinal, types["pm-1"])
	assert.Equal(t, models.UrgencyHigh, urgency["pm-1"])
	assert.Len(t, store.reminders, 3)

	again, err := s.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Sent)
	assert.Empty(t, again.PaymentIDs)
	assert.Len(t, n.reminders, 3)
}

func TestSendRemindersDueDateFallsBackToCreation(t *testing.T) {
	store, n, s := newReminderFixture(t)
	for id, p := range store.payments {
		p.DueDate = nil
		store.payments[id] = p
	}
	// created two days ago, so the fallback due date is already past
	res, err := s.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Empty(t, n.reminders)
}

func TestSendRemindersSendFailureIsNotRecorded(t *testing.T) {
	store, n, s := newReminderFixture(t)
	n.failReminder["pm-3"] = true

	res, err := s.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.NotContains(t, res.PaymentIDs, "pm-3")

	exists, err := store.ReminderExists(context.Background(), "pm-3", models.ReminderSecond)
	require.NoError(t, err)
	assert.False(t, exists)

	n.failReminder["pm-3"] = false
	res, err = s.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"pm-3"}, res.PaymentIDs)
}

func TestSendRemindersLockHeld(t *testing.T) {
	_, _, s := newReminderFixture(t)
	s.lock = heldLock{}

	_, err := s.SendReminders(context.Background())
	assert.Equal(t, errors.Conflict, errors.KindOf(err))
}

func TestReminderHistoryNewestFirst(t *testing.T) {
	store, _, s := newReminderFixture(t)
	ctx := context.Background()

	for i, rt := range []models.ReminderType{models.ReminderFirst, models.ReminderSecond, models.ReminderFinal} {
		_, err := store.InsertReminder(ctx, &models.PaymentReminder{
			ID:        string(rt),
			PaymentID: "pm-5",
			Type:      rt,
			SentAt:    reminderNow.Add(time.Duration(i) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}

	history, err := s.ReminderHistory(ctx, "pm-5")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.ReminderFinal, history[0].Type)
	assert.Equal(t, models.ReminderFirst, history[2].Type)

	empty, err := s.ReminderHistory(ctx, "pm-none")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
