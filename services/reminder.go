package services

import (
	"context"
	"math"
	"time"

	"marketplace-settlement/db"
	"marketplace-settlement/errors"
	"marketplace-settlement/logger"
	"marketplace-settlement/metrics"
	"marketplace-settlement/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ReminderStep fires when a payment is exactly DaysBefore days from due.
type ReminderStep struct {
	DaysBefore int
	Type       models.ReminderType
	Urgency    models.ReminderUrgency
}

var DefaultReminderSchedule = []ReminderStep{
	{DaysBefore: 7, Type: models.ReminderFirst, Urgency: models.UrgencyLow},
	{DaysBefore: 3, Type: models.ReminderSecond, Urgency: models.UrgencyMedium},
	{DaysBefore: 1, Type: models.ReminderFinal, Urgency: models.UrgencyHigh},
}

// DaysUntilDue rounds up, so anything less than a full day away counts as 1.
func DaysUntilDue(due, now time.Time) int {
	return int(math.Ceil(due.Sub(now).Hours() / 24))
}

type SweepResult struct {
	Sent       int      `json:"sent"`
	PaymentIDs []string `json:"payment_ids"`
}

// ReminderScheduler emails students about pending payments approaching their
// due date. Reminders are sent at most once per (payment, type).
type ReminderScheduler struct {
	store    db.ReminderStore
	notifier Notifier
	lock     JobLock
	lockTTL  time.Duration
	limiter  *rate.Limiter
	schedule []ReminderStep
	log      *logger.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
}

// NewReminderScheduler paces sends at perSecond emails per second; zero or
// less disables pacing.
func NewReminderScheduler(store db.ReminderStore, notifier Notifier, lock JobLock, lockTTL time.Duration, perSecond float64, log *logger.Logger) *ReminderScheduler {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &ReminderScheduler{
		store:    store,
		notifier: notifier,
		lock:     lock,
		lockTTL:  lockTTL,
		limiter:  rate.NewLimiter(limit, 1),
		schedule: DefaultReminderSchedule,
		log:      log,
		tracer:   otel.Tracer("marketplace-settlement/services"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (s *ReminderScheduler) stepFor(days int) (ReminderStep, bool) {
	for _, step := range s.schedule {
		if step.DaysBefore == days {
			return step, true
		}
	}
	return ReminderStep{}, false
}

// SendReminders runs one sweep. A send failure skips that payment without
// recording it, so the next sweep retries it.
func (s *ReminderScheduler) SendReminders(ctx context.Context) (*SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "reminders.SendReminders")
	defer span.End()

	release, ok, err := s.lock.Acquire(ctx, "reminders:sweep", s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.E(errors.Conflict, "another reminder sweep is in progress")
	}
	defer release()

	pending, err := s.store.PendingPayments(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	result := &SweepResult{PaymentIDs: []string{}}
	for _, pp := range pending {
		p := pp.Payment
		due := p.CreatedAt
		if p.DueDate != nil {
			due = *p.DueDate
		}
		days := DaysUntilDue(due, now)
		step, ok := s.stepFor(days)
		if !ok {
			continue
		}

		exists, err := s.store.ReminderExists(ctx, p.ID, step.Type)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		notice := models.ReminderNotice{
			PaymentID:    p.ID,
			EnrollmentID: p.EnrollmentID,
			StudentName:  pp.StudentName,
			StudentEmail: pp.StudentEmail,
			CourseTitle:  pp.CourseTitle,
			Amount:       p.Amount,
			Currency:     p.Currency,
			DueDate:      due,
			DaysUntilDue: days,
			Type:         step.Type,
			Urgency:      step.Urgency,
		}
		if err := s.notifier.SendPaymentReminder(ctx, notice); err != nil {
			metrics.RecordNotificationFailure("reminder")
			s.log.Warn("Reminder %s for payment %s not sent: %v", step.Type, p.ID, err)
			continue
		}

		inserted, err := s.store.InsertReminder(ctx, &models.PaymentReminder{
			ID:           s.newID(),
			PaymentID:    p.ID,
			EnrollmentID: p.EnrollmentID,
			Type:         step.Type,
			DaysUntilDue: days,
			SentAt:       now,
		})
		if err != nil {
			return nil, err
		}
		if !inserted {
			s.log.Warn("Reminder %s for payment %s was recorded by another runner", step.Type, p.ID)
		}
		metrics.RecordReminderSent(string(step.Type))
		result.Sent++
		result.PaymentIDs = append(result.PaymentIDs, p.ID)
	}

	span.SetAttributes(attribute.Int("reminders.sent", result.Sent))
	s.log.Info("Reminder sweep sent %d reminders across %d pending payments", result.Sent, len(pending))
	return result, nil
}

// ReminderHistory returns the reminders sent for a payment, newest first.
func (s *ReminderScheduler) ReminderHistory(ctx context.Context, paymentID string) ([]models.PaymentReminder, error) {
	reminders, err := s.store.RemindersForPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if reminders == nil {
		reminders = []models.PaymentReminder{}
	}
	return reminders, nil
}
