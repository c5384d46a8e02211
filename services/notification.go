package services

import (
	"context"
	"fmt"
	"time"

	"marketplace-settlement/logger"
	"marketplace-settlement/models"
	eventbus "marketplace-settlement/services/kafka"

	"github.com/shopspring/decimal"
)

// Notifier tells students what happened to their payment.
type Notifier interface {
	SendPaymentConfirmation(ctx context.Context, n models.PaymentNotice) error
	SendPaymentFailure(ctx context.Context, n models.PaymentNotice) error
	SendRefundConfirmation(ctx context.Context, n models.PaymentNotice) error
	SendPaymentReminder(ctx context.Context, n models.ReminderNotice) error
}

// Publisher is the subset of the Kafka producer the services use.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

const (
	EventPaymentSettled      = "payment.settled"
	EventPaymentFailed       = "payment.failed"
	EventPaymentRefunded     = "payment.refunded"
	EventPaymentReminderSent = "payment.reminder_sent"
)

// PaymentEvent is published on the payments topic for downstream consumers.
type PaymentEvent struct {
	Event         string          `json:"event"`
	PaymentID     string          `json:"payment_id,omitempty"`
	EnrollmentID  string          `json:"enrollment_id"`
	InstitutionID string          `json:"institution_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason,omitempty"`
	ReminderType  string          `json:"reminder_type,omitempty"`
	Timestamp     string          `json:"timestamp"`
}

// EmailNotifier queues student emails on the email topic and mirrors each
// notification as a PaymentEvent.
type EmailNotifier struct {
	publisher   Publisher
	receipts    *ReceiptGenerator
	emailTopic  string
	eventsTopic string
	log         *logger.Logger
	now         func() time.Time
}

// NewEmailNotifier builds a notifier. receipts may be nil to skip PDF receipts.
func NewEmailNotifier(publisher Publisher, receipts *ReceiptGenerator, emailTopic, eventsTopic string, log *logger.Logger) *EmailNotifier {
	return &EmailNotifier{
		publisher:   publisher,
		receipts:    receipts,
		emailTopic:  emailTopic,
		eventsTopic: eventsTopic,
		log:         log,
		now:         time.Now,
	}
}

func (n *EmailNotifier) SendPaymentConfirmation(ctx context.Context, notice models.PaymentNotice) error {
	var attachment string
	if n.receipts != nil {
		path, err := n.receipts.Generate(notice)
		if err != nil {
			n.log.Warn("Receipt for payment %s not generated: %v", notice.PaymentID, err)
		} else {
			attachment = path
		}
	}
	subject, body := confirmationEmail(notice)
	return n.deliver(ctx, notice.StudentEmail, subject, body, attachment,
		n.paymentEvent(EventPaymentSettled, notice))
}

func (n *EmailNotifier) SendPaymentFailure(ctx context.Context, notice models.PaymentNotice) error {
	subject, body := failureEmail(notice)
	return n.deliver(ctx, notice.StudentEmail, subject, body, "",
		n.paymentEvent(EventPaymentFailed, notice))
}

func (n *EmailNotifier) SendRefundConfirmation(ctx context.Context, notice models.PaymentNotice) error {
	subject, body := refundEmail(notice)
	return n.deliver(ctx, notice.StudentEmail, subject, body, "",
		n.paymentEvent(EventPaymentRefunded, notice))
}

func (n *EmailNotifier) SendPaymentReminder(ctx context.Context, notice models.ReminderNotice) error {
	subject, body := reminderEmail(notice)
	return n.deliver(ctx, notice.StudentEmail, subject, body, "", PaymentEvent{
		Event:        EventPaymentReminderSent,
		PaymentID:    notice.PaymentID,
		EnrollmentID: notice.EnrollmentID,
		Amount:       notice.Amount,
		Currency:     notice.Currency,
		ReminderType: string(notice.Type),
		Timestamp:    n.now().UTC().Format(time.RFC3339),
	})
}

func (n *EmailNotifier) paymentEvent(event string, notice models.PaymentNotice) PaymentEvent {
	return PaymentEvent{
		Event:         event,
		PaymentID:     notice.PaymentID,
		EnrollmentID:  notice.EnrollmentID,
		InstitutionID: notice.InstitutionID,
		Amount:        notice.Amount,
		Currency:      notice.Currency,
		Reason:        notice.Reason,
		Timestamp:     n.now().UTC().Format(time.RFC3339),
	}
}

// deliver queues the email first; the event is published even when the email
// could not be queued. The email error wins when both fail.
func (n *EmailNotifier) deliver(ctx context.Context, to, subject, body, attachment string, evt PaymentEvent) error {
	var emailErr error
	if to == "" {
		emailErr = fmt.Errorf("no recipient address for %s", evt.Event)
	} else {
		email := eventbus.NewEmailEvent(to, subject, body, attachment, n.now())
		if err := n.publisher.Publish(ctx, n.emailTopic, "email-"+to, email); err != nil {
			emailErr = fmt.Errorf("failed to queue email: %w", err)
		}
	}

	key := evt.PaymentID
	if key == "" {
		key = evt.EnrollmentID
	}
	if err := n.publisher.Publish(ctx, n.eventsTopic, key, evt); err != nil {
		n.log.Warn("Failed to publish %s for %s: %v", evt.Event, key, err)
		if emailErr == nil {
			return fmt.Errorf("failed to publish %s: %w", evt.Event, err)
		}
	}
	return emailErr
}
