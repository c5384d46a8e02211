package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentReminder is written after a reminder has actually been sent.
type PaymentReminder struct {
	ID           string       `json:"id"`
	PaymentID    string       `json:"payment_id"`
	EnrollmentID string       `json:"enrollment_id"`
	Type         ReminderType `json:"reminder_type"`
	DaysUntilDue int          `json:"days_until_due"`
	SentAt       time.Time    `json:"sent_at"`
}

// PaymentNotice carries what the student-facing emails need about a settlement.
type PaymentNotice struct {
	PaymentID       string          `json:"payment_id,omitempty"`
	EnrollmentID    string          `json:"enrollment_id"`
	InstitutionID   string          `json:"institution_id"`
	StudentName     string          `json:"student_name"`
	StudentEmail    string          `json:"student_email"`
	CourseTitle     string          `json:"course_title"`
	InstitutionName string          `json:"institution_name"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Method          string          `json:"payment_method,omitempty"`
	ExternalRef     string          `json:"external_ref,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

type ReminderNotice struct {
	PaymentID    string          `json:"payment_id"`
	EnrollmentID string          `json:"enrollment_id"`
	StudentName  string          `json:"student_name"`
	StudentEmail string          `json:"student_email"`
	CourseTitle  string          `json:"course_title"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	DueDate      time.Time       `json:"due_date"`
	DaysUntilDue int             `json:"days_until_due"`
	Type         ReminderType    `json:"reminder_type"`
	Urgency      ReminderUrgency `json:"urgency"`
}
