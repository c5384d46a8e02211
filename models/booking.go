package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Booking is a student's intent to purchase a course. Version and
// StateVersion only ever increase and guard concurrent status writes.
type Booking struct {
	ID            string          `json:"id"`
	StudentID     string          `json:"student_id"`
	CourseID      string          `json:"course_id"`
	InstitutionID string          `json:"institution_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        BookingStatus   `json:"status"`
	Version       int             `json:"version"`
	StateVersion  int             `json:"state_version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Enrollment struct {
	ID               string                  `json:"id"`
	StudentID        string                  `json:"student_id"`
	CourseID         string                  `json:"course_id"`
	Status           EnrollmentStatus        `json:"status"`
	PaymentStatus    EnrollmentPaymentStatus `json:"payment_status"`
	PaymentMethod    string                  `json:"payment_method,omitempty"`
	PaymentReference string                  `json:"payment_reference,omitempty"`
	PaymentID        string                  `json:"payment_id,omitempty"`
	PaymentDate      *time.Time              `json:"payment_date,omitempty"`
	PaymentError     string                  `json:"payment_error,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// InstitutionPayout is an append-only ledger entry of money owed to (positive)
// or clawed back from (negative) an institution.
type InstitutionPayout struct {
	ID             string          `json:"id"`
	InstitutionID  string          `json:"institution_id"`
	EnrollmentID   string          `json:"enrollment_id"`
	PaymentID      string          `json:"payment_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         PayoutStatus    `json:"status"`
	Type           PayoutType      `json:"type"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	CreatedAt      time.Time       `json:"created_at"`
}
