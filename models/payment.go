package models

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CommissionSplit records how an amount divides between platform and institution.
type CommissionSplit struct {
	Rate              decimal.Decimal `json:"rate"`
	CommissionAmount  decimal.Decimal `json:"commission_amount"`
	InstitutionAmount decimal.Decimal `json:"institution_amount"`
}

// SplitAmount computes commission = round(amount*rate/100, 2) and gives the
// institution the remainder, so the two parts always sum to amount.
func SplitAmount(amount, rate decimal.Decimal) CommissionSplit {
	commission := amount.Mul(rate).Div(hundred).Round(2)
	return CommissionSplit{
		Rate:              rate,
		CommissionAmount:  commission,
		InstitutionAmount: amount.Sub(commission),
	}
}

type Payment struct {
	ID           string          `json:"id"`
	EnrollmentID string          `json:"enrollment_id"`
	BookingID    string          `json:"booking_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       PaymentStatus   `json:"status"`
	Method       string          `json:"payment_method,omitempty"`
	ExternalRef  string          `json:"external_ref,omitempty"`
	Split        CommissionSplit `json:"split"`

	DueDate       *time.Time `json:"due_date,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ReviewedBy    string     `json:"reviewed_by,omitempty"`

	RefundAmount    decimal.Decimal `json:"refund_amount"`
	RefundSplit     CommissionSplit `json:"refund_split"`
	RefundReference string          `json:"refund_reference,omitempty"`
	RefundedAt      *time.Time      `json:"refunded_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PaymentReview is a payment together with the ownership data needed to
// decide who may approve it.
type PaymentReview struct {
	Payment       Payment `json:"payment"`
	InstitutionID string  `json:"institution_id"`
	StudentID     string  `json:"student_id"`
	CourseID      string  `json:"course_id"`
}

// PendingPayment is an unpaid balance with the contact data reminders need.
type PendingPayment struct {
	Payment      Payment
	StudentName  string
	StudentEmail string
	CourseTitle  string
}

// OrphanedPayment is a payment whose booking reference points nowhere.
type OrphanedPayment struct {
	PaymentID string        `json:"payment_id"`
	BookingID string        `json:"booking_id"`
	Status    PaymentStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}
