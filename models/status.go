package models

import (
	"fmt"
	"strings"
)

// BookingStatus is the student-facing purchase intent state.
type BookingStatus string

const (
	BookingPending          BookingStatus = "PENDING"
	BookingPaymentInitiated BookingStatus = "PAYMENT_INITIATED"
	BookingCompleted        BookingStatus = "COMPLETED"
	BookingFailed           BookingStatus = "FAILED"
	BookingCancelled        BookingStatus = "CANCELLED"
)

func ParseBookingStatus(s string) (BookingStatus, error) {
	switch v := BookingStatus(strings.ToUpper(strings.TrimSpace(s))); v {
	case BookingPending, BookingPaymentInitiated, BookingCompleted, BookingFailed, BookingCancelled:
		return v, nil
	}
	return "", fmt.Errorf("unknown booking status %q", s)
}

// InPaymentState reports whether a booking in this status must be backed by
// at least one payment row.
func (s BookingStatus) InPaymentState() bool {
	return s == BookingPaymentInitiated || s == BookingCompleted || s == BookingFailed
}

// PaymentStatus is the lifecycle state of a single payment attempt.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
	// PaymentPaid is a legacy spelling of COMPLETED still present in older rows.
	PaymentPaid PaymentStatus = "PAID"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch v := PaymentStatus(strings.ToUpper(strings.TrimSpace(s))); v {
	case PaymentPending, PaymentProcessing, PaymentCompleted, PaymentFailed,
		PaymentRefunded, PaymentCancelled, PaymentPaid:
		return v, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

// IsSettled is true for COMPLETED and its legacy alias PAID.
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentCompleted || s == PaymentPaid
}

// EnrollmentPaymentStatus is the payment summary kept on the enrollment.
type EnrollmentPaymentStatus string

const (
	EnrollmentPaymentPending  EnrollmentPaymentStatus = "PENDING"
	EnrollmentPaymentPaid     EnrollmentPaymentStatus = "PAID"
	EnrollmentPaymentFailed   EnrollmentPaymentStatus = "FAILED"
	EnrollmentPaymentRefunded EnrollmentPaymentStatus = "REFUNDED"
)

func ParseEnrollmentPaymentStatus(s string) (EnrollmentPaymentStatus, error) {
	switch v := EnrollmentPaymentStatus(strings.ToUpper(strings.TrimSpace(s))); v {
	case EnrollmentPaymentPending, EnrollmentPaymentPaid, EnrollmentPaymentFailed, EnrollmentPaymentRefunded:
		return v, nil
	}
	return "", fmt.Errorf("unknown enrollment payment status %q", s)
}

type EnrollmentStatus string

const (
	EnrollmentPending   EnrollmentStatus = "PENDING"
	EnrollmentEnrolled  EnrollmentStatus = "ENROLLED"
	EnrollmentCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentDropped   EnrollmentStatus = "DROPPED"
)

func ParseEnrollmentStatus(s string) (EnrollmentStatus, error) {
	switch v := EnrollmentStatus(strings.ToUpper(strings.TrimSpace(s))); v {
	case EnrollmentPending, EnrollmentEnrolled, EnrollmentCompleted, EnrollmentDropped:
		return v, nil
	}
	return "", fmt.Errorf("unknown enrollment status %q", s)
}

type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "PENDING"
	PayoutProcessed PayoutStatus = "PROCESSED"
)

func ParsePayoutStatus(s string) (PayoutStatus, error) {
	switch v := PayoutStatus(strings.ToUpper(strings.TrimSpace(s))); v {
	case PayoutPending, PayoutProcessed:
		return v, nil
	}
	return "", fmt.Errorf("unknown payout status %q", s)
}

type PayoutType string

const (
	PayoutSettlement PayoutType = "SETTLEMENT"
	PayoutRefund     PayoutType = "REFUND"
)

func ParsePayoutType(s string) (PayoutType, error) {
	switch v := PayoutType(strings.ToUpper(strings.TrimSpace(s))); v {
	case PayoutSettlement, PayoutRefund:
		return v, nil
	}
	return "", fmt.Errorf("unknown payout type %q", s)
}

// ReminderType names the tier of an unpaid-balance reminder.
type ReminderType string

const (
	ReminderFirst  ReminderType = "FIRST_REMINDER"
	ReminderSecond ReminderType = "SECOND_REMINDER"
	ReminderFinal  ReminderType = "FINAL_REMINDER"
)

func ParseReminderType(s string) (ReminderType, error) {
	switch v := ReminderType(strings.ToUpper(strings.TrimSpace(s))); v {
	case ReminderFirst, ReminderSecond, ReminderFinal:
		return v, nil
	}
	return "", fmt.Errorf("unknown reminder type %q", s)
}

type ReminderUrgency string

const (
	UrgencyLow    ReminderUrgency = "low"
	UrgencyMedium ReminderUrgency = "medium"
	UrgencyHigh   ReminderUrgency = "high"
)
