package db

import (
	"database/sql"
	"strings"

	"marketplace-settlement/errors"
	"marketplace-settlement/models"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

var paymentColumnList = []string{
	"id", "enrollment_id", "booking_id", "amount", "currency", "status", "payment_method", "external_ref",
	"commission_rate", "commission_amount", "institution_amount", "due_date", "paid_at",
	"failure_reason", "reviewed_by", "refund_amount", "refund_commission_amount",
	"refund_institution_amount", "refund_reference", "refunded_at", "created_at", "updated_at",
}

var bookingColumnList = []string{
	"id", "student_id", "course_id", "institution_id", "amount", "status",
	"version", "state_version", "created_at", "updated_at",
}

var enrollmentColumnList = []string{
	"id", "student_id", "course_id", "status", "payment_status", "payment_method",
	"payment_reference", "payment_id", "payment_date", "payment_error", "created_at", "updated_at",
}

var (
	paymentColumns    = columns("", paymentColumnList)
	bookingColumns    = columns("", bookingColumnList)
	enrollmentColumns = columns("", enrollmentColumnList)
)

func columns(alias string, list []string) string {
	if alias == "" {
		return strings.Join(list, ", ")
	}
	prefixed := make([]string, len(list))
	for i, c := range list {
		prefixed[i] = alias + "." + c
	}
	return strings.Join(prefixed, ", ")
}

func scanPayment(s rowScanner, extra ...interface{}) (*models.Payment, error) {
	var (
		p           models.Payment
		bookingID   sql.NullString
		externalRef sql.NullString
		status      string
	)
	dest := []interface{}{
		&p.ID, &p.EnrollmentID, &bookingID, &p.Amount, &p.Currency, &status, &p.Method, &externalRef,
		&p.Split.Rate, &p.Split.CommissionAmount, &p.Split.InstitutionAmount, &p.DueDate, &p.PaidAt,
		&p.FailureReason, &p.ReviewedBy, &p.RefundAmount, &p.RefundSplit.CommissionAmount,
		&p.RefundSplit.InstitutionAmount, &p.RefundReference, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.BookingID = bookingID.String
	p.ExternalRef = externalRef.String

	var err error
	if p.Status, err = models.ParsePaymentStatus(status); err != nil {
		return nil, errors.E(errors.Internal, "payment "+p.ID, err)
	}
	return &p, nil
}

func scanBooking(s rowScanner) (*models.Booking, error) {
	var (
		b      models.Booking
		status string
	)
	if err := s.Scan(&b.ID, &b.StudentID, &b.CourseID, &b.InstitutionID, &b.Amount, &status,
		&b.Version, &b.StateVersion, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if b.Status, err = models.ParseBookingStatus(status); err != nil {
		return nil, errors.E(errors.Internal, "booking "+b.ID, err)
	}
	return &b, nil
}

func scanEnrollment(s rowScanner) (*models.Enrollment, error) {
	var (
		e                     models.Enrollment
		status, paymentStatus string
	)
	if err := s.Scan(&e.ID, &e.StudentID, &e.CourseID, &status, &paymentStatus, &e.PaymentMethod,
		&e.PaymentReference, &e.PaymentID, &e.PaymentDate, &e.PaymentError, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if e.Status, err = models.ParseEnrollmentStatus(status); err != nil {
		return nil, errors.E(errors.Internal, "enrollment "+e.ID, err)
	}
	if e.PaymentStatus, err = models.ParseEnrollmentPaymentStatus(paymentStatus); err != nil {
		return nil, errors.E(errors.Internal, "enrollment "+e.ID, err)
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// notFound converts sql.ErrNoRows into a NotFound error and wraps the rest.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.E(errors.NotFound, what+" not found", err)
	}
	return errors.E(errors.Internal, "loading "+what, err)
}
