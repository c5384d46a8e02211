package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace-settlement/errors"
	"marketplace-settlement/models"

	"github.com/shopspring/decimal"
)

// Tx implements SettlementTx on a *sql.Tx.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) LockEnrollment(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	q := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1 FOR UPDATE`, enrollmentColumns)
	e, err := scanEnrollment(t.tx.QueryRowContext(ctx, q, enrollmentID))
	if err != nil {
		return nil, notFound(err, "enrollment")
	}
	return e, nil
}

func (t *Tx) GetCourse(ctx context.Context, courseID string) (*models.Course, error) {
	var c models.Course
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, institution_id, title, price, created_at FROM courses WHERE id = $1`, courseID,
	).Scan(&c.ID, &c.InstitutionID, &c.Title, &c.Price, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err, "course")
	}
	return &c, nil
}

func (t *Tx) GetStudent(ctx context.Context, studentID string) (*models.Student, error) {
	var s models.Student
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, email FROM students WHERE id = $1`, studentID,
	).Scan(&s.ID, &s.Name, &s.Email)
	if err != nil {
		return nil, notFound(err, "student")
	}
	return &s, nil
}

func (t *Tx) GetInstitution(ctx context.Context, institutionID string) (*models.Institution, error) {
	var i models.Institution
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, name, email FROM institutions WHERE id = $1`, institutionID,
	).Scan(&i.ID, &i.Name, &i.Email)
	if err != nil {
		return nil, notFound(err, "institution")
	}
	return &i, nil
}

func (t *Tx) LockPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	q := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1 FOR UPDATE`, paymentColumns)
	p, err := scanPayment(t.tx.QueryRowContext(ctx, q, paymentID))
	if err != nil {
		return nil, notFound(err, "payment")
	}
	return p, nil
}

func (t *Tx) PaymentByExternalRef(ctx context.Context, ref string) (*models.Payment, error) {
	if ref == "" {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT %s FROM payments WHERE external_ref = $1 FOR UPDATE`, paymentColumns)
	p, err := scanPayment(t.tx.QueryRowContext(ctx, q, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(errors.Internal, "loading payment by external reference", err)
	}
	return p, nil
}

func (t *Tx) InsertPayment(ctx context.Context, p *models.Payment) error {
	_, err := t.tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO payments (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		paymentColumns),
		p.ID, p.EnrollmentID, nullString(p.BookingID), p.Amount, p.Currency, string(p.Status), p.Method,
		nullString(p.ExternalRef), p.Split.Rate, p.Split.CommissionAmount, p.Split.InstitutionAmount,
		p.DueDate, p.PaidAt, p.FailureReason, p.ReviewedBy, p.RefundAmount, p.RefundSplit.CommissionAmount,
		p.RefundSplit.InstitutionAmount, p.RefundReference, p.RefundedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return errors.E(errors.Internal, "inserting payment", err)
	}
	return nil
}

func (t *Tx) UpdatePayment(ctx context.Context, p *models.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE payments SET
			booking_id = $2, amount = $3, status = $4, payment_method = $5, external_ref = $6,
			commission_rate = $7, commission_amount = $8, institution_amount = $9, paid_at = $10,
			failure_reason = $11, reviewed_by = $12, refund_amount = $13, refund_commission_amount = $14,
			refund_institution_amount = $15, refund_reference = $16, refunded_at = $17, updated_at = $18
		WHERE id = $1`,
		p.ID, nullString(p.BookingID), p.Amount, string(p.Status), p.Method, nullString(p.ExternalRef),
		p.Split.Rate, p.Split.CommissionAmount, p.Split.InstitutionAmount, p.PaidAt,
		p.FailureReason, p.ReviewedBy, p.RefundAmount, p.RefundSplit.CommissionAmount,
		p.RefundSplit.InstitutionAmount, p.RefundReference, p.RefundedAt, p.UpdatedAt,
	)
	if err != nil {
		return errors.E(errors.Internal, "updating payment", err)
	}
	return nil
}

func (t *Tx) UpdateEnrollmentPayment(ctx context.Context, e *models.Enrollment) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE enrollments SET
			status = $2, payment_status = $3, payment_method = $4, payment_reference = $5,
			payment_id = $6, payment_date = $7, payment_error = $8, updated_at = $9
		WHERE id = $1`,
		e.ID, string(e.Status), string(e.PaymentStatus), e.PaymentMethod, e.PaymentReference,
		e.PaymentID, e.PaymentDate, e.PaymentError, e.UpdatedAt,
	)
	if err != nil {
		return errors.E(errors.Internal, "updating enrollment", err)
	}
	return nil
}

func (t *Tx) InsertPayout(ctx context.Context, p *models.InstitutionPayout) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO institution_payouts
			(id, institution_id, enrollment_id, payment_id, amount, currency, status, type, commission_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.InstitutionID, p.EnrollmentID, p.PaymentID, p.Amount, p.Currency,
		string(p.Status), string(p.Type), p.CommissionRate, p.CreatedAt,
	)
	if err != nil {
		return errors.E(errors.Internal, "inserting institution payout", err)
	}
	return nil
}

func (t *Tx) LockBooking(ctx context.Context, studentID, courseID string) (*models.Booking, error) {
	q := fmt.Sprintf(`SELECT %s FROM bookings WHERE student_id = $1 AND course_id = $2
		ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, bookingColumns)
	b, err := scanBooking(t.tx.QueryRowContext(ctx, q, studentID, courseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(errors.Internal, "loading booking", err)
	}
	return b, nil
}

func (t *Tx) LockBookingByID(ctx context.Context, bookingID string) (*models.Booking, error) {
	q := fmt.Sprintf(`SELECT %s FROM bookings WHERE id = $1 FOR UPDATE`, bookingColumns)
	b, err := scanBooking(t.tx.QueryRowContext(ctx, q, bookingID))
	if err != nil {
		return nil, notFound(err, "booking")
	}
	return b, nil
}

func (t *Tx) UpdateBookingStatus(ctx context.Context, b *models.Booking, to models.BookingStatus) error {
	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = $1, version = version + 1, state_version = state_version + 1, updated_at = $2
		WHERE id = $3 AND version = $4 AND state_version = $5`,
		string(to), now, b.ID, b.Version, b.StateVersion,
	)
	if err != nil {
		return errors.E(errors.Internal, "updating booking status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.E(errors.Internal, "updating booking status", err)
	}
	if n == 0 {
		return errors.E(errors.Conflict, fmt.Sprintf("booking %s was modified concurrently", b.ID))
	}
	b.Status = to
	b.Version++
	b.StateVersion++
	b.UpdatedAt = now
	return nil
}

func (t *Tx) ActiveCommissionRate(ctx context.Context, institutionID string, at time.Time) (decimal.Decimal, error) {
	var rate decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT commission_rate FROM commission_tiers
		WHERE institution_id = $1 AND is_active
		  AND effective_from <= $2 AND (effective_to IS NULL OR effective_to > $2)
		ORDER BY effective_from DESC LIMIT 1`, institutionID, at).Scan(&rate)
	if err != nil {
		return decimal.Zero, notFound(err, "commission tier")
	}
	return rate, nil
}
