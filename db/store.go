package db

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-settlement/errors"
	"marketplace-settlement/logger"
	"marketplace-settlement/models"

	"github.com/lib/pq"
)

// Store is the Postgres implementation of every repository interface.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

func NewStore(conn *sql.DB, log *logger.Logger) *Store {
	return &Store{db: conn, log: log}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) InSettlementTx(ctx context.Context, fn func(tx SettlementTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.E(errors.Internal, "begin settlement transaction", err)
	}

	if err := fn(&Tx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.E(errors.Internal, "commit settlement transaction", err)
	}
	return nil
}

func (s *Store) ListBookings(ctx context.Context) ([]models.Booking, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM bookings ORDER BY created_at, id`, bookingColumns))
	if err != nil {
		return nil, errors.E(errors.Internal, "listing bookings", err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, errors.E(errors.Internal, "scanning booking", err)
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.E(errors.Internal, "listing bookings", err)
	}
	return bookings, nil
}

func (s *Store) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM bookings WHERE id = $1`, bookingColumns), bookingID))
	if err != nil {
		return nil, notFound(err, "booking")
	}
	return b, nil
}

func (s *Store) EnrollmentByStudentCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	e, err := scanEnrollment(s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND course_id = $2`, enrollmentColumns),
		studentID, courseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(errors.Internal, "loading enrollment", err)
	}
	return e, nil
}

func (s *Store) LatestPayment(ctx context.Context, enrollmentID string) (*models.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM payments WHERE enrollment_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, paymentColumns),
		enrollmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.E(errors.Internal, "loading latest payment", err)
	}
	return p, nil
}

func (s *Store) OrphanedPayments(ctx context.Context) ([]models.OrphanedPayment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.booking_id, p.status, p.created_at
		FROM payments p
		LEFT JOIN bookings b ON b.id = p.booking_id
		WHERE p.booking_id IS NOT NULL AND b.id IS NULL
		ORDER BY p.created_at`)
	if err != nil {
		return nil, errors.E(errors.Internal, "scanning orphaned payments", err)
	}
	defer rows.Close()

	var orphans []models.OrphanedPayment
	for rows.Next() {
		var (
			o      models.OrphanedPayment
			status string
		)
		if err := rows.Scan(&o.PaymentID, &o.BookingID, &status, &o.CreatedAt); err != nil {
			return nil, errors.E(errors.Internal, "scanning orphaned payment", err)
		}
		if o.Status, err = models.ParsePaymentStatus(status); err != nil {
			return nil, errors.E(errors.Internal, "payment "+o.PaymentID, err)
		}
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

func (s *Store) PendingPayments(ctx context.Context) ([]models.PendingPayment, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, st.name, st.email, c.title
		FROM payments p
		JOIN enrollments e ON e.id = p.enrollment_id
		JOIN students st ON st.id = e.student_id
		JOIN courses c ON c.id = e.course_id
		WHERE p.status = $1 AND e.payment_status = $2
		ORDER BY p.created_at`, columns("p", paymentColumnList)),
		string(models.PaymentPending), string(models.EnrollmentPaymentPending))
	if err != nil {
		return nil, errors.E(errors.Internal, "listing pending payments", err)
	}
	defer rows.Close()

	var pending []models.PendingPayment
	for rows.Next() {
		var pp models.PendingPayment
		p, err := scanPayment(rows, &pp.StudentName, &pp.StudentEmail, &pp.CourseTitle)
		if err != nil {
			return nil, errors.E(errors.Internal, "scanning pending payment", err)
		}
		pp.Payment = *p
		pending = append(pending, pp)
	}
	return pending, rows.Err()
}

func (s *Store) ReminderExists(ctx context.Context, paymentID string, t models.ReminderType) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment_reminders WHERE payment_id = $1 AND reminder_type = $2)`,
		paymentID, string(t)).Scan(&exists)
	if err != nil {
		return false, errors.E(errors.Internal, "checking reminder history", err)
	}
	return exists, nil
}

func (s *Store) InsertReminder(ctx context.Context, r *models.PaymentReminder) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_reminders (id, payment_id, enrollment_id, reminder_type, days_until_due, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (payment_id, reminder_type) DO NOTHING`,
		r.ID, r.PaymentID, r.EnrollmentID, string(r.Type), r.DaysUntilDue, r.SentAt)
	if err != nil {
		return false, errors.E(errors.Internal, "recording reminder", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.E(errors.Internal, "recording reminder", err)
	}
	return n > 0, nil
}

func (s *Store) RemindersForPayment(ctx context.Context, paymentID string) ([]models.PaymentReminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payment_id, enrollment_id, reminder_type, days_until_due, sent_at
		FROM payment_reminders WHERE payment_id = $1 ORDER BY sent_at DESC`, paymentID)
	if err != nil {
		return nil, errors.E(errors.Internal, "loading reminder history", err)
	}
	defer rows.Close()

	var reminders []models.PaymentReminder
	for rows.Next() {
		var (
			r models.PaymentReminder
			t string
		)
		if err := rows.Scan(&r.ID, &r.PaymentID, &r.EnrollmentID, &t, &r.DaysUntilDue, &r.SentAt); err != nil {
			return nil, errors.E(errors.Internal, "scanning reminder", err)
		}
		if r.Type, err = models.ParseReminderType(t); err != nil {
			return nil, errors.E(errors.Internal, "reminder "+r.ID, err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (s *Store) PaymentForReview(ctx context.Context, paymentID string) (*models.PaymentReview, error) {
	return s.review(ctx, "p.id = $1", paymentID)
}

func (s *Store) ReviewByExternalRef(ctx context.Context, ref string) (*models.PaymentReview, error) {
	return s.review(ctx, "p.external_ref = $1", ref)
}

func (s *Store) review(ctx context.Context, where string, arg string) (*models.PaymentReview, error) {
	var r models.PaymentReview
	p, err := scanPayment(s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s, e.student_id, e.course_id, c.institution_id
		FROM payments p
		JOIN enrollments e ON e.id = p.enrollment_id
		JOIN courses c ON c.id = e.course_id
		WHERE %s`, columns("p", paymentColumnList), where), arg),
		&r.StudentID, &r.CourseID, &r.InstitutionID)
	if err != nil {
		return nil, notFound(err, "payment")
	}
	r.Payment = *p
	return &r, nil
}

// PaymentsByIDs loads several payments at once, skipping unknown ids.
func (s *Store) PaymentsByIDs(ctx context.Context, ids []string) ([]models.Payment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM payments WHERE id = ANY($1) ORDER BY created_at`, paymentColumns),
		pq.Array(ids))
	if err != nil {
		return nil, errors.E(errors.Internal, "loading payments", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, errors.E(errors.Internal, "scanning payment", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}
