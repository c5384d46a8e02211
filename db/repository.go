package db

import (
	"context"
	"time"

	"marketplace-settlement/models"

	"github.com/shopspring/decimal"
)

// SettlementTx is the set of row operations available inside one settlement
// transaction. Lock* methods take row locks that are held until commit.
type SettlementTx interface {
	LockEnrollment(ctx context.Context, enrollmentID string) (*models.Enrollment, error)
	GetCourse(ctx context.Context, courseID string) (*models.Course, error)
	GetStudent(ctx context.Context, studentID string) (*models.Student, error)
	GetInstitution(ctx context.Context, institutionID string) (*models.Institution, error)

	// LockPayment returns NotFound when the id is unknown.
	LockPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	// PaymentByExternalRef returns nil, nil when no payment carries ref.
	PaymentByExternalRef(ctx context.Context, ref string) (*models.Payment, error)
	InsertPayment(ctx context.Context, p *models.Payment) error
	UpdatePayment(ctx context.Context, p *models.Payment) error

	UpdateEnrollmentPayment(ctx context.Context, e *models.Enrollment) error
	InsertPayout(ctx context.Context, p *models.InstitutionPayout) error

	// LockBooking returns the newest booking for the pair, or nil, nil.
	LockBooking(ctx context.Context, studentID, courseID string) (*models.Booking, error)
	LockBookingByID(ctx context.Context, bookingID string) (*models.Booking, error)
	// UpdateBookingStatus writes only if b's Version and StateVersion are
	// still current and fails with Conflict otherwise. On success both
	// counters on b are incremented.
	UpdateBookingStatus(ctx context.Context, b *models.Booking, to models.BookingStatus) error

	// Commission tiers are read on the transaction's own connection.
	CommissionTierReader
}

// SettlementStore runs fn in a single transaction, committing only when fn
// returns nil.
type SettlementStore interface {
	InSettlementTx(ctx context.Context, fn func(tx SettlementTx) error) error
}

// ConsistencyReader is the read-only view the reconciler scans.
type ConsistencyReader interface {
	ListBookings(ctx context.Context) ([]models.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	// EnrollmentByStudentCourse returns nil, nil when there is none.
	EnrollmentByStudentCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	// LatestPayment returns nil, nil when the enrollment has no payments.
	LatestPayment(ctx context.Context, enrollmentID string) (*models.Payment, error)
	OrphanedPayments(ctx context.Context) ([]models.OrphanedPayment, error)
}

type ReminderStore interface {
	PendingPayments(ctx context.Context) ([]models.PendingPayment, error)
	ReminderExists(ctx context.Context, paymentID string, t models.ReminderType) (bool, error)
	// InsertReminder reports false when the (payment, type) pair already exists.
	InsertReminder(ctx context.Context, r *models.PaymentReminder) (bool, error)
	RemindersForPayment(ctx context.Context, paymentID string) ([]models.PaymentReminder, error)
}

type ReviewReader interface {
	PaymentForReview(ctx context.Context, paymentID string) (*models.PaymentReview, error)
	ReviewByExternalRef(ctx context.Context, ref string) (*models.PaymentReview, error)
}

type CommissionTierReader interface {
	// ActiveCommissionRate returns NotFound when no tier is active at `at`.
	ActiveCommissionRate(ctx context.Context, institutionID string, at time.Time) (decimal.Decimal, error)
}
