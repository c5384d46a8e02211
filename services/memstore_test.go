package services

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"marketplace-settlement/db"
	"marketplace-settlement/errors"
	"marketplace-settlement/logger"
	"marketplace-settlement/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

func testLogger(t *testing.T) *logger.Logger {
	return logger.FromZap(zaptest.NewLogger(t))
}

// memStore is an in-memory implementation of the db interfaces. Settlement
// transactions are serialized and roll back to a snapshot on error.
type memStore struct {
	mu sync.Mutex

	courses      map[string]models.Course
	students     map[string]models.Student
	institutions map[string]models.Institution
	enrollments  map[string]models.Enrollment
	bookings     map[string]models.Booking
	payments     map[string]models.Payment
	payouts      []models.InstitutionPayout
	reminders    []models.PaymentReminder
	tiers        map[string]decimal.Decimal

	// hooks for failure injection
	afterLockBooking func(s *memStore, b models.Booking)
	insertPayoutErr  error
	listErr          error

	commits, rollbacks int
}

func newMemStore() *memStore {
	return &memStore{
		courses:      map[string]models.Course{},
		students:     map[string]models.Student{},
		institutions: map[string]models.Institution{},
		enrollments:  map[string]models.Enrollment{},
		bookings:     map[string]models.Booking{},
		payments:     map[string]models.Payment{},
		tiers:        map[string]decimal.Decimal{},
	}
}

var (
	_ db.SettlementStore   = (*memStore)(nil)
	_ db.SettlementTx      = (*memTx)(nil)
	_ db.ConsistencyReader = (*memStore)(nil)
	_ db.ReminderStore     = (*memStore)(nil)
	_ db.ReviewReader      = (*memStore)(nil)
)

type memSnapshot struct {
	enrollments map[string]models.Enrollment
	bookings    map[string]models.Booking
	payments    map[string]models.Payment
	payouts     []models.InstitutionPayout
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		enrollments: make(map[string]models.Enrollment, len(s.enrollments)),
		bookings:    make(map[string]models.Booking, len(s.bookings)),
		payments:    make(map[string]models.Payment, len(s.payments)),
		payouts:     append([]models.InstitutionPayout(nil), s.payouts...),
	}
	for k, v := range s.enrollments {
		snap.enrollments[k] = v
	}
	for k, v := range s.bookings {
		snap.bookings[k] = v
	}
	for k, v := range s.payments {
		snap.payments[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.enrollments = snap.enrollments
	s.bookings = snap.bookings
	s.payments = snap.payments
	s.payouts = snap.payouts
}

func (s *memStore) InSettlementTx(ctx context.Context, fn func(tx db.SettlementTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.restore(snap)
		s.rollbacks++
		return err
	}
	s.commits++
	return nil
}

// fixture helpers

func (s *memStore) addCourse(id, institutionID, title string) {
	if _, ok := s.institutions[institutionID]; !ok {
		s.institutions[institutionID] = models.Institution{ID: institutionID, Name: "Institution " + institutionID, Email: institutionID + "@example.com"}
	}
	s.courses[id] = models.Course{ID: id, InstitutionID: institutionID, Title: title, Price: decimal.NewFromInt(1000)}
}

func (s *memStore) addEnrollment(id, studentID, courseID string) {
	s.students[studentID] = models.Student{ID: studentID, Name: "Student " + studentID, Email: studentID + "@example.com"}
	s.enrollments[id] = models.Enrollment{
		ID:            id,
		StudentID:     studentID,
		CourseID:      courseID,
		Status:        models.EnrollmentPending,
		PaymentStatus: models.EnrollmentPaymentPending,
	}
}

func (s *memStore) addBooking(id, studentID, courseID string, status models.BookingStatus) {
	c := s.courses[courseID]
	s.bookings[id] = models.Booking{
		ID:            id,
		StudentID:     studentID,
		CourseID:      courseID,
		InstitutionID: c.InstitutionID,
		Amount:        c.Price,
		Status:        status,
		Version:       1,
		StateVersion:  1,
		CreatedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) addPayment(p models.Payment) {
	s.payments[p.ID] = p
}

func (s *memStore) payment(id string) models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments[id]
}

func (s *memStore) enrollment(id string) models.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enrollments[id]
}

func (s *memStore) booking(id string) models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id]
}

func (s *memStore) paymentByRef(ref string) (models.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ExternalRef == ref {
			return p, true
		}
	}
	return models.Payment{}, false
}

// memTx runs with memStore.mu held.
type memTx struct {
	s *memStore
}

func (t *memTx) LockEnrollment(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	e, ok := t.s.enrollments[enrollmentID]
	if !ok {
		return nil, errors.E(errors.NotFound, "enrollment not found")
	}
	return &e, nil
}

func (t *memTx) GetCourse(ctx context.Context, courseID string) (*models.Course, error) {
	c, ok := t.s.courses[courseID]
	if !ok {
		return nil, errors.E(errors.NotFound, "course not found")
	}
	return &c, nil
}

func (t *memTx) GetStudent(ctx context.Context, studentID string) (*models.Student, error) {
	st, ok := t.s.students[studentID]
	if !ok {
		return nil, errors.E(errors.NotFound, "student not found")
	}
	return &st, nil
}

func (t *memTx) GetInstitution(ctx context.Context, institutionID string) (*models.Institution, error) {
	i, ok := t.s.institutions[institutionID]
	if !ok {
		return nil, errors.E(errors.NotFound, "institution not found")
	}
	return &i, nil
}

func (t *memTx) LockPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	p, ok := t.s.payments[paymentID]
	if !ok {
		return nil, errors.E(errors.NotFound, "payment not found")
	}
	return &p, nil
}

func (t *memTx) PaymentByExternalRef(ctx context.Context, ref string) (*models.Payment, error) {
	if ref == "" {
		return nil, nil
	}
	for _, p := range t.s.payments {
		if p.ExternalRef == ref {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertPayment(ctx context.Context, p *models.Payment) error {
	if _, ok := t.s.payments[p.ID]; ok {
		return errors.E(errors.Conflict, "payment exists")
	}
	if p.ExternalRef != "" {
		if existing, _ := t.PaymentByExternalRef(ctx, p.ExternalRef); existing != nil {
			return errors.E(errors.Conflict, "external reference already used")
		}
	}
	t.s.payments[p.ID] = *p
	return nil
}

func (t *memTx) UpdatePayment(ctx context.Context, p *models.Payment) error {
	if _, ok := t.s.payments[p.ID]; !ok {
		return errors.E(errors.NotFound, "payment not found")
	}
	t.s.payments[p.ID] = *p
	return nil
}

func (t *memTx) UpdateEnrollmentPayment(ctx context.Context, e *models.Enrollment) error {
	t.s.enrollments[e.ID] = *e
	return nil
}

func (t *memTx) InsertPayout(ctx context.Context, p *models.InstitutionPayout) error {
	if t.s.insertPayoutErr != nil {
		return t.s.insertPayoutErr
	}
	t.s.payouts = append(t.s.payouts, *p)
	return nil
}

func (t *memTx) LockBooking(ctx context.Context, studentID, courseID string) (*models.Booking, error) {
	var found *models.Booking
	for _, b := range t.s.bookings {
		if b.StudentID != studentID || b.CourseID != courseID {
			continue
		}
		if found == nil || b.CreatedAt.After(found.CreatedAt) {
			b := b
			found = &b
		}
	}
	if found != nil && t.s.afterLockBooking != nil {
		t.s.afterLockBooking(t.s, *found)
	}
	return found, nil
}

func (t *memTx) LockBookingByID(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, ok := t.s.bookings[bookingID]
	if !ok {
		return nil, errors.E(errors.NotFound, "booking not found")
	}
	return &b, nil
}

func (t *memTx) UpdateBookingStatus(ctx context.Context, b *models.Booking, to models.BookingStatus) error {
	cur, ok := t.s.bookings[b.ID]
	if !ok || cur.Version != b.Version || cur.StateVersion != b.StateVersion {
		return errors.E(errors.Conflict, "booking "+b.ID+" was modified concurrently")
	}
	b.Status = to
	b.Version++
	b.StateVersion++
	t.s.bookings[b.ID] = *b
	return nil
}

// ConsistencyReader

func (s *memStore) ListBookings(ctx context.Context) ([]models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, errors.E(errors.NotFound, "booking not found")
	}
	return &b, nil
}

func (s *memStore) EnrollmentByStudentCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			e := e
			return &e, nil
		}
	}
	return nil, nil
}

func (s *memStore) LatestPayment(ctx context.Context, enrollmentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Payment
	for _, p := range s.payments {
		if p.EnrollmentID != enrollmentID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			p := p
			latest = &p
		}
	}
	return latest, nil
}

func (s *memStore) OrphanedPayments(ctx context.Context) ([]models.OrphanedPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OrphanedPayment
	for _, p := range s.payments {
		if p.BookingID == "" {
			continue
		}
		if _, ok := s.bookings[p.BookingID]; ok {
			continue
		}
		out = append(out, models.OrphanedPayment{PaymentID: p.ID, BookingID: p.BookingID, Status: p.Status, CreatedAt: p.CreatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaymentID < out[j].PaymentID })
	return out, nil
}

// ReminderStore

func (s *memStore) PendingPayments(ctx context.Context) ([]models.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PendingPayment
	for _, p := range s.payments {
		if p.Status != models.PaymentPending {
			continue
		}
		e := s.enrollments[p.EnrollmentID]
		if e.PaymentStatus != models.EnrollmentPaymentPending {
			continue
		}
		st := s.students[e.StudentID]
		out = append(out, models.PendingPayment{
			Payment:      p,
			StudentName:  st.Name,
			StudentEmail: st.Email,
			CourseTitle:  s.courses[e.CourseID].Title,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Payment.ID < out[j].Payment.ID })
	return out, nil
}

func (s *memStore) ReminderExists(ctx context.Context, paymentID string, rt models.ReminderType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reminders {
		if r.PaymentID == paymentID && r.Type == rt {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) InsertReminder(ctx context.Context, r *models.PaymentReminder) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reminders {
		if existing.PaymentID == r.PaymentID && existing.Type == r.Type {
			return false, nil
		}
	}
	s.reminders = append(s.reminders, *r)
	return true, nil
}

func (s *memStore) RemindersForPayment(ctx context.Context, paymentID string) ([]models.PaymentReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentReminder
	for _, r := range s.reminders {
		if r.PaymentID == paymentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out, nil
}

// ReviewReader

func (s *memStore) PaymentForReview(ctx context.Context, paymentID string) (*models.PaymentReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, errors.E(errors.NotFound, "payment not found")
	}
	return s.review(p), nil
}

func (s *memStore) ReviewByExternalRef(ctx context.Context, ref string) (*models.PaymentReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ExternalRef == ref {
			return s.review(p), nil
		}
	}
	return nil, errors.E(errors.NotFound, "payment not found")
}

func (s *memStore) review(p models.Payment) *models.PaymentReview {
	e := s.enrollments[p.EnrollmentID]
	return &models.PaymentReview{
		Payment:       p,
		InstitutionID: s.courses[e.CourseID].InstitutionID,
		StudentID:     e.StudentID,
		CourseID:      e.CourseID,
	}
}

func (t *memTx) ActiveCommissionRate(ctx context.Context, institutionID string, at time.Time) (decimal.Decimal, error) {
	rate, ok := t.s.tiers[institutionID]
	if !ok {
		return decimal.Zero, errors.E(errors.NotFound, "no active commission tier")
	}
	return rate, nil
}

// recordingNotifier captures notifications instead of sending them.
type recordingNotifier struct {
	mu           sync.Mutex
	err          error
	confirmed    []models.PaymentNotice
	failed       []models.PaymentNotice
	refunded     []models.PaymentNotice
	reminders    []models.ReminderNotice
	failReminder map[string]bool
}

func (n *recordingNotifier) SendPaymentConfirmation(ctx context.Context, notice models.PaymentNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, notice)
	return n.err
}

func (n *recordingNotifier) SendPaymentFailure(ctx context.Context, notice models.PaymentNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, notice)
	return n.err
}

func (n *recordingNotifier) SendRefundConfirmation(ctx context.Context, notice models.PaymentNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refunded = append(n.refunded, notice)
	return n.err
}

func (n *recordingNotifier) SendPaymentReminder(ctx context.Context, notice models.ReminderNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failReminder[notice.PaymentID] {
		return errors.E(errors.Internal, "smtp down")
	}
	n.reminders = append(n.reminders, notice)
	return n.err
}

type fixedRate decimal.Decimal

func (r fixedRate) CommissionRate(ctx context.Context, tiers db.CommissionTierReader, institutionID string) (decimal.Decimal, error) {
	return decimal.Decimal(r), nil
}

type failingRate struct{}

func (failingRate) CommissionRate(ctx context.Context, tiers db.CommissionTierReader, institutionID string) (decimal.Decimal, error) {
	return decimal.Zero, errors.E(errors.DependencyUnavailable, "tier service down")
}
