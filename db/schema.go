package db

var schema = []string{
	`CREATE TABLE IF NOT EXISTS institutions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		institution_id TEXT NOT NULL REFERENCES institutions(id),
		title TEXT NOT NULL,
		price NUMERIC(12,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS commission_tiers (
		id TEXT PRIMARY KEY,
		institution_id TEXT NOT NULL REFERENCES institutions(id),
		plan_name TEXT NOT NULL,
		commission_rate NUMERIC(5,2) NOT NULL CHECK (commission_rate >= 0 AND commission_rate <= 100),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		effective_from TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		effective_to TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS commission_tiers_institution_idx
		ON commission_tiers (institution_id, effective_from DESC)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id),
		course_id TEXT NOT NULL REFERENCES courses(id),
		status TEXT NOT NULL DEFAULT 'PENDING',
		payment_status TEXT NOT NULL DEFAULT 'PENDING',
		payment_method TEXT NOT NULL DEFAULT '',
		payment_reference TEXT NOT NULL DEFAULT '',
		payment_id TEXT NOT NULL DEFAULT '',
		payment_date TIMESTAMPTZ,
		payment_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (student_id, course_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL REFERENCES students(id),
		course_id TEXT NOT NULL REFERENCES courses(id),
		institution_id TEXT NOT NULL REFERENCES institutions(id),
		amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'PENDING',
		version INTEGER NOT NULL DEFAULT 0,
		state_version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS bookings_student_course_idx ON bookings (student_id, course_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		enrollment_id TEXT NOT NULL REFERENCES enrollments(id) ON DELETE RESTRICT,
		booking_id TEXT,
		amount NUMERIC(12,2) NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		external_ref TEXT,
		commission_rate NUMERIC(5,2) NOT NULL DEFAULT 0,
		commission_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		institution_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		due_date TIMESTAMPTZ,
		paid_at TIMESTAMPTZ,
		failure_reason TEXT NOT NULL DEFAULT '',
		reviewed_by TEXT NOT NULL DEFAULT '',
		refund_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		refund_commission_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		refund_institution_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
		refund_reference TEXT NOT NULL DEFAULT '',
		refunded_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS payments_external_ref_key ON payments (external_ref) WHERE external_ref IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS payments_enrollment_created_idx ON payments (enrollment_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS payments_pending_idx ON payments (status) WHERE status = 'PENDING'`,
	`CREATE TABLE IF NOT EXISTS institution_payouts (
		id TEXT PRIMARY KEY,
		institution_id TEXT NOT NULL REFERENCES institutions(id),
		enrollment_id TEXT NOT NULL REFERENCES enrollments(id),
		payment_id TEXT NOT NULL REFERENCES payments(id),
		amount NUMERIC(12,2) NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		type TEXT NOT NULL,
		commission_rate NUMERIC(5,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS payment_reminders (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		enrollment_id TEXT NOT NULL,
		reminder_type TEXT NOT NULL,
		days_until_due INTEGER NOT NULL,
		sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (payment_id, reminder_type)
	)`,
	`CREATE TABLE IF NOT EXISTS dlq_messages (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		message_key TEXT NOT NULL DEFAULT '',
		message_value BYTEA,
		error_message TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT NOT NULL DEFAULT '',
		last_retry_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}
