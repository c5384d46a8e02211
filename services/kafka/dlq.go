package kafka

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"marketplace-settlement/errors"
	"marketplace-settlement/logger"

	"github.com/google/uuid"
)

// DLQMessage is a parked message as stored in dlq_messages.
type DLQMessage struct {
	ID           string          `json:"id"`
	Topic        string          `json:"topic"`
	Key          string          `json:"key"`
	Value        json.RawMessage `json:"value"`
	ErrorMessage string          `json:"error_message"`
	RetryCount   int             `json:"retry_count"`
	Resolved     bool            `json:"resolved"`
	CreatedAt    time.Time       `json:"created_at"`
}

type DLQStats struct {
	Total      int `json:"total"`
	Unresolved int `json:"unresolved"`
}

// SQLDeadLetterStore persists parked messages in Postgres.
type SQLDeadLetterStore struct {
	db  *sql.DB
	log *logger.Logger
}

func NewSQLDeadLetterStore(conn *sql.DB, log *logger.Logger) *SQLDeadLetterStore {
	return &SQLDeadLetterStore{db: conn, log: log}
}

func (s *SQLDeadLetterStore) Store(ctx context.Context, topic, key string, value []byte, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dlq_messages (id, topic, message_key, message_value, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid.NewString(), topic, key, value, errMsg)
	if err != nil {
		return errors.E(errors.Internal, "storing DLQ message", err)
	}
	s.log.Info("DLQ message stored. Topic: %s, Key: %s", topic, key)
	return nil
}

// List returns unresolved messages, newest first.
func (s *SQLDeadLetterStore) List(ctx context.Context, limit int) ([]DLQMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, message_key, message_value, error_message, retry_count, resolved, created_at
		FROM dlq_messages
		WHERE resolved = FALSE
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.E(errors.Internal, "listing DLQ messages", err)
	}
	defer rows.Close()

	var messages []DLQMessage
	for rows.Next() {
		m, err := scanDLQMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (s *SQLDeadLetterStore) Get(ctx context.Context, id string) (*DLQMessage, error) {
	m, err := scanDLQMessage(s.db.QueryRowContext(ctx, `
		SELECT id, topic, message_key, message_value, error_message, retry_count, resolved, created_at
		FROM dlq_messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.E(errors.NotFound, "DLQ message not found")
	}
	if err != nil {
		return nil, errors.E(errors.Internal, "loading DLQ message", err)
	}
	return m, nil
}

// Retry republishes the message to its original topic and resolves it when
// the publish succeeds.
func (s *SQLDeadLetterStore) Retry(ctx context.Context, id string, producer *Producer) error {
	if !producer.Enabled() {
		return errors.E(errors.DependencyUnavailable, "Kafka is disabled")
	}
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	pubErr := producer.Publish(ctx, m.Topic, m.Key, m.Value)

	q := `UPDATE dlq_messages SET retry_count = retry_count + 1, last_retry_at = NOW() WHERE id = $1`
	if pubErr == nil {
		q = `UPDATE dlq_messages SET retry_count = retry_count + 1, last_retry_at = NOW(), resolved = TRUE,
			notes = 'retried successfully' WHERE id = $1`
	}
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return errors.E(errors.Internal, "updating DLQ message", err)
	}
	if pubErr != nil {
		return errors.E(errors.DependencyUnavailable, "republishing DLQ message", pubErr)
	}
	return nil
}

func (s *SQLDeadLetterStore) Resolve(ctx context.Context, id, notes string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dlq_messages SET resolved = TRUE, notes = $2 WHERE id = $1`, id, notes)
	if err != nil {
		return errors.E(errors.Internal, "resolving DLQ message", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.E(errors.NotFound, "DLQ message not found")
	}
	return nil
}

func (s *SQLDeadLetterStore) Stats(ctx context.Context) (DLQStats, error) {
	var st DLQStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE resolved = FALSE) FROM dlq_messages`,
	).Scan(&st.Total, &st.Unresolved)
	if err != nil {
		return st, errors.E(errors.Internal, "loading DLQ stats", err)
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDLQMessage(s scanner) (*DLQMessage, error) {
	var (
		m     DLQMessage
		value []byte
	)
	if err := s.Scan(&m.ID, &m.Topic, &m.Key, &value, &m.ErrorMessage, &m.RetryCount, &m.Resolved, &m.CreatedAt); err != nil {
		return nil, err
	}
	if json.Valid(value) {
		m.Value = value
	} else {
		quoted, _ := json.Marshal(string(value))
		m.Value = quoted
	}
	return &m, nil
}
