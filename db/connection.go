package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace-settlement/config"

	_ "github.com/lib/pq"
)

// Open connects to Postgres with the pool limits used by the server and CLI.
func Open(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.DBConnString())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	return conn, nil
}

// Migrate creates every table and index the engine needs. It is idempotent.
func Migrate(ctx context.Context, conn *sql.DB) error {
	for i, stmt := range schema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error creating tables (statement %d): %w", i+1, err)
		}
	}
	return nil
}
