package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresIdempotencyChecker looks keys up in the command log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate checks if the command exists in pair_log.commands
func (pic *PostgresIdempotencyChecker) IsDuplicate(kind string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	query := `
        SELECT 1
        FROM pair_log.commands
        WHERE kind = $1 AND idempotency_key = $2
        LIMIT 1
    `

	var exists int
	err := pic.db.QueryRowContext(ctx, query, kind, idempotencyKey).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
