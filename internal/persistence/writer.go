package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CommandLogWriter writes applied commands to pair_log.commands using
// multi-row INSERT.
type CommandLogWriter struct {
	db *sql.DB
}

// CommandRow represents a row in pair_log.commands
type CommandRow struct {
	Sequence       int64
	CommandID      uuid.UUID
	IdempotencyKey string
	Kind           string
	Pair           *string
	Sender         string
	Nonce          int64
	Payload        []byte // JSON command payload
	Events         []byte // JSON array of event records
	StateHash      []byte
	PrevHash       []byte
	BlockTime      time.Time
}

const commandColumns = 12

func NewCommandLogWriter(db *sql.DB) *CommandLogWriter {
	return &CommandLogWriter{db: db}
}

// WriteCommandBatch writes rows through ex, which may be a transaction.
func (w *CommandLogWriter) WriteCommandBatch(ctx context.Context, ex Execer, rows []CommandRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO pair_log.commands
		(sequence, command_id, idempotency_key, kind, pair, sender, nonce, payload, events, state_hash, prev_hash, block_time)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*commandColumns)

	for i, r := range rows {
		base := i * commandColumns
		placeholders := make([]string, commandColumns)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")

		payload := r.Payload
		if len(payload) == 0 {
			payload = []byte("null")
		}
		events := r.Events
		if len(events) == 0 {
			events = []byte("[]")
		}
		args = append(args,
			r.Sequence, r.CommandID, r.IdempotencyKey, r.Kind, r.Pair, r.Sender,
			r.Nonce, string(payload), string(events), r.StateHash, r.PrevHash, r.BlockTime,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// DB exposes the pool for transactions.
func (w *CommandLogWriter) DB() *sql.DB { return w.db }
