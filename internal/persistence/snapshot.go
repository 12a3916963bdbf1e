package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotStore keeps engine snapshots and reads the command log back
// for recovery. The snapshot body is opaque JSON produced by the core.
type SnapshotStore struct {
	db *sql.DB
}

// SnapshotRecord is one row of pair_log.snapshots.
type SnapshotRecord struct {
	SnapshotID uuid.UUID
	Sequence   int64
	StateHash  []byte
	Data       json.RawMessage
	Verified   bool
	CreatedAt  time.Time
}

const snapshotFormatVersion = 1

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// SaveSnapshot stores an unverified snapshot. A second save at the same
// sequence replaces the body.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, sequence int64, stateHash []byte, data []byte) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pair_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6, verified = FALSE
	`, uuid.New(), sequence, string(data), stateHash, snapshotFormatVersion, len(data), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("save snapshot %d: %w", sequence, err)
	}
	return len(data), nil
}

// LoadLatestSnapshot returns the most recent verified snapshot, or nil
// when none exists.
func (s *SnapshotStore) LoadLatestSnapshot(ctx context.Context) (*SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT snapshot_id, sequence, state_hash, data, verified, created_at
		FROM pair_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		rec  SnapshotRecord
		data []byte
	)
	if err := row.Scan(&rec.SnapshotID, &rec.Sequence, &rec.StateHash, &data, &rec.Verified, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	rec.Data = data
	return &rec, nil
}

// VerifySnapshot marks the snapshot at sequence verified if its state
// hash matches the command logged at that sequence.
func (s *SnapshotStore) VerifySnapshot(ctx context.Context, sequence int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pair_log.snapshots AS s SET verified = TRUE
		FROM pair_log.commands AS c
		WHERE s.sequence = $1 AND c.sequence = s.sequence AND c.state_hash = s.state_hash
	`, sequence)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// LoadCommandsFrom loads logged commands with sequence >= fromSequence.
func (s *SnapshotStore) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, command_id, idempotency_key, kind, pair, sender, nonce,
		       payload, events, state_hash, prev_hash, block_time
		FROM pair_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var (
			r    CommandRow
			pair sql.NullString
		)
		if err := rows.Scan(
			&r.Sequence, &r.CommandID, &r.IdempotencyKey, &r.Kind, &pair, &r.Sender, &r.Nonce,
			&r.Payload, &r.Events, &r.StateHash, &r.PrevHash, &r.BlockTime,
		); err != nil {
			return nil, err
		}
		if pair.Valid {
			p := pair.String
			r.Pair = &p
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetLatestSequence returns the highest logged sequence, 0 for an empty log.
func (s *SnapshotStore) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM pair_log.commands`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// RecentIdempotencyKeys returns up to limit "kind:key" pairs, oldest first,
// for warming the dedup cache on a cold start.
func (s *SnapshotStore) RecentIdempotencyKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, idempotency_key FROM (
			SELECT sequence, kind, idempotency_key
			FROM pair_log.commands
			ORDER BY sequence DESC
			LIMIT $1
		) recent ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var kind, key string
		if err := rows.Scan(&kind, &key); err != nil {
			return nil, err
		}
		keys = append(keys, kind+":"+key)
	}
	return keys, rows.Err()
}
