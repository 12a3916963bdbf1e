package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

// QueryService provides read-only access to the projection tables and
// the command log. Responses carry as_of_sequence, the projection
// watermark, so callers can judge freshness.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetPairTotals returns the projected totals of one pair.
func (qs *QueryService) GetPairTotals(ctx context.Context, pair string) (*PairTotalsResponse, error) {
	watermark, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	r := PairTotalsResponse{Pair: pair, AsOfSequence: watermark}
	err = qs.db.QueryRowContext(ctx, `
		SELECT address, asset_elastic::TEXT, asset_base::TEXT, borrow_elastic::TEXT, borrow_base::TEXT,
		       total_collateral_share::TEXT, exchange_rate::TEXT, interest_per_second, last_accrued,
		       fees_earned_fraction::TEXT, last_sequence, updated_at
		FROM projections.pair_totals
		WHERE pair = $1
	`, pair).Scan(
		&r.Address, &r.AssetElastic, &r.AssetBase, &r.BorrowElastic, &r.BorrowBase,
		&r.TotalCollateralShare, &r.ExchangeRate, &r.InterestPerSecond, &r.LastAccrued,
		&r.FeesEarnedFraction, &r.LastSequence, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pair %s: %w", pair, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetPosition returns one borrower position. With asOf > 0 the position
// is read from the history table as of that sequence.
func (qs *QueryService) GetPosition(ctx context.Context, pair, user string, asOf int64) (*PositionResponse, error) {
	watermark, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	p := PositionResponse{Pair: pair, User: user, AsOfSequence: watermark}
	var row *sql.Row
	if asOf > 0 {
		p.AsOfSequence = min(asOf, watermark)
		row = qs.db.QueryRowContext(ctx, `
			SELECT borrow_part::TEXT, collateral_share::TEXT, sequence
			FROM projections.position_history
			WHERE pair = $1 AND user_address = $2 AND sequence <= $3
			ORDER BY sequence DESC LIMIT 1
		`, pair, user, asOf)
	} else {
		row = qs.db.QueryRowContext(ctx, `
			SELECT borrow_part::TEXT, collateral_share::TEXT, last_sequence
			FROM projections.positions
			WHERE pair = $1 AND user_address = $2
		`, pair, user)
	}

	if err := row.Scan(&p.BorrowPart, &p.CollateralShare, &p.LastSequence); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			p.BorrowPart, p.CollateralShare = "0", "0"
			return &p, nil
		}
		return nil, err
	}
	return &p, nil
}

// ListPositions returns the open positions of a pair, ordered by user,
// starting after the given user address for pagination.
func (qs *QueryService) ListPositions(ctx context.Context, pair string, after string, limit int) ([]PositionResponse, error) {
	watermark, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT user_address, borrow_part::TEXT, collateral_share::TEXT, last_sequence
		FROM projections.positions
		WHERE pair = $1 AND user_address > $2 AND (borrow_part > 0 OR collateral_share > 0)
		ORDER BY user_address
		LIMIT $3
	`, pair, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionResponse
	for rows.Next() {
		p := PositionResponse{Pair: pair, AsOfSequence: watermark}
		if err := rows.Scan(&p.User, &p.BorrowPart, &p.CollateralShare, &p.LastSequence); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetCommandHistory returns logged commands, newest first. pair filters
// when non-empty; beforeSequence pages backwards when non-nil.
func (qs *QueryService) GetCommandHistory(ctx context.Context, pair string, limit int, beforeSequence *int64) ([]CommandHistoryEntry, error) {
	query := `
		SELECT sequence, command_id, idempotency_key, kind, pair, sender, nonce, events, state_hash, block_time
		FROM pair_log.commands
		WHERE TRUE
	`
	args := []any{}
	argIdx := 1

	if pair != "" {
		query += fmt.Sprintf(" AND pair = $%d", argIdx)
		args = append(args, pair)
		argIdx++
	}
	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CommandHistoryEntry
	for rows.Next() {
		var (
			e     CommandHistoryEntry
			pairN sql.NullString
			hash  []byte
		)
		if err := rows.Scan(
			&e.Sequence, &e.CommandID, &e.IdempotencyKey, &e.Kind, &pairN,
			&e.Sender, &e.Nonce, &e.Events, &hash, &e.BlockTime,
		); err != nil {
			return nil, err
		}
		if pairN.Valid {
			name := pairN.String
			e.Pair = &name
		}
		e.StateHash = "0x" + hex.EncodeToString(hash)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the command log hash chain and sequence
// continuity, and reports how far the projections trail the log.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM pair_log.commands c1
		JOIN pair_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.prev_hash != c2.state_hash
		ORDER BY c1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	gapRows, err := qs.db.QueryContext(ctx, `
		SELECT sequence FROM (
			SELECT sequence, LAG(sequence) OVER (ORDER BY sequence) AS prev
			FROM pair_log.commands
		) s
		WHERE prev IS NOT NULL AND sequence != prev + 1
		ORDER BY sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer gapRows.Close()
	for gapRows.Next() {
		var seq int64
		if err := gapRows.Scan(&seq); err != nil {
			return nil, err
		}
		report.SequenceGaps = append(report.SequenceGaps, seq)
	}
	if err := gapRows.Err(); err != nil {
		return nil, err
	}

	var latest sql.NullInt64
	if err := qs.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM pair_log.commands`).Scan(&latest); err != nil {
		return nil, err
	}
	report.LatestSequence = latest.Int64

	watermark, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	report.ProjectionLag = report.LatestSequence - watermark

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.SequenceGaps) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
