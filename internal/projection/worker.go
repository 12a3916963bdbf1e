package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PairLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Output mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type Output struct {
	Sequence  int64
	Pair      string
	Totals    PairTotals
	Positions []PositionRow
	Balances  []BalanceRow
}

// PairTotals is the pair-wide state after a command. Amounts are decimal
// strings so uint256 values survive the trip into NUMERIC columns.
type PairTotals struct {
	Address              string
	AssetElastic         string
	AssetBase            string
	BorrowElastic        string
	BorrowBase           string
	TotalCollateralShare string
	ExchangeRate         string
	InterestPerSecond    uint64
	LastAccrued          uint64
	FeesEarnedFraction   string
}

type PositionRow struct {
	User            string
	BorrowPart      string
	CollateralShare string
}

type BalanceRow struct {
	User     string
	Fraction string
}

// ProjectionWorker updates the read tables from applied commands.
// The projection channel drops on a full buffer; tables lag or get
// rebuilt from the command log, they never block the core.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan Output
	lastSeq   int64
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan Output, metrics *observability.Metrics, log zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log.With().Str("component", "projection").Logger(),
	}
}

// LastSequence is the last sequence the worker attempted.
func (pw *ProjectionWorker) LastSequence() int64 { return pw.lastSeq }

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if err := pw.Apply(ctx, output); err != nil {
				// Eventually consistent; a rebuild repairs the tables.
				pw.log.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
			}
			pw.lastSeq = output.Sequence
		}
	}
}

// Apply writes one output in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, output Output) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := upsertTotals(ctx, tx, output); err != nil {
		return fmt.Errorf("pair totals: %w", err)
	}
	pw.observe("pair_totals", start)

	for _, p := range output.Positions {
		if err := upsertPosition(ctx, tx, output.Pair, output.Sequence, p); err != nil {
			return fmt.Errorf("position %s: %w", p.User, err)
		}
	}
	pw.observe("positions", start)

	for _, b := range output.Balances {
		if err := upsertBalance(ctx, tx, output.Pair, output.Sequence, b); err != nil {
			return fmt.Errorf("lender balance %s: %w", b.User, err)
		}
	}
	pw.observe("lender_balances", start)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = GREATEST(projections.watermark.last_sequence, $1), updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) observe(table string, start time.Time) {
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(table).Observe(time.Since(start).Seconds())
	}
}

func upsertTotals(ctx context.Context, tx *sql.Tx, o Output) error {
	t := o.Totals
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pair_totals
			(pair, address, asset_elastic, asset_base, borrow_elastic, borrow_base,
			 total_collateral_share, exchange_rate, interest_per_second, last_accrued,
			 fees_earned_fraction, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (pair) DO UPDATE SET
			address = $2, asset_elastic = $3, asset_base = $4, borrow_elastic = $5,
			borrow_base = $6, total_collateral_share = $7, exchange_rate = $8,
			interest_per_second = $9, last_accrued = $10, fees_earned_fraction = $11,
			last_sequence = $12, updated_at = NOW()
		WHERE projections.pair_totals.last_sequence < $12
	`, o.Pair, t.Address, t.AssetElastic, t.AssetBase, t.BorrowElastic, t.BorrowBase,
		t.TotalCollateralShare, t.ExchangeRate, int64(t.InterestPerSecond), int64(t.LastAccrued),
		t.FeesEarnedFraction, o.Sequence)
	return err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, pair string, seq int64, p PositionRow) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (pair, user_address, borrow_part, collateral_share, last_sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pair, user_address) DO UPDATE
		SET borrow_part = $3, collateral_share = $4, last_sequence = $5
		WHERE projections.positions.last_sequence < $5
	`, pair, p.User, p.BorrowPart, p.CollateralShare, seq); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.position_history (pair, user_address, sequence, borrow_part, collateral_share)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`, pair, p.User, seq, p.BorrowPart, p.CollateralShare)
	return err
}

func upsertBalance(ctx context.Context, tx *sql.Tx, pair string, seq int64, b BalanceRow) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.lender_balances (pair, user_address, fraction, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pair, user_address) DO UPDATE
		SET fraction = $3, last_sequence = $4
		WHERE projections.lender_balances.last_sequence < $4
	`, pair, b.User, b.Fraction, seq); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.lender_balance_history (pair, user_address, sequence, fraction)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, pair, b.User, seq, b.Fraction)
	return err
}

// Truncate empties every projection table ahead of a rebuild.
func Truncate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`TRUNCATE projections.pair_totals`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.position_history`,
		`TRUNCATE projections.lender_balances`,
		`TRUNCATE projections.lender_balance_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}
	return nil
}

// Watermark returns the highest sequence the projections reflect.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'`).Scan(&seq)
	if err == sql.ErrNoRows || (err == nil && !seq.Valid) {
		return 0, nil
	}
	return seq.Int64, err
}
