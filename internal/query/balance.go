package query

import (
	"context"
	"database/sql"
	"errors"
)

// LenderBalanceResponse is a lender's fraction balance in one pair.
type LenderBalanceResponse struct {
	Pair         string `json:"pair"`
	User         string `json:"user"`
	Fraction     string `json:"fraction"`
	LastSequence int64  `json:"last_sequence"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetLenderBalance returns a lender's fraction balance. With asOf > 0 it
// returns the balance as of that sequence from the history table.
func (qs *QueryService) GetLenderBalance(ctx context.Context, pair, user string, asOf int64) (*LenderBalanceResponse, error) {
	watermark, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	resp := &LenderBalanceResponse{Pair: pair, User: user, AsOfSequence: watermark}
	var row *sql.Row
	if asOf > 0 {
		resp.AsOfSequence = min(asOf, watermark)
		row = qs.db.QueryRowContext(ctx, `
			SELECT fraction::TEXT, sequence FROM projections.lender_balance_history
			WHERE pair = $1 AND user_address = $2 AND sequence <= $3
			ORDER BY sequence DESC LIMIT 1
		`, pair, user, asOf)
	} else {
		row = qs.db.QueryRowContext(ctx, `
			SELECT fraction::TEXT, last_sequence FROM projections.lender_balances
			WHERE pair = $1 AND user_address = $2
		`, pair, user)
	}

	if err := row.Scan(&resp.Fraction, &resp.LastSequence); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			resp.Fraction = "0"
			return resp, nil
		}
		return nil, err
	}
	return resp, nil
}
