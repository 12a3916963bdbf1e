package query

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when the projection has no row for the key.
var ErrNotFound = errors.New("not found")

// PositionResponse is a borrower position. Amounts are decimal strings.
type PositionResponse struct {
	Pair            string `json:"pair"`
	User            string `json:"user"`
	BorrowPart      string `json:"borrow_part"`
	CollateralShare string `json:"collateral_share"`
	LastSequence    int64  `json:"last_sequence"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// PairTotalsResponse is the pair-wide state from projections.pair_totals.
type PairTotalsResponse struct {
	Pair                 string    `json:"pair"`
	Address              string    `json:"address"`
	AssetElastic         string    `json:"asset_elastic"`
	AssetBase            string    `json:"asset_base"`
	BorrowElastic        string    `json:"borrow_elastic"`
	BorrowBase           string    `json:"borrow_base"`
	TotalCollateralShare string    `json:"total_collateral_share"`
	ExchangeRate         string    `json:"exchange_rate"`
	InterestPerSecond    int64     `json:"interest_per_second"`
	LastAccrued          int64     `json:"last_accrued"`
	FeesEarnedFraction   string    `json:"fees_earned_fraction"`
	LastSequence         int64     `json:"last_sequence"`
	UpdatedAt            time.Time `json:"updated_at"`
	AsOfSequence         int64     `json:"as_of_sequence"`
}

// CommandHistoryEntry is one row of the command log.
type CommandHistoryEntry struct {
	Sequence       int64           `json:"sequence"`
	CommandID      string          `json:"command_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Kind           string          `json:"kind"`
	Pair           *string         `json:"pair,omitempty"`
	Sender         string          `json:"sender"`
	Nonce          int64           `json:"nonce"`
	Events         json.RawMessage `json:"events"`
	StateHash      string          `json:"state_hash"`
	BlockTime      time.Time       `json:"block_time"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LatestSequence  int64   `json:"latest_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
	ProjectionLag   int64   `json:"projection_lag"`
}
