// internal/event/pair.go
package event

import (
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// Initialized is emitted once when a pair is configured.
type Initialized struct {
	Pair       types.Address `json:"pair"`
	Collateral types.Address `json:"collateral"`
	Asset      types.Address `json:"asset"`
	Oracle     types.Address `json:"oracle"`
}

func (e *Initialized) EventType() EventType  { return EventTypeInitialized }
func (e *Initialized) Source() types.Address { return e.Pair }

// Accrue records one interest accrual step.
type Accrue struct {
	Pair          types.Address `json:"pair"`
	AccruedAmount *uint256.Int  `json:"accrued_amount"`
	FeeFraction   *uint256.Int  `json:"fee_fraction"`
	Rate          uint64        `json:"rate"`
	Utilization   *uint256.Int  `json:"utilization"`
	// Clamped is set when the controller hit RATE_MIN or RATE_MAX.
	Clamped bool `json:"clamped"`
}

func (e *Accrue) EventType() EventType  { return EventTypeAccrue }
func (e *Accrue) Source() types.Address { return e.Pair }

type AddCollateral struct {
	Pair  types.Address `json:"pair"`
	From  types.Address `json:"from"`
	To    types.Address `json:"to"`
	Share *uint256.Int  `json:"share"`
}

func (e *AddCollateral) EventType() EventType  { return EventTypeAddCollateral }
func (e *AddCollateral) Source() types.Address { return e.Pair }

type RemoveCollateral struct {
	Pair  types.Address `json:"pair"`
	From  types.Address `json:"from"`
	To    types.Address `json:"to"`
	Share *uint256.Int  `json:"share"`
}

func (e *RemoveCollateral) EventType() EventType  { return EventTypeRemoveCollateral }
func (e *RemoveCollateral) Source() types.Address { return e.Pair }

type AddAsset struct {
	Pair     types.Address `json:"pair"`
	From     types.Address `json:"from"`
	To       types.Address `json:"to"`
	Share    *uint256.Int  `json:"share"`
	Fraction *uint256.Int  `json:"fraction"`
}

func (e *AddAsset) EventType() EventType  { return EventTypeAddAsset }
func (e *AddAsset) Source() types.Address { return e.Pair }

type RemoveAsset struct {
	Pair     types.Address `json:"pair"`
	From     types.Address `json:"from"`
	To       types.Address `json:"to"`
	Share    *uint256.Int  `json:"share"`
	Fraction *uint256.Int  `json:"fraction"`
}

func (e *RemoveAsset) EventType() EventType  { return EventTypeRemoveAsset }
func (e *RemoveAsset) Source() types.Address { return e.Pair }

type Borrow struct {
	Pair   types.Address `json:"pair"`
	From   types.Address `json:"from"`
	To     types.Address `json:"to"`
	Amount *uint256.Int  `json:"amount"`
	Fee    *uint256.Int  `json:"fee"`
	Part   *uint256.Int  `json:"part"`
}

func (e *Borrow) EventType() EventType  { return EventTypeBorrow }
func (e *Borrow) Source() types.Address { return e.Pair }

type Repay struct {
	Pair   types.Address `json:"pair"`
	From   types.Address `json:"from"`
	To     types.Address `json:"to"`
	Amount *uint256.Int  `json:"amount"`
	Part   *uint256.Int  `json:"part"`
}

func (e *Repay) EventType() EventType  { return EventTypeRepay }
func (e *Repay) Source() types.Address { return e.Pair }

type ExchangeRate struct {
	Pair types.Address `json:"pair"`
	Rate *uint256.Int  `json:"rate"`
}

func (e *ExchangeRate) EventType() EventType  { return EventTypeExchangeRate }
func (e *ExchangeRate) Source() types.Address { return e.Pair }

// Transfer moves lender fractions between accounts.
type Transfer struct {
	Pair     types.Address `json:"pair"`
	From     types.Address `json:"from"`
	To       types.Address `json:"to"`
	Fraction *uint256.Int  `json:"fraction"`
}

func (e *Transfer) EventType() EventType  { return EventTypeTransfer }
func (e *Transfer) Source() types.Address { return e.Pair }

type WithdrawFees struct {
	Pair               types.Address `json:"pair"`
	FeeTo              types.Address `json:"fee_to"`
	FeesEarnedFraction *uint256.Int  `json:"fees_earned_fraction"`
}

func (e *WithdrawFees) EventType() EventType  { return EventTypeWithdrawFees }
func (e *WithdrawFees) Source() types.Address { return e.Pair }

// Liquidation is emitted once per liquidated user.
type Liquidation struct {
	Pair            types.Address `json:"pair"`
	User            types.Address `json:"user"`
	Liquidator      types.Address `json:"liquidator"`
	To              types.Address `json:"to"`
	BorrowPart      *uint256.Int  `json:"borrow_part"`
	BorrowAmount    *uint256.Int  `json:"borrow_amount"`
	CollateralShare *uint256.Int  `json:"collateral_share"`
	Open            bool          `json:"open"`
}

func (e *Liquidation) EventType() EventType  { return EventTypeLiquidation }
func (e *Liquidation) Source() types.Address { return e.Pair }
