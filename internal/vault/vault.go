// Package vault defines the share ledger the lending pairs custody their
// tokens in, and an in-memory implementation of it.
//
// Balances are held as shares. The share:amount ratio of a token drifts as
// the vault earns yield, so every amount crossing the boundary is converted
// with an explicit rounding direction.
package vault

import (
	"errors"

	fpmath "PairLedger/internal/math"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// MinimumShareBalance keeps a token's share total away from zero once used.
const MinimumShareBalance = 1000

var (
	ErrNotApproved         = errors.New("vault: transfer not approved")
	ErrNoMasterContract    = errors.New("vault: no master contract")
	ErrInsufficientBalance = errors.New("vault: insufficient share balance")
	ErrInsufficientWallet  = errors.New("vault: insufficient token balance")
	ErrZeroAddress         = errors.New("vault: to is zero address")
	ErrCannotEmpty         = errors.New("vault: cannot empty")
	ErrLengthMismatch      = errors.New("vault: length mismatch")
	ErrNotWhitelisted      = errors.New("vault: master contract not whitelisted")
	ErrContractRegister    = errors.New("vault: contract cannot register")
	ErrUserNotSender       = errors.New("vault: user not sender")
	ErrInvalidSignature    = errors.New("vault: invalid signature")
	ErrUnknownSnapshot     = errors.New("vault: unknown snapshot")
)

// Vault is the share ledger contract consumed by pairs, swappers and the
// cook interpreter. Mutating calls name the calling contract or account
// as caller; moving another account's shares requires that account's
// approval for the caller's master contract.
type Vault interface {
	Address() types.Address

	ToShare(token types.Address, amount *uint256.Int, roundUp bool) *uint256.Int
	ToAmount(token types.Address, share *uint256.Int, roundUp bool) *uint256.Int
	Totals(token types.Address) fpmath.Rebase
	BalanceOf(token, owner types.Address) *uint256.Int

	Deposit(caller, token, from, to types.Address, amount, share *uint256.Int) (amountOut, shareOut *uint256.Int, err error)
	Withdraw(caller, token, from, to types.Address, amount, share *uint256.Int) (amountOut, shareOut *uint256.Int, err error)
	Transfer(caller, token, from, to types.Address, share *uint256.Int) error
	TransferMultiple(caller, token, from types.Address, tos []types.Address, shares []*uint256.Int) error

	SetMasterContractApproval(caller, user, masterContract types.Address, approved bool, sig []byte) error

	Journal
}

// Journal lets a transaction roll back every vault mutation it caused.
// Contracts that keep their own state register hooks on it, so that a
// nested commit stays provisional until the outermost snapshot settles.
type Journal interface {
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
	OnCommit(fn func())
	OnRevert(fn func())
}
