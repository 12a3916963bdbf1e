package pair

import (
	"math/big"

	"PairLedger/internal/abi"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// Num is an int256 cook argument: a literal or a pipe reference.
type Num struct {
	v *big.Int
}

// Amount is a literal argument.
func Amount(v *uint256.Int) Num { return Num{v: v.ToBig()} }

// AmountUint64 is a literal argument.
func AmountUint64(v uint64) Num { return Amount(uint256.NewInt(v)) }

var (
	// Value1 reads the first pipe slot.
	Value1 = Num{v: big.NewInt(-1)}
	// Value2 reads the second pipe slot.
	Value2 = Num{v: big.NewInt(-2)}
)

// Program builds the three parallel cook arrays.
type Program struct {
	Actions []Action
	Values  []*uint256.Int
	Datas   [][]byte
}

func NewProgram() *Program { return &Program{} }

func (pr *Program) Len() int { return len(pr.Actions) }

// Raw appends an action with pre-encoded data.
func (pr *Program) Raw(action Action, value *uint256.Int, data []byte) *Program {
	if value == nil {
		value = new(uint256.Int)
	}
	pr.Actions = append(pr.Actions, action)
	pr.Values = append(pr.Values, value)
	pr.Datas = append(pr.Datas, data)
	return pr
}

func (pr *Program) add(action Action, layout abi.Layout, values ...any) *Program {
	return pr.Raw(action, nil, layout.MustPack(values...))
}

func (pr *Program) AddCollateral(share Num, to types.Address, skim bool) *Program {
	return pr.add(ActionAddCollateral, amountToSkimLayout, share.v, to, skim)
}

func (pr *Program) AddAsset(share Num, to types.Address, skim bool) *Program {
	return pr.add(ActionAddAsset, amountToSkimLayout, share.v, to, skim)
}

func (pr *Program) Repay(part Num, to types.Address, skim bool) *Program {
	return pr.add(ActionRepay, amountToSkimLayout, part.v, to, skim)
}

func (pr *Program) RemoveAsset(fraction Num, to types.Address) *Program {
	return pr.add(ActionRemoveAsset, amountToLayout, fraction.v, to)
}

func (pr *Program) RemoveCollateral(share Num, to types.Address) *Program {
	return pr.add(ActionRemoveCollateral, amountToLayout, share.v, to)
}

func (pr *Program) Borrow(amount Num, to types.Address) *Program {
	return pr.add(ActionBorrow, amountToLayout, amount.v, to)
}

func (pr *Program) Accrue() *Program {
	return pr.Raw(ActionAccrue, nil, nil)
}

// UpdateExchangeRate requires the refreshed rate to lie strictly between
// minRate and maxRate (maxRate zero means unbounded).
func (pr *Program) UpdateExchangeRate(mustUpdate bool, minRate, maxRate *uint256.Int) *Program {
	return pr.add(ActionUpdateExchangeRate, rateCheckLayout, mustUpdate, minRate, maxRate)
}

func (pr *Program) GetRepayShare(part Num) *Program {
	return pr.add(ActionGetRepayShare, numLayout, part.v)
}

func (pr *Program) GetRepayPart(amount Num) *Program {
	return pr.add(ActionGetRepayPart, numLayout, amount.v)
}

func (pr *Program) VaultDeposit(token, to types.Address, amount, share Num) *Program {
	return pr.add(ActionVaultDeposit, vaultAmountLayout, token, to, amount.v, share.v)
}

func (pr *Program) VaultWithdraw(token, to types.Address, amount, share Num) *Program {
	return pr.add(ActionVaultWithdraw, vaultAmountLayout, token, to, amount.v, share.v)
}

func (pr *Program) VaultTransfer(token, to types.Address, share Num) *Program {
	return pr.add(ActionVaultTransfer, vaultTransferLayout, token, to, share.v)
}

func (pr *Program) VaultTransferMultiple(token types.Address, tos []types.Address, shares []*uint256.Int) *Program {
	return pr.add(ActionVaultTransferMultiple, vaultMultiLayout, token, tos, shares)
}

// SetApproval approves master for user. sig is the 65-byte r||s||v
// signature produced by vault.SignApproval, or nil for an unsigned
// approval.
func (pr *Program) SetApproval(user, master types.Address, approved bool, sig []byte) *Program {
	var v uint8
	var r, s [32]byte
	if len(sig) == 65 {
		copy(r[:], sig[:32])
		copy(s[:], sig[32:64])
		v = sig[64] + 27
	}
	return pr.add(ActionVaultSetApproval, approvalLayout, user, master, approved, v, r, s)
}

// Call invokes callee with callData, optionally followed by the pipe
// values, and reads returnValues words (0, 1 or 2) back into the pipe.
func (pr *Program) Call(callee types.Address, callData []byte, value *uint256.Int, useValue1, useValue2 bool, returnValues uint8) *Program {
	return pr.Raw(ActionCall, value, callLayout.MustPack(callee, callData, useValue1, useValue2, returnValues))
}

// Run cooks the program on p for caller.
func (pr *Program) Run(p *Pair, caller types.Address) (Pipe, error) {
	return p.Cook(caller, pr.Actions, pr.Values, pr.Datas)
}
