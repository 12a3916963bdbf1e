package pair

import (
	"fmt"
	"math/big"

	"PairLedger/internal/abi"
	"PairLedger/internal/types"
	"PairLedger/internal/vault"

	"github.com/holiman/uint256"
)

// Action is a cook instruction code.
type Action uint8

const (
	ActionAddAsset         Action = 1
	ActionRepay            Action = 2
	ActionRemoveAsset      Action = 3
	ActionRemoveCollateral Action = 4
	ActionBorrow           Action = 5
	ActionGetRepayShare    Action = 6
	ActionGetRepayPart     Action = 7
	ActionAccrue           Action = 8

	// Codes from 10 up do not trigger an accrue.
	ActionAddCollateral      Action = 10
	ActionUpdateExchangeRate Action = 11

	ActionVaultDeposit          Action = 20
	ActionVaultWithdraw         Action = 21
	ActionVaultTransfer         Action = 22
	ActionVaultTransferMultiple Action = 23
	ActionVaultSetApproval      Action = 24

	ActionCall Action = 30
)

func (a Action) String() string {
	switch a {
	case ActionAddAsset:
		return "add_asset"
	case ActionRepay:
		return "repay"
	case ActionRemoveAsset:
		return "remove_asset"
	case ActionRemoveCollateral:
		return "remove_collateral"
	case ActionBorrow:
		return "borrow"
	case ActionGetRepayShare:
		return "get_repay_share"
	case ActionGetRepayPart:
		return "get_repay_part"
	case ActionAccrue:
		return "accrue"
	case ActionAddCollateral:
		return "add_collateral"
	case ActionUpdateExchangeRate:
		return "update_exchange_rate"
	case ActionVaultDeposit:
		return "vault_deposit"
	case ActionVaultWithdraw:
		return "vault_withdraw"
	case ActionVaultTransfer:
		return "vault_transfer"
	case ActionVaultTransferMultiple:
		return "vault_transfer_multiple"
	case ActionVaultSetApproval:
		return "vault_set_approval"
	case ActionCall:
		return "call"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Pipe carries numeric results from one action into later ones.
type Pipe struct {
	Value1 *uint256.Int
	Value2 *uint256.Int
}

// num resolves an int256 argument: non-negative values are literal, -1 and
// -2 read the pipe, anything else is rejected.
func (pp *Pipe) num(v *big.Int) (*uint256.Int, error) {
	if v.Sign() >= 0 {
		n, overflow := uint256.FromBig(v)
		if overflow {
			return nil, ErrNumOutOfBounds
		}
		return n, nil
	}
	if v.IsInt64() {
		switch v.Int64() {
		case -1:
			return pp.Value1.Clone(), nil
		case -2:
			return pp.Value2.Clone(), nil
		}
	}
	return nil, ErrNumOutOfBounds
}

// Argument layouts of the cook actions.
var (
	numLayout           = abi.NewLayout(abi.Int256)
	amountToLayout      = abi.NewLayout(abi.Int256, abi.Address)
	amountToSkimLayout  = abi.NewLayout(abi.Int256, abi.Address, abi.Bool)
	rateCheckLayout     = abi.NewLayout(abi.Bool, abi.Uint256, abi.Uint256)
	vaultAmountLayout   = abi.NewLayout(abi.Address, abi.Address, abi.Int256, abi.Int256)
	vaultTransferLayout = abi.NewLayout(abi.Address, abi.Address, abi.Int256)
	vaultMultiLayout    = abi.NewLayout(abi.Address, abi.Addresses, abi.Uint256s)
	approvalLayout      = abi.NewLayout(abi.Address, abi.Address, abi.Bool, abi.Uint8, abi.Bytes32, abi.Bytes32)
	callLayout          = abi.NewLayout(abi.Address, abi.Bytes, abi.Bool, abi.Bool, abi.Uint8)
	callReturnLayouts   = [...]abi.Layout{abi.NewLayout(), abi.NewLayout(abi.Uint256), abi.NewLayout(abi.Uint256, abi.Uint256)}
)

type cookStatus struct {
	hasAccrued         bool
	needsSolvencyCheck bool
}

// Cook executes actions in order as a single transaction and returns the
// final pipe values. values[i] is the native value forwarded by CALL; it
// may be nil. Unknown action codes are skipped. If a borrow or collateral
// removal ran, the caller must be solvent at the end.
func (p *Pair) Cook(caller types.Address, actions []Action, values []*uint256.Int, datas [][]byte) (Pipe, error) {
	pipe := Pipe{Value1: new(uint256.Int), Value2: new(uint256.Int)}
	if err := p.requireInit(); err != nil {
		return pipe, err
	}
	if len(datas) != len(actions) || (values != nil && len(values) != len(actions)) {
		return pipe, ErrLengthMismatch
	}

	err := p.atomic("cook", func() error {
		var status cookStatus
		for i, action := range actions {
			if !status.hasAccrued && action < 10 {
				if err := p.accrue(); err != nil {
					return err
				}
				status.hasAccrued = true
			}
			var value *uint256.Int
			if values != nil && values[i] != nil {
				value = values[i]
			} else {
				value = new(uint256.Int)
			}
			if err := p.step(caller, action, value, datas[i], &pipe, &status); err != nil {
				return fmt.Errorf("cook action %d (%s): %w", i, action, err)
			}
		}
		if status.needsSolvencyCheck {
			return p.requireSolvent(caller)
		}
		return nil
	})
	if err != nil {
		return Pipe{Value1: new(uint256.Int), Value2: new(uint256.Int)}, err
	}
	return pipe, nil
}

func badData(err error) error {
	if err == nil {
		return nil
	}
	return wrap(ErrBadActionData, err)
}

// layoutOf returns the argument layout of action, or false for actions
// that take no data.
func layoutOf(action Action) (abi.Layout, bool) {
	switch action {
	case ActionAddCollateral, ActionAddAsset, ActionRepay:
		return amountToSkimLayout, true
	case ActionRemoveAsset, ActionRemoveCollateral, ActionBorrow:
		return amountToLayout, true
	case ActionUpdateExchangeRate:
		return rateCheckLayout, true
	case ActionVaultSetApproval:
		return approvalLayout, true
	case ActionVaultDeposit, ActionVaultWithdraw:
		return vaultAmountLayout, true
	case ActionVaultTransfer:
		return vaultTransferLayout, true
	case ActionVaultTransferMultiple:
		return vaultMultiLayout, true
	case ActionCall:
		return callLayout, true
	case ActionGetRepayShare, ActionGetRepayPart:
		return numLayout, true
	}
	return abi.Layout{}, false
}

func (p *Pair) step(caller types.Address, action Action, value *uint256.Int, data []byte, pipe *Pipe, status *cookStatus) error {
	layout, ok := layoutOf(action)
	if !ok {
		return nil
	}
	args, err := layout.Unpack(data)
	if err != nil {
		return badData(err)
	}

	switch action {
	case ActionAddCollateral, ActionAddAsset, ActionRepay:
		n, err := pipe.num(args.Int(0))
		if err != nil {
			return err
		}
		to, skim := args.Address(1), args.Bool(2)
		switch action {
		case ActionAddCollateral:
			return p.addCollateral(caller, to, skim, n)
		case ActionAddAsset:
			fraction, err := p.addAsset(caller, to, skim, n)
			if err != nil {
				return err
			}
			pipe.Value1 = fraction
		default:
			_, err := p.repay(caller, to, skim, n)
			return err
		}

	case ActionRemoveAsset, ActionRemoveCollateral, ActionBorrow:
		n, err := pipe.num(args.Int(0))
		if err != nil {
			return err
		}
		to := args.Address(1)
		switch action {
		case ActionRemoveAsset:
			share, err := p.removeAsset(caller, to, n)
			if err != nil {
				return err
			}
			pipe.Value1 = share
		case ActionRemoveCollateral:
			status.needsSolvencyCheck = true
			return p.removeCollateral(caller, to, n)
		default:
			part, share, err := p.borrow(caller, to, n)
			if err != nil {
				return err
			}
			pipe.Value1, pipe.Value2 = part, share
			status.needsSolvencyCheck = true
		}

	case ActionUpdateExchangeRate:
		mustUpdate, minRate, maxRate := args.Bool(0), args.Uint(1), args.Uint(2)
		updated, rate := p.updateExchangeRate()
		if (mustUpdate && !updated) || !rate.Gt(minRate) || (!maxRate.IsZero() && !rate.Lt(maxRate)) {
			return ErrRateNotOK
		}

	case ActionVaultSetApproval:
		return p.cookSetApproval(args)

	case ActionVaultDeposit, ActionVaultWithdraw:
		token, to := args.Address(0), args.Address(1)
		amount, err := pipe.num(args.Int(2))
		if err != nil {
			return err
		}
		share, err := pipe.num(args.Int(3))
		if err != nil {
			return err
		}
		var outAmount, outShare *uint256.Int
		if action == ActionVaultDeposit {
			outAmount, outShare, err = p.vault().Deposit(p.address, token, caller, to, amount, share)
		} else {
			outAmount, outShare, err = p.vault().Withdraw(p.address, token, caller, to, amount, share)
		}
		if err != nil {
			return vaultErr(err)
		}
		pipe.Value1, pipe.Value2 = outAmount, outShare

	case ActionVaultTransfer:
		share, err := pipe.num(args.Int(2))
		if err != nil {
			return err
		}
		return vaultErr(p.vault().Transfer(p.address, args.Address(0), caller, args.Address(1), share))

	case ActionVaultTransferMultiple:
		tos, shares := args.Addresses(1), args.Uints(2)
		if len(tos) != len(shares) {
			return ErrLengthMismatch
		}
		return vaultErr(p.vault().TransferMultiple(p.address, args.Address(0), caller, tos, shares))

	case ActionCall:
		return p.cookCall(value, args, pipe)

	case ActionGetRepayShare:
		part, err := pipe.num(args.Int(0))
		if err != nil {
			return err
		}
		amount := p.st.totalBorrow.ToElastic(part, true)
		pipe.Value1 = p.vault().ToShare(p.cfg.Asset, amount, true)

	case ActionGetRepayPart:
		amount, err := pipe.num(args.Int(0))
		if err != nil {
			return err
		}
		pipe.Value1 = p.st.totalBorrow.ToBase(amount, false)
	}
	return nil
}

// cookSetApproval decodes (user, master, approved, v, r, s). An all-zero
// signature means the approval is not signed; otherwise v is 27 or 28.
func (p *Pair) cookSetApproval(args abi.Values) error {
	user, master, approved := args.Address(0), args.Address(1), args.Bool(2)
	v, r, s := args.Uint8(3), args.Bytes32(4), args.Bytes32(5)
	var sig []byte
	if v != 0 || r != ([32]byte{}) || s != ([32]byte{}) {
		if v < 27 {
			return vaultErr(vault.ErrInvalidSignature)
		}
		sig = make([]byte, 0, 65)
		sig = append(sig, r[:]...)
		sig = append(sig, s[:]...)
		sig = append(sig, v-27)
	}
	return vaultErr(p.vault().SetMasterContractApproval(p.address, user, master, approved, sig))
}

// cookCall decodes (callee, callData, useValue1, useValue2, returnValues),
// appends the requested pipe words to the calldata and reads up to two
// return words back into the pipe.
func (p *Pair) cookCall(value *uint256.Int, args abi.Values, pipe *Pipe) error {
	calleeAddr, callData := args.Address(0), args.Bytes(1)
	useValue1, useValue2, returnValues := args.Bool(2), args.Bool(3), args.Uint8(4)

	if calleeAddr == p.vault().Address() || calleeAddr == p.address {
		return ErrCantCall
	}
	if int(returnValues) >= len(callReturnLayouts) {
		return badData(fmt.Errorf("return values %d", returnValues))
	}
	if useValue1 {
		w := pipe.Value1.Bytes32()
		callData = append(callData, w[:]...)
	}
	if useValue2 {
		w := pipe.Value2.Bytes32()
		callData = append(callData, w[:]...)
	}

	callee, ok := p.env.Contracts.Callee(calleeAddr)
	if !ok {
		return wrap(ErrCallFailed, fmt.Errorf("no contract at %s", calleeAddr))
	}
	ret, err := callee.Call(p.address, value, callData)
	if err != nil {
		return wrap(ErrCallFailed, err)
	}
	if returnValues == 0 {
		return nil
	}
	out, err := callReturnLayouts[returnValues].Unpack(ret)
	if err != nil {
		return wrap(ErrCallFailed, err)
	}
	pipe.Value1 = out.Uint(0)
	if returnValues == 2 {
		pipe.Value2 = out.Uint(1)
	}
	return nil
}
