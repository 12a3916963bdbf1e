package core

import (
	"fmt"
	"strconv"

	"PairLedger/internal/pair"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// dispatch runs the command against its target. It returns the pair the
// command touched, if any, and named return values for the receipt.
func (e *Engine) dispatch(cmd *Command, payload any) (*hostedPair, map[string]string, error) {
	if cmd.Kind.PairScoped() {
		hp, err := e.lookupPair(cmd.Pair)
		if err != nil {
			return nil, nil, err
		}
		returns, err := e.dispatchPair(hp.pair, cmd, payload)
		return hp, returns, err
	}
	return nil, nil, e.dispatchHost(cmd, payload)
}

func (e *Engine) dispatchPair(p *pair.Pair, cmd *Command, payload any) (map[string]string, error) {
	switch cmd.Kind {
	case KindCook:
		pl := payload.(*CookPayload)
		actions := make([]pair.Action, len(pl.Actions))
		values := make([]*uint256.Int, len(pl.Actions))
		datas := make([][]byte, len(pl.Actions))
		for i, a := range pl.Actions {
			actions[i] = pair.Action(a.Action)
			values[i] = a.Value.Value()
			datas[i] = a.Data
		}
		pipe, err := p.Cook(cmd.Sender, actions, values, datas)
		if err != nil {
			return nil, err
		}
		return map[string]string{"value1": pipe.Value1.Dec(), "value2": pipe.Value2.Dec()}, nil

	case KindLiquidate:
		pl := payload.(*LiquidatePayload)
		parts := make([]*uint256.Int, len(pl.MaxBorrowParts))
		for i, a := range pl.MaxBorrowParts {
			parts[i] = a.Value()
		}
		mode := "closed"
		if pl.Open {
			mode = "open"
		}
		if err := p.Liquidate(cmd.Sender, pl.Users, parts, pl.To, pl.Swapper, pl.Open); err != nil {
			return nil, err
		}
		return map[string]string{"mode": mode}, nil

	case KindShort:
		pl := payload.(*ShortPayload)
		share, err := p.Short(cmd.Sender, pl.Swapper, pl.Amount.Value(), pl.MinShare.Value())
		if err != nil {
			return nil, err
		}
		return map[string]string{"share": share.Dec()}, nil

	case KindUnwind:
		pl := payload.(*UnwindPayload)
		return nil, p.Unwind(cmd.Sender, pl.Swapper, pl.Part.Value(), pl.MaxShare.Value())

	case KindAccrue:
		return nil, p.Accrue()

	case KindWithdrawFees:
		return nil, p.WithdrawFees()

	case KindTransferFraction:
		pl := payload.(*TransferFractionPayload)
		return nil, p.Transfer(cmd.Sender, pl.To, pl.Fraction.Value())

	case KindUpdateExchangeRate:
		updated, rate, err := p.UpdateExchangeRate()
		if err != nil {
			return nil, err
		}
		return map[string]string{"updated": strconv.FormatBool(updated), "rate": rate.Dec()}, nil
	}
	return nil, fmt.Errorf("%w: %s is not pair scoped", ErrInvalidCommand, cmd.Kind)
}

func (e *Engine) dispatchHost(cmd *Command, payload any) error {
	switch cmd.Kind {
	case KindSetSwapper:
		pl := payload.(*SetSwapperPayload)
		if _, ok := e.registry.Swapper(pl.Swapper); !ok && pl.Enable {
			return fmt.Errorf("%w: %s", ErrUnknownSwapper, pl.Swapper)
		}
		return e.master.SetSwapper(cmd.Sender, pl.Swapper, pl.Enable)

	case KindSetFeeTo:
		pl := payload.(*SetFeeToPayload)
		return e.master.SetFeeTo(cmd.Sender, pl.To)

	case KindTransferOwnership:
		pl := payload.(*TransferOwnershipPayload)
		return e.master.TransferOwnership(cmd.Sender, pl.NewOwner, pl.Direct, pl.Renounce)

	case KindClaimOwnership:
		return e.master.ClaimOwnership(cmd.Sender)

	case KindFeedPrice:
		if err := e.onlyOperator(cmd.Sender); err != nil {
			return err
		}
		pl := payload.(*FeedPricePayload)
		return e.setPrice(pl.Feed, pl.Answer.Value())

	case KindCreditWallet:
		if err := e.onlyOperator(cmd.Sender); err != nil {
			return err
		}
		pl := payload.(*CreditWalletPayload)
		return e.vault.Credit(pl.Token, pl.To, pl.Amount.Value())

	case KindApproveMaster:
		pl := payload.(*ApproveMasterPayload)
		return e.vault.SetMasterContractApproval(cmd.Sender, pl.User, pl.Master, pl.Approved, pl.Signature)

	case KindAddLiquidity:
		pl := payload.(*AddLiquidityPayload)
		pool, ok := e.pools[pl.Swapper]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSwapper, pl.Swapper)
		}
		return pool.AddLiquidity(cmd.Sender, pl.Token, pl.Share.Value())
	}
	return fmt.Errorf("%w: %s is pair scoped", ErrInvalidCommand, cmd.Kind)
}

// onlyOperator gates commands that stand in for off-ledger facts (oracle
// answers, token arrivals). The master owner acts as operator.
func (e *Engine) onlyOperator(sender types.Address) error {
	if sender != e.master.Owner() {
		return pair.ErrNotOwner
	}
	return nil
}

func (e *Engine) setPrice(addr types.Address, answer *uint256.Int) error {
	if f, ok := e.feeds[addr]; ok {
		f.Update(answer)
	} else if o, ok := e.fixed[addr]; ok {
		o.Set(answer)
	} else {
		return fmt.Errorf("%w: %s", ErrUnknownFeed, addr)
	}
	e.prices[addr] = answer.Clone()
	return nil
}

// CookPayloadFrom converts a built program into a cook payload.
func CookPayloadFrom(pr *pair.Program) CookPayload {
	pl := CookPayload{Actions: make([]CookAction, pr.Len())}
	for i := range pr.Actions {
		pl.Actions[i] = CookAction{
			Action: uint8(pr.Actions[i]),
			Value:  types.NewAmount(pr.Values[i]),
			Data:   types.HexBytes(pr.Datas[i]),
		}
	}
	return pl
}
