package pair

import (
	"PairLedger/internal/event"
	fpmath "PairLedger/internal/math"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// Borrow lends amount of the asset to `to` against the caller's
// collateral. The opening fee is added to the caller's debt, not taken
// from the disbursed amount. The caller must be solvent afterwards.
func (p *Pair) Borrow(caller, to types.Address, amount *uint256.Int) (part, share *uint256.Int, err error) {
	if err := p.requireInit(); err != nil {
		return nil, nil, err
	}
	err = p.atomic("borrow", func() error {
		if err := p.accrue(); err != nil {
			return err
		}
		part, share, err = p.borrow(caller, to, amount)
		if err != nil {
			return err
		}
		return p.requireSolvent(caller)
	})
	if err != nil {
		return nil, nil, err
	}
	return part, share, nil
}

func (p *Pair) borrow(caller, to types.Address, amount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	fee := fpmath.MustMulDiv(amount, uint256.NewInt(BorrowOpeningFee), uint256.NewInt(BorrowOpeningFeePrecision))
	owed, err := fpmath.Add(amount, fee)
	if err != nil {
		return nil, nil, arith(err)
	}
	part, err := p.st.totalBorrow.Add(owed, true)
	if err != nil {
		return nil, nil, arith(err)
	}
	pos := p.st.position(caller)
	newPart, err := fpmath.Add(&pos.BorrowPart, part)
	if err != nil {
		return nil, nil, arith(err)
	}
	pos.BorrowPart.Set(newPart)
	p.emit(&event.Borrow{Pair: p.address, From: caller, To: to, Amount: amount.Clone(), Fee: fee, Part: part.Clone()})

	share := p.vault().ToShare(p.cfg.Asset, amount, false)
	if p.st.totalAsset.Base.Lt(minimumAssetBase) {
		return nil, nil, ErrBelowMinimum
	}
	if err := p.st.totalAsset.SubElastic(share); err != nil {
		return nil, nil, wrap(ErrInsufficientAsset, err)
	}
	if err := p.vault().Transfer(p.address, p.cfg.Asset, p.address, to, share); err != nil {
		return nil, nil, vaultErr(err)
	}
	return part, share, nil
}

// Repay clears part of `to`'s debt, funded by the caller's vault balance
// or, with skim, by asset shares already sent to the pair.
func (p *Pair) Repay(caller, to types.Address, skim bool, part *uint256.Int) (amount *uint256.Int, err error) {
	if err := p.requireInit(); err != nil {
		return nil, err
	}
	err = p.atomic("repay", func() error {
		if err := p.accrue(); err != nil {
			return err
		}
		amount, err = p.repay(caller, to, skim, part)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

func (p *Pair) repay(caller, to types.Address, skim bool, part *uint256.Int) (*uint256.Int, error) {
	pos := p.st.position(to)
	remaining, err := fpmath.Sub(&pos.BorrowPart, part)
	if err != nil {
		return nil, arith(err)
	}
	amount, err := p.st.totalBorrow.Sub(part, true)
	if err != nil {
		return nil, arith(err)
	}
	pos.BorrowPart.Set(remaining)

	share := p.vault().ToShare(p.cfg.Asset, amount, true)
	totalShare := p.st.totalAsset.Elastic.Clone()
	if err := p.addTokens(caller, p.cfg.Asset, share, totalShare, skim); err != nil {
		return nil, err
	}
	if err := p.st.totalAsset.AddElastic(share); err != nil {
		return nil, arith(err)
	}
	p.emit(&event.Repay{Pair: p.address, From: p.funder(caller, skim), To: to, Amount: amount.Clone(), Part: part.Clone()})
	return amount, nil
}

// addTokens brings share of token into the pair: either from the caller's
// vault balance, or by claiming shares the pair holds beyond total.
func (p *Pair) addTokens(caller, token types.Address, share, total *uint256.Int, skim bool) error {
	if !skim {
		return vaultErr(p.vault().Transfer(p.address, token, caller, p.address, share))
	}
	held := p.vault().BalanceOf(token, p.address)
	spare, err := fpmath.Sub(held, total)
	if err != nil || spare.Lt(share) {
		return ErrSkimTooMuch
	}
	return nil
}

func (p *Pair) funder(caller types.Address, skim bool) types.Address {
	if skim {
		return p.vault().Address()
	}
	return caller
}
