package pair

import (
	"fmt"

	"PairLedger/internal/event"
	fpmath "PairLedger/internal/math"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// Liquidate closes up to maxBorrowParts[i] of each insolvent user's debt
// and seizes collateral worth the repaid amount times the liquidation
// multiplier. Solvent users are skipped; the call fails only if every user
// is solvent.
//
// Closed liquidation swaps the seized collateral through an allowlisted
// swapper for the lenders' benefit. Open liquidation hands the collateral
// to `to` (or to swapper, which pays the caller) and pulls the repayment
// from the caller.
func (p *Pair) Liquidate(caller types.Address, users []types.Address, maxBorrowParts []*uint256.Int, to, swapperAddr types.Address, open bool) error {
	if err := p.requireInit(); err != nil {
		return err
	}
	mode := "closed"
	if open {
		mode = "open"
	}
	err := p.atomic("liquidate", func() error {
		return p.liquidate(caller, users, maxBorrowParts, to, swapperAddr, open)
	})
	if m := p.metrics(); m != nil {
		if err != nil {
			m.LiquidationsFailed.WithLabelValues(p.address.Hex(), ReasonOf(err)).Inc()
		} else {
			m.LiquidationsTotal.WithLabelValues(p.address.Hex(), mode).Inc()
		}
	}
	return err
}

func (p *Pair) liquidate(caller types.Address, users []types.Address, maxBorrowParts []*uint256.Int, to, swapperAddr types.Address, open bool) error {
	if len(users) != len(maxBorrowParts) {
		return ErrLengthMismatch
	}
	if !open && !p.master.IsSwapper(swapperAddr) {
		return ErrInvalidSwapper
	}

	_, rate := p.updateExchangeRate()
	if err := p.accrue(); err != nil {
		return err
	}

	allCollateralShare := new(uint256.Int)
	allBorrowAmount := new(uint256.Int)
	allBorrowPart := new(uint256.Int)
	totalBorrow := p.st.totalBorrow
	collateralTotals := p.vault().Totals(p.cfg.Collateral)

	collateralTo, repayFrom := to, caller
	if swapperAddr != types.ZeroAddress {
		collateralTo, repayFrom = swapperAddr, swapperAddr
	}

	liquidated := 0
	for i, user := range users {
		if p.IsSolvent(user, open, rate) {
			continue
		}
		pos := p.st.position(user)
		part := fpmath.Min(maxBorrowParts[i], &pos.BorrowPart)
		pos.BorrowPart.Sub(&pos.BorrowPart, part)

		borrowAmount := totalBorrow.ToElastic(part, false)
		seized, err := fpmath.Mul(borrowAmount, uint256.NewInt(LiquidationMultiplier))
		if err == nil {
			seized, err = fpmath.MulDiv(seized, rate, liquidationDivisor, fpmath.RoundDown)
		}
		if err != nil {
			return arith(err)
		}
		collateralShare := collateralTotals.ToBase(seized, false)

		remaining, err := fpmath.Sub(&pos.CollateralShare, collateralShare)
		if err != nil {
			return arith(fmt.Errorf("user %s: %w", user, err))
		}
		pos.CollateralShare.Set(remaining)

		p.emit(&event.RemoveCollateral{Pair: p.address, From: user, To: collateralTo, Share: collateralShare.Clone()})
		p.emit(&event.Repay{Pair: p.address, From: repayFrom, To: user, Amount: borrowAmount.Clone(), Part: part.Clone()})
		p.emit(&event.Liquidation{
			Pair:            p.address,
			User:            user,
			Liquidator:      caller,
			To:              to,
			BorrowPart:      part.Clone(),
			BorrowAmount:    borrowAmount.Clone(),
			CollateralShare: collateralShare.Clone(),
			Open:            open,
		})

		allCollateralShare.Add(allCollateralShare, collateralShare)
		allBorrowAmount.Add(allBorrowAmount, borrowAmount)
		allBorrowPart.Add(allBorrowPart, part)
		liquidated++
	}
	if allBorrowAmount.IsZero() {
		return ErrAllSolvent
	}

	if err := p.st.totalBorrow.SubBoth(allBorrowAmount, allBorrowPart); err != nil {
		return arith(err)
	}
	totalCollateral, err := fpmath.Sub(&p.st.totalCollateralShare, allCollateralShare)
	if err != nil {
		return arith(err)
	}
	p.st.totalCollateralShare.Set(totalCollateral)

	allBorrowShare := p.vault().ToShare(p.cfg.Asset, allBorrowAmount, true)
	if open {
		err = p.settleOpen(caller, to, swapperAddr, allCollateralShare, allBorrowShare)
	} else {
		err = p.settleClosed(swapperAddr, allCollateralShare, allBorrowShare)
	}
	if err != nil {
		return err
	}

	if m := p.metrics(); m != nil {
		m.LiquidatedUsers.WithLabelValues(p.address.Hex()).Add(float64(liquidated))
	}
	p.log.Info().
		Int("users", liquidated).
		Str("borrow_amount", allBorrowAmount.Dec()).
		Str("collateral_share", allCollateralShare.Dec()).
		Bool("open", open).
		Msg("liquidated")
	return nil
}

// settleClosed sells the seized collateral and keeps the proceeds for the
// lenders, minus the protocol's cut of the surplus.
func (p *Pair) settleClosed(swapperAddr types.Address, allCollateralShare, allBorrowShare *uint256.Int) error {
	sw, ok := p.env.Contracts.Swapper(swapperAddr)
	if !ok {
		return ErrInvalidSwapper
	}
	v := p.vault()
	if err := v.Transfer(p.address, p.cfg.Collateral, p.address, swapperAddr, allCollateralShare); err != nil {
		return vaultErr(err)
	}
	if _, err := sw.Swap(p.cfg.Collateral, p.cfg.Asset, p.address, allBorrowShare, allCollateralShare); err != nil {
		return swapErr(err)
	}

	returned, err := fpmath.Sub(v.BalanceOf(p.cfg.Asset, p.address), &p.st.totalAsset.Elastic)
	if err != nil {
		return arith(err)
	}
	extra, err := fpmath.Sub(returned, allBorrowShare)
	if err != nil {
		return wrap(ErrSwapFailed, err)
	}
	feeShare := new(uint256.Int)
	if feeTo := p.master.FeeTo(); feeTo != types.ZeroAddress {
		feeShare = fpmath.MustMulDiv(extra, uint256.NewInt(ProtocolFee), uint256.NewInt(ProtocolFeeDivisor))
		if err := v.Transfer(p.address, p.cfg.Asset, p.address, feeTo, feeShare); err != nil {
			return vaultErr(err)
		}
	}
	if err := p.st.totalAsset.AddElastic(new(uint256.Int).Sub(returned, feeShare)); err != nil {
		return arith(err)
	}
	p.emit(&event.AddAsset{Pair: p.address, From: swapperAddr, To: p.address, Share: new(uint256.Int).Sub(extra, feeShare), Fraction: new(uint256.Int)})
	return nil
}

// settleOpen pays out the collateral first and then collects the
// repayment from the caller, so a swapper can fund it in between.
func (p *Pair) settleOpen(caller, to, swapperAddr types.Address, allCollateralShare, allBorrowShare *uint256.Int) error {
	v := p.vault()
	if swapperAddr == types.ZeroAddress {
		if err := v.Transfer(p.address, p.cfg.Collateral, p.address, to, allCollateralShare); err != nil {
			return vaultErr(err)
		}
	} else {
		sw, ok := p.env.Contracts.Swapper(swapperAddr)
		if !ok {
			return ErrInvalidSwapper
		}
		if err := v.Transfer(p.address, p.cfg.Collateral, p.address, swapperAddr, allCollateralShare); err != nil {
			return vaultErr(err)
		}
		if _, err := sw.Swap(p.cfg.Collateral, p.cfg.Asset, caller, allBorrowShare, allCollateralShare); err != nil {
			return swapErr(err)
		}
	}
	if err := v.Transfer(p.address, p.cfg.Asset, caller, p.address, allBorrowShare); err != nil {
		return vaultErr(err)
	}
	return arith(p.st.totalAsset.AddElastic(allBorrowShare))
}
