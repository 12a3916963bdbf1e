package pair

import (
	"PairLedger/internal/swapper"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

func (p *Pair) allowedSwapper(addr types.Address) (swapper.Swapper, error) {
	if !p.master.IsSwapper(addr) {
		return nil, ErrInvalidSwapper
	}
	sw, ok := p.env.Contracts.Swapper(addr)
	if !ok {
		return nil, ErrInvalidSwapper
	}
	return sw, nil
}

// Short borrows amount of the asset, sells it for collateral through an
// allowlisted swapper and posts the proceeds as the caller's collateral.
// It returns the collateral share added.
func (p *Pair) Short(caller, swapperAddr types.Address, amount, minReturnedShare *uint256.Int) (share *uint256.Int, err error) {
	if err := p.requireInit(); err != nil {
		return nil, err
	}
	err = p.atomic("short", func() error {
		sw, err := p.allowedSwapper(swapperAddr)
		if err != nil {
			return err
		}
		if err := p.accrue(); err != nil {
			return err
		}
		_, borrowed, err := p.borrow(caller, swapperAddr, amount)
		if err != nil {
			return err
		}
		share, err = sw.Swap(p.cfg.Asset, p.cfg.Collateral, p.address, minReturnedShare, borrowed)
		if err != nil {
			return swapErr(err)
		}
		if err := p.addCollateral(caller, caller, true, share); err != nil {
			return err
		}
		return p.requireSolvent(caller)
	})
	if err != nil {
		return nil, err
	}
	return share, nil
}

// Unwind sells up to maxShare of the caller's collateral for exactly the
// asset needed to repay part, repays it, and returns the unused collateral
// to the caller's position.
func (p *Pair) Unwind(caller, swapperAddr types.Address, part, maxShare *uint256.Int) error {
	if err := p.requireInit(); err != nil {
		return err
	}
	return p.atomic("unwind", func() error {
		sw, err := p.allowedSwapper(swapperAddr)
		if err != nil {
			return err
		}
		if err := p.accrue(); err != nil {
			return err
		}
		if err := p.removeCollateral(caller, swapperAddr, maxShare); err != nil {
			return err
		}
		amount := p.st.totalBorrow.ToElastic(part, true)
		repayShare := p.vault().ToShare(p.cfg.Asset, amount, true)
		_, refund, err := sw.SwapExact(p.cfg.Collateral, p.cfg.Asset, p.address, p.address, maxShare, repayShare)
		if err != nil {
			return swapErr(err)
		}
		if _, err := p.repay(caller, caller, true, part); err != nil {
			return err
		}
		if !refund.IsZero() {
			if err := p.addCollateral(caller, caller, true, refund); err != nil {
				return err
			}
		}
		return p.requireSolvent(caller)
	})
}
