package pair

import (
	"PairLedger/internal/event"
	fpmath "PairLedger/internal/math"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// AddCollateral credits share of the collateral token to `to`. It does
// not accrue; adding collateral can only improve a position.
func (p *Pair) AddCollateral(caller, to types.Address, skim bool, share *uint256.Int) error {
	if err := p.requireInit(); err != nil {
		return err
	}
	return p.atomic("add_collateral", func() error {
		return p.addCollateral(caller, to, skim, share)
	})
}

func (p *Pair) addCollateral(caller, to types.Address, skim bool, share *uint256.Int) error {
	pos := p.st.position(to)
	userShare, err := fpmath.Add(&pos.CollateralShare, share)
	if err != nil {
		return arith(err)
	}
	oldTotal := p.st.totalCollateralShare.Clone()
	total, err := fpmath.Add(oldTotal, share)
	if err != nil {
		return arith(err)
	}
	pos.CollateralShare.Set(userShare)
	p.st.totalCollateralShare.Set(total)
	if err := p.addTokens(caller, p.cfg.Collateral, share, oldTotal, skim); err != nil {
		return err
	}
	p.emit(&event.AddCollateral{Pair: p.address, From: p.funder(caller, skim), To: to, Share: share.Clone()})
	return nil
}

// RemoveCollateral debits the caller's collateral and sends it to `to`.
// The caller must remain solvent.
func (p *Pair) RemoveCollateral(caller, to types.Address, share *uint256.Int) error {
	if err := p.requireInit(); err != nil {
		return err
	}
	return p.atomic("remove_collateral", func() error {
		if err := p.accrue(); err != nil {
			return err
		}
		if err := p.removeCollateral(caller, to, share); err != nil {
			return err
		}
		return p.requireSolvent(caller)
	})
}

func (p *Pair) removeCollateral(caller, to types.Address, share *uint256.Int) error {
	pos := p.st.position(caller)
	userShare, err := fpmath.Sub(&pos.CollateralShare, share)
	if err != nil {
		return arith(err)
	}
	total, err := fpmath.Sub(&p.st.totalCollateralShare, share)
	if err != nil {
		return arith(err)
	}
	pos.CollateralShare.Set(userShare)
	p.st.totalCollateralShare.Set(total)
	p.emit(&event.RemoveCollateral{Pair: p.address, From: caller, To: to, Share: share.Clone()})
	return vaultErr(p.vault().Transfer(p.address, p.cfg.Collateral, p.address, to, share))
}
