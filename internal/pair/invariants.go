package pair

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var ErrInvariant = errors.New("pair: invariant violated")

// CheckInvariants verifies that per-user records add up to the totals and
// that the vault actually holds what the totals claim.
func (p *Pair) CheckInvariants() error {
	parts := new(uint256.Int)
	collateral := new(uint256.Int)
	for _, pos := range p.st.positions {
		parts.Add(parts, &pos.BorrowPart)
		collateral.Add(collateral, &pos.CollateralShare)
	}
	if !parts.Eq(&p.st.totalBorrow.Base) {
		return fmt.Errorf("%w: borrow parts %s != total %s", ErrInvariant, parts.Dec(), p.st.totalBorrow.Base.Dec())
	}
	if !collateral.Eq(&p.st.totalCollateralShare) {
		return fmt.Errorf("%w: collateral shares %s != total %s", ErrInvariant, collateral.Dec(), p.st.totalCollateralShare.Dec())
	}

	fractions := p.st.accrue.FeesEarnedFraction.Clone()
	for _, b := range p.st.balances {
		fractions.Add(fractions, b)
	}
	if !fractions.Eq(&p.st.totalAsset.Base) {
		return fmt.Errorf("%w: fractions %s != asset base %s", ErrInvariant, fractions.Dec(), p.st.totalAsset.Base.Dec())
	}

	if p.initialized {
		rate, m := p.st.accrue.InterestPerSecond, p.cfg.Interest
		if rate < m.MinimumRate || rate > m.MaximumRate {
			return fmt.Errorf("%w: rate %d outside [%d, %d]", ErrInvariant, rate, m.MinimumRate, m.MaximumRate)
		}
		return p.checkCustody()
	}
	return nil
}

func (p *Pair) checkCustody() error {
	needAsset := &p.st.totalAsset.Elastic
	needCollateral := &p.st.totalCollateralShare
	if held := p.vault().BalanceOf(p.cfg.Asset, p.address); held.Lt(needAsset) {
		return fmt.Errorf("%w: asset held %s < accounted %s", ErrInvariant, held.Dec(), needAsset.Dec())
	}
	if held := p.vault().BalanceOf(p.cfg.Collateral, p.address); held.Lt(needCollateral) {
		return fmt.Errorf("%w: collateral held %s < accounted %s", ErrInvariant, held.Dec(), needCollateral.Dec())
	}
	return nil
}
