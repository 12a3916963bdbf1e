package pair

import (
	"PairLedger/internal/event"
	fpmath "PairLedger/internal/math"

	"github.com/holiman/uint256"
)

// Accrue charges interest for the time since the last accrual and steps
// the rate controller. Calling it twice in the same second is a no-op.
func (p *Pair) Accrue() error {
	if err := p.requireInit(); err != nil {
		return err
	}
	return p.atomic("accrue", p.accrue)
}

func (p *Pair) accrue() error {
	info := &p.st.accrue
	now := p.now()
	if now <= info.LastAccrued {
		return nil
	}
	elapsed := now - info.LastAccrued
	info.LastAccrued = now

	if p.st.totalBorrow.Base.IsZero() {
		p.resetRate()
		return nil
	}

	extra, err := fpmath.Mul(&p.st.totalBorrow.Elastic, uint256.NewInt(info.InterestPerSecond))
	if err == nil {
		extra, err = fpmath.Mul(extra, uint256.NewInt(elapsed))
	}
	if err != nil {
		return arith(err)
	}
	extra.Div(extra, fpmath.E18)
	if err := p.st.totalBorrow.AddElastic(extra); err != nil {
		return arith(err)
	}

	full := p.fullAssetAmount()
	if full.IsZero() {
		p.resetRate()
		return nil
	}

	fee := fpmath.MustMulDiv(extra, uint256.NewInt(ProtocolFee), uint256.NewInt(ProtocolFeeDivisor))
	feeFraction := fpmath.MustMulDiv(fee, &p.st.totalAsset.Base, full)
	fees, err := fpmath.Add(&info.FeesEarnedFraction, feeFraction)
	if err != nil || !fpmath.Fits128(fees) {
		return wrap(ErrOverflow, err)
	}
	if err := p.st.totalAsset.AddBase(feeFraction); err != nil {
		return arith(err)
	}
	info.FeesEarnedFraction.Set(fees)

	utilization := fpmath.MustMulDiv(&p.st.totalBorrow.Elastic, fpmath.E18, full)
	rate, clamped := p.cfg.Interest.Adjust(info.InterestPerSecond, utilization, elapsed)
	info.InterestPerSecond = rate
	if clamped {
		if m := p.metrics(); m != nil {
			m.PairRateClamped.WithLabelValues(p.address.Hex()).Inc()
		}
	}

	p.emit(&event.Accrue{
		Pair:          p.address,
		AccruedAmount: extra,
		FeeFraction:   feeFraction,
		Rate:          rate,
		Utilization:   utilization,
		Clamped:       clamped,
	})
	return nil
}

// resetRate puts an idle pair back on the starting rate.
func (p *Pair) resetRate() {
	start := p.cfg.Interest.StartingRate
	if p.st.accrue.InterestPerSecond == start {
		return
	}
	p.st.accrue.InterestPerSecond = start
	p.emit(&event.Accrue{
		Pair:          p.address,
		AccruedAmount: new(uint256.Int),
		FeeFraction:   new(uint256.Int),
		Rate:          start,
		Utilization:   new(uint256.Int),
	})
}

// fullAssetAmount is the asset held by the pair plus the asset lent out.
func (p *Pair) fullAssetAmount() *uint256.Int {
	held := p.vault().ToAmount(p.cfg.Asset, &p.st.totalAsset.Elastic, false)
	return new(uint256.Int).Add(held, &p.st.totalBorrow.Elastic)
}

// utilization is borrowed/full on a 1e18 scale, or nil for an empty pair.
func (p *Pair) utilization() *uint256.Int {
	full := p.fullAssetAmount()
	if full.IsZero() {
		return nil
	}
	return fpmath.MustMulDiv(&p.st.totalBorrow.Elastic, fpmath.E18, full)
}
