package pair

import (
	"PairLedger/internal/event"
	fpmath "PairLedger/internal/math"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// IsSolvent reports whether user's collateral, valued at rate and haircut
// by the collaterization rate, covers their debt. open selects the looser
// rate used to decide liquidations.
func (p *Pair) IsSolvent(user types.Address, open bool, rate *uint256.Int) bool {
	pos, ok := p.st.positions[user]
	if !ok || pos.BorrowPart.IsZero() {
		return true
	}
	if pos.CollateralShare.IsZero() {
		return false
	}

	c := uint64(ClosedCollaterizationRate)
	if open {
		c = OpenCollaterizationRate
	}
	scaled, err := fpmath.Mul(&pos.CollateralShare, collateralScale)
	if err == nil {
		scaled, err = fpmath.Mul(scaled, uint256.NewInt(c))
	}
	if err != nil {
		return false
	}
	collateral := p.vault().ToAmount(p.cfg.Collateral, scaled, false)

	tb := p.st.totalBorrow
	debt, err := fpmath.Mul(&pos.BorrowPart, &tb.Elastic)
	if err == nil {
		debt, err = fpmath.MulDiv(debt, rate, &tb.Base, fpmath.RoundDown)
	}
	if err != nil {
		return false
	}
	return !collateral.Lt(debt)
}

// requireSolvent checks user against the cached rate with the closed
// collaterization rate.
func (p *Pair) requireSolvent(user types.Address) error {
	if !p.IsSolvent(user, false, &p.st.exchangeRate) {
		return ErrInsolvent
	}
	return nil
}

// UpdateExchangeRate reads the oracle. On failure the cached rate is kept
// and returned with updated=false.
func (p *Pair) UpdateExchangeRate() (updated bool, rate *uint256.Int, err error) {
	if err := p.requireInit(); err != nil {
		return false, nil, err
	}
	err = p.atomic("update_exchange_rate", func() error {
		updated, rate = p.updateExchangeRate()
		return nil
	})
	return updated, rate, err
}

func (p *Pair) updateExchangeRate() (bool, *uint256.Int) {
	ok, rate := p.cfg.Oracle.Get(p.cfg.OracleData)
	if !ok || rate == nil {
		p.log.Warn().Str("oracle", p.cfg.Oracle.Name(p.cfg.OracleData)).Msg("oracle read failed, keeping cached rate")
		return false, p.st.exchangeRate.Clone()
	}
	p.st.exchangeRate.Set(rate)
	p.emit(&event.ExchangeRate{Pair: p.address, Rate: rate.Clone()})
	return true, rate.Clone()
}

// PeekExchangeRate reads the oracle without touching the cache.
func (p *Pair) PeekExchangeRate() (bool, *uint256.Int) {
	if !p.initialized {
		return false, new(uint256.Int)
	}
	return p.cfg.Oracle.Peek(p.cfg.OracleData)
}
