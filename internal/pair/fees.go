package pair

import (
	"PairLedger/internal/event"
	fpmath "PairLedger/internal/math"

	"github.com/holiman/uint256"
)

// WithdrawFees accrues and moves the pending protocol fee fractions to
// the master's fee recipient. With no recipient set they are credited to
// the zero address.
func (p *Pair) WithdrawFees() error {
	if err := p.requireInit(); err != nil {
		return err
	}
	return p.atomic("withdraw_fees", func() error {
		if err := p.accrue(); err != nil {
			return err
		}
		feeTo := p.master.FeeTo()
		fees := p.st.accrue.FeesEarnedFraction.Clone()
		bal, err := fpmath.Add(p.st.balance(feeTo), fees)
		if err != nil {
			return arith(err)
		}
		p.st.setBalance(feeTo, bal)
		p.st.accrue.FeesEarnedFraction.Clear()
		p.emit(&event.WithdrawFees{Pair: p.address, FeeTo: feeTo, FeesEarnedFraction: fees})
		return nil
	})
}

// PendingFees returns the protocol fee fractions not yet withdrawn.
func (p *Pair) PendingFees() *uint256.Int { return p.st.accrue.FeesEarnedFraction.Clone() }
