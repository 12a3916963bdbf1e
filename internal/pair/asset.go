package pair

import (
	"PairLedger/internal/event"
	fpmath "PairLedger/internal/math"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// AddAsset supplies share of the asset and mints lender fractions to `to`.
// A first deposit too small to reach the minimum base is ignored and
// returns zero.
func (p *Pair) AddAsset(caller, to types.Address, skim bool, share *uint256.Int) (fraction *uint256.Int, err error) {
	if err := p.requireInit(); err != nil {
		return nil, err
	}
	err = p.atomic("add_asset", func() error {
		if err := p.accrue(); err != nil {
			return err
		}
		fraction, err = p.addAsset(caller, to, skim, share)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fraction, nil
}

// allShare is the asset held plus the asset lent out, in vault shares.
func (p *Pair) allShare() *uint256.Int {
	lent := p.vault().ToShare(p.cfg.Asset, &p.st.totalBorrow.Elastic, true)
	return new(uint256.Int).Add(&p.st.totalAsset.Elastic, lent)
}

func (p *Pair) addAsset(caller, to types.Address, skim bool, share *uint256.Int) (*uint256.Int, error) {
	total := p.st.totalAsset
	totalShare := total.Elastic.Clone()
	all := p.allShare()

	fraction := share.Clone()
	if !all.IsZero() {
		fraction = fpmath.MustMulDiv(share, &total.Base, all)
	}
	if new(uint256.Int).Add(&total.Base, fraction).Lt(minimumAssetBase) {
		return new(uint256.Int), nil
	}
	if err := p.st.totalAsset.AddBoth(share, fraction); err != nil {
		return nil, arith(err)
	}
	bal, err := fpmath.Add(p.st.balance(to), fraction)
	if err != nil {
		return nil, arith(err)
	}
	p.st.setBalance(to, bal)
	if err := p.addTokens(caller, p.cfg.Asset, share, totalShare, skim); err != nil {
		return nil, err
	}
	p.emit(&event.AddAsset{Pair: p.address, From: p.funder(caller, skim), To: to, Share: share.Clone(), Fraction: fraction.Clone()})
	return fraction, nil
}

// RemoveAsset burns the caller's fractions and sends the matching asset
// share to `to`.
func (p *Pair) RemoveAsset(caller, to types.Address, fraction *uint256.Int) (share *uint256.Int, err error) {
	if err := p.requireInit(); err != nil {
		return nil, err
	}
	err = p.atomic("remove_asset", func() error {
		if err := p.accrue(); err != nil {
			return err
		}
		share, err = p.removeAsset(caller, to, fraction)
		return err
	})
	if err != nil {
		return nil, err
	}
	return share, nil
}

func (p *Pair) removeAsset(caller, to types.Address, fraction *uint256.Int) (*uint256.Int, error) {
	if p.st.totalAsset.Base.IsZero() {
		return nil, ErrUnderflow
	}
	share := fpmath.MustMulDiv(fraction, p.allShare(), &p.st.totalAsset.Base)
	bal, err := fpmath.Sub(p.st.balance(caller), fraction)
	if err != nil {
		return nil, arith(err)
	}
	total := p.st.totalAsset
	if err := total.SubElastic(share); err != nil {
		return nil, wrap(ErrInsufficientAsset, err)
	}
	if err := total.SubBoth(new(uint256.Int), fraction); err != nil {
		return nil, arith(err)
	}
	if total.Base.Lt(minimumAssetBase) {
		return nil, ErrBelowMinimum
	}
	p.st.totalAsset = total
	p.st.setBalance(caller, bal)
	p.emit(&event.RemoveAsset{Pair: p.address, From: caller, To: to, Share: share.Clone(), Fraction: fraction.Clone()})
	return share, vaultErr(p.vault().Transfer(p.address, p.cfg.Asset, p.address, to, share))
}

// TotalSupply is the number of lender fractions outstanding.
func (p *Pair) TotalSupply() *uint256.Int { return p.st.totalAsset.Base.Clone() }

// Transfer moves lender fractions from caller to `to`. Supply and the
// asset backing it are unchanged.
func (p *Pair) Transfer(caller, to types.Address, fraction *uint256.Int) error {
	if err := p.requireInit(); err != nil {
		return err
	}
	if to == types.ZeroAddress {
		return ErrZeroAddress
	}
	return p.atomic("transfer", func() error {
		from, err := fpmath.Sub(p.st.balance(caller), fraction)
		if err != nil {
			return arith(err)
		}
		p.st.setBalance(caller, from)
		dest, err := fpmath.Add(p.st.balance(to), fraction)
		if err != nil {
			return arith(err)
		}
		p.st.setBalance(to, dest)
		p.emit(&event.Transfer{Pair: p.address, From: caller, To: to, Fraction: fraction.Clone()})
		return nil
	})
}
