package pair

import (
	"fmt"

	fpmath "PairLedger/internal/math"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// RebaseSnapshot is a Rebase in decimal form.
type RebaseSnapshot struct {
	Elastic string `json:"elastic"`
	Base    string `json:"base"`
}

type PositionSnapshot struct {
	User            types.Address `json:"user"`
	BorrowPart      string        `json:"borrow_part"`
	CollateralShare string        `json:"collateral_share"`
}

type BalanceSnapshot struct {
	User     types.Address `json:"user"`
	Fraction string        `json:"fraction"`
}

// Snapshot is the serialisable dynamic state of a pair. Configuration is
// not included; it is rebuilt from the markets file.
type Snapshot struct {
	Address              types.Address      `json:"address"`
	Initialized          bool               `json:"initialized"`
	InterestPerSecond    uint64             `json:"interest_per_second"`
	LastAccrued          uint64             `json:"last_accrued"`
	FeesEarnedFraction   string             `json:"fees_earned_fraction"`
	TotalAsset           RebaseSnapshot     `json:"total_asset"`
	TotalBorrow          RebaseSnapshot     `json:"total_borrow"`
	TotalCollateralShare string             `json:"total_collateral_share"`
	ExchangeRate         string             `json:"exchange_rate"`
	Positions            []PositionSnapshot `json:"positions"`
	Balances             []BalanceSnapshot  `json:"balances"`
}

func exportRebase(r fpmath.Rebase) RebaseSnapshot {
	return RebaseSnapshot{Elastic: r.Elastic.Dec(), Base: r.Base.Dec()}
}

func (p *Pair) Export() Snapshot {
	s := Snapshot{
		Address:              p.address,
		Initialized:          p.initialized,
		InterestPerSecond:    p.st.accrue.InterestPerSecond,
		LastAccrued:          p.st.accrue.LastAccrued,
		FeesEarnedFraction:   p.st.accrue.FeesEarnedFraction.Dec(),
		TotalAsset:           exportRebase(p.st.totalAsset),
		TotalBorrow:          exportRebase(p.st.totalBorrow),
		TotalCollateralShare: p.st.totalCollateralShare.Dec(),
		ExchangeRate:         p.st.exchangeRate.Dec(),
	}
	for _, u := range p.Users() {
		pos := p.st.positions[u]
		s.Positions = append(s.Positions, PositionSnapshot{User: u, BorrowPart: pos.BorrowPart.Dec(), CollateralShare: pos.CollateralShare.Dec()})
	}
	for _, u := range p.Lenders() {
		s.Balances = append(s.Balances, BalanceSnapshot{User: u, Fraction: p.st.balances[u].Dec()})
	}
	return s
}

func parseDec(field, v string) (*uint256.Int, error) {
	if v == "" {
		return new(uint256.Int), nil
	}
	n, err := uint256.FromDecimal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return n, nil
}

func restoreRebase(field string, r RebaseSnapshot) (fpmath.Rebase, error) {
	var out fpmath.Rebase
	e, err := parseDec(field+".elastic", r.Elastic)
	if err != nil {
		return out, err
	}
	b, err := parseDec(field+".base", r.Base)
	if err != nil {
		return out, err
	}
	out.Elastic.Set(e)
	out.Base.Set(b)
	return out, nil
}

// Restore replaces the pair's dynamic state with s. The pair must already
// be configured with Init when s.Initialized is set.
func (p *Pair) Restore(s Snapshot) error {
	if s.Address != p.address {
		return fmt.Errorf("restore pair %s: snapshot is for %s", p.address, s.Address)
	}
	if s.Initialized != p.initialized {
		return fmt.Errorf("restore pair %s: initialized mismatch", p.address)
	}
	st := newState()
	st.accrue.InterestPerSecond = s.InterestPerSecond
	st.accrue.LastAccrued = s.LastAccrued

	fees, err := parseDec("fees_earned_fraction", s.FeesEarnedFraction)
	if err != nil {
		return err
	}
	st.accrue.FeesEarnedFraction.Set(fees)
	if st.totalAsset, err = restoreRebase("total_asset", s.TotalAsset); err != nil {
		return err
	}
	if st.totalBorrow, err = restoreRebase("total_borrow", s.TotalBorrow); err != nil {
		return err
	}
	tcs, err := parseDec("total_collateral_share", s.TotalCollateralShare)
	if err != nil {
		return err
	}
	st.totalCollateralShare.Set(tcs)
	rate, err := parseDec("exchange_rate", s.ExchangeRate)
	if err != nil {
		return err
	}
	st.exchangeRate.Set(rate)

	for _, ps := range s.Positions {
		part, err := parseDec("borrow_part", ps.BorrowPart)
		if err != nil {
			return err
		}
		share, err := parseDec("collateral_share", ps.CollateralShare)
		if err != nil {
			return err
		}
		pos := st.position(ps.User)
		pos.BorrowPart.Set(part)
		pos.CollateralShare.Set(share)
	}
	for _, bs := range s.Balances {
		f, err := parseDec("fraction", bs.Fraction)
		if err != nil {
			return err
		}
		st.setBalance(bs.User, f)
	}
	p.st = st
	return nil
}

// CanonicalBytes for deterministic hashing
func (p *Pair) CanonicalBytes() []byte {
	st := p.st
	buf := make([]byte, 0, 256+84*len(st.positions)+52*len(st.balances))
	buf = append(buf, p.address[:]...)
	buf = appendUint64LE(buf, st.accrue.InterestPerSecond)
	buf = appendUint64LE(buf, st.accrue.LastAccrued)
	buf = appendWord(buf, &st.accrue.FeesEarnedFraction)
	buf = appendWord(buf, &st.totalAsset.Elastic)
	buf = appendWord(buf, &st.totalAsset.Base)
	buf = appendWord(buf, &st.totalBorrow.Elastic)
	buf = appendWord(buf, &st.totalBorrow.Base)
	buf = appendWord(buf, &st.totalCollateralShare)
	buf = appendWord(buf, &st.exchangeRate)

	for _, u := range sortedAddresses(st.positions) {
		buf = append(buf, st.positions[u].CanonicalBytes(u)...)
	}
	for _, u := range sortedAddresses(st.balances) {
		buf = append(buf, u[:]...)
		buf = appendWord(buf, st.balances[u])
	}
	return buf
}
