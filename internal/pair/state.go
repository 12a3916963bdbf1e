package pair

import (
	"encoding/binary"
	"sort"

	fpmath "PairLedger/internal/math"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// AccrueInfo is the interest controller state.
type AccrueInfo struct {
	InterestPerSecond  uint64
	LastAccrued        uint64
	FeesEarnedFraction uint256.Int
}

// Position is one borrower's account in a pair.
type Position struct {
	BorrowPart      uint256.Int
	CollateralShare uint256.Int
}

// CanonicalBytes for deterministic hashing
func (p *Position) CanonicalBytes(user types.Address) []byte {
	buf := make([]byte, 0, 20+64)
	buf = append(buf, user[:]...)
	buf = appendWord(buf, &p.BorrowPart)
	buf = appendWord(buf, &p.CollateralShare)
	return buf
}

// state is everything a transaction may roll back.
type state struct {
	accrue               AccrueInfo
	totalAsset           fpmath.Rebase // elastic = asset shares held, base = lender fractions
	totalBorrow          fpmath.Rebase // elastic = asset amount owed, base = debt parts
	totalCollateralShare uint256.Int
	exchangeRate         uint256.Int

	positions map[types.Address]*Position
	balances  map[types.Address]*uint256.Int // lender fractions
}

func newState() *state {
	return &state{
		positions: make(map[types.Address]*Position),
		balances:  make(map[types.Address]*uint256.Int),
	}
}

func (s *state) clone() *state {
	c := &state{
		accrue:               s.accrue,
		totalAsset:           s.totalAsset,
		totalBorrow:          s.totalBorrow,
		totalCollateralShare: s.totalCollateralShare,
		exchangeRate:         s.exchangeRate,
		positions:            make(map[types.Address]*Position, len(s.positions)),
		balances:             make(map[types.Address]*uint256.Int, len(s.balances)),
	}
	for u, p := range s.positions {
		cp := *p
		c.positions[u] = &cp
	}
	for u, b := range s.balances {
		c.balances[u] = b.Clone()
	}
	return c
}

// position returns the user's position, creating it on first touch.
func (s *state) position(user types.Address) *Position {
	p, ok := s.positions[user]
	if !ok {
		p = &Position{}
		s.positions[user] = p
	}
	return p
}

func (s *state) balance(user types.Address) *uint256.Int {
	if b, ok := s.balances[user]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func (s *state) setBalance(user types.Address, v *uint256.Int) {
	if v.IsZero() {
		delete(s.balances, user)
		return
	}
	s.balances[user] = v.Clone()
}

func sortedAddresses[V any](m map[types.Address]V) []types.Address {
	out := make([]types.Address, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out
}

func appendWord(buf []byte, v *uint256.Int) []byte {
	w := v.Bytes32()
	return append(buf, w[:]...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}
