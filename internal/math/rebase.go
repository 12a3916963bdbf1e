package math

import "github.com/holiman/uint256"

// Rebase tracks an elastic amount against a base count of units
// (vault shares, debt parts, lender fractions). Values fit in 128 bits.
type Rebase struct {
	Elastic uint256.Int
	Base    uint256.Int
}

// ToBase converts an elastic amount into base units.
func (r Rebase) ToBase(elastic *uint256.Int, roundUp bool) *uint256.Int {
	if r.Elastic.IsZero() {
		return new(uint256.Int).Set(elastic)
	}
	base := MustMulDiv(elastic, &r.Base, &r.Elastic)
	if roundUp && !r.Base.IsZero() && MustMulDiv(base, &r.Elastic, &r.Base).Lt(elastic) {
		base.AddUint64(base, 1)
	}
	return base
}

// ToElastic converts base units into an elastic amount.
func (r Rebase) ToElastic(base *uint256.Int, roundUp bool) *uint256.Int {
	if r.Base.IsZero() {
		return new(uint256.Int).Set(base)
	}
	elastic := MustMulDiv(base, &r.Elastic, &r.Base)
	if roundUp && !r.Elastic.IsZero() && MustMulDiv(elastic, &r.Base, &r.Elastic).Lt(base) {
		elastic.AddUint64(elastic, 1)
	}
	return elastic
}

// Add grows the total by an elastic amount and returns the base units minted.
func (r *Rebase) Add(elastic *uint256.Int, roundUp bool) (*uint256.Int, error) {
	base := r.ToBase(elastic, roundUp)
	if err := r.AddBoth(elastic, base); err != nil {
		return nil, err
	}
	return base, nil
}

// Sub shrinks the total by base units and returns the elastic amount released.
func (r *Rebase) Sub(base *uint256.Int, roundUp bool) (*uint256.Int, error) {
	elastic := r.ToElastic(base, roundUp)
	if err := r.SubBoth(elastic, base); err != nil {
		return nil, err
	}
	return elastic, nil
}

// AddBoth adds to both sides; the receiver is untouched on error.
func (r *Rebase) AddBoth(elastic, base *uint256.Int) error {
	e, err := Add(&r.Elastic, elastic)
	if err != nil {
		return err
	}
	b, err := Add(&r.Base, base)
	if err != nil {
		return err
	}
	if !Fits128(e) || !Fits128(b) {
		return ErrOverflow
	}
	r.Elastic.Set(e)
	r.Base.Set(b)
	return nil
}

// SubBoth subtracts from both sides; the receiver is untouched on error.
func (r *Rebase) SubBoth(elastic, base *uint256.Int) error {
	e, err := Sub(&r.Elastic, elastic)
	if err != nil {
		return err
	}
	b, err := Sub(&r.Base, base)
	if err != nil {
		return err
	}
	r.Elastic.Set(e)
	r.Base.Set(b)
	return nil
}

// AddElastic grows only the elastic side, as interest accrual does.
func (r *Rebase) AddElastic(elastic *uint256.Int) error {
	e, err := Add(&r.Elastic, elastic)
	if err != nil {
		return err
	}
	if !Fits128(e) {
		return ErrOverflow
	}
	r.Elastic.Set(e)
	return nil
}

// SubElastic shrinks only the elastic side.
func (r *Rebase) SubElastic(elastic *uint256.Int) error {
	e, err := Sub(&r.Elastic, elastic)
	if err != nil {
		return err
	}
	r.Elastic.Set(e)
	return nil
}

// AddBase grows only the base side.
func (r *Rebase) AddBase(base *uint256.Int) error {
	b, err := Add(&r.Base, base)
	if err != nil {
		return err
	}
	if !Fits128(b) {
		return ErrOverflow
	}
	r.Base.Set(b)
	return nil
}
