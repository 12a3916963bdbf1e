package types

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Amount is a 256-bit unsigned integer carried as a decimal string on the
// wire. The zero value is 0.
type Amount struct {
	v uint256.Int
}

func NewAmount(v *uint256.Int) Amount {
	var a Amount
	if v != nil {
		a.v.Set(v)
	}
	return a
}

// AmountFromUint64 is a convenience for literals.
func AmountFromUint64(v uint64) Amount {
	var a Amount
	a.v.SetUint64(v)
	return a
}

// Value returns a copy.
func (a Amount) Value() *uint256.Int { return a.v.Clone() }

func (a Amount) String() string { return a.v.Dec() }

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.v.Dec()), nil
}

func (a *Amount) UnmarshalText(input []byte) error {
	if len(input) == 0 {
		a.v.Clear()
		return nil
	}
	if err := a.v.SetFromDecimal(string(input)); err != nil {
		return fmt.Errorf("types: bad amount %q: %w", input, err)
	}
	return nil
}
