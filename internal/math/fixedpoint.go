// internal/math/fixedpoint.go
package math

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("math: overflow")
	ErrUnderflow      = errors.New("math: underflow")
	ErrDivisionByZero = errors.New("math: division by zero")
)

// Precisions used across the lending pair. All values are unsigned
// integers scaled by the named factor.
var (
	E5  = uint256.NewInt(1e5)
	E18 = uint256.NewInt(1e18)

	// MaxUint128 bounds every stored total.
	MaxUint128 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
)

// U is shorthand for uint256.NewInt.
func U(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Add returns x + y or ErrOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns x - y or ErrUnderflow.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

// Mul returns x * y or ErrOverflow.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulDiv computes x * y / d with a 512-bit intermediate product.
func MulDiv(x, y, d *uint256.Int, mode RoundingMode) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	if mode == RoundUp {
		// x*y mod d != 0 means the quotient was truncated.
		rem := new(uint256.Int).MulMod(x, y, d)
		if !rem.IsZero() {
			if z.Eq(maxUint256) {
				return nil, ErrOverflow
			}
			z.AddUint64(z, 1)
		}
	}
	return z, nil
}

// MustMulDiv is MulDiv for operands whose bounds are already established;
// it saturates to zero on a zero divisor.
func MustMulDiv(x, y, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		return new(uint256.Int)
	}
	z, _ := new(uint256.Int).MulDivOverflow(x, y, d)
	return z
}

// Min returns the smaller of x and y.
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return new(uint256.Int).Set(x)
	}
	return new(uint256.Int).Set(y)
}

// Fits128 reports whether v fits in 128 bits.
func Fits128(v *uint256.Int) bool {
	return !v.Gt(MaxUint128)
}

var maxUint256 = new(uint256.Int).SetAllOne()
