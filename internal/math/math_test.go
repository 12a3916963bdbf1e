package math_test

import (
	"testing"

	fpmath "PairLedger/internal/math"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===========================================================================
// Checked arithmetic
// ===========================================================================

func TestSub_Underflow(t *testing.T) {
	_, err := fpmath.Sub(fpmath.U(1), fpmath.U(2))
	require.ErrorIs(t, err, fpmath.ErrUnderflow)

	z, err := fpmath.Sub(fpmath.U(5), fpmath.U(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), z.Uint64())
}

func TestAdd_Overflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := fpmath.Add(max, fpmath.U(1))
	require.ErrorIs(t, err, fpmath.ErrOverflow)
}

func TestMulDiv_Rounding(t *testing.T) {
	down, err := fpmath.MulDiv(fpmath.U(10), fpmath.U(10), fpmath.U(3), fpmath.RoundDown)
	require.NoError(t, err)
	assert.Equal(t, uint64(33), down.Uint64())

	up, err := fpmath.MulDiv(fpmath.U(10), fpmath.U(10), fpmath.U(3), fpmath.RoundUp)
	require.NoError(t, err)
	assert.Equal(t, uint64(34), up.Uint64())

	exact, err := fpmath.MulDiv(fpmath.U(10), fpmath.U(9), fpmath.U(3), fpmath.RoundUp)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), exact.Uint64())

	_, err = fpmath.MulDiv(fpmath.U(1), fpmath.U(1), fpmath.U(0), fpmath.RoundDown)
	require.ErrorIs(t, err, fpmath.ErrDivisionByZero)
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// 2^200 * 2^100 / 2^150 overflows 256 bits in the product only.
	x := new(uint256.Int).Lsh(fpmath.U(1), 200)
	y := new(uint256.Int).Lsh(fpmath.U(1), 100)
	d := new(uint256.Int).Lsh(fpmath.U(1), 150)
	z, err := fpmath.MulDiv(x, y, d, fpmath.RoundDown)
	require.NoError(t, err)
	assert.True(t, z.Eq(new(uint256.Int).Lsh(fpmath.U(1), 150)))
}

// ===========================================================================
// Rebase
// ===========================================================================

func TestRebase_EmptyTotalIsOneToOne(t *testing.T) {
	var r fpmath.Rebase
	assert.Equal(t, uint64(77), r.ToBase(fpmath.U(77), false).Uint64())
	assert.Equal(t, uint64(77), r.ToElastic(fpmath.U(77), true).Uint64())
}

func TestRebase_RoundingDirection(t *testing.T) {
	r := fpmath.Rebase{}
	r.Elastic.SetUint64(1000)
	r.Base.SetUint64(3)

	assert.Equal(t, uint64(333), r.ToElastic(fpmath.U(1), false).Uint64())
	assert.Equal(t, uint64(334), r.ToElastic(fpmath.U(1), true).Uint64())
	assert.Equal(t, uint64(0), r.ToBase(fpmath.U(100), false).Uint64())
	assert.Equal(t, uint64(1), r.ToBase(fpmath.U(100), true).Uint64())
}

func TestRebase_AddSubRoundTrip(t *testing.T) {
	r := fpmath.Rebase{}
	r.Elastic.SetUint64(1_000_000)
	r.Base.SetUint64(900_000)

	base, err := r.Add(fpmath.U(5_000), true)
	require.NoError(t, err)
	elastic, err := r.Sub(base, true)
	require.NoError(t, err)

	// Rounding up on both legs never returns less than was added.
	assert.True(t, elastic.Cmp(fpmath.U(5_000)) >= 0)
	assert.Equal(t, uint64(900_000), r.Base.Uint64())
}

func TestRebase_SubUnderflowLeavesTotalUntouched(t *testing.T) {
	r := fpmath.Rebase{}
	r.Elastic.SetUint64(10)
	r.Base.SetUint64(10)

	_, err := r.Sub(fpmath.U(11), false)
	require.ErrorIs(t, err, fpmath.ErrUnderflow)
	assert.Equal(t, uint64(10), r.Elastic.Uint64())
	assert.Equal(t, uint64(10), r.Base.Uint64())
}

func TestRebase_AddBothRejects128BitOverflow(t *testing.T) {
	r := fpmath.Rebase{}
	r.Elastic.Set(fpmath.MaxUint128)
	err := r.AddBoth(fpmath.U(1), fpmath.U(1))
	require.ErrorIs(t, err, fpmath.ErrOverflow)
	assert.True(t, r.Base.IsZero())
}
