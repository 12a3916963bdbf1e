package pair_test

import (
	"testing"

	"PairLedger/internal/event"
	"PairLedger/internal/pair"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var maxPart = e18(1_000_000)

func TestLiquidate_AllSolvent(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	f.withPool(t)

	err := f.pair.Liquidate(liquidator, []types.Address{borrower}, []*uint256.Int{maxPart}, liquidator, poolAddr, false)
	assert.ErrorIs(t, err, pair.ErrAllSolvent)
}

func TestLiquidate_InvalidSwapper(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	f.oracle.Set(rate(11, 27))

	err := f.pair.Liquidate(liquidator, []types.Address{borrower}, []*uint256.Int{maxPart}, liquidator, types.DeriveAddress("rogue"), false)
	assert.ErrorIs(t, err, pair.ErrInvalidSwapper)
	assert.Equal(t, pair.KindAuthorization, pair.KindOf(err))
	assert.Equal(t, rate(1, 28), f.pair.ExchangeRate(), "failed liquidation must not keep the refreshed rate")
}

func TestLiquidate_LengthMismatch(t *testing.T) {
	f := newFixture(t)
	err := f.pair.Liquidate(liquidator, []types.Address{borrower}, nil, liquidator, types.Address{}, true)
	assert.ErrorIs(t, err, pair.ErrLengthMismatch)
}

func TestLiquidate_Closed(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	f.withPool(t)
	require.NoError(t, f.master.SetFeeTo(owner, feeTo))
	f.oracle.Set(rate(11, 27))
	assetBefore, _ := f.pair.TotalAsset()

	// A solvent bystander in the batch is skipped.
	users := []types.Address{lender, borrower}
	parts := []*uint256.Int{maxPart, maxPart}
	require.NoError(t, f.pair.Liquidate(liquidator, users, parts, liquidator, poolAddr, false))

	assert.True(t, f.pair.Position(borrower).BorrowPart.IsZero())
	elastic, base := f.pair.TotalBorrow()
	assert.True(t, elastic.IsZero())
	assert.True(t, base.IsZero())

	// 7499999999 * 1.12 * 1.1e10 collateral units were seized.
	pos := f.pair.Position(borrower)
	seized := new(uint256.Int).Sub(e18(100), &pos.CollateralShare)
	assert.Equal(t, "92399999987680000000", seized.Dec())

	assetAfter, _ := f.pair.TotalAsset()
	assert.True(t, assetAfter.Gt(new(uint256.Int).Add(assetBefore, u(7499999999))), "lenders keep the surplus")
	assert.False(t, f.vault.BalanceOf(asset, feeTo).IsZero())

	liqs := f.events.OfType(event.EventTypeLiquidation)
	require.Len(t, liqs, 1)
	l := liqs[0].(*event.Liquidation)
	assert.Equal(t, borrower, l.User)
	assert.False(t, l.Open)
	assert.Len(t, f.events.OfType(event.EventTypeExchangeRate), 1)
	require.NoError(t, f.pair.CheckInvariants())
}

func TestLiquidate_ClosedWithoutFeeTo(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	f.withPool(t)
	f.oracle.Set(rate(11, 27))

	require.NoError(t, f.pair.Liquidate(liquidator, []types.Address{borrower}, []*uint256.Int{maxPart}, liquidator, poolAddr, false))
	require.NoError(t, f.pair.CheckInvariants())
}

func TestLiquidate_OpenWithoutSwapper(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	f.fund(t, asset, liquidator, u(1e10))
	f.oracle.Set(rate(11, 27))

	half := u(3749999999)
	require.NoError(t, f.pair.Liquidate(liquidator, []types.Address{borrower}, []*uint256.Int{half}, liquidator, types.Address{}, true))

	assert.Equal(t, uint64(3750000000), f.pair.Position(borrower).BorrowPart.Uint64())
	// 3749999999 * 1.12 * 1.1e10
	assert.Equal(t, "46199999987680000000", f.vault.BalanceOf(collateral, liquidator).Dec())
	assert.Equal(t, uint64(1e10-3749999999), f.vault.BalanceOf(asset, liquidator).Uint64())

	liqs := f.events.OfType(event.EventTypeLiquidation)
	require.Len(t, liqs, 1)
	assert.True(t, liqs[0].(*event.Liquidation).Open)
	require.NoError(t, f.pair.CheckInvariants())
}

func TestLiquidate_OpenUsesLooserRate(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	f.fund(t, asset, liquidator, u(1e10))

	// Between the open (77%) and closed (75%) thresholds a position cannot
	// borrow more but is not yet liquidatable.
	f.oracle.Set(rate(101, 26))
	err := f.pair.Liquidate(liquidator, []types.Address{borrower}, []*uint256.Int{maxPart}, liquidator, types.Address{}, true)
	assert.ErrorIs(t, err, pair.ErrAllSolvent)
	assert.False(t, f.pair.IsSolvent(borrower, false, rate(101, 26)))
	assert.True(t, f.pair.IsSolvent(borrower, true, rate(101, 26)))
}

func TestLiquidate_OpenNeedsLiquidatorFunds(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	f.oracle.Set(rate(11, 27))
	before, _ := f.state()

	err := f.pair.Liquidate(liquidator, []types.Address{borrower}, []*uint256.Int{maxPart}, liquidator, types.Address{}, true)
	assert.ErrorIs(t, err, pair.ErrUnderflow)
	after, _ := f.state()
	assert.Equal(t, before, after)
}
