package pair_test

import (
	"testing"
	"time"

	"PairLedger/internal/event"
	"PairLedger/internal/pair"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===========================================================================
// Initialization
// ===========================================================================

func TestInit_Twice(t *testing.T) {
	f := newFixture(t)
	err := f.pair.Init(pair.Config{Collateral: collateral, Asset: asset, Oracle: f.oracle})
	assert.ErrorIs(t, err, pair.ErrAlreadyInitialized)
	assert.Equal(t, pair.KindInputValidation, pair.KindOf(err))
}

func TestInit_ZeroCollateral(t *testing.T) {
	f := newFixture(t)
	p := pair.New(types.DeriveAddress("pair-2"), f.master, pair.Env{Vault: f.vault})
	err := p.Init(pair.Config{Asset: asset, Oracle: f.oracle})
	assert.ErrorIs(t, err, pair.ErrBadPair)
	assert.False(t, p.Initialized())

	_, _, err = p.Borrow(borrower, borrower, u(1))
	assert.ErrorIs(t, err, pair.ErrNotInitialized)
}

func TestInit_SameTokenForAssetAndCollateral(t *testing.T) {
	f := newFixture(t)
	p := pair.New(types.DeriveAddress("pair-2"), f.master, pair.Env{Vault: f.vault})
	err := p.Init(pair.Config{Collateral: asset, Asset: asset, Oracle: f.oracle})
	assert.ErrorIs(t, err, pair.ErrBadPair)
	assert.Equal(t, pair.KindInputValidation, pair.KindOf(err))
	assert.False(t, p.Initialized())

	// Nothing can be skimmed out of a pair that never initialized.
	_, err = p.Repay(borrower, borrower, true, u(1))
	assert.ErrorIs(t, err, pair.ErrNotInitialized)
}

func TestTransfer_MovesFractions(t *testing.T) {
	f := newFixture(t)
	f.fund(t, asset, lender, u(290e8))
	_, err := f.pair.AddAsset(lender, lender, false, u(290e8))
	require.NoError(t, err)
	f.events.Reset()

	require.NoError(t, f.pair.Transfer(lender, liquidator, u(90e8)))
	assert.Equal(t, u(200e8), f.pair.BalanceOf(lender))
	assert.Equal(t, u(90e8), f.pair.BalanceOf(liquidator))
	assert.Equal(t, u(290e8), f.pair.TotalSupply())
	elastic, _ := f.pair.TotalAsset()
	assert.Equal(t, u(290e8), elastic)

	evs := f.events.OfType(event.EventTypeTransfer)
	require.Len(t, evs, 1)
	ev := evs[0].(*event.Transfer)
	assert.Equal(t, lender, ev.From)
	assert.Equal(t, liquidator, ev.To)
	assert.Equal(t, u(90e8), ev.Fraction)
	assert.ElementsMatch(t, []types.Address{lender, liquidator}, event.Accounts(ev))
	require.NoError(t, f.pair.CheckInvariants())
}

func TestTransfer_Rejected(t *testing.T) {
	f := newFixture(t)
	f.fund(t, asset, lender, u(290e8))
	_, err := f.pair.AddAsset(lender, lender, false, u(290e8))
	require.NoError(t, err)

	assert.ErrorIs(t, f.pair.Transfer(lender, types.ZeroAddress, u(1)), pair.ErrZeroAddress)
	assert.ErrorIs(t, f.pair.Transfer(lender, liquidator, u(290e8+1)), pair.ErrUnderflow)
	assert.ErrorIs(t, f.pair.Transfer(liquidator, lender, u(1)), pair.ErrUnderflow)
	assert.Equal(t, u(290e8), f.pair.BalanceOf(lender))
	assert.True(t, f.pair.BalanceOf(liquidator).IsZero())

	// Self transfer and zero amounts are allowed.
	require.NoError(t, f.pair.Transfer(lender, lender, u(290e8)))
	require.NoError(t, f.pair.Transfer(liquidator, lender, u(0)))
	assert.Equal(t, u(290e8), f.pair.BalanceOf(lender))
	require.NoError(t, f.pair.CheckInvariants())
}

// ===========================================================================
// Borrow / repay
// ===========================================================================

func TestBorrow_FeeAddedToPart(t *testing.T) {
	f := newFixture(t)
	f.fund(t, asset, lender, u(290e8))
	_, err := f.pair.AddAsset(lender, lender, false, u(290e8))
	require.NoError(t, err)
	f.fund(t, collateral, borrower, e18(100))
	require.NoError(t, f.pair.AddCollateral(borrower, borrower, false, e18(100)))
	f.events.Reset()

	part, share, err := f.pair.Borrow(borrower, borrower, u(7496251874))
	require.NoError(t, err)
	assert.Equal(t, uint64(7499999999), part.Uint64())
	assert.Equal(t, uint64(7496251874), share.Uint64())

	borrows := f.events.OfType(event.EventTypeBorrow)
	require.Len(t, borrows, 1)
	b := borrows[0].(*event.Borrow)
	assert.Equal(t, uint64(3748125), b.Fee.Uint64())
	assert.Equal(t, uint64(7499999999), b.Part.Uint64())

	assert.Equal(t, uint64(7496251874), f.vault.BalanceOf(asset, borrower).Uint64())
	elastic, base := f.pair.TotalBorrow()
	assert.Equal(t, uint64(7499999999), elastic.Uint64())
	assert.Equal(t, uint64(7499999999), base.Uint64())
	assert.True(t, f.pair.IsSolvent(borrower, false, f.pair.ExchangeRate()))
	require.NoError(t, f.pair.CheckInvariants())
}

func TestBorrow_InsolventRevertsEverything(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	beforePair, beforeVault := f.state()

	_, _, err := f.pair.Borrow(borrower, borrower, u(2))
	assert.ErrorIs(t, err, pair.ErrInsolvent)
	assert.Equal(t, pair.KindInsolvency, pair.KindOf(err))
	assert.False(t, pair.IsRetryable(err))

	afterPair, afterVault := f.state()
	assert.Equal(t, beforePair, afterPair)
	assert.Equal(t, beforeVault, afterVault)
	assert.Empty(t, f.events.Events())
}

func TestBorrow_ChecksCallerNotRecipient(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)

	// The recipient has collateral but the caller has none.
	f.fund(t, collateral, lender, e18(1_000))
	require.NoError(t, f.pair.AddCollateral(lender, lender, false, e18(1_000)))
	_, _, err := f.pair.Borrow(liquidator, lender, u(1_000))
	assert.ErrorIs(t, err, pair.ErrInsolvent)
}

func TestBorrow_MoreThanSupplied(t *testing.T) {
	f := newFixture(t)
	f.fund(t, asset, lender, u(10_000))
	_, err := f.pair.AddAsset(lender, lender, false, u(10_000))
	require.NoError(t, err)
	f.fund(t, collateral, borrower, e18(100))
	require.NoError(t, f.pair.AddCollateral(borrower, borrower, false, e18(100)))

	_, _, err = f.pair.Borrow(borrower, borrower, u(10_001))
	assert.ErrorIs(t, err, pair.ErrInsufficientAsset)
}

func TestBorrow_BelowMinimumAsset(t *testing.T) {
	f := newFixture(t)
	f.fund(t, collateral, borrower, e18(100))
	require.NoError(t, f.pair.AddCollateral(borrower, borrower, false, e18(100)))

	_, _, err := f.pair.Borrow(borrower, borrower, u(1))
	assert.ErrorIs(t, err, pair.ErrBelowMinimum)
}

func TestRepay_FullRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	// Cover the opening fee.
	f.fund(t, asset, borrower, u(3748125))

	part := f.pair.Position(borrower).BorrowPart
	amount, err := f.pair.Repay(borrower, borrower, false, &part)
	require.NoError(t, err)
	assert.Equal(t, uint64(7499999999), amount.Uint64())

	assert.True(t, f.pair.Position(borrower).BorrowPart.IsZero())
	elastic, base := f.pair.TotalBorrow()
	assert.True(t, elastic.IsZero())
	assert.True(t, base.IsZero())
	assert.True(t, f.vault.BalanceOf(asset, borrower).IsZero())

	assetElastic, _ := f.pair.TotalAsset()
	assert.Equal(t, uint64(290e8+3748125), assetElastic.Uint64())
	require.NoError(t, f.pair.CheckInvariants())
}

func TestRepay_MoreThanOwed(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	_, err := f.pair.Repay(borrower, borrower, false, u(7500000000))
	assert.ErrorIs(t, err, pair.ErrUnderflow)
	assert.Equal(t, pair.KindArithmetic, pair.KindOf(err))
}

func TestRepay_Skim(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	f.fund(t, asset, borrower, u(3748125))

	// Send the shares to the pair first, then repay from the surplus.
	require.NoError(t, f.vault.Transfer(borrower, asset, borrower, pairAddr, u(1_000)))
	_, err := f.pair.Repay(borrower, borrower, true, u(1_000))
	require.NoError(t, err)

	_, err = f.pair.Repay(borrower, borrower, true, u(1))
	assert.ErrorIs(t, err, pair.ErrSkimTooMuch)

	repays := f.events.OfType(event.EventTypeRepay)
	require.Len(t, repays, 1)
	assert.Equal(t, vaultAddr, repays[0].(*event.Repay).From)
}

// ===========================================================================
// Collateral
// ===========================================================================

func TestRemoveCollateral_ExactSurplus(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)

	// Minimum collateral for the debt is ceil(7499999999e28 / 75e16).
	err := f.pair.RemoveCollateral(borrower, borrower, u(13333333334))
	assert.ErrorIs(t, err, pair.ErrInsolvent)

	require.NoError(t, f.pair.RemoveCollateral(borrower, lender, u(13333333333)))
	assert.Equal(t, uint64(13333333333), f.vault.BalanceOf(collateral, lender).Uint64())
	require.NoError(t, f.pair.CheckInvariants())
}

func TestRemoveCollateral_SurplusShrinksAfterPriceMove(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	f.fund(t, collateral, borrower, e18(50))
	require.NoError(t, f.pair.AddCollateral(borrower, borrower, false, e18(50)))

	// At 1e28 the surplus over ceil(7499999999e28 / 75e16) is just over
	// 50e18. The asset gets dearer, so each unit of debt needs more
	// collateral.
	f.oracle.Set(rate(12, 27))
	updated, r, err := f.pair.UpdateExchangeRate()
	require.NoError(t, err)
	require.True(t, updated)
	assert.Equal(t, rate(12, 27), r)

	assert.ErrorIs(t, f.pair.RemoveCollateral(borrower, borrower, e18(50)), pair.ErrInsolvent)

	// Minimum collateral is now 7499999999 * 1.2e28 / 75e16 = 119999999984e9.
	surplus := new(uint256.Int).Add(e18(30), u(16e9))
	over := new(uint256.Int).AddUint64(surplus, 1)
	assert.ErrorIs(t, f.pair.RemoveCollateral(borrower, borrower, over), pair.ErrInsolvent)

	require.NoError(t, f.pair.RemoveCollateral(borrower, lender, surplus))
	assert.Equal(t, surplus, f.vault.BalanceOf(collateral, lender))
	pos := f.pair.Position(borrower)
	assert.Equal(t, new(uint256.Int).Sub(e18(150), surplus), &pos.CollateralShare)
	assert.True(t, f.pair.IsSolvent(borrower, false, f.pair.ExchangeRate()))
	require.NoError(t, f.pair.CheckInvariants())
}

func TestRemoveCollateral_MoreThanHeld(t *testing.T) {
	f := newFixture(t)
	f.fund(t, collateral, borrower, u(1_000))
	require.NoError(t, f.pair.AddCollateral(borrower, borrower, false, u(1_000)))

	err := f.pair.RemoveCollateral(borrower, borrower, u(1_001))
	assert.ErrorIs(t, err, pair.ErrUnderflow)
}

func TestAddCollateral_SkimTooMuch(t *testing.T) {
	f := newFixture(t)
	f.fund(t, collateral, borrower, u(5_000))
	require.NoError(t, f.vault.Transfer(borrower, collateral, borrower, pairAddr, u(5_000)))

	require.NoError(t, f.pair.AddCollateral(borrower, lender, true, u(3_000)))
	err := f.pair.AddCollateral(borrower, lender, true, u(2_001))
	assert.ErrorIs(t, err, pair.ErrSkimTooMuch)
	require.NoError(t, f.pair.AddCollateral(borrower, lender, true, u(2_000)))

	pos := f.pair.Position(lender)
	assert.Equal(t, uint64(5_000), pos.CollateralShare.Uint64())
}

func TestAddCollateral_RequiresApproval(t *testing.T) {
	f := newFixture(t)
	stranger := types.DeriveAddress("stranger")
	f.fund(t, collateral, stranger, u(5_000))

	err := f.pair.AddCollateral(stranger, stranger, false, u(5_000))
	assert.ErrorIs(t, err, pair.ErrNotApproved)
	assert.Equal(t, pair.KindAuthorization, pair.KindOf(err))
}

// ===========================================================================
// Lender side
// ===========================================================================

func TestAddAsset_DustFirstDepositIgnored(t *testing.T) {
	f := newFixture(t)
	f.fund(t, asset, lender, u(10_000))

	fraction, err := f.pair.AddAsset(lender, lender, false, u(999))
	require.NoError(t, err)
	assert.True(t, fraction.IsZero())
	assert.Equal(t, uint64(10_000), f.vault.BalanceOf(asset, lender).Uint64())

	fraction, err = f.pair.AddAsset(lender, lender, false, u(1_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), fraction.Uint64())
}

func TestRemoveAsset_KeepsMinimum(t *testing.T) {
	f := newFixture(t)
	f.fund(t, asset, lender, u(10_000))
	_, err := f.pair.AddAsset(lender, lender, false, u(10_000))
	require.NoError(t, err)

	_, err = f.pair.RemoveAsset(lender, lender, u(9_001))
	assert.ErrorIs(t, err, pair.ErrBelowMinimum)

	share, err := f.pair.RemoveAsset(lender, lender, u(9_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(9_000), share.Uint64())
	assert.Equal(t, uint64(1_000), f.pair.BalanceOf(lender).Uint64())
}

func TestLenderEarnsInterest(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)

	f.clock.Advance(365 * 24 * time.Hour)
	require.NoError(t, f.pair.Accrue())

	elastic, _ := f.pair.TotalBorrow()
	assert.True(t, elastic.Gt(u(7499999999)))

	// Fractions are now worth more than the shares originally supplied.
	f.fund(t, asset, liquidator, u(1e9))
	fraction, err := f.pair.AddAsset(liquidator, liquidator, false, u(1e9))
	require.NoError(t, err)
	assert.True(t, fraction.Lt(u(1e9)))
	assert.False(t, f.pair.PendingFees().IsZero())
	require.NoError(t, f.pair.CheckInvariants())
}

func TestWithdrawFees(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	f.clock.Advance(30 * 24 * time.Hour)

	require.NoError(t, f.master.SetFeeTo(owner, feeTo))
	require.NoError(t, f.pair.WithdrawFees())
	assert.True(t, f.pair.PendingFees().IsZero())
	assert.False(t, f.pair.BalanceOf(feeTo).IsZero())
	require.Len(t, f.events.OfType(event.EventTypeWithdrawFees), 1)
	require.NoError(t, f.pair.CheckInvariants())
}

func TestWithdrawFees_NoRecipientCreditsZeroAddress(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	f.clock.Advance(30 * 24 * time.Hour)
	require.NoError(t, f.pair.Accrue())
	pending := f.pair.PendingFees()
	require.False(t, pending.IsZero())

	require.NoError(t, f.pair.WithdrawFees())
	assert.True(t, f.pair.PendingFees().IsZero())
	assert.Equal(t, pending, f.pair.BalanceOf(types.ZeroAddress))

	evs := f.events.OfType(event.EventTypeWithdrawFees)
	require.Len(t, evs, 1)
	ev := evs[0].(*event.WithdrawFees)
	assert.Equal(t, types.ZeroAddress, ev.FeeTo)
	assert.Equal(t, pending, ev.FeesEarnedFraction)
	require.NoError(t, f.pair.CheckInvariants())
}

// ===========================================================================
// Exchange rate
// ===========================================================================

func TestUpdateExchangeRate_KeepsStaleOnFailure(t *testing.T) {
	f := newFixture(t)
	f.oracle.Set(rate(2, 28))
	f.oracle.SetSuccess(false)

	updated, r, err := f.pair.UpdateExchangeRate()
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Equal(t, rate(1, 28), r)
	assert.Equal(t, rate(1, 28), f.pair.ExchangeRate())
	assert.Empty(t, f.events.OfType(event.EventTypeExchangeRate))

	f.oracle.SetSuccess(true)
	ok, peek := f.pair.PeekExchangeRate()
	assert.True(t, ok)
	assert.Equal(t, rate(2, 28), peek)
	assert.Equal(t, rate(1, 28), f.pair.ExchangeRate(), "peek must not update the cache")
}

// ===========================================================================
// Snapshot
// ===========================================================================

func TestExportRestore(t *testing.T) {
	f := newFixture(t)
	f.withBorrow(t)
	snap := f.pair.Export()
	want := f.pair.CanonicalBytes()

	f.clock.Advance(time.Hour)
	require.NoError(t, f.pair.Accrue())
	require.NotEqual(t, want, f.pair.CanonicalBytes())

	require.NoError(t, f.pair.Restore(snap))
	assert.Equal(t, want, f.pair.CanonicalBytes())

	snap.Address = types.DeriveAddress("other")
	assert.Error(t, f.pair.Restore(snap))
}
