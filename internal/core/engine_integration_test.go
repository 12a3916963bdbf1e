package core_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"PairLedger/internal/config"
	"PairLedger/internal/core"
	"PairLedger/internal/event"
	"PairLedger/internal/pair"
	"PairLedger/internal/types"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

const marketsYAML = `
chain_id: 1
vault: vault
master:
  address: master
  owner: owner
  fee_to: fee-to
tokens:
  - name: WETH
  - name: USDC
oracles:
  - name: weth-usdc
    kind: fixed
    rate: "1000000000000000000"
swappers:
  - address: pool
    token_a: WETH
    token_b: USDC
    fee_bps: 30
    allowed: true
pairs:
  - name: weth-usdc
    collateral: WETH
    asset: USDC
    oracle: weth-usdc
`

const pairName = "weth-usdc"

var (
	owner      = types.DeriveAddress("owner")
	lender     = types.DeriveAddress("lender")
	borrower   = types.DeriveAddress("borrower")
	liquidator = types.DeriveAddress("liquidator")
	masterAddr = types.DeriveAddress("master")
	weth       = types.DeriveAddress("WETH")
	usdc       = types.DeriveAddress("USDC")
	pairAddr   = types.DeriveAddress("pair:" + pairName)
	oracleAddr = types.DeriveAddress("oracle:" + pairName)
)

func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

func amt(v *uint256.Int) types.Amount { return types.NewAmount(v) }

type harness struct {
	t       *testing.T
	engine  *core.Engine
	persist chan core.CoreOutput
	proj    chan core.CoreOutput
	nonces  map[types.Address]uint64
}

// newHarness builds an engine from marketsYAML with buffered channels and
// no DB checker.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		persist: make(chan core.CoreOutput, 1024),
		proj:    make(chan core.CoreOutput, 1024),
		nonces:  make(map[types.Address]uint64),
	}
	h.engine = newEngine(t, core.Options{PersistChan: h.persist, ProjectionChan: h.proj})
	return h
}

func newEngine(t *testing.T, opts core.Options) *core.Engine {
	t.Helper()
	m, err := config.Parse([]byte(marketsYAML))
	require.NoError(t, err)
	opts.Logger = zerolog.Nop()
	e, err := core.NewFromMarkets(m, opts)
	require.NoError(t, err)
	return e
}

func (h *harness) command(kind core.Kind, pairRef string, sender types.Address, payload any) core.Command {
	h.t.Helper()
	c, err := core.NewCommand(kind, pairRef, sender, h.nonces[sender], uuid.NewString(), payload)
	require.NoError(h.t, err)
	return c
}

func (h *harness) apply(c core.Command) *core.Receipt {
	h.t.Helper()
	r, err := h.engine.Process(c)
	require.NoError(h.t, err)
	h.nonces[c.Sender]++
	return r
}

func (h *harness) submit(kind core.Kind, pairRef string, sender types.Address, payload any) *core.Receipt {
	h.t.Helper()
	return h.apply(h.command(kind, pairRef, sender, payload))
}

func (h *harness) cook(sender types.Address, pr *pair.Program) *core.Receipt {
	h.t.Helper()
	pl := core.CookPayloadFrom(pr)
	return h.submit(core.KindCook, pairName, sender, &pl)
}

func (h *harness) credit(token, to types.Address, amount *uint256.Int) {
	h.t.Helper()
	h.submit(core.KindCreditWallet, "", owner, &core.CreditWalletPayload{Token: token, To: to, Amount: amt(amount)})
}

func (h *harness) approve(user types.Address) {
	h.t.Helper()
	h.submit(core.KindApproveMaster, "", user, &core.ApproveMasterPayload{User: user, Master: masterAddr, Approved: true})
}

// seed supplies 500e18 USDC, posts 100e18 WETH and borrows 50e18 at a
// 1:1 rate.
func (h *harness) seed() {
	h.t.Helper()
	h.credit(usdc, lender, e18(1000))
	h.credit(weth, borrower, e18(1000))
	h.approve(lender)
	h.approve(borrower)

	h.cook(lender, pair.NewProgram().
		VaultDeposit(usdc, pairAddr, pair.Amount(e18(500)), pair.AmountUint64(0)).
		AddAsset(pair.Value2, lender, true))
	h.submit(core.KindUpdateExchangeRate, pairName, lender, nil)
	h.cook(borrower, pair.NewProgram().
		VaultDeposit(weth, pairAddr, pair.Amount(e18(100)), pair.AmountUint64(0)).
		AddCollateral(pair.Value2, borrower, true).
		Borrow(pair.Amount(e18(50)), borrower))
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case out := <-ch:
			outputs = append(outputs, out)
		default:
			return outputs
		}
	}
}

func (h *harness) pair() *pair.Pair {
	p, ok := h.engine.Pair(pairName)
	require.True(h.t, ok)
	return p
}

// --- Tests ---

func TestEngine_LendAndBorrow(t *testing.T) {
	h := newHarness(t)
	h.seed()

	p := h.pair()
	pos := p.Position(borrower)
	assert.Equal(t, e18(100).Dec(), pos.CollateralShare.Dec())
	// 0.05% opening fee on top of the 50e18 borrowed
	assert.Equal(t, "50025000000000000000", pos.BorrowPart.Dec())
	assert.Equal(t, e18(500).Dec(), p.BalanceOf(lender).Dec())
	assert.Equal(t, e18(50).Dec(), h.engine.Vault().BalanceOf(usdc, borrower).Dec())
	require.NoError(t, p.CheckInvariants())

	outputs := drainOutputs(h.persist)
	require.Len(t, outputs, 7)
	for i, out := range outputs {
		assert.Equal(t, int64(i+1), out.Envelope.Sequence)
	}
	last := outputs[len(outputs)-1]
	require.NotNil(t, last.Pair)
	assert.Equal(t, pairName, last.Pair.Name)
	require.Len(t, last.Pair.State.Positions, 1)
	assert.Equal(t, borrower, last.Pair.State.Positions[0].User)
	assert.Equal(t, "50025000000000000000", last.Pair.State.TotalBorrow.Elastic)
	require.NotNil(t, last.Envelope.PairID)
	assert.Equal(t, pairName, *last.Envelope.PairID)

	var kinds []event.EventType
	for _, rec := range last.Envelope.Events {
		kinds = append(kinds, rec.Type)
	}
	assert.Equal(t, []event.EventType{event.EventTypeAddCollateral, event.EventTypeBorrow}, kinds)

	// Host-level commands carry no pair state.
	assert.Nil(t, outputs[0].Pair)
	assert.Nil(t, outputs[0].Envelope.PairID)
}

func TestEngine_CookReturnsPipe(t *testing.T) {
	h := newHarness(t)
	h.credit(usdc, lender, e18(10))
	h.approve(lender)

	r := h.cook(lender, pair.NewProgram().
		VaultDeposit(usdc, pairAddr, pair.Amount(e18(3)), pair.AmountUint64(0)).
		AddAsset(pair.Value2, lender, true))
	assert.Equal(t, e18(3).Dec(), r.Returns["value1"])
	assert.Equal(t, e18(3).Dec(), r.Returns["value2"])
	assert.Len(t, r.StateHash, 32)
	assert.Equal(t, int64(3), r.Sequence)
}

func TestEngine_DuplicateKeyRejected(t *testing.T) {
	h := newHarness(t)
	c := h.command(core.KindCreditWallet, "", owner, &core.CreditWalletPayload{Token: usdc, To: lender, Amount: amt(e18(1))})
	h.apply(c)

	// Same key, fresh nonce: still a duplicate.
	c.Nonce = 1
	_, err := h.engine.Process(c)
	assert.ErrorIs(t, err, core.ErrDuplicate)
	assert.Equal(t, uint64(1), h.engine.ExpectedNonce(owner))
	assert.Equal(t, e18(1).Dec(), h.engine.Vault().WalletBalance(usdc, lender).Dec())
	assert.Equal(t, int64(2), h.engine.GetSequence())
}

func TestEngine_NonceGapAndReplay(t *testing.T) {
	h := newHarness(t)
	h.credit(usdc, lender, e18(1))

	gap := h.command(core.KindCreditWallet, "", owner, &core.CreditWalletPayload{Token: usdc, To: lender, Amount: amt(e18(1))})
	gap.Nonce = 5
	_, err := h.engine.Process(gap)
	assert.ErrorIs(t, err, core.ErrNonceGap)

	replay := h.command(core.KindCreditWallet, "", owner, &core.CreditWalletPayload{Token: usdc, To: lender, Amount: amt(e18(1))})
	replay.Nonce = 0
	_, err = h.engine.Process(replay)
	assert.ErrorIs(t, err, core.ErrNonceReplay)

	// Nonces are per sender.
	h.approve(lender)
	assert.Equal(t, uint64(1), h.engine.ExpectedNonce(owner))
	assert.Equal(t, uint64(1), h.engine.ExpectedNonce(lender))
}

func TestEngine_FailedCommandConsumesNothing(t *testing.T) {
	h := newHarness(t)
	h.seed()
	drainOutputs(h.persist)
	hashBefore := h.engine.GetStateHash()
	seqBefore := h.engine.GetSequence()

	pl := core.CookPayloadFrom(pair.NewProgram().Borrow(pair.Amount(e18(30)), borrower))
	c := h.command(core.KindCook, pairName, borrower, &pl)
	_, err := h.engine.Process(c)
	assert.ErrorIs(t, err, pair.ErrInsolvent)

	assert.Equal(t, hashBefore, h.engine.GetStateHash())
	assert.Equal(t, seqBefore, h.engine.GetSequence())
	assert.Empty(t, drainOutputs(h.persist))
	assert.Equal(t, "50025000000000000000", h.pair().Position(borrower).BorrowPart.Dec())

	// The same key and nonce go through once the request is fixable.
	pl = core.CookPayloadFrom(pair.NewProgram().Borrow(pair.Amount(e18(1)), borrower))
	raw, err := json.Marshal(&pl)
	require.NoError(t, err)
	c.Payload = raw
	h.apply(c)
	assert.Len(t, drainOutputs(h.persist), 1)
}

func TestEngine_InvalidCommands(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Process(core.Command{IdempotencyKey: "k", Kind: "mint", Sender: owner})
	assert.ErrorIs(t, err, core.ErrInvalidCommand)

	_, err = h.engine.Process(core.Command{IdempotencyKey: "k", Kind: core.KindAccrue, Sender: owner})
	assert.ErrorIs(t, err, core.ErrInvalidCommand, "pair-scoped kinds need a pair")

	_, err = h.engine.Process(h.command(core.KindAccrue, "no-such-pair", owner, nil))
	assert.ErrorIs(t, err, core.ErrUnknownPair)

	// Pairs resolve by address as well as by name.
	h.submit(core.KindAccrue, pairAddr.Hex(), owner, nil)
}

func TestEngine_ClockIsMonotonic(t *testing.T) {
	h := newHarness(t)
	c := h.command(core.KindAccrue, pairName, owner, nil)
	c.BlockTime = 1_700_000_100
	h.apply(c)
	assert.Equal(t, uint64(1_700_000_100), h.engine.Now())

	back := h.command(core.KindAccrue, pairName, owner, nil)
	back.BlockTime = 1_700_000_000
	_, err := h.engine.Process(back)
	assert.ErrorIs(t, err, core.ErrClockRegression)

	// Zero keeps the current block time.
	r := h.submit(core.KindAccrue, pairName, owner, nil)
	assert.Equal(t, uint64(1_700_000_100), h.engine.Now())
	out := drainOutputs(h.persist)
	assert.Equal(t, time.Unix(1_700_000_100, 0).UTC(), out[len(out)-1].Envelope.Timestamp)
	assert.Equal(t, int64(2), r.Sequence)
}

func TestEngine_InterestAccruesWithBlockTime(t *testing.T) {
	h := newHarness(t)
	h.seed()
	before := h.pair().AccrueInfo()

	c := h.command(core.KindAccrue, pairName, lender, nil)
	c.BlockTime = 86_400
	h.apply(c)

	elastic, _ := h.pair().TotalBorrow()
	assert.True(t, elastic.Gt(uint256.MustFromDecimal("50025000000000000000")), "debt grows with time")
	assert.Equal(t, uint64(86_400), h.pair().AccrueInfo().LastAccrued)
	assert.NotEqual(t, before.LastAccrued, h.pair().AccrueInfo().LastAccrued)
}

func TestEngine_FeedPriceAndOpenLiquidation(t *testing.T) {
	h := newHarness(t)
	h.seed()
	h.credit(usdc, liquidator, e18(100))
	h.approve(liquidator)
	h.cook(liquidator, pair.NewProgram().
		VaultDeposit(usdc, liquidator, pair.Amount(e18(100)), pair.AmountUint64(0)))

	// Only the operator moves prices.
	c := h.command(core.KindFeedPrice, "", lender, &core.FeedPricePayload{Feed: oracleAddr, Answer: amt(e18(2))})
	_, err := h.engine.Process(c)
	assert.ErrorIs(t, err, pair.ErrNotOwner)

	_, err = h.engine.Process(h.command(core.KindFeedPrice, "", owner, &core.FeedPricePayload{Feed: types.DeriveAddress("nope"), Answer: amt(e18(2))}))
	assert.ErrorIs(t, err, core.ErrUnknownFeed)

	h.submit(core.KindFeedPrice, "", owner, &core.FeedPricePayload{
		Feed:   oracleAddr,
		Answer: amt(uint256.MustFromDecimal("1600000000000000000")),
	})

	r := h.submit(core.KindLiquidate, pairName, liquidator, &core.LiquidatePayload{
		Users:          []types.Address{borrower},
		MaxBorrowParts: []types.Amount{amt(e18(1_000_000))},
		To:             liquidator,
		Open:           true,
	})
	assert.Equal(t, "open", r.Returns["mode"])

	pos := h.pair().Position(borrower)
	assert.True(t, pos.BorrowPart.IsZero())
	assert.True(t, pos.CollateralShare.Lt(e18(100)))
	assert.False(t, h.engine.Vault().BalanceOf(weth, liquidator).IsZero())
	require.NoError(t, h.pair().CheckInvariants())

	outputs := drainOutputs(h.persist)
	last := outputs[len(outputs)-1]
	require.Len(t, last.Pair.State.Positions, 1)
	assert.Equal(t, borrower, last.Pair.State.Positions[0].User)
	assert.Equal(t, "0", last.Pair.State.Positions[0].BorrowPart)
}

func TestEngine_LiquidateAllSolvent(t *testing.T) {
	h := newHarness(t)
	h.seed()

	c := h.command(core.KindLiquidate, pairName, liquidator, &core.LiquidatePayload{
		Users:          []types.Address{borrower},
		MaxBorrowParts: []types.Amount{amt(e18(1))},
		To:             liquidator,
		Open:           true,
	})
	_, err := h.engine.Process(c)
	assert.ErrorIs(t, err, pair.ErrAllSolvent)
}

func TestEngine_MasterCommands(t *testing.T) {
	h := newHarness(t)
	newOwner := types.DeriveAddress("new-owner")
	pool := types.DeriveAddress("pool")

	_, err := h.engine.Process(h.command(core.KindSetFeeTo, "", lender, &core.SetFeeToPayload{To: lender}))
	assert.ErrorIs(t, err, pair.ErrNotOwner)

	h.submit(core.KindSetSwapper, "", owner, &core.SetSwapperPayload{Swapper: pool, Enable: false})
	assert.False(t, h.engine.Master().IsSwapper(pool))

	_, err = h.engine.Process(h.command(core.KindSetSwapper, "", owner, &core.SetSwapperPayload{Swapper: types.DeriveAddress("rogue"), Enable: true}))
	assert.ErrorIs(t, err, core.ErrUnknownSwapper)

	h.submit(core.KindTransferOwnership, "", owner, &core.TransferOwnershipPayload{NewOwner: newOwner})
	assert.Equal(t, newOwner, h.engine.Master().PendingOwner())
	h.submit(core.KindClaimOwnership, "", newOwner, nil)
	assert.Equal(t, newOwner, h.engine.Master().Owner())

	outputs := drainOutputs(h.persist)
	last := outputs[len(outputs)-1]
	require.Len(t, last.Envelope.Events, 1)
	assert.Equal(t, event.EventTypeOwnershipTransferred, last.Envelope.Events[0].Type)
}

func TestEngine_AddLiquidityAndShort(t *testing.T) {
	h := newHarness(t)
	h.seed()
	provider := types.DeriveAddress("provider")
	pool := types.DeriveAddress("pool")

	h.credit(weth, provider, e18(10_000))
	h.credit(usdc, provider, e18(10_000))
	h.approve(provider)
	h.cook(provider, pair.NewProgram().
		VaultDeposit(weth, provider, pair.Amount(e18(10_000)), pair.AmountUint64(0)).
		VaultDeposit(usdc, provider, pair.Amount(e18(10_000)), pair.AmountUint64(0)))
	h.submit(core.KindAddLiquidity, "", provider, &core.AddLiquidityPayload{Swapper: pool, Token: weth, Share: amt(e18(10_000))})
	h.submit(core.KindAddLiquidity, "", provider, &core.AddLiquidityPayload{Swapper: pool, Token: usdc, Share: amt(e18(10_000))})

	before := h.pair().Position(borrower).CollateralShare.Clone()
	r := h.submit(core.KindShort, pairName, borrower, &core.ShortPayload{Swapper: pool, Amount: amt(e18(5)), MinShare: amt(e18(4))})
	assert.NotEmpty(t, r.Returns["share"])
	after := h.pair().Position(borrower).CollateralShare
	assert.True(t, after.Gt(before))
	require.NoError(t, h.pair().CheckInvariants())
}

func TestEngine_TransferFraction(t *testing.T) {
	h := newHarness(t)
	h.seed()

	r := h.submit(core.KindTransferFraction, pairName, lender, &core.TransferFractionPayload{To: liquidator, Fraction: amt(e18(200))})
	require.Len(t, r.Events, 1)
	assert.Equal(t, event.EventTypeTransfer, r.Events[0].Type)

	p := h.pair()
	assert.Equal(t, e18(300).Dec(), p.BalanceOf(lender).Dec())
	assert.Equal(t, e18(200).Dec(), p.BalanceOf(liquidator).Dec())
	assert.Equal(t, e18(500).Dec(), p.TotalSupply().Dec())
	require.NoError(t, p.CheckInvariants())

	_, err := h.engine.Process(h.command(core.KindTransferFraction, pairName, liquidator, &core.TransferFractionPayload{To: lender, Fraction: amt(e18(201))}))
	assert.ErrorIs(t, err, pair.ErrUnderflow)
	assert.Equal(t, e18(200).Dec(), h.pair().BalanceOf(liquidator).Dec())

	_, err = h.engine.Process(h.command(core.KindTransferFraction, pairName, liquidator, &core.TransferFractionPayload{Fraction: amt(e18(1))}))
	assert.ErrorIs(t, err, core.ErrInvalidCommand)
}

func TestStateHashChain_Deterministic(t *testing.T) {
	a := newHarness(t)
	a.seed()
	b := newHarness(t)
	b.seed()

	// Fresh UUIDs and keys differ, state does not.
	assert.Equal(t, a.engine.GetStateHash(), b.engine.GetStateHash())

	outA := drainOutputs(a.persist)
	for i := 1; i < len(outA); i++ {
		assert.Equal(t, outA[i-1].Envelope.StateHash, outA[i].Envelope.PrevHash)
	}
	assert.Equal(t, core.GenesisHash(), outA[0].Envelope.PrevHash)
}

func TestSnapshotRestoreAndReplay(t *testing.T) {
	h := newHarness(t)
	h.credit(usdc, lender, e18(1000))
	h.credit(weth, borrower, e18(1000))
	h.approve(lender)

	snap := h.engine.CreateSnapshotState()
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	drainOutputs(h.persist)

	h.approve(borrower)
	h.cook(lender, pair.NewProgram().
		VaultDeposit(usdc, pairAddr, pair.Amount(e18(500)), pair.AmountUint64(0)).
		AddAsset(pair.Value2, lender, true))
	h.submit(core.KindUpdateExchangeRate, pairName, lender, nil)
	c := h.command(core.KindCook, pairName, borrower, core.CookPayloadFrom(pair.NewProgram().
		VaultDeposit(weth, pairAddr, pair.Amount(e18(100)), pair.AmountUint64(0)).
		AddCollateral(pair.Value2, borrower, true).
		Borrow(pair.Amount(e18(50)), borrower)))
	c.BlockTime = 3600
	h.apply(c)
	tail := drainOutputs(h.persist)
	require.Len(t, tail, 4)

	var decoded core.SnapshotState
	require.NoError(t, json.Unmarshal(raw, &decoded))
	restored := newEngine(t, core.Options{})
	require.NoError(t, restored.RestoreFromSnapshot(&decoded))
	assert.Equal(t, snap.Sequence+1, restored.GetSequence())
	assert.Equal(t, uint64(1), restored.ExpectedNonce(lender))

	for _, out := range tail {
		require.NoError(t, restored.Replay(out.Command, out.Envelope.Sequence, out.Envelope.StateHash))
	}
	assert.Equal(t, h.engine.GetStateHash(), restored.GetStateHash())
	p, ok := restored.Pair(pairName)
	require.True(t, ok)
	assert.Equal(t, h.pair().CanonicalBytes(), p.CanonicalBytes())

	// Replayed keys are known to the restored engine.
	_, err = restored.Process(tail[0].Command)
	assert.ErrorIs(t, err, core.ErrDuplicate)
}

func TestReplay_DetectsHashMismatch(t *testing.T) {
	h := newHarness(t)
	h.credit(usdc, lender, e18(1))
	out := drainOutputs(h.persist)

	fresh := newEngine(t, core.Options{})
	var wrong [32]byte
	err := fresh.Replay(out[0].Command, out[0].Envelope.Sequence, wrong)
	assert.ErrorIs(t, err, core.ErrHashMismatch)

	err = fresh.Replay(out[0].Command, 7, out[0].Envelope.StateHash)
	assert.Error(t, err)
}

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persist := make(chan core.CoreOutput, 16)
	proj := make(chan core.CoreOutput, 1)
	e := newEngine(t, core.Options{PersistChan: persist, ProjectionChan: proj})

	for i := uint64(0); i < 3; i++ {
		c, err := core.NewCommand(core.KindCreditWallet, "", owner, i, uuid.NewString(),
			&core.CreditWalletPayload{Token: usdc, To: lender, Amount: amt(e18(1))})
		require.NoError(t, err)
		_, err = e.Process(c)
		require.NoError(t, err)
	}
	assert.Len(t, persist, 3, "persistence never drops")
	assert.Len(t, proj, 1)
}

func TestRunner_SubmitAndView(t *testing.T) {
	e := newEngine(t, core.Options{})
	r := core.NewRunner(e, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	c, err := core.NewCommand(core.KindCreditWallet, "", owner, 0, "credit-1",
		&core.CreditWalletPayload{Token: usdc, To: lender, Amount: amt(e18(2))})
	require.NoError(t, err)
	receipt, err := r.Submit(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.Sequence)

	_, err = r.Submit(ctx, c)
	assert.ErrorIs(t, err, core.ErrDuplicate)

	var wallet string
	require.NoError(t, r.View(ctx, func(e *core.Engine) {
		wallet = e.Vault().WalletBalance(usdc, lender).Dec()
	}))
	assert.Equal(t, e18(2).Dec(), wallet)

	cancel()
	require.Eventually(t, func() bool {
		_, err := r.Submit(context.Background(), c)
		return err == core.ErrEngineStopped
	}, time.Second, 10*time.Millisecond)
}
