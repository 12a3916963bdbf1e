package bridge_test

import (
	"context"
	"testing"
	"time"

	"PairLedger/internal/bridge"
	"PairLedger/internal/config"
	"PairLedger/internal/core"
	"PairLedger/internal/ingestion"
	"PairLedger/internal/pair"
	"PairLedger/internal/persistence"
	"PairLedger/internal/projection"
	"PairLedger/internal/types"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marketsYAML = `
vault: vault
master:
  address: master
  owner: owner
tokens:
  - name: WETH
  - name: USDC
oracles:
  - name: weth-usdc
    kind: fixed
    rate: "1000000000000000000"
pairs:
  - name: weth-usdc
    collateral: WETH
    asset: USDC
    oracle: weth-usdc
`

var (
	owner  = types.DeriveAddress("owner")
	lender = types.DeriveAddress("lender")
	master = types.DeriveAddress("master")
	usdc   = types.DeriveAddress("USDC")
	pairAt = types.DeriveAddress("pair:weth-usdc")
)

func newEngine(t *testing.T, persist chan core.CoreOutput) *core.Engine {
	t.Helper()
	m, err := config.Parse([]byte(marketsYAML))
	require.NoError(t, err)
	e, err := core.NewFromMarkets(m, core.Options{PersistChan: persist, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return e
}

// lend credits, approves and supplies 500e18 USDC, then advances the
// clock with an accrue.
func lend(t *testing.T, e *core.Engine) {
	t.Helper()
	supply := new(uint256.Int).Mul(uint256.NewInt(500), uint256.NewInt(1e18))
	program := core.CookPayloadFrom(pair.NewProgram().
		VaultDeposit(usdc, pairAt, pair.Amount(supply), pair.AmountUint64(0)).
		AddAsset(pair.Value2, lender, true))

	cmds := []struct {
		kind    core.Kind
		pair    string
		sender  types.Address
		nonce   uint64
		payload any
	}{
		{core.KindCreditWallet, "", owner, 0, &core.CreditWalletPayload{Token: usdc, To: lender, Amount: types.NewAmount(supply)}},
		{core.KindApproveMaster, "", lender, 0, &core.ApproveMasterPayload{User: lender, Master: master, Approved: true}},
		{core.KindCook, "weth-usdc", lender, 1, &program},
		{core.KindAccrue, "weth-usdc", lender, 2, nil},
	}
	for i, c := range cmds {
		cmd, err := core.NewCommand(c.kind, c.pair, c.sender, c.nonce, uuid.NewString(), c.payload)
		require.NoError(t, err)
		cmd.BlockTime = uint64(1_700_000_000 + i*60)
		_, err = e.Process(cmd)
		require.NoError(t, err, "command %d (%s)", i, c.kind)
	}
}

func drain(ch chan core.CoreOutput) []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

func TestCommandRowReplaysToSameHash(t *testing.T) {
	persist := make(chan core.CoreOutput, 16)
	lend(t, newEngine(t, persist))
	outputs := drain(persist)
	require.Len(t, outputs, 4)

	replayed := newEngine(t, nil)
	for _, out := range outputs {
		row, err := bridge.CommandRow(out)
		require.NoError(t, err)
		assert.Equal(t, out.Envelope.Sequence, row.Sequence)
		assert.Equal(t, out.Envelope.Sender.Hex(), row.Sender)

		cmd, hash, err := bridge.CommandFromRow(row)
		require.NoError(t, err)
		assert.Equal(t, out.Command.Kind, cmd.Kind)
		require.NoError(t, replayed.Replay(cmd, row.Sequence, hash))
	}
	assert.Equal(t, outputs[len(outputs)-1].Envelope.StateHash, replayed.GetStateHash())
}

func TestCommandFromRowRejectsShortHash(t *testing.T) {
	_, _, err := bridge.CommandFromRow(persistence.CommandRow{Sequence: 3, StateHash: []byte{1, 2}})
	assert.Error(t, err)
}

func TestProjectionOutput(t *testing.T) {
	persist := make(chan core.CoreOutput, 16)
	lend(t, newEngine(t, persist))
	outputs := drain(persist)

	_, ok := bridge.ProjectionOutput(outputs[0])
	assert.False(t, ok, "credit_wallet touches no pair")

	po, ok := bridge.ProjectionOutput(outputs[2])
	require.True(t, ok)
	assert.Equal(t, "weth-usdc", po.Pair)
	assert.Equal(t, int64(3), po.Sequence)
	assert.Equal(t, "500000000000000000000", po.Totals.AssetElastic)
	var found bool
	for _, b := range po.Balances {
		if b.User == lender.Hex() {
			found = true
			assert.Equal(t, "500000000000000000000", b.Fraction)
		}
		assert.NotEqual(t, pairAt.Hex(), b.User)
	}
	assert.True(t, found, "lender balance projected")
}

func TestPublishableEvents(t *testing.T) {
	persist := make(chan core.CoreOutput, 16)
	lend(t, newEngine(t, persist))
	outputs := drain(persist)

	evts := bridge.PublishableEvents(outputs[2])
	require.NotEmpty(t, evts)
	for i, evt := range evts {
		assert.Equal(t, i, evt.Index)
		assert.Equal(t, "cook", evt.CommandKind)
		assert.Contains(t, evt.Subject(), "pair.events.")
		assert.Contains(t, evt.Subject(), ".weth-usdc")
	}
}

func TestRunPersistFansOut(t *testing.T) {
	persist := make(chan core.CoreOutput, 16)
	lend(t, newEngine(t, persist))
	close(persist)

	rows := make(chan persistence.Output, 16)
	pub := make(chan ingestion.PublishableEvent, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, bridge.RunPersist(ctx, persist, bridge.Pipes{Persist: rows, Publish: pub}, nil))

	var seqs []int64
	for r := range rows {
		seqs = append(seqs, r.Command.Sequence)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, seqs)
	assert.Len(t, pub, 1, "publish channel is full and drops the rest")
}

func TestRunProjectionSkipsHostCommands(t *testing.T) {
	proj := make(chan core.CoreOutput, 16)
	lend(t, newEngine(t, proj))
	close(proj)

	out := make(chan projection.Output, 16)
	require.NoError(t, bridge.RunProjection(context.Background(), proj, out, nil))
	close(out)

	var seqs []int64
	for o := range out {
		seqs = append(seqs, o.Sequence)
	}
	assert.Equal(t, []int64{3, 4}, seqs)
}
