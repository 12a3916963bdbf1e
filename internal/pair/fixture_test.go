package pair_test

import (
	"testing"

	"PairLedger/internal/event"
	"PairLedger/internal/oracle"
	"PairLedger/internal/pair"
	"PairLedger/internal/swapper"
	"PairLedger/internal/types"
	"PairLedger/internal/vault"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	vaultAddr  = types.DeriveAddress("vault")
	masterAddr = types.DeriveAddress("master")
	pairAddr   = types.DeriveAddress("pair")
	poolAddr   = types.DeriveAddress("pool")
	collateral = types.DeriveAddress("collateral")
	asset      = types.DeriveAddress("asset")

	owner      = types.DeriveAddress("owner")
	feeTo      = types.DeriveAddress("fee-to")
	lender     = types.DeriveAddress("lender")
	borrower   = types.DeriveAddress("borrower")
	liquidator = types.DeriveAddress("liquidator")
	provider   = types.DeriveAddress("provider")
)

const startTime = 1_700_000_000

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// e18 returns n * 1e18.
func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(u(n), u(1e18))
}

// rate returns n * 10^exp.
func rate(n, exp uint64) *uint256.Int {
	return new(uint256.Int).Mul(u(n), new(uint256.Int).Exp(u(10), u(exp)))
}

func neg(v uint64) *uint256.Int { return new(uint256.Int).Neg(u(v)) }

type fixture struct {
	vault    *vault.MemoryVault
	master   *pair.Master
	pair     *pair.Pair
	oracle   *oracle.Fixed
	clock    *pair.ManualClock
	registry *pair.Registry
	events   *event.Recorder
	pool     *swapper.Pool
}

// newFixture builds a 1:1 vault, an initialized pair quoted at 1e28
// collateral units per asset unit, and approves every test account for
// the pair's master.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		vault:    vault.NewMemoryVault(vaultAddr, 1),
		oracle:   oracle.NewFixed("fixed", rate(1, 28)),
		clock:    pair.NewManualClock(startTime),
		registry: pair.NewRegistry(),
		events:   &event.Recorder{},
	}
	f.master = pair.NewMaster(masterAddr, owner, f.events)
	f.pair = pair.New(pairAddr, f.master, pair.Env{
		Vault:     f.vault,
		Clock:     f.clock,
		Contracts: f.registry,
		Sink:      f.events,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, f.pair.Init(pair.Config{
		Collateral: collateral,
		Asset:      asset,
		Oracle:     f.oracle,
		OracleID:   types.DeriveAddress("oracle"),
	}))

	f.vault.RegisterProtocol(pairAddr, masterAddr)
	f.vault.WhitelistMasterContract(masterAddr, true)
	for _, a := range []types.Address{lender, borrower, liquidator} {
		require.NoError(t, f.vault.SetMasterContractApproval(a, a, masterAddr, true, nil))
	}
	_, _, err := f.pair.UpdateExchangeRate()
	require.NoError(t, err)
	f.events.Reset()
	return f
}

// fund credits and deposits amount of token into the owner's vault
// balance.
func (f *fixture) fund(t *testing.T, token, to types.Address, amount *uint256.Int) {
	t.Helper()
	require.NoError(t, f.vault.Credit(token, to, amount))
	_, _, err := f.vault.Deposit(to, token, to, to, amount, u(0))
	require.NoError(t, err)
}

// withBorrow supplies 290e8 of the asset and 100e18 collateral, then
// borrows the largest amount solvent at rate 1e28.
func (f *fixture) withBorrow(t *testing.T) {
	t.Helper()
	f.fund(t, asset, lender, u(290e8))
	_, err := f.pair.AddAsset(lender, lender, false, u(290e8))
	require.NoError(t, err)

	f.fund(t, collateral, borrower, e18(100))
	require.NoError(t, f.pair.AddCollateral(borrower, borrower, false, e18(100)))

	_, _, err = f.pair.Borrow(borrower, borrower, u(7496251874))
	require.NoError(t, err)
	f.events.Reset()
}

// withPool registers an allowlisted constant-product pool priced at
// 1.1e10 collateral units per asset unit.
func (f *fixture) withPool(t *testing.T) {
	t.Helper()
	f.pool = swapper.NewPool(poolAddr, collateral, asset, 30, f.vault)
	f.fund(t, collateral, provider, e18(11_000))
	f.fund(t, asset, provider, u(1e12))
	require.NoError(t, f.pool.AddLiquidity(provider, collateral, e18(11_000)))
	require.NoError(t, f.pool.AddLiquidity(provider, asset, u(1e12)))
	f.registry.RegisterSwapper(f.pool)
	require.NoError(t, f.master.SetSwapper(owner, poolAddr, true))
	f.events.Reset()
}

// state captures everything a reverted transaction must leave untouched.
func (f *fixture) state() ([]byte, vault.MemorySnapshot) {
	return f.pair.CanonicalBytes(), f.vault.Export()
}
