package vault_test

import (
	"testing"

	"PairLedger/internal/types"
	"PairLedger/internal/vault"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token  = types.DeriveAddress("token")
	alice  = types.DeriveAddress("alice")
	bob    = types.DeriveAddress("bob")
	pair   = types.DeriveAddress("pair")
	master = types.DeriveAddress("master")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func newFundedVault(t *testing.T) *vault.MemoryVault {
	t.Helper()
	v := vault.NewMemoryVault(types.DeriveAddress("vault"), 1)
	require.NoError(t, v.Credit(token, alice, u(1_000_000)))
	_, _, err := v.Deposit(alice, token, alice, alice, u(100_000), u(0))
	require.NoError(t, err)
	return v
}

// ===========================================================================
// Deposit / withdraw / transfer
// ===========================================================================

func TestDeposit_FirstDepositIsOneToOne(t *testing.T) {
	v := newFundedVault(t)
	assert.Equal(t, uint64(100_000), v.BalanceOf(token, alice).Uint64())
	assert.Equal(t, uint64(900_000), v.WalletBalance(token, alice).Uint64())
}

func TestDeposit_ProfitChangesShareRatio(t *testing.T) {
	v := newFundedVault(t)
	require.NoError(t, v.AddProfit(token, u(100_000)))

	// 1 share is now worth 2 tokens.
	assert.Equal(t, uint64(500), v.ToShare(token, u(1_000), false).Uint64())
	amount, share, err := v.Deposit(alice, token, alice, bob, u(1_000), u(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), amount.Uint64())
	assert.Equal(t, uint64(500), share.Uint64())

	// Depositing by share rounds the pulled amount up.
	amount, _, err = v.Deposit(alice, token, alice, bob, u(0), u(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), amount.Uint64())
}

func TestDeposit_InsufficientWallet(t *testing.T) {
	v := newFundedVault(t)
	_, _, err := v.Deposit(bob, token, bob, bob, u(10_000), u(0))
	require.ErrorIs(t, err, vault.ErrInsufficientWallet)
}

func TestWithdraw_CannotLeaveDust(t *testing.T) {
	v := newFundedVault(t)
	_, _, err := v.Withdraw(alice, token, alice, alice, u(0), u(99_500))
	require.ErrorIs(t, err, vault.ErrCannotEmpty)

	amount, _, err := v.Withdraw(alice, token, alice, alice, u(0), u(100_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), amount.Uint64())
	assert.Equal(t, uint64(1_000_000), v.WalletBalance(token, alice).Uint64())
}

func TestTransfer_RequiresApproval(t *testing.T) {
	v := newFundedVault(t)
	v.RegisterProtocol(pair, master)

	err := v.Transfer(pair, token, alice, pair, u(10))
	require.ErrorIs(t, err, vault.ErrNotApproved)

	v.WhitelistMasterContract(master, true)
	require.NoError(t, v.SetMasterContractApproval(alice, alice, master, true, nil))
	require.NoError(t, v.Transfer(pair, token, alice, pair, u(10)))
	assert.Equal(t, uint64(10), v.BalanceOf(token, pair).Uint64())

	// A clone cannot approve on its own behalf.
	err = v.SetMasterContractApproval(pair, pair, master, true, nil)
	require.ErrorIs(t, err, vault.ErrContractRegister)
}

func TestTransferMultiple(t *testing.T) {
	v := newFundedVault(t)
	err := v.TransferMultiple(alice, token, alice, []types.Address{bob, pair}, []*uint256.Int{u(5), u(7)})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v.BalanceOf(token, bob).Uint64())
	assert.Equal(t, uint64(7), v.BalanceOf(token, pair).Uint64())
	assert.Equal(t, uint64(100_000-12), v.BalanceOf(token, alice).Uint64())

	err = v.TransferMultiple(alice, token, alice, []types.Address{bob}, nil)
	require.ErrorIs(t, err, vault.ErrLengthMismatch)
}

// ===========================================================================
// Signed approvals
// ===========================================================================

func TestSignedApproval_ConsumesNonce(t *testing.T) {
	v := newFundedVault(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	sig, err := vault.SignApproval(key, v.ApprovalDigest(signer, master, true, 0))
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.NoError(t, v.SetMasterContractApproval(pair, signer, master, true, sig))
	assert.True(t, v.MasterContractApproved(master, signer))
	assert.Equal(t, uint64(1), v.Nonce(signer))

	// Replaying the same signature fails against the new nonce.
	err = v.SetMasterContractApproval(pair, signer, master, true, sig)
	require.ErrorIs(t, err, vault.ErrInvalidSignature)
}

func TestSignedApproval_WrongSigner(t *testing.T) {
	v := newFundedVault(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	sig, err := vault.SignApproval(key, v.ApprovalDigest(bob, master, true, 0))
	require.NoError(t, err)
	err = v.SetMasterContractApproval(pair, bob, master, true, sig)
	require.ErrorIs(t, err, vault.ErrInvalidSignature)
	assert.False(t, v.MasterContractApproved(master, bob))
}

// ===========================================================================
// Journal
// ===========================================================================

func TestSnapshot_RevertRestoresBalances(t *testing.T) {
	v := newFundedVault(t)
	id := v.Snapshot()
	require.NoError(t, v.Transfer(alice, token, alice, bob, u(40)))
	require.NoError(t, v.Credit(token, bob, u(1)))
	v.RevertToSnapshot(id)

	assert.True(t, v.BalanceOf(token, bob).IsZero())
	assert.True(t, v.WalletBalance(token, bob).IsZero())
	assert.Equal(t, uint64(100_000), v.BalanceOf(token, alice).Uint64())
}

func TestJournalHooks_NestedCommitFollowsOuter(t *testing.T) {
	v := newFundedVault(t)
	var log []string

	outer := v.Snapshot()
	inner := v.Snapshot()
	v.OnCommit(func() { log = append(log, "commit-1") })
	v.OnRevert(func() { log = append(log, "revert-1") })
	v.DiscardSnapshot(inner)
	v.OnRevert(func() { log = append(log, "revert-2") })
	assert.Empty(t, log, "nothing settles while the outer snapshot is open")

	v.RevertToSnapshot(outer)
	assert.Equal(t, []string{"revert-2", "revert-1"}, log)
}

func TestJournalHooks_OutermostDiscardCommits(t *testing.T) {
	v := newFundedVault(t)
	var log []string

	outer := v.Snapshot()
	inner := v.Snapshot()
	v.OnCommit(func() { log = append(log, "commit") })
	v.OnRevert(func() { log = append(log, "revert") })
	v.DiscardSnapshot(inner)
	v.DiscardSnapshot(outer)
	assert.Equal(t, []string{"commit"}, log)

	// With nothing open, commit hooks run at once and revert hooks are
	// dropped.
	v.OnCommit(func() { log = append(log, "now") })
	v.OnRevert(func() { log = append(log, "never") })
	assert.Equal(t, []string{"commit", "now"}, log)
}

func TestExportRestore(t *testing.T) {
	v := newFundedVault(t)
	v.RegisterProtocol(pair, master)
	v.WhitelistMasterContract(master, true)
	require.NoError(t, v.SetMasterContractApproval(alice, alice, master, true, nil))

	snap := v.Export()
	restored := vault.NewMemoryVault(v.Address(), 1)
	require.NoError(t, restored.Restore(snap))

	assert.Equal(t, v.BalanceOf(token, alice), restored.BalanceOf(token, alice))
	assert.Equal(t, v.Totals(token), restored.Totals(token))
	assert.True(t, restored.MasterContractApproved(master, alice))
	require.NoError(t, restored.Transfer(pair, token, alice, bob, u(1)))
}
