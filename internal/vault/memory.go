package vault

import (
	"fmt"
	"sort"

	fpmath "PairLedger/internal/math"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

type tokenLedger struct {
	totals   fpmath.Rebase
	balances map[types.Address]*uint256.Int
}

type memoryState struct {
	tokens      map[types.Address]*tokenLedger
	wallets     map[types.Address]map[types.Address]*uint256.Int
	masterOf    map[types.Address]types.Address
	whitelisted map[types.Address]bool
	approved    map[types.Address]map[types.Address]bool
	nonces      map[types.Address]uint64
}

func newMemoryState() *memoryState {
	return &memoryState{
		tokens:      make(map[types.Address]*tokenLedger),
		wallets:     make(map[types.Address]map[types.Address]*uint256.Int),
		masterOf:    make(map[types.Address]types.Address),
		whitelisted: make(map[types.Address]bool),
		approved:    make(map[types.Address]map[types.Address]bool),
		nonces:      make(map[types.Address]uint64),
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	for token, l := range s.tokens {
		cl := &tokenLedger{totals: l.totals, balances: cloneBalances(l.balances)}
		c.tokens[token] = cl
	}
	for token, w := range s.wallets {
		c.wallets[token] = cloneBalances(w)
	}
	for k, v := range s.masterOf {
		c.masterOf[k] = v
	}
	for k, v := range s.whitelisted {
		c.whitelisted[k] = v
	}
	for master, users := range s.approved {
		m := make(map[types.Address]bool, len(users))
		for u, ok := range users {
			m[u] = ok
		}
		c.approved[master] = m
	}
	for k, v := range s.nonces {
		c.nonces[k] = v
	}
	return c
}

func cloneBalances(src map[types.Address]*uint256.Int) map[types.Address]*uint256.Int {
	dst := make(map[types.Address]*uint256.Int, len(src))
	for k, v := range src {
		dst[k] = v.Clone()
	}
	return dst
}

// MemoryVault is an in-process share ledger. Token amounts outside the
// vault are modelled as wallet balances credited by the host.
//
// Not thread-safe: it is only touched from the engine goroutine.
type MemoryVault struct {
	address types.Address
	chainID uint64
	state   *memoryState
	journal []journalEntry
}

// journalEntry is one open snapshot and the hooks registered while it was
// the innermost one.
type journalEntry struct {
	state    *memoryState
	onCommit []func()
	onRevert []func()
}

func NewMemoryVault(address types.Address, chainID uint64) *MemoryVault {
	return &MemoryVault{
		address: address,
		chainID: chainID,
		state:   newMemoryState(),
	}
}

func (v *MemoryVault) Address() types.Address { return v.address }

func (v *MemoryVault) ledger(token types.Address) *tokenLedger {
	l, ok := v.state.tokens[token]
	if !ok {
		l = &tokenLedger{balances: make(map[types.Address]*uint256.Int)}
		v.state.tokens[token] = l
	}
	return l
}

func (v *MemoryVault) ToShare(token types.Address, amount *uint256.Int, roundUp bool) *uint256.Int {
	return v.Totals(token).ToBase(amount, roundUp)
}

func (v *MemoryVault) ToAmount(token types.Address, share *uint256.Int, roundUp bool) *uint256.Int {
	return v.Totals(token).ToElastic(share, roundUp)
}

func (v *MemoryVault) Totals(token types.Address) fpmath.Rebase {
	if l, ok := v.state.tokens[token]; ok {
		return l.totals
	}
	return fpmath.Rebase{}
}

func (v *MemoryVault) BalanceOf(token, owner types.Address) *uint256.Int {
	if l, ok := v.state.tokens[token]; ok {
		if b, ok := l.balances[owner]; ok {
			return b.Clone()
		}
	}
	return new(uint256.Int)
}

// WalletBalance returns tokens held outside the vault.
func (v *MemoryVault) WalletBalance(token, owner types.Address) *uint256.Int {
	if w, ok := v.state.wallets[token]; ok {
		if b, ok := w[owner]; ok {
			return b.Clone()
		}
	}
	return new(uint256.Int)
}

// Credit records tokens arriving in an account's wallet from outside.
func (v *MemoryVault) Credit(token, to types.Address, amount *uint256.Int) error {
	next, err := fpmath.Add(v.WalletBalance(token, to), amount)
	if err != nil {
		return err
	}
	v.setWallet(token, to, next)
	return nil
}

func (v *MemoryVault) setWallet(token, owner types.Address, amount *uint256.Int) {
	w, ok := v.state.wallets[token]
	if !ok {
		w = make(map[types.Address]*uint256.Int)
		v.state.wallets[token] = w
	}
	w[owner] = amount
}

// AddProfit grows the amount backing a token's shares, as strategy yield
// or a positive rebase would.
func (v *MemoryVault) AddProfit(token types.Address, amount *uint256.Int) error {
	l := v.ledger(token)
	if l.totals.Base.IsZero() {
		return fmt.Errorf("vault: no shares outstanding for %s", token)
	}
	return l.totals.AddElastic(amount)
}

// RegisterProtocol binds a clone (a pair) to its master contract so that
// approvals granted to the master cover it.
func (v *MemoryVault) RegisterProtocol(clone, master types.Address) {
	v.state.masterOf[clone] = master
}

// WhitelistMasterContract allows users to approve master directly.
func (v *MemoryVault) WhitelistMasterContract(master types.Address, approved bool) {
	v.state.whitelisted[master] = approved
}

// MasterContractApproved reports whether user approved master.
func (v *MemoryVault) MasterContractApproved(master, user types.Address) bool {
	return v.state.approved[master][user]
}

func (v *MemoryVault) Nonce(user types.Address) uint64 {
	return v.state.nonces[user]
}

func (v *MemoryVault) allowed(caller, from types.Address) error {
	if from == caller {
		return nil
	}
	master, ok := v.state.masterOf[caller]
	if !ok || master == types.ZeroAddress {
		return fmt.Errorf("%w: caller %s", ErrNoMasterContract, caller)
	}
	if !v.state.approved[master][from] {
		return fmt.Errorf("%w: %s for %s", ErrNotApproved, from, caller)
	}
	return nil
}

func (v *MemoryVault) Deposit(caller, token, from, to types.Address, amount, share *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if to == types.ZeroAddress {
		return nil, nil, ErrZeroAddress
	}
	if err := v.allowed(caller, from); err != nil {
		return nil, nil, err
	}
	l := v.ledger(token)
	amount, share = amount.Clone(), share.Clone()
	if share.IsZero() {
		share = l.totals.ToBase(amount, false)
		if new(uint256.Int).Add(&l.totals.Base, share).Lt(uint256.NewInt(MinimumShareBalance)) {
			return new(uint256.Int), new(uint256.Int), nil
		}
	} else {
		amount = l.totals.ToElastic(share, true)
	}

	wallet := v.WalletBalance(token, from)
	remaining, err := fpmath.Sub(wallet, amount)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientWallet, from, wallet.Dec(), amount.Dec())
	}
	if err := l.totals.AddBoth(amount, share); err != nil {
		return nil, nil, err
	}
	v.setWallet(token, from, remaining)
	l.balances[to] = new(uint256.Int).Add(balanceOrZero(l.balances[to]), share)
	return amount, share, nil
}

func (v *MemoryVault) Withdraw(caller, token, from, to types.Address, amount, share *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if to == types.ZeroAddress {
		return nil, nil, ErrZeroAddress
	}
	if err := v.allowed(caller, from); err != nil {
		return nil, nil, err
	}
	l := v.ledger(token)
	amount, share = amount.Clone(), share.Clone()
	if share.IsZero() {
		share = l.totals.ToBase(amount, true)
	} else {
		amount = l.totals.ToElastic(share, false)
	}

	bal, err := fpmath.Sub(balanceOrZero(l.balances[from]), share)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrInsufficientBalance, from)
	}
	totals := l.totals
	if err := totals.SubBoth(amount, share); err != nil {
		return nil, nil, err
	}
	if !totals.Base.IsZero() && totals.Base.Lt(uint256.NewInt(MinimumShareBalance)) {
		return nil, nil, ErrCannotEmpty
	}
	l.totals = totals
	l.balances[from] = bal
	if err := v.Credit(token, to, amount); err != nil {
		return nil, nil, err
	}
	return amount, share, nil
}

func (v *MemoryVault) Transfer(caller, token, from, to types.Address, share *uint256.Int) error {
	if to == types.ZeroAddress {
		return ErrZeroAddress
	}
	if err := v.allowed(caller, from); err != nil {
		return err
	}
	l := v.ledger(token)
	bal, err := fpmath.Sub(balanceOrZero(l.balances[from]), share)
	if err != nil {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, balanceOrZero(l.balances[from]).Dec(), share.Dec())
	}
	l.balances[from] = bal
	l.balances[to] = new(uint256.Int).Add(balanceOrZero(l.balances[to]), share)
	return nil
}

func (v *MemoryVault) TransferMultiple(caller, token, from types.Address, tos []types.Address, shares []*uint256.Int) error {
	if len(tos) != len(shares) {
		return ErrLengthMismatch
	}
	if len(tos) == 0 {
		return nil
	}
	if tos[0] == types.ZeroAddress {
		return ErrZeroAddress
	}
	if err := v.allowed(caller, from); err != nil {
		return err
	}
	total := new(uint256.Int)
	for _, s := range shares {
		next, err := fpmath.Add(total, s)
		if err != nil {
			return err
		}
		total = next
	}
	l := v.ledger(token)
	bal, err := fpmath.Sub(balanceOrZero(l.balances[from]), total)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, from)
	}
	l.balances[from] = bal
	for i, to := range tos {
		l.balances[to] = new(uint256.Int).Add(balanceOrZero(l.balances[to]), shares[i])
	}
	return nil
}

// Snapshot records the current state and returns its id.
func (v *MemoryVault) Snapshot() int {
	v.journal = append(v.journal, journalEntry{state: v.state.clone()})
	return len(v.journal) - 1
}

// RevertToSnapshot restores the state recorded by Snapshot(id) and drops
// it along with every later snapshot. Revert hooks registered under those
// snapshots run newest first.
func (v *MemoryVault) RevertToSnapshot(id int) {
	if id < 0 || id >= len(v.journal) {
		panic(fmt.Sprintf("%v: %d", ErrUnknownSnapshot, id))
	}
	dropped := v.journal[id:]
	v.state = dropped[0].state
	v.journal = v.journal[:id]
	for i := len(dropped) - 1; i >= 0; i-- {
		hooks := dropped[i].onRevert
		for k := len(hooks) - 1; k >= 0; k-- {
			hooks[k]()
		}
	}
}

// DiscardSnapshot keeps the current state and forgets snapshot id and
// every later one. Their hooks move to the enclosing snapshot; when there
// is none the commit hooks run.
func (v *MemoryVault) DiscardSnapshot(id int) {
	if id < 0 || id >= len(v.journal) {
		return
	}
	dropped := v.journal[id:]
	v.journal = v.journal[:id]
	if id > 0 {
		parent := &v.journal[id-1]
		for _, e := range dropped {
			parent.onCommit = append(parent.onCommit, e.onCommit...)
			parent.onRevert = append(parent.onRevert, e.onRevert...)
		}
		return
	}
	for _, e := range dropped {
		for _, fn := range e.onCommit {
			fn()
		}
	}
}

// OnCommit runs fn once the outermost open snapshot is discarded, or
// right away when no snapshot is open.
func (v *MemoryVault) OnCommit(fn func()) {
	if len(v.journal) == 0 {
		fn()
		return
	}
	top := &v.journal[len(v.journal)-1]
	top.onCommit = append(top.onCommit, fn)
}

// OnRevert runs fn if the innermost open snapshot, or any snapshot it is
// later folded into, is reverted. With no snapshot open it is a no-op.
func (v *MemoryVault) OnRevert(fn func()) {
	if len(v.journal) == 0 {
		return
	}
	top := &v.journal[len(v.journal)-1]
	top.onRevert = append(top.onRevert, fn)
}

// Tokens lists every token the vault has seen, in address order.
func (v *MemoryVault) Tokens() []types.Address {
	seen := make(map[types.Address]struct{})
	for t := range v.state.tokens {
		seen[t] = struct{}{}
	}
	for t := range v.state.wallets {
		seen[t] = struct{}{}
	}
	out := make([]types.Address, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func balanceOrZero(b *uint256.Int) *uint256.Int {
	if b == nil {
		return new(uint256.Int)
	}
	return b
}
