package vault

import (
	"fmt"

	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// TokenSnapshot is the serialisable form of one token's ledger.
type TokenSnapshot struct {
	Token    types.Address            `json:"token"`
	Elastic  string                   `json:"elastic"`
	Base     string                   `json:"base"`
	Balances map[types.Address]string `json:"balances"`
	Wallets  map[types.Address]string `json:"wallets"`
}

// MemorySnapshot is the serialisable form of a MemoryVault.
type MemorySnapshot struct {
	Tokens      []TokenSnapshot                   `json:"tokens"`
	MasterOf    map[types.Address]types.Address   `json:"master_of"`
	Whitelisted []types.Address                   `json:"whitelisted"`
	Approvals   map[types.Address][]types.Address `json:"approvals"`
	Nonces      map[types.Address]uint64          `json:"nonces"`
}

// Export captures the vault for engine snapshots.
func (v *MemoryVault) Export() MemorySnapshot {
	snap := MemorySnapshot{
		MasterOf:  make(map[types.Address]types.Address, len(v.state.masterOf)),
		Approvals: make(map[types.Address][]types.Address),
		Nonces:    make(map[types.Address]uint64, len(v.state.nonces)),
	}
	for _, token := range v.Tokens() {
		ts := TokenSnapshot{
			Token:    token,
			Elastic:  "0",
			Base:     "0",
			Balances: make(map[types.Address]string),
			Wallets:  make(map[types.Address]string),
		}
		if l, ok := v.state.tokens[token]; ok {
			ts.Elastic = l.totals.Elastic.Dec()
			ts.Base = l.totals.Base.Dec()
			for owner, b := range l.balances {
				ts.Balances[owner] = b.Dec()
			}
		}
		for owner, b := range v.state.wallets[token] {
			ts.Wallets[owner] = b.Dec()
		}
		snap.Tokens = append(snap.Tokens, ts)
	}
	for k, m := range v.state.masterOf {
		snap.MasterOf[k] = m
	}
	for m, ok := range v.state.whitelisted {
		if ok {
			snap.Whitelisted = append(snap.Whitelisted, m)
		}
	}
	for master, users := range v.state.approved {
		for u, ok := range users {
			if ok {
				snap.Approvals[master] = append(snap.Approvals[master], u)
			}
		}
	}
	for u, n := range v.state.nonces {
		snap.Nonces[u] = n
	}
	return snap
}

// Restore replaces the vault state with snap and clears the journal.
func (v *MemoryVault) Restore(snap MemorySnapshot) error {
	st := newMemoryState()
	for _, ts := range snap.Tokens {
		l := &tokenLedger{balances: make(map[types.Address]*uint256.Int)}
		if err := l.totals.Elastic.SetFromDecimal(ts.Elastic); err != nil {
			return fmt.Errorf("token %s elastic: %w", ts.Token, err)
		}
		if err := l.totals.Base.SetFromDecimal(ts.Base); err != nil {
			return fmt.Errorf("token %s base: %w", ts.Token, err)
		}
		for owner, s := range ts.Balances {
			b, err := uint256.FromDecimal(s)
			if err != nil {
				return fmt.Errorf("token %s balance %s: %w", ts.Token, owner, err)
			}
			l.balances[owner] = b
		}
		st.tokens[ts.Token] = l
		if len(ts.Wallets) > 0 {
			w := make(map[types.Address]*uint256.Int, len(ts.Wallets))
			for owner, s := range ts.Wallets {
				b, err := uint256.FromDecimal(s)
				if err != nil {
					return fmt.Errorf("token %s wallet %s: %w", ts.Token, owner, err)
				}
				w[owner] = b
			}
			st.wallets[ts.Token] = w
		}
	}
	for k, m := range snap.MasterOf {
		st.masterOf[k] = m
	}
	for _, m := range snap.Whitelisted {
		st.whitelisted[m] = true
	}
	for master, users := range snap.Approvals {
		m := make(map[types.Address]bool, len(users))
		for _, u := range users {
			m[u] = true
		}
		st.approved[master] = m
	}
	for u, n := range snap.Nonces {
		st.nonces[u] = n
	}
	v.state = st
	v.journal = nil
	return nil
}
