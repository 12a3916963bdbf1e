package vault

import (
	"encoding/binary"
	"sort"

	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// CanonicalBytes for deterministic hashing. Zero balances are skipped so
// that an account emptied by a transfer hashes like one never touched.
func (v *MemoryVault) CanonicalBytes() []byte {
	buf := make([]byte, 0, 1024)
	buf = append(buf, v.address[:]...)
	for _, token := range v.Tokens() {
		buf = append(buf, token[:]...)
		var elastic, base uint256.Int
		var balances map[types.Address]*uint256.Int
		if l, ok := v.state.tokens[token]; ok {
			elastic, base, balances = l.totals.Elastic, l.totals.Base, l.balances
		}
		buf = appendWord(buf, &elastic)
		buf = appendWord(buf, &base)
		buf = appendBalances(buf, balances)
		buf = append(buf, 0xff)
		buf = appendBalances(buf, v.state.wallets[token])
	}
	for _, user := range sortedKeys(v.state.nonces) {
		buf = append(buf, user[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, v.state.nonces[user])
	}
	for _, master := range sortedKeys(v.state.approved) {
		users := v.state.approved[master]
		for _, u := range sortedKeys(users) {
			if users[u] {
				buf = append(buf, master[:]...)
				buf = append(buf, u[:]...)
			}
		}
	}
	return buf
}

func appendBalances(buf []byte, balances map[types.Address]*uint256.Int) []byte {
	for _, owner := range sortedKeys(balances) {
		b := balances[owner]
		if b == nil || b.IsZero() {
			continue
		}
		buf = append(buf, owner[:]...)
		buf = appendWord(buf, b)
	}
	return buf
}

func appendWord(buf []byte, v *uint256.Int) []byte {
	w := v.Bytes32()
	return append(buf, w[:]...)
}

func sortedKeys[V any](m map[types.Address]V) []types.Address {
	out := make([]types.Address, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out
}
