// Package abi holds the argument layouts used for cook action payloads,
// callee calldata and oracle configuration blobs. Encoding is go-ethereum's
// contract ABI codec; this package only adapts it to uint256 values.
package abi

import (
	"math/big"

	"PairLedger/internal/types"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/holiman/uint256"
)

const WordSize = 32

var (
	Int256    = mustType("int256")
	Uint256   = mustType("uint256")
	Uint8     = mustType("uint8")
	Bool      = mustType("bool")
	Address   = mustType("address")
	Bytes32   = mustType("bytes32")
	Bytes     = mustType("bytes")
	Addresses = mustType("address[]")
	Uint256s  = mustType("uint256[]")
)

func mustType(name string) ethabi.Type {
	t, err := ethabi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// Layout is the ordered argument list of one payload.
type Layout struct {
	args ethabi.Arguments
}

func NewLayout(ts ...ethabi.Type) Layout {
	args := make(ethabi.Arguments, len(ts))
	for i, t := range ts {
		args[i] = ethabi.Argument{Type: t}
	}
	return Layout{args: args}
}

func (l Layout) Len() int { return len(l.args) }

// Pack encodes values the way abi.encode does. Integers may be given as
// *uint256.Int, int64 or *big.Int; uint256 arrays as []*uint256.Int.
func (l Layout) Pack(values ...any) ([]byte, error) {
	conv := make([]any, len(values))
	for i, v := range values {
		conv[i] = toABI(v)
	}
	return l.args.Pack(conv...)
}

// MustPack is Pack for values whose types are fixed by the caller.
func (l Layout) MustPack(values ...any) []byte {
	out, err := l.Pack(values...)
	if err != nil {
		panic(err)
	}
	return out
}

// Unpack decodes data. Trailing bytes past the layout are ignored.
func (l Layout) Unpack(data []byte) (Values, error) {
	out, err := l.args.Unpack(data)
	if err != nil {
		return nil, err
	}
	return Values(out), nil
}

func toABI(v any) any {
	switch x := v.(type) {
	case *uint256.Int:
		return x.ToBig()
	case int64:
		return big.NewInt(x)
	case []*uint256.Int:
		out := make([]*big.Int, len(x))
		for i, n := range x {
			out[i] = n.ToBig()
		}
		return out
	default:
		return v
	}
}

// Values are decoded arguments. The accessors assume the Go type the
// layout produced at index i.
type Values []any

func (v Values) Uint(i int) *uint256.Int {
	n, _ := uint256.FromBig(v[i].(*big.Int))
	return n
}

// Int returns a signed argument.
func (v Values) Int(i int) *big.Int { return v[i].(*big.Int) }

func (v Values) Uint8(i int) uint8 { return v[i].(uint8) }

func (v Values) Bool(i int) bool { return v[i].(bool) }

func (v Values) Address(i int) types.Address { return v[i].(types.Address) }

func (v Values) Bytes32(i int) [32]byte { return v[i].([32]byte) }

func (v Values) Bytes(i int) []byte { return v[i].([]byte) }

func (v Values) Addresses(i int) []types.Address { return v[i].([]types.Address) }

func (v Values) Uints(i int) []*uint256.Int {
	raw := v[i].([]*big.Int)
	out := make([]*uint256.Int, len(raw))
	for k, n := range raw {
		out[k], _ = uint256.FromBig(n)
	}
	return out
}
