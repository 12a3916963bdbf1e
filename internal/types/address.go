package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const AddressLength = common.AddressLength

var ErrInvalidAddress = errors.New("types: invalid address")

// Address identifies an account, token, oracle, swapper or contract.
type Address = common.Address

// ZeroAddress is the unset identity.
var ZeroAddress Address

// HexToAddress parses a 0x-prefixed or bare 40-char hex string. Unlike
// common.HexToAddress it rejects malformed input.
func HexToAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return ZeroAddress, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// MustHexToAddress panics on malformed input; for constants and tests.
func MustHexToAddress(s string) Address {
	a, err := HexToAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// DeriveAddress builds a deterministic identity from a label, used for
// in-process contracts such as pairs and swappers.
func DeriveAddress(label string) Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label)))
}

// ParseAddress accepts a hex address or, failing that, a label that is
// turned into a derived address. Empty input is the zero address.
func ParseAddress(s string) Address {
	s = strings.TrimSpace(s)
	if s == "" {
		return ZeroAddress
	}
	if a, err := HexToAddress(s); err == nil {
		return a
	}
	return DeriveAddress(s)
}
