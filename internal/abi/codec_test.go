package abi_test

import (
	"math/big"
	"testing"

	"PairLedger/internal/abi"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout_StaticAndDynamic(t *testing.T) {
	l := abi.NewLayout(abi.Int256, abi.Address, abi.Bool, abi.Bytes, abi.Uint256s)
	to := types.DeriveAddress("bob")
	data, err := l.Pack(int64(-2), to, true, []byte("hello"), []*uint256.Int{uint256.NewInt(7), uint256.NewInt(9)})
	require.NoError(t, err)

	// Five head words, then the bytes tail (length + one padded word)
	// and the array tail (length + two words).
	assert.Len(t, data, 5*32+2*32+3*32)

	v, err := l.Unpack(data)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(-2), v.Int(0))
	assert.Equal(t, to, v.Address(1))
	assert.True(t, v.Bool(2))
	assert.Equal(t, []byte("hello"), v.Bytes(3))
	arr := v.Uints(4)
	require.Len(t, arr, 2)
	assert.Equal(t, uint64(9), arr[1].Uint64())
}

func TestLayout_Errors(t *testing.T) {
	_, err := abi.NewLayout(abi.Uint256).Unpack(make([]byte, 31))
	assert.Error(t, err)

	_, err = abi.NewLayout(abi.Uint256).Unpack(nil)
	assert.Error(t, err)

	two := abi.NewLayout(abi.Uint256).MustPack(uint256.NewInt(2))
	_, err = abi.NewLayout(abi.Bool).Unpack(two)
	assert.Error(t, err, "2 is not a boolean")

	wide := abi.NewLayout(abi.Uint256).MustPack(uint256.NewInt(256))
	_, err = abi.NewLayout(abi.Uint8).Unpack(wide)
	assert.Error(t, err, "256 overflows uint8")

	_, err = abi.NewLayout(abi.Address).Pack(uint256.NewInt(1))
	assert.Error(t, err)
}

func TestLayout_AddressArray(t *testing.T) {
	l := abi.NewLayout(abi.Address, abi.Addresses)
	tos := []types.Address{types.DeriveAddress("a"), types.DeriveAddress("b")}
	v, err := l.Unpack(l.MustPack(types.DeriveAddress("token"), tos))
	require.NoError(t, err)
	assert.Equal(t, tos, v.Addresses(1))
}

func TestLayout_TrailingWordsIgnored(t *testing.T) {
	data := abi.NewLayout(abi.Uint256, abi.Uint256).MustPack(uint256.NewInt(3), uint256.NewInt(4))
	v, err := abi.NewLayout(abi.Uint256).Unpack(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v.Uint(0).Uint64())
}
