package config_test

import (
	"testing"

	"PairLedger/internal/config"
	"PairLedger/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
chain_id: 1
vault: vault
master:
  address: master
  owner: "0x00000000000000000000000000000000000000aa"
  fee_to: treasury
tokens:
  - name: WETH
  - name: USDC
    address: "0x00000000000000000000000000000000000000c1"
feeds:
  - address: eth-usd-feed
    answer: "2000000000000000000000"
oracles:
  - name: weth-usdc
    kind: aggregator
  - name: manual
    kind: fixed
    rate: "500000000000000000000000000"
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
    oracle_data:
      divide: eth-usd-feed
      decimals: "1000000000000"
  - name: weth-usdc-manual
    collateral: WETH
    asset: USDC
    oracle: manual
    interest:
      starting_rate: 317097920
`

func TestParse_Sample(t *testing.T) {
	m, err := config.Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), m.ChainID)
	require.Len(t, m.Pairs, 2)
	assert.Equal(t, types.DeriveAddress("WETH"), m.TokenAddress("WETH"))
	assert.Equal(t, types.MustHexToAddress("0x00000000000000000000000000000000000000c1"), m.TokenAddress("USDC"))
	assert.Equal(t, types.DeriveAddress("pair:weth-usdc"), m.Pairs[0].PairAddress())
	assert.Equal(t, uint64(317097920), m.Pairs[1].Interest.StartingRate)
	assert.True(t, m.Swappers[0].Allowed)
}

func TestParse_UnknownOracle(t *testing.T) {
	_, err := config.Parse([]byte(`
vault: v
master: {address: m, owner: o}
pairs:
  - name: p
    collateral: c
    oracle: nope
`))
	require.ErrorIs(t, err, config.ErrInvalidMarkets)
}

func TestParse_BadFixedRate(t *testing.T) {
	_, err := config.Parse([]byte(`
vault: v
master: {address: m, owner: o}
oracles:
  - name: x
    kind: fixed
    rate: "-5"
`))
	require.ErrorIs(t, err, config.ErrInvalidMarkets)
}

func TestParse_DuplicatePair(t *testing.T) {
	_, err := config.Parse([]byte(`
vault: v
master: {address: m, owner: o}
oracles: [{name: x, kind: fixed, rate: "1"}]
pairs:
  - {name: p, collateral: c, oracle: x}
  - {name: p, collateral: c, oracle: x}
`))
	require.ErrorIs(t, err, config.ErrInvalidMarkets)
}

func TestParse_SameTokenPair(t *testing.T) {
	_, err := config.Parse([]byte(`
vault: v
master: {address: m, owner: o}
tokens: [{name: WETH}]
oracles: [{name: x, kind: fixed, rate: "1"}]
pairs:
  - {name: p, collateral: WETH, asset: WETH, oracle: x}
`))
	require.ErrorIs(t, err, config.ErrInvalidMarkets)
	assert.Contains(t, err.Error(), "same token")
}
