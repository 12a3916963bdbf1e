// Package config loads the markets file: the vault, master contract,
// tokens, oracles, swappers and pairs an engine hosts.
//
// Every address field accepts either a 0x-prefixed hex address or a
// free-form label, which is turned into a derived address.
package config

import (
	"errors"
	"fmt"
	"os"

	"PairLedger/internal/types"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

const (
	OracleFixed      = "fixed"
	OracleAggregator = "aggregator"
)

var ErrInvalidMarkets = errors.New("config: invalid markets file")

// Markets is the root of the markets file.
type Markets struct {
	ChainID uint64 `yaml:"chain_id"`
	Vault   string `yaml:"vault"`

	Master   MasterConfig    `yaml:"master"`
	Tokens   []TokenConfig   `yaml:"tokens"`
	Feeds    []FeedConfig    `yaml:"feeds"`
	Oracles  []OracleConfig  `yaml:"oracles"`
	Swappers []SwapperConfig `yaml:"swappers"`
	Pairs    []PairConfig    `yaml:"pairs"`
}

type MasterConfig struct {
	Address string `yaml:"address"`
	Owner   string `yaml:"owner"`
	FeeTo   string `yaml:"fee_to"`
}

type TokenConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// FeedConfig is a price feed that feed_price commands update.
type FeedConfig struct {
	Address string `yaml:"address"`
	Answer  string `yaml:"answer"`
}

type OracleConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Kind    string `yaml:"kind"`
	// Rate seeds a fixed oracle; collateral units per asset unit, 1e18 scale.
	Rate string `yaml:"rate"`
}

type SwapperConfig struct {
	Address string `yaml:"address"`
	TokenA  string `yaml:"token_a"`
	TokenB  string `yaml:"token_b"`
	FeeBps  uint64 `yaml:"fee_bps"`
	// Allowed adds the swapper to the master allowlist at genesis.
	Allowed bool `yaml:"allowed"`
}

// OracleDataConfig is the aggregator data blob in readable form.
type OracleDataConfig struct {
	Multiply string `yaml:"multiply"`
	Divide   string `yaml:"divide"`
	Decimals string `yaml:"decimals"`
}

type InterestConfig struct {
	StartingRate             uint64 `yaml:"starting_rate"`
	MinimumRate              uint64 `yaml:"minimum_rate"`
	MaximumRate              uint64 `yaml:"maximum_rate"`
	MinimumTargetUtilization uint64 `yaml:"minimum_target_utilization"`
	MaximumTargetUtilization uint64 `yaml:"maximum_target_utilization"`
	// Elasticity in decimal, scaled by 1e36. Empty keeps the default.
	Elasticity string `yaml:"elasticity"`
}

type PairConfig struct {
	Name       string           `yaml:"name"`
	Address    string           `yaml:"address"`
	Collateral string           `yaml:"collateral"`
	Asset      string           `yaml:"asset"`
	Oracle     string           `yaml:"oracle"`
	OracleData OracleDataConfig `yaml:"oracle_data"`
	Interest   InterestConfig   `yaml:"interest"`
}

// Load reads and validates a markets file.
func Load(path string) (*Markets, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markets %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a markets document.
func Parse(raw []byte) (*Markets, error) {
	var m Markets
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMarkets, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks cross references and numeric fields.
func (m *Markets) Validate() error {
	if m.Vault == "" {
		return fmt.Errorf("%w: vault is required", ErrInvalidMarkets)
	}
	if m.Master.Address == "" || m.Master.Owner == "" {
		return fmt.Errorf("%w: master address and owner are required", ErrInvalidMarkets)
	}
	oracles := make(map[string]bool, len(m.Oracles))
	for _, o := range m.Oracles {
		if o.Name == "" {
			return fmt.Errorf("%w: oracle without name", ErrInvalidMarkets)
		}
		switch o.Kind {
		case OracleFixed:
			if _, err := ParseAmount(o.Rate); err != nil {
				return fmt.Errorf("%w: oracle %s rate: %v", ErrInvalidMarkets, o.Name, err)
			}
		case OracleAggregator:
		default:
			return fmt.Errorf("%w: oracle %s has unknown kind %q", ErrInvalidMarkets, o.Name, o.Kind)
		}
		oracles[o.Name] = true
	}
	for _, f := range m.Feeds {
		if f.Address == "" {
			return fmt.Errorf("%w: feed without address", ErrInvalidMarkets)
		}
		if f.Answer != "" {
			if _, err := ParseAmount(f.Answer); err != nil {
				return fmt.Errorf("%w: feed %s answer: %v", ErrInvalidMarkets, f.Address, err)
			}
		}
	}
	for _, s := range m.Swappers {
		if s.Address == "" || s.TokenA == "" || s.TokenB == "" {
			return fmt.Errorf("%w: swapper needs address, token_a and token_b", ErrInvalidMarkets)
		}
		if s.FeeBps >= 10_000 {
			return fmt.Errorf("%w: swapper %s fee_bps %d", ErrInvalidMarkets, s.Address, s.FeeBps)
		}
	}
	names := make(map[string]bool, len(m.Pairs))
	for _, p := range m.Pairs {
		if p.Name == "" {
			return fmt.Errorf("%w: pair without name", ErrInvalidMarkets)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate pair %s", ErrInvalidMarkets, p.Name)
		}
		names[p.Name] = true
		if !oracles[p.Oracle] {
			return fmt.Errorf("%w: pair %s references unknown oracle %q", ErrInvalidMarkets, p.Name, p.Oracle)
		}
		if p.Collateral == "" {
			return fmt.Errorf("%w: pair %s has no collateral", ErrInvalidMarkets, p.Name)
		}
		if m.TokenAddress(p.Collateral) == m.TokenAddress(p.Asset) {
			return fmt.Errorf("%w: pair %s lends and borrows against the same token", ErrInvalidMarkets, p.Name)
		}
	}
	return nil
}

// TokenAddress resolves a token name declared under tokens, or falls
// back to address parsing.
func (m *Markets) TokenAddress(ref string) types.Address {
	for _, t := range m.Tokens {
		if t.Name == ref {
			if t.Address == "" {
				return types.DeriveAddress(t.Name)
			}
			return types.ParseAddress(t.Address)
		}
	}
	return types.ParseAddress(ref)
}

// OracleAddress is the identity recorded for an oracle in events.
func (o OracleConfig) OracleAddress() types.Address {
	if o.Address == "" {
		return types.DeriveAddress("oracle:" + o.Name)
	}
	return types.ParseAddress(o.Address)
}

// PairAddress defaults to an address derived from the pair name.
func (p PairConfig) PairAddress() types.Address {
	if p.Address == "" {
		return types.DeriveAddress("pair:" + p.Name)
	}
	return types.ParseAddress(p.Address)
}

// ParseAmount parses a non-negative decimal; empty means zero.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(s)
}
