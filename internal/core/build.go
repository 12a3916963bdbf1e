package core

import (
	"fmt"

	"PairLedger/internal/config"
	"PairLedger/internal/oracle"
	"PairLedger/internal/pair"
	"PairLedger/internal/swapper"
	"PairLedger/internal/types"
	"PairLedger/internal/vault"

	"github.com/holiman/uint256"
)

// NewFromMarkets builds the genesis engine described by a markets file:
// vault, master, feeds, oracles, pools and initialized pairs.
func NewFromMarkets(m *config.Markets, opts Options) (*Engine, error) {
	v := vault.NewMemoryVault(types.ParseAddress(m.Vault), m.ChainID)
	master := pair.NewMaster(types.ParseAddress(m.Master.Address), types.ParseAddress(m.Master.Owner), nil)
	e := NewEngine(v, master, opts)
	owner := master.Owner()

	if m.Master.FeeTo != "" {
		if err := master.SetFeeTo(owner, types.ParseAddress(m.Master.FeeTo)); err != nil {
			return nil, fmt.Errorf("genesis fee_to: %w", err)
		}
	}
	v.WhitelistMasterContract(master.Address(), true)

	for _, f := range m.Feeds {
		answer, err := config.ParseAmount(f.Answer)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", f.Address, err)
		}
		e.AddFeed(types.ParseAddress(f.Address), answer)
	}

	oracles := make(map[string]config.OracleConfig, len(m.Oracles))
	for _, o := range m.Oracles {
		oracles[o.Name] = o
		if o.Kind == config.OracleFixed {
			r, err := config.ParseAmount(o.Rate)
			if err != nil {
				return nil, fmt.Errorf("oracle %s: %w", o.Name, err)
			}
			e.AddFixedOracle(o.OracleAddress(), oracle.NewFixed(o.Name, r))
		}
	}

	for _, s := range m.Swappers {
		pool := swapper.NewPool(types.ParseAddress(s.Address), m.TokenAddress(s.TokenA), m.TokenAddress(s.TokenB), s.FeeBps, v)
		e.AddPool(pool)
		if s.Allowed {
			if err := master.SetSwapper(owner, pool.Address(), true); err != nil {
				return nil, fmt.Errorf("genesis swapper %s: %w", s.Address, err)
			}
		}
	}

	for _, pc := range m.Pairs {
		cfg, err := e.pairConfig(m, pc, oracles[pc.Oracle])
		if err != nil {
			return nil, err
		}
		if _, err := e.AddPair(pc.Name, pc.PairAddress(), cfg); err != nil {
			return nil, err
		}
	}

	// Genesis master events are not part of any command.
	e.pending.drain()
	return e, nil
}

func (e *Engine) pairConfig(m *config.Markets, pc config.PairConfig, oc config.OracleConfig) (pair.Config, error) {
	cfg := pair.Config{
		Collateral: m.TokenAddress(pc.Collateral),
		OracleID:   oc.OracleAddress(),
	}
	if pc.Asset != "" {
		cfg.Asset = m.TokenAddress(pc.Asset)
	}

	switch oc.Kind {
	case config.OracleFixed:
		cfg.Oracle = e.fixed[oc.OracleAddress()]
	case config.OracleAggregator:
		cfg.Oracle = e.aggregator
		decimals, err := config.ParseAmount(pc.OracleData.Decimals)
		if err != nil {
			return cfg, fmt.Errorf("pair %s oracle decimals: %w", pc.Name, err)
		}
		if decimals.IsZero() {
			decimals = uint256.NewInt(1)
		}
		var multiply, divide types.Address
		if pc.OracleData.Multiply != "" {
			multiply = types.ParseAddress(pc.OracleData.Multiply)
		}
		if pc.OracleData.Divide != "" {
			divide = types.ParseAddress(pc.OracleData.Divide)
		}
		cfg.OracleData = oracle.AggregatorData(multiply, divide, decimals)
	}

	in := pc.Interest
	cfg.Interest = pair.InterestModel{
		StartingRate:             in.StartingRate,
		MinimumRate:              in.MinimumRate,
		MaximumRate:              in.MaximumRate,
		MinimumTargetUtilization: in.MinimumTargetUtilization,
		MaximumTargetUtilization: in.MaximumTargetUtilization,
	}
	if in.Elasticity != "" {
		el, err := config.ParseAmount(in.Elasticity)
		if err != nil {
			return cfg, fmt.Errorf("pair %s elasticity: %w", pc.Name, err)
		}
		cfg.Interest.Elasticity = el
	}
	return cfg, nil
}
