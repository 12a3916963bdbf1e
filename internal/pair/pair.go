// Package pair implements an isolated lending pair: lenders supply one
// asset, borrowers post one collateral token against it, and a
// utilization-driven controller sets the interest rate. All balances are
// vault shares; debt is tracked in parts of a rebasing borrow total.
package pair

import (
	"PairLedger/internal/event"
	"PairLedger/internal/observability"
	"PairLedger/internal/oracle"
	"PairLedger/internal/types"
	"PairLedger/internal/vault"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Env is what a pair needs from its host.
type Env struct {
	Vault     vault.Vault
	Clock     Clock
	Contracts *Registry
	Sink      event.Sink
	Logger    zerolog.Logger
	Metrics   *observability.Metrics // optional
}

// Config is fixed at initialization.
type Config struct {
	Collateral types.Address
	Asset      types.Address
	Oracle     oracle.Oracle
	// OracleID identifies the oracle in events and snapshots.
	OracleID   types.Address
	OracleData []byte
	Interest   InterestModel
}

// Pair is a single collateral/asset market. It is not safe for concurrent
// use; the engine serialises all calls.
type Pair struct {
	address     types.Address
	master      *Master
	env         Env
	cfg         Config
	initialized bool

	st *state

	// transaction bookkeeping, see atomic.go
	depth   int
	pending []event.Event

	log zerolog.Logger
}

func New(address types.Address, master *Master, env Env) *Pair {
	if env.Clock == nil {
		env.Clock = SystemClock{}
	}
	if env.Contracts == nil {
		env.Contracts = NewRegistry()
	}
	return &Pair{
		address: address,
		master:  master,
		env:     env,
		st:      newState(),
		log:     env.Logger.With().Str("pair", address.Hex()).Logger(),
	}
}

// Init configures the pair. It can only run once.
func (p *Pair) Init(cfg Config) error {
	if p.initialized {
		return ErrAlreadyInitialized
	}
	if cfg.Collateral == types.ZeroAddress || cfg.Oracle == nil {
		return ErrBadPair
	}
	// Asset and collateral must be distinct vault balances.
	if cfg.Collateral == cfg.Asset {
		return ErrBadPair
	}
	cfg.Interest = cfg.Interest.withDefaults()
	if err := cfg.Interest.Validate(); err != nil {
		return wrap(ErrBadPair, err)
	}
	p.cfg = cfg
	p.initialized = true
	p.st.accrue.InterestPerSecond = cfg.Interest.StartingRate

	p.emit(&event.Initialized{
		Pair:       p.address,
		Collateral: cfg.Collateral,
		Asset:      cfg.Asset,
		Oracle:     cfg.OracleID,
	})
	p.flush()
	p.log.Info().
		Str("collateral", cfg.Collateral.Hex()).
		Str("asset", cfg.Asset.Hex()).
		Str("oracle", cfg.Oracle.Name(cfg.OracleData)).
		Msg("pair initialized")
	return nil
}

func (p *Pair) Address() types.Address { return p.address }
func (p *Pair) Master() *Master         { return p.master }
func (p *Pair) Config() Config          { return p.cfg }
func (p *Pair) Initialized() bool       { return p.initialized }

// SetSink redirects committed events.
func (p *Pair) SetSink(sink event.Sink) { p.env.Sink = sink }

func (p *Pair) TotalAsset() (elastic, base *uint256.Int) {
	return p.st.totalAsset.Elastic.Clone(), p.st.totalAsset.Base.Clone()
}

func (p *Pair) TotalBorrow() (elastic, base *uint256.Int) {
	return p.st.totalBorrow.Elastic.Clone(), p.st.totalBorrow.Base.Clone()
}

func (p *Pair) TotalCollateralShare() *uint256.Int { return p.st.totalCollateralShare.Clone() }

func (p *Pair) ExchangeRate() *uint256.Int { return p.st.exchangeRate.Clone() }

func (p *Pair) AccrueInfo() AccrueInfo { return p.st.accrue }

// Position returns a copy of the user's position.
func (p *Pair) Position(user types.Address) *Position {
	var cp Position
	if pos, ok := p.st.positions[user]; ok {
		cp = *pos
	}
	return &cp
}

// BalanceOf returns the user's lender fractions.
func (p *Pair) BalanceOf(user types.Address) *uint256.Int { return p.st.balance(user) }

// Users lists every account with an open position, in address order.
func (p *Pair) Users() []types.Address { return sortedAddresses(p.st.positions) }

// Lenders lists every account holding fractions, in address order.
func (p *Pair) Lenders() []types.Address { return sortedAddresses(p.st.balances) }

func (p *Pair) now() uint64 { return p.env.Clock.Now() }

func (p *Pair) vault() vault.Vault { return p.env.Vault }

func (p *Pair) metrics() *observability.Metrics { return p.env.Metrics }

func (p *Pair) requireInit() error {
	if !p.initialized {
		return ErrNotInitialized
	}
	return nil
}
