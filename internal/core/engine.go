package core

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"PairLedger/internal/event"
	"PairLedger/internal/observability"
	"PairLedger/internal/oracle"
	"PairLedger/internal/pair"
	"PairLedger/internal/swapper"
	"PairLedger/internal/types"
	"PairLedger/internal/vault"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Engine is the single-threaded command processor. It hosts one vault, one
// master contract and every pair, oracle and swapper built from the
// markets file. Not thread-safe; see Runner for concurrent access.
type Engine struct {
	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	nonces      *NonceValidator
	clock       *blockClock

	vault      *vault.MemoryVault
	master     *pair.Master
	registry   *pair.Registry
	aggregator *oracle.Aggregator
	feeds      map[types.Address]*oracle.StaticFeed
	fixed      map[types.Address]*oracle.Fixed
	prices     map[types.Address]*uint256.Int // last answer per feed or fixed oracle
	pairs      map[types.Address]*hostedPair
	pairNames  map[string]types.Address
	pools      map[types.Address]*swapper.Pool

	pending eventBuffer

	metrics *observability.Metrics
	log     zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type hostedPair struct {
	name string
	pair *pair.Pair
}

// Options configures a new Engine.
type Options struct {
	// StartSequence is the sequence assigned to the first command; 0 means 1.
	StartSequence int64
	// GenesisTime is the block time before any command runs.
	GenesisTime uint64

	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput

	DBChecker   DBIdempotencyChecker
	LRUCapacity int

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// CoreOutput is what one applied command produces for the workers.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Command  Command
	// Pair is nil for commands that do not touch a pair.
	Pair *PairState
}

// PairState carries the pair totals after a command and the positions
// and lender balances of the accounts the command touched.
type PairState struct {
	Name    string
	Address types.Address
	State   pair.Snapshot
}

// Receipt is returned to the submitter of an applied command.
type Receipt struct {
	Sequence  int64             `json:"sequence"`
	StateHash types.HexBytes    `json:"state_hash"`
	Events    []event.Record    `json:"events"`
	Returns   map[string]string `json:"returns,omitempty"`
}

// blockClock is the engine-owned pair.Clock. Unlike pair.ManualClock it
// can be put back when a command fails.
type blockClock struct {
	now uint64
}

func (c *blockClock) Now() uint64 { return c.now }

// eventBuffer collects committed events from the master and every pair
// until the command finishes.
type eventBuffer struct {
	events []event.Event
}

func (b *eventBuffer) Emit(e event.Event) { b.events = append(b.events, e) }

func (b *eventBuffer) drain() []event.Event {
	out := b.events
	b.events = nil
	return out
}

// NewEngine builds an empty engine around v and master. Pairs, feeds and
// swappers are added with the Add* methods or by NewFromMarkets.
func NewEngine(v *vault.MemoryVault, master *pair.Master, opts Options) *Engine {
	capacity := opts.LRUCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}
	start := opts.StartSequence
	if start <= 0 {
		start = 1
	}
	e := &Engine{
		sequence:       start,
		hasher:         NewStateHasher(),
		idempotency:    NewIdempotencyChecker(capacity, opts.DBChecker, opts.Metrics, opts.Logger),
		nonces:         NewNonceValidator(opts.Metrics),
		clock:          &blockClock{now: opts.GenesisTime},
		vault:          v,
		master:         master,
		registry:       pair.NewRegistry(),
		aggregator:     oracle.NewAggregator(),
		feeds:          make(map[types.Address]*oracle.StaticFeed),
		fixed:          make(map[types.Address]*oracle.Fixed),
		prices:         make(map[types.Address]*uint256.Int),
		pairs:          make(map[types.Address]*hostedPair),
		pairNames:      make(map[string]types.Address),
		pools:          make(map[types.Address]*swapper.Pool),
		metrics:        opts.Metrics,
		log:            opts.Logger.With().Str("component", "engine").Logger(),
		persistChan:    opts.PersistChan,
		projectionChan: opts.ProjectionChan,
	}
	master.SetSink(&e.pending)
	return e
}

// --- hosting ---

// AddFeed registers a price feed the aggregator oracle can read.
func (e *Engine) AddFeed(addr types.Address, answer *uint256.Int) {
	f := oracle.NewStaticFeed(answer)
	e.feeds[addr] = f
	e.prices[addr] = answer.Clone()
	e.aggregator.Register(addr, f)
}

// AddFixedOracle registers a fixed-rate oracle whose rate feed_price can
// move.
func (e *Engine) AddFixedOracle(addr types.Address, o *oracle.Fixed) {
	e.fixed[addr] = o
	_, r := o.Peek(nil)
	e.prices[addr] = r
}

// AddPool registers a constant-product pool as a swapper.
func (e *Engine) AddPool(p *swapper.Pool) {
	e.pools[p.Address()] = p
	e.registry.RegisterSwapper(p)
}

// RegisterCallee makes a contract reachable from the cook CALL action.
func (e *Engine) RegisterCallee(addr types.Address, c pair.Callee) {
	e.registry.RegisterCallee(addr, c)
}

// AddPair creates, initializes and registers a pair with the vault.
func (e *Engine) AddPair(name string, addr types.Address, cfg pair.Config) (*pair.Pair, error) {
	if _, ok := e.pairNames[name]; ok {
		return nil, fmt.Errorf("add pair %s: name already registered", name)
	}
	if _, ok := e.pairs[addr]; ok {
		return nil, fmt.Errorf("add pair %s: address %s already registered", name, addr)
	}
	p := pair.New(addr, e.master, pair.Env{
		Vault:     e.vault,
		Clock:     e.clock,
		Contracts: e.registry,
		Sink:      &e.pending,
		Logger:    e.log,
		Metrics:   e.metrics,
	})
	if err := p.Init(cfg); err != nil {
		return nil, fmt.Errorf("init pair %s: %w", name, err)
	}
	// Initialization events belong to genesis, not to a command.
	e.pending.drain()

	e.vault.RegisterProtocol(addr, e.master.Address())
	e.pairs[addr] = &hostedPair{name: name, pair: p}
	e.pairNames[name] = addr
	return p, nil
}

// Aggregator exposes the shared aggregator oracle.
func (e *Engine) Aggregator() *oracle.Aggregator { return e.aggregator }

func (e *Engine) Vault() *vault.MemoryVault { return e.vault }

func (e *Engine) Master() *pair.Master { return e.master }

// Pair resolves a pair by name or address.
func (e *Engine) Pair(ref string) (*pair.Pair, bool) {
	hp, err := e.lookupPair(ref)
	if err != nil {
		return nil, false
	}
	return hp.pair, true
}

// PairNames lists hosted pairs in name order.
func (e *Engine) PairNames() []string {
	out := make([]string, 0, len(e.pairNames))
	for n := range e.pairNames {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Now is the current block time.
func (e *Engine) Now() uint64 { return e.clock.now }

// ExpectedNonce is the next nonce sender must use.
func (e *Engine) ExpectedNonce(sender types.Address) uint64 { return e.nonces.Expected(sender) }

// PairStatus returns the totals of a pair and the positions and balances
// of the given users.
func (e *Engine) PairStatus(ref string, users ...types.Address) (*PairState, error) {
	hp, err := e.lookupPair(ref)
	if err != nil {
		return nil, err
	}
	return pairState(hp, users), nil
}

func (e *Engine) lookupPair(ref string) (*hostedPair, error) {
	if addr, ok := e.pairNames[ref]; ok {
		return e.pairs[addr], nil
	}
	if addr, err := types.HexToAddress(ref); err == nil {
		if hp, ok := e.pairs[addr]; ok {
			return hp, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPair, ref)
}

// --- processing ---

// Process is the main processing pipeline. A rejected command leaves all
// state, including its idempotency key and the sender's nonce, unchanged.
func (e *Engine) Process(cmd Command) (*Receipt, error) {
	start := time.Now()
	kind := string(cmd.Kind)

	if err := cmd.Validate(); err != nil {
		e.reject(kind, "invalid")
		return nil, err
	}

	// Step 1: Idempotency check (two-tier)
	if e.idempotency.IsDuplicate(kind, cmd.IdempotencyKey) {
		e.reject(kind, "duplicate")
		return nil, fmt.Errorf("%w: %s %s", ErrDuplicate, kind, cmd.IdempotencyKey)
	}

	// Steps 2-6: nonce, clock, dispatch, post-check, hash
	output, receipt, err := e.apply(&cmd)
	if err != nil {
		return nil, err
	}

	// Step 7: Emit outputs. Persistence blocks; projections drop on full.
	e.emit(output)

	// Step 8: Mark as processed
	e.idempotency.MarkProcessed(kind, cmd.IdempotencyKey)

	if e.metrics != nil {
		e.metrics.CoreCommandsApplied.WithLabelValues(kind).Inc()
		e.metrics.CoreCommandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(output.Envelope.Sequence))
	}
	return receipt, nil
}

func (e *Engine) apply(cmd *Command) (CoreOutput, *Receipt, error) {
	kind := string(cmd.Kind)

	if err := e.nonces.Validate(kind, cmd.Sender, cmd.Nonce); err != nil {
		if errors.Is(err, ErrNonceGap) {
			e.reject(kind, "nonce_gap")
		} else {
			e.reject(kind, "nonce_replay")
		}
		return CoreOutput{}, nil, err
	}

	prevTime := e.clock.now
	if cmd.BlockTime != 0 {
		if cmd.BlockTime < prevTime {
			e.reject(kind, "clock")
			return CoreOutput{}, nil, fmt.Errorf("%w: %d < %d", ErrClockRegression, cmd.BlockTime, prevTime)
		}
		e.clock.now = cmd.BlockTime
	}

	payload, err := cmd.DecodePayload()
	if err != nil {
		e.clock.now = prevTime
		e.reject(kind, "invalid")
		return CoreOutput{}, nil, err
	}

	hp, returns, err := e.dispatch(cmd, payload)
	if err != nil {
		e.clock.now = prevTime
		e.pending.drain()
		e.reject(kind, rejectReason(err))
		e.log.Debug().Str("kind", kind).Str("sender", cmd.Sender.Hex()).Err(err).Msg("command rejected")
		return CoreOutput{}, nil, err
	}

	if hp != nil {
		if err := hp.pair.CheckInvariants(); err != nil {
			if e.metrics != nil {
				e.metrics.InvariantViolations.WithLabelValues(hp.name).Inc()
			}
			panic(fmt.Sprintf("FATAL: invariant violated after %s on %s: %v", kind, hp.name, err))
		}
	}

	events := e.pending.drain()
	records := make([]event.Record, 0, len(events))
	for _, ev := range events {
		rec, err := event.NewRecord(ev)
		if err != nil {
			panic(fmt.Sprintf("FATAL: %v", err))
		}
		records = append(records, rec)
	}

	hashStart := time.Now()
	digest := e.stateDigest(hp)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)
	if e.metrics != nil {
		e.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       e.sequence,
		CommandID:      cmd.ID,
		IdempotencyKey: cmd.IdempotencyKey,
		CommandKind:    kind,
		Sender:         cmd.Sender,
		Nonce:          cmd.Nonce,
		Timestamp:      time.Unix(int64(e.clock.now), 0).UTC(),
		Payload:        cmd.Payload,
		Events:         records,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := CoreOutput{Envelope: envelope, Command: *cmd}
	if hp != nil {
		name := hp.name
		envelope.PairID = &name
		output.Pair = pairState(hp, affectedAccounts(events))
	}

	e.nonces.Commit(cmd.Sender, cmd.Nonce)
	e.sequence++

	if e.metrics != nil {
		for _, ev := range events {
			e.metrics.CoreEventsEmitted.WithLabelValues(ev.EventType().String()).Inc()
		}
	}

	receipt := &Receipt{
		Sequence:  envelope.Sequence,
		StateHash: types.HexBytes(stateHash[:]),
		Events:    records,
		Returns:   returns,
	}
	return output, receipt, nil
}

func (e *Engine) emit(output CoreOutput) {
	if e.persistChan != nil {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("projection").Inc()
			}
		}
	}
}

func (e *Engine) reject(kind, reason string) {
	if e.metrics != nil {
		e.metrics.CoreCommandsRejected.WithLabelValues(kind, reason).Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownPair), errors.Is(err, ErrUnknownFeed), errors.Is(err, ErrUnknownSwapper):
		return "unknown_target"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid"
	}
	if k := pair.KindOf(err); k != pair.KindUnknown {
		return k.String()
	}
	return "failed"
}

// stateDigest covers the touched pair, the master, the vault and every
// oracle answer.
func (e *Engine) stateDigest(hp *hostedPair) []byte {
	var digest []byte
	if hp != nil {
		digest = append(digest, hp.pair.CanonicalBytes()...)
	}
	digest = append(digest, e.master.CanonicalBytes()...)
	digest = append(digest, e.vault.CanonicalBytes()...)

	addrs := make([]types.Address, 0, len(e.prices))
	for a := range e.prices {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	for _, a := range addrs {
		digest = append(digest, a[:]...)
		word := e.prices[a].Bytes32()
		digest = append(digest, word[:]...)
	}
	return digest
}

func affectedAccounts(events []event.Event) []types.Address {
	seen := make(map[types.Address]bool)
	var out []types.Address
	for _, ev := range events {
		for _, a := range event.Accounts(ev) {
			if a == types.ZeroAddress || seen[a] {
				continue
			}
			seen[a] = true
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func pairState(hp *hostedPair, accounts []types.Address) *PairState {
	p := hp.pair
	assetElastic, assetBase := p.TotalAsset()
	borrowElastic, borrowBase := p.TotalBorrow()
	info := p.AccrueInfo()

	snap := pair.Snapshot{
		Address:              p.Address(),
		Initialized:          p.Initialized(),
		InterestPerSecond:    info.InterestPerSecond,
		LastAccrued:          info.LastAccrued,
		FeesEarnedFraction:   info.FeesEarnedFraction.Dec(),
		TotalAsset:           pair.RebaseSnapshot{Elastic: assetElastic.Dec(), Base: assetBase.Dec()},
		TotalBorrow:          pair.RebaseSnapshot{Elastic: borrowElastic.Dec(), Base: borrowBase.Dec()},
		TotalCollateralShare: p.TotalCollateralShare().Dec(),
		ExchangeRate:         p.ExchangeRate().Dec(),
	}
	for _, u := range accounts {
		if u == p.Address() {
			continue
		}
		pos := p.Position(u)
		snap.Positions = append(snap.Positions, pair.PositionSnapshot{
			User:            u,
			BorrowPart:      pos.BorrowPart.Dec(),
			CollateralShare: pos.CollateralShare.Dec(),
		})
		snap.Balances = append(snap.Balances, pair.BalanceSnapshot{
			User:     u,
			Fraction: p.BalanceOf(u).Dec(),
		})
	}
	return &PairState{Name: hp.name, Address: p.Address(), State: snap}
}

// GetSequence returns the sequence the next command will receive.
func (e *Engine) GetSequence() int64 { return e.sequence }

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte { return e.hasher.GetPrevHash() }

// WarmLRU loads recent composite idempotency keys into the LRU cache.
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}
