// Package oracle provides exchange-rate sources for lending pairs.
// Rates are collateral units per asset unit scaled by 1e18.
package oracle

import (
	"errors"
	"fmt"

	"PairLedger/internal/abi"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// Oracle is the price source contract a pair consumes. data is the opaque
// per-pair configuration blob fixed at pair initialization.
type Oracle interface {
	// Get may update internal state (e.g. a TWAP accumulator).
	Get(data []byte) (bool, *uint256.Int)
	// Peek never mutates.
	Peek(data []byte) (bool, *uint256.Int)
	Name(data []byte) string
}

// Fixed returns a settable rate. It stands in for an external feed in
// tests and for pairs quoted by an operator.
type Fixed struct {
	name    string
	rate    *uint256.Int
	success bool
}

func NewFixed(name string, rate *uint256.Int) *Fixed {
	return &Fixed{name: name, rate: rate.Clone(), success: true}
}

func (o *Fixed) Set(rate *uint256.Int) { o.rate = rate.Clone() }

// SetSuccess toggles whether reads report success.
func (o *Fixed) SetSuccess(ok bool) { o.success = ok }

func (o *Fixed) Get(_ []byte) (bool, *uint256.Int) { return o.success, o.rate.Clone() }

func (o *Fixed) Peek(_ []byte) (bool, *uint256.Int) { return o.success, o.rate.Clone() }

func (o *Fixed) Name(_ []byte) string { return o.name }

var ErrUnknownFeed = errors.New("oracle: unknown feed")

// Feed is an aggregator answer source.
type Feed interface {
	LatestAnswer() (*uint256.Int, error)
}

// StaticFeed holds the last answer pushed by the host.
type StaticFeed struct {
	answer *uint256.Int
}

func NewStaticFeed(answer *uint256.Int) *StaticFeed {
	return &StaticFeed{answer: answer.Clone()}
}

func (f *StaticFeed) Update(answer *uint256.Int) { f.answer = answer.Clone() }

func (f *StaticFeed) LatestAnswer() (*uint256.Int, error) {
	if f.answer == nil || f.answer.IsZero() {
		return nil, errors.New("oracle: feed has no answer")
	}
	return f.answer.Clone(), nil
}

// Aggregator derives a rate from up to two feeds:
//
//	rate = 1e36 * answer(multiply) / answer(divide) / decimals
//
// A zero multiply feed counts as 1e18; a zero divide feed is skipped.
// The data blob is abi.encode(address multiply, address divide, uint256 decimals).
type Aggregator struct {
	feeds map[types.Address]Feed
}

func NewAggregator() *Aggregator {
	return &Aggregator{feeds: make(map[types.Address]Feed)}
}

// Register makes a feed addressable from pair data blobs.
func (a *Aggregator) Register(addr types.Address, feed Feed) {
	a.feeds[addr] = feed
}

// Feed returns the registered feed at addr.
func (a *Aggregator) Feed(addr types.Address) (Feed, bool) {
	f, ok := a.feeds[addr]
	return f, ok
}

var aggregatorLayout = abi.NewLayout(abi.Address, abi.Address, abi.Uint256)

// AggregatorData builds the data blob for a pair.
func AggregatorData(multiply, divide types.Address, decimals *uint256.Int) []byte {
	return aggregatorLayout.MustPack(multiply, divide, decimals)
}

func (a *Aggregator) rate(data []byte) (*uint256.Int, error) {
	args, err := aggregatorLayout.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("oracle: bad data: %w", err)
	}
	multiply, divide, decimals := args.Address(0), args.Address(1), args.Uint(2)
	if decimals.IsZero() {
		return nil, errors.New("oracle: zero decimals")
	}

	price := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(36))
	if multiply == types.ZeroAddress {
		price.Mul(price, uint256.NewInt(1e18))
	} else {
		answer, err := a.answer(multiply)
		if err != nil {
			return nil, err
		}
		if _, overflow := price.MulOverflow(price, answer); overflow {
			return nil, errors.New("oracle: price overflow")
		}
	}
	if divide != types.ZeroAddress {
		answer, err := a.answer(divide)
		if err != nil {
			return nil, err
		}
		price.Div(price, answer)
	}
	return price.Div(price, decimals), nil
}

func (a *Aggregator) answer(addr types.Address) (*uint256.Int, error) {
	f, ok := a.feeds[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, addr)
	}
	return f.LatestAnswer()
}

func (a *Aggregator) Get(data []byte) (bool, *uint256.Int) {
	return a.Peek(data)
}

func (a *Aggregator) Peek(data []byte) (bool, *uint256.Int) {
	r, err := a.rate(data)
	if err != nil {
		return false, new(uint256.Int)
	}
	return true, r
}

func (a *Aggregator) Name(_ []byte) string { return "Aggregator" }
