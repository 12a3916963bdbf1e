package core

import (
	"errors"
	"fmt"
	"sort"

	"PairLedger/internal/observability"
	"PairLedger/internal/types"
)

var (
	ErrNonceGap    = errors.New("nonce gap")
	ErrNonceReplay = errors.New("nonce replay")
)

// NonceValidator enforces per-sender command ordering: each sender's
// commands carry nonces 0, 1, 2, ... and a nonce is consumed only when its
// command applies.
// Not thread-safe: only accessed from the engine goroutine.
type NonceValidator struct {
	expected map[types.Address]uint64 // sender -> next expected nonce
	metrics  *observability.Metrics
}

func NewNonceValidator(metrics *observability.Metrics) *NonceValidator {
	return &NonceValidator{
		expected: make(map[types.Address]uint64),
		metrics:  metrics,
	}
}

// Validate checks nonce against the sender's expected nonce without
// consuming it.
func (nv *NonceValidator) Validate(kind string, sender types.Address, nonce uint64) error {
	expected := nv.expected[sender]

	if nonce < expected {
		if nv.metrics != nil {
			nv.metrics.NonceReplays.WithLabelValues(kind).Inc()
		}
		return fmt.Errorf("%w: sender=%s, expected=%d, got=%d", ErrNonceReplay, sender, expected, nonce)
	}
	if nonce > expected {
		if nv.metrics != nil {
			nv.metrics.NonceGaps.WithLabelValues(kind).Inc()
		}
		return fmt.Errorf("%w: sender=%s, expected=%d, got=%d", ErrNonceGap, sender, expected, nonce)
	}
	return nil
}

// Commit consumes nonce for sender.
func (nv *NonceValidator) Commit(sender types.Address, nonce uint64) {
	nv.expected[sender] = nonce + 1
}

// Expected returns the next nonce the sender must use
func (nv *NonceValidator) Expected(sender types.Address) uint64 {
	return nv.expected[sender]
}

// SetExpected initializes a sender's next nonce (used during recovery)
func (nv *NonceValidator) SetExpected(sender types.Address, nonce uint64) {
	nv.expected[sender] = nonce
}

// Senders lists every sender with a consumed nonce, in address order.
func (nv *NonceValidator) Senders() []types.Address {
	out := make([]types.Address, 0, len(nv.expected))
	for s := range nv.expected {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out
}
