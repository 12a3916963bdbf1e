package pair

import (
	"PairLedger/internal/swapper"
	"PairLedger/internal/types"

	"github.com/holiman/uint256"
)

// Callee is a contract reachable from the cook CALL action. caller is the
// pair making the call; data is the calldata with any pipe words appended.
type Callee interface {
	Call(caller types.Address, value *uint256.Int, data []byte) ([]byte, error)
}

// CalleeFunc adapts a function to Callee.
type CalleeFunc func(caller types.Address, value *uint256.Int, data []byte) ([]byte, error)

func (f CalleeFunc) Call(caller types.Address, value *uint256.Int, data []byte) ([]byte, error) {
	return f(caller, value, data)
}

// Registry resolves contract addresses to in-process implementations.
// Whether a swapper may be used is decided by the master's allowlist, not
// by presence here.
type Registry struct {
	swappers map[types.Address]swapper.Swapper
	callees  map[types.Address]Callee
}

func NewRegistry() *Registry {
	return &Registry{
		swappers: make(map[types.Address]swapper.Swapper),
		callees:  make(map[types.Address]Callee),
	}
}

func (r *Registry) RegisterSwapper(s swapper.Swapper) {
	r.swappers[s.Address()] = s
}

func (r *Registry) RegisterCallee(addr types.Address, c Callee) {
	r.callees[addr] = c
}

func (r *Registry) Swapper(addr types.Address) (swapper.Swapper, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.swappers[addr]
	return s, ok
}

func (r *Registry) Callee(addr types.Address) (Callee, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.callees[addr]
	return c, ok
}
