package pair

import (
	"sort"

	"PairLedger/internal/event"
	"PairLedger/internal/types"
)

// Master holds the settings shared by every pair cloned from it: the fee
// recipient, the swapper allowlist and two-step ownership.
type Master struct {
	address      types.Address
	owner        types.Address
	pendingOwner types.Address
	feeTo        types.Address
	swappers     map[types.Address]bool
	sink         event.Sink
}

func NewMaster(address, owner types.Address, sink event.Sink) *Master {
	return &Master{
		address:  address,
		owner:    owner,
		swappers: make(map[types.Address]bool),
		sink:     sink,
	}
}

func (m *Master) Address() types.Address      { return m.address }
func (m *Master) Owner() types.Address        { return m.owner }
func (m *Master) PendingOwner() types.Address { return m.pendingOwner }
func (m *Master) FeeTo() types.Address        { return m.feeTo }

func (m *Master) IsSwapper(addr types.Address) bool { return m.swappers[addr] }

// Swappers returns the allowlisted swappers in address order.
func (m *Master) Swappers() []types.Address {
	out := make([]types.Address, 0, len(m.swappers))
	for a, ok := range m.swappers {
		if ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// SetSink redirects master events, e.g. to the engine's buffered sink.
func (m *Master) SetSink(sink event.Sink) { m.sink = sink }

func (m *Master) emit(e event.Event) {
	if m.sink != nil {
		m.sink.Emit(e)
	}
}

func (m *Master) onlyOwner(caller types.Address) error {
	if caller != m.owner {
		return ErrNotOwner
	}
	return nil
}

func (m *Master) SetFeeTo(caller, to types.Address) error {
	if err := m.onlyOwner(caller); err != nil {
		return err
	}
	m.feeTo = to
	m.emit(&event.FeeTo{Master: m.address, NewFeeTo: to})
	return nil
}

func (m *Master) SetSwapper(caller, swapper types.Address, enable bool) error {
	if err := m.onlyOwner(caller); err != nil {
		return err
	}
	if enable {
		m.swappers[swapper] = true
	} else {
		delete(m.swappers, swapper)
	}
	m.emit(&event.SwapperSet{Master: m.address, Swapper: swapper, Enabled: enable})
	return nil
}

// TransferOwnership hands ownership over directly, or records newOwner as
// pending until it calls ClaimOwnership. A direct transfer to the zero
// address is only allowed with renounce set.
func (m *Master) TransferOwnership(caller, newOwner types.Address, direct, renounce bool) error {
	if err := m.onlyOwner(caller); err != nil {
		return err
	}
	if !direct {
		m.pendingOwner = newOwner
		return nil
	}
	if newOwner == types.ZeroAddress && !renounce {
		return ErrZeroAddress
	}
	m.emit(&event.OwnershipTransferred{Master: m.address, PreviousOwner: m.owner, NewOwner: newOwner})
	m.owner = newOwner
	m.pendingOwner = types.ZeroAddress
	return nil
}

func (m *Master) ClaimOwnership(caller types.Address) error {
	if caller != m.pendingOwner {
		return ErrNotPendingOwner
	}
	m.emit(&event.OwnershipTransferred{Master: m.address, PreviousOwner: m.owner, NewOwner: caller})
	m.owner = caller
	m.pendingOwner = types.ZeroAddress
	return nil
}

// MasterSnapshot is the serialisable state of a Master.
type MasterSnapshot struct {
	Address      types.Address   `json:"address"`
	Owner        types.Address   `json:"owner"`
	PendingOwner types.Address   `json:"pending_owner"`
	FeeTo        types.Address   `json:"fee_to"`
	Swappers     []types.Address `json:"swappers"`
}

func (m *Master) Export() MasterSnapshot {
	return MasterSnapshot{
		Address:      m.address,
		Owner:        m.owner,
		PendingOwner: m.pendingOwner,
		FeeTo:        m.feeTo,
		Swappers:     m.Swappers(),
	}
}

func (m *Master) Restore(s MasterSnapshot) {
	m.address = s.Address
	m.owner = s.Owner
	m.pendingOwner = s.PendingOwner
	m.feeTo = s.FeeTo
	m.swappers = make(map[types.Address]bool, len(s.Swappers))
	for _, a := range s.Swappers {
		m.swappers[a] = true
	}
}

// CanonicalBytes for deterministic hashing
func (m *Master) CanonicalBytes() []byte {
	buf := make([]byte, 0, 80+20*len(m.swappers))
	buf = append(buf, m.address[:]...)
	buf = append(buf, m.owner[:]...)
	buf = append(buf, m.pendingOwner[:]...)
	buf = append(buf, m.feeTo[:]...)
	for _, a := range m.Swappers() {
		buf = append(buf, a[:]...)
	}
	return buf
}
