package event

import "PairLedger/internal/types"

type FeeTo struct {
	Master   types.Address `json:"master"`
	NewFeeTo types.Address `json:"new_fee_to"`
}

func (e *FeeTo) EventType() EventType  { return EventTypeFeeTo }
func (e *FeeTo) Source() types.Address { return e.Master }

type SwapperSet struct {
	Master  types.Address `json:"master"`
	Swapper types.Address `json:"swapper"`
	Enabled bool          `json:"enabled"`
}

func (e *SwapperSet) EventType() EventType  { return EventTypeSwapperSet }
func (e *SwapperSet) Source() types.Address { return e.Master }

type OwnershipTransferred struct {
	Master        types.Address `json:"master"`
	PreviousOwner types.Address `json:"previous_owner"`
	NewOwner      types.Address `json:"new_owner"`
}

func (e *OwnershipTransferred) EventType() EventType  { return EventTypeOwnershipTransferred }
func (e *OwnershipTransferred) Source() types.Address { return e.Master }
