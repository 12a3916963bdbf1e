package event

import (
	"encoding/json"
	"fmt"
	"time"

	"PairLedger/internal/types"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeAccrue
	EventTypeAddCollateral
	EventTypeRemoveCollateral
	EventTypeAddAsset
	EventTypeRemoveAsset
	EventTypeBorrow
	EventTypeRepay
	EventTypeExchangeRate
	EventTypeWithdrawFees
	EventTypeLiquidation
	EventTypeFeeTo
	EventTypeSwapperSet
	EventTypeOwnershipTransferred
	EventTypeInitialized
	EventTypeTransfer
)

// Event is a fact emitted by a pair or its master contract.
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// Source is the emitting contract
	Source() types.Address
}

// Sink receives committed events.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Record is the serialised form of an event inside an envelope.
type Record struct {
	Type    EventType       `json:"type"`
	Source  types.Address   `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

// NewRecord serialises e.
func NewRecord(e Event) (Record, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}
	return Record{Type: e.EventType(), Source: e.Source(), Payload: payload}, nil
}

// EventEnvelope wraps every applied command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	CommandID uuid.UUID

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command kind discriminator, e.g. "cook"
	CommandKind string

	// Pair context (nil for master-level commands)
	PairID *string

	Sender types.Address
	Nonce  uint64

	// Block time the command executed at (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded command
	Payload []byte

	// Events the command emitted, in order
	Events []Record

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

func (et EventType) String() string {
	switch et {
	case EventTypeAccrue:
		return "Accrue"
	case EventTypeAddCollateral:
		return "AddCollateral"
	case EventTypeRemoveCollateral:
		return "RemoveCollateral"
	case EventTypeAddAsset:
		return "AddAsset"
	case EventTypeRemoveAsset:
		return "RemoveAsset"
	case EventTypeBorrow:
		return "Borrow"
	case EventTypeRepay:
		return "Repay"
	case EventTypeExchangeRate:
		return "ExchangeRate"
	case EventTypeWithdrawFees:
		return "WithdrawFees"
	case EventTypeLiquidation:
		return "Liquidation"
	case EventTypeFeeTo:
		return "FeeTo"
	case EventTypeSwapperSet:
		return "SwapperSet"
	case EventTypeOwnershipTransferred:
		return "OwnershipTransferred"
	case EventTypeInitialized:
		return "Initialized"
	case EventTypeTransfer:
		return "Transfer"
	default:
		return "Unknown"
	}
}
