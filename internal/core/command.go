package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"PairLedger/internal/types"

	"github.com/google/uuid"
)

// Kind discriminates commands.
type Kind string

const (
	KindCook               Kind = "cook"
	KindLiquidate          Kind = "liquidate"
	KindShort              Kind = "short"
	KindUnwind             Kind = "unwind"
	KindAccrue             Kind = "accrue"
	KindWithdrawFees       Kind = "withdraw_fees"
	KindUpdateExchangeRate Kind = "update_exchange_rate"
	KindSetSwapper         Kind = "set_swapper"
	KindSetFeeTo           Kind = "set_fee_to"
	KindTransferOwnership  Kind = "transfer_ownership"
	KindClaimOwnership     Kind = "claim_ownership"
	KindFeedPrice          Kind = "feed_price"
	KindCreditWallet       Kind = "credit_wallet"
	KindApproveMaster      Kind = "approve_master"
	KindAddLiquidity       Kind = "add_liquidity"
	KindTransferFraction   Kind = "transfer_fraction"
)

// Kinds lists every command kind.
func Kinds() []Kind {
	return []Kind{
		KindCook, KindLiquidate, KindShort, KindUnwind, KindAccrue,
		KindWithdrawFees, KindUpdateExchangeRate, KindSetSwapper, KindSetFeeTo,
		KindTransferOwnership, KindClaimOwnership, KindFeedPrice,
		KindCreditWallet, KindApproveMaster, KindAddLiquidity,
		KindTransferFraction,
	}
}

// PairScoped reports whether the command names a pair.
func (k Kind) PairScoped() bool {
	switch k {
	case KindCook, KindLiquidate, KindShort, KindUnwind, KindAccrue,
		KindWithdrawFees, KindUpdateExchangeRate, KindTransferFraction:
		return true
	}
	return false
}

func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

var (
	ErrInvalidCommand  = errors.New("invalid command")
	ErrDuplicate       = errors.New("duplicate command")
	ErrUnknownPair     = errors.New("unknown pair")
	ErrUnknownFeed     = errors.New("unknown feed")
	ErrUnknownSwapper  = errors.New("unknown swapper")
	ErrClockRegression = errors.New("block time before engine clock")
	ErrEngineStopped   = errors.New("engine stopped")
)

// Command is one externally submitted state transition. Commands are the
// unit of idempotency, nonce ordering, persistence and replay.
type Command struct {
	ID             uuid.UUID     `json:"id"`
	IdempotencyKey string        `json:"idempotency_key"`
	Kind           Kind          `json:"kind"`
	Pair           string        `json:"pair,omitempty"`
	Sender         types.Address `json:"sender"`
	Nonce          uint64        `json:"nonce"`
	// BlockTime is unix seconds; zero keeps the engine clock.
	BlockTime uint64          `json:"block_time,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the header and that the payload decodes for the kind.
func (c *Command) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, c.Kind)
	}
	if c.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency_key is required", ErrInvalidCommand)
	}
	if c.Sender == types.ZeroAddress {
		return fmt.Errorf("%w: sender is required", ErrInvalidCommand)
	}
	if c.Kind.PairScoped() && c.Pair == "" {
		return fmt.Errorf("%w: %s requires a pair", ErrInvalidCommand, c.Kind)
	}
	_, err := c.DecodePayload()
	return err
}

// DecodePayload returns the typed payload for the command's kind, or nil
// for kinds without one.
func (c *Command) DecodePayload() (any, error) {
	var p payload
	switch c.Kind {
	case KindCook:
		p = &CookPayload{}
	case KindLiquidate:
		p = &LiquidatePayload{}
	case KindShort:
		p = &ShortPayload{}
	case KindUnwind:
		p = &UnwindPayload{}
	case KindSetSwapper:
		p = &SetSwapperPayload{}
	case KindSetFeeTo:
		p = &SetFeeToPayload{}
	case KindTransferOwnership:
		p = &TransferOwnershipPayload{}
	case KindFeedPrice:
		p = &FeedPricePayload{}
	case KindCreditWallet:
		p = &CreditWalletPayload{}
	case KindApproveMaster:
		p = &ApproveMasterPayload{}
	case KindAddLiquidity:
		p = &AddLiquidityPayload{}
	case KindTransferFraction:
		p = &TransferFractionPayload{}
	default:
		return nil, nil
	}
	if len(c.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s requires a payload", ErrInvalidCommand, c.Kind)
	}
	if err := json.Unmarshal(c.Payload, p); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidCommand, c.Kind, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidCommand, c.Kind, err)
	}
	return p, nil
}

// NewCommand builds a command with a fresh ID and marshals payload.
func NewCommand(kind Kind, pairName string, sender types.Address, nonce uint64, key string, payload any) (Command, error) {
	c := Command{
		ID:             uuid.New(),
		IdempotencyKey: key,
		Kind:           kind,
		Pair:           pairName,
		Sender:         sender,
		Nonce:          nonce,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Command{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		c.Payload = raw
	}
	return c, nil
}

type payload interface {
	validate() error
}

// --- payloads ---

// CookAction is one step of a cook batch. Data is the ABI-encoded
// argument blob for the action code.
type CookAction struct {
	Action uint8          `json:"action"`
	Value  types.Amount   `json:"value"`
	Data   types.HexBytes `json:"data"`
}

type CookPayload struct {
	Actions []CookAction `json:"actions"`
}

func (p *CookPayload) validate() error {
	if len(p.Actions) == 0 {
		return errors.New("no actions")
	}
	return nil
}

type LiquidatePayload struct {
	Users          []types.Address `json:"users"`
	MaxBorrowParts []types.Amount  `json:"max_borrow_parts"`
	To             types.Address   `json:"to"`
	Swapper        types.Address   `json:"swapper"`
	Open           bool            `json:"open"`
}

func (p *LiquidatePayload) validate() error {
	if len(p.Users) == 0 {
		return errors.New("no users")
	}
	if len(p.Users) != len(p.MaxBorrowParts) {
		return errors.New("users and max_borrow_parts differ in length")
	}
	return nil
}

type ShortPayload struct {
	Swapper  types.Address `json:"swapper"`
	Amount   types.Amount  `json:"amount"`
	MinShare types.Amount  `json:"min_share"`
}

func (p *ShortPayload) validate() error {
	if p.Swapper == types.ZeroAddress {
		return errors.New("swapper is required")
	}
	return nil
}

type UnwindPayload struct {
	Swapper  types.Address `json:"swapper"`
	Part     types.Amount  `json:"part"`
	MaxShare types.Amount  `json:"max_share"`
}

func (p *UnwindPayload) validate() error {
	if p.Swapper == types.ZeroAddress {
		return errors.New("swapper is required")
	}
	return nil
}

type SetSwapperPayload struct {
	Swapper types.Address `json:"swapper"`
	Enable  bool          `json:"enable"`
}

func (p *SetSwapperPayload) validate() error {
	if p.Swapper == types.ZeroAddress {
		return errors.New("swapper is required")
	}
	return nil
}

type SetFeeToPayload struct {
	To types.Address `json:"to"`
}

func (p *SetFeeToPayload) validate() error { return nil }

type TransferOwnershipPayload struct {
	NewOwner types.Address `json:"new_owner"`
	Direct   bool          `json:"direct"`
	Renounce bool          `json:"renounce"`
}

func (p *TransferOwnershipPayload) validate() error { return nil }

// FeedPricePayload pushes a new answer to a feed or fixed oracle.
type FeedPricePayload struct {
	Feed   types.Address `json:"feed"`
	Answer types.Amount  `json:"answer"`
}

func (p *FeedPricePayload) validate() error {
	if p.Feed == types.ZeroAddress {
		return errors.New("feed is required")
	}
	return nil
}

// CreditWalletPayload records tokens arriving from outside the vault.
type CreditWalletPayload struct {
	Token  types.Address `json:"token"`
	To     types.Address `json:"to"`
	Amount types.Amount  `json:"amount"`
}

func (p *CreditWalletPayload) validate() error {
	if p.Token == types.ZeroAddress || p.To == types.ZeroAddress {
		return errors.New("token and to are required")
	}
	return nil
}

// ApproveMasterPayload sets a vault master contract approval. Without a
// signature the sender must be the user.
type ApproveMasterPayload struct {
	User      types.Address  `json:"user"`
	Master    types.Address  `json:"master"`
	Approved  bool           `json:"approved"`
	Signature types.HexBytes `json:"signature,omitempty"`
}

func (p *ApproveMasterPayload) validate() error {
	if p.User == types.ZeroAddress || p.Master == types.ZeroAddress {
		return errors.New("user and master are required")
	}
	return nil
}

// AddLiquidityPayload moves sender vault shares into a pool's reserve.
type AddLiquidityPayload struct {
	Swapper types.Address `json:"swapper"`
	Token   types.Address `json:"token"`
	Share   types.Amount  `json:"share"`
}

func (p *AddLiquidityPayload) validate() error {
	if p.Swapper == types.ZeroAddress || p.Token == types.ZeroAddress {
		return errors.New("swapper and token are required")
	}
	return nil
}

type TransferFractionPayload struct {
	To       types.Address `json:"to"`
	Fraction types.Amount  `json:"fraction"`
}

func (p *TransferFractionPayload) validate() error {
	if p.To == types.ZeroAddress {
		return errors.New("to is required")
	}
	return nil
}
