// Package swapper exchanges vault shares of one token for another on
// behalf of lending pairs during liquidation, short and unwind.
package swapper

import (
	"errors"
	"fmt"

	fpmath "PairLedger/internal/math"
	"PairLedger/internal/types"
	"PairLedger/internal/vault"

	"github.com/holiman/uint256"
)

var (
	ErrReturnNotEnough   = errors.New("swapper: return not enough")
	ErrExceedsSupplied   = errors.New("swapper: exceeds supplied share")
	ErrInsufficientPool  = errors.New("swapper: insufficient liquidity")
	ErrUnsupportedTokens = errors.New("swapper: unsupported token pair")
)

// Swapper is the contract pairs call. The input shares must already sit in
// the swapper's vault account when Swap or SwapExact is invoked.
type Swapper interface {
	Address() types.Address
	// Swap sells all of shareFrom and sends the proceeds to recipient.
	Swap(fromToken, toToken, recipient types.Address, shareToMin, shareFrom *uint256.Int) (*uint256.Int, error)
	// SwapExact buys exactly shareToExact for recipient and refunds the
	// unused input to refundTo.
	SwapExact(fromToken, toToken, recipient, refundTo types.Address, shareFromSupplied, shareToExact *uint256.Int) (shareUsed, shareReturned *uint256.Int, err error)
}

// Pool is a constant-product market (x*y=k) between two tokens whose
// reserves are vault shares held by the pool account.
type Pool struct {
	address types.Address // receives input shares from callers
	reserve types.Address // holds the pool's liquidity
	tokenA  types.Address
	tokenB  types.Address
	feeBps  uint64
	vault   vault.Vault
}

func NewPool(address types.Address, tokenA, tokenB types.Address, feeBps uint64, v vault.Vault) *Pool {
	return &Pool{
		address: address,
		reserve: types.DeriveAddress("pool-reserve:" + address.Hex()),
		tokenA:  tokenA,
		tokenB:  tokenB,
		feeBps:  feeBps,
		vault:   v,
	}
}

func (p *Pool) Address() types.Address { return p.address }

// ReserveAccount is the vault account holding the liquidity.
func (p *Pool) ReserveAccount() types.Address { return p.reserve }

// AddLiquidity moves share of token from provider into the reserves.
func (p *Pool) AddLiquidity(provider, token types.Address, share *uint256.Int) error {
	if err := p.supports(token, token); err != nil {
		return err
	}
	return p.vault.Transfer(provider, token, provider, p.reserve, share)
}

// Reserves returns the pool's amounts of from and to.
func (p *Pool) Reserves(from, to types.Address) (*uint256.Int, *uint256.Int) {
	rIn := p.vault.ToAmount(from, p.vault.BalanceOf(from, p.reserve), false)
	rOut := p.vault.ToAmount(to, p.vault.BalanceOf(to, p.reserve), false)
	return rIn, rOut
}

func (p *Pool) supports(from, to types.Address) error {
	ok := func(t types.Address) bool { return t == p.tokenA || t == p.tokenB }
	if !ok(from) || !ok(to) {
		return fmt.Errorf("%w: %s/%s", ErrUnsupportedTokens, from, to)
	}
	return nil
}

// AmountOut quotes the output for amountIn.
func (p *Pool) AmountOut(amountIn, reserveIn, reserveOut *uint256.Int) *uint256.Int {
	inWithFee := new(uint256.Int).Mul(amountIn, uint256.NewInt(10_000-p.feeBps))
	num := new(uint256.Int).Mul(inWithFee, reserveOut)
	den := new(uint256.Int).Add(new(uint256.Int).Mul(reserveIn, uint256.NewInt(10_000)), inWithFee)
	if den.IsZero() {
		return new(uint256.Int)
	}
	return num.Div(num, den)
}

// AmountIn quotes the input needed for amountOut.
func (p *Pool) AmountIn(amountOut, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if !amountOut.Lt(reserveOut) {
		return nil, ErrInsufficientPool
	}
	num := new(uint256.Int).Mul(new(uint256.Int).Mul(reserveIn, amountOut), uint256.NewInt(10_000))
	den := new(uint256.Int).Mul(new(uint256.Int).Sub(reserveOut, amountOut), uint256.NewInt(10_000-p.feeBps))
	in := num.Div(num, den)
	return in.AddUint64(in, 1), nil
}

func (p *Pool) Swap(fromToken, toToken, recipient types.Address, shareToMin, shareFrom *uint256.Int) (*uint256.Int, error) {
	if err := p.supports(fromToken, toToken); err != nil {
		return nil, err
	}
	reserveIn, reserveOut := p.Reserves(fromToken, toToken)
	amountIn := p.vault.ToAmount(fromToken, shareFrom, false)
	amountOut := p.AmountOut(amountIn, reserveIn, reserveOut)
	shareOut := p.vault.ToShare(toToken, amountOut, false)
	if shareOut.Lt(shareToMin) {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrReturnNotEnough, shareOut.Dec(), shareToMin.Dec())
	}

	if err := p.vault.Transfer(p.address, fromToken, p.address, p.reserve, shareFrom); err != nil {
		return nil, err
	}
	if err := p.vault.Transfer(p.reserve, toToken, p.reserve, recipient, shareOut); err != nil {
		return nil, err
	}
	return shareOut, nil
}

func (p *Pool) SwapExact(fromToken, toToken, recipient, refundTo types.Address, shareFromSupplied, shareToExact *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if err := p.supports(fromToken, toToken); err != nil {
		return nil, nil, err
	}
	reserveIn, reserveOut := p.Reserves(fromToken, toToken)
	amountOut := p.vault.ToAmount(toToken, shareToExact, true)
	amountIn, err := p.AmountIn(amountOut, reserveIn, reserveOut)
	if err != nil {
		return nil, nil, err
	}
	shareUsed := p.vault.ToShare(fromToken, amountIn, true)
	refund, err := fpmath.Sub(shareFromSupplied, shareUsed)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: need %s, supplied %s", ErrExceedsSupplied, shareUsed.Dec(), shareFromSupplied.Dec())
	}

	if err := p.vault.Transfer(p.address, fromToken, p.address, p.reserve, shareUsed); err != nil {
		return nil, nil, err
	}
	if err := p.vault.Transfer(p.reserve, toToken, p.reserve, recipient, shareToExact); err != nil {
		return nil, nil, err
	}
	if !refund.IsZero() {
		if err := p.vault.Transfer(p.address, fromToken, p.address, refundTo, refund); err != nil {
			return nil, nil, err
		}
	}
	return shareUsed, refund, nil
}
