package pair

import (
	"errors"
	"fmt"

	fpmath "PairLedger/internal/math"
	"PairLedger/internal/vault"
)

// Kind classifies why a pair transaction aborted.
type Kind int

const (
	KindUnknown Kind = iota
	KindInputValidation
	KindArithmetic
	KindInsolvency
	KindAuthorization
	KindExternalCall
)

func (k Kind) String() string {
	switch k {
	case KindInputValidation:
		return "input_validation"
	case KindArithmetic:
		return "arithmetic"
	case KindInsolvency:
		return "insolvency"
	case KindAuthorization:
		return "authorization"
	case KindExternalCall:
		return "external_call"
	default:
		return "unknown"
	}
}

// Error is returned by every failing pair operation. Two errors match under
// errors.Is when kind and reason agree, so wrapped causes still compare
// equal to the sentinels below.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pair: %s: %v", e.Reason, e.Err)
	}
	return "pair: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Reason == e.Reason
}

func newError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

var (
	ErrAlreadyInitialized = newError(KindInputValidation, "already initialized")
	ErrBadPair            = newError(KindInputValidation, "bad pair")
	ErrNotInitialized     = newError(KindInputValidation, "not initialized")
	ErrBelowMinimum       = newError(KindInputValidation, "below minimum")
	ErrNumOutOfBounds     = newError(KindInputValidation, "Num out of bounds")
	ErrLengthMismatch     = newError(KindInputValidation, "length mismatch")
	ErrBadActionData      = newError(KindInputValidation, "bad action data")
	ErrSkimTooMuch        = newError(KindInputValidation, "Skim too much")
	ErrZeroAddress        = newError(KindInputValidation, "zero address")

	ErrUnderflow         = newError(KindArithmetic, "underflow")
	ErrOverflow          = newError(KindArithmetic, "overflow")
	ErrInsufficientAsset = newError(KindArithmetic, "insufficient asset")

	ErrInsolvent  = newError(KindInsolvency, "user insolvent")
	ErrAllSolvent = newError(KindInsolvency, "all are solvent")

	ErrNotOwner        = newError(KindAuthorization, "caller is not the owner")
	ErrNotPendingOwner = newError(KindAuthorization, "caller != pending owner")
	ErrInvalidSwapper  = newError(KindAuthorization, "Invalid swapper")
	ErrNotApproved     = newError(KindAuthorization, "transfer not approved")
	ErrCantCall        = newError(KindAuthorization, "can't call")

	ErrCallFailed = newError(KindExternalCall, "call failed")
	ErrSwapFailed = newError(KindExternalCall, "swap failed")
	ErrVaultCall  = newError(KindExternalCall, "vault call failed")
	ErrRateNotOK  = newError(KindExternalCall, "rate not ok")
)

func wrap(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Reason: sentinel.Reason, Err: err}
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// ReasonOf extracts the failure reason of err.
func ReasonOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsRetryable reports whether resubmitting the same request may succeed
// without changing it, i.e. the oracle was transiently unavailable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateNotOK)
}

// arith maps checked-math failures into the taxonomy.
func arith(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fpmath.ErrUnderflow):
		return wrap(ErrUnderflow, err)
	case errors.Is(err, fpmath.ErrOverflow), errors.Is(err, fpmath.ErrDivisionByZero):
		return wrap(ErrOverflow, err)
	default:
		return err
	}
}

// vaultErr maps share ledger failures into the taxonomy.
func vaultErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vault.ErrNotApproved), errors.Is(err, vault.ErrNoMasterContract):
		return wrap(ErrNotApproved, err)
	case errors.Is(err, vault.ErrInsufficientBalance), errors.Is(err, vault.ErrInsufficientWallet):
		return wrap(ErrUnderflow, err)
	case errors.Is(err, vault.ErrZeroAddress):
		return wrap(ErrZeroAddress, err)
	default:
		return wrap(ErrVaultCall, err)
	}
}

// swapErr maps swapper failures into the taxonomy.
func swapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, vault.ErrNotApproved) {
		return wrap(ErrNotApproved, err)
	}
	return wrap(ErrSwapFailed, err)
}
