package event

import "PairLedger/internal/types"

// Accounts lists the user accounts whose pair position or fraction
// balance an event may have changed. Contract-level events return nil.
func Accounts(e Event) []types.Address {
	switch ev := e.(type) {
	case *AddCollateral:
		return []types.Address{ev.To}
	case *RemoveCollateral:
		return []types.Address{ev.From}
	case *AddAsset:
		return []types.Address{ev.To}
	case *RemoveAsset:
		return []types.Address{ev.From}
	case *Borrow:
		return []types.Address{ev.From}
	case *Repay:
		return []types.Address{ev.To}
	case *Liquidation:
		return []types.Address{ev.User}
	case *Transfer:
		return []types.Address{ev.From, ev.To}
	case *WithdrawFees:
		return []types.Address{ev.FeeTo}
	default:
		return nil
	}
}
