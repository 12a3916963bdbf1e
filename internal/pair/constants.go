package pair

import "github.com/holiman/uint256"

// Collateralization rates are expressed over CollaterizationRatePrecision.
// Mutating paths use the closed (stricter) rate; open liquidation uses the
// open rate so positions can be liquidated slightly before they breach it.
const (
	ClosedCollaterizationRate    = 75000
	OpenCollaterizationRate      = 77000
	CollaterizationRatePrecision = 1e5

	ExchangeRatePrecision = 1e18

	LiquidationMultiplier          = 112000
	LiquidationMultiplierPrecision = 1e5

	// Share of accrued interest and liquidation surplus kept as protocol fee.
	ProtocolFee        = 10000
	ProtocolFeeDivisor = 1e5

	BorrowOpeningFee          = 50
	BorrowOpeningFeePrecision = 1e5

	// MinimumTotalAssetBase keeps lender fractions from being inflated by
	// a dust first deposit.
	MinimumTotalAssetBase = 1000
)

var (
	exchangeRatePrecision = uint256.NewInt(ExchangeRatePrecision)
	collateralScale       = uint256.NewInt(ExchangeRatePrecision / CollaterizationRatePrecision)
	liquidationDivisor    = new(uint256.Int).Mul(uint256.NewInt(LiquidationMultiplierPrecision), exchangeRatePrecision)
	minimumAssetBase      = uint256.NewInt(MinimumTotalAssetBase)
)
