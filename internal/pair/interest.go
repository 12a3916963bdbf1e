package pair

import (
	"errors"

	fpmath "PairLedger/internal/math"

	"github.com/holiman/uint256"
)

// InterestModel parameterizes the utilization-driven rate controller.
// Rates are per second on a 1e18 scale; utilizations are 1e18 = 100%.
type InterestModel struct {
	StartingRate uint64 `yaml:"starting_rate"`
	MinimumRate  uint64 `yaml:"minimum_rate"`
	MaximumRate  uint64 `yaml:"maximum_rate"`

	MinimumTargetUtilization uint64 `yaml:"minimum_target_utilization"`
	MaximumTargetUtilization uint64 `yaml:"maximum_target_utilization"`

	// Elasticity is the half-life-like constant of the controller in
	// seconds, scaled by 1e36.
	Elasticity *uint256.Int `yaml:"-"`
}

// DefaultInterestModel: starts at ~1% APR, floors at ~0.25%, caps at
// ~1000%, targets 70%–80% utilization.
func DefaultInterestModel() InterestModel {
	return InterestModel{
		StartingRate:             317097920,
		MinimumRate:              79274480,
		MaximumRate:              317097920000,
		MinimumTargetUtilization: 7e17,
		MaximumTargetUtilization: 8e17,
		Elasticity:               new(uint256.Int).Mul(uint256.NewInt(28800), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(36))),
	}
}

func (m InterestModel) withDefaults() InterestModel {
	d := DefaultInterestModel()
	if m.StartingRate == 0 {
		m.StartingRate = d.StartingRate
	}
	if m.MinimumRate == 0 {
		m.MinimumRate = d.MinimumRate
	}
	if m.MaximumRate == 0 {
		m.MaximumRate = d.MaximumRate
	}
	if m.MinimumTargetUtilization == 0 {
		m.MinimumTargetUtilization = d.MinimumTargetUtilization
	}
	if m.MaximumTargetUtilization == 0 {
		m.MaximumTargetUtilization = d.MaximumTargetUtilization
	}
	if m.Elasticity == nil || m.Elasticity.IsZero() {
		m.Elasticity = d.Elasticity
	}
	return m
}

func (m InterestModel) Validate() error {
	switch {
	case m.MinimumRate > m.StartingRate || m.StartingRate > m.MaximumRate:
		return errors.New("interest model: starting rate outside [min, max]")
	case m.MinimumTargetUtilization == 0 || m.MinimumTargetUtilization > m.MaximumTargetUtilization:
		return errors.New("interest model: bad target band")
	case m.MaximumTargetUtilization >= ExchangeRatePrecision:
		return errors.New("interest model: maximum target must be below 100%")
	}
	return nil
}

// Adjust returns the next rate for the utilization observed over elapsed
// seconds, and whether it was clamped to a bound.
func (m InterestModel) Adjust(rate uint64, utilization *uint256.Int, elapsed uint64) (uint64, bool) {
	minTarget := uint256.NewInt(m.MinimumTargetUtilization)
	maxTarget := uint256.NewInt(m.MaximumTargetUtilization)
	dt := uint256.NewInt(elapsed)

	switch {
	case utilization.Lt(minTarget):
		under := fpmath.MustMulDiv(new(uint256.Int).Sub(minTarget, utilization), fpmath.E18, minTarget)
		scale := m.scale(under, dt)
		next := fpmath.MustMulDiv(uint256.NewInt(rate), m.Elasticity, scale)
		if next.Lt(uint256.NewInt(m.MinimumRate)) {
			return m.MinimumRate, true
		}
		return next.Uint64(), false

	case utilization.Gt(maxTarget):
		span := new(uint256.Int).Sub(fpmath.E18, maxTarget)
		over := fpmath.MustMulDiv(new(uint256.Int).Sub(utilization, maxTarget), fpmath.E18, span)
		scale := m.scale(over, dt)
		next, err := fpmath.MulDiv(uint256.NewInt(rate), scale, m.Elasticity, fpmath.RoundDown)
		if err != nil || next.Gt(uint256.NewInt(m.MaximumRate)) {
			return m.MaximumRate, true
		}
		return next.Uint64(), false
	}
	return rate, false
}

// scale = elasticity + factor^2 * elapsed
func (m InterestModel) scale(factor, elapsed *uint256.Int) *uint256.Int {
	sq := new(uint256.Int).Mul(factor, factor)
	sq.Mul(sq, elapsed)
	return sq.Add(sq, m.Elasticity)
}
