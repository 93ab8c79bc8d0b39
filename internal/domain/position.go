package domain

import (
	"math/big"
	"time"
)

// LeverageState is the coarse risk state of a position.
type LeverageState string

const (
	StateIdle         LeverageState = "idle"
	StateLeveraged    LeverageState = "leveraged"
	StateDeleveraging LeverageState = "deleveraging"
)

// Position is the leveraged holding owned by a single PositionManager.
// Collateral is denominated in liquidity-pool tokens posted to the lending
// market; debt is denominated in the pool's base asset.
type Position struct {
	CollateralAmount *big.Int
	DebtAmount       *big.Int
	PoolShareAmount  *big.Int
}

// NewPosition returns an empty position with all amounts at zero.
func NewPosition() Position {
	return Position{
		CollateralAmount: new(big.Int),
		DebtAmount:       new(big.Int),
		PoolShareAmount:  new(big.Int),
	}
}

// Clone returns a deep copy so callers can mutate it without touching the
// original.
func (p Position) Clone() Position {
	return Position{
		CollateralAmount: cloneInt(p.CollateralAmount),
		DebtAmount:       cloneInt(p.DebtAmount),
		PoolShareAmount:  cloneInt(p.PoolShareAmount),
	}
}

// IsEmpty reports whether the position holds nothing at all.
func (p Position) IsEmpty() bool {
	return isZero(p.CollateralAmount) && isZero(p.DebtAmount) && isZero(p.PoolShareAmount)
}

// ThresholdConfig holds the risk parameters of a position. All fractions are
// WAD-scaled (1e18 == 1.0).
type ThresholdConfig struct {
	MaxLTV                  *big.Int
	LTVBuffer               *big.Int
	DepositSlippage         *big.Int
	WithdrawSlippage        *big.Int
	HarvestSlippage         *big.Int
	BorrowInterestThreshold *big.Int
}

// Clone returns a deep copy of the thresholds.
func (t ThresholdConfig) Clone() ThresholdConfig {
	return ThresholdConfig{
		MaxLTV:                  cloneInt(t.MaxLTV),
		LTVBuffer:               cloneInt(t.LTVBuffer),
		DepositSlippage:         cloneInt(t.DepositSlippage),
		WithdrawSlippage:        cloneInt(t.WithdrawSlippage),
		HarvestSlippage:         cloneInt(t.HarvestSlippage),
		BorrowInterestThreshold: cloneInt(t.BorrowInterestThreshold),
	}
}

// DebtData is the result of a debt query: LTV (WAD), free collateral value
// and outstanding debt, both in base asset units.
type DebtData struct {
	LTV            *big.Int
	FreeCollateral *big.Int
	Debt           *big.Int
}

// PositionState is a point-in-time record of a position, persisted after
// every committed operation and attached to emitted events.
type PositionState struct {
	PositionID       string
	CollateralAmount *big.Int
	DebtAmount       *big.Int
	PoolShareAmount  *big.Int
	LTV              *big.Int
	MaxLTV           *big.Int
	State            LeverageState
	UpdatedAt        time.Time
}

func cloneInt(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

func isZero(x *big.Int) bool {
	return x == nil || x.Sign() == 0
}
