package position

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

// equity is the net position in pool token units: held plus posted pool
// tokens minus the debt expressed in pool tokens at the virtual price.
func (m *Manager) equity(ctx context.Context) (*big.Int, error) {
	acct, err := m.a.Market.AccountData(ctx)
	if err != nil {
		return nil, fmt.Errorf("account data: %w", err)
	}
	held, err := m.a.Wallet.Balance(ctx, m.a.Pool.Address())
	if err != nil {
		return nil, fmt.Errorf("pool token balance: %w", err)
	}
	vp, err := m.a.Pool.VirtualPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual price: %w", err)
	}
	gross := new(big.Int).Add(held, acct.CollateralAmount)
	return fixedpoint.Sub(gross, fixedpoint.DivWadUp(acct.Debt, vp)), nil
}

// Equity returns the total outstanding share amount of the position.
func (m *Manager) Equity(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eq, err := m.equity(ctx)
	if err != nil {
		return nil, fmt.Errorf("position: equity: %w", err)
	}
	return eq, nil
}

// BalanceOfUser converts shares into their current redeemable value in
// asset, matching what Withdraw would pay absent price movement. Like
// Withdraw, it rejects more shares than the position has equity.
func (m *Manager) BalanceOfUser(ctx context.Context, shares *big.Int, asset common.Address) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, fmt.Errorf("position: balance of user: %w", domain.ErrInvalidAmount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.supports(ctx, asset); err != nil {
		return nil, fmt.Errorf("position: balance of user: %w", err)
	}
	if shares.Sign() == 0 {
		return new(big.Int), nil
	}
	equity, err := m.equity(ctx)
	if err != nil {
		return nil, fmt.Errorf("position: balance of user: %w", err)
	}
	if shares.Cmp(equity) > 0 {
		return nil, fmt.Errorf("position: balance of user: shares %s exceed equity %s: %w", shares, equity, domain.ErrInvalidAmount)
	}
	p, err := m.portion(ctx, shares, equity)
	if err != nil {
		return nil, fmt.Errorf("position: balance of user: %w", err)
	}
	v, err := m.portionValue(ctx, p, asset)
	if err != nil {
		return nil, fmt.Errorf("position: balance of user: %w", err)
	}
	return v, nil
}

// GetDebtData returns the current LTV, the collateral value still
// borrowable under MaxLTV, and the outstanding debt.
func (m *Manager) GetDebtData(ctx context.Context) (domain.DebtData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, err := m.a.Market.AccountData(ctx)
	if err != nil {
		return domain.DebtData{}, fmt.Errorf("position: get debt data: %w", err)
	}
	return domain.DebtData{
		LTV:            acct.LTV,
		FreeCollateral: fixedpoint.Sub(fixedpoint.MulWad(acct.CollateralValue, m.thresholds.MaxLTV), acct.Debt),
		Debt:           acct.Debt,
	}, nil
}

// CalculateSushiTokenPrice quotes 1e18 base units of tokenA in tokenB.
func (m *Manager) CalculateSushiTokenPrice(ctx context.Context, tokenA, tokenB common.Address) (*big.Int, error) {
	out, err := m.a.Swap.Quote(ctx, tokenA, tokenB, fixedpoint.WAD())
	if err != nil {
		return nil, fmt.Errorf("position: token price: %w", err)
	}
	return out, nil
}

// Position returns the position as of the last committed operation.
func (m *Manager) Position() domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos.Clone()
}

// Thresholds returns the current risk parameters.
func (m *Manager) Thresholds() domain.ThresholdConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds.Clone()
}

// Strategist returns the address holding automation authority.
func (m *Manager) Strategist() common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategist
}

// Holder returns the address holding the position's tokens.
func (m *Manager) Holder() common.Address { return m.a.Wallet.Address() }

// BaseAsset returns the pool's native asset.
func (m *Manager) BaseAsset() common.Address { return m.baseAsset }

// PendingRewards returns the incentive rewards a harvest would claim.
func (m *Manager) PendingRewards(ctx context.Context) (*big.Int, error) {
	r, err := m.a.Incentives.PendingRewards(ctx)
	if err != nil {
		return nil, fmt.Errorf("position: pending rewards: %w", err)
	}
	return r, nil
}

// State returns the live position record with its derived risk state.
func (m *Manager) State(ctx context.Context) domain.PositionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(ctx)
}

// stateLocked builds a PositionState from committed fields and the live
// market view. Callers must hold m.mu.
func (m *Manager) stateLocked(ctx context.Context) domain.PositionState {
	st := domain.PositionState{
		PositionID:       m.id,
		CollateralAmount: fixedpoint.Clone(m.pos.CollateralAmount),
		DebtAmount:       fixedpoint.Clone(m.pos.DebtAmount),
		PoolShareAmount:  fixedpoint.Clone(m.pos.PoolShareAmount),
		LTV:              new(big.Int),
		MaxLTV:           fixedpoint.Clone(m.thresholds.MaxLTV),
		State:            domain.StateIdle,
		UpdatedAt:        m.clock().UTC(),
	}
	acct, err := m.a.Market.AccountData(ctx)
	if err != nil {
		return st
	}
	st.LTV = acct.LTV
	st.State = classify(acct, m.thresholds)
	return st
}
