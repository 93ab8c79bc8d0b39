// Package position implements the leveraged position engine: deposits are
// routed into a liquidity pool, optionally levered by borrowing against the
// pool tokens, and unwound, rebalanced and compounded on request.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/eventlog"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

// LeverageConfig tunes the leverage loop.
type LeverageConfig struct {
	Enabled bool
	// CollateralFraction of each batch of new pool tokens posted as
	// collateral (WAD).
	CollateralFraction *big.Int
	MaxIterations      int
	// MinBorrow is the marginal borrow below which the loop stops.
	MinBorrow *big.Int
	// MaxDeleverageIterations bounds corrective unwinding.
	MaxDeleverageIterations int
}

// Config is the construction-time configuration of a Manager.
type Config struct {
	ID         string
	Admin      common.Address
	Controller common.Address
	Strategist common.Address
	BaseAsset  common.Address
	Thresholds domain.ThresholdConfig
	Leverage   LeverageConfig
	Clock      func() time.Time
}

// Adapters are the external venues the manager drives. Every adapter acts
// on behalf of Wallet's holder.
type Adapters struct {
	Swap       domain.SwapAdapter
	Pool       domain.LiquidityPool
	Market     domain.LendingMarket
	Incentives domain.IncentiveController
	Wallet     domain.Wallet
	Ledger     domain.Ledger
}

// ltvDust is the tolerance above a deleverage target treated as reached.
var ltvDust = big.NewInt(1e14)

// Manager owns one Position and its ThresholdConfig. Mutating operations
// are serialized and all-or-nothing: they run inside Ledger.Atomic on a
// working copy of local state, which is committed together with the
// operation's events only on success.
type Manager struct {
	mu sync.Mutex

	id         string
	admin      common.Address
	controller common.Address
	baseAsset  common.Address
	lev        LeverageConfig
	clock      func() time.Time

	strategist common.Address
	thresholds domain.ThresholdConfig
	pos        domain.Position

	a      Adapters
	events *eventlog.Log
	logger *slog.Logger
}

// New validates cfg and creates a Manager with an empty position.
func New(cfg Config, a Adapters, events *eventlog.Log, logger *slog.Logger) (*Manager, error) {
	if err := validateThresholds(cfg.Thresholds); err != nil {
		return nil, fmt.Errorf("position: new: %w", err)
	}
	if a.Swap == nil || a.Pool == nil || a.Market == nil || a.Incentives == nil || a.Wallet == nil || a.Ledger == nil {
		return nil, fmt.Errorf("position: new: missing adapter")
	}
	if cfg.Admin == (common.Address{}) || cfg.Controller == (common.Address{}) {
		return nil, fmt.Errorf("position: new: admin and controller required: %w", domain.ErrInvalidAddress)
	}
	if cfg.BaseAsset != a.Pool.BaseAsset() {
		return nil, fmt.Errorf("position: new: base asset %s is not the pool asset: %w", cfg.BaseAsset.Hex(), domain.ErrAssetMismatch)
	}
	lev := cfg.Leverage
	if lev.CollateralFraction == nil || !fixedpoint.InUnitRange(lev.CollateralFraction) {
		lev.CollateralFraction = fixedpoint.WAD()
	}
	if lev.MaxIterations <= 0 {
		lev.MaxIterations = 16
	}
	if lev.MinBorrow == nil {
		lev.MinBorrow = big.NewInt(1e15)
	}
	if lev.MaxDeleverageIterations <= 0 {
		lev.MaxDeleverageIterations = 32
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	id := cfg.ID
	if id == "" {
		id = a.Wallet.Address().Hex()
	}

	return &Manager{
		id:         id,
		admin:      cfg.Admin,
		controller: cfg.Controller,
		baseAsset:  cfg.BaseAsset,
		lev:        lev,
		clock:      clock,
		strategist: cfg.Strategist,
		thresholds: cfg.Thresholds.Clone(),
		pos:        domain.NewPosition(),
		a:          a,
		events:     events,
		logger:     logger.With(slog.String("component", "position_manager"), slog.String("position", id)),
	}, nil
}

func validateThresholds(t domain.ThresholdConfig) error {
	wad := fixedpoint.WAD()
	switch {
	case !fixedpoint.IsPositive(t.MaxLTV) || t.MaxLTV.Cmp(wad) >= 0:
		return fmt.Errorf("max ltv must be in (0, 1): %w", domain.ErrInvalidFraction)
	case t.LTVBuffer == nil || t.LTVBuffer.Sign() < 0 || t.LTVBuffer.Cmp(t.MaxLTV) >= 0:
		return fmt.Errorf("ltv buffer must be in [0, max ltv): %w", domain.ErrInvalidFraction)
	case !fixedpoint.InUnitRange(t.DepositSlippage):
		return fmt.Errorf("deposit slippage must be in (0, 1]: %w", domain.ErrInvalidFraction)
	case !fixedpoint.InUnitRange(t.WithdrawSlippage):
		return fmt.Errorf("withdraw slippage must be in (0, 1]: %w", domain.ErrInvalidFraction)
	case !fixedpoint.InUnitRange(t.HarvestSlippage):
		return fmt.Errorf("harvest slippage must be in (0, 1]: %w", domain.ErrInvalidFraction)
	case t.BorrowInterestThreshold == nil || t.BorrowInterestThreshold.Sign() < 0:
		return fmt.Errorf("borrow interest threshold must be non-negative: %w", domain.ErrInvalidAmount)
	}
	return nil
}

// ID returns the position identifier.
func (m *Manager) ID() string { return m.id }

// Events returns the manager's event log.
func (m *Manager) Events() *eventlog.Log { return m.events }

// op is the working copy of one mutating operation.
type op struct {
	pos        domain.Position
	th         domain.ThresholdConfig
	strategist common.Address
	pending    []domain.Event
}

func (o *op) emit(kind domain.EventKind, data map[string]any) {
	o.pending = append(o.pending, domain.Event{Kind: kind, Data: data})
}

// run executes fn atomically against the ledger and commits on success.
// Callers must hold m.mu.
func (m *Manager) run(ctx context.Context, name string, fn func(ctx context.Context, o *op) error) error {
	o := &op{
		pos:        m.pos.Clone(),
		th:         m.thresholds.Clone(),
		strategist: m.strategist,
	}
	err := m.a.Ledger.Atomic(ctx, func(ctx context.Context) error {
		if err := fn(ctx, o); err != nil {
			return err
		}
		return m.sync(ctx, o)
	})
	if err != nil {
		m.logger.WarnContext(ctx, "position_manager: operation rolled back",
			slog.String("op", name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("position: %s: %w", name, err)
	}
	m.commit(ctx, o)
	return nil
}

// configure applies an administrative change that touches no venue.
// Callers must hold m.mu.
func (m *Manager) configure(ctx context.Context, fn func(o *op) error) error {
	o := &op{
		pos:        m.pos.Clone(),
		th:         m.thresholds.Clone(),
		strategist: m.strategist,
	}
	if err := fn(o); err != nil {
		return err
	}
	m.commit(ctx, o)
	return nil
}

func (m *Manager) commit(ctx context.Context, o *op) {
	m.pos = o.pos
	m.thresholds = o.th
	m.strategist = o.strategist
	if len(o.pending) == 0 || m.events == nil {
		return
	}
	st := m.stateLocked(ctx)
	for i := range o.pending {
		snap := st
		o.pending[i].Position = &snap
	}
	m.events.Append(ctx, o.pending...)
}

// sync refreshes the local position from the venues.
func (m *Manager) sync(ctx context.Context, o *op) error {
	acct, err := m.a.Market.AccountData(ctx)
	if err != nil {
		return fmt.Errorf("account data: %w", err)
	}
	held, err := m.a.Wallet.Balance(ctx, m.a.Pool.Address())
	if err != nil {
		return fmt.Errorf("pool token balance: %w", err)
	}
	o.pos.CollateralAmount = acct.CollateralAmount
	o.pos.DebtAmount = acct.Debt
	o.pos.PoolShareAmount = held
	return nil
}

func (m *Manager) requireController(caller common.Address) error {
	if caller != m.controller {
		return fmt.Errorf("caller %s is not the registry: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

func (m *Manager) requireAdmin(caller common.Address) error {
	if caller != m.admin {
		return fmt.Errorf("caller %s is not the admin: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// requireOperator admits the admin and the assigned strategist. Callers
// must hold m.mu.
func (m *Manager) requireOperator(caller common.Address) error {
	if caller == m.admin {
		return nil
	}
	if m.strategist != (common.Address{}) && caller == m.strategist {
		return nil
	}
	return fmt.Errorf("caller %s is neither admin nor strategist: %w", caller.Hex(), domain.ErrUnauthorized)
}

// ModifyMaxLTV changes the leverage bound. It does not deleverage; the next
// ContractStateUpdate brings the position back within the new bound.
func (m *Manager) ModifyMaxLTV(ctx context.Context, caller common.Address, newMaxLTV *big.Int) error {
	if err := m.requireAdmin(caller); err != nil {
		return fmt.Errorf("position: modify max ltv: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.configure(ctx, func(o *op) error {
		next := o.th.Clone()
		next.MaxLTV = fixedpoint.Clone(newMaxLTV)
		if err := validateThresholds(next); err != nil {
			return err
		}
		o.th = next
		o.emit(domain.EventMaxLTVModified, map[string]any{
			"newMaxLTV": newMaxLTV.String(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("position: modify max ltv: %w", err)
	}
	m.logger.InfoContext(ctx, "position_manager: max ltv modified",
		slog.String("max_ltv", fixedpoint.ToDecimal(newMaxLTV).String()),
	)
	return nil
}

// AssignNewStrategist transfers automation authority to addr.
func (m *Manager) AssignNewStrategist(ctx context.Context, caller, addr common.Address) error {
	if err := m.requireAdmin(caller); err != nil {
		return fmt.Errorf("position: assign strategist: %w", err)
	}
	if addr == (common.Address{}) {
		return fmt.Errorf("position: assign strategist: %w", domain.ErrInvalidAddress)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.configure(ctx, func(o *op) error {
		o.strategist = addr
		o.emit(domain.EventStrategistAssigned, map[string]any{
			"strategist": addr.Hex(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("position: assign strategist: %w", err)
	}
	m.logger.InfoContext(ctx, "position_manager: strategist assigned",
		slog.String("strategist", addr.Hex()),
	)
	return nil
}

// SetBorrowInterestThreshold updates the borrow rate ceiling (WAD annual
// rate) consulted by ContractStateUpdate.
func (m *Manager) SetBorrowInterestThreshold(ctx context.Context, caller common.Address, threshold *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return fmt.Errorf("position: set borrow threshold: %w", err)
	}
	err := m.configure(ctx, func(o *op) error {
		next := o.th.Clone()
		next.BorrowInterestThreshold = fixedpoint.Clone(threshold)
		if err := validateThresholds(next); err != nil {
			return err
		}
		o.th = next
		o.emit(domain.EventBorrowThresholdModified, map[string]any{
			"threshold": threshold.String(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("position: set borrow threshold: %w", err)
	}
	return nil
}
