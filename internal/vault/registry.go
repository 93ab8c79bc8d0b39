// Package vault holds the routing registry and the pooled share ledger that
// sit in front of position managers.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/position"
	"github.com/ethereum/go-ethereum/common"
)

// Strategy is the part of a position manager the registry routes to.
type Strategy interface {
	ID() string
	BaseAsset() common.Address
	Holder() common.Address
	Deposit(ctx context.Context, caller common.Address, amount *big.Int, asset common.Address) (*big.Int, error)
	Withdraw(ctx context.Context, caller common.Address, shares *big.Int, asset, recipient common.Address, minOutFraction *big.Int) (position.WithdrawResult, error)
	Equity(ctx context.Context) (*big.Int, error)
	AssignNewStrategist(ctx context.Context, caller, addr common.Address) error
}

var _ Strategy = (*position.Manager)(nil)

// Registry maps each asset to its vault and active strategy and is the
// only caller position managers accept deposits and withdrawals from.
type Registry struct {
	address common.Address
	admin   common.Address
	logger  *slog.Logger

	mu         sync.RWMutex
	vaults     map[common.Address]common.Address // asset -> vault
	vaultAsset map[common.Address]common.Address // vault -> asset
	approved   map[common.Address]map[string]Strategy
	active     map[common.Address]Strategy
}

// NewRegistry creates a registry acting toward managers as address.
func NewRegistry(address, admin common.Address, logger *slog.Logger) *Registry {
	return &Registry{
		address:    address,
		admin:      admin,
		logger:     logger.With(slog.String("component", "registry")),
		vaults:     make(map[common.Address]common.Address),
		vaultAsset: make(map[common.Address]common.Address),
		approved:   make(map[common.Address]map[string]Strategy),
		active:     make(map[common.Address]Strategy),
	}
}

// Address is the identity the registry presents to managers.
func (r *Registry) Address() common.Address { return r.address }

func (r *Registry) requireAdmin(caller common.Address) error {
	if caller != r.admin {
		return domain.ErrUnauthorized
	}
	return nil
}

// SetVault designates the vault allowed to route funds for asset.
func (r *Registry) SetVault(caller, asset, vault common.Address) error {
	if err := r.requireAdmin(caller); err != nil {
		return fmt.Errorf("registry: set vault: %w", err)
	}
	if (vault == common.Address{}) {
		return fmt.Errorf("registry: set vault: %w", domain.ErrInvalidAddress)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.vaults[asset]; ok {
		delete(r.vaultAsset, old)
	}
	r.vaults[asset] = vault
	r.vaultAsset[vault] = asset
	return nil
}

// ApproveStrategy allows s to be made the active strategy for asset.
func (r *Registry) ApproveStrategy(caller, asset common.Address, s Strategy) error {
	if err := r.requireAdmin(caller); err != nil {
		return fmt.Errorf("registry: approve strategy: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.approved[asset] == nil {
		r.approved[asset] = make(map[string]Strategy)
	}
	r.approved[asset][s.ID()] = s
	return nil
}

// SetStrategy activates a previously approved strategy for asset.
func (r *Registry) SetStrategy(caller, asset common.Address, s Strategy) error {
	if err := r.requireAdmin(caller); err != nil {
		return fmt.Errorf("registry: set strategy: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.approved[asset][s.ID()]; !ok {
		return fmt.Errorf("registry: set strategy %s: not approved: %w", s.ID(), domain.ErrUnauthorized)
	}
	r.active[asset] = s
	r.logger.Info("registry: strategy set",
		slog.String("asset", asset.Hex()),
		slog.String("strategy", s.ID()),
	)
	return nil
}

// SetStrategyStrategist assigns the strategist of the active strategy for
// asset. The strategy must recognise the registry as its admin.
func (r *Registry) SetStrategyStrategist(ctx context.Context, caller, asset, strategist common.Address) error {
	if err := r.requireAdmin(caller); err != nil {
		return fmt.Errorf("registry: set strategist: %w", err)
	}
	s, err := r.strategy(asset)
	if err != nil {
		return fmt.Errorf("registry: set strategist: %w", err)
	}
	if err := s.AssignNewStrategist(ctx, r.address, strategist); err != nil {
		return fmt.Errorf("registry: set strategist: %w", err)
	}
	return nil
}

func (r *Registry) strategy(asset common.Address) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.active[asset]
	if !ok {
		return nil, fmt.Errorf("no strategy for %s: %w", asset.Hex(), domain.ErrNotFound)
	}
	return s, nil
}

// routeFor resolves the asset a calling vault serves and its strategy.
func (r *Registry) routeFor(caller common.Address) (common.Address, Strategy, error) {
	r.mu.RLock()
	asset, ok := r.vaultAsset[caller]
	r.mu.RUnlock()
	if !ok {
		return common.Address{}, nil, domain.ErrUnauthorized
	}
	s, err := r.strategy(asset)
	if err != nil {
		return common.Address{}, nil, err
	}
	return asset, s, nil
}

// Deposit routes amount of asset, already held by the strategy, into it.
// Only the asset's vault may call.
func (r *Registry) Deposit(ctx context.Context, caller common.Address, amount *big.Int, asset common.Address) (*big.Int, error) {
	served, s, err := r.routeFor(caller)
	if err != nil {
		return nil, fmt.Errorf("registry: deposit: %w", err)
	}
	if served != asset {
		return nil, fmt.Errorf("registry: deposit: vault serves %s: %w", served.Hex(), domain.ErrAssetMismatch)
	}
	minted, err := s.Deposit(ctx, r.address, amount, asset)
	if err != nil {
		return nil, fmt.Errorf("registry: deposit: %w", err)
	}
	return minted, nil
}

// Withdraw redeems shares of the calling vault's strategy, paying out in
// asset to recipient.
func (r *Registry) Withdraw(ctx context.Context, caller common.Address, shares *big.Int, asset, recipient common.Address, minOutFraction *big.Int) (position.WithdrawResult, error) {
	_, s, err := r.routeFor(caller)
	if err != nil {
		return position.WithdrawResult{}, fmt.Errorf("registry: withdraw: %w", err)
	}
	res, err := s.Withdraw(ctx, r.address, shares, asset, recipient, minOutFraction)
	if err != nil {
		return position.WithdrawResult{}, fmt.Errorf("registry: withdraw: %w", err)
	}
	return res, nil
}

// Equity returns the outstanding strategy shares for asset.
func (r *Registry) Equity(ctx context.Context, asset common.Address) (*big.Int, error) {
	s, err := r.strategy(asset)
	if err != nil {
		return nil, fmt.Errorf("registry: equity: %w", err)
	}
	eq, err := s.Equity(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: equity: %w", err)
	}
	return eq, nil
}

// Holder returns the custody address funds for asset must be sent to
// before Deposit.
func (r *Registry) Holder(asset common.Address) (common.Address, error) {
	s, err := r.strategy(asset)
	if err != nil {
		return common.Address{}, fmt.Errorf("registry: holder: %w", err)
	}
	return s.Holder(), nil
}
