package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/eventlog"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

// Treasury holds the vault asset. Transfers run inside Atomic so a
// concurrent rollback elsewhere cannot undo them.
type Treasury interface {
	domain.Custody
	domain.Ledger
}

// Vault is the pooled share ledger for one asset. Users deposit the asset
// and receive vault shares proportional to the strategy equity they add.
type Vault struct {
	address  common.Address
	asset    common.Address
	registry *Registry
	treasury Treasury
	events   *eventlog.Log
	logger   *slog.Logger

	mu          sync.Mutex
	totalSupply *big.Int
	balances    map[common.Address]*big.Int
}

// New creates a vault at address for asset. The registry must list address
// as the asset's vault before deposits succeed.
func New(address, asset common.Address, registry *Registry, treasury Treasury, events *eventlog.Log, logger *slog.Logger) *Vault {
	return &Vault{
		address:     address,
		asset:       asset,
		registry:    registry,
		treasury:    treasury,
		events:      events,
		logger:      logger.With(slog.String("component", "vault"), slog.String("asset", asset.Hex())),
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
	}
}

// Address returns the vault's identity toward the registry.
func (v *Vault) Address() common.Address { return v.address }

// Asset returns the deposit asset.
func (v *Vault) Asset() common.Address { return v.asset }

// TotalSupply returns outstanding vault shares.
func (v *Vault) TotalSupply() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.totalSupply)
}

// BalanceOf returns the vault shares held by user.
func (v *Vault) BalanceOf(user common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fixedpoint.Clone(v.balances[user])
}

// Deposit pulls amount of the vault asset from user into the strategy,
// routes it through the registry and mints vault shares for the equity
// added. If routing fails the pulled funds are returned to user.
func (v *Vault) Deposit(ctx context.Context, user common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("vault: deposit: %w", domain.ErrInvalidAmount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	holder, err := v.registry.Holder(v.asset)
	if err != nil {
		return nil, fmt.Errorf("vault: deposit: %w", err)
	}
	equityBefore, err := v.registry.Equity(ctx, v.asset)
	if err != nil {
		return nil, fmt.Errorf("vault: deposit: %w", err)
	}
	// Outstanding shares with nothing behind them cannot price a deposit.
	if v.totalSupply.Sign() > 0 && equityBefore.Sign() == 0 {
		return nil, fmt.Errorf("vault: deposit: strategy has no equity behind %s shares: %w", v.totalSupply, domain.ErrInvalidAmount)
	}
	if err := v.transfer(ctx, user, holder, amount); err != nil {
		return nil, fmt.Errorf("vault: deposit: pull funds: %w", err)
	}
	minted, err := v.registry.Deposit(ctx, v.address, amount, v.asset)
	if err != nil {
		if rerr := v.transfer(ctx, holder, user, amount); rerr != nil {
			v.logger.ErrorContext(ctx, "vault: refund after failed deposit",
				slog.String("user", user.Hex()),
				slog.String("amount", amount.String()),
				slog.String("error", rerr.Error()),
			)
		}
		return nil, fmt.Errorf("vault: deposit: %w", err)
	}

	shares := minted
	if v.totalSupply.Sign() > 0 {
		shares = fixedpoint.MulDiv(minted, v.totalSupply, equityBefore)
	}
	v.totalSupply.Add(v.totalSupply, shares)
	v.balances[user] = new(big.Int).Add(fixedpoint.Clone(v.balances[user]), shares)

	v.emit(ctx, domain.EventFundsDeposited, map[string]any{
		"user":         user.Hex(),
		"amount":       amount.String(),
		"shares":       shares.String(),
		"strategyMint": minted.String(),
	})
	return shares, nil
}

func (v *Vault) transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	return v.treasury.Atomic(ctx, func(ctx context.Context) error {
		return v.treasury.Transfer(ctx, v.asset, from, to, amount)
	})
}

// Withdraw burns vaultShares of user and pays the corresponding strategy
// equity out in asset to recipient. minOutFraction bounds slippage against
// the strategy's own quote.
func (v *Vault) Withdraw(ctx context.Context, user common.Address, vaultShares *big.Int, asset, recipient common.Address, minOutFraction *big.Int) (*big.Int, error) {
	if vaultShares == nil || vaultShares.Sign() <= 0 {
		return nil, fmt.Errorf("vault: withdraw: %w", domain.ErrInvalidAmount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	bal := fixedpoint.Clone(v.balances[user])
	if bal.Cmp(vaultShares) < 0 {
		return nil, fmt.Errorf("vault: withdraw: %s shares held: %w", bal, domain.ErrInsufficientBalance)
	}
	equity, err := v.registry.Equity(ctx, v.asset)
	if err != nil {
		return nil, fmt.Errorf("vault: withdraw: %w", err)
	}
	strategyShares := equity
	if vaultShares.Cmp(v.totalSupply) < 0 {
		strategyShares = fixedpoint.MulDiv(vaultShares, equity, v.totalSupply)
	}
	res, err := v.registry.Withdraw(ctx, v.address, strategyShares, asset, recipient, minOutFraction)
	if err != nil {
		return nil, fmt.Errorf("vault: withdraw: %w", err)
	}

	v.totalSupply.Sub(v.totalSupply, vaultShares)
	v.balances[user] = bal.Sub(bal, vaultShares)
	if v.balances[user].Sign() == 0 {
		delete(v.balances, user)
	}

	v.emit(ctx, domain.EventFundsWithdrawn, map[string]any{
		"user":      user.Hex(),
		"shares":    vaultShares.String(),
		"asset":     asset.Hex(),
		"recipient": recipient.Hex(),
		"amount":    res.FundsReceived.String(),
	})
	return res.FundsReceived, nil
}

func (v *Vault) emit(ctx context.Context, kind domain.EventKind, data map[string]any) {
	if v.events == nil {
		return
	}
	v.events.Append(ctx, domain.Event{Kind: kind, Data: data})
}
