package position

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

// Deposit invests amount of asset, already held by the position wallet,
// into the pool and levers it up. It returns the equity minted for the
// deposit, in pool token units.
func (m *Manager) Deposit(ctx context.Context, caller common.Address, amount *big.Int, asset common.Address) (*big.Int, error) {
	if err := m.requireController(caller); err != nil {
		return nil, fmt.Errorf("position: deposit: %w", err)
	}
	if !fixedpoint.IsPositive(amount) {
		return nil, fmt.Errorf("position: deposit: %w", domain.ErrInvalidAmount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var minted *big.Int
	err := m.run(ctx, "deposit", func(ctx context.Context, o *op) error {
		bal, err := m.a.Wallet.Balance(ctx, asset)
		if err != nil {
			return fmt.Errorf("wallet balance: %w", err)
		}
		if bal.Cmp(amount) < 0 {
			return fmt.Errorf("wallet holds %s of %s: %w", bal, asset.Hex(), domain.ErrInsufficientBalance)
		}

		before, err := m.equity(ctx)
		if err != nil {
			return err
		}
		base, err := m.toBase(ctx, asset, amount, o.th.DepositSlippage)
		if err != nil {
			return err
		}
		if err := m.invest(ctx, o, base); err != nil {
			return err
		}
		if _, err := m.enforce(ctx, o); err != nil {
			return err
		}
		after, err := m.equity(ctx)
		if err != nil {
			return err
		}
		minted = fixedpoint.Sub(after, before)

		o.emit(domain.EventAssetDeposited, map[string]any{
			"sharesMinted": minted.String(),
			"amount":       amount.String(),
			"asset":        asset.Hex(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "position_manager: deposit completed",
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.String()),
		slog.String("shares_minted", minted.String()),
	)
	return minted, nil
}

// toBase converts amount of asset into the base asset, swapping when they
// differ. The swap must return at least slippage of the quoted output.
func (m *Manager) toBase(ctx context.Context, asset common.Address, amount, slippage *big.Int) (*big.Int, error) {
	if asset == m.baseAsset {
		return new(big.Int).Set(amount), nil
	}
	return m.swap(ctx, asset, m.baseAsset, amount, slippage)
}

// fromBase converts base asset proceeds into asset.
func (m *Manager) fromBase(ctx context.Context, asset common.Address, amount, slippage *big.Int) (*big.Int, error) {
	if asset == m.baseAsset || amount.Sign() == 0 {
		return new(big.Int).Set(amount), nil
	}
	return m.swap(ctx, m.baseAsset, asset, amount, slippage)
}

func (m *Manager) swap(ctx context.Context, from, to common.Address, amount, slippage *big.Int) (*big.Int, error) {
	quote, err := m.a.Swap.Quote(ctx, from, to, amount)
	if err != nil {
		return nil, fmt.Errorf("quote %s->%s: %w: %w", from.Hex(), to.Hex(), domain.ErrAssetMismatch, err)
	}
	out, err := m.a.Swap.Swap(ctx, from, to, amount, fixedpoint.ApplyFraction(quote, slippage))
	if err != nil {
		return nil, fmt.Errorf("swap %s->%s: %w", from.Hex(), to.Hex(), err)
	}
	return out, nil
}

// supports reports whether asset is the base asset or quotable against it.
func (m *Manager) supports(ctx context.Context, asset common.Address) error {
	if asset == m.baseAsset {
		return nil
	}
	if _, err := m.a.Swap.Quote(ctx, asset, m.baseAsset, fixedpoint.WAD()); err != nil {
		return fmt.Errorf("asset %s: %w", asset.Hex(), domain.ErrAssetMismatch)
	}
	return nil
}

// addLiquidity supplies base asset to the pool with the deposit slippage
// floor applied to the expected pool token output.
func (m *Manager) addLiquidity(ctx context.Context, amount, slippage *big.Int) (*big.Int, error) {
	expected, err := m.a.Pool.CalcTokenAmount(ctx, amount)
	if err != nil {
		return nil, fmt.Errorf("calc token amount: %w", err)
	}
	lp, err := m.a.Pool.AddLiquidity(ctx, amount, fixedpoint.ApplyFraction(expected, slippage))
	if err != nil {
		return nil, fmt.Errorf("add liquidity: %w", err)
	}
	return lp, nil
}

// invest adds base to the pool and, when leverage is enabled and the
// borrow rate is acceptable, runs the leverage loop: post the new pool
// tokens as collateral, borrow up to MaxLTV-LTVBuffer, add the borrowed
// amount to the pool, and repeat until the marginal borrow is negligible.
func (m *Manager) invest(ctx context.Context, o *op, base *big.Int) error {
	if base.Sign() == 0 {
		return nil
	}
	newLP, err := m.addLiquidity(ctx, base, o.th.DepositSlippage)
	if err != nil {
		return err
	}
	if !m.lev.Enabled {
		return nil
	}

	target := fixedpoint.Sub(o.th.MaxLTV, o.th.LTVBuffer)
	for i := 0; i < m.lev.MaxIterations; i++ {
		post := fixedpoint.ApplyFraction(newLP, m.lev.CollateralFraction)
		if post.Sign() == 0 {
			break
		}
		if err := m.a.Market.Supply(ctx, post); err != nil {
			return fmt.Errorf("supply collateral: %w", err)
		}

		acct, err := m.a.Market.AccountData(ctx)
		if err != nil {
			return fmt.Errorf("account data: %w", err)
		}
		if acct.BorrowRate.Cmp(o.th.BorrowInterestThreshold) > 0 {
			break
		}
		room := fixedpoint.Sub(fixedpoint.MulWad(acct.CollateralValue, target), acct.Debt)
		if room.Cmp(m.lev.MinBorrow) < 0 {
			break
		}
		if err := m.a.Market.Borrow(ctx, room); err != nil {
			return fmt.Errorf("borrow: %w", err)
		}
		newLP, err = m.addLiquidity(ctx, room, o.th.DepositSlippage)
		if err != nil {
			return err
		}
	}
	return nil
}
