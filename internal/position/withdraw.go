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

// WithdrawResult reports a completed withdrawal.
type WithdrawResult struct {
	SharesBurned  *big.Int
	FundsReceived *big.Int
}

// portion is the share of each position component attributable to an
// amount of equity.
type portion struct {
	held       *big.Int
	collateral *big.Int
	debt       *big.Int
}

// Withdraw redeems shares of equity into asset and sends the proceeds to
// recipient. Debt attributable to the shares is repaid before their
// collateral is released. The call fails with ErrSlippage when the output
// is below minOutFraction of BalanceOfUser(shares, asset) as measured
// before any venue call.
func (m *Manager) Withdraw(
	ctx context.Context,
	caller common.Address,
	shares *big.Int,
	asset common.Address,
	recipient common.Address,
	minOutFraction *big.Int,
) (WithdrawResult, error) {
	if err := m.requireController(caller); err != nil {
		return WithdrawResult{}, fmt.Errorf("position: withdraw: %w", err)
	}
	if !fixedpoint.IsPositive(shares) {
		return WithdrawResult{}, fmt.Errorf("position: withdraw: %w", domain.ErrInvalidAmount)
	}
	if !fixedpoint.InUnitRange(minOutFraction) {
		return WithdrawResult{}, fmt.Errorf("position: withdraw: min out: %w", domain.ErrInvalidFraction)
	}
	if recipient == (common.Address{}) {
		return WithdrawResult{}, fmt.Errorf("position: withdraw: recipient: %w", domain.ErrInvalidAddress)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var res WithdrawResult
	err := m.run(ctx, "withdraw", func(ctx context.Context, o *op) error {
		if err := m.supports(ctx, asset); err != nil {
			return err
		}
		equity, err := m.equity(ctx)
		if err != nil {
			return err
		}
		if shares.Cmp(equity) > 0 {
			return fmt.Errorf("shares %s exceed equity %s: %w", shares, equity, domain.ErrInvalidAmount)
		}
		p, err := m.portion(ctx, shares, equity)
		if err != nil {
			return err
		}
		expected, err := m.portionValue(ctx, p, asset)
		if err != nil {
			return err
		}

		cash, err := m.unwind(ctx, o, p)
		if err != nil {
			return err
		}
		out, err := m.fromBase(ctx, asset, cash, o.th.WithdrawSlippage)
		if err != nil {
			return err
		}
		floor := fixedpoint.ApplyFraction(expected, minOutFraction)
		if out.Cmp(floor) < 0 {
			return fmt.Errorf("received %s below floor %s: %w", out, floor, domain.ErrSlippage)
		}
		if err := m.a.Wallet.Transfer(ctx, asset, recipient, out); err != nil {
			return fmt.Errorf("transfer to recipient: %w", err)
		}
		if _, err := m.enforce(ctx, o); err != nil {
			return err
		}

		res = WithdrawResult{SharesBurned: new(big.Int).Set(shares), FundsReceived: out}
		o.emit(domain.EventPositionWithdrawn, map[string]any{
			"sharesBurned":  shares.String(),
			"fundsReceived": out.String(),
			"asset":         asset.Hex(),
			"recipient":     recipient.Hex(),
		})
		return nil
	})
	if err != nil {
		return WithdrawResult{}, err
	}

	m.logger.InfoContext(ctx, "position_manager: withdraw completed",
		slog.String("asset", asset.Hex()),
		slog.String("shares", shares.String()),
		slog.String("received", res.FundsReceived.String()),
	)
	return res, nil
}

// portion splits the position proportionally to shares/equity. Debt is
// rounded up so a partial exit never leaves the remaining holders with more
// than their share of debt.
func (m *Manager) portion(ctx context.Context, shares, equity *big.Int) (portion, error) {
	acct, err := m.a.Market.AccountData(ctx)
	if err != nil {
		return portion{}, fmt.Errorf("account data: %w", err)
	}
	held, err := m.a.Wallet.Balance(ctx, m.a.Pool.Address())
	if err != nil {
		return portion{}, fmt.Errorf("pool token balance: %w", err)
	}
	if equity.Sign() == 0 {
		return portion{held: new(big.Int), collateral: new(big.Int), debt: new(big.Int)}, nil
	}
	if shares.Cmp(equity) >= 0 {
		return portion{held: held, collateral: acct.CollateralAmount, debt: acct.Debt}, nil
	}
	return portion{
		held:       fixedpoint.MulDiv(held, shares, equity),
		collateral: fixedpoint.MulDiv(acct.CollateralAmount, shares, equity),
		debt:       fixedpoint.Min(fixedpoint.MulDivUp(acct.Debt, shares, equity), acct.Debt),
	}, nil
}

// portionValue is the redeemable value of p in asset at current prices.
func (m *Manager) portionValue(ctx context.Context, p portion, asset common.Address) (*big.Int, error) {
	lp := new(big.Int).Add(p.held, p.collateral)
	gross, err := m.a.Pool.CalcWithdraw(ctx, lp)
	if err != nil {
		return nil, fmt.Errorf("calc withdraw: %w", err)
	}
	base := fixedpoint.Sub(gross, p.debt)
	if asset == m.baseAsset || base.Sign() == 0 {
		return base, nil
	}
	out, err := m.a.Swap.Quote(ctx, m.baseAsset, asset, base)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w: %w", asset.Hex(), domain.ErrAssetMismatch, err)
	}
	return out, nil
}

// unwind exits portion p and returns the base asset left after repaying its
// debt. Collateral is released in chunks the market accepts.
func (m *Manager) unwind(ctx context.Context, o *op, p portion) (*big.Int, error) {
	cash := new(big.Int)
	if p.held.Sign() > 0 {
		out, err := m.removeLiquidity(ctx, p.held, o.th.WithdrawSlippage)
		if err != nil {
			return nil, err
		}
		cash.Add(cash, out)
	}

	remaining := new(big.Int).Set(p.collateral)
	debt := new(big.Int).Set(p.debt)
	for i := 0; debt.Sign() > 0; i++ {
		if i >= m.lev.MaxDeleverageIterations {
			return nil, fmt.Errorf("debt %s left after %d rounds: %w", debt, i, domain.ErrLeverageBound)
		}
		if cash.Sign() > 0 {
			repaid, err := m.a.Market.Repay(ctx, fixedpoint.Min(cash, debt))
			if err != nil {
				return nil, fmt.Errorf("repay: %w", err)
			}
			if repaid.Sign() == 0 {
				break
			}
			cash.Sub(cash, repaid)
			debt.Sub(debt, repaid)
			continue
		}

		chunk, err := m.releasable(ctx, remaining, debt)
		if err != nil {
			return nil, err
		}
		if chunk.Sign() == 0 {
			return nil, fmt.Errorf("no collateral can be released: %w", domain.ErrLeverageBound)
		}
		if err := m.a.Market.WithdrawCollateral(ctx, chunk); err != nil {
			return nil, fmt.Errorf("withdraw collateral: %w", err)
		}
		remaining.Sub(remaining, chunk)
		out, err := m.removeLiquidity(ctx, chunk, o.th.WithdrawSlippage)
		if err != nil {
			return nil, err
		}
		cash.Add(cash, out)
	}

	if remaining.Sign() > 0 {
		if err := m.a.Market.WithdrawCollateral(ctx, remaining); err != nil {
			return nil, fmt.Errorf("withdraw collateral: %w", err)
		}
		out, err := m.removeLiquidity(ctx, remaining, o.th.WithdrawSlippage)
		if err != nil {
			return nil, err
		}
		cash.Add(cash, out)
	}
	return cash, nil
}

// releasable returns how many pool tokens of collateral, at most limit, can
// be pulled to raise need of base asset without breaching the market's own
// LTV ceiling.
func (m *Manager) releasable(ctx context.Context, limit, need *big.Int) (*big.Int, error) {
	acct, err := m.a.Market.AccountData(ctx)
	if err != nil {
		return nil, fmt.Errorf("account data: %w", err)
	}
	lpNeed, err := m.lpFor(ctx, need)
	if err != nil {
		return nil, err
	}
	lpMax, err := m.headroom(ctx, acct)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Min(fixedpoint.Min(limit, lpNeed), fixedpoint.Min(lpMax, acct.CollateralAmount)), nil
}

// lpFor returns the pool tokens whose removal yields at least base.
func (m *Manager) lpFor(ctx context.Context, base *big.Int) (*big.Int, error) {
	perLP, err := m.a.Pool.CalcWithdraw(ctx, fixedpoint.WAD())
	if err != nil {
		return nil, fmt.Errorf("calc withdraw: %w", err)
	}
	if perLP.Sign() == 0 {
		return nil, fmt.Errorf("pool returns nothing per token: %w", domain.ErrInsufficientLiquidity)
	}
	return fixedpoint.MulDivUp(base, fixedpoint.WAD(), perLP), nil
}

// headroomSafety keeps collateral pulls a hair inside the market ceiling so
// rounding in the market's own LTV check never rejects them.
var headroomSafety = fixedpoint.MustWad("0.999")

// headroom is the collateral, in pool tokens, that can be withdrawn while
// keeping the current debt within the market ceiling.
func (m *Manager) headroom(ctx context.Context, acct domain.AccountData) (*big.Int, error) {
	if acct.Debt.Sign() == 0 {
		return new(big.Int).Set(acct.CollateralAmount), nil
	}
	vp, err := m.a.Pool.VirtualPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual price: %w", err)
	}
	required := fixedpoint.DivWadUp(acct.Debt, acct.MarketMaxLTV)
	spare := fixedpoint.Sub(acct.CollateralValue, required)
	return fixedpoint.ApplyFraction(fixedpoint.DivWad(spare, vp), headroomSafety), nil
}

// removeLiquidity burns lp pool tokens with the slippage floor applied to
// the pool's own estimate.
func (m *Manager) removeLiquidity(ctx context.Context, lp, slippage *big.Int) (*big.Int, error) {
	expected, err := m.a.Pool.CalcWithdraw(ctx, lp)
	if err != nil {
		return nil, fmt.Errorf("calc withdraw: %w", err)
	}
	out, err := m.a.Pool.RemoveLiquidity(ctx, lp, fixedpoint.ApplyFraction(expected, slippage))
	if err != nil {
		return nil, fmt.Errorf("remove liquidity: %w", err)
	}
	return out, nil
}
