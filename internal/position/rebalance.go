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

const (
	ReasonLTV        = "ltv"
	ReasonBorrowRate = "borrow_rate"
)

// Transition describes the outcome of a risk check.
type Transition struct {
	Changed bool
	Reason  string
	From    domain.LeverageState
	To      domain.LeverageState
	FromLTV *big.Int
	ToLTV   *big.Int
	Repaid  *big.Int
}

// ContractStateUpdate re-evaluates the position against MaxLTV and the
// borrow interest threshold. Above MaxLTV it deleverages to
// MaxLTV-LTVBuffer; above the borrow threshold it repays all debt. Within
// bounds it is a no-op.
func (m *Manager) ContractStateUpdate(ctx context.Context, caller common.Address) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireOperator(caller); err != nil {
		return Transition{}, fmt.Errorf("position: contract state update: %w", err)
	}

	var tr Transition
	err := m.run(ctx, "contract state update", func(ctx context.Context, o *op) error {
		acct, err := m.a.Market.AccountData(ctx)
		if err != nil {
			return fmt.Errorf("account data: %w", err)
		}
		tr = Transition{
			From:    classify(acct, o.th),
			FromLTV: acct.LTV,
			ToLTV:   acct.LTV,
			Repaid:  new(big.Int),
		}
		tr.To = tr.From

		target, reason := correctionTarget(acct, o.th)
		if reason == "" {
			return nil
		}
		repaid, err := m.deleverage(ctx, o, target)
		if err != nil {
			return err
		}
		after, err := m.a.Market.AccountData(ctx)
		if err != nil {
			return fmt.Errorf("account data: %w", err)
		}
		tr.Changed = true
		tr.Reason = reason
		tr.ToLTV = after.LTV
		tr.To = classify(after, o.th)
		tr.Repaid = repaid

		o.emit(domain.EventDeleveraged, map[string]any{
			"fromLTV": acct.LTV.String(),
			"toLTV":   after.LTV.String(),
			"repaid":  repaid.String(),
			"reason":  reason,
		})
		return nil
	})
	if err != nil {
		return Transition{}, err
	}

	if tr.Changed {
		m.logger.InfoContext(ctx, "position_manager: deleveraged",
			slog.String("reason", tr.Reason),
			slog.String("from_ltv", fixedpoint.ToDecimal(tr.FromLTV).String()),
			slog.String("to_ltv", fixedpoint.ToDecimal(tr.ToLTV).String()),
			slog.String("repaid", tr.Repaid.String()),
		)
	}
	return tr, nil
}

// correctionTarget returns the LTV a breached position must return to and
// why, or an empty reason when no correction is needed.
func correctionTarget(acct domain.AccountData, th domain.ThresholdConfig) (*big.Int, string) {
	if acct.Debt.Sign() == 0 {
		return nil, ""
	}
	if acct.BorrowRate.Cmp(th.BorrowInterestThreshold) > 0 {
		return new(big.Int), ReasonBorrowRate
	}
	if acct.LTV.Cmp(th.MaxLTV) > 0 {
		return fixedpoint.Sub(th.MaxLTV, th.LTVBuffer), ReasonLTV
	}
	return nil, ""
}

func classify(acct domain.AccountData, th domain.ThresholdConfig) domain.LeverageState {
	if acct.Debt.Sign() == 0 {
		return domain.StateIdle
	}
	if _, reason := correctionTarget(acct, th); reason != "" {
		return domain.StateDeleveraging
	}
	return domain.StateLeveraged
}

// enforce deleverages when the position ended an operation above MaxLTV.
func (m *Manager) enforce(ctx context.Context, o *op) (*big.Int, error) {
	acct, err := m.a.Market.AccountData(ctx)
	if err != nil {
		return nil, fmt.Errorf("account data: %w", err)
	}
	if acct.LTV.Cmp(o.th.MaxLTV) <= 0 {
		return new(big.Int), nil
	}
	repaid, err := m.deleverage(ctx, o, fixedpoint.Sub(o.th.MaxLTV, o.th.LTVBuffer))
	if err != nil {
		return nil, err
	}
	after, err := m.a.Market.AccountData(ctx)
	if err != nil {
		return nil, fmt.Errorf("account data: %w", err)
	}
	o.emit(domain.EventDeleveraged, map[string]any{
		"fromLTV": acct.LTV.String(),
		"toLTV":   after.LTV.String(),
		"repaid":  repaid.String(),
		"reason":  ReasonLTV,
	})
	return repaid, nil
}

// deleverage repays debt until the LTV is at or just below target, or all
// debt is repaid when target is zero. Held pool tokens are spent first
// since they do not back the loan; collateral is pulled next, within the
// market's headroom. Base asset left over is returned to the pool.
// Running out of iterations or headroom before the target is reached is
// ErrLeverageBound, which rolls the whole operation back.
func (m *Manager) deleverage(ctx context.Context, o *op, target *big.Int) (*big.Int, error) {
	repaid := new(big.Int)
	cash := new(big.Int)
	wad := fixedpoint.WAD()
	stop := new(big.Int).Add(target, ltvDust)

	for i := 0; i < m.lev.MaxDeleverageIterations; i++ {
		acct, err := m.a.Market.AccountData(ctx)
		if err != nil {
			return nil, fmt.Errorf("account data: %w", err)
		}
		if acct.Debt.Sign() == 0 {
			break
		}
		if target.Sign() > 0 && acct.LTV.Cmp(stop) <= 0 {
			break
		}

		held, err := m.a.Wallet.Balance(ctx, m.a.Pool.Address())
		if err != nil {
			return nil, fmt.Errorf("pool token balance: %w", err)
		}
		excess := fixedpoint.Sub(acct.Debt, fixedpoint.MulWad(acct.CollateralValue, target))

		var lp *big.Int
		if held.Sign() > 0 {
			need, err := m.lpFor(ctx, excess)
			if err != nil {
				return nil, err
			}
			lp = fixedpoint.Min(held, need)
		} else {
			// Pulling collateral shrinks both sides: repay x with
			// (D-x)/(C-x) = t, so x = (D-tC)/(1-t).
			need := fixedpoint.MulDivUp(excess, wad, fixedpoint.Sub(wad, target))
			lp, err = m.releasable(ctx, acct.CollateralAmount, need)
			if err != nil {
				return nil, err
			}
			if lp.Sign() == 0 {
				break
			}
			if err := m.a.Market.WithdrawCollateral(ctx, lp); err != nil {
				return nil, fmt.Errorf("withdraw collateral: %w", err)
			}
		}
		if lp.Sign() == 0 {
			break
		}

		out, err := m.removeLiquidity(ctx, lp, o.th.WithdrawSlippage)
		if err != nil {
			return nil, err
		}
		r, err := m.a.Market.Repay(ctx, out)
		if err != nil {
			return nil, fmt.Errorf("repay: %w", err)
		}
		repaid.Add(repaid, r)
		cash.Add(cash, new(big.Int).Sub(out, r))
	}

	if cash.Sign() > 0 {
		if _, err := m.addLiquidity(ctx, cash, o.th.DepositSlippage); err != nil {
			return nil, err
		}
	}

	acct, err := m.a.Market.AccountData(ctx)
	if err != nil {
		return nil, fmt.Errorf("account data: %w", err)
	}
	switch {
	case target.Sign() == 0 && acct.Debt.Sign() > 0:
		return nil, fmt.Errorf("debt %s left after unwinding: %w",
			fixedpoint.ToDecimal(acct.Debt), domain.ErrLeverageBound)
	case target.Sign() > 0 && acct.LTV.Cmp(stop) > 0:
		return nil, fmt.Errorf("ltv %s still above target %s: %w",
			fixedpoint.ToDecimal(acct.LTV), fixedpoint.ToDecimal(target), domain.ErrLeverageBound)
	case acct.LTV.Cmp(o.th.MaxLTV) > 0:
		return nil, fmt.Errorf("ltv %s still above %s: %w",
			fixedpoint.ToDecimal(acct.LTV), fixedpoint.ToDecimal(o.th.MaxLTV), domain.ErrLeverageBound)
	}
	return repaid, nil
}
