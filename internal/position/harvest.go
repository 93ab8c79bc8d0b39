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

// HarvestResult reports what a harvest claimed and reinvested.
type HarvestResult struct {
	Claimed      *big.Int
	Reinvested   *big.Int
	SharesMinted *big.Int
}

// Harvest claims pending incentive rewards, swaps them to the base asset
// and reinvests through the leverage loop. Anyone may call it. With nothing
// pending it succeeds without touching any venue state.
func (m *Manager) Harvest(ctx context.Context, caller common.Address) (HarvestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := HarvestResult{Claimed: new(big.Int), Reinvested: new(big.Int), SharesMinted: new(big.Int)}
	err := m.run(ctx, "harvest", func(ctx context.Context, o *op) error {
		pending, err := m.a.Incentives.PendingRewards(ctx)
		if err != nil {
			return fmt.Errorf("pending rewards: %w", err)
		}
		if pending.Sign() == 0 {
			return nil
		}

		before, err := m.equity(ctx)
		if err != nil {
			return err
		}
		claimed, err := m.a.Incentives.Claim(ctx, pending)
		if err != nil {
			return fmt.Errorf("claim: %w", err)
		}
		if claimed.Sign() == 0 {
			return nil
		}
		base, err := m.toBase(ctx, m.a.Incentives.RewardToken(), claimed, o.th.HarvestSlippage)
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

		res = HarvestResult{
			Claimed:      claimed,
			Reinvested:   base,
			SharesMinted: fixedpoint.Sub(after, before),
		}
		o.emit(domain.EventHarvested, map[string]any{
			"claimed":      claimed.String(),
			"reinvested":   base.String(),
			"sharesMinted": res.SharesMinted.String(),
			"caller":       caller.Hex(),
		})
		return nil
	})
	if err != nil {
		return HarvestResult{}, err
	}

	if res.Claimed.Sign() > 0 {
		m.logger.InfoContext(ctx, "position_manager: harvested",
			slog.String("claimed", res.Claimed.String()),
			slog.String("reinvested", res.Reinvested.String()),
		)
	}
	return res, nil
}
