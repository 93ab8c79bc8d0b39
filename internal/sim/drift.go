package sim

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

// DriftConfig controls how the paper-mode market evolves per tick.
type DriftConfig struct {
	Interval time.Duration
	// PoolYield is the fraction of the pool reserve added per tick (WAD).
	PoolYield *big.Int
	// Rewards accrued to RewardHolder per tick, in reward token units.
	Rewards      *big.Int
	RewardHolder common.Address
	Pool         common.Address
}

// Drift accrues pool yield, incentive rewards and debt interest on a
// ticker, each tick inside one atomic section.
type Drift struct {
	chain  *Chain
	cfg    DriftConfig
	logger *slog.Logger
}

// NewDrift creates a Drift.
func NewDrift(chain *Chain, cfg DriftConfig, logger *slog.Logger) *Drift {
	return &Drift{
		chain:  chain,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "sim_drift")),
	}
}

// Run ticks until ctx is cancelled.
func (d *Drift) Run(ctx context.Context) error {
	if d.cfg.Interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Tick(ctx); err != nil {
				d.logger.WarnContext(ctx, "sim_drift: tick failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Tick applies one interval of drift.
func (d *Drift) Tick(ctx context.Context) error {
	return d.chain.Atomic(ctx, func(ctx context.Context) error {
		if fixedpoint.IsPositive(d.cfg.PoolYield) {
			d.chain.mu.Lock()
			var reserve *big.Int
			if p, ok := d.chain.st.pools[d.cfg.Pool]; ok {
				reserve = new(big.Int).Set(d.chain.balance(p.baseAsset, p.lpToken))
			}
			d.chain.mu.Unlock()
			if reserve != nil {
				if err := d.chain.AccruePoolYield(d.cfg.Pool, fixedpoint.MulWad(reserve, d.cfg.PoolYield)); err != nil {
					return err
				}
			}
		}
		if fixedpoint.IsPositive(d.cfg.Rewards) {
			if err := d.chain.AccrueRewards(d.cfg.RewardHolder, d.cfg.Rewards); err != nil {
				return err
			}
		}
		d.chain.AccrueInterest(d.cfg.Interval)
		return nil
	})
}
