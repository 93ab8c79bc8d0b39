// Package oracle implements the automation agent: it samples pool virtual
// prices into a bounded history, derives annualized yield estimates, and
// drives periodic risk checks and harvests on a position.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/eventlog"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/alanyoungcy/levfarm/internal/position"
	"github.com/ethereum/go-ethereum/common"
)

// VirtualPriceSource reports a pool's current virtual price in WAD.
type VirtualPriceSource interface {
	VirtualPrice(ctx context.Context) (*big.Int, error)
}

// RiskTarget is the slice of the position manager the agent drives.
type RiskTarget interface {
	ContractStateUpdate(ctx context.Context, caller common.Address) (position.Transition, error)
	Harvest(ctx context.Context, caller common.Address) (position.HarvestResult, error)
	PendingRewards(ctx context.Context) (*big.Int, error)
	SetBorrowInterestThreshold(ctx context.Context, caller common.Address, threshold *big.Int) error
}

// AgentConfig configures an Agent.
type AgentConfig struct {
	// Address is the identity the agent acts as toward the target; it must
	// be the target's strategist.
	Address common.Address
	// Owner may change the borrow interest threshold through the agent.
	Owner       common.Address
	PrimaryPool common.Address

	MinInterval time.Duration
	OuterWindow time.Duration
	InnerWindow time.Duration
	HistorySize int

	// HarvestMinRewards is the pending reward amount at which a ping also
	// harvests. Zero disables harvesting from ping.
	HarvestMinRewards *big.Int

	Clock func() time.Time
}

func (c *AgentConfig) applyDefaults() {
	if c.MinInterval <= 0 {
		c.MinInterval = 5 * time.Minute
	}
	if c.OuterWindow <= 0 {
		c.OuterWindow = 43200 * time.Second
	}
	if c.InnerWindow <= 0 {
		c.InnerWindow = 720 * time.Second
	}
	if c.HistorySize < 2 {
		c.HistorySize = 256
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// PingResult describes what a ping did.
type PingResult struct {
	Sampled    bool
	At         time.Time
	Prices     map[common.Address]*big.Int
	Transition position.Transition
	Harvest    *position.HarvestResult
}

// Agent is the automation agent and APY oracle.
type Agent struct {
	cfg       AgentConfig
	sources   map[common.Address]VirtualPriceSource
	target    RiskTarget
	snapshots domain.SnapshotStore
	apyCache  domain.APYCache
	events    *eventlog.Log
	logger    *slog.Logger

	// pingMu serializes SetInitialValues, Ping and Restore.
	pingMu sync.Mutex

	mu          sync.RWMutex
	rings       map[common.Address]*history
	initialized bool
	lastSample  time.Time
}

// NewAgent creates an agent sampling the given pools. target and snapshots
// may be nil; without a target Ping only samples.
func NewAgent(cfg AgentConfig, sources map[common.Address]VirtualPriceSource, target RiskTarget, snapshots domain.SnapshotStore, logger *slog.Logger) (*Agent, error) {
	cfg.applyDefaults()
	if len(sources) == 0 {
		return nil, fmt.Errorf("oracle: new agent: no price sources")
	}
	if cfg.OuterWindow <= cfg.InnerWindow {
		return nil, fmt.Errorf("oracle: new agent: outer window %s <= inner window %s: %w",
			cfg.OuterWindow, cfg.InnerWindow, domain.ErrInvalidWindow)
	}
	if (cfg.PrimaryPool == common.Address{}) {
		for pool := range sources {
			if (cfg.PrimaryPool == common.Address{}) || pool.Cmp(cfg.PrimaryPool) < 0 {
				cfg.PrimaryPool = pool
			}
		}
	}
	if _, ok := sources[cfg.PrimaryPool]; !ok {
		return nil, fmt.Errorf("oracle: new agent: primary pool %s: %w", cfg.PrimaryPool.Hex(), domain.ErrNotFound)
	}

	rings := make(map[common.Address]*history, len(sources))
	for pool := range sources {
		rings[pool] = newHistory(cfg.HistorySize)
	}
	return &Agent{
		cfg:       cfg,
		sources:   sources,
		target:    target,
		snapshots: snapshots,
		rings:     rings,
		logger:    logger.With(slog.String("component", "oracle")),
	}, nil
}

// WithEvents makes the agent append PriceSampled events to log.
func (a *Agent) WithEvents(l *eventlog.Log) *Agent {
	a.events = l
	return a
}

// WithAPYCache makes the agent publish fresh estimates after each sample.
func (a *Agent) WithAPYCache(c domain.APYCache) *Agent {
	a.apyCache = c
	return a
}

// Config returns the effective configuration.
func (a *Agent) Config() AgentConfig { return a.cfg }

// Initialized reports whether the first sample has been recorded.
func (a *Agent) Initialized() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.initialized
}

// Pools returns the tracked pools in address order.
func (a *Agent) Pools() []common.Address {
	out := make([]common.Address, 0, len(a.sources))
	for p := range a.sources {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// SetInitialValues records the first snapshot of every pool. It fails with
// ErrAlreadyInitialized when called again.
func (a *Agent) SetInitialValues(ctx context.Context) error {
	a.pingMu.Lock()
	defer a.pingMu.Unlock()

	if a.Initialized() {
		return fmt.Errorf("oracle: set initial values: %w", domain.ErrAlreadyInitialized)
	}
	now := a.cfg.Clock()
	snaps, err := a.sample(ctx, now)
	if err != nil {
		return fmt.Errorf("oracle: set initial values: %w", err)
	}
	a.record(ctx, now, snaps)

	a.logger.InfoContext(ctx, "oracle: initialized", slog.Int("pools", len(snaps)))
	return nil
}

// Ping samples every pool, runs the target's risk check and harvests when
// enough rewards are pending. Calls within MinInterval of the previous
// sample succeed without doing anything. Snapshots are only recorded once
// the target calls have succeeded.
func (a *Agent) Ping(ctx context.Context) (PingResult, error) {
	a.pingMu.Lock()
	defer a.pingMu.Unlock()

	a.mu.RLock()
	initialized, last := a.initialized, a.lastSample
	a.mu.RUnlock()
	if !initialized {
		return PingResult{}, fmt.Errorf("oracle: ping: %w", domain.ErrUninitialized)
	}

	now := a.cfg.Clock()
	if now.Sub(last) < a.cfg.MinInterval {
		a.logger.DebugContext(ctx, "oracle: ping within min interval",
			slog.Duration("since_last", now.Sub(last)),
		)
		return PingResult{At: now}, nil
	}

	snaps, err := a.sample(ctx, now)
	if err != nil {
		return PingResult{}, fmt.Errorf("oracle: ping: %w", err)
	}
	res := PingResult{Sampled: true, At: now, Prices: make(map[common.Address]*big.Int, len(snaps))}
	for _, s := range snaps {
		res.Prices[s.Pool] = fixedpoint.Clone(s.VirtualPrice)
	}

	if a.target != nil {
		tr, err := a.target.ContractStateUpdate(ctx, a.cfg.Address)
		if err != nil {
			return PingResult{}, fmt.Errorf("oracle: ping: state update: %w", err)
		}
		res.Transition = tr

		hv, err := a.maybeHarvest(ctx)
		if err != nil {
			return PingResult{}, fmt.Errorf("oracle: ping: %w", err)
		}
		res.Harvest = hv
	}

	a.record(ctx, now, snaps)
	return res, nil
}

func (a *Agent) maybeHarvest(ctx context.Context) (*position.HarvestResult, error) {
	if !fixedpoint.IsPositive(a.cfg.HarvestMinRewards) {
		return nil, nil
	}
	pending, err := a.target.PendingRewards(ctx)
	if err != nil {
		return nil, fmt.Errorf("pending rewards: %w", err)
	}
	if pending.Sign() == 0 || pending.Cmp(a.cfg.HarvestMinRewards) < 0 {
		return nil, nil
	}
	hv, err := a.target.Harvest(ctx, a.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("harvest: %w", err)
	}
	return &hv, nil
}

// sample reads every source without recording anything.
func (a *Agent) sample(ctx context.Context, now time.Time) ([]domain.PriceSnapshot, error) {
	pools := a.Pools()
	out := make([]domain.PriceSnapshot, 0, len(pools))
	for _, pool := range pools {
		vp, err := a.sources[pool].VirtualPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("virtual price %s: %w", pool.Hex(), err)
		}
		out = append(out, domain.PriceSnapshot{Pool: pool, Timestamp: now, VirtualPrice: vp})
	}
	return out, nil
}

// record appends snaps to the rings, then persists and publishes them.
// Persistence and publication failures are logged only.
func (a *Agent) record(ctx context.Context, now time.Time, snaps []domain.PriceSnapshot) {
	a.mu.Lock()
	for _, s := range snaps {
		a.rings[s.Pool].push(s)
	}
	a.initialized = true
	a.lastSample = now
	a.mu.Unlock()

	for _, s := range snaps {
		if a.snapshots != nil {
			if err := a.snapshots.Insert(ctx, s); err != nil {
				a.logger.WarnContext(ctx, "oracle: persist snapshot failed",
					slog.String("pool", s.Pool.Hex()),
					slog.String("error", err.Error()),
				)
			}
		}
		est, err := a.CalculateAPY(s.Pool, a.cfg.OuterWindow, a.cfg.InnerWindow)
		if err != nil {
			continue
		}
		if a.apyCache != nil {
			if err := a.apyCache.SetAPY(ctx, s.Pool, est.Outer, est.Inner, now); err != nil {
				a.logger.WarnContext(ctx, "oracle: cache apy failed",
					slog.String("pool", s.Pool.Hex()),
					slog.String("error", err.Error()),
				)
			}
		}
		if a.events != nil {
			a.events.Append(ctx, domain.Event{
				Kind: domain.EventPriceSampled,
				Data: map[string]any{
					"pool":         s.Pool.Hex(),
					"virtualPrice": s.VirtualPrice.String(),
					"outerAPY":     est.Outer.String(),
					"innerAPY":     est.Inner.String(),
				},
				At: now,
			})
		}
	}
}

// CalculateAPY returns the annualized virtual price growth of pool over the
// outer and inner windows, in RAY. Each window compares the latest snapshot
// with the oldest one inside the window. Missing history yields zero.
func (a *Agent) CalculateAPY(pool common.Address, outerWindow, innerWindow time.Duration) (APYEstimate, error) {
	if innerWindow <= 0 || outerWindow <= innerWindow {
		return APYEstimate{}, fmt.Errorf("oracle: calculate apy: outer %s inner %s: %w",
			outerWindow, innerWindow, domain.ErrInvalidWindow)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.rings[pool]
	if !ok {
		return APYEstimate{}, fmt.Errorf("oracle: calculate apy: pool %s: %w", pool.Hex(), domain.ErrNotFound)
	}
	return APYEstimate{
		Outer: windowAPY(h, outerWindow),
		Inner: windowAPY(h, innerWindow),
	}, nil
}

// History returns the retained snapshots of pool, oldest first.
func (a *Agent) History(pool common.Address) ([]domain.PriceSnapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.rings[pool]
	if !ok {
		return nil, fmt.Errorf("oracle: history: pool %s: %w", pool.Hex(), domain.ErrNotFound)
	}
	return h.snapshots(), nil
}

// BorrowInterestThresholdModify forwards a new borrow interest threshold to
// the target. Only the owner may call it.
func (a *Agent) BorrowInterestThresholdModify(ctx context.Context, caller common.Address, threshold *big.Int) error {
	if caller != a.cfg.Owner {
		return fmt.Errorf("oracle: borrow threshold modify: %w", domain.ErrUnauthorized)
	}
	if a.target == nil {
		return fmt.Errorf("oracle: borrow threshold modify: no target: %w", domain.ErrNotFound)
	}
	if err := a.target.SetBorrowInterestThreshold(ctx, a.cfg.Address, threshold); err != nil {
		return fmt.Errorf("oracle: borrow threshold modify: %w", err)
	}
	return nil
}

// Restore seeds the rings from the snapshot store. The agent counts as
// initialized when any pool had stored history.
func (a *Agent) Restore(ctx context.Context) error {
	if a.snapshots == nil {
		return nil
	}
	a.pingMu.Lock()
	defer a.pingMu.Unlock()

	loaded := 0
	var last time.Time
	for _, pool := range a.Pools() {
		rows, err := a.snapshots.ListRecent(ctx, pool, a.cfg.HistorySize)
		if err != nil {
			return fmt.Errorf("oracle: restore %s: %w", pool.Hex(), err)
		}
		a.mu.Lock()
		for _, s := range rows {
			a.rings[pool].push(s)
			if s.Timestamp.After(last) {
				last = s.Timestamp
			}
		}
		a.mu.Unlock()
		loaded += len(rows)
	}
	if loaded > 0 {
		a.mu.Lock()
		a.initialized = true
		a.lastSample = last
		a.mu.Unlock()
	}
	a.logger.InfoContext(ctx, "oracle: restored history", slog.Int("snapshots", loaded))
	return nil
}
