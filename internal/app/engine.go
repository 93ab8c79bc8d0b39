package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/levfarm/internal/chain"
	"github.com/alanyoungcy/levfarm/internal/config"
	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/eventlog"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/alanyoungcy/levfarm/internal/oracle"
	"github.com/alanyoungcy/levfarm/internal/position"
	"github.com/alanyoungcy/levfarm/internal/sim"
	"github.com/alanyoungcy/levfarm/internal/vault"
)

// eventLogCapacity bounds each in-memory event log.
const eventLogCapacity = 4096

// PaperEngine is the full engine running against the simulated chain.
type PaperEngine struct {
	World    *sim.World
	Manager  *position.Manager
	Registry *vault.Registry
	Vault    *vault.Vault
	Agent    *oracle.Agent
	Drift    *sim.Drift

	Logs map[string]*eventlog.Log
}

// thresholds converts the configured fractions to WAD.
func thresholds(p config.PositionConfig) domain.ThresholdConfig {
	return domain.ThresholdConfig{
		MaxLTV:                  fixedpoint.FromDecimal(p.MaxLTV),
		LTVBuffer:               fixedpoint.FromDecimal(p.LTVBuffer),
		DepositSlippage:         fixedpoint.FromDecimal(p.DepositSlippage),
		WithdrawSlippage:        fixedpoint.FromDecimal(p.WithdrawSlippage),
		HarvestSlippage:         fixedpoint.FromDecimal(p.HarvestSlippage),
		BorrowInterestThreshold: fixedpoint.FromDecimal(p.BorrowInterestThreshold),
	}
}

func agentConfig(cfg *config.Config, primary common.Address) oracle.AgentConfig {
	return oracle.AgentConfig{
		Address:     common.HexToAddress(cfg.Position.Strategist),
		Owner:       common.HexToAddress(cfg.Oracle.Owner),
		PrimaryPool: primary,
		MinInterval: cfg.Oracle.MinInterval.Duration,
		OuterWindow: cfg.Oracle.OuterWindow.Duration,
		InnerWindow: cfg.Oracle.InnerWindow.Duration,
		HistorySize: cfg.Oracle.HistorySize,
	}
}

// BuildPaperEngine deploys the simulated venues, the position manager
// behind a registry and vault, and the automation agent acting as the
// manager's strategist. The registry administers the manager.
func BuildPaperEngine(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*PaperEngine, error) {
	sc := cfg.Sim
	world := sim.NewWorld(sim.WorldConfig{
		PoolSeed:        sc.PoolSeed,
		PoolFeeBps:      sc.PoolFeeBps,
		SwapFeeBps:      sc.SwapFeeBps,
		MarketMaxLTV:    sc.MarketMaxLTV,
		BorrowRate:      sc.BorrowRate,
		MarketLiquidity: sc.MarketLiquidity,
		Prices:          sc.Prices,
	})
	c := world.Chain

	pc := cfg.Position
	admin := common.HexToAddress(pc.Admin)
	controller := common.HexToAddress(pc.Controller)
	holder := common.HexToAddress(pc.Holder)
	base := common.HexToAddress(pc.BaseAsset)
	pool := common.HexToAddress(pc.Pool)
	vaultAddr := common.HexToAddress(sc.Vault)

	logs := map[string]*eventlog.Log{
		"position": eventlog.New("position", eventLogCapacity, logger),
		"vault":    eventlog.New("vault", eventLogCapacity, logger),
		"oracle":   eventlog.New("oracle", eventLogCapacity, logger),
	}

	agentCfg := agentConfig(cfg, pool)
	rewardToken, _ := world.TokenBySymbol("WMATIC")
	agentCfg.HarvestMinRewards = fixedpoint.Units(cfg.Oracle.HarvestMinRewards, rewardToken.Decimals)

	manager, err := position.New(position.Config{
		ID:         pc.ID,
		Admin:      controller,
		Controller: controller,
		Strategist: agentCfg.Address,
		BaseAsset:  base,
		Thresholds: thresholds(pc),
		Leverage: position.LeverageConfig{
			Enabled:                 pc.Leverage.Enabled,
			CollateralFraction:      fixedpoint.FromDecimal(pc.Leverage.CollateralFraction),
			MaxIterations:           pc.Leverage.MaxIterations,
			MaxDeleverageIterations: pc.Leverage.MaxDeleverageIterations,
		},
	}, position.Adapters{
		Swap:       c.Swap(holder),
		Pool:       c.Pool(pool, holder),
		Market:     c.Lending(holder),
		Incentives: c.Incentives(holder),
		Wallet:     c.Wallet(holder),
		Ledger:     c,
	}, logs["position"], logger)
	if err != nil {
		return nil, fmt.Errorf("paper engine: %w", err)
	}

	registry := vault.NewRegistry(controller, admin, logger)
	if err := registry.SetVault(admin, base, vaultAddr); err != nil {
		return nil, fmt.Errorf("paper engine: %w", err)
	}
	if err := registry.ApproveStrategy(admin, base, manager); err != nil {
		return nil, fmt.Errorf("paper engine: %w", err)
	}
	if err := registry.SetStrategy(admin, base, manager); err != nil {
		return nil, fmt.Errorf("paper engine: %w", err)
	}
	v := vault.New(vaultAddr, base, registry, c, logs["vault"], logger)

	agent, err := oracle.NewAgent(agentCfg,
		map[common.Address]oracle.VirtualPriceSource{pool: c.Pool(pool, holder)},
		manager, deps.SnapshotStore, logger)
	if err != nil {
		return nil, fmt.Errorf("paper engine: %w", err)
	}
	agent = agent.WithEvents(logs["oracle"])
	if deps.APYCache != nil {
		agent = agent.WithAPYCache(deps.APYCache)
	}

	drift := sim.NewDrift(c, sim.DriftConfig{
		Interval:     sc.Drift.Interval.Duration,
		PoolYield:    fixedpoint.FromDecimal(sc.Drift.PoolYield),
		Rewards:      fixedpoint.Units(sc.Drift.Rewards, rewardToken.Decimals),
		RewardHolder: holder,
		Pool:         pool,
	}, logger)

	e := &PaperEngine{
		World:    world,
		Manager:  manager,
		Registry: registry,
		Vault:    v,
		Agent:    agent,
		Drift:    drift,
		Logs:     logs,
	}
	if sc.InitialDeposit.IsPositive() {
		if err := e.seed(ctx, common.HexToAddress(sc.Depositor), base, sc); err != nil {
			return nil, fmt.Errorf("paper engine: %w", err)
		}
	}
	return e, nil
}

// seed mints the initial deposit to the depositor and routes it through
// the vault so the engine starts with an open position.
func (e *PaperEngine) seed(ctx context.Context, depositor, base common.Address, sc config.SimConfig) error {
	tok, ok := e.World.Chain.Token(base)
	if !ok {
		return fmt.Errorf("seed: base asset %s not deployed: %w", base.Hex(), domain.ErrNotFound)
	}
	amount := fixedpoint.Units(sc.InitialDeposit, tok.Decimals)
	e.World.Chain.Mint(base, depositor, amount)
	if _, err := e.Vault.Deposit(ctx, depositor, amount); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}

// MonitorEngine samples live pools read-only; it drives no position.
type MonitorEngine struct {
	Client *chain.Client
	Router *chain.SushiRouter
	Agent  *oracle.Agent
	Logs   map[string]*eventlog.Log
}

// BuildMonitorEngine dials the RPC endpoint and builds an agent sampling
// the configured Curve pool.
func BuildMonitorEngine(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*MonitorEngine, error) {
	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, logger)
	if err != nil {
		return nil, fmt.Errorf("monitor engine: %w", err)
	}
	pool := common.HexToAddress(cfg.Chain.CurvePool)
	logs := map[string]*eventlog.Log{
		"oracle": eventlog.New("oracle", eventLogCapacity, logger),
	}

	agent, err := oracle.NewAgent(agentConfig(cfg, pool),
		map[common.Address]oracle.VirtualPriceSource{pool: chain.NewCurvePool(client.Caller(), pool)},
		nil, deps.SnapshotStore, logger)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("monitor engine: %w", err)
	}
	agent = agent.WithEvents(logs["oracle"])
	if deps.APYCache != nil {
		agent = agent.WithAPYCache(deps.APYCache)
	}

	return &MonitorEngine{
		Client: client,
		Router: chain.NewSushiRouter(client.Caller(), common.HexToAddress(cfg.Chain.SushiRouter)),
		Agent:  agent,
		Logs:   logs,
	}, nil
}
