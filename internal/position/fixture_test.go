package position

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/eventlog"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/alanyoungcy/levfarm/internal/sim"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	admin      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	controller = common.HexToAddress("0x0000000000000000000000000000000000c0ffee")
	strategist = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
	holder     = common.HexToAddress("0x000000000000000000000000000000000000f00d")
	recipient  = common.HexToAddress("0x000000000000000000000000000000000000dada")
	stranger   = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

type fixture struct {
	world  *sim.World
	chain  *sim.Chain
	m      *Manager
	events *eventlog.Log
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func thresholds(maxLTV string) domain.ThresholdConfig {
	return domain.ThresholdConfig{
		MaxLTV:                  fixedpoint.MustWad(maxLTV),
		LTVBuffer:               fixedpoint.MustWad("0.05"),
		DepositSlippage:         fixedpoint.MustWad("0.99"),
		WithdrawSlippage:        fixedpoint.MustWad("0.99"),
		HarvestSlippage:         fixedpoint.MustWad("0.99"),
		BorrowInterestThreshold: fixedpoint.MustWad("0.1"),
	}
}

func newFixture(t *testing.T, maxLTV string) *fixture {
	t.Helper()
	world := sim.NewWorld(sim.DefaultWorldConfig())
	chain := world.Chain
	events := eventlog.New("position", 0, discardLogger())

	m, err := New(Config{
		ID:         "am3crv-dai",
		Admin:      admin,
		Controller: controller,
		Strategist: strategist,
		BaseAsset:  sim.DAI,
		Thresholds: thresholds(maxLTV),
		Leverage:   LeverageConfig{Enabled: true},
	}, Adapters{
		Swap:       chain.Swap(holder),
		Pool:       chain.Pool(sim.Am3CRV, holder),
		Market:     chain.Lending(holder),
		Incentives: chain.Incentives(holder),
		Wallet:     chain.Wallet(holder),
		Ledger:     chain,
	}, events, discardLogger())
	require.NoError(t, err)

	return &fixture{world: world, chain: chain, m: m, events: events}
}

// fund credits whole tokens to the position wallet, as the share ledger
// does before routing a deposit.
func (f *fixture) fund(t *testing.T, symbol string, whole int64) *big.Int {
	t.Helper()
	require.NoError(t, f.world.Fund(holder, symbol, decimal.NewFromInt(whole)))
	return f.world.Amount(symbol, decimal.NewFromInt(whole))
}

func (f *fixture) deposit(t *testing.T, symbol string, whole int64) *big.Int {
	t.Helper()
	amount := f.fund(t, symbol, whole)
	tok, err := f.world.TokenBySymbol(symbol)
	require.NoError(t, err)
	minted, err := f.m.Deposit(context.Background(), controller, amount, tok.Address)
	require.NoError(t, err)
	return minted
}

func (f *fixture) ltv(t *testing.T) *big.Int {
	t.Helper()
	dd, err := f.m.GetDebtData(context.Background())
	require.NoError(t, err)
	return dd.LTV
}

func (f *fixture) equity(t *testing.T) *big.Int {
	t.Helper()
	eq, err := f.m.Equity(context.Background())
	require.NoError(t, err)
	return eq
}

func (f *fixture) balance(t *testing.T, token, who common.Address) *big.Int {
	t.Helper()
	b, err := f.chain.BalanceOf(context.Background(), token, who)
	require.NoError(t, err)
	return b
}

func wad(s string) *big.Int { return fixedpoint.MustWad(s) }

func dai(whole string) *big.Int {
	return fixedpoint.Units(decimal.RequireFromString(whole), 18)
}

func between(t *testing.T, x, lo, hi *big.Int) {
	t.Helper()
	require.Truef(t, x.Cmp(lo) >= 0 && x.Cmp(hi) <= 0, "%s not in [%s, %s]", x, lo, hi)
}
