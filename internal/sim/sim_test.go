package sim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
)

var trader = common.HexToAddress("0x000000000000000000000000000000000000beef")

func TestAtomicRestoresStateOnError(t *testing.T) {
	w := NewWorld(DefaultWorldConfig())
	ctx := context.Background()
	require.NoError(t, w.Fund(trader, "DAI", decimal.NewFromInt(100)))

	boom := errors.New("boom")
	err := w.Chain.Atomic(ctx, func(ctx context.Context) error {
		w.Chain.Mint(DAI, trader, w.Amount("DAI", decimal.NewFromInt(50)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	bal, err := w.Chain.BalanceOf(ctx, DAI, trader)
	require.NoError(t, err)
	assert.Equal(t, 0, bal.Cmp(w.Amount("DAI", decimal.NewFromInt(100))))

	require.NoError(t, w.Chain.Atomic(ctx, func(ctx context.Context) error {
		w.Chain.Mint(DAI, trader, w.Amount("DAI", decimal.NewFromInt(50)))
		return nil
	}))
	bal, _ = w.Chain.BalanceOf(ctx, DAI, trader)
	assert.Equal(t, 0, bal.Cmp(w.Amount("DAI", decimal.NewFromInt(150))))
}

func TestFailAfterSkipsCalls(t *testing.T) {
	w := NewWorld(DefaultWorldConfig())
	ctx := context.Background()
	require.NoError(t, w.Fund(trader, "DAI", decimal.NewFromInt(10)))
	one := w.Amount("DAI", decimal.NewFromInt(1))

	w.Chain.FailAfter("transfer", 1, errors.New("paused"))
	require.NoError(t, w.Chain.Transfer(ctx, DAI, trader, SushiRouter, one))
	require.Error(t, w.Chain.Transfer(ctx, DAI, trader, SushiRouter, one))
	require.NoError(t, w.Chain.Transfer(ctx, DAI, trader, SushiRouter, one), "fault fires once")
}

func TestSwapEnforcesMinOut(t *testing.T) {
	w := NewWorld(DefaultWorldConfig())
	ctx := context.Background()
	require.NoError(t, w.Fund(trader, "WMATIC", decimal.NewFromInt(100)))
	in := w.Amount("WMATIC", decimal.NewFromInt(100))
	s := w.Chain.Swap(trader)

	quote, err := s.Quote(ctx, WMATIC, DAI, in)
	require.NoError(t, err)
	assert.Equal(t, 0, quote.Cmp(fixedpoint.MustWad("79.76")), "0.8 price less 30bps: %s", quote)

	_, err = s.Swap(ctx, WMATIC, DAI, in, fixedpoint.MustWad("80"))
	require.ErrorIs(t, err, domain.ErrSlippage)
	left, _ := w.Chain.BalanceOf(ctx, WMATIC, trader)
	assert.Equal(t, 0, left.Cmp(in))

	out, err := s.Swap(ctx, WMATIC, DAI, in, fixedpoint.MustWad("79"))
	require.NoError(t, err)
	got, _ := w.Chain.BalanceOf(ctx, DAI, trader)
	assert.Equal(t, 0, got.Cmp(out))
}

func TestDriftTickAccruesYieldAndRewards(t *testing.T) {
	w := NewWorld(DefaultWorldConfig())
	ctx := context.Background()
	before, err := w.Chain.PoolVirtualPrice(Am3CRV)
	require.NoError(t, err)

	d := NewDrift(w.Chain, DriftConfig{
		Interval:     time.Minute,
		PoolYield:    fixedpoint.MustWad("0.001"),
		Rewards:      fixedpoint.MustWad("0.5"),
		RewardHolder: trader,
		Pool:         Am3CRV,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, d.Tick(ctx))

	after, err := w.Chain.PoolVirtualPrice(Am3CRV)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Cmp(before), "virtual price rises: %s -> %s", before, after)

	pending, err := w.Chain.Incentives(trader).PendingRewards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending.Cmp(fixedpoint.MustWad("0.5")))
}

func TestDriftRunStopsOnCancel(t *testing.T) {
	w := NewWorld(DefaultWorldConfig())
	d := NewDrift(w.Chain, DriftConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.Run(ctx), context.Canceled)
}
