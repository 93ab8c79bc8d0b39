package position

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHarvestWithNothingPendingIsNoop(t *testing.T) {
	f := newFixture(t, "0.75")
	f.deposit(t, "DAI", 1000)
	before := f.m.Position()
	seq := f.events.LastSeq()

	res, err := f.m.Harvest(context.Background(), stranger)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed.Sign())
	assert.Zero(t, res.SharesMinted.Sign())

	after := f.m.Position()
	assert.Equal(t, 0, before.DebtAmount.Cmp(after.DebtAmount))
	assert.Equal(t, 0, before.CollateralAmount.Cmp(after.CollateralAmount))
	assert.Equal(t, seq, f.events.LastSeq())
}

func TestHarvestReinvestsRewards(t *testing.T) {
	f := newFixture(t, "0.75")
	f.deposit(t, "DAI", 1000)
	ctx := context.Background()
	equityBefore := f.equity(t)

	require.NoError(t, f.chain.AccrueRewards(holder, wad("100")))
	pending, err := f.m.PendingRewards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending.Cmp(wad("100")))

	// Permissionless.
	res, err := f.m.Harvest(ctx, stranger)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Claimed.Cmp(wad("100")))

	// 100 WMATIC at 0.80 less the router fee.
	between(t, res.Reinvested, dai("79"), dai("80"))
	assert.Positive(t, res.SharesMinted.Sign())
	assert.True(t, f.equity(t).Cmp(equityBefore) > 0)
	assert.True(t, f.ltv(t).Cmp(wad("0.75")) <= 0)
	assert.Zero(t, f.balance(t, sim.WMATIC, holder).Sign(), "claimed rewards are fully swapped")

	evs := f.events.Filter(domain.EventHarvested)
	require.Len(t, evs, 1)
	assert.Equal(t, wad("100").String(), evs[0].Data["claimed"])
	assert.Equal(t, stranger.Hex(), evs[0].Data["caller"])
}

func TestHarvestTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t, "0.75")
	f.deposit(t, "DAI", 1000)
	ctx := context.Background()
	require.NoError(t, f.chain.AccrueRewards(holder, wad("100")))

	_, err := f.m.Harvest(ctx, admin)
	require.NoError(t, err)
	pos := f.m.Position()
	eq := f.equity(t)

	res, err := f.m.Harvest(ctx, admin)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed.Sign())
	assert.Equal(t, 0, pos.DebtAmount.Cmp(f.m.Position().DebtAmount))
	assert.Equal(t, 0, eq.Cmp(f.equity(t)))
	assert.Len(t, f.events.Filter(domain.EventHarvested), 1)
}

func TestHarvestRollsBackWhenSwapFails(t *testing.T) {
	f := newFixture(t, "0.75")
	f.deposit(t, "DAI", 1000)
	ctx := context.Background()
	require.NoError(t, f.chain.AccrueRewards(holder, wad("100")))
	before := f.m.Position()

	f.chain.FailAfter("swap", 0, errors.New("router paused"))
	_, err := f.m.Harvest(ctx, stranger)
	require.Error(t, err)

	// The claim is undone along with everything else.
	pending, err := f.m.PendingRewards(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, pending.Cmp(wad("100")))
	assert.Zero(t, f.balance(t, sim.WMATIC, holder).Sign())
	assert.Equal(t, 0, before.CollateralAmount.Cmp(f.m.Position().CollateralAmount))
	assert.Empty(t, f.events.Filter(domain.EventHarvested))

	_, err = f.m.Harvest(ctx, stranger)
	require.NoError(t, err)
}
