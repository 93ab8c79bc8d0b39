package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/eventlog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type agentFixture struct {
	agent  *Agent
	clock  *clock
	priceA *priceSource
	priceB *priceSource
	target *target
	store  *snapshotStore
	events *eventlog.Log
}

func newAgentFixture(t *testing.T, harvestMin *big.Int) *agentFixture {
	t.Helper()
	f := &agentFixture{
		clock:  newClock(),
		priceA: newPriceSource("1"),
		priceB: newPriceSource("1.5"),
		target: &target{pending: new(big.Int)},
		store:  &snapshotStore{},
		events: eventlog.New("oracle", 0, discardLogger()),
	}
	a, err := NewAgent(AgentConfig{
		Address:           agentID,
		Owner:             owner,
		PrimaryPool:       poolA,
		MinInterval:       5 * time.Minute,
		OuterWindow:       12 * time.Hour,
		InnerWindow:       720 * time.Second,
		HistorySize:       16,
		HarvestMinRewards: harvestMin,
		Clock:             f.clock.Now,
	}, map[common.Address]VirtualPriceSource{poolA: f.priceA, poolB: f.priceB}, f.target, f.store, discardLogger())
	require.NoError(t, err)
	f.agent = a.WithEvents(f.events)
	return f
}

func TestNewAgentValidation(t *testing.T) {
	src := map[common.Address]VirtualPriceSource{poolA: newPriceSource("1")}

	_, err := NewAgent(AgentConfig{OuterWindow: time.Minute, InnerWindow: time.Hour}, src, nil, nil, discardLogger())
	require.ErrorIs(t, err, domain.ErrInvalidWindow)

	_, err = NewAgent(AgentConfig{PrimaryPool: poolB}, src, nil, nil, discardLogger())
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = NewAgent(AgentConfig{}, nil, nil, nil, discardLogger())
	require.Error(t, err)

	a, err := NewAgent(AgentConfig{}, src, nil, nil, discardLogger())
	require.NoError(t, err)
	cfg := a.Config()
	assert.Equal(t, poolA, cfg.PrimaryPool)
	assert.Equal(t, 5*time.Minute, cfg.MinInterval)
	assert.Equal(t, 43200*time.Second, cfg.OuterWindow)
	assert.Equal(t, 720*time.Second, cfg.InnerWindow)
}

func TestSetInitialValuesTwiceFails(t *testing.T) {
	f := newAgentFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.agent.SetInitialValues(ctx))
	assert.True(t, f.agent.Initialized())

	err := f.agent.SetInitialValues(ctx)
	require.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	hist, err := f.agent.History(poolA)
	require.NoError(t, err)
	assert.Len(t, hist, 1, "the failed call records nothing")
	assert.Len(t, f.store.rows, 2)
}

func TestPingBeforeInitFails(t *testing.T) {
	f := newAgentFixture(t, nil)
	_, err := f.agent.Ping(context.Background())
	require.ErrorIs(t, err, domain.ErrUninitialized)

	updates, _ := f.target.calls()
	assert.Zero(t, updates)
}

func TestPingWithinMinIntervalIsNoop(t *testing.T) {
	f := newAgentFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.agent.SetInitialValues(ctx))
	seq := f.events.LastSeq()

	f.clock.Advance(4 * time.Minute)
	res, err := f.agent.Ping(ctx)
	require.NoError(t, err)
	assert.False(t, res.Sampled)

	updates, _ := f.target.calls()
	assert.Zero(t, updates)
	hist, err := f.agent.History(poolA)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
	assert.Equal(t, seq, f.events.LastSeq())
}

func TestPingSamplesAndRunsRiskCheck(t *testing.T) {
	f := newAgentFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.agent.SetInitialValues(ctx))

	f.clock.Advance(6 * time.Hour)
	f.priceA.Set("1.0005")
	res, err := f.agent.Ping(ctx)
	require.NoError(t, err)
	assert.True(t, res.Sampled)
	assert.Equal(t, 0, res.Prices[poolA].Cmp(wad("1.0005")))
	assert.Nil(t, res.Harvest)

	f.target.mu.Lock()
	assert.Equal(t, []common.Address{agentID}, f.target.updates)
	f.target.mu.Unlock()

	est, err := f.agent.CalculateAPY(poolA, 12*time.Hour, 720*time.Second)
	require.NoError(t, err)
	want := annualize(snap(0, "1"), snap(6*time.Hour, "1.0005"))
	assert.Equal(t, 0, want.Cmp(est.Outer))
	assert.Zero(t, est.Inner.Sign(), "no sample inside the inner window")

	// Pool B never moved.
	estB, err := f.agent.CalculateAPY(poolB, 12*time.Hour, 720*time.Second)
	require.NoError(t, err)
	assert.Zero(t, estB.Outer.Sign())

	sampled := f.events.Filter(domain.EventPriceSampled)
	assert.Len(t, sampled, 4, "two pools, two samples each")
}

func TestPingHarvestsAboveMinimum(t *testing.T) {
	f := newAgentFixture(t, wad("10"))
	ctx := context.Background()
	require.NoError(t, f.agent.SetInitialValues(ctx))

	f.target.pending = wad("5")
	f.clock.Advance(10 * time.Minute)
	res, err := f.agent.Ping(ctx)
	require.NoError(t, err)
	assert.Nil(t, res.Harvest)

	f.target.mu.Lock()
	f.target.pending = wad("12")
	f.target.mu.Unlock()
	f.clock.Advance(10 * time.Minute)
	res, err = f.agent.Ping(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Harvest)
	assert.Equal(t, 0, res.Harvest.Claimed.Cmp(wad("12")))

	_, harvests := f.target.calls()
	assert.Equal(t, 1, harvests)
}

func TestPingFailureRecordsNothing(t *testing.T) {
	f := newAgentFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.agent.SetInitialValues(ctx))

	f.target.updateErr = errors.New("market offline")
	f.clock.Advance(10 * time.Minute)
	_, err := f.agent.Ping(ctx)
	require.Error(t, err)

	hist, err := f.agent.History(poolA)
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	// A failing source aborts before the target is touched.
	f.target.updateErr = nil
	f.priceB.err = errors.New("rpc timeout")
	_, err = f.agent.Ping(ctx)
	require.Error(t, err)
	updates, _ := f.target.calls()
	assert.Zero(t, updates)
}

func TestCalculateAPYErrors(t *testing.T) {
	f := newAgentFixture(t, nil)

	_, err := f.agent.CalculateAPY(poolA, time.Hour, time.Hour)
	require.ErrorIs(t, err, domain.ErrInvalidWindow)
	_, err = f.agent.CalculateAPY(poolA, time.Hour, 0)
	require.ErrorIs(t, err, domain.ErrInvalidWindow)
	_, err = f.agent.CalculateAPY(outsider, time.Hour, time.Minute)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Before any sample the estimate is zero, not an error.
	est, err := f.agent.CalculateAPY(poolA, time.Hour, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, est.Outer.Sign())
	assert.Zero(t, est.Inner.Sign())
}

func TestBorrowInterestThresholdModify(t *testing.T) {
	f := newAgentFixture(t, nil)
	ctx := context.Background()

	require.ErrorIs(t, f.agent.BorrowInterestThresholdModify(ctx, outsider, wad("0.2")), domain.ErrUnauthorized)
	require.NoError(t, f.agent.BorrowInterestThresholdModify(ctx, owner, wad("0.2")))

	f.target.mu.Lock()
	defer f.target.mu.Unlock()
	require.Len(t, f.target.thresholds, 1)
	assert.Equal(t, 0, f.target.thresholds[0].Cmp(wad("0.2")))
}

func TestRestoreSeedsHistory(t *testing.T) {
	f := newAgentFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.agent.SetInitialValues(ctx))
	f.clock.Advance(time.Hour)
	f.priceA.Set("1.001")
	_, err := f.agent.Ping(ctx)
	require.NoError(t, err)

	restored, err := NewAgent(f.agent.Config(),
		map[common.Address]VirtualPriceSource{poolA: f.priceA, poolB: f.priceB}, f.target, f.store, discardLogger())
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx))
	assert.True(t, restored.Initialized())

	err = restored.SetInitialValues(ctx)
	require.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	want, err := f.agent.CalculateAPY(poolA, 12*time.Hour, 720*time.Second)
	require.NoError(t, err)
	got, err := restored.CalculateAPY(poolA, 12*time.Hour, 720*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, want.Outer.Cmp(got.Outer))

	// The restored agent honours the interval from the last stored sample.
	res, err := restored.Ping(ctx)
	require.NoError(t, err)
	assert.False(t, res.Sampled)
}
