package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	f := newAgentFixture(t, nil)
	_, err := NewScheduler(f.agent, "every now and then", nil, 0, discardLogger())
	require.Error(t, err)
}

func TestSchedulerTickInitializesThenPings(t *testing.T) {
	f := newAgentFixture(t, nil)
	locks := &lockManager{}
	s, err := NewScheduler(f.agent, "@every 5m", locks, time.Minute, discardLogger())
	require.NoError(t, err)
	ctx := context.Background()

	s.Tick(ctx)
	assert.True(t, f.agent.Initialized())
	updates, _ := f.target.calls()
	assert.Zero(t, updates)

	f.clock.Advance(5 * time.Minute)
	s.Tick(ctx)
	updates, _ = f.target.calls()
	assert.Equal(t, 1, updates)
	assert.Equal(t, 2, locks.acquired)
	assert.False(t, locks.held, "lock released after each tick")
}

func TestSchedulerTickSkipsWhenLockHeld(t *testing.T) {
	f := newAgentFixture(t, nil)
	locks := &lockManager{held: true}
	s, err := NewScheduler(f.agent, "@every 5m", locks, time.Minute, discardLogger())
	require.NoError(t, err)

	s.Tick(context.Background())
	assert.False(t, f.agent.Initialized())
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	f := newAgentFixture(t, nil)
	s, err := NewScheduler(f.agent, "@every 1h", nil, 0, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
