package position

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModifyMaxLTVThenStateUpdateSettlesWithHysteresis(t *testing.T) {
	f := newFixture(t, "0.65")
	f.deposit(t, "DAI", 1000)
	ctx := context.Background()

	start := f.ltv(t)
	between(t, start, wad("0.55"), wad("0.6001"))

	require.NoError(t, f.m.ModifyMaxLTV(ctx, admin, wad("0.5")))
	assert.Equal(t, domain.StateDeleveraging, f.m.State(ctx).State)
	require.Len(t, f.events.Filter(domain.EventMaxLTVModified), 1)
	assert.Equal(t, wad("0.5").String(), f.events.Filter(domain.EventMaxLTVModified)[0].Data["newMaxLTV"])

	tr, err := f.m.ContractStateUpdate(ctx, strategist)
	require.NoError(t, err)
	assert.True(t, tr.Changed)
	assert.Equal(t, ReasonLTV, tr.Reason)
	assert.Equal(t, domain.StateDeleveraging, tr.From)
	assert.Equal(t, domain.StateLeveraged, tr.To)
	assert.Positive(t, tr.Repaid.Sign())

	// Settles strictly below the bound, near max-buffer, without
	// unwinding much further.
	end := f.ltv(t)
	between(t, end, wad("0.449"), wad("0.46"))
	assert.True(t, end.Cmp(wad("0.5")) < 0)
	require.Len(t, f.events.Filter(domain.EventDeleveraged), 1)
}

func TestContractStateUpdateIsNoopWithinBounds(t *testing.T) {
	f := newFixture(t, "0.75")
	f.deposit(t, "DAI", 1000)
	ctx := context.Background()
	before := f.m.Position()
	seq := f.events.LastSeq()

	for i := 0; i < 3; i++ {
		tr, err := f.m.ContractStateUpdate(ctx, strategist)
		require.NoError(t, err)
		assert.False(t, tr.Changed)
	}
	after := f.m.Position()
	assert.Equal(t, 0, before.DebtAmount.Cmp(after.DebtAmount))
	assert.Equal(t, 0, before.CollateralAmount.Cmp(after.CollateralAmount))
	assert.Equal(t, seq, f.events.LastSeq())
}

func TestContractStateUpdateUnwindsOnBorrowRateBreach(t *testing.T) {
	f := newFixture(t, "0.75")
	f.deposit(t, "DAI", 1000)
	ctx := context.Background()
	equityBefore := f.equity(t)

	f.chain.SetBorrowRate(wad("0.25"))
	tr, err := f.m.ContractStateUpdate(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, ReasonBorrowRate, tr.Reason)
	assert.Equal(t, domain.StateIdle, tr.To)

	pos := f.m.Position()
	assert.Zero(t, pos.DebtAmount.Sign())
	// Unwinding costs pool fees on the levered notional only.
	between(t, f.equity(t), dai("990"), equityBefore)
}

func TestUnwindCutShortByIterationCapRollsBack(t *testing.T) {
	f := newFixture(t, "0.75")
	f.deposit(t, "DAI", 1000)
	ctx := context.Background()
	f.m.lev.MaxDeleverageIterations = 2

	before := f.m.Position()
	debtBefore, err := f.m.GetDebtData(ctx)
	require.NoError(t, err)
	require.Positive(t, debtBefore.Debt.Sign())
	seq := f.events.LastSeq()

	f.chain.SetBorrowRate(wad("0.25"))
	_, err = f.m.ContractStateUpdate(ctx, strategist)
	require.ErrorIs(t, err, domain.ErrLeverageBound)

	after := f.m.Position()
	assert.Equal(t, 0, before.DebtAmount.Cmp(after.DebtAmount))
	assert.Equal(t, 0, before.CollateralAmount.Cmp(after.CollateralAmount))
	debtAfter, err := f.m.GetDebtData(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, debtBefore.Debt.Cmp(debtAfter.Debt))
	assert.Equal(t, seq, f.events.LastSeq())

	// With the default cap the same breach unwinds fully.
	f.m.lev.MaxDeleverageIterations = 32
	tr, err := f.m.ContractStateUpdate(ctx, strategist)
	require.NoError(t, err)
	assert.Equal(t, ReasonBorrowRate, tr.Reason)
	assert.Zero(t, f.m.Position().DebtAmount.Sign())
}

func TestContractStateUpdateCorrectsInterestDrift(t *testing.T) {
	f := newFixture(t, "0.75")
	f.deposit(t, "DAI", 1000)
	ctx := context.Background()

	// Two years at 9%, still under the 10% threshold, lifts 0.70 to
	// roughly 0.83.
	f.chain.SetBorrowRate(wad("0.09"))
	f.chain.AccrueInterest(2 * 365 * 24 * time.Hour)
	require.True(t, f.ltv(t).Cmp(wad("0.75")) > 0)

	tr, err := f.m.ContractStateUpdate(ctx, strategist)
	require.NoError(t, err)
	assert.True(t, tr.Changed)
	assert.True(t, f.ltv(t).Cmp(wad("0.75")) <= 0)
}

func TestAuthority(t *testing.T) {
	f := newFixture(t, "0.75")
	ctx := context.Background()

	_, err := f.m.ContractStateUpdate(ctx, stranger)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.ErrorIs(t, f.m.ModifyMaxLTV(ctx, strategist, wad("0.5")), domain.ErrUnauthorized)
	require.ErrorIs(t, f.m.AssignNewStrategist(ctx, stranger, stranger), domain.ErrUnauthorized)
	require.ErrorIs(t, f.m.SetBorrowInterestThreshold(ctx, stranger, wad("0.2")), domain.ErrUnauthorized)

	require.ErrorIs(t, f.m.ModifyMaxLTV(ctx, admin, wad("1.2")), domain.ErrInvalidFraction)
	require.ErrorIs(t, f.m.ModifyMaxLTV(ctx, admin, wad("0.04")), domain.ErrInvalidFraction)
	require.ErrorIs(t, f.m.AssignNewStrategist(ctx, admin, [20]byte{}), domain.ErrInvalidAddress)

	require.NoError(t, f.m.AssignNewStrategist(ctx, admin, stranger))
	assert.Equal(t, stranger, f.m.Strategist())

	_, err = f.m.ContractStateUpdate(ctx, strategist)
	require.ErrorIs(t, err, domain.ErrUnauthorized, "previous strategist loses authority")
	_, err = f.m.ContractStateUpdate(ctx, stranger)
	require.NoError(t, err)

	require.NoError(t, f.m.SetBorrowInterestThreshold(ctx, stranger, wad("0.2")))
	assert.Equal(t, 0, f.m.Thresholds().BorrowInterestThreshold.Cmp(wad("0.2")))

	kinds := []domain.EventKind{}
	for _, ev := range f.events.Recent(0) {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []domain.EventKind{domain.EventStrategistAssigned, domain.EventBorrowThresholdModified}, kinds)
}

func TestDepositCorrectsPositionAboveBound(t *testing.T) {
	f := newFixture(t, "0.75")
	f.deposit(t, "DAI", 1000)
	ctx := context.Background()
	require.NoError(t, f.m.ModifyMaxLTV(ctx, admin, wad("0.5")))

	// The next mutating call cannot finish above the new bound.
	f.deposit(t, "DAI", 10)
	assert.True(t, f.ltv(t).Cmp(wad("0.5")) <= 0)
	assert.NotEmpty(t, f.events.Filter(domain.EventDeleveraged))
}
