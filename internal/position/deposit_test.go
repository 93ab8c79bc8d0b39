package position

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/sim"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadThresholds(t *testing.T) {
	world := sim.NewWorld(sim.DefaultWorldConfig())
	c := world.Chain
	adapters := Adapters{
		Swap: c.Swap(holder), Pool: c.Pool(sim.Am3CRV, holder), Market: c.Lending(holder),
		Incentives: c.Incentives(holder), Wallet: c.Wallet(holder), Ledger: c,
	}

	tests := []struct {
		name   string
		mutate func(*domain.ThresholdConfig)
	}{
		{"zero slippage", func(th *domain.ThresholdConfig) { th.DepositSlippage = wad("0") }},
		{"slippage above one", func(th *domain.ThresholdConfig) { th.HarvestSlippage = wad("1.5") }},
		{"max ltv of one", func(th *domain.ThresholdConfig) { th.MaxLTV = wad("1") }},
		{"buffer above max", func(th *domain.ThresholdConfig) { th.LTVBuffer = wad("0.8") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			th := thresholds("0.75")
			tc.mutate(&th)
			_, err := New(Config{Admin: admin, Controller: controller, BaseAsset: sim.DAI, Thresholds: th},
				adapters, nil, discardLogger())
			require.ErrorIs(t, err, domain.ErrInvalidFraction)
		})
	}

	t.Run("base asset must be pool asset", func(t *testing.T) {
		_, err := New(Config{Admin: admin, Controller: controller, BaseAsset: sim.USDC, Thresholds: thresholds("0.75")},
			adapters, nil, discardLogger())
		require.ErrorIs(t, err, domain.ErrAssetMismatch)
	})
}

func TestDepositOpensLeveragedPositionWithinMaxLTV(t *testing.T) {
	f := newFixture(t, "0.75")
	minted := f.deposit(t, "DAI", 1000)

	ltv := f.ltv(t)
	assert.True(t, ltv.Cmp(wad("0.75")) <= 0, "ltv %s above max", ltv)
	assert.True(t, ltv.Cmp(wad("0.6")) > 0, "leverage loop should approach the target, got %s", ltv)

	pos := f.m.Position()
	assert.Positive(t, pos.DebtAmount.Sign())
	assert.Positive(t, pos.CollateralAmount.Sign())
	assert.True(t, pos.CollateralAmount.Cmp(dai("2000")) > 0, "collateral should be levered")

	// Net equity is roughly the deposit net of pool fees.
	between(t, minted, dai("990"), dai("1000"))
	assert.Equal(t, 0, minted.Cmp(f.equity(t)))

	assert.Equal(t, domain.StateLeveraged, f.m.State(context.Background()).State)

	evs := f.events.Filter(domain.EventAssetDeposited)
	require.Len(t, evs, 1)
	assert.Equal(t, minted.String(), evs[0].Data["sharesMinted"])
	require.NotNil(t, evs[0].Position)
	assert.Equal(t, domain.StateLeveraged, evs[0].Position.State)
}

func TestDepositWithoutLeverageStaysIdle(t *testing.T) {
	f := newFixture(t, "0.75")
	f.m.lev.Enabled = false
	f.deposit(t, "DAI", 1000)

	pos := f.m.Position()
	assert.Zero(t, pos.DebtAmount.Sign())
	assert.Zero(t, pos.CollateralAmount.Sign())
	assert.Positive(t, pos.PoolShareAmount.Sign())
	assert.Equal(t, domain.StateIdle, f.m.State(context.Background()).State)
}

func TestDepositSwapsNonBaseAsset(t *testing.T) {
	f := newFixture(t, "0.75")
	minted := f.deposit(t, "USDC", 1000)

	// 30bps router fee plus pool fees.
	between(t, minted, dai("985"), dai("1000"))
	assert.Zero(t, f.balance(t, sim.USDC, holder).Sign())
}

func TestDepositAuthorization(t *testing.T) {
	f := newFixture(t, "0.75")
	amount := f.fund(t, "DAI", 100)

	for _, caller := range []struct {
		name string
		addr common.Address
	}{{"admin", admin}, {"strategist", strategist}, {"stranger", stranger}} {
		t.Run(caller.name, func(t *testing.T) {
			_, err := f.m.Deposit(context.Background(), caller.addr, amount, sim.DAI)
			require.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
	assert.Empty(t, f.events.Recent(0))
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t, "0.75")

	_, err := f.m.Deposit(context.Background(), controller, big.NewInt(0), sim.DAI)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	// Funds were never transferred to the position wallet.
	_, err = f.m.Deposit(context.Background(), controller, dai("10"), sim.DAI)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	unknown := common.Address{0x99}
	f.chain.Mint(unknown, holder, dai("10"))
	_, err = f.m.Deposit(context.Background(), controller, dai("10"), unknown)
	require.ErrorIs(t, err, domain.ErrAssetMismatch)
}

func TestDepositRollsBackOnVenueFailure(t *testing.T) {
	f := newFixture(t, "0.75")
	amount := f.fund(t, "DAI", 1000)
	f.chain.FailAfter("borrow", 3, errors.New("venue down"))

	_, err := f.m.Deposit(context.Background(), controller, amount, sim.DAI)
	require.Error(t, err)

	assert.True(t, f.m.Position().IsEmpty())
	assert.Equal(t, 0, f.balance(t, sim.DAI, holder).Cmp(amount), "funds must be back in the wallet")
	assert.Zero(t, f.ltv(t).Sign())
	assert.Empty(t, f.events.Recent(0))

	// The same deposit succeeds once the venue recovers.
	_, err = f.m.Deposit(context.Background(), controller, amount, sim.DAI)
	require.NoError(t, err)
}

func TestDepositFailsBelowSlippageFloor(t *testing.T) {
	f := newFixture(t, "0.75")
	amount := f.fund(t, "USDC", 1000)
	f.chain.SetImpact(200)

	_, err := f.m.Deposit(context.Background(), controller, amount, sim.USDC)
	require.ErrorIs(t, err, domain.ErrSlippage)
	assert.True(t, f.m.Position().IsEmpty())
	assert.Equal(t, 0, f.balance(t, sim.USDC, holder).Cmp(amount))
}

func TestDepositSkipsLeverageAboveBorrowThreshold(t *testing.T) {
	f := newFixture(t, "0.75")
	f.chain.SetBorrowRate(wad("0.2"))
	f.deposit(t, "DAI", 1000)

	pos := f.m.Position()
	assert.Zero(t, pos.DebtAmount.Sign())
	assert.Positive(t, pos.CollateralAmount.Sign())
}
