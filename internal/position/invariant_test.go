package position

import (
	"context"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/alanyoungcy/levfarm/internal/sim"
	"github.com/stretchr/testify/require"
)

// TestLTVStaysBoundedAcrossRandomSequences drives a position through mixed
// operations and checks that no mutating call returns with LTV above the
// configured maximum.
func TestLTVStaysBoundedAcrossRandomSequences(t *testing.T) {
	for _, seed := range []int64{1, 7, 42} {
		f := newFixture(t, "0.75")
		rng := rand.New(rand.NewSource(seed))
		ctx := context.Background()
		maxLTVs := []string{"0.5", "0.6", "0.7", "0.75", "0.8"}

		check := func(step int, op string) {
			t.Helper()
			ltv := f.ltv(t)
			bound := f.m.Thresholds().MaxLTV
			require.Truef(t, ltv.Cmp(bound) <= 0, "seed %d step %d after %s: ltv %s above %s", seed, step, op, ltv, bound)
		}

		for step := 0; step < 40; step++ {
			switch r := rng.Intn(10); {
			case r < 4:
				f.deposit(t, "DAI", 1+rng.Int63n(5000))
				check(step, "deposit")
			case r < 6:
				eq := f.equity(t)
				if eq.Sign() == 0 {
					continue
				}
				shares := new(big.Int).Mul(eq, big.NewInt(1+rng.Int63n(100)))
				shares.Quo(shares, big.NewInt(100))
				if shares.Sign() == 0 {
					continue
				}
				_, err := f.m.Withdraw(ctx, controller, shares, sim.DAI, recipient, wad("0.98"))
				require.NoError(t, err, "seed %d step %d", seed, step)
				check(step, "withdraw")
			case r < 7:
				require.NoError(t, f.chain.AccrueRewards(holder, wad("25")))
				_, err := f.m.Harvest(ctx, stranger)
				require.NoError(t, err)
				check(step, "harvest")
			case r < 8:
				require.NoError(t, f.m.ModifyMaxLTV(ctx, admin, wad(maxLTVs[rng.Intn(len(maxLTVs))])))
				_, err := f.m.ContractStateUpdate(ctx, strategist)
				require.NoError(t, err)
				check(step, "max ltv change")
			default:
				f.chain.SetBorrowRate(wad("0.05"))
				f.chain.AccrueInterest(time.Duration(1+rng.Intn(90)) * 24 * time.Hour)
				_, err := f.m.ContractStateUpdate(ctx, strategist)
				require.NoError(t, err)
				check(step, "interest")
			}
		}
	}
}
