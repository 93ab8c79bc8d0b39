package sim

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

// DeployIncentives installs the rewards controller paying rewardToken.
func (c *Chain) DeployIncentives(address, rewardToken common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.incentives = &incentiveState{
		address:     address,
		rewardToken: rewardToken,
		pending:     make(map[common.Address]*big.Int),
	}
}

// AccrueRewards adds claimable rewards for holder.
func (c *Chain) AccrueRewards(holder common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	in := c.st.incentives
	if in == nil {
		return fmt.Errorf("sim: accrue rewards: %w", domain.ErrNotFound)
	}
	cur := getOrZero(in.pending, holder)
	in.pending[holder] = cur.Add(cur, amount)
	return nil
}

// Incentives is the rewards adapter acting for one holder.
type Incentives struct {
	chain  *Chain
	holder common.Address
}

// Incentives returns the rewards adapter acting on behalf of holder.
func (c *Chain) Incentives(holder common.Address) *Incentives {
	return &Incentives{chain: c, holder: holder}
}

func (i *Incentives) RewardToken() common.Address {
	i.chain.mu.Lock()
	defer i.chain.mu.Unlock()
	if i.chain.st.incentives == nil {
		return common.Address{}
	}
	return i.chain.st.incentives.rewardToken
}

// PendingRewards returns rewards claimable by the holder.
func (i *Incentives) PendingRewards(_ context.Context) (*big.Int, error) {
	i.chain.mu.Lock()
	defer i.chain.mu.Unlock()
	in := i.chain.st.incentives
	if in == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(getOrZero(in.pending, i.holder)), nil
}

// Claim releases up to amount of pending rewards to the holder.
func (i *Incentives) Claim(_ context.Context, amount *big.Int) (*big.Int, error) {
	c := i.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFault("claim"); err != nil {
		return nil, err
	}
	in := c.st.incentives
	if in == nil {
		return nil, fmt.Errorf("sim: claim: %w", domain.ErrNotFound)
	}
	pending := getOrZero(in.pending, i.holder)
	claimed := fixedpoint.Min(amount, pending)
	in.pending[i.holder] = new(big.Int).Sub(pending, claimed)
	c.credit(in.rewardToken, i.holder, claimed)
	return claimed, nil
}

var _ domain.IncentiveController = (*Incentives)(nil)
