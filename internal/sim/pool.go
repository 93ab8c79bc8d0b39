package sim

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

const bpsDenom = 10_000

// SeedHolder owns the liquidity used to bootstrap simulated venues.
var SeedHolder = common.HexToAddress("0x00000000000000000000000000000000005eed00")

// PoolParams configures a simulated stable-swap pool. The pool address
// doubles as its liquidity token address.
type PoolParams struct {
	LPToken   common.Address
	BaseAsset common.Address
	FeeBps    int64
	Seed      *big.Int
}

// DeployPool creates a pool seeded 1:1 so that its virtual price starts at
// 1.0.
func (c *Chain) DeployPool(p PoolParams) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tokens[p.LPToken]; !ok {
		c.tokens[p.LPToken] = Token{Address: p.LPToken, Symbol: "LP", Decimals: 18}
	}
	seed := fixedpoint.Clone(p.Seed)
	c.st.pools[p.LPToken] = &poolState{
		lpToken:   p.LPToken,
		baseAsset: p.BaseAsset,
		supply:    new(big.Int).Set(seed),
		feeBps:    p.FeeBps,
	}
	c.credit(p.BaseAsset, p.LPToken, seed)
	c.credit(p.LPToken, SeedHolder, seed)
}

// AccruePoolYield adds base asset to the pool reserve, raising its virtual
// price.
func (c *Chain) AccruePoolYield(pool common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.st.pools[pool]
	if !ok {
		return fmt.Errorf("sim: accrue yield %s: %w", pool.Hex(), domain.ErrNotFound)
	}
	c.credit(p.baseAsset, p.lpToken, amount)
	return nil
}

// PoolVirtualPrice returns the current virtual price of pool.
func (c *Chain) PoolVirtualPrice(pool common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.st.pools[pool]
	if !ok {
		return nil, fmt.Errorf("sim: virtual price %s: %w", pool.Hex(), domain.ErrNotFound)
	}
	return c.virtualPrice(p), nil
}

// caller must hold c.mu
func (c *Chain) virtualPrice(p *poolState) *big.Int {
	if p.supply.Sign() == 0 {
		return fixedpoint.WAD()
	}
	return fixedpoint.MulDiv(c.balance(p.baseAsset, p.lpToken), fixedpoint.WAD(), p.supply)
}

// caller must hold c.mu
func (c *Chain) calcTokenAmount(p *poolState, amount *big.Int) *big.Int {
	net := fixedpoint.MulDiv(amount, big.NewInt(bpsDenom-p.feeBps), big.NewInt(bpsDenom))
	reserve := c.balance(p.baseAsset, p.lpToken)
	if p.supply.Sign() == 0 || reserve.Sign() == 0 {
		return net
	}
	return fixedpoint.MulDiv(net, p.supply, reserve)
}

// caller must hold c.mu
func (c *Chain) calcWithdraw(p *poolState, lp *big.Int) *big.Int {
	if p.supply.Sign() == 0 {
		return new(big.Int)
	}
	gross := fixedpoint.MulDiv(lp, c.balance(p.baseAsset, p.lpToken), p.supply)
	return fixedpoint.MulDiv(gross, big.NewInt(bpsDenom-p.feeBps), big.NewInt(bpsDenom))
}

// Pool is the liquidity pool adapter acting for one holder.
type Pool struct {
	chain   *Chain
	address common.Address
	holder  common.Address
}

// Pool returns the adapter for pool acting on behalf of holder.
func (c *Chain) Pool(pool, holder common.Address) *Pool {
	return &Pool{chain: c, address: pool, holder: holder}
}

func (p *Pool) Address() common.Address { return p.address }

func (p *Pool) BaseAsset() common.Address {
	p.chain.mu.Lock()
	defer p.chain.mu.Unlock()
	if ps, ok := p.chain.st.pools[p.address]; ok {
		return ps.baseAsset
	}
	return common.Address{}
}

func (p *Pool) state() (*poolState, error) {
	ps, ok := p.chain.st.pools[p.address]
	if !ok {
		return nil, fmt.Errorf("sim: pool %s: %w", p.address.Hex(), domain.ErrNotFound)
	}
	return ps, nil
}

// AddLiquidity deposits base asset and mints pool tokens to the holder.
func (p *Pool) AddLiquidity(_ context.Context, amount, minLP *big.Int) (*big.Int, error) {
	c := p.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFault("add_liquidity"); err != nil {
		return nil, err
	}
	ps, err := p.state()
	if err != nil {
		return nil, err
	}
	lp := c.calcTokenAmount(ps, amount)
	if minLP != nil && lp.Cmp(minLP) < 0 {
		return nil, fmt.Errorf("sim: add liquidity: got %s want %s: %w", lp, minLP, domain.ErrSlippage)
	}
	if err := c.move(ps.baseAsset, p.holder, ps.lpToken, amount); err != nil {
		return nil, err
	}
	ps.supply.Add(ps.supply, lp)
	c.credit(ps.lpToken, p.holder, lp)
	return lp, nil
}

// RemoveLiquidity burns pool tokens and returns base asset to the holder.
func (p *Pool) RemoveLiquidity(_ context.Context, lp, minOut *big.Int) (*big.Int, error) {
	c := p.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFault("remove_liquidity"); err != nil {
		return nil, err
	}
	ps, err := p.state()
	if err != nil {
		return nil, err
	}
	if lp.Cmp(ps.supply) > 0 {
		return nil, fmt.Errorf("sim: remove liquidity: %w", domain.ErrInsufficientLiquidity)
	}
	out := c.calcWithdraw(ps, lp)
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("sim: remove liquidity: got %s want %s: %w", out, minOut, domain.ErrSlippage)
	}
	if err := c.debit(ps.lpToken, p.holder, lp); err != nil {
		return nil, err
	}
	ps.supply.Sub(ps.supply, lp)
	if err := c.move(ps.baseAsset, ps.lpToken, p.holder, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CalcTokenAmount returns the pool tokens minted for amount of base asset.
func (p *Pool) CalcTokenAmount(_ context.Context, amount *big.Int) (*big.Int, error) {
	c := p.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, err := p.state()
	if err != nil {
		return nil, err
	}
	return c.calcTokenAmount(ps, amount), nil
}

// CalcWithdraw returns the base asset received for burning lp tokens.
func (p *Pool) CalcWithdraw(_ context.Context, lp *big.Int) (*big.Int, error) {
	c := p.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, err := p.state()
	if err != nil {
		return nil, err
	}
	return c.calcWithdraw(ps, lp), nil
}

// VirtualPrice returns reserve per pool token, WAD scaled.
func (p *Pool) VirtualPrice(_ context.Context) (*big.Int, error) {
	c := p.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, err := p.state()
	if err != nil {
		return nil, err
	}
	return c.virtualPrice(ps), nil
}

var _ domain.LiquidityPool = (*Pool)(nil)
