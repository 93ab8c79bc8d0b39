package sim

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

// DeploySwap installs a router with unlimited inventory that prices every
// token against a common numeraire.
func (c *Chain) DeploySwap(address common.Address, feeBps int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.swap = &swapState{
		address: address,
		prices:  make(map[common.Address]*big.Int),
		feeBps:  feeBps,
	}
}

// SetPrice sets the numeraire price of one whole token (WAD).
func (c *Chain) SetPrice(token common.Address, price *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.swap != nil {
		c.st.swap.prices[token] = fixedpoint.Clone(price)
	}
}

// SetImpact makes executed swaps fill bps worse than quoted.
func (c *Chain) SetImpact(bps int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.swap != nil {
		c.st.swap.impactBps = bps
	}
}

// caller must hold c.mu
func (c *Chain) quote(from, to common.Address, amountIn *big.Int) (*big.Int, error) {
	if from == to {
		return new(big.Int).Set(amountIn), nil
	}
	s := c.st.swap
	if s == nil {
		return nil, fmt.Errorf("sim: quote: no router: %w", domain.ErrNotFound)
	}
	pIn, okIn := s.prices[from]
	pOut, okOut := s.prices[to]
	if !okIn || !okOut || pOut.Sign() == 0 {
		return nil, fmt.Errorf("sim: quote %s->%s: %w", c.symbol(from), c.symbol(to), domain.ErrAssetMismatch)
	}
	tIn, tOut := c.tokens[from], c.tokens[to]

	num := new(big.Int).Mul(amountIn, pIn)
	num.Mul(num, fixedpoint.Pow10(int(tOut.Decimals)))
	den := new(big.Int).Mul(pOut, fixedpoint.Pow10(int(tIn.Decimals)))
	out := num.Quo(num, den)
	return fixedpoint.MulDiv(out, big.NewInt(bpsDenom-s.feeBps), big.NewInt(bpsDenom)), nil
}

// Swap is the router adapter acting for one holder.
type Swap struct {
	chain  *Chain
	holder common.Address
}

// Swap returns the router adapter acting on behalf of holder.
func (c *Chain) Swap(holder common.Address) *Swap {
	return &Swap{chain: c, holder: holder}
}

// Quote returns the expected output of swapping amountIn.
func (s *Swap) Quote(_ context.Context, from, to common.Address, amountIn *big.Int) (*big.Int, error) {
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()
	return s.chain.quote(from, to, amountIn)
}

// Swap exchanges amountIn of from for to, failing below minOut.
func (s *Swap) Swap(_ context.Context, from, to common.Address, amountIn, minOut *big.Int) (*big.Int, error) {
	c := s.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFault("swap"); err != nil {
		return nil, err
	}
	out, err := c.quote(from, to, amountIn)
	if err != nil {
		return nil, err
	}
	if from != to {
		out = fixedpoint.MulDiv(out, big.NewInt(bpsDenom-c.st.swap.impactBps), big.NewInt(bpsDenom))
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("sim: swap: got %s want %s: %w", out, minOut, domain.ErrSlippage)
	}
	if err := c.debit(from, s.holder, amountIn); err != nil {
		return nil, err
	}
	c.credit(to, s.holder, out)
	return out, nil
}

var _ domain.SwapAdapter = (*Swap)(nil)
