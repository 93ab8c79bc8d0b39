// Package sim implements in-memory venues (token balances, a swap router, a
// stable-swap liquidity pool, a lending market and an incentives
// controller) sharing one state that can be snapshotted and restored. It
// backs the paper trading mode and the engine tests.
package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Token describes an ERC20-like asset known to the chain.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals int32
}

type poolState struct {
	lpToken   common.Address
	baseAsset common.Address
	supply    *big.Int
	feeBps    int64
}

type marketState struct {
	address    common.Address
	collateral common.Address
	asset      common.Address
	pricePool  common.Address
	maxLTV     *big.Int
	borrowRate *big.Int
	deposits   map[common.Address]*big.Int
	debts      map[common.Address]*big.Int
}

type swapState struct {
	address   common.Address
	prices    map[common.Address]*big.Int
	feeBps    int64
	impactBps int64
}

type incentiveState struct {
	address     common.Address
	rewardToken common.Address
	pending     map[common.Address]*big.Int
}

type state struct {
	balances   map[common.Address]map[common.Address]*big.Int
	pools      map[common.Address]*poolState
	market     *marketState
	swap       *swapState
	incentives *incentiveState
}

type fault struct {
	skip int
	err  error
}

// Chain is the shared simulated ledger.
type Chain struct {
	txMu sync.Mutex
	mu   sync.Mutex

	st     *state
	tokens map[common.Address]Token
	faults map[string]*fault
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{
		st: &state{
			balances: make(map[common.Address]map[common.Address]*big.Int),
			pools:    make(map[common.Address]*poolState),
		},
		tokens: make(map[common.Address]Token),
		faults: make(map[string]*fault),
	}
}

// RegisterToken makes a token known to the chain.
func (c *Chain) RegisterToken(t Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[t.Address] = t
}

// Token returns token metadata.
func (c *Chain) Token(addr common.Address) (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[addr]
	return t, ok
}

// Mint credits amount of token to holder out of thin air.
func (c *Chain) Mint(token, holder common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credit(token, holder, amount)
}

// BalanceOf returns the token balance of holder.
func (c *Chain) BalanceOf(_ context.Context, token, holder common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balance(token, holder)), nil
}

// Transfer moves tokens between two holders.
func (c *Chain) Transfer(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkFault("transfer"); err != nil {
		return err
	}
	return c.move(token, from, to, amount)
}

// Atomic runs fn and restores every venue to its prior state if fn fails.
// Atomic sections are serialized against each other. Writes made outside
// any section while one is open are lost if that section rolls back.
func (c *Chain) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	c.mu.Lock()
	snap := c.st.clone()
	c.mu.Unlock()

	if err := fn(ctx); err != nil {
		c.mu.Lock()
		c.st = snap
		c.mu.Unlock()
		return err
	}
	return nil
}

// FailAfter makes the (skip+1)-th next call of op fail with err. Recognized
// ops are transfer, swap, add_liquidity, remove_liquidity, supply,
// withdraw_collateral, borrow, repay and claim.
func (c *Chain) FailAfter(op string, skip int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[op] = &fault{skip: skip, err: err}
}

// ClearFaults removes all injected faults.
func (c *Chain) ClearFaults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = make(map[string]*fault)
}

// Wallet returns the custody view of holder.
func (c *Chain) Wallet(holder common.Address) *Wallet {
	return &Wallet{chain: c, holder: holder}
}

// caller must hold c.mu
func (c *Chain) checkFault(op string) error {
	f, ok := c.faults[op]
	if !ok {
		return nil
	}
	if f.skip > 0 {
		f.skip--
		return nil
	}
	delete(c.faults, op)
	return fmt.Errorf("sim: %s: %w", op, f.err)
}

func (c *Chain) balance(token, holder common.Address) *big.Int {
	if b, ok := c.st.balances[token][holder]; ok {
		return b
	}
	return new(big.Int)
}

func (c *Chain) credit(token, holder common.Address, amount *big.Int) {
	m, ok := c.st.balances[token]
	if !ok {
		m = make(map[common.Address]*big.Int)
		c.st.balances[token] = m
	}
	cur, ok := m[holder]
	if !ok {
		cur = new(big.Int)
		m[holder] = cur
	}
	cur.Add(cur, amount)
}

func (c *Chain) debit(token, holder common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	cur := c.balance(token, holder)
	if cur.Cmp(amount) < 0 {
		return fmt.Errorf("sim: debit %s from %s: have %s want %s: %w",
			c.symbol(token), holder.Hex(), cur, amount, domain.ErrInsufficientBalance)
	}
	c.st.balances[token][holder].Sub(cur, amount)
	return nil
}

func (c *Chain) move(token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("sim: move negative amount: %w", domain.ErrInvalidAmount)
	}
	if err := c.debit(token, from, amount); err != nil {
		return err
	}
	c.credit(token, to, amount)
	return nil
}

func (c *Chain) symbol(token common.Address) string {
	if t, ok := c.tokens[token]; ok {
		return t.Symbol
	}
	return token.Hex()
}

func (s *state) clone() *state {
	out := &state{
		balances: make(map[common.Address]map[common.Address]*big.Int, len(s.balances)),
		pools:    make(map[common.Address]*poolState, len(s.pools)),
	}
	for token, holders := range s.balances {
		out.balances[token] = cloneMap(holders)
	}
	for addr, p := range s.pools {
		cp := *p
		cp.supply = new(big.Int).Set(p.supply)
		out.pools[addr] = &cp
	}
	if s.market != nil {
		m := *s.market
		m.maxLTV = new(big.Int).Set(s.market.maxLTV)
		m.borrowRate = new(big.Int).Set(s.market.borrowRate)
		m.deposits = cloneMap(s.market.deposits)
		m.debts = cloneMap(s.market.debts)
		out.market = &m
	}
	if s.swap != nil {
		sw := *s.swap
		sw.prices = cloneMap(s.swap.prices)
		out.swap = &sw
	}
	if s.incentives != nil {
		in := *s.incentives
		in.pending = cloneMap(s.incentives.pending)
		out.incentives = &in
	}
	return out
}

func cloneMap(m map[common.Address]*big.Int) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(m))
	for k, v := range m {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

func getOrZero(m map[common.Address]*big.Int, k common.Address) *big.Int {
	if v, ok := m[k]; ok {
		return v
	}
	return new(big.Int)
}

// Compile-time interface checks.
var (
	_ domain.Ledger  = (*Chain)(nil)
	_ domain.Custody = (*Chain)(nil)
)
