package sim

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

// MarketParams configures the simulated lending market. Collateral is a
// pool token valued at the virtual price of PricePool; the market lends
// Asset out of Liquidity.
type MarketParams struct {
	Address    common.Address
	Collateral common.Address
	Asset      common.Address
	PricePool  common.Address
	MaxLTV     *big.Int
	BorrowRate *big.Int
	Liquidity  *big.Int
}

// DeployMarket installs the lending market.
func (c *Chain) DeployMarket(p MarketParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.market = &marketState{
		address:    p.Address,
		collateral: p.Collateral,
		asset:      p.Asset,
		pricePool:  p.PricePool,
		maxLTV:     fixedpoint.Clone(p.MaxLTV),
		borrowRate: fixedpoint.Clone(p.BorrowRate),
		deposits:   make(map[common.Address]*big.Int),
		debts:      make(map[common.Address]*big.Int),
	}
	c.credit(p.Asset, p.Address, fixedpoint.Clone(p.Liquidity))
}

// SetBorrowRate changes the annual borrow rate (WAD).
func (c *Chain) SetBorrowRate(rate *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.market != nil {
		c.st.market.borrowRate = fixedpoint.Clone(rate)
	}
}

// AccrueInterest grows every open debt by rate * elapsed / year.
func (c *Chain) AccrueInterest(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.st.market
	if m == nil || elapsed <= 0 {
		return
	}
	denom := new(big.Int).Mul(fixedpoint.WAD(), big.NewInt(fixedpoint.SecondsPerYear))
	num := new(big.Int).Mul(m.borrowRate, big.NewInt(int64(elapsed/time.Second)))
	for _, debt := range m.debts {
		debt.Add(debt, fixedpoint.MulDiv(debt, num, denom))
	}
}

var unboundedLTV = big.NewInt(math.MaxInt64)

// caller must hold c.mu
func (c *Chain) collateralValue(m *marketState, amount *big.Int) *big.Int {
	vp := fixedpoint.WAD()
	if p, ok := c.st.pools[m.pricePool]; ok {
		vp = c.virtualPrice(p)
	}
	return fixedpoint.MulWad(amount, vp)
}

func ltvOf(debt, value *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int)
	}
	if value.Sign() == 0 {
		return new(big.Int).Set(unboundedLTV)
	}
	return fixedpoint.DivWadUp(debt, value)
}

// Lending is the lending market adapter acting for one holder.
type Lending struct {
	chain  *Chain
	holder common.Address
}

// Lending returns the market adapter acting on behalf of holder.
func (c *Chain) Lending(holder common.Address) *Lending {
	return &Lending{chain: c, holder: holder}
}

func (l *Lending) market() (*marketState, error) {
	if l.chain.st.market == nil {
		return nil, fmt.Errorf("sim: lending market: %w", domain.ErrNotFound)
	}
	return l.chain.st.market, nil
}

// Supply posts pool tokens as collateral.
func (l *Lending) Supply(_ context.Context, amount *big.Int) error {
	c := l.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFault("supply"); err != nil {
		return err
	}
	m, err := l.market()
	if err != nil {
		return err
	}
	if err := c.move(m.collateral, l.holder, m.address, amount); err != nil {
		return err
	}
	dep := getOrZero(m.deposits, l.holder)
	m.deposits[l.holder] = dep.Add(dep, amount)
	return nil
}

// WithdrawCollateral returns posted pool tokens to the holder provided the
// remaining debt stays within the market ceiling.
func (l *Lending) WithdrawCollateral(_ context.Context, amount *big.Int) error {
	c := l.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFault("withdraw_collateral"); err != nil {
		return err
	}
	m, err := l.market()
	if err != nil {
		return err
	}
	dep := getOrZero(m.deposits, l.holder)
	if dep.Cmp(amount) < 0 {
		return fmt.Errorf("sim: withdraw collateral: %w", domain.ErrInsufficientBalance)
	}
	remaining := new(big.Int).Sub(dep, amount)
	ltv := ltvOf(getOrZero(m.debts, l.holder), c.collateralValue(m, remaining))
	if ltv.Cmp(m.maxLTV) > 0 {
		return fmt.Errorf("sim: withdraw collateral: ltv %s over market ceiling: %w", ltv, domain.ErrLeverageBound)
	}
	if err := c.move(m.collateral, m.address, l.holder, amount); err != nil {
		return err
	}
	m.deposits[l.holder] = remaining
	return nil
}

// Borrow lends base asset to the holder.
func (l *Lending) Borrow(_ context.Context, amount *big.Int) error {
	c := l.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFault("borrow"); err != nil {
		return err
	}
	m, err := l.market()
	if err != nil {
		return err
	}
	debt := new(big.Int).Add(getOrZero(m.debts, l.holder), amount)
	ltv := ltvOf(debt, c.collateralValue(m, getOrZero(m.deposits, l.holder)))
	if ltv.Cmp(m.maxLTV) > 0 {
		return fmt.Errorf("sim: borrow: ltv %s over market ceiling: %w", ltv, domain.ErrLeverageBound)
	}
	if c.balance(m.asset, m.address).Cmp(amount) < 0 {
		return fmt.Errorf("sim: borrow: %w", domain.ErrInsufficientLiquidity)
	}
	if err := c.move(m.asset, m.address, l.holder, amount); err != nil {
		return err
	}
	m.debts[l.holder] = debt
	return nil
}

// Repay pays down up to amount of debt and returns what was repaid.
func (l *Lending) Repay(_ context.Context, amount *big.Int) (*big.Int, error) {
	c := l.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkFault("repay"); err != nil {
		return nil, err
	}
	m, err := l.market()
	if err != nil {
		return nil, err
	}
	debt := getOrZero(m.debts, l.holder)
	pay := fixedpoint.Min(amount, debt)
	if err := c.move(m.asset, l.holder, m.address, pay); err != nil {
		return nil, err
	}
	m.debts[l.holder] = new(big.Int).Sub(debt, pay)
	return pay, nil
}

// AccountData reports the holder's collateral, debt and LTV.
func (l *Lending) AccountData(_ context.Context) (domain.AccountData, error) {
	c := l.chain
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := l.market()
	if err != nil {
		return domain.AccountData{}, err
	}
	coll := new(big.Int).Set(getOrZero(m.deposits, l.holder))
	debt := new(big.Int).Set(getOrZero(m.debts, l.holder))
	value := c.collateralValue(m, coll)
	return domain.AccountData{
		CollateralAmount: coll,
		CollateralValue:  value,
		Debt:             debt,
		LTV:              ltvOf(debt, value),
		MarketMaxLTV:     new(big.Int).Set(m.maxLTV),
		BorrowRate:       new(big.Int).Set(m.borrowRate),
	}, nil
}

var _ domain.LendingMarket = (*Lending)(nil)
