package sim

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Polygon mainnet addresses used to label the simulated venues.
var (
	DAI    = common.HexToAddress("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063")
	USDC   = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	USDT   = common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F")
	WMATIC = common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270")
	WETH   = common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619")

	Am3CRV          = common.HexToAddress("0xE7a24EF0C5e95Ffb0f6684b813A78F2a3AD7D171")
	SushiRouter     = common.HexToAddress("0x1b02dA8Cb0d097eB8D57A175b88c7D8b47997506")
	AaveLendingPool = common.HexToAddress("0x8dFf5E27EA6b7AC08EbFdf9eB090F32ee9a30fcf")
	AaveIncentives  = common.HexToAddress("0x357D51124f59836DeD84c8a1730D72B749d8BC23")
)

// WorldConfig parameterizes a default deployment. Amounts are whole tokens
// and rates are plain decimals (0.03 == 3%).
type WorldConfig struct {
	PoolSeed        decimal.Decimal
	PoolFeeBps      int64
	SwapFeeBps      int64
	MarketMaxLTV    decimal.Decimal
	BorrowRate      decimal.Decimal
	MarketLiquidity decimal.Decimal
	Prices          map[string]decimal.Decimal
}

// DefaultWorldConfig returns a deployment resembling the Aave/Curve/Sushi
// stack on Polygon.
func DefaultWorldConfig() WorldConfig {
	return WorldConfig{
		PoolSeed:        decimal.NewFromInt(10_000_000),
		PoolFeeBps:      4,
		SwapFeeBps:      30,
		MarketMaxLTV:    decimal.RequireFromString("0.9"),
		BorrowRate:      decimal.RequireFromString("0.03"),
		MarketLiquidity: decimal.NewFromInt(50_000_000),
		Prices: map[string]decimal.Decimal{
			"DAI":    decimal.NewFromInt(1),
			"USDC":   decimal.NewFromInt(1),
			"USDT":   decimal.NewFromInt(1),
			"WMATIC": decimal.RequireFromString("0.8"),
			"WETH":   decimal.NewFromInt(3000),
		},
	}
}

// World is a chain with the default venues deployed. DAI is the pool's
// base asset and the borrowed asset.
type World struct {
	Chain  *Chain
	tokens map[string]Token
}

// NewWorld deploys tokens, the am3CRV-like pool, the router, the lending
// market and the incentives controller.
func NewWorld(cfg WorldConfig) *World {
	c := NewChain()
	w := &World{Chain: c, tokens: make(map[string]Token)}
	for _, t := range []Token{
		{Address: DAI, Symbol: "DAI", Decimals: 18},
		{Address: USDC, Symbol: "USDC", Decimals: 6},
		{Address: USDT, Symbol: "USDT", Decimals: 6},
		{Address: WMATIC, Symbol: "WMATIC", Decimals: 18},
		{Address: WETH, Symbol: "WETH", Decimals: 18},
		{Address: Am3CRV, Symbol: "am3CRV", Decimals: 18},
	} {
		c.RegisterToken(t)
		w.tokens[t.Symbol] = t
	}

	c.DeployPool(PoolParams{
		LPToken:   Am3CRV,
		BaseAsset: DAI,
		FeeBps:    cfg.PoolFeeBps,
		Seed:      fixedpoint.Units(cfg.PoolSeed, 18),
	})
	c.DeploySwap(SushiRouter, cfg.SwapFeeBps)
	for sym, price := range cfg.Prices {
		if t, ok := w.tokens[sym]; ok {
			c.SetPrice(t.Address, fixedpoint.FromDecimal(price))
		}
	}
	c.DeployMarket(MarketParams{
		Address:    AaveLendingPool,
		Collateral: Am3CRV,
		Asset:      DAI,
		PricePool:  Am3CRV,
		MaxLTV:     fixedpoint.FromDecimal(cfg.MarketMaxLTV),
		BorrowRate: fixedpoint.FromDecimal(cfg.BorrowRate),
		Liquidity:  fixedpoint.Units(cfg.MarketLiquidity, 18),
	})
	c.DeployIncentives(AaveIncentives, WMATIC)
	return w
}

// TokenBySymbol looks up a deployed token.
func (w *World) TokenBySymbol(symbol string) (Token, error) {
	t, ok := w.tokens[symbol]
	if !ok {
		return Token{}, fmt.Errorf("sim: unknown token %q", symbol)
	}
	return t, nil
}

// Amount converts whole tokens to base units of the named token.
func (w *World) Amount(symbol string, whole decimal.Decimal) *big.Int {
	t, ok := w.tokens[symbol]
	if !ok {
		return new(big.Int)
	}
	return fixedpoint.Units(whole, t.Decimals)
}

// Fund mints whole tokens of symbol to holder.
func (w *World) Fund(holder common.Address, symbol string, whole decimal.Decimal) error {
	t, err := w.TokenBySymbol(symbol)
	if err != nil {
		return err
	}
	w.Chain.Mint(t.Address, holder, fixedpoint.Units(whole, t.Decimals))
	return nil
}
