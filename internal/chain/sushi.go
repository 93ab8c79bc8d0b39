package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
)

const sushiRouterABI = `[{"name":"getAmountsOut","type":"function","stateMutability":"view",
"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
"outputs":[{"name":"amounts","type":"uint256[]"}]}]`

var sushiRouter = mustParse(sushiRouterABI)

// SushiRouter quotes through a UniswapV2-style router.
type SushiRouter struct {
	caller  ContractCaller
	address common.Address
}

// NewSushiRouter binds the router at address.
func NewSushiRouter(caller ContractCaller, address common.Address) *SushiRouter {
	return &SushiRouter{caller: caller, address: address}
}

// Quote returns the output of swapping amountIn of from into to along the
// direct pair.
func (r *SushiRouter) Quote(ctx context.Context, from, to common.Address, amountIn *big.Int) (*big.Int, error) {
	if from == to {
		return new(big.Int).Set(amountIn), nil
	}
	vals, err := call(ctx, r.caller, sushiRouter, r.address, "getAmountsOut", amountIn, []common.Address{from, to})
	if err != nil {
		return nil, fmt.Errorf("chain: sushi quote: %w", err)
	}
	amounts, ok := vals[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("chain: sushi quote: no amounts: %w", domain.ErrAssetMismatch)
	}
	return amounts[len(amounts)-1], nil
}

// CalculateSushiTokenPrice quotes 1e18 base units of tokenA in tokenB.
func (r *SushiRouter) CalculateSushiTokenPrice(ctx context.Context, tokenA, tokenB common.Address) (*big.Int, error) {
	return r.Quote(ctx, tokenA, tokenB, fixedpoint.WAD())
}
