package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const curvePoolABI = `[{"name":"get_virtual_price","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}]`

var curvePool = mustParse(curvePoolABI)

// CurvePool reads a Curve stable pool.
type CurvePool struct {
	caller  ContractCaller
	address common.Address
}

// NewCurvePool binds the pool at address.
func NewCurvePool(caller ContractCaller, address common.Address) *CurvePool {
	return &CurvePool{caller: caller, address: address}
}

// Address returns the pool contract address.
func (p *CurvePool) Address() common.Address { return p.address }

// VirtualPrice returns get_virtual_price() in WAD.
func (p *CurvePool) VirtualPrice(ctx context.Context) (*big.Int, error) {
	vals, err := call(ctx, p.caller, curvePool, p.address, "get_virtual_price")
	if err != nil {
		return nil, fmt.Errorf("chain: curve %s: %w", p.address.Hex(), err)
	}
	vp, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: curve %s: unexpected output %T", p.address.Hex(), vals[0])
	}
	return vp, nil
}
