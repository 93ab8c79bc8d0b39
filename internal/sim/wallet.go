package sim

import (
	"context"
	"math/big"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Wallet is the token custody of a single holder.
type Wallet struct {
	chain  *Chain
	holder common.Address
}

// Address returns the holder address.
func (w *Wallet) Address() common.Address { return w.holder }

// Balance returns the holder's balance of token.
func (w *Wallet) Balance(ctx context.Context, token common.Address) (*big.Int, error) {
	return w.chain.BalanceOf(ctx, token, w.holder)
}

// Transfer sends amount of token from the holder to another address.
func (w *Wallet) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error {
	return w.chain.Transfer(ctx, token, w.holder, to, amount)
}

var _ domain.Wallet = (*Wallet)(nil)
