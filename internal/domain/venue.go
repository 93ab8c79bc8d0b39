package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapAdapter exchanges one asset for another. Swap must fail when the
// executed output would be below minOut.
type SwapAdapter interface {
	Quote(ctx context.Context, from, to common.Address, amountIn *big.Int) (*big.Int, error)
	Swap(ctx context.Context, from, to common.Address, amountIn, minOut *big.Int) (*big.Int, error)
}

// LiquidityPool accepts the base asset against pool tokens and reports a
// virtual price reflecting accrued yield (WAD, base units per pool token).
type LiquidityPool interface {
	Address() common.Address
	BaseAsset() common.Address
	AddLiquidity(ctx context.Context, amount, minLP *big.Int) (*big.Int, error)
	RemoveLiquidity(ctx context.Context, lp, minOut *big.Int) (*big.Int, error)
	CalcTokenAmount(ctx context.Context, amount *big.Int) (*big.Int, error)
	CalcWithdraw(ctx context.Context, lp *big.Int) (*big.Int, error)
	VirtualPrice(ctx context.Context) (*big.Int, error)
}

// AccountData is the lending market's view of one borrower. Values are in
// base asset units; LTV, MarketMaxLTV and BorrowRate are WAD.
type AccountData struct {
	CollateralAmount *big.Int
	CollateralValue  *big.Int
	Debt             *big.Int
	LTV              *big.Int
	MarketMaxLTV     *big.Int
	BorrowRate       *big.Int
}

// LendingMarket takes pool tokens as collateral and lends the base asset.
type LendingMarket interface {
	Supply(ctx context.Context, amount *big.Int) error
	WithdrawCollateral(ctx context.Context, amount *big.Int) error
	Borrow(ctx context.Context, amount *big.Int) error
	Repay(ctx context.Context, amount *big.Int) (*big.Int, error)
	AccountData(ctx context.Context) (AccountData, error)
}

// IncentiveController reports and releases accrued rewards.
type IncentiveController interface {
	RewardToken() common.Address
	PendingRewards(ctx context.Context) (*big.Int, error)
	Claim(ctx context.Context, amount *big.Int) (*big.Int, error)
}

// Wallet is the token custody of the position holder.
type Wallet interface {
	Address() common.Address
	Balance(ctx context.Context, token common.Address) (*big.Int, error)
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error
}

// Custody moves tokens between arbitrary holders. It is used by the share
// ledger to pull user funds into the position holder.
type Custody interface {
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
}

// Ledger is the execution boundary: every effect made by adapters inside fn
// is undone if fn returns an error.
type Ledger interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}
