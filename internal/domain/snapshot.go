package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceSnapshot is a virtual price sample taken by the automation agent.
// Snapshots are immutable once recorded.
type PriceSnapshot struct {
	Pool         common.Address
	Timestamp    time.Time
	VirtualPrice *big.Int
}
