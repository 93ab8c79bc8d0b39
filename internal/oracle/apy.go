package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
)

// Selection picks how the two window estimates are combined.
type Selection int

const (
	SelectOuter Selection = iota
	SelectInner
	SelectMin
	SelectMax
	SelectMean
)

// ParseSelection maps "outer", "inner", "min", "max" or "mean" to a
// Selection. The empty string selects the outer window.
func ParseSelection(s string) (Selection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "outer":
		return SelectOuter, nil
	case "inner":
		return SelectInner, nil
	case "min":
		return SelectMin, nil
	case "max":
		return SelectMax, nil
	case "mean":
		return SelectMean, nil
	}
	return 0, fmt.Errorf("oracle: unknown apy selection %q", s)
}

func (s Selection) String() string {
	switch s {
	case SelectInner:
		return "inner"
	case SelectMin:
		return "min"
	case SelectMax:
		return "max"
	case SelectMean:
		return "mean"
	default:
		return "outer"
	}
}

// APYEstimate holds the annualized growth of virtual price over the outer
// and inner windows, in RAY.
type APYEstimate struct {
	Outer *big.Int
	Inner *big.Int
}

// Select combines the two estimates.
func (e APYEstimate) Select(s Selection) *big.Int {
	outer, inner := fixedpoint.Clone(e.Outer), fixedpoint.Clone(e.Inner)
	switch s {
	case SelectInner:
		return inner
	case SelectMin:
		if inner.Cmp(outer) < 0 {
			return inner
		}
		return outer
	case SelectMax:
		if inner.Cmp(outer) > 0 {
			return inner
		}
		return outer
	case SelectMean:
		sum := new(big.Int).Add(outer, inner)
		return sum.Quo(sum, big.NewInt(2))
	default:
		return outer
	}
}

// annualize converts growth from earlier to later into a yearly rate in RAY.
// Zero earlier price or zero elapsed seconds yield zero. A regressing clock
// yields a negative or meaningless figure, which is passed through.
func annualize(earlier, later domain.PriceSnapshot) *big.Int {
	if earlier.VirtualPrice == nil || later.VirtualPrice == nil || earlier.VirtualPrice.Sign() == 0 {
		return new(big.Int)
	}
	elapsed := int64(later.Timestamp.Sub(earlier.Timestamp) / time.Second)
	if elapsed == 0 {
		return new(big.Int)
	}
	ray := fixedpoint.RAY()
	rate := new(big.Int).Mul(later.VirtualPrice, ray)
	rate.Quo(rate, earlier.VirtualPrice)
	rate.Sub(rate, ray)

	apy := rate.Mul(rate, big.NewInt(fixedpoint.SecondsPerYear))
	return apy.Quo(apy, big.NewInt(elapsed))
}

// windowAPY annualizes growth between the latest snapshot and the oldest
// one inside window.
func windowAPY(h *history, window time.Duration) *big.Int {
	if h.len() < 2 {
		return new(big.Int)
	}
	later, _ := h.latest()
	earlier, ok := h.earliestWithin(later.Timestamp, window)
	if !ok {
		return new(big.Int)
	}
	return annualize(earlier, later)
}
