package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
)

// PositionReader is the read side of a position manager.
type PositionReader interface {
	ID() string
	BaseAsset() common.Address
	State(ctx context.Context) domain.PositionState
	Thresholds() domain.ThresholdConfig
	Strategist() common.Address
	GetDebtData(ctx context.Context) (domain.DebtData, error)
	Equity(ctx context.Context) (*big.Int, error)
	PendingRewards(ctx context.Context) (*big.Int, error)
	BalanceOfUser(ctx context.Context, shares *big.Int, asset common.Address) (*big.Int, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionReader
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given reader and logger.
func NewPositionHandler(positions PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

type thresholdsResponse struct {
	MaxLTV                  Amount `json:"maxLtv"`
	LTVBuffer               Amount `json:"ltvBuffer"`
	DepositSlippage         Amount `json:"depositSlippage"`
	WithdrawSlippage        Amount `json:"withdrawSlippage"`
	HarvestSlippage         Amount `json:"harvestSlippage"`
	BorrowInterestThreshold Amount `json:"borrowInterestThreshold"`
}

type positionResponse struct {
	ID             string             `json:"id"`
	BaseAsset      string             `json:"baseAsset"`
	Strategist     string             `json:"strategist"`
	State          string             `json:"state"`
	Collateral     Amount             `json:"collateral"`
	Debt           Amount             `json:"debt"`
	PoolShares     Amount             `json:"poolShares"`
	LTV            Amount             `json:"ltv"`
	FreeCollateral Amount             `json:"freeCollateral"`
	Equity         Amount             `json:"equity"`
	PendingRewards Amount             `json:"pendingRewards"`
	Thresholds     thresholdsResponse `json:"thresholds"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// GetPosition returns the live position with its debt data and thresholds.
// GET /api/position
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	debt, err := h.positions.GetDebtData(ctx)
	if err != nil {
		fail(w, r, h.logger, "get debt data", err)
		return
	}
	equity, err := h.positions.Equity(ctx)
	if err != nil {
		fail(w, r, h.logger, "get equity", err)
		return
	}
	pending, err := h.positions.PendingRewards(ctx)
	if err != nil {
		fail(w, r, h.logger, "get pending rewards", err)
		return
	}
	st := h.positions.State(ctx)
	t := h.positions.Thresholds()

	writeJSON(w, http.StatusOK, positionResponse{
		ID:             h.positions.ID(),
		BaseAsset:      h.positions.BaseAsset().Hex(),
		Strategist:     h.positions.Strategist().Hex(),
		State:          string(st.State),
		Collateral:     wad(st.CollateralAmount),
		Debt:           wad(debt.Debt),
		PoolShares:     wad(st.PoolShareAmount),
		LTV:            wad(debt.LTV),
		FreeCollateral: wad(debt.FreeCollateral),
		Equity:         wad(equity),
		PendingRewards: wad(pending),
		Thresholds: thresholdsResponse{
			MaxLTV:                  wad(t.MaxLTV),
			LTVBuffer:               wad(t.LTVBuffer),
			DepositSlippage:         wad(t.DepositSlippage),
			WithdrawSlippage:        wad(t.WithdrawSlippage),
			HarvestSlippage:         wad(t.HarvestSlippage),
			BorrowInterestThreshold: wad(t.BorrowInterestThreshold),
		},
		UpdatedAt: st.UpdatedAt,
	})
}

// GetBalance values an amount of position shares in an asset. The asset
// defaults to the base asset and shares default to the whole position.
// GET /api/position/balance?shares=...&asset=0x...
func (h *PositionHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asset := h.positions.BaseAsset()
	if r.URL.Query().Get("asset") != "" {
		a, err := queryAddress(r, "asset")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		asset = a
	}
	shares, err := queryAmount(r, "shares", nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if shares == nil {
		if shares, err = h.positions.Equity(ctx); err != nil {
			fail(w, r, h.logger, "get equity", err)
			return
		}
	}

	value, err := h.positions.BalanceOfUser(ctx, shares, asset)
	if err != nil {
		fail(w, r, h.logger, "balance of user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":  asset.Hex(),
		"shares": fixedpoint.Clone(shares).String(),
		"value":  wad(value),
	})
}
