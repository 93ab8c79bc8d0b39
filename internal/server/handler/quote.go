package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// TokenPricer quotes 1e18 base units of one token in another.
type TokenPricer interface {
	CalculateSushiTokenPrice(ctx context.Context, tokenA, tokenB common.Address) (*big.Int, error)
}

// QuoteHandler serves swap price quotes.
type QuoteHandler struct {
	pricer TokenPricer
	logger *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler.
func NewQuoteHandler(pricer TokenPricer, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{pricer: pricer, logger: logger}
}

// GetQuote prices one whole unit of from in to.
// GET /api/quote?from=0x...&to=0x...
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	from, err := queryAddress(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := queryAddress(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := h.pricer.CalculateSushiTokenPrice(r.Context(), from, to)
	if err != nil {
		fail(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":  from.Hex(),
		"to":    to.Hex(),
		"price": wad(price),
	})
}
