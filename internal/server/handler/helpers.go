// Package handler implements the read-mostly HTTP query API over the
// position manager, the APY oracle and the event logs.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUninitialized), errors.Is(err, domain.ErrAlreadyInitialized),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidFraction),
		errors.Is(err, domain.ErrInvalidWindow), errors.Is(err, domain.ErrAssetMismatch),
		errors.Is(err, domain.ErrInvalidAddress):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail logs err and writes it with the mapped status. Internal errors are
// not echoed to the client.
func fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

// queryAddress reads a required hex address from the query string.
func queryAddress(r *http.Request, name string) (common.Address, error) {
	v := r.URL.Query().Get(name)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s must be a hex address", name)
	}
	return common.HexToAddress(v), nil
}

// queryAmount reads a non-negative base-unit integer, falling back to def
// when the parameter is absent.
func queryAmount(r *http.Request, name string, def *big.Int) (*big.Int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	x, ok := new(big.Int).SetString(v, 10)
	if !ok || x.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return x, nil
}

// queryLimit reads a positive limit capped at max.
func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// queryDuration accepts Go duration strings or whole seconds.
func queryDuration(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration or whole seconds", name)
	}
	return time.Duration(secs) * time.Second, nil
}

// Amount is a base-unit integer rendered both raw and as a decimal.
type Amount struct {
	Raw     string          `json:"raw"`
	Decimal decimal.Decimal `json:"decimal"`
}

// wad renders a WAD-scaled value.
func wad(x *big.Int) Amount {
	return Amount{Raw: fixedpoint.Clone(x).String(), Decimal: fixedpoint.ToDecimal(x)}
}

// ray renders a RAY-scaled value.
func ray(x *big.Int) Amount {
	return Amount{Raw: fixedpoint.Clone(x).String(), Decimal: fixedpoint.RayToDecimal(x)}
}
