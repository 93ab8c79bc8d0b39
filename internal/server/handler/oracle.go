package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/oracle"
)

// APYOracle is the slice of the automation agent exposed over HTTP.
type APYOracle interface {
	Config() oracle.AgentConfig
	Initialized() bool
	Pools() []common.Address
	CalculateAPY(pool common.Address, outerWindow, innerWindow time.Duration) (oracle.APYEstimate, error)
	History(pool common.Address) ([]domain.PriceSnapshot, error)
	Ping(ctx context.Context) (oracle.PingResult, error)
}

// OracleHandler serves yield estimates and the public ping trigger.
type OracleHandler struct {
	agent  APYOracle
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(agent APYOracle, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{agent: agent, logger: logger}
}

type apyResponse struct {
	Pool        string `json:"pool"`
	Selection   string `json:"selection"`
	APY         Amount `json:"apy"`
	Outer       Amount `json:"outer"`
	Inner       Amount `json:"inner"`
	OuterWindow string `json:"outerWindow"`
	InnerWindow string `json:"innerWindow"`
	Samples     int    `json:"samples"`
	Initialized bool   `json:"initialized"`
}

// GetAPY returns the annualized yield estimate for a pool in RAY. Window
// lengths default to the agent's configured windows.
// GET /api/oracle/apy?pool=0x...&outer=12h&inner=12m&select=min
func (h *OracleHandler) GetAPY(w http.ResponseWriter, r *http.Request) {
	cfg := h.agent.Config()
	q := r.URL.Query()

	pool := cfg.PrimaryPool
	if q.Get("pool") != "" {
		p, err := queryAddress(r, "pool")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		pool = p
	}
	outer, err := queryDuration(r, "outer", cfg.OuterWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inner, err := queryDuration(r, "inner", cfg.InnerWindow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sel, err := oracle.ParseSelection(q.Get("select"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	est, err := h.agent.CalculateAPY(pool, outer, inner)
	if err != nil {
		fail(w, r, h.logger, "calculate apy", err)
		return
	}
	snaps, err := h.agent.History(pool)
	if err != nil {
		fail(w, r, h.logger, "history", err)
		return
	}

	writeJSON(w, http.StatusOK, apyResponse{
		Pool:        pool.Hex(),
		Selection:   sel.String(),
		APY:         ray(est.Select(sel)),
		Outer:       ray(est.Outer),
		Inner:       ray(est.Inner),
		OuterWindow: outer.String(),
		InnerWindow: inner.String(),
		Samples:     len(snaps),
		Initialized: h.agent.Initialized(),
	})
}

type transitionResponse struct {
	Changed bool   `json:"changed"`
	Reason  string `json:"reason,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	FromLTV Amount `json:"fromLtv"`
	ToLTV   Amount `json:"toLtv"`
	Repaid  Amount `json:"repaid"`
}

type harvestResponse struct {
	Claimed      Amount `json:"claimed"`
	Reinvested   Amount `json:"reinvested"`
	SharesMinted Amount `json:"sharesMinted"`
}

type pingResponse struct {
	Sampled    bool                `json:"sampled"`
	At         time.Time           `json:"at"`
	Prices     map[string]Amount   `json:"prices,omitempty"`
	Transition *transitionResponse `json:"transition,omitempty"`
	Harvest    *harvestResponse    `json:"harvest,omitempty"`
}

// Ping triggers one automation round. Pings inside the minimum interval
// succeed without sampling.
// POST /api/oracle/ping
func (h *OracleHandler) Ping(w http.ResponseWriter, r *http.Request) {
	res, err := h.agent.Ping(r.Context())
	if err != nil {
		fail(w, r, h.logger, "ping", err)
		return
	}

	out := pingResponse{Sampled: res.Sampled, At: res.At}
	if len(res.Prices) > 0 {
		out.Prices = make(map[string]Amount, len(res.Prices))
		for pool, vp := range res.Prices {
			out.Prices[pool.Hex()] = wad(vp)
		}
	}
	if res.Sampled {
		t := res.Transition
		out.Transition = &transitionResponse{
			Changed: t.Changed,
			Reason:  t.Reason,
			From:    string(t.From),
			To:      string(t.To),
			FromLTV: wad(t.FromLTV),
			ToLTV:   wad(t.ToLTV),
			Repaid:  wad(t.Repaid),
		}
	}
	if res.Harvest != nil {
		out.Harvest = &harvestResponse{
			Claimed:      wad(res.Harvest.Claimed),
			Reinvested:   wad(res.Harvest.Reinvested),
			SharesMinted: wad(res.Harvest.SharesMinted),
		}
	}
	writeJSON(w, http.StatusOK, out)
}
