package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/levfarm/internal/domain"
	"github.com/alanyoungcy/levfarm/internal/eventlog"
	"github.com/alanyoungcy/levfarm/internal/fixedpoint"
	"github.com/alanyoungcy/levfarm/internal/oracle"
)

var (
	dai    = common.HexToAddress("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063")
	wmatic = common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270")
	pool   = common.HexToAddress("0xE7a24EF0C5e95Ffb0f6684b813A78F2a3AD7D171")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type fakePosition struct {
	debtErr error
	lastArg struct {
		shares *big.Int
		asset  common.Address
	}
}

func (p *fakePosition) ID() string { return "am3crv-dai" }
func (p *fakePosition) BaseAsset() common.Address { return dai }
func (p *fakePosition) Strategist() common.Address { return common.Address{0xb0} }
func (p *fakePosition) Thresholds() domain.ThresholdConfig {
	return domain.ThresholdConfig{MaxLTV: fixedpoint.MustWad("0.75"), LTVBuffer: fixedpoint.MustWad("0.05")}
}
func (p *fakePosition) State(context.Context) domain.PositionState {
	return domain.PositionState{
		PositionID:       "am3crv-dai",
		CollateralAmount: fixedpoint.MustWad("1000"),
		PoolShareAmount:  fixedpoint.MustWad("10"),
		State:            domain.StateLeveraged,
	}
}
func (p *fakePosition) GetDebtData(context.Context) (domain.DebtData, error) {
	if p.debtErr != nil {
		return domain.DebtData{}, p.debtErr
	}
	return domain.DebtData{
		LTV:            fixedpoint.MustWad("0.6"),
		FreeCollateral: fixedpoint.MustWad("150"),
		Debt:           fixedpoint.MustWad("600"),
	}, nil
}
func (p *fakePosition) Equity(context.Context) (*big.Int, error) {
	return fixedpoint.MustWad("400"), nil
}
func (p *fakePosition) PendingRewards(context.Context) (*big.Int, error) {
	return fixedpoint.MustWad("2.5"), nil
}
func (p *fakePosition) BalanceOfUser(_ context.Context, shares *big.Int, asset common.Address) (*big.Int, error) {
	p.lastArg.shares, p.lastArg.asset = shares, asset
	if asset != dai {
		return nil, fmt.Errorf("position: balance of user: %w", domain.ErrAssetMismatch)
	}
	return fixedpoint.MulWad(shares, fixedpoint.MustWad("1.01")), nil
}

func TestGetPosition(t *testing.T) {
	h := NewPositionHandler(&fakePosition{}, discardLogger())
	rec := httptest.NewRecorder()
	h.GetPosition(rec, httptest.NewRequest(http.MethodGet, "/api/position", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "am3crv-dai", out["id"])
	assert.Equal(t, string(domain.StateLeveraged), out["state"])
	ltv := out["ltv"].(map[string]any)
	assert.Equal(t, "600000000000000000", ltv["raw"])
	assert.Equal(t, "0.6", ltv["decimal"])
	th := out["thresholds"].(map[string]any)
	assert.Equal(t, "0.75", th["maxLtv"].(map[string]any)["decimal"])
}

func TestGetPositionMapsInternalErrors(t *testing.T) {
	h := NewPositionHandler(&fakePosition{debtErr: errors.New("rpc down")}, discardLogger())
	rec := httptest.NewRecorder()
	h.GetPosition(rec, httptest.NewRequest(http.MethodGet, "/api/position", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "rpc down")
}

func TestGetBalance(t *testing.T) {
	p := &fakePosition{}
	h := NewPositionHandler(p, discardLogger())

	rec := httptest.NewRecorder()
	h.GetBalance(rec, httptest.NewRequest(http.MethodGet, "/api/position/balance?shares=100000000000000000000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "101", decode(t, rec)["value"].(map[string]any)["decimal"])
	assert.Equal(t, dai, p.lastArg.asset)

	rec = httptest.NewRecorder()
	h.GetBalance(rec, httptest.NewRequest(http.MethodGet, "/api/position/balance", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, p.lastArg.shares.Cmp(fixedpoint.MustWad("400")), "defaults to the whole position")

	rec = httptest.NewRecorder()
	h.GetBalance(rec, httptest.NewRequest(http.MethodGet, "/api/position/balance?asset="+wmatic.Hex(), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.GetBalance(rec, httptest.NewRequest(http.MethodGet, "/api/position/balance?shares=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.GetBalance(rec, httptest.NewRequest(http.MethodGet, "/api/position/balance?asset=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeOracle struct {
	pingErr error
	outer   time.Duration
	inner   time.Duration
}

func (o *fakeOracle) Config() oracle.AgentConfig {
	return oracle.AgentConfig{PrimaryPool: pool, OuterWindow: 12 * time.Hour, InnerWindow: 12 * time.Minute}
}
func (o *fakeOracle) Initialized() bool { return true }
func (o *fakeOracle) Pools() []common.Address { return []common.Address{pool} }
func (o *fakeOracle) CalculateAPY(p common.Address, outer, inner time.Duration) (oracle.APYEstimate, error) {
	o.outer, o.inner = outer, inner
	if p != pool {
		return oracle.APYEstimate{}, fmt.Errorf("oracle: calculate apy: %w", domain.ErrNotFound)
	}
	if outer <= inner {
		return oracle.APYEstimate{}, fmt.Errorf("oracle: calculate apy: %w", domain.ErrInvalidWindow)
	}
	ray := fixedpoint.RAY()
	return oracle.APYEstimate{
		Outer: new(big.Int).Div(ray, big.NewInt(20)), // 5%
		Inner: new(big.Int).Div(ray, big.NewInt(10)), // 10%
	}, nil
}
func (o *fakeOracle) History(common.Address) ([]domain.PriceSnapshot, error) {
	return make([]domain.PriceSnapshot, 3), nil
}
func (o *fakeOracle) Ping(context.Context) (oracle.PingResult, error) {
	if o.pingErr != nil {
		return oracle.PingResult{}, o.pingErr
	}
	return oracle.PingResult{
		Sampled: true,
		At:      time.Unix(1_700_000_000, 0).UTC(),
		Prices:  map[common.Address]*big.Int{pool: fixedpoint.MustWad("1.02")},
	}, nil
}

func TestGetAPY(t *testing.T) {
	o := &fakeOracle{}
	h := NewOracleHandler(o, discardLogger())

	rec := httptest.NewRecorder()
	h.GetAPY(rec, httptest.NewRequest(http.MethodGet, "/api/oracle/apy?select=max", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, pool.Hex(), out["pool"])
	assert.Equal(t, "max", out["selection"])
	assert.Equal(t, "0.1", out["apy"].(map[string]any)["decimal"])
	assert.Equal(t, "0.05", out["outer"].(map[string]any)["decimal"])
	assert.Equal(t, float64(3), out["samples"])
	assert.Equal(t, 12*time.Hour, o.outer)

	rec = httptest.NewRecorder()
	h.GetAPY(rec, httptest.NewRequest(http.MethodGet, "/api/oracle/apy?outer=3600&inner=30m", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Hour, o.outer)
	assert.Equal(t, 30*time.Minute, o.inner)
}

func TestGetAPYRejectsBadInput(t *testing.T) {
	h := NewOracleHandler(&fakeOracle{}, discardLogger())
	cases := map[string]int{
		"/api/oracle/apy?select=median":     http.StatusBadRequest,
		"/api/oracle/apy?outer=soon":        http.StatusBadRequest,
		"/api/oracle/apy?outer=1m&inner=2m": http.StatusBadRequest,
		"/api/oracle/apy?pool=" + dai.Hex(): http.StatusNotFound,
		"/api/oracle/apy?pool=0x1234":       http.StatusBadRequest,
	}
	for target, want := range cases {
		rec := httptest.NewRecorder()
		h.GetAPY(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, want, rec.Code, target)
	}
}

func TestPing(t *testing.T) {
	h := NewOracleHandler(&fakeOracle{}, discardLogger())
	rec := httptest.NewRecorder()
	h.Ping(rec, httptest.NewRequest(http.MethodPost, "/api/oracle/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["sampled"])
	assert.Equal(t, "1.02", out["prices"].(map[string]any)[pool.Hex()].(map[string]any)["decimal"])
	assert.Equal(t, false, out["transition"].(map[string]any)["changed"])

	h = NewOracleHandler(&fakeOracle{pingErr: fmt.Errorf("oracle: ping: %w", domain.ErrUninitialized)}, discardLogger())
	rec = httptest.NewRecorder()
	h.Ping(rec, httptest.NewRequest(http.MethodPost, "/api/oracle/ping", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

type fakePricer struct{}

func (fakePricer) CalculateSushiTokenPrice(_ context.Context, a, b common.Address) (*big.Int, error) {
	if a == b {
		return fixedpoint.WAD(), nil
	}
	return fixedpoint.MustWad("0.85"), nil
}

func TestGetQuote(t *testing.T) {
	h := NewQuoteHandler(fakePricer{}, discardLogger())
	rec := httptest.NewRecorder()
	h.GetQuote(rec, httptest.NewRequest(http.MethodGet, "/api/quote?from="+wmatic.Hex()+"&to="+dai.Hex(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.85", decode(t, rec)["price"].(map[string]any)["decimal"])

	rec = httptest.NewRecorder()
	h.GetQuote(rec, httptest.NewRequest(http.MethodGet, "/api/quote?from="+wmatic.Hex(), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEvents(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	pos := eventlog.New("position", 0, discardLogger()).WithClock(clock)
	orc := eventlog.New("oracle", 0, discardLogger()).WithClock(clock)
	pos.Append(ctx, domain.Event{Kind: domain.EventAssetDeposited})
	orc.Append(ctx, domain.Event{Kind: domain.EventPriceSampled})
	pos.Append(ctx, domain.Event{Kind: domain.EventDeleveraged})

	h := NewEventsHandler(map[string]EventSource{"position": pos, "oracle": orc}, discardLogger())

	kinds := func(rec *httptest.ResponseRecorder) []string {
		var out struct {
			Events []domain.Event `json:"events"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		ks := make([]string, 0, len(out.Events))
		for _, ev := range out.Events {
			ks = append(ks, string(ev.Kind))
		}
		return ks
	}

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"AssetDeposited", "PriceSampled", "Deleveraged"}, kinds(rec))

	rec = httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?source=position&after=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Deleveraged"}, kinds(rec))

	rec = httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?limit=1", nil))
	assert.Equal(t, []string{"Deleveraged"}, kinds(rec))

	rec = httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?source=vault", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?source=oracle&after=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler("paper", map[string]Check{
		"postgres": func(context.Context) error { return nil },
	}, discardLogger())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "paper", out["mode"])

	h = NewHealthHandler("paper", map[string]Check{
		"redis": func(context.Context) error { return errors.New("dial tcp: refused") },
	}, discardLogger())
	rec = httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "down", decode(t, rec)["dependencies"].(map[string]any)["redis"])
}

type archiveListerFunc func(ctx context.Context, kind string) ([]domain.ArchiveObject, error)

func (f archiveListerFunc) Archives(ctx context.Context, kind string) ([]domain.ArchiveObject, error) {
	return f(ctx, kind)
}

func TestListArchives(t *testing.T) {
	var asked string
	h := NewArchivesHandler(archiveListerFunc(func(_ context.Context, kind string) ([]domain.ArchiveObject, error) {
		asked = kind
		if kind == domain.ArchiveKindAudit {
			return nil, errors.New("list objects: access denied")
		}
		return []domain.ArchiveObject{{
			Key:  "archive/price_snapshots/2025-01-31/r1.jsonl.gz",
			Kind: kind,
			Rows: 42,
		}}, nil
	}), discardLogger())

	rec := httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/archives", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ArchiveKindSnapshots, asked)
	out := decode(t, rec)
	archives := out["archives"].([]any)
	require.Len(t, archives, 1)
	assert.EqualValues(t, 42, archives[0].(map[string]any)["rows"])

	rec = httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/archives?kind=audit_log", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	h.ListArchives(rec, httptest.NewRequest(http.MethodGet, "/api/archives?kind=trades", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
