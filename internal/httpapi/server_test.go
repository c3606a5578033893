package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c0herence/papertrade/internal/storage"
	"github.com/c0herence/papertrade/internal/types"
)

func testDAO(t *testing.T) *storage.DAO {
	t.Helper()
	d, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func testServer(t *testing.T, views []StrategyView) *Server {
	return NewServer(Options{
		DAO:        testDAO(t),
		Strategies: func() []StrategyView { return views },
	})
}

func TestHealthz_ReportsHealthy(t *testing.T) {
	s := testServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "healthy", body["status"])
}

func TestListStrategies_ReturnsIDAndType(t *testing.T) {
	s := testServer(t, []StrategyView{{ID: "s1", Type: "trend_pullback"}})
	req := httptest.NewRequest(http.MethodGet, "/api/strategies", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"s1"`)
	require.Contains(t, w.Body.String(), `"trend_pullback"`)
}

func TestStrategyStatus_UnknownIDReturns404(t *testing.T) {
	s := testServer(t, []StrategyView{{ID: "s1", Account: func() types.AccountView { return types.AccountView{} }}})
	req := httptest.NewRequest(http.MethodGet, "/api/strategies/status?id=nope", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStrategyStatus_KnownIDReturnsAccountView(t *testing.T) {
	s := testServer(t, []StrategyView{{
		ID:      "s1",
		Account: func() types.AccountView { return types.AccountView{Strategy: "s1", Balance: 10_000} },
	}})
	req := httptest.NewRequest(http.MethodGet, "/api/strategies/status?id=s1", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var view types.AccountView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Equal(t, 10_000.0, view.Balance)
}

func TestKlines_ReturnsPersistedBarsAscending(t *testing.T) {
	dao := testDAO(t)
	require.NoError(t, dao.SaveBar(types.Bar{Symbol: "BTCUSDT", Interval: "15m", OpenTimeMs: 1000, Close: 100}))
	require.NoError(t, dao.SaveBar(types.Bar{Symbol: "BTCUSDT", Interval: "15m", OpenTimeMs: 2000, Close: 101}))

	s := NewServer(Options{DAO: dao, Strategies: func() []StrategyView { return nil }})
	req := httptest.NewRequest(http.MethodGet, "/api/klines?symbol=BTCUSDT&interval=15m", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var bars []types.Bar
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bars))
	require.Len(t, bars, 2)
	require.Equal(t, int64(1000), bars[0].OpenTimeMs)
}

func TestIndicatorsHandler_ReturnsLatestSnapshotForInterval(t *testing.T) {
	s := NewServer(Options{
		DAO:        testDAO(t),
		Strategies: func() []StrategyView { return nil },
		Indicators: func(interval string) (types.IndicatorSnapshot, bool) {
			if interval != "15m" {
				return types.IndicatorSnapshot{}, false
			}
			return types.IndicatorSnapshot{Interval: "15m", OpenTimeMs: 1000, RSI: 55}, true
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/api/indicators?interval=15m", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var snap types.IndicatorSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Equal(t, 55.0, snap.RSI)
}

func TestIndicatorsHandler_UnknownIntervalReturns404(t *testing.T) {
	s := NewServer(Options{
		DAO:        testDAO(t),
		Strategies: func() []StrategyView { return nil },
		Indicators: func(interval string) (types.IndicatorSnapshot, bool) { return types.IndicatorSnapshot{}, false },
	})
	req := httptest.NewRequest(http.MethodGet, "/api/indicators?interval=4h", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrades_ReturnsTradesForStrategy(t *testing.T) {
	dao := testDAO(t)
	require.NoError(t, dao.SavePosition(types.Position{PositionID: "p1", Strategy: "s1"}))
	require.NoError(t, dao.SaveTrade(types.Trade{TradeID: "t1", PositionID: "p1", TsMs: 1000}))

	s := NewServer(Options{DAO: dao, Strategies: func() []StrategyView { return nil }})
	req := httptest.NewRequest(http.MethodGet, "/api/trades?id=s1", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var trades []types.Trade
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
}

func TestLedger_ReturnsPersistedEntries(t *testing.T) {
	dao := testDAO(t)
	require.NoError(t, dao.SaveLedgerEntry(types.LedgerEntry{TsMs: 1000, Type: types.LedgerFunding, Amount: 1.5}))

	s := NewServer(Options{DAO: dao, Strategies: func() []StrategyView { return nil }})
	req := httptest.NewRequest(http.MethodGet, "/api/ledger", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"amount":1.5`)
}

func TestEquity_ReturnsSnapshotsForStrategy(t *testing.T) {
	dao := testDAO(t)
	require.NoError(t, dao.SaveEquitySnapshot("s1", types.EquitySnapshot{TsMs: 1000, Balance: 10_000}))

	s := NewServer(Options{DAO: dao, Strategies: func() []StrategyView { return nil }})
	req := httptest.NewRequest(http.MethodGet, "/api/equity?id=s1", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var snaps []types.EquitySnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snaps))
	require.Len(t, snaps, 1)
}

func TestDBReset_RejectsGET(t *testing.T) {
	s := testServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/db/reset", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestDBReset_ClearsPersistedBars(t *testing.T) {
	dao := testDAO(t)
	require.NoError(t, dao.SaveBar(types.Bar{Symbol: "BTCUSDT", Interval: "15m", OpenTimeMs: 1000}))

	s := NewServer(Options{DAO: dao, Strategies: func() []StrategyView { return nil }})
	req := httptest.NewRequest(http.MethodPost, "/api/db/reset", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	bars, err := dao.LoadBars("BTCUSDT", "15m", 10)
	require.NoError(t, err)
	require.Empty(t, bars)
}

func TestAPIRoutes_WrappedByAuthWhenConfigured(t *testing.T) {
	var called bool
	auth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			next.ServeHTTP(w, r)
		})
	}
	s := NewServer(Options{DAO: testDAO(t), Strategies: func() []StrategyView { return nil }, Auth: auth})
	req := httptest.NewRequest(http.MethodGet, "/api/strategies", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.True(t, called)
	require.Equal(t, http.StatusOK, w.Code)
}
