package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c0herence/papertrade/internal/types"
)

func newTestDAO(t *testing.T) *DAO {
	t.Helper()
	dir := t.TempDir()
	d, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestSaveBar_UpsertsByNaturalKey(t *testing.T) {
	d := newTestDAO(t)
	bar := types.Bar{Symbol: "BTCUSDT", Interval: "15m", OpenTimeMs: 1000, Close: 100, Source: types.SourceLive}
	require.NoError(t, d.SaveBar(bar))

	bar.Close = 101
	require.NoError(t, d.SaveBar(bar))

	got, err := d.LoadBars("BTCUSDT", "15m", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 101.0, got[0].Close)
}

func TestLoadBars_ReturnsAscendingByOpenTime(t *testing.T) {
	d := newTestDAO(t)
	for _, ot := range []int64{3000, 1000, 2000} {
		require.NoError(t, d.SaveBar(types.Bar{Symbol: "BTCUSDT", Interval: "15m", OpenTimeMs: ot}))
	}

	got, err := d.LoadBars("BTCUSDT", "15m", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, int64(1000), got[0].OpenTimeMs)
	require.Equal(t, int64(3000), got[2].OpenTimeMs)
}

func TestSaveTrade_IsIdempotentByTradeID(t *testing.T) {
	d := newTestDAO(t)
	tr := types.Trade{TradeID: "t1", PositionID: "p1", Price: 100, Qty: 1}
	require.NoError(t, d.SaveTrade(tr))
	require.NoError(t, d.SaveTrade(tr)) // replay must not error or duplicate
}

func TestAccountSnapshot_RoundTrips(t *testing.T) {
	d := newTestDAO(t)
	acct := types.Account{Strategy: "s1", Balance: 950, ConsecutiveLosses: 2}
	require.NoError(t, d.SaveAccountSnapshot(acct, 5000))

	got, ok, err := d.LoadAccount("s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, acct.Balance, got.Balance)
	require.Equal(t, acct.ConsecutiveLosses, got.ConsecutiveLosses)
}

func TestLoadAccount_MissingReturnsNotOK(t *testing.T) {
	d := newTestDAO(t)
	_, ok, err := d.LoadAccount("nonexistent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadTrades_FiltersByStrategyViaPositionJoin(t *testing.T) {
	d := newTestDAO(t)
	require.NoError(t, d.SavePosition(types.Position{PositionID: "p1", Strategy: "s1"}))
	require.NoError(t, d.SavePosition(types.Position{PositionID: "p2", Strategy: "s2"}))
	require.NoError(t, d.SaveTrade(types.Trade{TradeID: "t1", PositionID: "p1", TsMs: 1000}))
	require.NoError(t, d.SaveTrade(types.Trade{TradeID: "t2", PositionID: "p2", TsMs: 2000}))

	got, err := d.LoadTrades("s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "t1", got[0].TradeID)
}

func TestLoadLedger_ReturnsAscendingByTsMs(t *testing.T) {
	d := newTestDAO(t)
	require.NoError(t, d.SaveLedgerEntry(types.LedgerEntry{TsMs: 2000, Type: types.LedgerFunding}))
	require.NoError(t, d.SaveLedgerEntry(types.LedgerEntry{TsMs: 1000, Type: types.LedgerFunding}))

	got, err := d.LoadLedger(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(1000), got[0].TsMs)
	require.Equal(t, int64(2000), got[1].TsMs)
}

func TestLoadEquity_FiltersByStrategy(t *testing.T) {
	d := newTestDAO(t)
	require.NoError(t, d.SaveEquitySnapshot("s1", types.EquitySnapshot{TsMs: 1000, Balance: 100}))
	require.NoError(t, d.SaveEquitySnapshot("s2", types.EquitySnapshot{TsMs: 1000, Balance: 200}))

	got, err := d.LoadEquity("s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 100.0, got[0].Balance)
}

func TestReset_ClearsAllTables(t *testing.T) {
	d := newTestDAO(t)
	require.NoError(t, d.SaveBar(types.Bar{Symbol: "BTCUSDT", Interval: "15m", OpenTimeMs: 1000}))
	require.NoError(t, d.SaveLedgerEntry(types.LedgerEntry{TsMs: 1000, Type: types.LedgerFunding}))

	require.NoError(t, d.Reset())

	bars, err := d.LoadBars("BTCUSDT", "15m", 10)
	require.NoError(t, err)
	require.Empty(t, bars)
	entries, err := d.LoadLedger(10)
	require.NoError(t, err)
	require.Empty(t, entries)
}
