package indicators

import (
	"testing"

	"github.com/c0herence/papertrade/internal/types"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{EMAFast: 9, EMASlow: 21, RSILength: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9, ATRLength: 14}
}

func syntheticUptrend(n int, start float64) []types.Bar {
	bars := make([]types.Bar, n)
	price := start
	for i := 0; i < n; i++ {
		o := price
		c := price + 0.2
		h := c + 0.1
		l := o - 0.1
		bars[i] = types.Bar{
			Symbol: "BTCUSDT", Interval: "15m",
			OpenTimeMs: int64(i) * 900000, CloseTimeMs: int64(i+1) * 900000,
			Open: o, High: h, Low: l, Close: c, Volume: 10, Closed: true, Source: types.SourceWarmup,
		}
		price = c
	}
	return bars
}

func TestEMA_SeedsWithSimpleAverageOfFirstN(t *testing.T) {
	ema := NewEMA(3)
	require.Equal(t, float64(0), ema.Commit(1))
	require.Equal(t, float64(0), ema.Commit(2))
	require.InDelta(t, 2.0, ema.Commit(3), 1e-9) // (1+2+3)/3
	require.True(t, ema.Seeded())
}

func TestEMA_PreviewDoesNotMutate(t *testing.T) {
	ema := NewEMA(3)
	ema.Commit(1)
	ema.Commit(2)
	ema.Commit(3)
	before := ema.Value()
	_ = ema.Preview(100)
	require.Equal(t, before, ema.Value(), "preview must not mutate committed state")
}

func TestRSI_EdgeCases(t *testing.T) {
	require.Equal(t, float64(100), rsiFromAverages(1, 0))
	require.Equal(t, float64(0), rsiFromAverages(0, 1))
	require.Equal(t, float64(0), rsiFromAverages(0, 0))
}

func TestEngine_CorrectnessContract_CommitMatchesFullReplay(t *testing.T) {
	bars := syntheticUptrend(120, 100)
	cfg := testConfig()

	live := NewEngine("s1", "15m", cfg)
	var liveLast types.IndicatorSnapshot
	for _, b := range bars {
		liveLast = live.Commit(b)
	}

	_, replayLast := ReplayFromBars("s1", "15m", cfg, bars)

	require.InDelta(t, replayLast.EMAFast, liveLast.EMAFast, 1e-9)
	require.InDelta(t, replayLast.EMASlow, liveLast.EMASlow, 1e-9)
	require.InDelta(t, replayLast.RSI, liveLast.RSI, 1e-9)
	require.InDelta(t, replayLast.MACD, liveLast.MACD, 1e-9)
	require.InDelta(t, replayLast.ATR, liveLast.ATR, 1e-9)
}

func TestEngine_Uptrend_FastAboveSlowAndRSIInRange(t *testing.T) {
	bars := syntheticUptrend(300, 100)
	cfg := testConfig()
	_, last := ReplayFromBars("s1", "15m", cfg, bars)

	require.Greater(t, last.EMAFast, last.EMASlow)
	require.GreaterOrEqual(t, last.RSI, 60.0)
	require.LessOrEqual(t, last.RSI, 100.0)
}

func TestEngine_PreviewSlopeMeasuredAgainstLastCommit(t *testing.T) {
	bars := syntheticUptrend(60, 100)
	e := NewEngine("s1", "15m", testConfig())
	for _, b := range bars {
		e.Commit(b)
	}

	committedFast := e.emaFast.Value()
	preview := e.Preview(types.Bar{OpenTimeMs: bars[len(bars)-1].OpenTimeMs + 900000, Close: 1000, High: 1000, Low: 999})
	require.InDelta(t, preview.EMAFast-committedFast, preview.SlopeEMAFast, 1e-9)
	require.False(t, preview.Committed)
}
