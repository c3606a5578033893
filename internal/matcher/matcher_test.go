package matcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c0herence/papertrade/internal/strategy"
	"github.com/c0herence/papertrade/internal/types"
)

func testConfig() Config {
	return Config{
		Strategy:       "trend_pullback_1",
		InitialCapital: 10_000,
		Leverage:       10,
		FeeRate:        0.0004,
		Tiers: []types.MarginTier{
			{NotionalCap: 50_000, MMR: 0.004, MaintAmount: 0},
			{NotionalCap: 250_000, MMR: 0.005, MaintAmount: 50},
		},
		MaxDailyLoss: 1_000,
	}
}

func TestEnter_DeductsFeeAndReservesMargin(t *testing.T) {
	m := New(testConfig(), nil, nil, nil)
	err := m.Apply(&strategy.Intent{
		Kind: strategy.IntentEnter, Side: types.SideLong, Qty: 1,
		StopPrice: 95, TP1Price: 105, TP2Price: 110, DecisionPrice: 100,
	}, 1000)
	require.NoError(t, err)

	acct := m.Account()
	require.NotNil(t, acct.Open)
	require.Equal(t, 10.0, acct.Open.Margin)
	require.InDelta(t, 10_000-0.04, acct.Balance, 1e-9)
}

func TestCloseAll_RealizesPnLAndReleasesMargin(t *testing.T) {
	m := New(testConfig(), nil, nil, nil)
	require.NoError(t, m.Apply(&strategy.Intent{
		Kind: strategy.IntentEnter, Side: types.SideLong, Qty: 1,
		StopPrice: 95, TP1Price: 105, TP2Price: 110, DecisionPrice: 100,
	}, 1000))

	require.NoError(t, m.Apply(&strategy.Intent{
		Kind: strategy.IntentCloseAll, Reason: "trend_fail", DecisionPrice: 110,
	}, 2000))

	acct := m.Account()
	require.Nil(t, acct.Open)
	require.Greater(t, acct.Balance, 10_000.0)
}

func TestEvaluateBar_GreenBarChecksTPBeforeStopForLong(t *testing.T) {
	m := New(testConfig(), nil, nil, nil)
	require.NoError(t, m.Apply(&strategy.Intent{
		Kind: strategy.IntentEnter, Side: types.SideLong, Qty: 1,
		StopPrice: 95, TP1Price: 105, TP2Price: 110, DecisionPrice: 100,
	}, 1000))

	// Green bar (close>open) whose range touches both TP1 (105) and the
	// stop (95); spec.md requires TP1 to win on a green bar even though
	// the low (94) would also have hit the stop.
	bar := types.Bar{Open: 97, Close: 103, High: 106, Low: 94}
	require.NoError(t, m.EvaluateBar(bar, 2000))

	pos := m.Account().Open
	require.NotNil(t, pos)
	require.InDelta(t, 0.5, pos.Qty, 1e-9)
	require.Equal(t, 100.0, pos.StopPrice) // moved to breakeven by the TP1 partial
}

func TestEvaluateBar_RedBarChecksStopBeforeTPForLong(t *testing.T) {
	m := New(testConfig(), nil, nil, nil)
	require.NoError(t, m.Apply(&strategy.Intent{
		Kind: strategy.IntentEnter, Side: types.SideLong, Qty: 1,
		StopPrice: 95, TP1Price: 105, TP2Price: 110, DecisionPrice: 100,
	}, 1000))

	// Red bar (close<open) whose range also touches both the stop (95)
	// and TP1 (105); spec.md requires the stop to win on a red bar.
	bar := types.Bar{Open: 103, Close: 97, High: 106, Low: 94}
	require.NoError(t, m.EvaluateBar(bar, 2000))

	require.Nil(t, m.Account().Open)
}

func TestEvaluateBar_RedBarChecksStopBeforeTPForShort(t *testing.T) {
	cfg := testConfig()
	m := New(cfg, nil, nil, nil)
	require.NoError(t, m.Apply(&strategy.Intent{
		Kind: strategy.IntentEnter, Side: types.SideShort, Qty: 1,
		StopPrice: 105, TP1Price: 95, TP2Price: 90, DecisionPrice: 100,
	}, 1000))

	// For a short, the stop sits above entry; a red bar is resolved
	// stop-first whatever the side, and the high (106) reaches the stop (105)
	// before the low (94) is considered for TP.
	bar := types.Bar{Open: 103, Close: 97, High: 106, Low: 94}
	require.NoError(t, m.EvaluateBar(bar, 2000))

	require.Nil(t, m.Account().Open)
}

func TestEvaluateBar_GreenBarChecksTPBeforeStopForShort(t *testing.T) {
	m := New(testConfig(), nil, nil, nil)
	require.NoError(t, m.Apply(&strategy.Intent{
		Kind: strategy.IntentEnter, Side: types.SideShort, Qty: 1,
		StopPrice: 105, TP1Price: 95, TP2Price: 90, DecisionPrice: 100,
	}, 1000))

	// A green bar is resolved TP-first whatever the side: the low (94)
	// reaches TP1 (95) but not TP2 (90), so half closes and the stop moves
	// to breakeven, even though the high (106) also crosses the stop.
	bar := types.Bar{Open: 97, Close: 103, High: 106, Low: 94}
	require.NoError(t, m.EvaluateBar(bar, 2000))

	pos := m.Account().Open
	require.NotNil(t, pos)
	require.InDelta(t, 0.5, pos.Qty, 1e-9)
	require.Equal(t, 100.0, pos.StopPrice) // moved to breakeven by the TP1 partial
}

func TestEvaluateBar_TP1PartialMovesStopToBreakeven(t *testing.T) {
	m := New(testConfig(), nil, nil, nil)
	require.NoError(t, m.Apply(&strategy.Intent{
		Kind: strategy.IntentEnter, Side: types.SideLong, Qty: 2,
		StopPrice: 90, TP1Price: 105, TP2Price: 110, DecisionPrice: 100,
	}, 1000))

	bar := types.Bar{Open: 101, Close: 107, High: 108, Low: 99}
	require.NoError(t, m.EvaluateBar(bar, 2000))

	pos := m.Account().Open
	require.NotNil(t, pos)
	require.InDelta(t, 1.0, pos.Qty, 1e-9)
	require.Equal(t, 100.0, pos.StopPrice)
}

func TestLiquidationPrice_TighterMarginMovesLiqCloser(t *testing.T) {
	cfg := testConfig()
	cfg.Leverage = 50
	m := New(cfg, nil, nil, nil)
	require.NoError(t, m.Apply(&strategy.Intent{
		Kind: strategy.IntentEnter, Side: types.SideLong, Qty: 1,
		StopPrice: 90, TP1Price: 105, TP2Price: 110, DecisionPrice: 100,
	}, 1000))

	pos := m.Account().Open
	require.Less(t, pos.LiqPrice, pos.EntryPrice)
	require.Greater(t, pos.LiqPrice, pos.EntryPrice-2)
}
