package indicators

import "github.com/c0herence/papertrade/internal/types"

// Config sizes every sub-indicator; values come from the `ema.*`, `rsi.*`,
// `macd.*`, `atr.*` configuration keys (spec.md §6).
type Config struct {
	EMAFast, EMASlow               int
	RSILength                      int
	MACDFast, MACDSlow, MACDSignal int
	ATRLength                      int
}

// WarmupBars returns the longest lookback any sub-indicator needs. The Kline
// Buffer does not use it: main.go sizes every buffer from
// market.buffer_capacity alone.
func (c Config) WarmupBars() int {
	w := c.EMASlow
	if c.RSILength > w {
		w = c.RSILength
	}
	if c.ATRLength > w {
		w = c.ATRLength
	}
	if macdWarmup := c.MACDSlow + c.MACDSignal; macdWarmup > w {
		w = macdWarmup
	}
	return w
}

// Engine is one incremental indicator state machine for a (strategy,
// interval) pair: the "closed tagged variant" of spec.md §9, not a
// runtime-typed field bag.
type Engine struct {
	strategy string
	interval string

	emaFast *EMA
	emaSlow *EMA
	rsi     *RSI
	macd    *MACD
	atr     *ATR

	last types.IndicatorSnapshot
}

func NewEngine(strategy, interval string, cfg Config) *Engine {
	return &Engine{
		strategy: strategy,
		interval: interval,
		emaFast:  NewEMA(cfg.EMAFast),
		emaSlow:  NewEMA(cfg.EMASlow),
		rsi:      NewRSI(cfg.RSILength),
		macd:     NewMACD(cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal),
		atr:      NewATR(cfg.ATRLength),
	}
}

// Commit advances every sub-indicator with a closed bar. Slopes are measured
// against the value committed immediately before this one.
func (e *Engine) Commit(bar types.Bar) types.IndicatorSnapshot {
	prevFast, prevSlow := e.emaFast.Value(), e.emaSlow.Value()
	prevRSI, prevATR := e.rsi.Value(), e.atr.Value()
	prevMACD, prevHist := e.macd.Value(), e.macd.Hist()

	fast := e.emaFast.Commit(bar.Close)
	slow := e.emaSlow.Commit(bar.Close)
	rsiV := e.rsi.Commit(bar.Close)
	macdV, sigV, histV := e.macd.Commit(bar.Close)
	atrV := e.atr.Commit(bar.High, bar.Low, bar.Close)

	snap := types.IndicatorSnapshot{
		Strategy: e.strategy, Interval: e.interval, OpenTimeMs: bar.OpenTimeMs,
		EMAFast: fast, EMASlow: slow, RSI: rsiV, MACD: macdV, MACDSig: sigV, MACDHst: histV, ATR: atrV,
		SlopeEMAFast: fast - prevFast, SlopeEMASlow: slow - prevSlow, SlopeRSI: rsiV - prevRSI,
		SlopeMACD: macdV - prevMACD, SlopeMACDHst: histV - prevHist, SlopeATR: atrV - prevATR,
		Committed: true,
	}
	e.last = snap
	return snap
}

// Latest returns the most recently committed snapshot and whether one has
// been computed yet, for read endpoints that serve indicator history without
// needing a live bar event (spec.md §6 indicator history surface).
func (e *Engine) Latest() (types.IndicatorSnapshot, bool) {
	return e.last, e.last.OpenTimeMs != 0
}

// Preview computes a transient snapshot from the open bar's current price,
// without mutating any committed state. Slope is still measured against the
// last commit (spec.md §4.C: "Slope is computed against the last commit
// even in preview mode").
func (e *Engine) Preview(bar types.Bar) types.IndicatorSnapshot {
	baseFast, baseSlow := e.emaFast.Value(), e.emaSlow.Value()
	baseRSI, baseATR := e.rsi.Value(), e.atr.Value()
	baseMACD, baseHist := e.macd.Value(), e.macd.Hist()

	fast := e.emaFast.Preview(bar.Close)
	slow := e.emaSlow.Preview(bar.Close)
	rsiV := e.rsi.Preview(bar.Close)
	macdV, sigV, histV := e.macd.Preview(bar.Close)
	atrV := e.atr.Preview(bar.High, bar.Low)

	return types.IndicatorSnapshot{
		Strategy: e.strategy, Interval: e.interval, OpenTimeMs: bar.OpenTimeMs,
		EMAFast: fast, EMASlow: slow, RSI: rsiV, MACD: macdV, MACDSig: sigV, MACDHst: histV, ATR: atrV,
		SlopeEMAFast: fast - baseFast, SlopeEMASlow: slow - baseSlow, SlopeRSI: rsiV - baseRSI,
		SlopeMACD: macdV - baseMACD, SlopeMACDHst: histV - baseHist, SlopeATR: atrV - baseATR,
		Committed: false,
	}
}

// Ready reports whether every sub-indicator has cleared its warmup window.
func (e *Engine) Ready() bool {
	return e.emaFast.Seeded() && e.emaSlow.Seeded() && e.rsi.Seeded() && e.atr.Seeded() && e.macd.Seeded()
}

// ReplayFromBars builds a fresh Engine and commits every bar in order; used
// by the correctness contract test (spec.md §4.C, §8) to check that
// commit() agrees with full replay from warmup.
func ReplayFromBars(strategy, interval string, cfg Config, bars []types.Bar) (*Engine, types.IndicatorSnapshot) {
	e := NewEngine(strategy, interval, cfg)
	var last types.IndicatorSnapshot
	for _, b := range bars {
		last = e.Commit(b)
	}
	return e, last
}
