package strategy

import (
	"github.com/c0herence/papertrade/internal/buffer"
	"github.com/c0herence/papertrade/internal/types"
)

// Config tunes the reference "trend + pullback" strategy (spec.md §4.D).
// Field names mirror the `trend_strength_min, atr_stop_mult,
// cooldown_after_stop, rsi_long_*, rsi_short_*, rsi_slope_required,
// max_position_notional, max_position_pct_equity` configuration keys of
// spec.md §6.
type Config struct {
	HigherInterval string // e.g. "1h"
	ExecInterval   string // e.g. "15m"

	TrendStrengthMin float64
	ATRStopMult      float64
	CooldownAfterStop int // execution-interval bars

	RSILongLo, RSILongHi   float64
	RSIShortLo, RSIShortHi float64
	RSISlopeRequired       bool

	MaxPositionNotional     float64
	MaxPositionPctEquity    float64
	Leverage                int
	FeeRate                 float64
	StructuralSwingLookback int // K closed bars
}

// TrendPullback is the reference strategy the repository ships. It never
// owns an Account or Position directly (those live in its paired
// matcher.Matcher, per spec.md §4.E); it only caches the read-only
// AccountView from OnAccount for sizing, plus its own permission cache and
// cooldown counter.
//
// Grounded on yohannesjx-sniperterminal/trend_analyzer.go's
// GetMarketTrend (the 1h/15m permission-filter shape) and
// predator_engine.go's evaluateCandidate/CalculateDynamicMargin (tiered
// sizing, trend-lock before entry) and execution_service.go's ExecuteTrade
// (R-based stop/target construction) — all rewritten from "place a live
// Binance order" into "emit an order Intent for the Simulated Matcher".
type TrendPullback struct {
	id  string
	cfg Config
	buf *buffer.Buffer // exec-interval buffer, for structural swing stop

	longPermitted, shortPermitted bool

	lastView         types.AccountView
	cooldownBarsLeft int

	lastCondition types.ConditionSummary
}

func NewTrendPullback(id string, cfg Config, execBuf *buffer.Buffer) *TrendPullback {
	return &TrendPullback{id: id, cfg: cfg, buf: execBuf}
}

func (t *TrendPullback) ID() string   { return t.id }
func (t *TrendPullback) Type() string { return "trend_pullback" }

func (t *TrendPullback) OnAccount(view types.AccountView) {
	t.lastView = view
}

// OnBarCommit evaluates the 1h permission filter on higher-interval bars; on
// 15m bars it checks the trend-failure exit first and, only when that emits
// nothing, the entry conditions (spec.md §4.D).
func (t *TrendPullback) OnBarCommit(interval string, bar types.Bar, ind types.IndicatorSnapshot) *Intent {
	switch interval {
	case t.cfg.HigherInterval:
		t.updatePermission(bar, ind)
		return nil
	case t.cfg.ExecInterval:
		if t.cooldownBarsLeft > 0 {
			t.cooldownBarsLeft--
		}
		if intent := t.trendFailureExit(bar, ind); intent != nil {
			return intent
		}
		if t.lastView.Position == nil && t.cooldownBarsLeft == 0 {
			return t.tryEntry(bar, ind)
		}
	}
	return nil
}

func (t *TrendPullback) updatePermission(bar types.Bar, ind types.IndicatorSnapshot) {
	strength := 0.0
	if bar.Close != 0 {
		strength = absf(ind.EMAFast-ind.EMASlow) / bar.Close
	}
	t.longPermitted = bar.Close > ind.EMASlow && ind.EMAFast > ind.EMASlow && ind.RSI > 50 && strength >= t.cfg.TrendStrengthMin
	t.shortPermitted = bar.Close < ind.EMASlow && ind.EMAFast < ind.EMASlow && ind.RSI < 50 && strength >= t.cfg.TrendStrengthMin
}

func (t *TrendPullback) trendFailureExit(bar types.Bar, ind types.IndicatorSnapshot) *Intent {
	pos := t.lastView.Position
	if pos == nil {
		return nil
	}
	if pos.Side == types.SideLong && bar.Close < ind.EMAFast && ind.RSI < 50 {
		return &Intent{Kind: IntentCloseAll, Reason: "trend_fail", DecisionPrice: bar.Close}
	}
	if pos.Side == types.SideShort && bar.Close > ind.EMAFast && ind.RSI > 50 {
		return &Intent{Kind: IntentCloseAll, Reason: "trend_fail", DecisionPrice: bar.Close}
	}
	return nil
}

func (t *TrendPullback) tryEntry(bar types.Bar, ind types.IndicatorSnapshot) *Intent {
	if t.longPermitted {
		longOK := bar.Low <= ind.EMAFast &&
			bar.Close > ind.EMASlow &&
			ind.RSI >= t.cfg.RSILongLo && ind.RSI <= t.cfg.RSILongHi &&
			(!t.cfg.RSISlopeRequired || ind.SlopeRSI > 0) &&
			ind.SlopeMACDHst > 0
		if longOK {
			return t.buildEntry(types.SideLong, bar, ind)
		}
	}
	if t.shortPermitted {
		shortOK := bar.High >= ind.EMAFast &&
			bar.Close < ind.EMASlow &&
			ind.RSI >= t.cfg.RSIShortLo && ind.RSI <= t.cfg.RSIShortHi &&
			(!t.cfg.RSISlopeRequired || ind.SlopeRSI < 0) &&
			ind.SlopeMACDHst < 0
		if shortOK {
			return t.buildEntry(types.SideShort, bar, ind)
		}
	}
	return nil
}

func (t *TrendPullback) buildEntry(side types.Side, bar types.Bar, ind types.IndicatorSnapshot) *Intent {
	entry := bar.Close

	structural := t.structuralStop(side)
	atrStop := entry - t.cfg.ATRStopMult*ind.ATR
	if side == types.SideShort {
		atrStop = entry + t.cfg.ATRStopMult*ind.ATR
	}
	stop := widerStop(side, entry, structural, atrStop)

	r := absf(entry - stop)
	var tp1, tp2 float64
	if side == types.SideLong {
		tp1, tp2 = entry+r, entry+2*r
	} else {
		tp1, tp2 = entry-r, entry-2*r
	}

	equity := t.lastView.Equity
	notional := minf(t.cfg.MaxPositionNotional, t.cfg.MaxPositionPctEquity*equity) * float64(t.cfg.Leverage)
	qty := 0.0
	if entry > 0 {
		qty = notional / entry
	}
	if qty <= 0 {
		return nil
	}

	return &Intent{
		Kind: IntentEnter, Side: side, Qty: qty,
		StopPrice: stop, TP1Price: tp1, TP2Price: tp2,
		Reason: "entry", DecisionPrice: entry,
	}
}

// structuralStop returns the most recent swing low/high over the last K
// closed execution-interval bars (spec.md §4.D).
func (t *TrendPullback) structuralStop(side types.Side) float64 {
	if t.buf == nil {
		return 0
	}
	bars := t.buf.LastClosed(t.cfg.StructuralSwingLookback)
	if len(bars) == 0 {
		return 0
	}
	if side == types.SideLong {
		low := bars[0].Low
		for _, b := range bars[1:] {
			if b.Low < low {
				low = b.Low
			}
		}
		return low
	}
	high := bars[0].High
	for _, b := range bars[1:] {
		if b.High > high {
			high = b.High
		}
	}
	return high
}

// widerStop picks whichever candidate is further from entry (spec.md
// §4.D: "the wider of the two").
func widerStop(side types.Side, entry, structural, atrStop float64) float64 {
	if structural == 0 {
		return atrStop
	}
	if side == types.SideLong {
		if structural < atrStop {
			return structural
		}
		return atrStop
	}
	if structural > atrStop {
		return structural
	}
	return atrStop
}

// OnBarPreview never opens positions. Position management (liquidation,
// stop, TP1-partial-breakeven, TP2, ordered by the bar's direction) is
// implemented by the matcher itself (it owns the position and the
// liquidation schedule) — here the strategy only republishes its checklist.
func (t *TrendPullback) OnBarPreview(interval string, bar types.Bar, ind types.IndicatorSnapshot) *Intent {
	if interval != t.cfg.ExecInterval {
		return nil
	}
	t.lastCondition = t.condition(bar, ind)
	return nil
}

func (t *TrendPullback) Condition(openTimeMs int64) types.ConditionSummary {
	if t.lastCondition.Checks == nil {
		return types.ConditionSummary{Strategy: t.id, OpenTimeMs: openTimeMs, Checks: map[string]bool{}}
	}
	c := t.lastCondition
	c.OpenTimeMs = openTimeMs
	return c
}

func (t *TrendPullback) condition(bar types.Bar, ind types.IndicatorSnapshot) types.ConditionSummary {
	checks := map[string]bool{
		"long_permitted":    t.longPermitted,
		"short_permitted":   t.shortPermitted,
		"cooldown_active":   t.cooldownBarsLeft > 0,
		"has_position":      t.lastView.Position != nil,
		"long_pullback":     t.longPermitted && bar.Low <= ind.EMAFast && bar.Close > ind.EMASlow,
		"short_pullback":    t.shortPermitted && bar.High >= ind.EMAFast && bar.Close < ind.EMASlow,
		"rsi_long_in_range": ind.RSI >= t.cfg.RSILongLo && ind.RSI <= t.cfg.RSILongHi,
		"rsi_short_in_range": ind.RSI >= t.cfg.RSIShortLo && ind.RSI <= t.cfg.RSIShortHi,
		"macd_hist_rising":  ind.SlopeMACDHst > 0,
		"macd_hist_falling": ind.SlopeMACDHst < 0,
	}
	return types.ConditionSummary{Strategy: t.id, Checks: checks}
}

// StartCooldown is called by the pipeline wiring when the matcher reports a
// stop-out exit (cooldown is only for stop-outs, not trend-fail, spec.md
// §8 scenario 4).
func (t *TrendPullback) StartCooldown() {
	t.cooldownBarsLeft = t.cfg.CooldownAfterStop
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
