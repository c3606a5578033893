package indicators

import "math"

// ATR is Wilder-smoothed average true range, seeded by the simple mean of
// the first `period` true ranges (spec.md §4.C), grounded on
// yohannesjx-sniperterminal/trend_analyzer.go's CalculateATR.
type ATR struct {
	period int

	haveClose bool
	prevClose float64

	seeded      bool
	warmupSum   float64
	warmupCount int

	value         float64
	prevCommitted float64
}

func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func trueRange(high, low, prevClose float64, haveClose bool) float64 {
	if !haveClose {
		return high - low
	}
	tr1 := high - low
	tr2 := math.Abs(high - prevClose)
	tr3 := math.Abs(low - prevClose)
	return math.Max(tr1, math.Max(tr2, tr3))
}

// Commit advances the ATR with a closed bar's high/low/close.
func (a *ATR) Commit(high, low, close float64) float64 {
	tr := trueRange(high, low, a.prevClose, a.haveClose)
	a.prevClose = close
	a.haveClose = true

	if !a.seeded {
		a.warmupSum += tr
		a.warmupCount++
		if a.warmupCount < a.period {
			return a.value
		}
		a.value = a.warmupSum / float64(a.period)
		a.seeded = true
		a.prevCommitted = 0
		return a.value
	}

	a.prevCommitted = a.value
	a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
	return a.value
}

// Preview computes the value as if high/low were the open bar's latest
// extremes, without mutating committed state.
func (a *ATR) Preview(high, low float64) float64 {
	if !a.seeded {
		return a.value
	}
	tr := trueRange(high, low, a.prevClose, a.haveClose)
	return (a.value*float64(a.period-1) + tr) / float64(a.period)
}

func (a *ATR) Value() float64 { return a.value }
func (a *ATR) Prev() float64  { return a.prevCommitted }
func (a *ATR) Seeded() bool   { return a.seeded }
