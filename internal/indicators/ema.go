// Package indicators implements the incremental EMA/RSI/MACD/ATR state
// machines of SPEC_FULL.md §4.C: each exposes a mutating Commit and a
// non-mutating Preview, modeling "preview vs commit" as a first-class type
// distinction rather than a boolean flag (design note in spec.md §9).
//
// Math is grounded on yohannesjx-sniperterminal/trend_analyzer.go's
// calculateEMA/calculateRSI/CalculateATR (simple-average seeding, Wilder
// smoothing), restructured from "recompute from a REST page every call"
// into genuinely incremental per-field engines, since the teacher's
// version never kept running state between calls.
package indicators

// EMA is an exponential moving average seeded by the simple average of the
// first `period` values (spec.md §4.C).
type EMA struct {
	period int
	alpha  float64

	seeded      bool
	warmupSum   float64
	warmupCount int

	value         float64 // last committed value
	prevCommitted float64 // value immediately before the last commit
}

func NewEMA(period int) *EMA {
	return &EMA{period: period, alpha: 2.0 / float64(period+1)}
}

// Commit advances the EMA with a closed bar's close price and returns the
// new committed value (0 until the warmup window of `period` closes fills).
func (e *EMA) Commit(close float64) float64 {
	if !e.seeded {
		e.warmupSum += close
		e.warmupCount++
		if e.warmupCount < e.period {
			return 0
		}
		e.prevCommitted = 0
		e.value = e.warmupSum / float64(e.period)
		e.seeded = true
		return e.value
	}
	e.prevCommitted = e.value
	e.value = close*e.alpha + e.value*(1-e.alpha)
	return e.value
}

// Preview computes the value as if close were the open bar's latest price,
// without mutating committed state.
func (e *EMA) Preview(close float64) float64 {
	if !e.seeded {
		return 0
	}
	return close*e.alpha + e.value*(1-e.alpha)
}

// Value returns the current committed value.
func (e *EMA) Value() float64 { return e.value }

// Prev returns the committed value immediately before the current one, used
// for slope computation in commit mode.
func (e *EMA) Prev() float64 { return e.prevCommitted }

// Seeded reports whether the warmup window has filled.
func (e *EMA) Seeded() bool { return e.seeded }
