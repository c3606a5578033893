package indicators

// RSI is Wilder's relative strength index, seeded by the simple average of
// the first `period` gain/loss deltas (spec.md §4.C). The 0/100 edge cases
// are defined explicitly: RSI=0 when the gain-sum is zero, RSI=100 when the
// loss-sum is zero (gain-sum=0 takes priority when both are zero).
type RSI struct {
	period int

	haveClose bool
	prevClose float64

	seeded      bool
	warmupGain  float64
	warmupLoss  float64
	warmupCount int

	avgGain float64
	avgLoss float64

	value         float64
	prevCommitted float64
}

func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func gainLoss(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	switch {
	case avgGain == 0:
		return 0
	case avgLoss == 0:
		return 100
	default:
		rs := avgGain / avgLoss
		return 100 - 100/(1+rs)
	}
}

// Commit advances the RSI with a closed bar's close price.
func (r *RSI) Commit(close float64) float64 {
	if !r.haveClose {
		r.prevClose = close
		r.haveClose = true
		return r.value
	}
	gain, loss := gainLoss(close - r.prevClose)
	r.prevClose = close

	if !r.seeded {
		r.warmupGain += gain
		r.warmupLoss += loss
		r.warmupCount++
		if r.warmupCount < r.period {
			return r.value
		}
		r.avgGain = r.warmupGain / float64(r.period)
		r.avgLoss = r.warmupLoss / float64(r.period)
		r.seeded = true
		r.prevCommitted = 0
		r.value = rsiFromAverages(r.avgGain, r.avgLoss)
		return r.value
	}

	r.prevCommitted = r.value
	r.avgGain = (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
	r.avgLoss = (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	r.value = rsiFromAverages(r.avgGain, r.avgLoss)
	return r.value
}

// Preview computes the value as if close were the open bar's latest price.
func (r *RSI) Preview(close float64) float64 {
	if !r.seeded || !r.haveClose {
		return r.value
	}
	gain, loss := gainLoss(close - r.prevClose)
	avgGain := (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
	avgLoss := (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	return rsiFromAverages(avgGain, avgLoss)
}

func (r *RSI) Value() float64 { return r.value }
func (r *RSI) Prev() float64  { return r.prevCommitted }
func (r *RSI) Seeded() bool   { return r.seeded }
