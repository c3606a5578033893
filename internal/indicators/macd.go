package indicators

// MACD is the EMA-difference plus signal-EMA indicator (spec.md §4.C):
// macd = ema_fast - ema_slow, signal = EMA(macd, signalPeriod),
// hist = macd - signal.
type MACD struct {
	fast, slow *EMA
	signal     *EMA

	value             float64
	hist              float64
	prevCommittedMACD float64
	prevCommittedHist float64
}

func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{
		fast:   NewEMA(fastPeriod),
		slow:   NewEMA(slowPeriod),
		signal: NewEMA(signalPeriod),
	}
}

// Commit advances fast/slow/signal EMAs with a closed bar's close price.
func (m *MACD) Commit(close float64) (macd, signal, hist float64) {
	fastV := m.fast.Commit(close)
	slowV := m.slow.Commit(close)
	if !m.fast.Seeded() || !m.slow.Seeded() {
		return 0, 0, 0
	}

	diff := fastV - slowV
	sig := m.signal.Commit(diff)

	m.prevCommittedMACD = m.value
	m.value = diff
	m.prevCommittedHist = m.hist
	m.hist = diff - sig
	return m.value, sig, m.hist
}

// Preview computes macd/signal/hist as if close were the open bar's latest
// price, without mutating committed state.
func (m *MACD) Preview(close float64) (macd, signal, hist float64) {
	if !m.fast.Seeded() || !m.slow.Seeded() {
		return 0, 0, 0
	}
	fastV := m.fast.Preview(close)
	slowV := m.slow.Preview(close)
	diff := fastV - slowV
	sig := m.signal.Preview(diff)
	return diff, sig, diff - sig
}

func (m *MACD) Value() float64      { return m.value }
func (m *MACD) Signal() float64     { return m.signal.Value() }
func (m *MACD) Hist() float64       { return m.hist }
func (m *MACD) PrevMACD() float64   { return m.prevCommittedMACD }
func (m *MACD) PrevSignal() float64 { return m.signal.Prev() }
func (m *MACD) PrevHist() float64   { return m.prevCommittedHist }
func (m *MACD) Seeded() bool        { return m.fast.Seeded() && m.slow.Seeded() && m.signal.Seeded() }
