// Package funding implements the optional funding-rate ledger accrual
// supplementing spec.md §4.E (config.funding.enabled / config.funding.interval
// gate a periodic ledger append while a position is open).
//
// Grounded on yohannesjx-sniperterminal/liquidation_monitor.go's
// LiquidationMonitor: a windowed, lazily-cleaned-up per-symbol event list.
// That shape is generalized here from "aggregate liquidation volume in a
// rolling window" into "record funding payments in a rolling window, queryable
// for reporting", keyed by strategy instead of by symbol.
package funding

import (
	"sync"
	"time"
)

// Payment is one funding accrual applied to a strategy's open position.
type Payment struct {
	Strategy  string
	Amount    float64 // negative = paid, positive = received
	Timestamp time.Time
}

// Tracker retains recent payments per strategy for reporting (e.g. "funding
// paid in the last 24h"), evicting anything older than window lazily on
// write, exactly as LiquidationMonitor.cleanup did for liquidation events.
type Tracker struct {
	mu       sync.RWMutex
	payments map[string][]Payment
	window   time.Duration
}

func NewTracker(window time.Duration) *Tracker {
	return &Tracker{payments: make(map[string][]Payment), window: window}
}

func (t *Tracker) Record(strategy string, amount float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.payments[strategy] = append(t.payments[strategy], Payment{Strategy: strategy, Amount: amount, Timestamp: ts})
	t.cleanup(strategy, ts)
}

// TotalSince returns the sum of recorded payments no older than the
// tracker's window, measured back from "now".
func (t *Tracker) TotalSince(strategy string, now time.Time) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cutoff := now.Add(-t.window)
	total := 0.0
	for _, p := range t.payments[strategy] {
		if p.Timestamp.After(cutoff) {
			total += p.Amount
		}
	}
	return total
}

func (t *Tracker) cleanup(strategy string, now time.Time) {
	cutoff := now.Add(-t.window)
	events := t.payments[strategy]
	valid := events[:0]
	for _, p := range events {
		if p.Timestamp.After(cutoff) {
			valid = append(valid, p)
		}
	}
	t.payments[strategy] = valid
}

// Config gates the periodic funding accrual.
type Config struct {
	Enabled  bool
	Interval time.Duration
	RatePct  float64 // applied to notional each interval
}

// PositionSnapshot is the minimal view the scheduler needs each tick; the
// caller supplies it from its matcher.
type PositionSnapshot struct {
	Strategy string
	Notional float64
	IsShort  bool
}

// Scheduler ticks on Config.Interval and, for every open position the
// source function reports, records a funding payment: shorts receive
// funding when the rate is positive, longs pay it (the conventional sign
// for a perpetual future's funding mechanism).
type Scheduler struct {
	cfg     Config
	tracker *Tracker
	source  func() []PositionSnapshot
	onPaid  func(strategy string, amount float64, ts time.Time)
}

func NewScheduler(cfg Config, tracker *Tracker, source func() []PositionSnapshot, onPaid func(string, float64, time.Time)) *Scheduler {
	return &Scheduler{cfg: cfg, tracker: tracker, source: source, onPaid: onPaid}
}

// Run blocks until stop is closed; call it in its own goroutine. It is a no-op
// if funding is disabled.
func (s *Scheduler) Run(stop <-chan struct{}) {
	if !s.cfg.Enabled || s.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.tick(now)
		case <-stop:
			return
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	for _, pos := range s.source() {
		amount := -pos.Notional * s.cfg.RatePct
		if pos.IsShort {
			amount = -amount
		}
		s.tracker.Record(pos.Strategy, amount, now)
		if s.onPaid != nil {
			s.onPaid(pos.Strategy, amount, now)
		}
	}
}
