package funding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTracker_TotalSince_ExcludesOutsideWindow(t *testing.T) {
	tr := NewTracker(time.Hour)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.Record("s1", -5, base.Add(-2*time.Hour))
	tr.Record("s1", -3, base.Add(-10*time.Minute))

	require.Equal(t, -3.0, tr.TotalSince("s1", base))
}

func TestScheduler_Tick_LongPaysShortReceives(t *testing.T) {
	tr := NewTracker(24 * time.Hour)
	var paid []float64
	sched := NewScheduler(Config{Enabled: true, Interval: time.Minute, RatePct: 0.0001}, tr,
		func() []PositionSnapshot {
			return []PositionSnapshot{
				{Strategy: "long_strat", Notional: 1000, IsShort: false},
				{Strategy: "short_strat", Notional: 1000, IsShort: true},
			}
		},
		func(strategy string, amount float64, ts time.Time) { paid = append(paid, amount) },
	)

	sched.tick(time.Now())

	require.Len(t, paid, 2)
	require.Less(t, paid[0], 0.0)
	require.Greater(t, paid[1], 0.0)
}

func TestScheduler_Run_NoopWhenDisabled(t *testing.T) {
	tr := NewTracker(time.Hour)
	sched := NewScheduler(Config{Enabled: false}, tr, func() []PositionSnapshot { return nil }, nil)
	stop := make(chan struct{})
	close(stop)
	sched.Run(stop) // must return immediately, not block
}
