package strategy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c0herence/papertrade/internal/types"
)

type stubInstance struct {
	id           string
	commitIntent *Intent
	lastAccount  types.AccountView
}

func (s *stubInstance) ID() string   { return s.id }
func (s *stubInstance) Type() string { return "stub" }
func (s *stubInstance) OnBarCommit(interval string, bar types.Bar, ind types.IndicatorSnapshot) *Intent {
	return s.commitIntent
}
func (s *stubInstance) OnBarPreview(interval string, bar types.Bar, ind types.IndicatorSnapshot) *Intent {
	return nil
}
func (s *stubInstance) OnAccount(view types.AccountView) { s.lastAccount = view }
func (s *stubInstance) Condition(openTimeMs int64) types.ConditionSummary {
	return types.ConditionSummary{Strategy: s.id, OpenTimeMs: openTimeMs}
}

func TestDispatchCommit_OnlyReturnsNonNilIntents(t *testing.T) {
	e := NewEngine()
	e.Register(&stubInstance{id: "quiet"})
	e.Register(&stubInstance{id: "loud", commitIntent: &Intent{Kind: IntentEnter}})

	out := e.DispatchCommit("15m", types.Bar{}, types.IndicatorSnapshot{})

	require.Len(t, out, 1)
	require.Equal(t, "loud", out[0].Instance.ID())
	require.Equal(t, IntentEnter, out[0].Intent.Kind)
}

func TestDispatchPreview_NeverProducesIntentsFromStub(t *testing.T) {
	e := NewEngine()
	e.Register(&stubInstance{id: "a"})
	out := e.DispatchPreview("15m", types.Bar{}, types.IndicatorSnapshot{})
	require.Empty(t, out)
}

func TestInstances_ReturnsACopyNotTheLiveSlice(t *testing.T) {
	e := NewEngine()
	e.Register(&stubInstance{id: "a"})

	out := e.Instances()
	out[0] = &stubInstance{id: "mutated"}

	require.Equal(t, "a", e.Instances()[0].ID())
}

func TestIntervalOrder_SortsShorterIntervalsFirst(t *testing.T) {
	rank := map[string]int64{"1h": 3_600_000, "15m": 900_000, "4h": 14_400_000}
	out := IntervalOrder([]string{"1h", "4h", "15m"}, rank)
	require.Equal(t, []string{"15m", "1h", "4h"}, out)
}
