package strategy

import (
	"sort"

	"github.com/c0herence/papertrade/internal/types"
)

// Engine holds a set of strategy instances and routes each market event to
// all of them (spec.md §4.D). It does not itself settle intents — that is
// the caller's job, consuming the (Instance, *Intent) pairs this returns and
// forwarding each to that instance's paired matcher.
type Engine struct {
	instances []Instance
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) Register(inst Instance) {
	e.instances = append(e.instances, inst)
}

func (e *Engine) Instances() []Instance {
	out := make([]Instance, len(e.instances))
	copy(out, e.instances)
	return out
}

// Dispatched pairs an instance with the intent it produced for one event.
type Dispatched struct {
	Instance Instance
	Intent   *Intent
}

// DispatchCommit routes a closed-bar event to every instance, returning only
// the non-nil intents.
func (e *Engine) DispatchCommit(interval string, bar types.Bar, ind types.IndicatorSnapshot) []Dispatched {
	var out []Dispatched
	for _, inst := range e.instances {
		if intent := inst.OnBarCommit(interval, bar, ind); intent != nil {
			out = append(out, Dispatched{Instance: inst, Intent: intent})
		}
	}
	return out
}

// DispatchPreview routes a live-tick event to every instance.
func (e *Engine) DispatchPreview(interval string, bar types.Bar, ind types.IndicatorSnapshot) []Dispatched {
	var out []Dispatched
	for _, inst := range e.instances {
		if intent := inst.OnBarPreview(interval, bar, ind); intent != nil {
			out = append(out, Dispatched{Instance: inst, Intent: intent})
		}
	}
	return out
}

// IntervalOrder sorts a set of simultaneously-closing intervals
// shorter-first, as spec.md §4.D requires when routing OnBarCommit.
func IntervalOrder(intervals []string, rankMs map[string]int64) []string {
	out := make([]string, len(intervals))
	copy(out, intervals)
	sort.Slice(out, func(i, j int) bool { return rankMs[out[i]] < rankMs[out[j]] })
	return out
}
