// Package strategy implements the Strategy Engine of SPEC_FULL.md §4.D: a
// registry of independent strategy Instances, each routed every bar event
// and producing at most one order Intent per event.
//
// Per-strategy isolation (spec.md §9) is realized one level up, in the
// pipeline wiring (main.go): each Instance is paired with its own
// matcher.Matcher, which owns its account and position. Indicator engines
// are shared per interval, and every Instance is dispatched synchronously
// from the market source's event callback, not from a goroutine of its own.
package strategy

import "github.com/c0herence/papertrade/internal/types"

// IntentKind enumerates the order intents a strategy may emit.
type IntentKind string

const (
	IntentNone         IntentKind = ""
	IntentEnter        IntentKind = "ENTER"
	IntentCloseAll     IntentKind = "CLOSE_ALL"
	IntentClosePartial IntentKind = "CLOSE_PARTIAL"
	IntentMoveStop     IntentKind = "MOVE_STOP"
)

// Intent is the at-most-one order intent a strategy may produce per event
// (spec.md §4.D). The Simulated Matcher is the sole consumer.
type Intent struct {
	Kind          IntentKind
	Side          types.Side
	Qty           float64 // target qty for ENTER; close qty for CLOSE_PARTIAL (ignored for CLOSE_ALL)
	StopPrice     float64
	TP1Price      float64
	TP2Price      float64
	NewStopPrice  float64 // for IntentMoveStop
	Reason        string
	DecisionPrice float64
}

// Instance is one independent strategy: id, type tag, configuration, and its
// own permission/momentum bookkeeping (its account and position are owned by
// its paired matcher.Matcher, per spec.md §4.E; Instance only ever sees them
// through the read-only AccountView of OnAccount).
type Instance interface {
	ID() string
	Type() string

	// OnBarCommit is evaluated once per closed bar, shorter intervals first
	// when multiple close simultaneously (spec.md §4.D).
	OnBarCommit(interval string, bar types.Bar, ind types.IndicatorSnapshot) *Intent

	// OnBarPreview is evaluated on every live tick; MUST NOT open positions,
	// MAY close. Stop/TP/liquidation are resolved by the matcher on every bar
	// event, preview or commit; trend-fail is commit-only (see OnBarCommit).
	OnBarPreview(interval string, bar types.Bar, ind types.IndicatorSnapshot) *Intent

	// OnAccount is a read-only snapshot used for sizing.
	OnAccount(view types.AccountView)

	// Condition returns the current structured checklist for UI (spec.md
	// §4.D "condition preview").
	Condition(openTimeMs int64) types.ConditionSummary
}
