// Package matcher implements the Simulated Matcher (spec.md §4.E): fills,
// fees, realized PnL, and tiered liquidation for exactly one strategy's
// account and at-most-one open position. Each strategy.Instance is paired
// 1:1 with its own Matcher, which is the sole owner of the mutable
// types.Account/types.Position state (see internal/strategy's package doc).
//
// Grounded on yohannesjx-sniperterminal/execution_service.go's
// MonitorPosition (breakeven/trailing/stop-hit bookkeeping) and
// predator_engine.go's closePosition (realized PnL and daily-loss
// bookkeeping), rewritten from live order placement into deterministic fills
// against the bar the decision was made on.
package matcher

import (
	"github.com/google/uuid"

	"github.com/c0herence/papertrade/internal/apierrors"
	"github.com/c0herence/papertrade/internal/metrics"
	"github.com/c0herence/papertrade/internal/strategy"
	"github.com/c0herence/papertrade/internal/types"
)

// Config holds the per-strategy matcher parameters.
type Config struct {
	Strategy        string
	InitialCapital  float64
	Leverage        int
	FeeRate         float64
	Tiers           []types.MarginTier // ascending by NotionalCap
	MaxDailyLoss    float64
	MaxConsecutive  int
	FundingEnabled  bool
}

// Matcher owns one strategy's Account and (at most) one open Position.
type Matcher struct {
	cfg  Config
	acct types.Account

	onTrade  func(types.Trade)
	onLedger func(types.LedgerEntry)
	onEquity func(types.EquitySnapshot)
}

func New(cfg Config, onTrade func(types.Trade), onLedger func(types.LedgerEntry), onEquity func(types.EquitySnapshot)) *Matcher {
	return &Matcher{
		cfg: cfg,
		acct: types.Account{
			Strategy:     cfg.Strategy,
			Balance:      cfg.InitialCapital,
			ResumeMarker: map[string]int64{},
		},
		onTrade:  onTrade,
		onLedger: onLedger,
		onEquity: onEquity,
	}
}

// Restore seeds the matcher's state from persisted state on startup (spec.md
// §4.F "restart recovery... without replaying missed ticks").
func (m *Matcher) Restore(acct types.Account) { m.acct = acct }

func (m *Matcher) Account() types.Account { return m.acct }

// View builds the read-only snapshot published to the strategy and the
// fan-out bus.
func (m *Matcher) View(markPrice float64) types.AccountView {
	view := types.AccountView{
		Strategy: m.cfg.Strategy,
		Balance:  m.acct.Balance,
		Equity:   m.acct.Balance,
	}
	if m.acct.Open == nil {
		view.FreeMargin = m.acct.Balance
		return view
	}
	pos := m.acct.Open
	upl := unrealizedPnL(pos, markPrice)
	view.UPL = upl
	view.Equity = m.acct.Balance + upl
	view.MarginUsed = pos.Margin
	view.FreeMargin = m.acct.Balance - pos.Margin
	view.LiqPrice = pos.LiqPrice
	posCopy := *pos
	view.Position = &posCopy
	return view
}

func unrealizedPnL(pos *types.Position, markPrice float64) float64 {
	diff := markPrice - pos.EntryPrice
	if pos.Side == types.SideShort {
		diff = -diff
	}
	return diff * pos.Qty
}

// Apply settles one strategy Intent against the bar the decision was made
// on. tsMs is the bar's close time (for a commit-sourced intent) or the
// current wall time (for a preview-sourced one); both are valid trade
// timestamps since the matcher fills at the decision price exactly as
// quoted, never searching for a better price.
func (m *Matcher) Apply(intent *strategy.Intent, tsMs int64) error {
	if intent == nil {
		return nil
	}
	if m.dailyLossBreached() {
		return &apierrors.InvariantViolated{Strategy: m.cfg.Strategy, Detail: "daily loss limit breached, strategy frozen"}
	}
	switch intent.Kind {
	case strategy.IntentEnter:
		return m.enter(intent, tsMs)
	case strategy.IntentCloseAll:
		return m.closeQty(0, intent.DecisionPrice, tsMs, intent.Reason)
	case strategy.IntentClosePartial:
		return m.closeQty(intent.Qty, intent.DecisionPrice, tsMs, intent.Reason)
	case strategy.IntentMoveStop:
		if m.acct.Open != nil {
			m.acct.Open.StopPrice = intent.NewStopPrice
		}
	}
	return nil
}

func (m *Matcher) dailyLossBreached() bool {
	return m.cfg.MaxDailyLoss > 0 && m.acct.DailyLoss >= m.cfg.MaxDailyLoss
}

func (m *Matcher) enter(intent *strategy.Intent, tsMs int64) error {
	if m.acct.Open != nil {
		return nil // one position per strategy; ignore redundant entries
	}
	notional := intent.Qty * intent.DecisionPrice
	margin := notional / float64(maxInt(m.cfg.Leverage, 1))
	fee := notional * m.cfg.FeeRate

	if margin+fee > m.acct.Balance {
		return &apierrors.InvariantViolated{Strategy: m.cfg.Strategy, Detail: "insufficient balance for requested margin"}
	}

	pos := &types.Position{
		PositionID:  uuid.NewString(),
		Strategy:    m.cfg.Strategy,
		Side:        intent.Side,
		Qty:         intent.Qty,
		FullQty:     intent.Qty,
		EntryPrice:  intent.DecisionPrice,
		EntryTimeMs: tsMs,
		Leverage:    m.cfg.Leverage,
		Margin:      margin,
		EntryMargin: margin,
		StopPrice:   intent.StopPrice,
		TP1Price:    intent.TP1Price,
		TP2Price:    intent.TP2Price,
		Status:      types.PositionOpen,
	}
	pos.LiqPrice = liquidationPrice(pos, m.cfg.Tiers)
	pos.FeesTotal += fee
	m.acct.Open = pos
	m.acct.Balance -= fee

	m.emitTrade(types.Trade{
		TradeID: uuid.NewString(), PositionID: pos.PositionID,
		Side: sideOf(intent.Side, true), Kind: types.TradeEntry,
		Price: intent.DecisionPrice, Qty: intent.Qty, Notional: notional,
		FeeAmount: fee, FeeRate: m.cfg.FeeRate, TsMs: tsMs, Reason: intent.Reason,
	})
	m.emitLedger(types.LedgerEntry{TsMs: tsMs, Type: types.LedgerFee, Amount: -fee, Ref: pos.PositionID, Note: "entry fee"})
	metrics.MatcherFillsTotal.WithLabelValues(m.cfg.Strategy, "entry", intent.Reason).Inc()
	return nil
}

// closeQty closes qty units (0 means close everything) at price.
func (m *Matcher) closeQty(qty, price float64, tsMs int64, reason string) error {
	pos := m.acct.Open
	if pos == nil {
		return nil
	}
	if qty <= 0 || qty > pos.Qty {
		qty = pos.Qty
	}

	notional := qty * price
	fee := notional * m.cfg.FeeRate
	diff := price - pos.EntryPrice
	if pos.Side == types.SideShort {
		diff = -diff
	}
	realized := diff*qty - fee
	marginReleased := qty / pos.FullQty * pos.EntryMargin

	pos.Qty -= qty
	pos.Margin -= marginReleased
	pos.RealizedPnL += realized
	pos.FeesTotal += fee
	m.acct.Balance += realized

	m.emitTrade(types.Trade{
		TradeID: uuid.NewString(), PositionID: pos.PositionID,
		Side: sideOf(pos.Side, false), Kind: types.TradeExit,
		Price: price, Qty: qty, Notional: notional,
		FeeAmount: fee, FeeRate: m.cfg.FeeRate, TsMs: tsMs, Reason: reason,
	})
	m.emitLedger(types.LedgerEntry{TsMs: tsMs, Type: types.LedgerRealizedPnL, Amount: realized, Ref: pos.PositionID, Note: reason})
	metrics.MatcherFillsTotal.WithLabelValues(m.cfg.Strategy, "exit", reason).Inc()
	metrics.MatcherRealizedPnL.WithLabelValues(m.cfg.Strategy).Add(realized)

	if realized < 0 {
		m.acct.DailyLoss += -realized
		m.acct.ConsecutiveLosses++
	} else {
		m.acct.ConsecutiveLosses = 0
	}

	if pos.Qty <= 1e-12 {
		pos.Status = types.PositionClosed
		pos.CloseTimeMs = tsMs
		pos.CloseReason = reason
		m.acct.Open = nil
	} else {
		pos.LiqPrice = liquidationPrice(pos, m.cfg.Tiers)
	}
	return nil
}

// EvaluateBar runs the preview checks against one bar's high/low, resolving
// the intrabar price path by the bar's direction (spec.md §4.E): a green bar
// runs checkTP (TP2, then TP1 as a partial close that moves the stop to
// breakeven) before checkStop (liquidation, then stop); a red bar runs
// checkStop first. It is the matcher's own responsibility, independent of
// the owning strategy, since only the matcher knows the live stop/TP/liq
// levels.
func (m *Matcher) EvaluateBar(bar types.Bar, tsMs int64) error {
	pos := m.acct.Open
	if pos == nil {
		return nil
	}
	// Side-agnostic per spec.md: a green bar is assumed to have travelled
	// toward its favorable extreme first (TP before stop); a red bar
	// travelled toward its adverse extreme first (stop before TP). Which
	// physical price level (high or low) that corresponds to depends on
	// side, but the TP-vs-stop ordering itself never does.
	if bar.Close >= bar.Open {
		if m.checkTP(pos, bar, tsMs) {
			return nil
		}
		m.checkStop(pos, bar, tsMs)
	} else {
		if m.checkStop(pos, bar, tsMs) {
			return nil
		}
		m.checkTP(pos, bar, tsMs)
	}
	return nil
}

// checkStop tests liquidation before the stop itself, at whichever bar
// extreme is adverse for this position's side.
func (m *Matcher) checkStop(pos *types.Position, bar types.Bar, tsMs int64) bool {
	if pos.Side == types.SideLong {
		if bar.Low <= pos.LiqPrice {
			m.closeQty(0, pos.LiqPrice, tsMs, "liquidation")
			return true
		}
		if bar.Low <= pos.StopPrice {
			m.closeQty(0, pos.StopPrice, tsMs, "stop")
			return true
		}
		return false
	}
	if bar.High >= pos.LiqPrice {
		m.closeQty(0, pos.LiqPrice, tsMs, "liquidation")
		return true
	}
	if bar.High >= pos.StopPrice {
		m.closeQty(0, pos.StopPrice, tsMs, "stop")
		return true
	}
	return false
}

// checkTP tests TP2 before TP1, at whichever bar extreme is favorable for
// this position's side.
func (m *Matcher) checkTP(pos *types.Position, bar types.Bar, tsMs int64) bool {
	if pos.Side == types.SideLong {
		if pos.TP2Price > 0 && bar.High >= pos.TP2Price {
			m.closeQty(0, pos.TP2Price, tsMs, "tp2")
			return true
		}
		if pos.TP1Price > 0 && pos.Qty == pos.FullQty && bar.High >= pos.TP1Price {
			m.takeProfit1(pos, tsMs)
			return true
		}
		return false
	}
	if pos.TP2Price > 0 && bar.Low <= pos.TP2Price {
		m.closeQty(0, pos.TP2Price, tsMs, "tp2")
		return true
	}
	if pos.TP1Price > 0 && pos.Qty == pos.FullQty && bar.Low <= pos.TP1Price {
		m.takeProfit1(pos, tsMs)
		return true
	}
	return false
}

// takeProfit1 closes half the position and moves the stop to breakeven
// (spec.md §4.E).
func (m *Matcher) takeProfit1(pos *types.Position, tsMs int64) {
	half := pos.FullQty / 2
	m.closeQty(half, pos.TP1Price, tsMs, "tp1_partial")
	if m.acct.Open != nil {
		m.acct.Open.StopPrice = m.acct.Open.EntryPrice
	}
}

// liquidationPrice applies the tiered maintenance-margin bracket matching
// the position's notional. Formula (isolated margin): the position is
// liquidated once equity falls to the tier's maintenance margin, i.e. when
// unrealized loss consumes (margin - maintMargin).
func liquidationPrice(pos *types.Position, tiers []types.MarginTier) float64 {
	notional := pos.Qty * pos.EntryPrice
	mmr, maintAmount := tierFor(notional, tiers)
	maintMargin := notional*mmr - maintAmount
	if pos.Qty == 0 {
		return 0
	}
	cushion := (pos.Margin - maintMargin) / pos.Qty
	if pos.Side == types.SideLong {
		return pos.EntryPrice - cushion
	}
	return pos.EntryPrice + cushion
}

func tierFor(notional float64, tiers []types.MarginTier) (mmr, maintAmount float64) {
	for _, t := range tiers {
		if notional <= t.NotionalCap {
			return t.MMR, t.MaintAmount
		}
	}
	if len(tiers) > 0 {
		last := tiers[len(tiers)-1]
		return last.MMR, last.MaintAmount
	}
	return 0.005, 0
}

func sideOf(side types.Side, isEntry bool) types.TradeSide {
	long := side == types.SideLong
	if long == isEntry {
		return types.TradeBuy
	}
	return types.TradeSell
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (m *Matcher) emitTrade(t types.Trade) {
	if m.onTrade != nil {
		m.onTrade(t)
	}
}

func (m *Matcher) emitLedger(l types.LedgerEntry) {
	if m.onLedger != nil {
		m.onLedger(l)
	}
}

// Equity builds an EquitySnapshot at the given mark price and moment and
// passes it to the onEquity callback. The pipeline in main.go does not call
// it, so a running engine produces no equity snapshots.
func (m *Matcher) Equity(markPrice float64, tsMs int64) types.EquitySnapshot {
	view := m.View(markPrice)
	snap := types.EquitySnapshot{
		TsMs: tsMs, Balance: view.Balance, Equity: view.Equity,
		UPL: view.UPL, MarginUsed: view.MarginUsed, FreeMargin: view.FreeMargin,
	}
	if m.onEquity != nil {
		m.onEquity(snap)
	}
	return snap
}
