// Package types holds the data model shared by every pipeline stage: bars,
// indicator snapshots, positions, trades, ledger entries, equity snapshots
// and the in-memory account view.
package types

// Source identifies whether a Bar was produced by REST warmup/gap-repair or
// by the live stream.
type Source string

const (
	SourceWarmup Source = "warmup"
	SourceLive   Source = "live"
)

// Bar is one OHLCV candle. (symbol, interval, open_time) is the natural key;
// OpenTimeMs is the canonical ordering key within an interval.
type Bar struct {
	Symbol      string `json:"symbol"`
	Interval    string `json:"interval"`
	OpenTimeMs  int64  `json:"open_time_ms"`
	CloseTimeMs int64  `json:"close_time_ms"`
	Open        float64 `json:"o"`
	High        float64 `json:"h"`
	Low         float64 `json:"l"`
	Close       float64 `json:"c"`
	Volume      float64 `json:"v"`
	TradeCount  int64   `json:"trade_count"`
	Closed      bool    `json:"closed"`
	Source      Source  `json:"source"`
}

// IndicatorSnapshot is the frozen or transient value set for one
// (strategy, interval, open_time).
type IndicatorSnapshot struct {
	Strategy   string `json:"strategy"`
	Interval   string `json:"interval"`
	OpenTimeMs int64  `json:"open_time_ms"`

	EMAFast float64 `json:"ema_fast"`
	EMASlow float64 `json:"ema_slow"`
	RSI     float64 `json:"rsi"`
	MACD    float64 `json:"macd"`
	MACDSig float64 `json:"macd_signal"`
	MACDHst float64 `json:"macd_hist"`
	ATR     float64 `json:"atr"`

	SlopeEMAFast float64 `json:"slope_ema_fast"`
	SlopeEMASlow float64 `json:"slope_ema_slow"`
	SlopeRSI     float64 `json:"slope_rsi"`
	SlopeMACD    float64 `json:"slope_macd"`
	SlopeMACDHst float64 `json:"slope_macd_hist"`
	SlopeATR     float64 `json:"slope_atr"`

	// Committed is false for a preview snapshot (computed from the open bar
	// without mutating persisted state) and true once written on bar close.
	Committed bool `json:"committed"`
}

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is a strategy's single open-or-closed position for its symbol.
type Position struct {
	PositionID   string         `json:"position_id"`
	Strategy     string         `json:"strategy"`
	Side         Side           `json:"side"`
	Qty          float64        `json:"qty"`
	EntryPrice   float64        `json:"entry_price"`
	EntryTimeMs  int64          `json:"entry_time_ms"`
	Leverage     int            `json:"leverage"`
	Margin       float64        `json:"margin"`
	StopPrice    float64        `json:"stop_price"`
	TP1Price     float64        `json:"tp1_price"`
	TP2Price     float64        `json:"tp2_price"`
	Status       PositionStatus `json:"status"`
	RealizedPnL  float64        `json:"realized_pnl"`
	FeesTotal    float64        `json:"fees_total"`
	LiqPrice     float64        `json:"liq_price"`
	CloseTimeMs  int64          `json:"close_time_ms,omitempty"`
	CloseReason  string         `json:"close_reason,omitempty"`

	// FullQty is the quantity at entry fill, before any partial close. It is
	// not part of the spec's Position shape verbatim but is required to
	// compute "margin_released = qty/full_qty * entry_margin" on partial
	// exits, so it is carried as derived bookkeeping alongside Qty.
	FullQty     float64 `json:"-"`
	EntryMargin float64 `json:"-"`
}

type TradeSide string

const (
	TradeBuy  TradeSide = "BUY"
	TradeSell TradeSide = "SELL"
)

type TradeKind string

const (
	TradeEntry TradeKind = "ENTRY"
	TradeExit  TradeKind = "EXIT"
)

// Trade is one fill.
type Trade struct {
	TradeID    string    `json:"trade_id"`
	PositionID string    `json:"position_id"`
	Side       TradeSide `json:"side"`
	Kind       TradeKind `json:"kind"`
	Price      float64   `json:"price"`
	Qty        float64   `json:"qty"`
	Notional   float64   `json:"notional"`
	FeeAmount  float64   `json:"fee_amount"`
	FeeRate    float64   `json:"fee_rate"`
	TsMs       int64     `json:"ts_ms"`
	Reason     string    `json:"reason"`
}

type LedgerType string

const (
	LedgerFee         LedgerType = "fee"
	LedgerRealizedPnL LedgerType = "realized_pnl"
	LedgerFunding     LedgerType = "funding"
)

// LedgerEntry is one signed balance-changing event. Append-only.
type LedgerEntry struct {
	TsMs   int64      `json:"ts_ms"`
	Type   LedgerType `json:"type"`
	Amount float64    `json:"amount"`
	Ref    string     `json:"ref"`
	Note   string     `json:"note"`
}

// EquitySnapshot is one point of a strategy's equity curve, built by
// Matcher.Equity; the running pipeline does not produce any.
type EquitySnapshot struct {
	TsMs        int64   `json:"ts_ms"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	UPL         float64 `json:"upl"`
	MarginUsed  float64 `json:"margin_used"`
	FreeMargin  float64 `json:"free_margin"`
}

// Account is the in-memory, strategy-owned account view. It is never shared
// directly across goroutines; readers outside the owning strategy only ever
// see an AccountView snapshot published through the fan-out bus.
type Account struct {
	Strategy          string
	Balance           float64
	Open              *Position
	CooldownUntilBar  int64 // execution-interval bar index; 0 means no cooldown
	DailyLoss         float64
	ConsecutiveLosses int
	ResumeMarker      map[string]int64 // interval -> last committed open_time_ms
}

// AccountView is the read-only snapshot on_account() and the fan-out bus use.
type AccountView struct {
	Strategy   string    `json:"strategy"`
	Balance    float64   `json:"balance"`
	Equity     float64   `json:"equity"`
	UPL        float64   `json:"upl"`
	MarginUsed float64   `json:"margin_used"`
	FreeMargin float64   `json:"free_margin"`
	Position   *Position `json:"position,omitempty"`
	LiqPrice   float64   `json:"liq_price,omitempty"`
}

// ConditionSummary is the structured checklist a strategy publishes on every
// preview, classifying which boolean entry/exit clauses currently hold.
type ConditionSummary struct {
	Strategy   string          `json:"strategy"`
	OpenTimeMs int64           `json:"open_time_ms"`
	Checks     map[string]bool `json:"checks"`
}

// MarginTier is one row of a tiered maintenance-margin schedule, modeled on
// the notional brackets Binance Futures publishes per symbol: positions with
// notional <= NotionalCap use MMR as their maintenance margin rate, with
// MaintAmount as the fixed deduction the bracket formula subtracts.
type MarginTier struct {
	NotionalCap float64 `json:"notional_cap"`
	MMR         float64 `json:"mmr"`
	MaintAmount float64 `json:"maint_amount"`
}
