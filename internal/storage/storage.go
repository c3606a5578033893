// Package storage implements the Persistence DAO (spec.md §4.F): idempotent,
// append-only writes against a single sqlite database, serialized through a
// single writer goroutine.
//
// Grounded on rustyeddy-trader/journal/sqlite.go (schema-on-open via
// db.Exec(Schema), one method per record kind) generalized from a
// single-instrument backtest journal into a multi-strategy, multi-table
// paper-trading ledger, using github.com/mattn/go-sqlite3 as the driver.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/c0herence/papertrade/internal/apierrors"
	"github.com/c0herence/papertrade/internal/metrics"
	"github.com/c0herence/papertrade/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol TEXT NOT NULL, interval TEXT NOT NULL, open_time_ms INTEGER NOT NULL,
	close_time_ms INTEGER, o REAL, h REAL, l REAL, c REAL, v REAL,
	trade_count INTEGER, source TEXT,
	PRIMARY KEY (symbol, interval, open_time_ms)
);
CREATE TABLE IF NOT EXISTS positions (
	position_id TEXT PRIMARY KEY, strategy TEXT NOT NULL, side TEXT, qty REAL,
	entry_price REAL, entry_time_ms INTEGER, leverage INTEGER, margin REAL,
	stop_price REAL, tp1_price REAL, tp2_price REAL, status TEXT,
	realized_pnl REAL, fees_total REAL, liq_price REAL,
	close_time_ms INTEGER, close_reason TEXT
);
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY, position_id TEXT NOT NULL, side TEXT, kind TEXT,
	price REAL, qty REAL, notional REAL, fee_amount REAL, fee_rate REAL,
	ts_ms INTEGER, reason TEXT
);
CREATE TABLE IF NOT EXISTS ledger (
	id INTEGER PRIMARY KEY AUTOINCREMENT, ts_ms INTEGER, type TEXT,
	amount REAL, ref TEXT, note TEXT
);
CREATE TABLE IF NOT EXISTS equity (
	id INTEGER PRIMARY KEY AUTOINCREMENT, strategy TEXT NOT NULL, ts_ms INTEGER,
	balance REAL, equity REAL, upl REAL, margin_used REAL, free_margin REAL
);
CREATE TABLE IF NOT EXISTS accounts (
	strategy TEXT PRIMARY KEY, snapshot TEXT NOT NULL, ts_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_trades_position ON trades(position_id);
CREATE INDEX IF NOT EXISTS idx_equity_strategy ON equity(strategy, ts_ms);
`

// writeReq is one queued mutation, serialized through the single writer
// goroutine (spec.md §4.F: "a single writer goroutine serializes all
// writes").
type writeReq struct {
	fn   func(*sql.DB) error
	done chan error
}

type DAO struct {
	db     *sql.DB
	writes chan writeReq
	done   chan struct{}
}

func Open(path string) (*DAO, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &apierrors.StorageError{Op: "open", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, &apierrors.StorageError{Op: "migrate", Err: err}
	}
	d := &DAO{db: db, writes: make(chan writeReq, 256), done: make(chan struct{})}
	go d.writer()
	return d, nil
}

func (d *DAO) writer() {
	for {
		select {
		case req := <-d.writes:
			req.done <- req.fn(d.db)
		case <-d.done:
			return
		}
	}
}

func (d *DAO) exec(op string, fn func(*sql.DB) error) error {
	start := time.Now()
	done := make(chan error, 1)
	d.writes <- writeReq{fn: fn, done: done}
	err := <-done
	metrics.StorageWriteLatencyMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues(op).Inc()
		return &apierrors.StorageError{Op: op, Err: err}
	}
	return nil
}

// SaveBar upserts by the (symbol, interval, open_time_ms) natural key, so
// replaying the same closed bar (e.g. after gap repair) is a no-op write.
func (d *DAO) SaveBar(b types.Bar) error {
	return d.exec("save_bar", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO bars (symbol, interval, open_time_ms, close_time_ms, o, h, l, c, v, trade_count, source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, interval, open_time_ms) DO UPDATE SET
				close_time_ms=excluded.close_time_ms, o=excluded.o, h=excluded.h, l=excluded.l,
				c=excluded.c, v=excluded.v, trade_count=excluded.trade_count, source=excluded.source`,
			b.Symbol, b.Interval, b.OpenTimeMs, b.CloseTimeMs, b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount, string(b.Source))
		return err
	})
}

// SavePosition upserts by position_id: the first write is the entry fill,
// subsequent writes (partial closes, final close) update the same row.
func (d *DAO) SavePosition(p types.Position) error {
	return d.exec("save_position", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO positions (position_id, strategy, side, qty, entry_price, entry_time_ms, leverage,
				margin, stop_price, tp1_price, tp2_price, status, realized_pnl, fees_total, liq_price,
				close_time_ms, close_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(position_id) DO UPDATE SET
				qty=excluded.qty, stop_price=excluded.stop_price, tp1_price=excluded.tp1_price,
				tp2_price=excluded.tp2_price, status=excluded.status, realized_pnl=excluded.realized_pnl,
				fees_total=excluded.fees_total, liq_price=excluded.liq_price,
				close_time_ms=excluded.close_time_ms, close_reason=excluded.close_reason`,
			p.PositionID, p.Strategy, string(p.Side), p.Qty, p.EntryPrice, p.EntryTimeMs, p.Leverage,
			p.Margin, p.StopPrice, p.TP1Price, p.TP2Price, string(p.Status), p.RealizedPnL, p.FeesTotal,
			p.LiqPrice, p.CloseTimeMs, p.CloseReason)
		return err
	})
}

// SaveTrade appends a fill. Trades are pure append — a trade_id is only ever
// written once.
func (d *DAO) SaveTrade(t types.Trade) error {
	return d.exec("save_trade", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT OR IGNORE INTO trades (trade_id, position_id, side, kind, price, qty, notional, fee_amount, fee_rate, ts_ms, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.TradeID, t.PositionID, string(t.Side), string(t.Kind), t.Price, t.Qty, t.Notional, t.FeeAmount, t.FeeRate, t.TsMs, t.Reason)
		return err
	})
}

// SaveLedgerEntry appends one balance-changing event.
func (d *DAO) SaveLedgerEntry(e types.LedgerEntry) error {
	return d.exec("save_ledger", func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO ledger (ts_ms, type, amount, ref, note) VALUES (?, ?, ?, ?, ?)`,
			e.TsMs, string(e.Type), e.Amount, e.Ref, e.Note)
		return err
	})
}

// SaveEquitySnapshot appends one equity point for a strategy.
func (d *DAO) SaveEquitySnapshot(strategy string, e types.EquitySnapshot) error {
	return d.exec("save_equity", func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO equity (strategy, ts_ms, balance, equity, upl, margin_used, free_margin) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			strategy, e.TsMs, e.Balance, e.Equity, e.UPL, e.MarginUsed, e.FreeMargin)
		return err
	})
}

// SaveAccountSnapshot persists the full Account as JSON, keyed by strategy,
// so LoadAccount can restore open-position state on restart without
// replaying missed ticks (spec.md §4.F).
func (d *DAO) SaveAccountSnapshot(a types.Account, tsMs int64) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return &apierrors.StorageError{Op: "marshal_account", Err: err}
	}
	return d.exec("save_account", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO accounts (strategy, snapshot, ts_ms) VALUES (?, ?, ?)
			ON CONFLICT(strategy) DO UPDATE SET snapshot=excluded.snapshot, ts_ms=excluded.ts_ms`,
			a.Strategy, string(raw), tsMs)
		return err
	})
}

// LoadAccount restores a previously-saved Account, or a fresh zero-value one
// with ok=false if none exists yet.
func (d *DAO) LoadAccount(strategy string) (acct types.Account, ok bool, err error) {
	var raw string
	err = d.db.QueryRow(`SELECT snapshot FROM accounts WHERE strategy = ?`, strategy).Scan(&raw)
	if err == sql.ErrNoRows {
		return types.Account{}, false, nil
	}
	if err != nil {
		return types.Account{}, false, &apierrors.StorageError{Op: "load_account", Err: err}
	}
	if err := json.Unmarshal([]byte(raw), &acct); err != nil {
		return types.Account{}, false, &apierrors.StorageError{Op: "unmarshal_account", Err: err}
	}
	return acct, true, nil
}

// LoadBars returns the most recent limit persisted bars for (symbol,
// interval), ascending by open_time_ms, used to rehydrate the Kline Buffer
// on restart.
func (d *DAO) LoadBars(symbol, interval string, limit int) ([]types.Bar, error) {
	rows, err := d.db.Query(`
		SELECT symbol, interval, open_time_ms, close_time_ms, o, h, l, c, v, trade_count, source
		FROM bars WHERE symbol = ? AND interval = ?
		ORDER BY open_time_ms DESC LIMIT ?`, symbol, interval, limit)
	if err != nil {
		return nil, &apierrors.StorageError{Op: "load_bars", Err: err}
	}
	defer rows.Close()

	var out []types.Bar
	for rows.Next() {
		var b types.Bar
		var source string
		if err := rows.Scan(&b.Symbol, &b.Interval, &b.OpenTimeMs, &b.CloseTimeMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradeCount, &source); err != nil {
			return nil, &apierrors.StorageError{Op: "scan_bar", Err: err}
		}
		b.Source = types.Source(source)
		b.Closed = true
		out = append(out, b)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LoadTrades returns the most recent trades for a strategy (joined through
// positions, since the trades table itself only carries a position_id),
// ascending by ts_ms.
func (d *DAO) LoadTrades(strategy string, limit int) ([]types.Trade, error) {
	rows, err := d.db.Query(`
		SELECT t.trade_id, t.position_id, t.side, t.kind, t.price, t.qty, t.notional, t.fee_amount, t.fee_rate, t.ts_ms, t.reason
		FROM trades t JOIN positions p ON p.position_id = t.position_id
		WHERE p.strategy = ?
		ORDER BY t.ts_ms DESC LIMIT ?`, strategy, limit)
	if err != nil {
		return nil, &apierrors.StorageError{Op: "load_trades", Err: err}
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var side, kind string
		if err := rows.Scan(&t.TradeID, &t.PositionID, &side, &kind, &t.Price, &t.Qty, &t.Notional, &t.FeeAmount, &t.FeeRate, &t.TsMs, &t.Reason); err != nil {
			return nil, &apierrors.StorageError{Op: "scan_trade", Err: err}
		}
		t.Side, t.Kind = types.TradeSide(side), types.TradeKind(kind)
		out = append(out, t)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LoadLedger returns the most recent ledger entries, ascending by ts_ms. The
// ledger is a single global stream (spec.md §4.F), not partitioned by
// strategy.
func (d *DAO) LoadLedger(limit int) ([]types.LedgerEntry, error) {
	rows, err := d.db.Query(`SELECT ts_ms, type, amount, ref, note FROM ledger ORDER BY ts_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &apierrors.StorageError{Op: "load_ledger", Err: err}
	}
	defer rows.Close()

	var out []types.LedgerEntry
	for rows.Next() {
		var e types.LedgerEntry
		var typ string
		if err := rows.Scan(&e.TsMs, &typ, &e.Amount, &e.Ref, &e.Note); err != nil {
			return nil, &apierrors.StorageError{Op: "scan_ledger", Err: err}
		}
		e.Type = types.LedgerType(typ)
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LoadEquity returns the most recent equity snapshots for a strategy,
// ascending by ts_ms.
func (d *DAO) LoadEquity(strategy string, limit int) ([]types.EquitySnapshot, error) {
	rows, err := d.db.Query(`
		SELECT ts_ms, balance, equity, upl, margin_used, free_margin
		FROM equity WHERE strategy = ? ORDER BY ts_ms DESC LIMIT ?`, strategy, limit)
	if err != nil {
		return nil, &apierrors.StorageError{Op: "load_equity", Err: err}
	}
	defer rows.Close()

	var out []types.EquitySnapshot
	for rows.Next() {
		var e types.EquitySnapshot
		if err := rows.Scan(&e.TsMs, &e.Balance, &e.Equity, &e.UPL, &e.MarginUsed, &e.FreeMargin); err != nil {
			return nil, &apierrors.StorageError{Op: "scan_equity", Err: err}
		}
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Reset truncates every table, for the admin /api/db/reset operation
// (spec.md §6). It goes through the single writer goroutine like any other
// mutation so it can't race an in-flight save.
func (d *DAO) Reset() error {
	return d.exec("reset", func(db *sql.DB) error {
		for _, table := range []string{"bars", "positions", "trades", "ledger", "equity", "accounts"} {
			if _, err := db.Exec("DELETE FROM " + table); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DAO) Close() error {
	close(d.done)
	return d.db.Close()
}
