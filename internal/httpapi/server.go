// Package httpapi is the thin HTTP/WS surface spec.md §4.G's consumers use:
// strategy listing/status, kline and indicator history, trade/ledger/equity
// pagination, condition summaries, health and metrics endpoints, and the
// fan-out WebSocket upgrade.
//
// Grounded on health_check.go (SimpleHealthCheck, adapted near-verbatim as
// Healthz) and services/user.go's AuthMiddleware (Firebase bearer-token
// verification), optionally gated by config.api.auth_enabled per spec.md §6.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c0herence/papertrade/internal/fanout"
	"github.com/c0herence/papertrade/internal/storage"
	"github.com/c0herence/papertrade/internal/types"
)

// StrategyView is what each registered strategy instance publishes for the
// read endpoints; the pipeline wiring supplies one per registered instance.
type StrategyView struct {
	ID        string
	Type      string
	Account   func() types.AccountView
	Condition func() types.ConditionSummary
}

type Server struct {
	mux        *http.ServeMux
	dao        *storage.DAO
	bus        *fanout.Bus
	strategies func() []StrategyView
	indicators func(interval string) (types.IndicatorSnapshot, bool)
	authFunc   func(http.Handler) http.Handler
}

type Options struct {
	DAO        *storage.DAO
	Bus        *fanout.Bus
	Strategies func() []StrategyView
	// Indicators, when non-nil, backs /api/indicators with the latest
	// committed snapshot for the requested interval.
	Indicators func(interval string) (types.IndicatorSnapshot, bool)
	// Auth, when non-nil, wraps every route below /api/ (config.api.auth_enabled).
	Auth func(http.Handler) http.Handler
}

func NewServer(opts Options) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		dao:        opts.DAO,
		bus:        opts.Bus,
		strategies: opts.Strategies,
		indicators: opts.Indicators,
		authFunc:   opts.Auth,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", Healthz)
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.bus != nil {
		// /ws/status and /ws/stream are the two channel kinds spec.md §6
		// names; both upgrade onto the same per-connection Subscriber (its
		// bounded status/stream queues already multiplex both kinds), so
		// the split only changes which URL a client dials, qualified by
		// role so a client dialing both doesn't collide on one id.
		s.mux.HandleFunc("/ws/status", s.wsHandler("status"))
		s.mux.HandleFunc("/ws/stream", s.wsHandler("stream"))
	}

	api := http.NewServeMux()
	api.HandleFunc("/api/strategies", s.listStrategies)
	api.HandleFunc("/api/strategies/status", s.strategyStatus)
	api.HandleFunc("/api/strategies/condition", s.strategyCondition)
	api.HandleFunc("/api/status", s.strategyStatus)
	api.HandleFunc("/api/condition", s.strategyCondition)
	api.HandleFunc("/api/klines", s.klines)
	api.HandleFunc("/api/indicators", s.indicatorsHandler)
	api.HandleFunc("/api/trades", s.trades)
	api.HandleFunc("/api/ledger", s.ledger)
	api.HandleFunc("/api/equity", s.equity)
	api.HandleFunc("/api/db/reset", s.dbReset)

	var apiHandler http.Handler = api
	if s.authFunc != nil {
		apiHandler = s.authFunc(api)
	}
	s.mux.Handle("/api/", apiHandler)
}

func (s *Server) wsHandler(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("client_id")
		if id == "" {
			id = r.RemoteAddr
		}
		s.bus.HandleWebSocket(role + ":" + id)(w, r)
	}
}

// Healthz is health_check.go's SimpleHealthCheck, kept verbatim in shape.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) listStrategies(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	var out []entry
	for _, v := range s.strategies() {
		out = append(out, entry{ID: v.ID, Type: v.Type})
	}
	writeJSON(w, out)
}

func (s *Server) strategyStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	for _, v := range s.strategies() {
		if v.ID == id {
			writeJSON(w, v.Account())
			return
		}
	}
	http.Error(w, "unknown strategy", http.StatusNotFound)
}

func (s *Server) strategyCondition(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	for _, v := range s.strategies() {
		if v.ID == id {
			writeJSON(w, v.Condition())
			return
		}
	}
	http.Error(w, "unknown strategy", http.StatusNotFound)
}

func (s *Server) klines(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	interval := r.URL.Query().Get("interval")
	bars, err := s.dao.LoadBars(symbol, interval, limitParam(r, 500))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, bars)
}

// indicatorsHandler serves the latest committed snapshot for an interval,
// the read-side of the Indicator Engine (spec.md §4.C history surface).
func (s *Server) indicatorsHandler(w http.ResponseWriter, r *http.Request) {
	if s.indicators == nil {
		http.Error(w, "indicators unavailable", http.StatusServiceUnavailable)
		return
	}
	interval := r.URL.Query().Get("interval")
	snap, ok := s.indicators(interval)
	if !ok {
		http.Error(w, "no snapshot yet for interval", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) trades(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	trades, err := s.dao.LoadTrades(id, limitParam(r, 200))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, trades)
}

func (s *Server) ledger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.dao.LoadLedger(limitParam(r, 200))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) equity(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	snaps, err := s.dao.LoadEquity(id, limitParam(r, 200))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, snaps)
}

// dbReset is the admin escape hatch spec.md §6 commits to: wipe every
// persisted table so a fresh paper-trading run starts from a clean DB
// without restarting the process. POST-only; a GET can't trigger it by
// accident (e.g. a crawler or browser prefetch).
func (s *Server) dbReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.dao.Reset(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "reset"})
}

func limitParam(r *http.Request, def int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
