// Package market implements the Market Source of SPEC_FULL.md §4.B: REST
// warmup paging plus a live combined WebSocket kline stream, normalized into
// a single ordered bar event stream with reconnect, backoff+jitter, idle
// heartbeat and gap repair.
//
// Grounded on yohannesjx-sniperterminal/trend_analyzer.go (REST kline
// fetch + retry shape) and main.go's BinanceFutures.Start (combined-stream
// dial/read loop, {stream,data} envelope) and predator_engine.go's
// per-symbol reconnect loop. Backoff+jitter uses jpillora/backoff, already
// a teacher indirect dependency that the teacher itself never wired.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/c0herence/papertrade/internal/apierrors"
	"github.com/c0herence/papertrade/internal/types"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

const (
	restPageSize   = 1000
	restTimeout    = 10 * time.Second
	restRetries    = 3
	idleTimeout    = 60 * time.Second
	maxBackoff     = 30 * time.Second
	wsBaseURL      = "wss://fstream.binance.com/stream?streams="
)

// BarEvent is one normalized bar observation flowing out of the Market
// Source into the Kline Buffer.
type BarEvent struct {
	Bar     types.Bar
	Preview bool // false => commit (closed=true, persisted); true => preview
}

// Handler is notified of events and state transitions. The pipeline wiring
// in main.go passes its pipelineHandler value; there is no broadcast bus
// inside this package, matching spec.md §5's "market source runs on its
// own task" ownership (the caller fans the events out further).
type Handler interface {
	OnBarEvent(ev BarEvent)
	OnState(state ConnState)
	OnTransportError(err error)
	OnGapDetected(err *apierrors.GapDetected)
}

// Source drives one symbol across a fixed set of intervals.
type Source struct {
	Symbol    string
	Intervals []string
	client    *futures.Client
	handler   Handler

	tailOpenTimeMs map[string]int64 // interval -> last known open_time
}

func New(symbol string, intervals []string, client *futures.Client, handler Handler) *Source {
	return &Source{
		Symbol:         symbol,
		Intervals:      intervals,
		client:         client,
		handler:        handler,
		tailOpenTimeMs: make(map[string]int64, len(intervals)),
	}
}

// Warmup pages backwards from REST until warmupBars[interval] bars are
// available per interval, or the exchange returns a short page. Bars are
// emitted in chronological order as commit events with Source=warmup.
func (s *Source) Warmup(ctx context.Context, warmupBars map[string]int) error {
	for _, interval := range s.Intervals {
		want := warmupBars[interval]
		if want <= 0 {
			continue
		}
		bars, err := s.fetchWarmupBars(ctx, interval, want)
		if err != nil {
			return err
		}
		for _, b := range bars {
			s.handler.OnBarEvent(BarEvent{Bar: b, Preview: false})
			s.tailOpenTimeMs[interval] = b.OpenTimeMs
		}
	}
	return nil
}

// fetchWarmupBars pages backward (EndTime walking earlier) collecting at
// least `want` closed bars, or stops once the exchange returns fewer than a
// full page (spec.md §4.B).
func (s *Source) fetchWarmupBars(ctx context.Context, interval string, want int) ([]types.Bar, error) {
	var all []types.Bar
	var endTime int64 // 0 = "now", exclusive upper bound on subsequent pages

	for len(all) < want {
		page, err := s.fetchKlinesPage(ctx, interval, endTime)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(page, all...)
		endTime = page[0].OpenTimeMs - 1
		if len(page) < restPageSize {
			break
		}
	}

	if len(all) > want {
		all = all[len(all)-want:]
	}
	for i := range all {
		all[i].Source = types.SourceWarmup
		all[i].Closed = true
	}
	return all, nil
}

// fetchKlinesPage performs one REST call with the mandated 10s timeout and
// 3-retry exponential backoff (spec.md §5), grounded on
// trend_analyzer.go's analyzeTimeframe retry loop.
func (s *Source) fetchKlinesPage(ctx context.Context, interval string, endTimeMs int64) ([]types.Bar, error) {
	var lastErr error
	b := &backoff.Backoff{Min: 250 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true}

	for attempt := 0; attempt < restRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, restTimeout)
		svc := s.client.NewKlinesService().Symbol(s.Symbol).Interval(interval).Limit(restPageSize)
		if endTimeMs > 0 {
			svc = svc.EndTime(endTimeMs)
		}
		klines, err := svc.Do(reqCtx)
		cancel()
		if err == nil {
			return toBars(s.Symbol, interval, klines), nil
		}
		lastErr = err
		s.handler.OnTransportError(&apierrors.TransportError{Op: fmt.Sprintf("klines(%s,%s)", s.Symbol, interval), Err: err})
		time.Sleep(b.Duration())
	}
	return nil, &apierrors.TransportError{Op: fmt.Sprintf("klines(%s,%s)", s.Symbol, interval), Err: lastErr}
}

func toBars(symbol, interval string, klines []*futures.Kline) []types.Bar {
	bars := make([]types.Bar, 0, len(klines))
	for _, k := range klines {
		o, _ := strconv.ParseFloat(k.Open, 64)
		h, _ := strconv.ParseFloat(k.High, 64)
		l, _ := strconv.ParseFloat(k.Low, 64)
		c, _ := strconv.ParseFloat(k.Close, 64)
		v, _ := strconv.ParseFloat(k.Volume, 64)
		bars = append(bars, types.Bar{
			Symbol: symbol, Interval: interval,
			OpenTimeMs: k.OpenTime, CloseTimeMs: k.CloseTime,
			Open: o, High: h, Low: l, Close: c, Volume: v,
			TradeCount: k.TradeNum, Closed: true,
		})
	}
	return bars
}

// --- live streaming ---

type combinedMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klineEventData struct {
	Kline struct {
		OpenTimeMs  int64  `json:"t"`
		CloseTimeMs int64  `json:"T"`
		Interval    string `json:"i"`
		Open        string `json:"o"`
		Close       string `json:"c"`
		High        string `json:"h"`
		Low         string `json:"l"`
		Volume      string `json:"v"`
		TradeCount  int64  `json:"n"`
		IsClosed    bool   `json:"x"`
	} `json:"k"`
}

// Run drives the connection state machine until ctx is cancelled:
// Connecting -> Handshaking -> Streaming, with exponential backoff+jitter
// (capped at 30s) on transport failure, a 60s idle-triggered reconnect, and
// REST gap repair before re-entering Streaming after any reconnect.
func (s *Source) Run(ctx context.Context) {
	bo := &backoff.Backoff{Min: 500 * time.Millisecond, Max: maxBackoff, Factor: 2, Jitter: true}

	for {
		if ctx.Err() != nil {
			s.handler.OnState(Disconnected)
			return
		}

		s.handler.OnState(Connecting)
		conn, err := s.dial()
		if err != nil {
			s.handler.OnTransportError(&apierrors.TransportError{Op: "ws dial", Err: err})
			s.handler.OnState(Reconnecting)
			sleep(ctx, bo.Duration())
			continue
		}
		s.handler.OnState(Handshaking)

		// Gap repair before re-entering Streaming, per spec.md §4.B.
		if err := s.repairGaps(ctx); err != nil {
			log.Printf("market: gap repair failed, continuing with stale state: %v", err)
		}

		bo.Reset()
		s.handler.OnState(Streaming)
		err = s.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			s.handler.OnState(Disconnected)
			return
		}
		if err != nil {
			s.handler.OnTransportError(&apierrors.TransportError{Op: "ws read", Err: err})
		}
		s.handler.OnState(Reconnecting)
		sleep(ctx, bo.Duration())
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *Source) dial() (*websocket.Conn, error) {
	streams := make([]string, 0, len(s.Intervals))
	for _, iv := range s.Intervals {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(s.Symbol), iv))
	}
	url := wsBaseURL + strings.Join(streams, "/")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg combinedMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.handler.OnTransportError(&apierrors.BadMessage{Raw: string(raw), Err: err})
			continue
		}
		var kd klineEventData
		if err := json.Unmarshal(msg.Data, &kd); err != nil {
			s.handler.OnTransportError(&apierrors.BadMessage{Raw: string(msg.Data), Err: err})
			continue
		}

		bar, ok := s.parseBar(kd)
		if !ok {
			continue
		}

		if kd.Kline.IsClosed {
			s.tailOpenTimeMs[bar.Interval] = bar.OpenTimeMs
			bar.Source = types.SourceLive
			s.handler.OnBarEvent(BarEvent{Bar: bar, Preview: false})
		} else {
			bar.Source = types.SourceLive
			s.handler.OnBarEvent(BarEvent{Bar: bar, Preview: true})
		}
	}
}

func (s *Source) parseBar(kd klineEventData) (types.Bar, bool) {
	o, err1 := strconv.ParseFloat(kd.Kline.Open, 64)
	h, err2 := strconv.ParseFloat(kd.Kline.High, 64)
	l, err3 := strconv.ParseFloat(kd.Kline.Low, 64)
	c, err4 := strconv.ParseFloat(kd.Kline.Close, 64)
	v, err5 := strconv.ParseFloat(kd.Kline.Volume, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return types.Bar{}, false
	}
	return types.Bar{
		Symbol: s.Symbol, Interval: kd.Kline.Interval,
		OpenTimeMs: kd.Kline.OpenTimeMs, CloseTimeMs: kd.Kline.CloseTimeMs,
		Open: o, High: h, Low: l, Close: c, Volume: v,
		TradeCount: kd.Kline.TradeCount, Closed: kd.Kline.IsClosed,
	}, true
}

// repairGaps REST-fetches (tail_open_time, now] per interval and replays the
// missing bars as live-commit events, in order, before Streaming resumes.
// Idempotent against the DAO because bars upsert by natural key
// (symbol, interval, open_time).
func (s *Source) repairGaps(ctx context.Context) error {
	for _, interval := range s.Intervals {
		tail, ok := s.tailOpenTimeMs[interval]
		if !ok {
			continue // nothing streamed yet; warmup already covered history
		}

		var lastErr error
		for attempt := 1; attempt <= 3; attempt++ {
			page, err := s.fetchKlinesPage(ctx, interval, 0)
			if err != nil {
				lastErr = err
				continue
			}
			missing := make([]types.Bar, 0, len(page))
			for _, b := range page {
				if b.OpenTimeMs > tail {
					missing = append(missing, b)
				}
			}
			for _, b := range missing {
				b.Source = types.SourceWarmup
				s.handler.OnBarEvent(BarEvent{Bar: b, Preview: false})
				s.tailOpenTimeMs[interval] = b.OpenTimeMs
			}
			lastErr = nil
			break
		}
		if lastErr != nil {
			s.handler.OnGapDetected(&apierrors.GapDetected{Interval: interval, FromOpenTimeMs: tail, Attempt: 3})
			return lastErr
		}
	}
	return nil
}
