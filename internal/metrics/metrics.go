// Package metrics exposes Prometheus metrics for observability, carried as
// ambient infrastructure regardless of spec.md's HTTP-surface Non-goals
// (structured observability is part of the teacher's stack, not a scoped
// feature).
//
// Grounded on chidi150c-coinbase/metrics.go: package-level collectors
// registered once via prometheus.MustRegister in init(), plus small setter
// helpers, generalized from a single-symbol paper bot's order/decision
// metrics into this engine's bar-ingest/indicator/matcher/fan-out/storage
// pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BarIngestLagMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "papertrade_bar_ingest_lag_ms",
			Help:    "Milliseconds between a bar's close time and when the pipeline committed it.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		},
		[]string{"interval"},
	)

	IndicatorCommitLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "papertrade_indicator_commit_latency_ms",
			Help:    "Time to commit one indicator engine snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"strategy", "interval"},
	)

	MatcherFillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrade_matcher_fills_total",
			Help: "Fills executed by the simulated matcher.",
		},
		[]string{"strategy", "kind", "reason"},
	)

	MatcherRealizedPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "papertrade_matcher_realized_pnl_cumulative",
			Help: "Cumulative realized PnL per strategy (can decrease).",
		},
		[]string{"strategy"},
	)

	FanoutQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "papertrade_fanout_queue_depth",
			Help: "Current depth of a subscriber's queue.",
		},
		[]string{"subscriber", "queue"},
	)

	FanoutDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrade_fanout_drops_total",
			Help: "Frames dropped by fan-out backpressure.",
		},
		[]string{"queue"},
	)

	StorageWriteLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "papertrade_storage_write_latency_ms",
			Help:    "Latency of one DAO write, by operation.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"op"},
	)

	StorageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrade_storage_errors_total",
			Help: "DAO write/read failures, by operation.",
		},
		[]string{"op"},
	)

	MarketConnState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "papertrade_market_conn_state",
			Help: "1 for the market source's current connection state, 0 otherwise.",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(
		BarIngestLagMs,
		IndicatorCommitLatencyMs,
		MatcherFillsTotal,
		MatcherRealizedPnL,
		FanoutQueueDepth,
		FanoutDropsTotal,
		StorageWriteLatencyMs,
		StorageErrorsTotal,
		MarketConnState,
	)
}
