package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oraclebot",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "oraclebot",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "oraclebot",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Poll loop metrics ──────────────────────────────────────────────────

var (
	PollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oraclebot",
		Subsystem: "poll",
		Name:      "total",
		Help:      "Total number of poll cycles per bot.",
	}, []string{"bot", "status"})

	PollErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oraclebot",
		Subsystem: "poll",
		Name:      "errors_total",
		Help:      "Poll cycle failures per bot and error kind.",
	}, []string{"bot", "kind"})

	PriceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "oraclebot",
		Subsystem: "poll",
		Name:      "price_duration_seconds",
		Help:      "Duration of the oracle price computation per bot in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"bot"})

	PollLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "oraclebot",
		Subsystem: "poll",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last successful price update per bot.",
	}, []string{"bot"})

	Price = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "oraclebot",
		Subsystem: "poll",
		Name:      "price",
		Help:      "Last displayed price per bot.",
	}, []string{"bot"})
)

// ── Oracle metrics ─────────────────────────────────────────────────────

var (
	OracleCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oraclebot",
		Subsystem: "oracle",
		Name:      "calls_total",
		Help:      "Contract reads per method and outcome.",
	}, []string{"method", "status"})

	ABIFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oraclebot",
		Subsystem: "oracle",
		Name:      "abi_fetch_total",
		Help:      "Block explorer ABI fetches per outcome.",
	}, []string{"status"})
)

// ── Presence and watchdog metrics ──────────────────────────────────────

var (
	PresenceUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oraclebot",
		Subsystem: "presence",
		Name:      "updates_total",
		Help:      "Chat platform mutations per bot, kind and outcome.",
	}, []string{"bot", "kind", "status"})

	WatchdogState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "oraclebot",
		Subsystem: "watchdog",
		Name:      "state",
		Help:      "Watchdog state per bot (0 healthy, 1 degraded, 2 fatal).",
	}, []string{"bot"})

	StaleAlarmsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oraclebot",
		Subsystem: "watchdog",
		Name:      "stale_alarms_total",
		Help:      "Stale-data presence pushes issued per bot.",
	}, []string{"bot"})

	StalenessSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "oraclebot",
		Subsystem: "watchdog",
		Name:      "staleness_seconds",
		Help:      "Seconds since the last successful update, as of the latest check.",
	}, []string{"bot"})
)
