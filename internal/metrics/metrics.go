package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jansgame_cycles_total",
			Help: "Total number of poll cycles",
		},
		[]string{"status"}, // ok, degraded, timeout
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jansgame_cycle_duration_seconds",
			Help:    "Duration of poll cycles",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	// Round state
	CurrentRoundID = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jansgame_current_round_id",
			Help: "Round id observed in the last cycle",
		},
	)

	RoundPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jansgame_round_phase",
			Help: "1 for the phase observed in the last cycle, 0 otherwise",
		},
		[]string{"phase"},
	)

	RoundChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jansgame_round_changes_total",
			Help: "Total number of observed round id changes",
		},
	)

	// RPC metrics
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jansgame_rpc_requests_total",
			Help: "Total number of JSON-RPC requests",
		},
		[]string{"method", "status"}, // eth_call/eth_getLogs, success/error
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jansgame_rpc_request_duration_seconds",
			Help:    "Duration of JSON-RPC requests",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// Price feed metrics
	PriceFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jansgame_price_fetches_total",
			Help: "Total number of price fetches",
		},
		[]string{"feed", "status"}, // coingecko/router/lp, success/unavailable/cache_hit
	)

	// Event log metrics
	EventsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jansgame_ticket_events_fetched_total",
			Help: "Total number of new TicketPurchased events merged",
		},
	)

	LogBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jansgame_log_batches_total",
			Help: "Total number of eth_getLogs batches",
		},
		[]string{"status"},
	)

	// Signed transactions
	Transactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jansgame_transactions_total",
			Help: "Total number of submitted contract transactions",
		},
		[]string{"method", "status"}, // success/reverted/error
	)

	// Alert metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jansgame_alerts_sent_total",
			Help: "Total number of notifications sent",
		},
		[]string{"status", "kind"},
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jansgame_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	// HTTP API
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jansgame_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "code"},
	)

	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jansgame_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"}, // healthy/unhealthy
	)
)

// RecordCycle records poll cycle metrics
func RecordCycle(duration time.Duration, status string) {
	CyclesTotal.WithLabelValues(status).Inc()
	CycleDuration.Observe(duration.Seconds())
}

// RecordRound records the observed round id and phase
func RecordRound(roundID uint64, phase string, phases []string) {
	CurrentRoundID.Set(float64(roundID))
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1.0
		}
		RoundPhase.WithLabelValues(p).Set(v)
	}
}

// RecordRPC records JSON-RPC request metrics
func RecordRPC(method string, duration time.Duration, err error) {
	RPCRequests.WithLabelValues(method, statusLabel(err)).Inc()
	RPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordPriceFetch records a price feed outcome
func RecordPriceFetch(feed, status string) {
	PriceFetches.WithLabelValues(feed, status).Inc()
}

// RecordLogBatch records one eth_getLogs batch
func RecordLogBatch(err error) {
	LogBatches.WithLabelValues(statusLabel(err)).Inc()
}

// RecordTransaction records the outcome of one signed transaction
func RecordTransaction(method, status string) {
	Transactions.WithLabelValues(method, status).Inc()
}

// RecordAlert records a notification send
func RecordAlert(kind string, err error) {
	AlertsSent.WithLabelValues(statusLabel(err), kind).Inc()
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(operation string, err error) {
	DatabaseQueries.WithLabelValues(operation, statusLabel(err)).Inc()
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
