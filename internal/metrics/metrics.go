package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application collectors served at /metrics.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afterschool",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "afterschool",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	txRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "afterschool",
			Subsystem: "database",
			Name:      "tx_retries_total",
			Help:      "Transactions retried after lock contention.",
		},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afterschool",
			Subsystem: "economy",
			Name:      "orders_total",
			Help:      "Orders fulfilled, by source.",
		},
		[]string{"source"},
	)

	points = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afterschool",
			Subsystem: "economy",
			Name:      "points_total",
			Help:      "Points moved through the ledger, by direction.",
		},
		[]string{"direction"},
	)

	spins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afterschool",
			Subsystem: "economy",
			Name:      "spins_total",
			Help:      "Lottery spins, by prize type and whether the guarantee fired.",
		},
		[]string{"prize_type", "guarantee"},
	)

	lotSettlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afterschool",
			Subsystem: "economy",
			Name:      "lot_settlements_total",
			Help:      "Auction lot settlements, by outcome.",
		},
		[]string{"status"},
	)

	bountyTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afterschool",
			Subsystem: "economy",
			Name:      "bounty_transitions_total",
			Help:      "Bounty task state transitions, by resulting status.",
		},
		[]string{"status"},
	)

	idempotentReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "afterschool",
			Subsystem: "economy",
			Name:      "idempotent_replays_total",
			Help:      "Retried writes answered from a stored result.",
		},
		[]string{"operation"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		txRetries,
		orders,
		points,
		spins,
		lotSettlements,
		bountyTransitions,
		idempotentReplays,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request count and latency collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

func RecordTxRetry() {
	txRetries.Inc()
}

func RecordOrder(source string) {
	orders.WithLabelValues(source).Inc()
}

// RecordPoints counts a ledger movement under "credit" or "debit". Zero-point
// entries are not counted.
func RecordPoints(change int64) {
	switch {
	case change > 0:
		points.WithLabelValues("credit").Add(float64(change))
	case change < 0:
		points.WithLabelValues("debit").Add(float64(-change))
	}
}

func RecordSpin(prizeType string, guarantee bool) {
	spins.WithLabelValues(prizeType, strconv.FormatBool(guarantee)).Inc()
}

func RecordLotSettlement(status string) {
	lotSettlements.WithLabelValues(status).Inc()
}

func RecordBountyTransition(status string) {
	bountyTransitions.WithLabelValues(status).Inc()
}

func RecordReplay(operation string) {
	idempotentReplays.WithLabelValues(operation).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// websocket upgrade needs for hijacking.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// canonicalPath collapses numeric path segments so ids do not explode label
// cardinality: /api/auction/lots/12/bids becomes /api/auction/lots/:id/bids.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
