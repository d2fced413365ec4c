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
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shipyard",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shipyard",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shipyard",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	roundsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shipyard",
			Subsystem: "ledger",
			Name:      "rounds_created_total",
			Help:      "Total number of rounds created.",
		},
	)

	budgetCredited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shipyard",
			Subsystem: "ledger",
			Name:      "budget_credited_units_total",
			Help:      "Smallest currency units credited to round budgets.",
		},
	)

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shipyard",
			Subsystem: "ledger",
			Name:      "decisions_total",
			Help:      "Allocation decisions by outcome.",
		},
		[]string{"outcome"},
	)

	payouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shipyard",
			Subsystem: "distribution",
			Name:      "payouts_total",
			Help:      "Payout attempts by result.",
		},
		[]string{"result"},
	)

	payoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "shipyard",
			Subsystem: "distribution",
			Name:      "payout_duration_seconds",
			Help:      "Duration of outbound payment calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	netPaid = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shipyard",
			Subsystem: "distribution",
			Name:      "net_paid_units_total",
			Help:      "Smallest currency units paid out to recipients.",
		},
	)

	fundings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shipyard",
			Subsystem: "funding",
			Name:      "verifications_total",
			Help:      "Funding verifications by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		roundsCreated,
		budgetCredited,
		decisions,
		payouts,
		payoutDuration,
		netPaid,
		fundings,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InFlight adjusts the in-flight request gauge by delta.
func InFlight(delta float64) {
	httpInFlight.Add(delta)
}

// RecordHTTPRequest records one served request. path should be a route
// template so label cardinality stays bounded.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if path == "" {
		path = "unmatched"
	}
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRoundCreated counts a new round.
func RecordRoundCreated() {
	roundsCreated.Inc()
}

// RecordBudgetCredit counts units added to a round budget.
func RecordBudgetCredit(units uint64) {
	budgetCredited.Add(float64(units))
}

// RecordDecision counts an allocation decision; outcome is approved, rejected
// or refused.
func RecordDecision(outcome string) {
	decisions.WithLabelValues(outcome).Inc()
}

// RecordPayout records one payment attempt.
func RecordPayout(success bool, net uint64, duration time.Duration) {
	result := "failed"
	if success {
		result = "succeeded"
		netPaid.Add(float64(net))
	}
	payouts.WithLabelValues(result).Inc()
	payoutDuration.Observe(duration.Seconds())
}

// RecordFunding records a funding verification outcome.
func RecordFunding(result string) {
	if result == "" {
		result = "unknown"
	}
	fundings.WithLabelValues(result).Inc()
}
