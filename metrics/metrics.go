// Package metrics exports Prometheus collectors for the ledger and the HTTP
// layer. Collectors register with the default registry on init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/loyalty-engine/ledger"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loyalty_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	LedgerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_ledger_operations_total",
			Help: "Ledger operations by outcome (ok or error kind)",
		},
		[]string{"op", "outcome"},
	)

	PointsAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_points_awarded_total",
			Help: "Points credited to accounts by transaction kind",
		},
		[]string{"kind"},
	)

	PointsRedeemedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_points_redeemed_total",
			Help: "Points debited from accounts by transaction kind",
		},
		[]string{"kind"},
	)

	ThrottledRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_throttled_requests_total",
			Help: "Write requests rejected by the throttle",
		},
	)

	BalanceDriftAccounts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "loyalty_balance_drift_accounts",
			Help: "Accounts whose stored balance differs from the ledger replay at the last audit",
		},
	)

	BalanceAuditsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_balance_audits_total",
			Help: "Completed balance audit runs",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// ObserveOperation counts one engine call, labelled "ok" or by error kind.
func ObserveOperation(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(ledger.KindOf(err))
	}
	LedgerOperationsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordTransaction counts the balance movement of a committed row. Rows
// whose effect is zero (suspicious, pending) are not counted.
func RecordTransaction(tx *ledger.Transaction) {
	effect := tx.Effect()
	switch {
	case effect > 0:
		PointsAwardedTotal.WithLabelValues(string(tx.Kind)).Add(float64(effect))
	case effect < 0:
		PointsRedeemedTotal.WithLabelValues(string(tx.Kind)).Add(float64(-effect))
	}
}

func RecordThrottled() {
	ThrottledRequestsTotal.Inc()
}

func RecordAudit(drifted int) {
	BalanceAuditsTotal.Inc()
	BalanceDriftAccounts.Set(float64(drifted))
}
