package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	settlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlements_total",
			Help: "Settlement attempts by disposition and result",
		},
		[]string{"disposition", "result"},
	)

	settlementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_duration_seconds",
			Help:    "Time spent inside the settlement transaction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"disposition"},
	)

	notificationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_notification_failures_total",
			Help: "Post-commit notifications that could not be delivered",
		},
		[]string{"kind"},
	)

	approvalDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_decisions_total",
			Help: "Approval attempts by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	inconsistenciesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciliation_inconsistencies",
			Help: "Inconsistent bookings found by the last reconciliation run",
		},
	)

	orphanedPaymentsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciliation_orphaned_payments",
			Help: "Orphaned payments found by the last reconciliation run",
		},
	)

	remindersSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reminders_sent_total",
			Help: "Payment reminders sent by tier",
		},
		[]string{"reminder_type"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		settlementsTotal,
		settlementDuration,
		notificationFailuresTotal,
		approvalDecisionsTotal,
		inconsistenciesGauge,
		orphanedPaymentsGauge,
		remindersSentTotal,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, endpoint, status string, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(seconds)
}

// RecordSettlement counts one Settle call. result is "ok", "duplicate" or an
// error kind string.
func RecordSettlement(disposition, result string, seconds float64) {
	settlementsTotal.WithLabelValues(disposition, result).Inc()
	settlementDuration.WithLabelValues(disposition).Observe(seconds)
}

func RecordNotificationFailure(kind string) {
	notificationFailuresTotal.WithLabelValues(kind).Inc()
}

func RecordApprovalDecision(action, outcome string) {
	approvalDecisionsTotal.WithLabelValues(action, outcome).Inc()
}

func SetReconciliationResult(inconsistencies, orphans int) {
	inconsistenciesGauge.Set(float64(inconsistencies))
	orphanedPaymentsGauge.Set(float64(orphans))
}

func RecordReminderSent(reminderType string) {
	remindersSentTotal.WithLabelValues(reminderType).Inc()
}
