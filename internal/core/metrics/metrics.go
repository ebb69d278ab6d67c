package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ipnVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipn_verifications_total",
			Help: "IPN verification attempts by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	paymentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Payment decisions by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	accountActivationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "account_activations_total",
			Help: "Accounts activated by an approved payment",
		},
	)

	outboxDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_deliveries_total",
			Help: "Outbox relay results",
		},
		[]string{"event_type", "result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(ipnVerificationsTotal)
	prometheus.MustRegister(paymentTransitionsTotal)
	prometheus.MustRegister(accountActivationsTotal)
	prometheus.MustRegister(outboxDeliveriesTotal)
}

// ObserveHTTP records one finished request.
func ObserveHTTP(method, route, status string, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordIPN records a verification. strategy is empty when no strategy applied.
func RecordIPN(strategy string, ok bool) {
	if strategy == "" {
		strategy = "none"
	}
	result := "rejected"
	if ok {
		result = "accepted"
	}
	ipnVerificationsTotal.WithLabelValues(strategy, result).Inc()
}

// RecordTransition outcome is one of applied, noop, invalid, not_found, error.
func RecordTransition(event, outcome string) {
	paymentTransitionsTotal.WithLabelValues(event, outcome).Inc()
}

func RecordActivation() {
	accountActivationsTotal.Inc()
}

// RecordOutbox result is one of sent, retry, failed.
func RecordOutbox(eventType, result string) {
	outboxDeliveriesTotal.WithLabelValues(eventType, result).Inc()
}
