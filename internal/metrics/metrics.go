package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	paymentsInitiated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "online_payments_initiated_total",
			Help: "Online payments initiated, by gateway and outcome",
		},
		[]string{"gateway", "outcome"},
	)

	callbacksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "online_payment_callbacks_total",
			Help: "Inbound gateway callbacks, by gateway and outcome",
		},
		[]string{"gateway", "outcome"},
	)

	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "online_payment_transitions_total",
			Help: "Applied online payment status transitions",
		},
		[]string{"gateway", "status"},
	)

	reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "online_payment_reconciliations_total",
			Help: "Invoice reconciliations, by outcome",
		},
		[]string{"outcome"},
	)

	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_request_duration_seconds",
			Help:    "Outbound gateway request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"gateway", "operation", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		paymentsInitiated,
		callbacksReceived,
		statusTransitions,
		reconciliations,
		gatewayRequestDuration,
		httpRequestsTotal,
	)
}

func RecordInitiated(gateway, outcome string) {
	paymentsInitiated.WithLabelValues(gateway, outcome).Inc()
}

func RecordCallback(gateway, outcome string) {
	callbacksReceived.WithLabelValues(gateway, outcome).Inc()
}

func RecordTransition(gateway, status string) {
	statusTransitions.WithLabelValues(gateway, status).Inc()
}

func RecordReconciliation(outcome string) {
	reconciliations.WithLabelValues(outcome).Inc()
}

// ObserveGatewayRequest records one outbound call; httpStatus 0 means the transport failed.
func ObserveGatewayRequest(gateway, operation string, httpStatus int, d time.Duration) {
	status := "error"
	if httpStatus > 0 {
		status = strconv.Itoa(httpStatus)
	}
	gatewayRequestDuration.WithLabelValues(gateway, operation, status).Observe(d.Seconds())
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware counts requests per matched route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
