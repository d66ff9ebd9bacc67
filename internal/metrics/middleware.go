package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTP outcomes. Entitlement denials are expected traffic and tracked apart from errors.
const (
	OutcomeOK          = "ok"
	OutcomeDenied      = "denied"      // 402: quota, trial or access denial
	OutcomeInFlight    = "in_flight"   // 409: trial already running for the control
	OutcomeLimited     = "rate_limited"
	OutcomeClientError = "client_error"
	OutcomeServerError = "server_error"
)

var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "entitled",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds by route and outcome",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "outcome"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entitled",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route and outcome",
		},
		[]string{"method", "route", "outcome"},
	)
)

// Middleware records request duration and count, labelled by chi route pattern.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			outcome := Outcome(ww.Status())

			httpRequestDuration.WithLabelValues(r.Method, route, outcome).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(r.Method, route, outcome).Inc()
		})
	}
}

// Outcome buckets an HTTP status. Zero means the handler never wrote a header.
func Outcome(status int) string {
	switch {
	case status == 0 || status < 400:
		return OutcomeOK
	case status == http.StatusPaymentRequired:
		return OutcomeDenied
	case status == http.StatusConflict:
		return OutcomeInFlight
	case status == http.StatusTooManyRequests:
		return OutcomeLimited
	case status < 500:
		return OutcomeClientError
	default:
		return OutcomeServerError
	}
}
