package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests by method and path",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpActiveRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests by method and path",
		},
		[]string{"method", "path"},
	)
)

// HTTPMetrics provides methods to update HTTP-related metrics
type HTTPMetrics struct{}

// NewHTTPMetrics creates a new instance of HTTPMetrics
func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{}
}

// Middleware returns an Echo middleware for HTTP metrics collection
func (hm *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return echo.MiddlewareFunc(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if hm == nil || c.Path() == "/healthz" {
				return next(c)
			}

			start := time.Now()
			method := c.Request().Method
			path := c.Path()

			httpActiveRequests.WithLabelValues(method, path).Inc()
			defer httpActiveRequests.WithLabelValues(method, path).Dec()

			err := next(c)

			duration := time.Since(start).Seconds()
			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}
			statusCode := strconv.Itoa(status)

			httpRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
			httpRequestDuration.WithLabelValues(method, path).Observe(duration)

			return err
		}
	})
}
