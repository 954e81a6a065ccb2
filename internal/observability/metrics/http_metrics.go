package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics exposes request-level instruments for the HTTP server.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewHTTPMetrics configures the HTTP instruments.
func NewHTTPMetrics(cfg Config, provider metric.MeterProvider) (*HTTPMetrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "atrium"
	}
	meter := provider.Meter(name)

	requests, err := meter.Int64Counter("atrium_http_requests_total")
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"atrium_http_request_duration_seconds",
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requests: requests,
		duration: duration,
	}, nil
}

// Record captures one request observation.
func (m *HTTPMetrics) Record(c *gin.Context, elapsed time.Duration) {
	if m == nil || c == nil {
		return
	}
	route := strings.TrimSpace(c.FullPath())
	if route == "" {
		route = "unknown"
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", route),
		attribute.String("status_code", strconv.Itoa(c.Writer.Status())),
	)
	opts := metric.WithAttributes(attrs...)
	m.requests.Add(c.Request.Context(), 1, opts)
	m.duration.Record(c.Request.Context(), elapsed.Seconds(), opts)
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.Record(c, time.Since(start))
	}
}
