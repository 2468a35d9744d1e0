package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline metrics
var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_runs_total",
			Help: "Total run requests",
		},
		[]string{"result"},
	)

	StageStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_stage_starts_total",
			Help: "Total stage process launches",
		},
		[]string{"stage", "result"},
	)

	StageExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_stage_exits_total",
			Help: "Total stage process exits",
		},
		[]string{"stage", "outcome"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recon_stage_duration_seconds",
			Help:    "Time a stage process was running",
			Buckets: []float64{0.1, 1, 10, 60, 300, 900, 3600},
		},
		[]string{"stage"},
	)

	SessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recon_session_active",
			Help: "1 when a session with a working folder is active",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recon_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		RunsTotal,
		StageStartsTotal,
		StageExitsTotal,
		StageDuration,
		SessionActive,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware returns Echo middleware that instruments HTTP requests.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				path,
				strconv.Itoa(status),
			).Inc()
			HTTPRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
