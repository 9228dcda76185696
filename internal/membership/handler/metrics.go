package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	otpIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "membership_otp_issued_total",
		Help: "OTP challenges issued by channel and outcome.",
	}, []string{"channel", "outcome"})

	otpVerifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "membership_otp_verified_total",
		Help: "OTP verification attempts by channel and outcome.",
	}, []string{"channel", "outcome"})

	gatewayProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "membership_gateway_probes_total",
		Help: "SMS gateway connectivity probes by result.",
	}, []string{"result"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "membership_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "membership_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		requestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// RegisterMetricsEndpoint mounts /metrics on the router.
func RegisterMetricsEndpoint(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func recordIssue(channel, outcome string) {
	otpIssuedTotal.WithLabelValues(channel, outcome).Inc()
}

func recordVerify(channel, outcome string) {
	otpVerifiedTotal.WithLabelValues(channel, outcome).Inc()
}

func recordGatewayProbe(result string) {
	gatewayProbesTotal.WithLabelValues(result).Inc()
}
