// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qrattend",
		Name:      "admissions_total",
		Help:      "Attendance submissions by outcome.",
	}, []string{"outcome"})

	otpSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qrattend",
		Name:      "otp_sends_total",
		Help:      "OTP emails by result.",
	}, []string{"result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qrattend",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// ObserveAdmission counts one admission attempt.
func ObserveAdmission(outcome string) {
	admissions.WithLabelValues(outcome).Inc()
}

// ObserveOTPSend counts one OTP dispatch.
func ObserveOTPSend(ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	otpSends.WithLabelValues(result).Inc()
}

// GinMiddleware records request latency keyed by the matched route pattern.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
