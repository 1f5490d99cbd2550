package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"rideledger/internal/metrics"
)

// Metrics records request rate, errors and duration per route.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		statusStr := strconv.Itoa(status)
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		m.HTTPRequests.WithLabelValues(method, path, statusStr).Inc()
		if status >= 400 && status < 500 {
			m.HTTPErrors.WithLabelValues(method, path, statusStr, "client").Inc()
		} else if status >= 500 {
			m.HTTPErrors.WithLabelValues(method, path, statusStr, "server").Inc()
		}
		m.HTTPDuration.WithLabelValues(method, path, statusStr).Observe(time.Since(start).Seconds())
	}
}
