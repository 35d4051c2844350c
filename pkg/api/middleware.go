package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/recallmesh/recallmesh/pkg/observability"
)

// RequestLogger logs every request with latency and status.
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	logger = logger.WithPrefix("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := map[string]interface{}{
			"method":  c.Request.Method,
			"path":    path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
			logger.Error("request failed", fields)
			return
		}
		logger.Info("request", fields)
	}
}

// MetricsMiddleware records request counts and latency per route.
func MetricsMiddleware(metrics observability.MetricsClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordCounter("http_requests_total", 1, map[string]string{
			"route":  route,
			"method": c.Request.Method,
			"status": strconv.Itoa(c.Writer.Status()),
		})
		metrics.RecordHistogram("http_request_duration_seconds",
			time.Since(start).Seconds(), map[string]string{"route": route})
	}
}
