package middleware

import (
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/metrics"
	"github.com/frostdev-ops/pma-sensor-core/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LoggingMiddleware logs every request through the batch logger and
// records request metrics. Routes are reported by their pattern.
func LoggingMiddleware(log *logger.BatchLogger, collector *metrics.PrometheusCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()

		collector.RecordHTTPRequest(c.Request.Method, path, status, latency)

		fields := logrus.Fields{
			"client_ip":  c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
			"raw_path":   c.Request.URL.Path,
		}
		if len(c.Errors) > 0 {
			fields["error_message"] = c.Errors.String()
		}
		log.LogRequest(c.Request.Method, path, status, latency, fields)
	}
}
