package middleware

import (
	"log"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/raid177/supportdesk/metrics"
)

// Logger создаёт middleware для логирования HTTP запросов и сбора метрик
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		method := c.Request.Method
		uri := c.Request.RequestURI
		status := c.Writer.Status()
		clientIP := c.ClientIP()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(latency.Seconds())

		log.Printf("[HTTP] %3d | %13v | %15s | %-7s %s", status, latency, clientIP, method, uri)
	}
}
