package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger emits one structured log line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if tenant := TenantID(c); tenant != "" {
			fields = append(fields, zap.String("tenant_id", tenant))
		}

		if c.Writer.Status() >= 500 {
			zap.L().Error("http.request", fields...)
			return
		}
		zap.L().Info("http.request", fields...)
	}
}
