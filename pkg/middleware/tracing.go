package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Trace opens one server span per request so downstream instrumentation
// (otelgorm) attaches to it.
func Trace() gin.HandlerFunc {
	tracer := otel.Tracer("sendloop-engine/http")
	return func(c *gin.Context) {
		ctx, span := tracer.Start(
			c.Request.Context(),
			c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
