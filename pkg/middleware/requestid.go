package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/chongs12/learning-rag/pkg/logger"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.New().String()
		}
		c.Set("request_id", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Request.Header.Set("X-Request-ID", rid)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), rid, ""))

		sc := oteltrace.SpanFromContext(c.Request.Context()).SpanContext()
		if sc.TraceID().IsValid() {
			c.Writer.Header().Set("X-Trace-ID", sc.TraceID().String())
		}

		logger.WithFieldsCtx(c.Request.Context(), logrus.Fields{
			"event_type": "request_in",
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		}).Info("incoming request")

		c.Next()

		status := c.Writer.Status()
		st := "success"
		if status >= 400 {
			st = "fail"
		}
		logger.WithFieldsCtx(c.Request.Context(), logrus.Fields{
			"event_type":  "response_out",
			"status_code": status,
			"duration_ms": time.Since(start).Milliseconds(),
			"status":      st,
		}).Info("outgoing response")
	}
}

func InjectUserIDToContext(c *gin.Context, userID string) {
	rid, _ := c.Request.Context().Value(logger.RequestIDKey).(string)
	c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), rid, userID))
}
