package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/voxel-world/internal/logging"
)

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи.
// Служебные эндпоинты (/health, /metrics) опрашиваются скрейперами каждые
// несколько секунд и в логи не попадают.
type RequestLogger struct {
	skip map[string]bool
}

func NewRequestLogger() *RequestLogger {
	return &RequestLogger{
		skip: map[string]bool{
			"/health":  true,
			"/metrics": true,
		},
	}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Пытаемся извлечь trace-id из OpenTelemetry, если уже создан.
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if rl.skip[path] {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		logging.Debug("[HTTP] ▶ %s %s ip=%s trace=%s", method, path, clientIP, traceID)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		size := c.Writer.Size()
		if status >= 500 {
			logging.Warn("[HTTP] ◀ %s %s %d %dB %s trace=%s", method, path, status, size, latency, traceID)
		} else {
			logging.Debug("[HTTP] ◀ %s %s %d %dB %s trace=%s", method, path, status, size, latency, traceID)
		}
	}
}
