package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	auditcontext "github.com/smallbiznis/dripflow/internal/auditcontext"
	obscontext "github.com/smallbiznis/dripflow/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

const requestIDKey = "request_id"

// GinMiddleware stamps every request with a request id, threads correlation
// identifiers through the context, and emits one structured log line per
// request after the handler chain finishes.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		ctx = auditcontext.WithRequestID(ctx, requestID)
		ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())
		ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := strings.TrimSpace(c.FullPath())
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()

		fields := requestFields(c, route, status, time.Since(start))
		errorType := ""
		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		log := FromContext(c.Request.Context())
		if log == nil {
			return
		}
		switch requestLogLevel(route, status, errorType) {
		case zapcore.DebugLevel:
			log.Debug("http_request", fields...)
		case zapcore.ErrorLevel:
			log.Error("http_request", fields...)
		default:
			log.Info("http_request", fields...)
		}
	}
}

func requestFields(c *gin.Context, route string, status int, elapsed time.Duration) []zap.Field {
	bytesIn := c.Request.ContentLength
	if bytesIn < 0 {
		bytesIn = 0
	}
	bytesOut := c.Writer.Size()
	if bytesOut < 0 {
		bytesOut = 0
	}
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("route", route),
		zap.Int("status", status),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.Int64("bytes_in", bytesIn),
		zap.Int("bytes_out", bytesOut),
	}
	if provider := strings.TrimSpace(c.GetString("gateway_provider")); provider != "" {
		fields = append(fields, zap.String("gateway_provider", provider))
	}
	return fields
}

// requestLogLevel demotes scrape traffic and malformed webhook payloads to
// debug. Providers replay bad payloads aggressively, so 4xx validation noise
// on the ingest route must not flood the error stream.
func requestLogLevel(route string, status int, errorType string) zapcore.Level {
	if strings.EqualFold(route, "/metrics") {
		return zapcore.DebugLevel
	}
	if strings.EqualFold(route, "/webhooks/payments/:provider") &&
		status >= http.StatusBadRequest && status < http.StatusInternalServerError &&
		errorType == "validation_error" {
		return zapcore.DebugLevel
	}
	if status >= http.StatusInternalServerError {
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

func ensureRequestID(c *gin.Context) string {
	candidates := []string{
		c.GetHeader("X-Request-Id"),
		c.GetHeader("X-Request-ID"),
		c.GetString(requestIDKey),
	}
	requestID := ""
	for _, candidate := range candidates {
		if v := strings.TrimSpace(candidate); v != "" {
			requestID = v
			break
		}
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.Set(requestIDKey, requestID)
	c.Header("X-Request-Id", requestID)
	return requestID
}
