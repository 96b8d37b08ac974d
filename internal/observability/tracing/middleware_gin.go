package tracing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/dripflow/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request, propagating any inbound
// trace context and carrying the request id as baggage.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("dripflow/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx,
			"HTTP "+strings.ToUpper(c.Request.Method),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		ctx = attachRequestID(ctx, span)

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		finishSpan(c, span, start)
	}
}

func attachRequestID(ctx context.Context, span trace.Span) context.Context {
	requestID := obscontext.RequestIDFromContext(ctx)
	if requestID == "" {
		return ctx
	}
	span.SetAttributes(attribute.String("request_id", requestID))
	if member, err := baggage.NewMember("request_id", requestID); err == nil {
		if bag, err := baggage.New(member); err == nil {
			ctx = baggage.ContextWithBaggage(ctx, bag)
		}
	}
	return ctx
}

func finishSpan(c *gin.Context, span trace.Span, start time.Time) {
	defer span.End()

	route := c.FullPath()
	if route == "" {
		route = "unknown"
	}
	span.SetName("HTTP " + strings.ToUpper(c.Request.Method) + " " + route)
	span.SetAttributes(SafeAttributes(
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", c.Writer.Status()),
		attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
	)...)

	if c.Writer.Status() < http.StatusInternalServerError {
		return
	}
	if lastErr := c.Errors.Last(); lastErr != nil {
		if safeErr := SafeError(lastErr.Err); safeErr != nil {
			span.RecordError(safeErr)
		}
	}
	span.SetStatus(codes.Error, "request error")
}
