package tracing

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	ierr "github.com/smallbiznis/payflow/internal/errors"
	obscontext "github.com/smallbiznis/payflow/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request and names it after the
// payment route. Payment id, action and webhook provider come from the route
// params; failed requests carry the error code the client saw.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("payflow/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		method := strings.ToUpper(c.Request.Method)
		ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		ctx = withRequestBaggage(ctx, span)

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + method + " " + route)
		attrs := append(routeAttributes(c),
			attribute.String("http.method", method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)

		var lastErr error
		if last := c.Errors.Last(); last != nil {
			lastErr = last.Err
		}
		if status >= http.StatusBadRequest && lastErr != nil {
			attrs = append(attrs, attribute.String("payment.error_code", ierr.Code(lastErr)))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		// 4xx are the client's problem and leave the span status alone
		if status >= http.StatusInternalServerError {
			if safeErr := SafeError(lastErr); safeErr != nil {
				span.RecordError(safeErr)
			}
			span.SetStatus(codes.Error, "request error")
		}
		span.End()
	}
}

func withRequestBaggage(ctx context.Context, span trace.Span) context.Context {
	requestID := obscontext.RequestIDFromContext(ctx)
	if requestID == "" {
		return ctx
	}
	span.SetAttributes(attribute.String("request_id", requestID))
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

func routeAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := strings.TrimSpace(c.Param("id")); id != "" {
		attrs = append(attrs, attribute.String("payment.id", id))
	}
	if action := c.Param("action"); action != "" {
		attrs = append(attrs, attribute.String("payment.action", strings.ToLower(action)))
	}
	if provider := c.Param("provider"); provider != "" {
		attrs = append(attrs, attribute.String("webhook.provider", strings.ToLower(provider)))
	}
	return attrs
}
