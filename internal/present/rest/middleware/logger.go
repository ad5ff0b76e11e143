package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/appforge/internal/domain"
)

// RequestID propagates the caller's request id, or a generated one, through
// the request context, the response header and the active span.
func RequestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		requestID := req.Header.Get(domain.RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Response().Header().Set(domain.RequestIDHeader, requestID)

		ctx := context.WithValue(req.Context(), domain.RequestIDCtxKey, requestID)
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("RequestId", requestID))

		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

// AccessLog writes one structured line per request.
func AccessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		req := c.Request()
		res := c.Response()
		requestID, _ := req.Context().Value(domain.RequestIDCtxKey).(string)

		event := log.Info()
		if res.Status >= 500 {
			event = log.Error()
		}
		event.
			Str("module", "http").
			Str("requestId", requestID).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", res.Status).
			Dur("latency", time.Since(start)).
			Msg("request")
		return nil
	}
}
