package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/donaldgifford/automarket/internal/api/client"
)

const requestIDHeader = "X-Request-ID"

// probePaths are logged once on first success and on every failure.
var probePaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
}

// RequestLog returns Echo middleware that logs requests with structured fields.
// It generates a request ID if none is provided and propagates it through the
// response header, the echo context and the request context, where the
// backend client picks it up for outbound calls.
func RequestLog(log *slog.Logger) echo.MiddlewareFunc {
	var seen sync.Map // probe path -> struct{}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			req := c.Request()
			reqID := req.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}

			c.Set("request_id", reqID)
			c.Response().Header().Set(requestIDHeader, reqID)
			c.SetRequest(req.WithContext(client.ContextWithRequestID(req.Context(), reqID)))

			err := next(c)
			if err != nil {
				// Let echo's error handler write the status before logging it.
				c.Error(err)
				err = nil
			}

			path := req.URL.Path
			status := c.Response().Status

			if _, probe := probePaths[path]; probe && status < http.StatusBadRequest {
				if _, loaded := seen.LoadOrStore(path, struct{}{}); loaded {
					return nil
				}
			}

			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			log.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", path,
				"route", c.Path(),
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", reqID,
			)

			return err
		}
	}
}
