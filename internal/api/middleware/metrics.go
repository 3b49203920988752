// Package middleware provides Echo middleware for the AutoMarket storefront
// and its mock backend.
package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/donaldgifford/automarket/internal/metrics"
)

// metricsSkipPaths defines URL paths excluded from HTTP request metrics.
var metricsSkipPaths = map[string]struct{}{
	"/metrics": {},
	"/healthz": {},
	"/readyz":  {},
}

const staticPrefix = "/static/"

// Metrics returns Echo middleware that records request duration and status,
// labelled by route template. Requests that matched no route share the
// "unmatched" label.
func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().URL.Path
			if _, skip := metricsSkipPaths[raw]; skip || strings.HasPrefix(raw, staticPrefix) {
				return next(c)
			}

			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
				err = nil
			}

			path := c.Path()
			if path == "" || path == "/*" {
				path = "unmatched"
			}

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			method := c.Request().Method

			metrics.HTTPRequestDuration.
				WithLabelValues(method, path, status).
				Observe(duration)
			metrics.HTTPRequestsTotal.
				WithLabelValues(method, path, status).
				Inc()

			return err
		}
	}
}
