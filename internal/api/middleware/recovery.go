package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"

	"github.com/labstack/echo/v4"
)

// Recovery returns Echo middleware that recovers from panics, logs the stack
// trace and answers 500. JSON clients get a JSON body, browsers a plain page.
func Recovery(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)

					log.Error("panic recovered",
						"error", fmt.Sprint(r),
						"method", c.Request().Method,
						"path", c.Request().URL.Path,
						"request_id", c.Get("request_id"),
						"stack", string(buf[:n]),
					)

					if wantsJSON(c.Request()) {
						err = c.JSON(http.StatusInternalServerError, map[string]string{
							"error": "internal server error",
						})
						return
					}
					err = c.HTML(http.StatusInternalServerError,
						"<h1>Something went wrong</h1><p>internal server error</p>")
				}
			}()
			return next(c)
		}
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON) ||
		strings.HasPrefix(r.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
}
