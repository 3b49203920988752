package gating

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/donaldgifford/automarket/internal/session"
)

// StateKey is the echo context key holding the session.State a guarded
// handler was admitted with.
const StateKey = "session"

// Guard applies rules to echo routes.
type Guard struct {
	// State returns the session to check. It may block briefly while a
	// derivation finishes.
	State func(ctx context.Context) session.State
	// Loading renders the placeholder shown while the session is derived.
	Loading echo.HandlerFunc
	// Forbidden renders the 403 view.
	Forbidden echo.HandlerFunc
}

// Require returns middleware enforcing rule.
func (g *Guard) Require(rule Rule) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			st := g.State(c.Request().Context())
			c.Set(StateKey, st)

			switch rule.Decide(st) {
			case Allowed:
				return next(c)
			case Loading:
				if g.Loading != nil {
					return g.Loading(c)
				}
				return c.NoContent(http.StatusServiceUnavailable)
			case Forbidden:
				if g.Forbidden != nil {
					return g.Forbidden(c)
				}
				return echo.NewHTTPError(http.StatusForbidden)
			default:
				return c.Redirect(http.StatusFound, rule.Target())
			}
		}
	}
}
