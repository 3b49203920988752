package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/donaldgifford/automarket/internal/identity"
	"github.com/donaldgifford/automarket/internal/web/views"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

const (
	stateCookie = "oauth_state"
	nonceCookie = "oauth_nonce"
	oauthMaxAge = 10 * time.Minute
)

func (s *Server) authData() views.AuthData {
	return views.AuthData{
		GoogleEnabled:     s.federated != nil,
		AllowSellerSignup: s.cfg.Debug.AllowRoleAssignment,
	}
}

func (s *Server) loginForm(c echo.Context) error {
	if st := s.sessionOf(c); st.IsAuthed {
		return c.Redirect(http.StatusFound, Landing(st))
	}
	return s.render(c, http.StatusOK, views.Login, views.Page{Title: "Sign in", Body: s.authData()})
}

func (s *Server) login(c echo.Context) error {
	ctx := c.Request().Context()
	email := strings.TrimSpace(c.FormValue("email"))
	password := c.FormValue("password")

	if _, err := s.provider.SignInWithPassword(ctx, email, password); err != nil {
		s.log.Info("sign-in failed", "email", email, "error", err)
		body := s.authData()
		body.Email = email
		return s.render(c, http.StatusUnauthorized, views.Login, views.Page{
			Title: "Sign in",
			Error: authErrorMessage(err),
			Body:  body,
		})
	}

	st := s.settle(ctx)
	s.stale.Store(true)
	return c.Redirect(http.StatusSeeOther, Landing(st))
}

func (s *Server) registerForm(c echo.Context) error {
	if st := s.sessionOf(c); st.IsAuthed {
		return c.Redirect(http.StatusFound, Landing(st))
	}
	body := s.authData()
	body.Role = string(domain.RoleUser)
	return s.render(c, http.StatusOK, views.Register, views.Page{Title: "Register", Body: body})
}

func (s *Server) register(c echo.Context) error {
	ctx := c.Request().Context()
	body := s.authData()
	body.Email = strings.TrimSpace(c.FormValue("email"))
	body.DisplayName = strings.TrimSpace(c.FormValue("displayName"))
	body.Role = string(domain.ParseRole(c.FormValue("role")))

	u, err := s.provider.SignUp(ctx, body.Email, c.FormValue("password"), body.DisplayName)
	if err != nil {
		s.log.Info("sign-up failed", "email", body.Email, "error", err)
		return s.render(c, http.StatusUnprocessableEntity, views.Register, views.Page{
			Title: "Register",
			Error: authErrorMessage(err),
			Body:  body,
		})
	}

	st := s.settle(ctx)
	if body.AllowSellerSignup && domain.Role(body.Role) == domain.RoleSeller {
		if err := s.api.SetRole(ctx, u.UID, domain.RoleSeller); err != nil {
			s.log.Warn("seller role assignment failed", "uid", u.UID, "error", err)
			s.setFlash(c, "Account created, but the seller role could not be assigned: "+errorMessage(err))
		} else if st, err = s.observer.Refresh(ctx); err != nil {
			s.log.Warn("session refresh after role change failed", "uid", u.UID, "error", err)
		}
	}

	s.stale.Store(true)
	s.log.Info("account registered", "uid", u.UID, "role", st.Role)
	return c.Redirect(http.StatusSeeOther, Landing(st))
}

func (s *Server) logout(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.provider.SignOut(ctx); err != nil {
		s.log.Warn("sign-out failed", "error", err)
	}
	s.settle(ctx)
	s.stale.Store(true)
	s.setFlash(c, "Signed out.")
	return c.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) me(c echo.Context) error {
	st := s.sessionOf(c)
	body := views.MeData{
		AllowRoleAssignment: s.cfg.Debug.AllowRoleAssignment,
		Roles:               domain.Roles,
	}

	if st.IsAuthed && !st.IsLoading {
		who, err := s.api.WhoAmI(c.Request().Context())
		if err != nil {
			body.WhoAmIError = errorMessage(err)
		} else {
			body.WhoAmI = who
		}
	}

	return s.render(c, http.StatusOK, views.Me, views.Page{Title: "My account", Body: body})
}

func (s *Server) refreshToken(c echo.Context) error {
	st, err := s.observer.Refresh(c.Request().Context())
	if err != nil {
		s.log.Warn("token refresh failed", "error", err)
		s.setFlash(c, "Token refresh did not finish: "+err.Error())
		return c.Redirect(http.StatusSeeOther, "/me")
	}
	s.setFlash(c, "Token refreshed. Role: "+string(st.Role)+".")
	return c.Redirect(http.StatusSeeOther, "/me")
}

func (s *Server) assignRole(c echo.Context) error {
	ctx := c.Request().Context()
	st := s.sessionOf(c)

	role, ok := parseRoleField(c.FormValue("role"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown role")
	}

	if err := s.api.SetRole(ctx, st.UID, role); err != nil {
		s.setFlash(c, "Role change failed: "+errorMessage(err))
		return c.Redirect(http.StatusSeeOther, "/me")
	}
	if _, err := s.observer.Refresh(ctx); err != nil {
		s.log.Warn("session refresh after role change failed", "uid", st.UID, "error", err)
	}

	s.stale.Store(true)
	s.setFlash(c, "Role set to "+string(role)+".")
	return c.Redirect(http.StatusSeeOther, "/me")
}

func (s *Server) googleStart(c echo.Context) error {
	state, nonce := uuid.NewString(), uuid.NewString()
	s.setOAuthCookie(c, stateCookie, state, int(oauthMaxAge.Seconds()))
	s.setOAuthCookie(c, nonceCookie, nonce, int(oauthMaxAge.Seconds()))
	return c.Redirect(http.StatusFound, s.federated.AuthCodeURL(state, nonce))
}

func (s *Server) googleCallback(c echo.Context) error {
	ctx := c.Request().Context()

	stateCk, serr := c.Cookie(stateCookie)
	nonceCk, nerr := c.Cookie(nonceCookie)
	s.setOAuthCookie(c, stateCookie, "", -1)
	s.setOAuthCookie(c, nonceCookie, "", -1)

	if msg := c.QueryParam("error"); msg != "" {
		return s.googleFailed(c, "Google sign-in was cancelled: "+msg)
	}
	if serr != nil || nerr != nil || stateCk.Value == "" || nonceCk.Value == "" ||
		stateCk.Value != c.QueryParam("state") {
		return s.googleFailed(c, "Google sign-in expired. Try again.")
	}

	if _, err := s.federated.Complete(ctx, c.QueryParam("code"), nonceCk.Value); err != nil {
		s.log.Warn("federated sign-in failed", "error", err)
		return s.googleFailed(c, "Google sign-in failed.")
	}

	st := s.settle(ctx)
	s.stale.Store(true)
	return c.Redirect(http.StatusSeeOther, Landing(st))
}

func (s *Server) googleFailed(c echo.Context, msg string) error {
	return s.render(c, http.StatusUnauthorized, views.Login, views.Page{
		Title: "Sign in",
		Error: msg,
		Body:  s.authData(),
	})
}

func (s *Server) setOAuthCookie(c echo.Context, name, value string, maxAge int) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth/google",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Scheme() == "https",
		SameSite: http.SameSiteLaxMode,
	})
}

// parseRoleField accepts only the exact role names offered by the form.
func parseRoleField(v string) (domain.Role, bool) {
	r := domain.Role(strings.ToUpper(strings.TrimSpace(v)))
	for _, known := range domain.Roles {
		if r == known {
			return r, true
		}
	}
	return "", false
}

func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, identity.ErrEmailExists):
		return "An account with this email already exists."
	case errors.Is(err, identity.ErrWeakPassword):
		return "Password must be at least 6 characters."
	case errors.Is(err, identity.ErrSessionRevoked):
		return "Your session expired. Sign in again."
	default:
		return "Sign-in service error: " + err.Error()
	}
}
