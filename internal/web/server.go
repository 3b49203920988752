// Package web serves the AutoMarket storefront: the listing pages, the
// seller dashboard and the sign-in flows.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/donaldgifford/automarket/internal/api/client"
	"github.com/donaldgifford/automarket/internal/api/middleware"
	"github.com/donaldgifford/automarket/internal/config"
	"github.com/donaldgifford/automarket/internal/gating"
	"github.com/donaldgifford/automarket/internal/identity"
	"github.com/donaldgifford/automarket/internal/listing"
	"github.com/donaldgifford/automarket/internal/monitor"
	"github.com/donaldgifford/automarket/internal/session"
	"github.com/donaldgifford/automarket/internal/upload"
	"github.com/donaldgifford/automarket/internal/web/views"
	"github.com/donaldgifford/automarket/pkg/logger"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

const (
	// sessionWait bounds how long a request waits for a session derivation.
	sessionWait = 2 * time.Second
	// settleWait bounds how long sign-in flows wait for the new session.
	settleWait = 10 * time.Second

	bodyLimit   = "20M"
	csrfCookie  = "_csrf"
	flashCookie = "flash"
)

// Backend is the subset of the API client the storefront uses.
type Backend interface {
	WhoAmI(ctx context.Context) (*domain.WhoAmI, error)
	ListCars(ctx context.Context, params *client.ListCarsParams) (*domain.Page[domain.Car], error)
	GetCar(ctx context.Context, id int64) (*domain.Car, error)
	CreateCar(ctx context.Context, in domain.CarInput) (*domain.Car, error)
	UpdateCar(ctx context.Context, id int64, in domain.CarInput) (*domain.Car, error)
	DeleteCar(ctx context.Context, id int64) error
	SetRole(ctx context.Context, uid string, role domain.Role) error
}

// Deps holds the collaborators of the storefront server. Uploader, Importer,
// Federated and Monitor are optional.
type Deps struct {
	Config    *config.Config
	Provider  identity.Provider
	Observer  *session.Observer
	API       Backend
	Uploader  *upload.Uploader
	Importer  *upload.Importer
	Federated *identity.Federated
	Monitor   *monitor.Monitor
	Log       *slog.Logger
}

// Server is the storefront HTTP server.
type Server struct {
	cfg       *config.Config
	provider  identity.Provider
	observer  *session.Observer
	api       Backend
	uploader  *upload.Uploader
	importer  *upload.Importer
	federated *identity.Federated
	monitor   *monitor.Monitor
	log       *slog.Logger

	echo      *echo.Echo
	guard     *gating.Guard
	dashboard *listing.Dashboard
	submitter listing.Submitter
	// stale forces the dashboard to refetch on its next visit.
	stale atomic.Bool
	now   func() time.Time
}

// New builds the storefront server and registers its routes.
func New(d Deps) (*Server, error) {
	switch {
	case d.Config == nil:
		return nil, errors.New("config is required")
	case d.Provider == nil:
		return nil, errors.New("identity provider is required")
	case d.Observer == nil:
		return nil, errors.New("session observer is required")
	case d.API == nil:
		return nil, errors.New("API client is required")
	}

	s := &Server{
		cfg:       d.Config,
		provider:  d.Provider,
		observer:  d.Observer,
		api:       d.API,
		uploader:  d.Uploader,
		importer:  d.Importer,
		federated: d.Federated,
		monitor:   d.Monitor,
		log:       logger.Component(d.Log, "web"),
		dashboard: listing.NewDashboard(d.API),
		now:       time.Now,
	}
	s.guard = &gating.Guard{
		State:     s.currentState,
		Loading:   s.loadingView,
		Forbidden: s.forbiddenView,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recovery(s.log))
	e.Use(middleware.RequestLog(s.log))
	e.Use(middleware.Metrics())
	e.Use(echomw.BodyLimit(bodyLimit))
	e.Use(echomw.CSRFWithConfig(echomw.CSRFConfig{
		TokenLookup:    "form:_csrf,header:X-CSRF-Token",
		CookieName:     csrfCookie,
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSameSite: http.SameSiteLaxMode,
	}))

	s.echo = e
	s.routes()
	return s, nil
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/healthz", s.healthz)
	e.GET("/readyz", s.readyz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.StaticFS("/static", views.Static())
	e.GET("/docs", s.docs)

	e.GET("/", s.home)
	e.GET("/cars/:id", s.showCar)

	seller := gating.SellerOnly
	e.GET("/cars/new", s.newCar, s.guard.Require(seller))
	e.POST("/cars/new", s.createCar, s.guard.Require(seller))
	e.GET("/cars/:id/edit", s.editCar, s.guard.Require(seller))
	e.POST("/cars/:id/edit", s.updateCar, s.guard.Require(seller))
	e.GET("/cars/:id/delete", s.confirmDelete, s.guard.Require(seller))
	e.POST("/cars/:id/delete", s.deleteCar, s.guard.Require(seller))
	e.GET("/seller", s.sellerDashboard, s.guard.Require(gating.SellerDashboard))

	e.GET("/me", s.me)
	e.POST("/me/refresh", s.refreshToken, s.guard.Require(gating.SignedIn))
	if s.cfg.Debug.AllowRoleAssignment {
		e.POST("/me/role", s.assignRole, s.guard.Require(gating.SignedIn))
	}

	e.GET("/login", s.loginForm)
	e.POST("/login", s.login)
	e.GET("/register", s.registerForm)
	e.POST("/register", s.register)
	e.POST("/logout", s.logout)

	if s.federated != nil {
		e.GET("/auth/google", s.googleStart)
		e.GET("/auth/google/callback", s.googleCallback)
	}
}

// currentState returns the session, waiting briefly for a derivation in
// flight to finish.
func (s *Server) currentState(ctx context.Context) session.State {
	wctx, cancel := context.WithTimeout(ctx, sessionWait)
	defer cancel()
	if err := s.observer.Wait(wctx); err != nil {
		s.log.Debug("session still loading", "error", err)
	}
	return s.observer.State()
}

// settle waits for the session to reflect a sign-in or sign-out that just
// happened.
func (s *Server) settle(ctx context.Context) session.State {
	wctx, cancel := context.WithTimeout(ctx, settleWait)
	defer cancel()
	if err := s.observer.Wait(wctx); err != nil {
		s.log.Warn("session did not settle", "error", err)
	}
	return s.observer.State()
}

// sessionOf returns the state a guard admitted the request with, or the
// current state for unguarded routes.
func (s *Server) sessionOf(c echo.Context) session.State {
	if st, ok := c.Get(gating.StateKey).(session.State); ok {
		return st
	}
	st := s.currentState(c.Request().Context())
	c.Set(gating.StateKey, st)
	return st
}

// Landing is where a user goes after signing in.
func Landing(st session.State) string {
	if gating.CanEdit(st) {
		return "/seller"
	}
	return "/"
}

func (s *Server) render(c echo.Context, status int, name string, p views.Page) error {
	p.Session = s.sessionOf(c)
	p.CSRF, _ = c.Get(echomw.DefaultCSRFConfig.ContextKey).(string)
	p.DocsURL = s.cfg.API.DocsURL
	if p.Flash == "" {
		p.Flash = s.takeFlash(c)
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(status)
	return views.Render(name, p).Render(c.Request().Context(), c.Response())
}

func (s *Server) loadingView(c echo.Context) error {
	c.Response().Header().Set("Refresh", "1")
	return s.render(c, http.StatusOK, views.Loading, views.Page{Title: "Loading"})
}

func (s *Server) forbiddenView(c echo.Context) error {
	return s.render(c, http.StatusForbidden, views.Forbidden, views.Page{Title: "Forbidden"})
}

func (s *Server) errorView(c echo.Context, status int, msg string) error {
	return s.render(c, status, views.Error, views.Page{
		Title: http.StatusText(status),
		Body:  views.ErrorData{Status: status, Message: msg},
	})
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		msg = fmt.Sprint(he.Message)
	} else {
		s.log.Error("request failed", "path", c.Request().URL.Path, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	if rerr := s.errorView(c, status, msg); rerr != nil {
		s.log.Error("rendering error page", "error", rerr)
	}
}

func (s *Server) setFlash(c echo.Context, msg string) {
	c.SetCookie(&http.Cookie{
		Name:     flashCookie,
		Value:    encodeFlash(msg),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) takeFlash(c echo.Context) string {
	ck, err := c.Cookie(flashCookie)
	if err != nil || ck.Value == "" {
		return ""
	}
	c.SetCookie(&http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1})
	return decodeFlash(ck.Value)
}

// errorMessage turns a backend error into text shown inline on the page.
func errorMessage(err error) string {
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Message()
	case errors.Is(err, client.ErrServerUnavailable):
		return "The listings service is unavailable. Try again shortly."
	case errors.Is(err, context.DeadlineExceeded):
		return "The listings service did not respond in time."
	default:
		return err.Error()
	}
}

// errorStatus maps a backend error to the status of the page showing it.
func errorStatus(err error) int {
	code := client.StatusCode(err)
	if code >= http.StatusBadRequest && code < http.StatusInternalServerError {
		return code
	}
	return http.StatusBadGateway
}
