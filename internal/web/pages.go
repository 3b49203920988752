package web

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/donaldgifford/automarket/internal/api/client"
	"github.com/donaldgifford/automarket/internal/gating"
	"github.com/donaldgifford/automarket/internal/web/views"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

// homePageSize is how many of the newest listings the home page shows.
const homePageSize = 8

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(c echo.Context) error {
	if s.monitor == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}

	st := s.monitor.Status()
	if !st.Up {
		msg := st.Error
		if msg == "" {
			msg = "backend not checked yet"
		}
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  msg,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ready",
		"backend": st.Message,
	})
}

func (s *Server) docs(c echo.Context) error {
	if s.cfg.API.DocsURL == "" {
		return echo.NewHTTPError(http.StatusNotFound, "API documentation is not configured")
	}
	return c.Redirect(http.StatusFound, s.cfg.API.DocsURL)
}

func (s *Server) home(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("make"))
	page := views.Page{Title: "Cars for sale"}
	body := views.HomeData{Query: q}

	res, err := s.api.ListCars(c.Request().Context(), &client.ListCarsParams{
		Make: q,
		Size: homePageSize,
		Sort: client.SortNewest,
	})
	if err != nil {
		s.log.Warn("listing cars failed", "error", err)
		page.Error = errorMessage(err)
	} else {
		body.Cars = res.Content
	}

	page.Body = body
	return s.render(c, http.StatusOK, views.Home, page)
}

func (s *Server) showCar(c echo.Context) error {
	car, err := s.loadCar(c)
	if err != nil {
		return err
	}

	st := s.sessionOf(c)
	return s.render(c, http.StatusOK, views.Car, views.Page{
		Title: car.Title(),
		Body:  views.CarData{Car: car, CanManage: gating.CanManage(st, car)},
	})
}

// loadCar fetches the listing named by the :id path parameter. Failures are
// returned as HTTP errors for the error page.
func (s *Server) loadCar(c echo.Context) (*domain.Car, error) {
	id, err := carID(c)
	if err != nil {
		return nil, err
	}

	car, err := s.api.GetCar(c.Request().Context(), id)
	switch {
	case client.IsNotFound(err):
		return nil, echo.NewHTTPError(http.StatusNotFound, "Car not found")
	case err != nil:
		return nil, echo.NewHTTPError(errorStatus(err), errorMessage(err))
	}
	return car, nil
}

func carID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusNotFound, "Car not found")
	}
	return id, nil
}

func encodeFlash(msg string) string {
	return url.QueryEscape(msg)
}

func decodeFlash(v string) string {
	msg, err := url.QueryUnescape(v)
	if err != nil {
		return ""
	}
	return msg
}
