package gating

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/automarket/internal/session"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

var (
	loading   = session.State{IsLoading: true, Role: domain.RoleUser}
	anonymous = session.Anonymous()
	buyer     = session.State{IsAuthed: true, UID: "b1", Role: domain.RoleUser}
	seller    = session.State{IsAuthed: true, UID: "s1", Role: domain.RoleSeller}
	admin     = session.State{IsAuthed: true, UID: "a1", Role: domain.RoleAdmin}
)

func TestRule_Decide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rule  Rule
		state session.State
		want  Decision
	}{
		{name: "loading wins", rule: SellerOnly, state: loading, want: Loading},
		{name: "loading even when authed", rule: SignedIn, state: session.State{IsLoading: true, IsAuthed: true, Role: domain.RoleAdmin}, want: Loading},
		{name: "anonymous redirected", rule: SignedIn, state: anonymous, want: Redirect},
		{name: "signed in allowed", rule: SignedIn, state: buyer, want: Allowed},
		{name: "buyer redirected from seller page", rule: SellerOnly, state: buyer, want: Redirect},
		{name: "seller allowed", rule: SellerOnly, state: seller, want: Allowed},
		{name: "admin allowed", rule: SellerOnly, state: admin, want: Allowed},
		{name: "buyer forbidden on dashboard", rule: SellerDashboard, state: buyer, want: Forbidden},
		{name: "anonymous redirected from dashboard", rule: SellerDashboard, state: anonymous, want: Redirect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.rule.Decide(tt.state), "got %s", tt.rule.Decide(tt.state))
		})
	}
}

func TestRule_Target(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/", SellerOnly.Target())
	assert.Equal(t, "/login", SellerDashboard.Target())
}

func TestCanEdit(t *testing.T) {
	t.Parallel()

	assert.False(t, CanEdit(anonymous))
	assert.False(t, CanEdit(buyer))
	assert.True(t, CanEdit(seller))
	assert.True(t, CanEdit(admin))
	assert.False(t, CanEdit(session.State{Role: domain.RoleSeller}), "role without session")
}

func TestCanManage(t *testing.T) {
	t.Parallel()

	own := &domain.Car{ID: 1, SellerUID: "s1"}
	other := &domain.Car{ID: 2, SellerUID: "s2"}

	assert.True(t, CanManage(seller, own))
	assert.False(t, CanManage(seller, other))
	assert.True(t, CanManage(admin, other))
	assert.False(t, CanManage(buyer, own))
	assert.False(t, CanManage(seller, nil))

	unowned := &domain.Car{ID: 3}
	assert.False(t, CanManage(seller, unowned), "listings without an owner are not a seller's")
	assert.True(t, CanManage(admin, unowned))
}

func TestGuard_Require(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		rule         Rule
		state        session.State
		wantStatus   int
		wantLocation string
		wantBody     string
	}{
		{name: "allowed", rule: SellerOnly, state: seller, wantStatus: http.StatusOK, wantBody: "page"},
		{name: "anonymous redirected home", rule: SellerOnly, state: anonymous, wantStatus: http.StatusFound, wantLocation: "/"},
		{name: "dashboard redirects to login", rule: SellerDashboard, state: anonymous, wantStatus: http.StatusFound, wantLocation: "/login"},
		{name: "forbidden view", rule: SellerDashboard, state: buyer, wantStatus: http.StatusForbidden, wantBody: "403 Forbidden"},
		{name: "loading placeholder", rule: SellerOnly, state: loading, wantStatus: http.StatusOK, wantBody: "Checking access"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := &Guard{
				State: func(context.Context) session.State { return tt.state },
				Loading: func(c echo.Context) error {
					return c.String(http.StatusOK, "Checking access")
				},
				Forbidden: func(c echo.Context) error {
					return c.String(http.StatusForbidden, "403 Forbidden")
				},
			}

			e := echo.New()
			e.GET("/guarded", func(c echo.Context) error {
				st, ok := c.Get(StateKey).(session.State)
				require.True(t, ok)
				assert.Equal(t, tt.state, st)
				return c.String(http.StatusOK, "page")
			}, g.Require(tt.rule))

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guarded", http.NoBody))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantLocation, rec.Header().Get(echo.HeaderLocation))
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestGuard_DefaultsWithoutRenderers(t *testing.T) {
	t.Parallel()

	e := echo.New()
	h := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	g := &Guard{State: func(context.Context) session.State { return loading }}
	e.GET("/a", h, g.Require(SignedIn))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/a", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	g2 := &Guard{State: func(context.Context) session.State { return buyer }}
	e.GET("/b", h, g2.Require(SellerDashboard))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/b", http.NoBody))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
