// Package gating decides which views a session may see.
//
// These checks shape the user experience only. The backend enforces
// authorization on every request regardless of what the storefront shows.
package gating

import (
	"slices"

	"github.com/donaldgifford/automarket/internal/session"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

// Decision is the outcome of a gating check.
type Decision int

// Decision values.
const (
	Loading Decision = iota
	Allowed
	Redirect
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Loading:
		return "loading"
	case Allowed:
		return "allowed"
	case Redirect:
		return "redirect"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// DeniedAction selects what a signed-in user without a required role gets.
type DeniedAction int

// DeniedAction values.
const (
	RedirectOnDenied DeniedAction = iota
	ForbidOnDenied
)

// DefaultRedirect is where unauthenticated users are sent.
const DefaultRedirect = "/"

// Rule describes who may see a view. An empty Roles admits any signed-in
// user.
type Rule struct {
	Roles      []domain.Role
	RedirectTo string
	Denied     DeniedAction
}

// Common rules.
var (
	// SignedIn admits any authenticated user.
	SignedIn = Rule{}
	// SellerOnly admits sellers and admins and redirects everyone else.
	SellerOnly = Rule{Roles: []domain.Role{domain.RoleSeller, domain.RoleAdmin}}
	// SellerDashboard admits sellers and admins, sends visitors to sign in
	// and shows signed-in buyers a forbidden page.
	SellerDashboard = Rule{
		Roles:      []domain.Role{domain.RoleSeller, domain.RoleAdmin},
		RedirectTo: "/login",
		Denied:     ForbidOnDenied,
	}
)

// Decide evaluates the rule for st.
func (r Rule) Decide(st session.State) Decision {
	switch {
	case st.IsLoading:
		return Loading
	case !st.IsAuthed:
		return Redirect
	case len(r.Roles) > 0 && !slices.Contains(r.Roles, st.Role):
		if r.Denied == ForbidOnDenied {
			return Forbidden
		}
		return Redirect
	default:
		return Allowed
	}
}

// Target returns the redirect destination.
func (r Rule) Target() string {
	if r.RedirectTo == "" {
		return DefaultRedirect
	}
	return r.RedirectTo
}

// CanEdit reports whether st may manage listings.
func CanEdit(st session.State) bool {
	return st.IsAuthed && st.Role.CanSell()
}

// CanManage reports whether st may edit or delete car. Sellers manage their
// own listings, admins any listing.
func CanManage(st session.State, car *domain.Car) bool {
	if !CanEdit(st) || car == nil {
		return false
	}
	return st.Role == domain.RoleAdmin || car.SellerUID == st.UID
}
