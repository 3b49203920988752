// Package domain defines the core business types for the AutoMarket storefront.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role is the marketplace role carried in the identity token's "role" claim.
type Role string

// Role constants.
const (
	RoleUser   Role = "USER"
	RoleSeller Role = "SELLER"
	RoleAdmin  Role = "ADMIN"
)

// RoleClaim is the custom claim name holding the role.
const RoleClaim = "role"

// Roles lists every recognized role.
var Roles = []Role{RoleUser, RoleSeller, RoleAdmin}

// ParseRole converts a raw claim value into a Role. Absent, non-string and
// unrecognized values map to RoleUser.
func ParseRole(v any) Role {
	s, ok := v.(string)
	if !ok {
		return RoleUser
	}
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleSeller, RoleAdmin, RoleUser:
		return r
	default:
		return RoleUser
	}
}

// RoleFromClaims reads the role claim out of a decoded claims map.
func RoleFromClaims(claims map[string]any) Role {
	if claims == nil {
		return RoleUser
	}
	return ParseRole(claims[RoleClaim])
}

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// CanSell reports whether the role may manage listings.
func (r Role) CanSell() bool {
	return r == RoleSeller || r == RoleAdmin
}

// Car is a vehicle listing as returned by the backend. ID, SellerUID and
// CreatedAt are assigned by the server.
type Car struct {
	ID          int64      `json:"id"`
	Make        string     `json:"make"`
	Model       string     `json:"model"`
	Year        int        `json:"year"`
	PriceEUR    float64    `json:"priceEur"`
	ImageURL    string     `json:"imageUrl"`
	Description string     `json:"description,omitempty"`
	SellerUID   string     `json:"sellerUid,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// Title returns "Make Model".
func (c *Car) Title() string {
	return strings.TrimSpace(c.Make + " " + c.Model)
}

// Input returns the writable fields of the car, suitable for an update call
// that leaves the listing unchanged.
func (c *Car) Input() CarInput {
	return CarInput{
		Make:        c.Make,
		Model:       c.Model,
		Year:        c.Year,
		PriceEUR:    c.PriceEUR,
		ImageURL:    c.ImageURL,
		Description: c.Description,
	}
}

// CarInput is the request body for creating or updating a listing.
type CarInput struct {
	Make        string  `json:"make"`
	Model       string  `json:"model"`
	Year        int     `json:"year"`
	PriceEUR    float64 `json:"priceEur"`
	ImageURL    string  `json:"imageUrl"`
	Description string  `json:"description,omitempty"`
}

// Page is a single page of a paginated backend result.
type Page[T any] struct {
	Content       []T `json:"content"`
	TotalElements int `json:"totalElements"`
	TotalPages    int `json:"totalPages"`
	Size          int `json:"size"`
	Number        int `json:"number"` // 0-based
}

// HasNext reports whether a page follows this one.
func (p *Page[T]) HasNext() bool {
	return p.Number+1 < p.TotalPages
}

// WhoAmI is the backend's view of the calling principal.
type WhoAmI struct {
	Principal   string   `json:"principal"`
	Authorities []string `json:"authorities"`
}

// APIErrorBody is the error document produced by the backend.
type APIErrorBody struct {
	Error     string       `json:"error"`
	Message   string       `json:"message"`
	Status    int          `json:"status"`
	Path      string       `json:"path"`
	Timestamp *time.Time   `json:"timestamp,omitempty"`
	Details   []FieldError `json:"details,omitempty"`
}

// FieldError describes a single rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}
