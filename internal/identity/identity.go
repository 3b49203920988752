// Package identity signs storefront users in against the identity provider
// and hands out their ID tokens.
//
// The Provider interface is what the rest of the storefront depends on. The
// concrete FirebaseProvider speaks the Identity Toolkit and Secure Token REST
// APIs; Federated layers a Google OAuth2/OIDC sign-in on top of it.
package identity

import (
	"context"
	"errors"
	"time"

	domain "github.com/donaldgifford/automarket/pkg/types"
)

// Sentinel errors returned by providers.
var (
	ErrNoSession          = errors.New("no signed-in user")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailExists        = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password too weak")
	ErrSessionRevoked     = errors.New("session expired or revoked, sign in again")
)

// User is the signed-in identity as known to the provider.
type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	ProviderID  string `json:"providerId,omitempty"` // "password" or an IdP id such as "google.com"
}

// TokenResult is a decoded ID token. Claims are read without verifying the
// signature; the backend is the authority that verifies it.
type TokenResult struct {
	Token    string
	IssuedAt time.Time
	Expiry   time.Time
	Claims   map[string]any
}

// Role returns the marketplace role carried in the token's claims.
func (t *TokenResult) Role() domain.Role {
	if t == nil {
		return domain.RoleUser
	}
	return domain.RoleFromClaims(t.Claims)
}

// Provider is an identity session provider.
type Provider interface {
	// CurrentUser returns the signed-in user, or nil.
	CurrentUser() *User
	// SessionID identifies the current session for request de-duplication.
	// It is empty when nobody is signed in.
	SessionID() string
	// IDToken returns the cached ID token, refreshing it when expired or when
	// force is set.
	IDToken(ctx context.Context, force bool) (string, error)
	// IDTokenResult is IDToken plus the decoded claims.
	IDTokenResult(ctx context.Context, force bool) (*TokenResult, error)
	// OnChange registers fn for sign-in and sign-out events. fn is called
	// once immediately with the current user. The returned func unsubscribes.
	OnChange(fn func(*User)) (unsubscribe func())

	SignInWithPassword(ctx context.Context, email, password string) (*User, error)
	SignUp(ctx context.Context, email, password, displayName string) (*User, error)
	SignInWithIDP(ctx context.Context, providerID, idToken, requestURI string) (*User, error)
	SignOut(ctx context.Context) error
}
