package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// GoogleProviderID is the IdP identifier Google sign-ins are recorded under.
const GoogleProviderID = "google.com"

// ErrNonceMismatch is returned when the ID token was not minted for the
// authorization request being completed.
var ErrNonceMismatch = errors.New("id token nonce mismatch")

// IDPSigner completes a federated sign-in with a verified IdP ID token.
type IDPSigner interface {
	SignInWithIDP(ctx context.Context, providerID, idToken, requestURI string) (*User, error)
}

// Federated runs the OAuth2 authorization-code flow against an OpenID
// Connect provider, verifies the returned ID token and hands it to the
// identity provider.
type Federated struct {
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	signer     IDPSigner
	providerID string
}

// NewFederated wires an OAuth2 client and token verifier to signer.
func NewFederated(
	cfg *oauth2.Config,
	verifier *oidc.IDTokenVerifier,
	signer IDPSigner,
	providerID string,
) *Federated {
	return &Federated{
		oauth:      cfg,
		verifier:   verifier,
		signer:     signer,
		providerID: providerID,
	}
}

// DiscoverGoogle builds a Federated for Google using OIDC discovery on issuer.
func DiscoverGoogle(
	ctx context.Context,
	issuer, clientID, clientSecret, redirectURL string,
	signer IDPSigner,
) (*Federated, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discovering %s: %w", issuer, err)
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return NewFederated(cfg, verifier, signer, GoogleProviderID), nil
}

// AuthCodeURL returns the consent page URL for state and nonce.
func (f *Federated) AuthCodeURL(state, nonce string) string {
	return f.oauth.AuthCodeURL(state, oidc.Nonce(nonce))
}

// Complete exchanges code, verifies the ID token against nonce and signs the
// user in.
func (f *Federated) Complete(ctx context.Context, code, nonce string) (*User, error) {
	tok, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("token response has no id_token")
	}

	idt, err := f.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("verifying id token: %w", err)
	}
	if idt.Nonce != nonce {
		return nil, ErrNonceMismatch
	}

	return f.signer.SignInWithIDP(ctx, f.providerID, raw, f.oauth.RedirectURL)
}
