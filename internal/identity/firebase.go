package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/donaldgifford/automarket/internal/metrics"
	"github.com/donaldgifford/automarket/pkg/logger"
)

const (
	defaultIdentityURL = "https://identitytoolkit.googleapis.com"
	defaultTokenURL    = "https://securetoken.googleapis.com" //nolint:gosec // not a credential
	refreshBuffer      = 60 * time.Second
	defaultTokenTTL    = time.Hour

	tracerName = "github.com/donaldgifford/automarket/internal/identity"
)

// FirebaseProvider implements Provider against the Identity Toolkit and
// Secure Token REST APIs. It caches the ID token and refreshes it when it is
// within 60 seconds of expiry. Safe for concurrent use.
type FirebaseProvider struct {
	apiKey      string
	identityURL string
	tokenURL    string
	client      *http.Client
	store       CredentialStore
	log         *slog.Logger
	tracer      trace.Tracer

	mu           sync.Mutex
	user         *User
	idToken      string
	refreshToken string
	expiry       time.Time
	nowFunc      func() time.Time // for testing

	lmu       sync.Mutex
	listeners map[int]func(*User)
	nextID    int
}

// Option configures the FirebaseProvider.
type Option func(*FirebaseProvider)

// WithIdentityURL overrides the Identity Toolkit base URL.
func WithIdentityURL(u string) Option {
	return func(p *FirebaseProvider) {
		p.identityURL = u
	}
}

// WithTokenURL overrides the Secure Token base URL.
func WithTokenURL(u string) Option {
	return func(p *FirebaseProvider) {
		p.tokenURL = u
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *FirebaseProvider) {
		p.client = c
	}
}

// WithCredentialStore persists the session through s. The default keeps it
// in memory only.
func WithCredentialStore(s CredentialStore) Option {
	return func(p *FirebaseProvider) {
		p.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *FirebaseProvider) {
		p.log = l
	}
}

// WithNowFunc overrides the time function for testing.
func WithNowFunc(f func() time.Time) Option {
	return func(p *FirebaseProvider) {
		p.nowFunc = f
	}
}

// NewFirebaseProvider creates a provider for the project owning apiKey and
// restores any session found in the credential store.
func NewFirebaseProvider(apiKey string, opts ...Option) (*FirebaseProvider, error) {
	p := &FirebaseProvider{
		apiKey:      apiKey,
		identityURL: defaultIdentityURL,
		tokenURL:    defaultTokenURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		store:       NewMemoryStore(),
		nowFunc:     time.Now,
		listeners:   make(map[int]func(*User)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.identityURL = strings.TrimRight(p.identityURL, "/")
	p.tokenURL = strings.TrimRight(p.tokenURL, "/")
	p.log = logger.Component(p.log, "identity")
	p.tracer = otel.Tracer(tracerName)

	creds, err := p.store.Load()
	if err != nil {
		return nil, fmt.Errorf("restoring session: %w", err)
	}
	if creds != nil {
		u := creds.User
		p.user = &u
		p.idToken = creds.IDToken
		p.refreshToken = creds.RefreshToken
		p.expiry = creds.Expiry
		p.log.Debug("session restored", "uid", u.UID)
	}

	return p, nil
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (p *FirebaseProvider) CurrentUser() *User {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return nil
	}
	u := *p.user
	return &u
}

// SessionID returns the signed-in user's UID.
func (p *FirebaseProvider) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return ""
	}
	return p.user.UID
}

// IDToken returns a valid ID token, refreshing if necessary or forced.
func (p *FirebaseProvider) IDToken(ctx context.Context, force bool) (string, error) {
	p.mu.Lock()
	if p.user == nil {
		p.mu.Unlock()
		return "", ErrNoSession
	}
	if !force && p.idToken != "" && p.nowFunc().Before(p.expiry.Add(-refreshBuffer)) {
		tok := p.idToken
		p.mu.Unlock()
		return tok, nil
	}
	tok, err := p.refreshLocked(ctx)
	p.mu.Unlock()

	if errors.Is(err, ErrSessionRevoked) {
		p.log.Warn("refresh token rejected, signing out", "error", err)
		p.dropSession()
	}
	return tok, err
}

// IDTokenResult returns the ID token with its decoded claims.
func (p *FirebaseProvider) IDTokenResult(ctx context.Context, force bool) (*TokenResult, error) {
	tok, err := p.IDToken(ctx, force)
	if err != nil {
		return nil, err
	}
	return ParseToken(tok)
}

// OnChange registers fn and calls it with the current user.
func (p *FirebaseProvider) OnChange(fn func(*User)) func() {
	p.lmu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.lmu.Unlock()

	fn(p.CurrentUser())

	return func() {
		p.lmu.Lock()
		delete(p.listeners, id)
		p.lmu.Unlock()
	}
}

func (p *FirebaseProvider) notify(u *User) {
	p.lmu.Lock()
	fns := make([]func(*User), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.lmu.Unlock()

	for _, fn := range fns {
		var cp *User
		if u != nil {
			c := *u
			cp = &c
		}
		fn(cp)
	}
}

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type authResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	ProviderID   string `json:"providerId"`
}

// SignInWithPassword signs in with email and password.
func (p *FirebaseProvider) SignInWithPassword(
	ctx context.Context,
	email, password string,
) (*User, error) {
	var res authResponse
	err := p.accounts(ctx, "signInWithPassword", passwordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}
	return p.establish(&res, "password")
}

// SignUp creates an account and signs it in. A non-empty displayName is set
// on the new profile.
func (p *FirebaseProvider) SignUp(
	ctx context.Context,
	email, password, displayName string,
) (*User, error) {
	var res authResponse
	err := p.accounts(ctx, "signUp", passwordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("signing up: %w", err)
	}

	if displayName != "" {
		var upd authResponse
		err := p.accounts(ctx, "update", map[string]any{
			"idToken":           res.IDToken,
			"displayName":       displayName,
			"returnSecureToken": true,
		}, &upd)
		if err != nil {
			p.log.Warn("setting display name failed", "uid", res.LocalID, "error", err)
		} else {
			res.DisplayName = displayName
			if upd.IDToken != "" {
				res.IDToken = upd.IDToken
				res.RefreshToken = upd.RefreshToken
				res.ExpiresIn = upd.ExpiresIn
			}
		}
	}

	return p.establish(&res, "password")
}

// SignInWithIDP exchanges a federated ID token (for example a verified Google
// ID token) for a session.
func (p *FirebaseProvider) SignInWithIDP(
	ctx context.Context,
	providerID, idToken, requestURI string,
) (*User, error) {
	postBody := url.Values{
		"id_token":   {idToken},
		"providerId": {providerID},
	}
	var res authResponse
	err := p.accounts(ctx, "signInWithIdp", map[string]any{
		"postBody":            postBody.Encode(),
		"requestUri":          requestURI,
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &res)
	if err != nil {
		return nil, fmt.Errorf("federated sign-in: %w", err)
	}
	return p.establish(&res, providerID)
}

// SignOut forgets the session and notifies listeners.
func (p *FirebaseProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	was := p.user
	p.user = nil
	p.idToken = ""
	p.refreshToken = ""
	p.expiry = time.Time{}
	err := p.store.Clear()
	p.mu.Unlock()

	if was != nil {
		p.log.Info("signed out", "uid", was.UID)
		p.notify(nil)
	}
	if err != nil {
		return fmt.Errorf("signing out: %w", err)
	}
	return nil
}

func (p *FirebaseProvider) dropSession() {
	p.mu.Lock()
	was := p.user != nil
	p.user = nil
	p.idToken = ""
	p.refreshToken = ""
	if err := p.store.Clear(); err != nil {
		p.log.Warn("clearing credentials", "error", err)
	}
	p.mu.Unlock()

	if was {
		p.notify(nil)
	}
}

func (p *FirebaseProvider) establish(res *authResponse, providerID string) (*User, error) {
	if res.LocalID == "" || res.IDToken == "" || res.RefreshToken == "" {
		return nil, fmt.Errorf("identity response missing session fields")
	}
	if res.ProviderID != "" {
		providerID = res.ProviderID
	}

	u := &User{
		UID:         res.LocalID,
		Email:       res.Email,
		DisplayName: res.DisplayName,
		ProviderID:  providerID,
	}

	p.mu.Lock()
	p.user = u
	p.idToken = res.IDToken
	p.refreshToken = res.RefreshToken
	p.expiry = p.expiryFrom(res.ExpiresIn, res.IDToken)
	err := p.saveLocked()
	p.mu.Unlock()

	if err != nil {
		p.log.Warn("persisting session", "error", err)
	}

	p.log.Info("signed in", "uid", u.UID, "provider", providerID)
	p.notify(u)

	cp := *u
	return &cp, nil
}

type secureTokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

func (p *FirebaseProvider) refreshLocked(ctx context.Context) (string, error) {
	ctx, span := p.tracer.Start(ctx, "identity.refresh",
		trace.WithAttributes(attribute.String("identity.uid", p.user.UID)))
	defer span.End()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {p.refreshToken},
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		p.tokenURL+"/v1/token?key="+url.QueryEscape(p.apiKey),
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var res secureTokenResponse
	if err := p.send(req, &res); err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("refreshing id token: %w", err)
	}
	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()

	p.idToken = res.IDToken
	if res.RefreshToken != "" {
		p.refreshToken = res.RefreshToken
	}
	p.expiry = p.expiryFrom(res.ExpiresIn, res.IDToken)

	if err := p.saveLocked(); err != nil {
		p.log.Warn("persisting refreshed session", "error", err)
	}

	p.log.Debug("id token refreshed", "uid", p.user.UID, "expiry", p.expiry)
	return p.idToken, nil
}

func (p *FirebaseProvider) expiryFrom(expiresIn, token string) time.Time {
	now := p.nowFunc()
	if secs, err := strconv.Atoi(expiresIn); err == nil && secs > 0 {
		return now.Add(time.Duration(secs) * time.Second)
	}
	return expiryOf(token, now.Add(defaultTokenTTL))
}

func (p *FirebaseProvider) saveLocked() error {
	return p.store.Save(&Credentials{
		User:         *p.user,
		IDToken:      p.idToken,
		RefreshToken: p.refreshToken,
		Expiry:       p.expiry,
	})
}

func (p *FirebaseProvider) accounts(ctx context.Context, method string, body, dst any) error {
	ctx, span := p.tracer.Start(ctx, "identity."+method)
	defer span.End()

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/accounts:%s?key=%s",
		p.identityURL, method, url.QueryEscape(p.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := p.send(req, dst); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *FirebaseProvider) send(req *http.Request, dst any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return apiError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// apiError maps an identity API error document to a sentinel where one fits.
// Messages look like "EMAIL_EXISTS" or "WEAK_PASSWORD : Password should be...".
func apiError(status int, body []byte) error {
	var er apiErrorResponse
	_ = json.Unmarshal(body, &er) //nolint:errcheck // best-effort error parsing

	msg := er.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	code, _, _ := strings.Cut(msg, " ")

	var sentinel error
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "MISSING_PASSWORD":
		sentinel = ErrInvalidCredentials
	case "EMAIL_EXISTS":
		sentinel = ErrEmailExists
	case "WEAK_PASSWORD":
		sentinel = ErrWeakPassword
	case "TOKEN_EXPIRED", "USER_DISABLED", "USER_NOT_FOUND", "INVALID_REFRESH_TOKEN":
		sentinel = ErrSessionRevoked
	}

	if sentinel != nil {
		return fmt.Errorf("%w (%s)", sentinel, code)
	}
	return fmt.Errorf("identity API error (HTTP %d): %s", status, msg)
}
