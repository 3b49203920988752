// Package mockapi is an in-memory stand-in for the AutoMarket backend, the
// identity provider and object storage. It backs local development and the
// end-to-end tests.
package mockapi

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humaecho"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/donaldgifford/automarket/api/openapi"
	"github.com/donaldgifford/automarket/pkg/logger"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

// Defaults used when no option overrides them.
const (
	DefaultAPIKey  = "mock-api-key"
	DefaultBucket  = "cars"
	defaultTTL     = time.Hour
	defaultVersion = "1.0.0"
)

var errUnauthorized = errors.New("unauthorized")

type account struct {
	UID         string
	Email       string
	Password    string
	DisplayName string
	ProviderID  string
	Role        domain.Role
	Disabled    bool
	gen         int
}

type object struct {
	ContentType string
	Data        []byte
}

// Server holds the mock state. Safe for concurrent use.
type Server struct {
	apiKey string
	bucket string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	log    *slog.Logger

	mu       sync.Mutex
	cars     map[int64]domain.Car
	nextID   int64
	accounts map[string]*account // by uid
	emails   map[string]string   // email -> uid
	refresh  map[string]string   // refresh token -> uid
	objects  map[string]object   // bucket/path -> object

	echo *echo.Echo
	api  huma.API
}

// Option configures the Server.
type Option func(*Server)

// WithAPIKey sets the key required by the identity and storage emulators.
func WithAPIKey(k string) Option {
	return func(s *Server) {
		s.apiKey = k
	}
}

// WithTokenTTL sets the lifetime of issued ID tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		s.ttl = d
	}
}

// WithNowFunc overrides the clock.
func WithNowFunc(f func() time.Time) Option {
	return func(s *Server) {
		s.now = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// New creates a Server with no users and no listings.
func New(opts ...Option) *Server {
	s := &Server{
		apiKey:   DefaultAPIKey,
		bucket:   DefaultBucket,
		secret:   randomBytes(32),
		ttl:      defaultTTL,
		now:      time.Now,
		cars:     make(map[int64]domain.Car),
		nextID:   1,
		accounts: make(map[string]*account),
		emails:   make(map[string]string),
		refresh:  make(map[string]string),
		objects:  make(map[string]object),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.Component(s.log, "mockapi")

	installErrorModel()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	cfg := huma.DefaultConfig("AutoMarket API", defaultVersion)
	cfg.OpenAPIPath = "/api/openapi"
	cfg.DocsPath = ""
	cfg.SchemasPath = "/api/schemas"
	s.api = humaecho.New(e, cfg)
	registerRoutes(s.api, s)
	openapi.RegisterRoutes(e, "AutoMarket API", "/api/openapi.json")

	emu := s.emulatorMux()
	e.Any("/identity/*", echo.WrapHandler(emu))
	e.Any("/token/*", echo.WrapHandler(emu))
	e.Any("/storage/*", echo.WrapHandler(emu))

	s.echo = e
	return s
}

// Handler returns the HTTP handler serving every emulated service.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// API returns the Huma API of the listings backend.
func (s *Server) API() huma.API {
	return s.api
}

// APIKey returns the key accepted by the identity and storage emulators.
func (s *Server) APIKey() string {
	return s.apiKey
}

// Bucket returns the storage bucket name.
func (s *Server) Bucket() string {
	return s.bucket
}

// Endpoints are the base URLs of the emulated services for a server
// listening at a given root URL.
type Endpoints struct {
	API      string
	Identity string
	Token    string
	Storage  string
}

// EndpointsFor returns the service URLs below root, for example an
// httptest.Server URL.
func EndpointsFor(root string) Endpoints {
	root = strings.TrimRight(root, "/")
	return Endpoints{
		API:      root + "/api",
		Identity: root + "/identity",
		Token:    root + "/token",
		Storage:  root,
	}
}

// AddUser registers an email/password account and returns its UID.
func (s *Server) AddUser(email, password, displayName string, role domain.Role) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addAccountLocked(&account{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
		ProviderID:  "password",
		Role:        role,
	}).UID
}

// SetRole changes the role claim carried by tokens issued from now on.
// Tokens already issued keep their old claims.
func (s *Server) SetRole(uid string, role domain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[uid]
	if !ok {
		return fmt.Errorf("user %q not found", uid)
	}
	a.Role = role
	return nil
}

// RevokeTokens invalidates every ID token issued to uid so far. Refresh
// tokens stay valid.
func (s *Server) RevokeTokens(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[uid]; ok {
		a.gen++
	}
}

// Disable marks the account disabled; refreshing its tokens fails.
func (s *Server) Disable(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[uid]; ok {
		a.Disabled = true
		a.gen++
	}
}

// IssueToken mints an ID token for uid with its current claims.
func (s *Server) IssueToken(uid string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[uid]
	if !ok {
		return "", fmt.Errorf("user %q not found", uid)
	}
	return s.signLocked(a)
}

// Seed stores cars as if created by their sellers and returns them with IDs
// assigned. Cars without CreatedAt get the current time.
func (s *Server) Seed(cars ...domain.Car) []domain.Car {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Car, 0, len(cars))
	for _, c := range cars {
		c.ID = s.nextID
		s.nextID++
		if c.CreatedAt == nil {
			t := s.now().UTC()
			c.CreatedAt = &t
		}
		s.cars[c.ID] = c
		out = append(out, c)
	}
	return out
}

// Car returns a stored car.
func (s *Server) Car(id int64) (domain.Car, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cars[id]
	return c, ok
}

// Object returns a stored object by bucket-relative path.
func (s *Server) Object(path string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[s.bucket+"/"+path]
	return o.Data, o.ContentType, ok
}

func (s *Server) addAccountLocked(a *account) *account {
	if a.UID == "" {
		a.UID = randomID(14)
	}
	if a.Role == "" {
		a.Role = domain.RoleUser
	}
	s.accounts[a.UID] = a
	if a.Email != "" {
		s.emails[strings.ToLower(a.Email)] = a.UID
	}
	return a
}

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	Gen   int    `json:"gen"`
	jwt.RegisteredClaims
}

func (s *Server) signLocked(a *account) (string, error) {
	now := s.now()
	claims := tokenClaims{
		Email: a.Email,
		Name:  a.DisplayName,
		Gen:   a.gen,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.UID,
			Issuer:    "automarket-mock",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	if a.Role != domain.RoleUser {
		claims.Role = string(a.Role)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) issueRefreshLocked(uid string) string {
	tok := randomID(32)
	s.refresh[tok] = uid
	return tok
}

// principal validates a bearer token and returns the caller's account.
func (s *Server) principal(authorization string) (*account, error) {
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || raw == "" {
		return nil, errUnauthorized
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnauthorized, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[claims.Subject]
	if !ok || a.Disabled || claims.Gen != a.gen {
		return nil, errUnauthorized
	}

	// Roles come from the token, not the account, like custom claims.
	cp := *a
	cp.Role = domain.ParseRole(claims.Role)
	return &cp, nil
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return b
}

func randomID(n int) string {
	return hex.EncodeToString(randomBytes(n))[:n]
}
