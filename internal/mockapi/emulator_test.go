package mockapi_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/automarket/internal/identity"
	"github.com/donaldgifford/automarket/internal/mockapi"
	"github.com/donaldgifford/automarket/internal/upload"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

func newEmulator(t *testing.T) (*mockapi.Server, mockapi.Endpoints) {
	t.Helper()
	srv := mockapi.New()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, mockapi.EndpointsFor(ts.URL)
}

func newProvider(t *testing.T, srv *mockapi.Server, ep mockapi.Endpoints) *identity.FirebaseProvider {
	t.Helper()
	p, err := identity.NewFirebaseProvider(srv.APIKey(),
		identity.WithIdentityURL(ep.Identity),
		identity.WithTokenURL(ep.Token),
	)
	require.NoError(t, err)
	return p
}

func TestIdentityEmulator_SignUpAndSignIn(t *testing.T) {
	t.Parallel()

	srv, ep := newEmulator(t)
	p := newProvider(t, srv, ep)
	ctx := context.Background()

	u, err := p.SignUp(ctx, "new@example.com", "secret1", "Nina")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", u.Email)
	assert.Equal(t, "Nina", u.DisplayName)

	_, err = p.SignUp(ctx, "new@example.com", "secret1", "")
	require.ErrorIs(t, err, identity.ErrEmailExists)

	_, err = p.SignUp(ctx, "weak@example.com", "123", "")
	require.ErrorIs(t, err, identity.ErrWeakPassword)

	require.NoError(t, p.SignOut(ctx))
	_, err = p.SignInWithPassword(ctx, "new@example.com", "wrong")
	require.ErrorIs(t, err, identity.ErrInvalidCredentials)

	u2, err := p.SignInWithPassword(ctx, "NEW@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.UID, u2.UID)
}

func TestIdentityEmulator_ForcedRefreshPicksUpRole(t *testing.T) {
	t.Parallel()

	srv, ep := newEmulator(t)
	uid := srv.AddUser("b@example.com", "secret1", "", domain.RoleUser)
	p := newProvider(t, srv, ep)
	ctx := context.Background()

	_, err := p.SignInWithPassword(ctx, "b@example.com", "secret1")
	require.NoError(t, err)

	res, err := p.IDTokenResult(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, res.Role())

	require.NoError(t, srv.SetRole(uid, domain.RoleSeller))

	res, err = p.IDTokenResult(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, res.Role(), "cached token keeps the old claim")

	res, err = p.IDTokenResult(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSeller, res.Role())
}

func TestIdentityEmulator_DisabledUserIsSignedOut(t *testing.T) {
	t.Parallel()

	srv, ep := newEmulator(t)
	uid := srv.AddUser("d@example.com", "secret1", "", domain.RoleUser)
	p := newProvider(t, srv, ep)
	ctx := context.Background()

	_, err := p.SignInWithPassword(ctx, "d@example.com", "secret1")
	require.NoError(t, err)

	srv.Disable(uid)
	_, err = p.IDToken(ctx, true)
	require.ErrorIs(t, err, identity.ErrSessionRevoked)
	assert.Nil(t, p.CurrentUser())
}

func TestIdentityEmulator_RejectsWrongKey(t *testing.T) {
	t.Parallel()

	srv, ep := newEmulator(t)
	srv.AddUser("k@example.com", "secret1", "", domain.RoleUser)

	p, err := identity.NewFirebaseProvider("wrong-key",
		identity.WithIdentityURL(ep.Identity),
		identity.WithTokenURL(ep.Token),
	)
	require.NoError(t, err)

	_, err = p.SignInWithPassword(context.Background(), "k@example.com", "secret1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestStorageEmulator(t *testing.T) {
	t.Parallel()

	srv, ep := newEmulator(t)
	store := upload.NewSupabaseStorage(ep.Storage, srv.APIKey(), srv.Bucket())
	ctx := context.Background()

	p, err := store.Upload(ctx, "u1/1_red car.jpg", "image/jpeg", strings.NewReader("jpeg"), 4)
	require.NoError(t, err)

	data, ct, ok := srv.Object("u1/1_red car.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("jpeg"), data)
	assert.Equal(t, "image/jpeg", ct)

	resp, err := http.Get(store.PublicURL(p))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "jpeg", string(body))

	_, err = store.Upload(ctx, "u1/1_red car.jpg", "image/jpeg", bytes.NewReader([]byte("again")), 5)
	var serr *upload.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "The resource already exists", serr.Message)

	bad := upload.NewSupabaseStorage(ep.Storage, "wrong", srv.Bucket())
	_, err = bad.Upload(ctx, "u1/2.jpg", "image/jpeg", strings.NewReader("x"), 1)
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.StatusCode)
}

func TestSwaggerUI(t *testing.T) {
	t.Parallel()

	srv := mockapi.New()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger/index.html", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/openapi.json", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "list-cars")
}
