package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/automarket/internal/identity"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

type fakeSource struct {
	mu        sync.Mutex
	user      *identity.User
	role      any
	err       error
	forced    int
	unforced  int
	gate      chan struct{} // when set, IDTokenResult blocks until it is closed
	listeners map[int]func(*identity.User)
	nextID    int
}

func newFakeSource(u *identity.User) *fakeSource {
	return &fakeSource{user: u, listeners: make(map[int]func(*identity.User))}
}

func (f *fakeSource) CurrentUser() *identity.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

func (f *fakeSource) IDTokenResult(ctx context.Context, force bool) (*identity.TokenResult, error) {
	f.mu.Lock()
	if force {
		f.forced++
	} else {
		f.unforced++
	}
	gate, role, err := f.gate, f.role, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	claims := map[string]any{}
	if role != nil {
		claims["role"] = role
	}
	return &identity.TokenResult{
		Token:  "tok",
		Expiry: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		Claims: claims,
	}, nil
}

func (f *fakeSource) OnChange(fn func(*identity.User)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	u := f.user
	f.mu.Unlock()

	fn(u)
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeSource) emit(u *identity.User) {
	f.mu.Lock()
	f.user = u
	fns := make([]func(*identity.User), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

func (f *fakeSource) set(fn func(f *fakeSource)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func waitState(t *testing.T, o *Observer) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx))
	return o.State()
}

func TestObserver_InitialState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		user *identity.User
		role any
		want State
	}{
		{
			name: "anonymous",
			want: State{Role: domain.RoleUser},
		},
		{
			name: "seller from claim",
			user: &identity.User{UID: "u1", Email: "s@example.com"},
			role: "seller",
			want: State{
				IsAuthed:    true,
				UID:         "u1",
				Email:       "s@example.com",
				Role:        domain.RoleSeller,
				TokenExpiry: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "missing claim defaults to user",
			user: &identity.User{UID: "u2"},
			want: State{
				IsAuthed:    true,
				UID:         "u2",
				Role:        domain.RoleUser,
				TokenExpiry: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := newFakeSource(tt.user)
			src.role = tt.role
			o := NewObserver(context.Background(), src, nil)
			defer o.Close()

			assert.Equal(t, tt.want, waitState(t, o))
		})
	}
}

func TestObserver_StartsLoading(t *testing.T) {
	t.Parallel()

	src := newFakeSource(&identity.User{UID: "u1"})
	gate := make(chan struct{})
	src.gate = gate

	o := NewObserver(context.Background(), src, nil)
	defer o.Close()

	assert.True(t, o.State().IsLoading)
	close(gate)
	assert.False(t, waitState(t, o).IsLoading)
}

func TestObserver_EveryEventForcesRefresh(t *testing.T) {
	t.Parallel()

	src := newFakeSource(nil)
	o := NewObserver(context.Background(), src, nil)
	defer o.Close()
	waitState(t, o)

	src.emit(&identity.User{UID: "u1"})
	waitState(t, o)
	src.emit(&identity.User{UID: "u1"})
	waitState(t, o)

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, 2, src.forced)
	assert.Zero(t, src.unforced)
}

func TestObserver_RefreshPicksUpNewRole(t *testing.T) {
	t.Parallel()

	src := newFakeSource(&identity.User{UID: "u1"})
	src.role = "USER"
	o := NewObserver(context.Background(), src, nil)
	defer o.Close()

	assert.Equal(t, domain.RoleUser, waitState(t, o).Role)

	src.set(func(f *fakeSource) { f.role = "SELLER" })

	st, err := o.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSeller, st.Role)
	assert.True(t, st.IsAuthed)
}

func TestObserver_SignOutResets(t *testing.T) {
	t.Parallel()

	src := newFakeSource(&identity.User{UID: "u1", Email: "a@example.com"})
	src.role = "ADMIN"
	o := NewObserver(context.Background(), src, nil)
	defer o.Close()
	require.Equal(t, domain.RoleAdmin, waitState(t, o).Role)

	src.emit(nil)
	assert.Equal(t, Anonymous(), waitState(t, o))
}

func TestObserver_TokenFailureFallsBackToUser(t *testing.T) {
	t.Parallel()

	src := newFakeSource(&identity.User{UID: "u1"})
	src.role = "ADMIN"
	o := NewObserver(context.Background(), src, nil)
	defer o.Close()
	require.Equal(t, domain.RoleAdmin, waitState(t, o).Role)

	src.set(func(f *fakeSource) { f.err = errors.New("network down") })
	st, err := o.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, st.IsAuthed, "still signed in")
	assert.Equal(t, domain.RoleUser, st.Role, "cached role must not be reused")
	assert.False(t, st.IsLoading)
}

func TestObserver_SubscribeSeesLoadingThenFinal(t *testing.T) {
	t.Parallel()

	src := newFakeSource(nil)
	src.role = "SELLER"
	o := NewObserver(context.Background(), src, nil)
	defer o.Close()
	waitState(t, o)

	var mu sync.Mutex
	var seen []State
	unsub := o.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	src.emit(&identity.User{UID: "u1"})
	waitState(t, o)
	unsub()

	src.emit(nil)
	waitState(t, o)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.True(t, seen[0].IsLoading)
	assert.False(t, seen[1].IsLoading)
	assert.Equal(t, domain.RoleSeller, seen[1].Role)
}

func TestObserver_CloseStopsUpdates(t *testing.T) {
	t.Parallel()

	src := newFakeSource(nil)
	o := NewObserver(context.Background(), src, nil)
	before := waitState(t, o)

	gate := make(chan struct{})
	src.set(func(f *fakeSource) {
		f.gate = gate
		f.role = "ADMIN"
	})
	src.emit(&identity.User{UID: "u1"})

	// Let the derivation start, then close while it is blocked.
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.forced == 1
	}, time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		o.Close()
		close(closed)
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate)
	<-closed

	st := o.State()
	assert.False(t, st.IsAuthed, "late derivation must not land after Close")
	assert.Equal(t, before.Role, st.Role)

	src.emit(&identity.User{UID: "u2"})
	assert.False(t, o.State().IsAuthed)
	require.NoError(t, o.Wait(context.Background()))
}

func TestObserver_ListenerMayClose(t *testing.T) {
	t.Parallel()

	src := newFakeSource(nil)
	o := NewObserver(context.Background(), src, nil)
	waitState(t, o)

	returned := make(chan struct{})
	var once sync.Once
	o.Subscribe(func(st State) {
		if st.IsAuthed && !st.IsLoading {
			o.Close()
			once.Do(func() { close(returned) })
		}
	})

	src.emit(&identity.User{UID: "u1"})
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Close called from a listener did not return")
	}

	src.emit(&identity.User{UID: "u2"})
	assert.Equal(t, "u1", o.State().UID)

	done := make(chan struct{})
	go func() {
		o.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second Close did not return")
	}
}

func TestObserver_WaitHonorsContext(t *testing.T) {
	t.Parallel()

	src := newFakeSource(&identity.User{UID: "u1"})
	gate := make(chan struct{})
	src.gate = gate

	o := NewObserver(context.Background(), src, nil)
	defer o.Close()
	defer close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Wait(ctx), context.DeadlineExceeded)
}

func TestObserver_ContextCancelCloses(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	src := newFakeSource(nil)
	o := NewObserver(ctx, src, nil)
	waitState(t, o)

	cancel()
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.listeners) == 0
	}, time.Second, 5*time.Millisecond)

	o.Close()
}
