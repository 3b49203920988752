// Package session derives the storefront's view of the signed-in user from
// identity provider events.
//
// Every sign-in, sign-out or explicit Refresh triggers a derivation that
// force-fetches a fresh ID token and reads the role claim from it, so a role
// granted on the server becomes visible as soon as the next event is handled.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/donaldgifford/automarket/internal/identity"
	"github.com/donaldgifford/automarket/internal/metrics"
	"github.com/donaldgifford/automarket/pkg/logger"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

const deriveTimeout = 15 * time.Second

// State is the derived session. The zero value is not meaningful; observers
// start in the loading state.
type State struct {
	IsLoading   bool
	IsAuthed    bool
	UID         string
	Email       string
	DisplayName string
	Role        domain.Role
	TokenExpiry time.Time
}

// Anonymous is the state of a signed-out visitor.
func Anonymous() State {
	return State{Role: domain.RoleUser}
}

// Source is the subset of identity.Provider the observer consumes.
type Source interface {
	CurrentUser() *identity.User
	IDTokenResult(ctx context.Context, force bool) (*identity.TokenResult, error)
	OnChange(fn func(*identity.User)) (unsubscribe func())
}

type event struct {
	user *identity.User
}

// Observer keeps State in sync with a Source. Events are handled one at a
// time, in arrival order, on a dedicated goroutine.
type Observer struct {
	src Source
	log *slog.Logger
	ctx context.Context

	mu        sync.Mutex
	state     State
	queue     []event
	queued    uint64
	handled   uint64
	done      chan struct{} // closed and replaced after each handled event
	closed    bool
	listeners map[int]func(State)
	nextID    int

	dispatching atomic.Bool // set while listeners are notified

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
	unsub    func()
}

// NewObserver subscribes to src and starts deriving state. ctx bounds the
// observer's lifetime in addition to Close.
func NewObserver(ctx context.Context, src Source, log *slog.Logger) *Observer {
	o := &Observer{
		src:       src,
		log:       logger.Component(log, "session"),
		ctx:       ctx,
		state:     State{IsLoading: true, Role: domain.RoleUser},
		done:      make(chan struct{}),
		listeners: make(map[int]func(State)),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		exited:    make(chan struct{}),
	}

	o.unsub = src.OnChange(o.enqueue)
	go o.run()

	return o
}

// State returns the current derived state.
func (o *Observer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe registers fn for every state change. The returned func
// unsubscribes.
func (o *Observer) Subscribe(fn func(State)) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// Refresh re-derives the state for the current user with a forced token
// refresh and waits for the result. Used after a role change.
func (o *Observer) Refresh(ctx context.Context) (State, error) {
	o.enqueue(o.src.CurrentUser())
	if err := o.Wait(ctx); err != nil {
		return o.State(), err
	}
	return o.State(), nil
}

// Wait blocks until every event received so far has been handled.
func (o *Observer) Wait(ctx context.Context) error {
	o.mu.Lock()
	target := o.queued
	o.mu.Unlock()

	for {
		o.mu.Lock()
		if o.handled >= target || o.closed {
			o.mu.Unlock()
			return nil
		}
		done := o.done
		o.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close unsubscribes from the source. Events arriving afterwards, including
// a derivation still in flight, no longer change the state. Close waits for
// the event goroutine to exit unless listeners are being notified, so a
// listener may call it.
func (o *Observer) Close() {
	o.markClosed()
	o.stopOnce.Do(func() { close(o.stop) })
	if o.dispatching.Load() {
		return
	}
	<-o.exited
}

func (o *Observer) markClosed() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.done)
	o.mu.Unlock()

	o.unsub()
}

func (o *Observer) enqueue(u *identity.User) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, event{user: u})
	o.queued++
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Observer) run() {
	defer close(o.exited)

	for {
		select {
		case <-o.stop:
			return
		case <-o.ctx.Done():
			o.markClosed()
			return
		case <-o.wake:
		}

		for {
			o.mu.Lock()
			if o.closed || len(o.queue) == 0 {
				o.mu.Unlock()
				break
			}
			ev := o.queue[0]
			o.queue = o.queue[1:]
			o.mu.Unlock()

			o.handle(ev)
		}
	}
}

func (o *Observer) handle(ev event) {
	loading := o.State()
	loading.IsLoading = true
	o.apply(loading, false)

	next := o.derive(ev.user)
	metrics.SessionChangesTotal.Inc()
	o.apply(next, true)
}

func (o *Observer) derive(u *identity.User) State {
	if u == nil {
		return Anonymous()
	}

	st := State{
		IsAuthed:    true,
		UID:         u.UID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        domain.RoleUser,
	}

	ctx, cancel := context.WithTimeout(o.ctx, deriveTimeout)
	defer cancel()

	res, err := o.src.IDTokenResult(ctx, true)
	if err != nil {
		o.log.Warn("token refresh failed, falling back to USER role",
			"uid", u.UID, "error", err)
		return st
	}

	st.Role = res.Role()
	st.TokenExpiry = res.Expiry
	o.log.Debug("session derived", "uid", u.UID, "role", st.Role)
	return st
}

// apply stores st unless the observer is closed. finished marks the end of
// an event's derivation.
func (o *Observer) apply(st State, finished bool) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.state = st
	fns := make([]func(State), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	if finished {
		o.handled++
		close(o.done)
		o.done = make(chan struct{})
	}
	o.mu.Unlock()

	o.dispatching.Store(true)
	defer o.dispatching.Store(false)
	for _, fn := range fns {
		fn(st)
	}
}
