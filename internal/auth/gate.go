// Package auth owns the authentication session: it rehydrates the stored
// credential at startup, confirms it with the server, and performs login,
// logout and forced logout when the server rejects the credential.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/ragone/internal/credential"
	"github.com/raphaelgruber/ragone/internal/events"
	"github.com/raphaelgruber/ragone/internal/models"
)

var (
	// ErrSuperseded is returned by Login when a later login or logout took
	// effect before it completed.
	ErrSuperseded = errors.New("login superseded")
	// ErrLoginPanic wraps a panic recovered during login.
	ErrLoginPanic = errors.New("login aborted")
)

// Backend is the subset of the API the gate needs.
type Backend interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.JWTResponse, error)
	Register(ctx context.Context, req models.RegisterRequest) (*models.MessageResponse, error)
	Me(ctx context.Context) (*models.User, error)
}

// Reader is the read-only view of the session given to every other component.
type Reader interface {
	State() models.AuthState
}

// Navigator moves the user to the login screen. Implementations do nothing
// when the user is already there.
type Navigator interface {
	ToLogin()
}

// ExpirySource delivers auth-expired notifications.
type ExpirySource interface {
	OnAuthExpired(ctx context.Context, handle func(context.Context, events.AuthExpired)) error
}

// Options configures a Gate.
type Options struct {
	Store     credential.Store
	Backend   Backend
	Expiry    ExpirySource
	Navigator Navigator
	Logger    *slog.Logger
	// ConfirmTimeout bounds the startup "who am I" call. Zero means 30s.
	ConfirmTimeout time.Duration
	// Now is used for credential expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// Gate is the single owner of the authentication state.
type Gate struct {
	store          credential.Store
	backend        Backend
	nav            Navigator
	logger         *slog.Logger
	now            func() time.Time
	confirmTimeout time.Duration

	mu    sync.Mutex
	state models.AuthState
	// gen increments on every login start and logout. Work started under an
	// older generation must not apply its result.
	gen  uint64
	subs []chan models.AuthState

	initOnce    sync.Once
	confirmed   chan struct{}
	confirmOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Reader = (*Gate)(nil)

// New creates a gate in the unauthenticated state and starts listening for
// auth-expired events. Call Init once before use and Close when done.
func New(opts Options) (*Gate, error) {
	if opts.Store == nil || opts.Backend == nil {
		return nil, errors.New("auth: store and backend are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timeout := opts.ConfirmTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gate{
		store:          opts.Store,
		backend:        opts.Backend,
		nav:            opts.Navigator,
		logger:         logger.With("component", "auth"),
		now:            now,
		confirmTimeout: timeout,
		state:          models.AuthState{Status: models.StatusUnauthenticated},
		confirmed:      make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}

	if opts.Expiry != nil {
		if err := opts.Expiry.OnAuthExpired(ctx, g.handleExpired); err != nil {
			cancel()
			return nil, fmt.Errorf("listen for auth expiry: %w", err)
		}
	}
	return g, nil
}

// SetNavigator replaces the navigator used on forced logout.
func (g *Gate) SetNavigator(nav Navigator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nav = nav
}

// State returns a copy of the current state.
func (g *Gate) State() models.AuthState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Gate) snapshotLocked() models.AuthState {
	st := models.AuthState{Status: g.state.Status}
	if g.state.User != nil {
		u := *g.state.User
		st.User = &u
	}
	return st
}

// Subscribe returns a channel that always holds the latest state after a
// change. Intermediate states may be skipped by slow readers. The channel is
// closed by Close.
func (g *Gate) Subscribe() <-chan models.AuthState {
	ch := make(chan models.AuthState, 1)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, ch)
	return ch
}

// setLocked transitions the state and notifies subscribers.
func (g *Gate) setLocked(status models.AuthStatus, user *models.User) {
	if status == models.StatusAuthenticated && user == nil {
		panic("auth: authenticated state requires a user")
	}
	g.state = models.AuthState{Status: status, User: user}
	st := g.snapshotLocked()
	for _, ch := range g.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}

// Confirmed is closed once startup confirmation has settled, whatever its
// outcome.
func (g *Gate) Confirmed() <-chan struct{} {
	return g.confirmed
}

// AwaitConfirmed blocks until startup confirmation settles or ctx is done.
// State-changing commands call it before acting on an optimistic session.
func (g *Gate) AwaitConfirmed(ctx context.Context) error {
	select {
	case <-g.confirmed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) settle() {
	g.confirmOnce.Do(func() { close(g.confirmed) })
}

// Init rehydrates the session from the store. With a valid stored credential
// the state becomes authenticated immediately and a background call confirms
// it; otherwise the store is cleared. Only the first call has any effect.
func (g *Gate) Init(ctx context.Context) {
	g.initOnce.Do(func() { g.init(ctx) })
}

func (g *Gate) init(ctx context.Context) {
	stored, ok, err := g.store.Load(ctx)
	if err != nil {
		g.logger.Warn("stored credential unreadable", "error", err)
	}

	g.mu.Lock()
	if err != nil || !ok || !credential.IsValid(stored.Token, g.now()) {
		if clearErr := g.store.Clear(ctx); clearErr != nil {
			g.logger.Error("failed to clear credential", "error", clearErr)
		}
		g.setLocked(models.StatusUnauthenticated, nil)
		g.mu.Unlock()
		g.settle()
		if ok {
			g.logger.Info("stored credential expired")
		}
		return
	}

	user := stored.User
	g.setLocked(models.StatusAuthenticated, &user)
	gen := g.gen
	g.mu.Unlock()

	g.logger.Debug("session restored, confirming", "username", user.Username)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.settle()
		g.confirm(gen)
	}()
}

// confirm asks the server who the stored credential belongs to.
func (g *Gate) confirm(gen uint64) {
	ctx, cancel := context.WithTimeout(g.ctx, g.confirmTimeout)
	defer cancel()

	me, err := g.backend.Me(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen {
		return
	}
	if err != nil {
		g.logger.Warn("session confirmation failed", "error", err)
		g.clearLocked(ctx)
		g.setLocked(models.StatusUnauthenticated, nil)
		return
	}

	user := g.mergeUser(*me)
	if token, ok := g.store.Token(ctx); ok {
		if err := g.store.Save(ctx, token, user); err != nil {
			g.logger.Warn("failed to refresh cached user", "error", err)
		}
	}
	g.setLocked(models.StatusAuthenticated, &user)
	g.logger.Debug("session confirmed", "username", user.Username)
}

// mergeUser keeps cached fields the server record leaves empty.
// Caller must hold g.mu.
func (g *Gate) mergeUser(server models.User) models.User {
	if g.state.User == nil {
		return server
	}
	cached := *g.state.User
	if server.Role == "" {
		server.Role = cached.Role
	}
	if server.FullName == "" {
		server.FullName = cached.FullName
	}
	if server.Email == "" {
		server.Email = cached.Email
	}
	return server
}

func (g *Gate) clearLocked(ctx context.Context) {
	if err := g.store.Clear(context.WithoutCancel(ctx)); err != nil {
		g.logger.Error("failed to clear credential", "error", err)
	}
}

// Login authenticates with the server, stores the credential and confirms
// it. On any failure, including a panic in the transport, the store is
// cleared and the state returns to unauthenticated. When logins overlap the
// last one started wins.
func (g *Gate) Login(ctx context.Context, username, password string) (ok bool, err error) {
	g.mu.Lock()
	g.gen++
	gen := g.gen
	g.setLocked(models.StatusAuthenticating, nil)
	g.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("login panicked", "panic", r)
			ok, err = false, fmt.Errorf("%w: %v", ErrLoginPanic, r)
		}
		if !ok {
			g.failLogin(ctx, gen)
		}
	}()

	resp, err := g.backend.Login(ctx, models.LoginRequest{Username: username, Password: password})
	if err != nil {
		return false, err
	}

	user := resp.CachedUser()
	if err := g.saveIfCurrent(ctx, gen, resp.Token, user); err != nil {
		return false, err
	}

	me, err := g.backend.Me(ctx)
	if err != nil {
		return false, fmt.Errorf("confirm login: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen {
		return false, ErrSuperseded
	}
	if me.Role == "" {
		me.Role = user.Role
	}
	confirmed := *me
	if err := g.store.Save(ctx, resp.Token, confirmed); err != nil {
		g.logger.Warn("failed to refresh cached user", "error", err)
	}
	g.setLocked(models.StatusAuthenticated, &confirmed)
	g.settle()
	g.logger.Info("logged in", "username", confirmed.Username)
	return true, nil
}

func (g *Gate) saveIfCurrent(ctx context.Context, gen uint64, token string, user models.User) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen {
		return ErrSuperseded
	}
	if err := g.store.Save(ctx, token, user); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// failLogin undoes a failed login unless a newer one took over.
func (g *Gate) failLogin(ctx context.Context, gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen {
		return
	}
	g.clearLocked(ctx)
	g.setLocked(models.StatusUnauthenticated, nil)
}

// Register creates an account without signing in.
func (g *Gate) Register(ctx context.Context, req models.RegisterRequest) (*models.MessageResponse, error) {
	return g.backend.Register(ctx, req)
}

// Logout clears the stored credential and ends the session. It is idempotent
// and cancels the effect of any login still in flight.
func (g *Gate) Logout(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	err := g.store.Clear(context.WithoutCancel(ctx))
	g.setLocked(models.StatusUnauthenticated, nil)
	if err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	return nil
}

func (g *Gate) handleExpired(ctx context.Context, evt events.AuthExpired) {
	g.logger.Warn("session expired", "method", evt.Method, "path", evt.Path, "request_id", evt.RequestID)
	if err := g.Logout(ctx); err != nil {
		g.logger.Error("forced logout failed", "error", err)
	}

	g.mu.Lock()
	nav := g.nav
	g.mu.Unlock()
	if nav != nil {
		nav.ToLogin()
	}
}

// Close stops background work and closes subscriber channels.
func (g *Gate) Close() {
	g.cancel()
	g.wg.Wait()
	g.settle()

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, ch := range g.subs {
		close(ch)
	}
	g.subs = nil
}
