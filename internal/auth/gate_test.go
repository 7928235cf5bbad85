package auth_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/ragone/internal/auth"
	"github.com/raphaelgruber/ragone/internal/client"
	"github.com/raphaelgruber/ragone/internal/credential"
	"github.com/raphaelgruber/ragone/internal/events"
	"github.com/raphaelgruber/ragone/internal/models"
	"github.com/raphaelgruber/ragone/internal/testutil"
	"github.com/raphaelgruber/ragone/internal/testutil/fakeapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingNav struct{ n atomic.Int32 }

func (c *countingNav) ToLogin() { c.n.Add(1) }

type harness struct {
	api    *fakeapi.Server
	store  *credential.MemoryStore
	client *client.Client
	nav    *countingNav
	gate   *auth.Gate
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		api:   fakeapi.New(t),
		store: credential.NewMemoryStore(),
		nav:   &countingNav{},
	}
	bus := events.NewBus(nil)
	t.Cleanup(func() { bus.Close() })

	h.client = client.New(client.Options{
		BaseURL: h.api.BaseURL(),
		Tokens:  h.store,
		Events:  bus,
	})

	gate, err := auth.New(auth.Options{
		Store:     h.store,
		Backend:   h.client,
		Expiry:    bus,
		Navigator: h.nav,
	})
	require.NoError(t, err)
	t.Cleanup(gate.Close)
	h.gate = gate
	return h
}

func waitConfirmed(t *testing.T, g *auth.Gate) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.AwaitConfirmed(ctx))
}

func assertStoreEmpty(t *testing.T, s credential.Store) {
	t.Helper()
	_, ok, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "credential should be cleared")
	_, ok = s.Token(context.Background())
	assert.False(t, ok, "token should be cleared")
}

func TestInitWithoutCredential(t *testing.T) {
	h := newHarness(t)

	h.gate.Init(context.Background())
	waitConfirmed(t, h.gate)

	assert.Equal(t, models.StatusUnauthenticated, h.gate.State().Status)
	assert.Equal(t, 0, h.api.Count(http.MethodGet, "/auth/me"))
}

func TestInitWithExpiredCredentialClearsStore(t *testing.T) {
	h := newHarness(t)
	expired := testutil.Token(t, "alice", time.Now().Add(-time.Minute))
	require.NoError(t, h.store.Save(context.Background(), expired, models.User{Username: "alice"}))

	h.gate.Init(context.Background())
	waitConfirmed(t, h.gate)

	assert.Equal(t, models.StatusUnauthenticated, h.gate.State().Status)
	assertStoreEmpty(t, h.store)
	assert.Equal(t, 0, h.api.Count(http.MethodGet, "/auth/me"), "expired credential is never sent")
}

func TestInitOptimisticThenConfirmed(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("alice", "secret1", "Alice Liddell")
	tok := h.api.IssueToken("alice")
	require.NoError(t, h.store.Save(context.Background(), tok, models.User{Username: "alice", Role: models.RoleUser}))

	h.gate.Init(context.Background())

	st := h.gate.State()
	assert.Equal(t, models.StatusAuthenticated, st.Status, "optimistic state before confirmation")
	require.NotNil(t, st.User)
	assert.Equal(t, "alice", st.User.Username)

	waitConfirmed(t, h.gate)
	st = h.gate.State()
	assert.Equal(t, models.StatusAuthenticated, st.Status)
	assert.Equal(t, "Alice Liddell", st.User.FullName, "cached user refreshed from server")

	stored, ok, err := h.store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice Liddell", stored.User.FullName)
	assert.Equal(t, tok, stored.Token)
}

func TestInitConfirmationFailureLogsOut(t *testing.T) {
	tests := []struct {
		name     string
		breakAPI func(api *fakeapi.Server)
	}{
		{"credential revoked", func(api *fakeapi.Server) { api.RevokeAll() }},
		{"server error", func(api *fakeapi.Server) {
			api.FailNext(http.MethodGet, "/auth/me", http.StatusInternalServerError, "down")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.api.AddUser("alice", "secret1", "Alice")
			tok := h.api.IssueToken("alice")
			require.NoError(t, h.store.Save(context.Background(), tok, models.User{Username: "alice"}))
			tt.breakAPI(h.api)

			h.gate.Init(context.Background())
			waitConfirmed(t, h.gate)

			assert.Equal(t, models.StatusUnauthenticated, h.gate.State().Status)
			assertStoreEmpty(t, h.store)
		})
	}
}

func TestLoginThenUnauthorizedForcesLogout(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("alice", "secret1", "Alice")
	h.gate.Init(context.Background())

	ok, err := h.gate.Login(context.Background(), "alice", "secret1")
	require.NoError(t, err)
	require.True(t, ok)

	st := h.gate.State()
	assert.Equal(t, models.StatusAuthenticated, st.Status)
	require.NotNil(t, st.User)
	assert.Equal(t, "alice", st.User.Username)

	h.api.RevokeAll()
	_, err = h.client.ListSessions(context.Background())
	require.Error(t, err)
	assert.True(t, client.IsAuthExpired(err))

	// The forced logout is complete by the time the call returns.
	assert.Equal(t, models.StatusUnauthenticated, h.gate.State().Status)
	assertStoreEmpty(t, h.store)
	assert.Equal(t, int32(1), h.nav.n.Load())
}

func TestLoginWrongPassword(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("alice", "secret1", "Alice")
	h.gate.Init(context.Background())

	ok, err := h.gate.Login(context.Background(), "alice", "nope")
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, client.KindUnauthorized, client.KindOf(err))
	assert.Equal(t, models.StatusUnauthenticated, h.gate.State().Status)
	assertStoreEmpty(t, h.store)
	assert.Equal(t, int32(0), h.nav.n.Load(), "a rejected login is not an expired session")
}

func TestLogoutClearsEverythingAndIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("alice", "secret1", "Alice")
	h.gate.Init(context.Background())
	ok, err := h.gate.Login(context.Background(), "alice", "secret1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.gate.Logout(context.Background()))
	require.NoError(t, h.gate.Logout(context.Background()))

	assert.Equal(t, models.StatusUnauthenticated, h.gate.State().Status)
	assert.Nil(t, h.gate.State().User)
	assertStoreEmpty(t, h.store)
}

func TestRegisterDoesNotChangeState(t *testing.T) {
	h := newHarness(t)
	h.gate.Init(context.Background())

	_, err := h.gate.Register(context.Background(), models.RegisterRequest{
		Username: "bob", Email: "bob@example.com", Password: "secret1", FullName: "Bob",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnauthenticated, h.gate.State().Status)
	assertStoreEmpty(t, h.store)
}

// stubBackend lets tests control login timing and failures.
type stubBackend struct {
	login func(ctx context.Context, req models.LoginRequest) (*models.JWTResponse, error)
	me    func(ctx context.Context) (*models.User, error)
}

func (s *stubBackend) Login(ctx context.Context, req models.LoginRequest) (*models.JWTResponse, error) {
	return s.login(ctx, req)
}

func (s *stubBackend) Register(context.Context, models.RegisterRequest) (*models.MessageResponse, error) {
	return &models.MessageResponse{Message: "ok"}, nil
}

func (s *stubBackend) Me(ctx context.Context) (*models.User, error) {
	return s.me(ctx)
}

func TestLoginRecoversPanic(t *testing.T) {
	store := credential.NewMemoryStore()
	gate, err := auth.New(auth.Options{
		Store: store,
		Backend: &stubBackend{
			login: func(context.Context, models.LoginRequest) (*models.JWTResponse, error) {
				return &models.JWTResponse{Token: "t", Username: "alice"}, nil
			},
			me: func(context.Context) (*models.User, error) { panic("transport exploded") },
		},
	})
	require.NoError(t, err)
	defer gate.Close()

	ok, err := gate.Login(context.Background(), "alice", "secret1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, auth.ErrLoginPanic)
	assert.Equal(t, models.StatusUnauthenticated, gate.State().Status)
	assertStoreEmpty(t, store)
}

func TestOverlappingLoginsLastWins(t *testing.T) {
	store := credential.NewMemoryStore()
	release := make(chan struct{})
	entered := make(chan struct{})

	backend := &stubBackend{
		login: func(_ context.Context, req models.LoginRequest) (*models.JWTResponse, error) {
			if req.Username == "slow" {
				close(entered)
				<-release
			}
			return &models.JWTResponse{Token: "tok-" + req.Username, Username: req.Username}, nil
		},
	}
	backend.me = func(ctx context.Context) (*models.User, error) {
		tok, _ := store.Token(ctx)
		return &models.User{Username: tok[len("tok-"):]}, nil
	}

	gate, err := auth.New(auth.Options{Store: store, Backend: backend})
	require.NoError(t, err)
	defer gate.Close()

	var wg sync.WaitGroup
	var slowOK bool
	var slowErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		slowOK, slowErr = gate.Login(context.Background(), "slow", "pw")
	}()
	<-entered

	ok, err := gate.Login(context.Background(), "fast", "pw")
	require.NoError(t, err)
	require.True(t, ok)

	close(release)
	wg.Wait()

	assert.False(t, slowOK)
	assert.True(t, errors.Is(slowErr, auth.ErrSuperseded))

	st := gate.State()
	assert.Equal(t, models.StatusAuthenticated, st.Status)
	assert.Equal(t, "fast", st.User.Username)
	tok, _ := store.Token(context.Background())
	assert.Equal(t, "tok-fast", tok)
}

func TestLogoutDuringLoginWins(t *testing.T) {
	store := credential.NewMemoryStore()
	release := make(chan struct{})
	entered := make(chan struct{})

	gate, err := auth.New(auth.Options{Store: store, Backend: &stubBackend{
		login: func(context.Context, models.LoginRequest) (*models.JWTResponse, error) {
			close(entered)
			<-release
			return &models.JWTResponse{Token: "tok", Username: "alice"}, nil
		},
		me: func(context.Context) (*models.User, error) { return &models.User{Username: "alice"}, nil },
	}})
	require.NoError(t, err)
	defer gate.Close()

	done := make(chan bool)
	go func() {
		ok, _ := gate.Login(context.Background(), "alice", "pw")
		done <- ok
	}()
	<-entered
	assert.Equal(t, models.StatusAuthenticating, gate.State().Status)

	require.NoError(t, gate.Logout(context.Background()))
	close(release)

	assert.False(t, <-done)
	assert.Equal(t, models.StatusUnauthenticated, gate.State().Status)
	assertStoreEmpty(t, store)
}

func TestSubscribeSeesLatestState(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("alice", "secret1", "Alice")
	updates := h.gate.Subscribe()
	h.gate.Init(context.Background())

	ok, err := h.gate.Login(context.Background(), "alice", "secret1")
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case st := <-updates:
		assert.Equal(t, models.StatusAuthenticated, st.Status)
	case <-time.After(time.Second):
		t.Fatal("no state update delivered")
	}
}
