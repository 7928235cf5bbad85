package credential_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/raphaelgruber/ragone/internal/credential"
	"github.com/raphaelgruber/ragone/internal/models"
	"github.com/raphaelgruber/ragone/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValid(t *testing.T) {
	now := time.Now()

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).
		SignedString([]byte("k"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"future expiry", testutil.Token(t, "alice", now.Add(time.Hour)), true},
		{"past expiry", testutil.Token(t, "alice", now.Add(-time.Second)), false},
		{"long expired", testutil.Token(t, "alice", now.Add(-30*24*time.Hour)), false},
		{"missing exp claim", noExp, false},
		{"empty", "", false},
		{"not a jwt", "opaque-session-token", false},
		{"bad base64 payload", "eyJhbGciOiJIUzI1NiJ9.!!!.sig", false},
		{"json array payload", "eyJhbGciOiJIUzI1NiJ9.WzFd.sig", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, credential.IsValid(tt.token, now))
		})
	}
}

func TestIsValidPastExpiryProperty(t *testing.T) {
	now := time.Now()
	for _, ago := range []time.Duration{time.Second, time.Minute, time.Hour, 48 * time.Hour, 365 * 24 * time.Hour} {
		tok := testutil.Token(t, "bob", now.Add(-ago))
		assert.False(t, credential.IsValid(tok, now), "expired %s ago must be invalid", ago)
	}
}

func TestExpiry(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	got, err := credential.Expiry(testutil.Token(t, "alice", exp))
	require.NoError(t, err)
	assert.True(t, exp.Equal(got), "expiry = %v, want %v", got, exp)
}

// storeFactories returns one constructor per Store implementation.
func storeFactories(t *testing.T) map[string]func() credential.Store {
	return map[string]func() credential.Store{
		"memory": func() credential.Store { return credential.NewMemoryStore() },
		"sqlite": func() credential.Store {
			s, err := credential.NewSQLite(filepath.Join(t.TempDir(), "state.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	user := models.User{ID: 1, Username: "alice", Email: "alice@example.com", FullName: "Alice", Role: models.RoleUser}

	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()

			_, ok, err := s.Load(ctx)
			require.NoError(t, err)
			assert.False(t, ok, "fresh store should be empty")
			_, ok = s.Token(ctx)
			assert.False(t, ok)

			tok := testutil.ValidToken(t, "alice")
			require.NoError(t, s.Save(ctx, tok, user))

			stored, ok, err := s.Load(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tok, stored.Token)
			assert.Equal(t, user.Username, stored.User.Username)
			assert.Equal(t, user.Role, stored.User.Role)

			got, ok := s.Token(ctx)
			assert.True(t, ok)
			assert.Equal(t, tok, got)
		})
	}
}

func TestStoreClearRemovesBothAndIsIdempotent(t *testing.T) {
	ctx := context.Background()

	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			require.NoError(t, s.Save(ctx, testutil.ValidToken(t, "alice"), models.User{Username: "alice"}))

			require.NoError(t, s.Clear(ctx))
			require.NoError(t, s.Clear(ctx), "second clear should be a no-op")

			_, ok, err := s.Load(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok = s.Token(ctx)
			assert.False(t, ok)
		})
	}
}

func TestStoreSaveOverwrites(t *testing.T) {
	ctx := context.Background()

	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			require.NoError(t, s.Save(ctx, "first", models.User{Username: "alice"}))
			require.NoError(t, s.Save(ctx, "second", models.User{Username: "bob"}))

			stored, ok, err := s.Load(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "second", stored.Token)
			assert.Equal(t, "bob", stored.User.Username)
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	s, err := credential.NewSQLite(path)
	require.NoError(t, err)
	tok := testutil.ValidToken(t, "alice")
	require.NoError(t, s.Save(ctx, tok, models.User{ID: 9, Username: "alice"}))
	require.NoError(t, s.Close())

	reopened, err := credential.NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	stored, ok, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tok, stored.Token)
	assert.Equal(t, int64(9), stored.User.ID)
}
