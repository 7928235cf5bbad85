package client_test

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/raphaelgruber/ragone/internal/client"
	"github.com/raphaelgruber/ragone/internal/credential"
	"github.com/raphaelgruber/ragone/internal/events"
	"github.com/raphaelgruber/ragone/internal/metrics"
	"github.com/raphaelgruber/ragone/internal/models"
	"github.com/raphaelgruber/ragone/internal/testutil/fakeapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPublisher captures auth-expired events.
type recordingPublisher struct {
	mu   sync.Mutex
	seen []events.AuthExpired
}

func (p *recordingPublisher) PublishAuthExpired(_ context.Context, evt events.AuthExpired) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, evt)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

type fixture struct {
	api     *fakeapi.Server
	store   *credential.MemoryStore
	pub     *recordingPublisher
	metrics *metrics.Collector
	client  *client.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:     fakeapi.New(t),
		store:   credential.NewMemoryStore(),
		pub:     &recordingPublisher{},
		metrics: metrics.NewCollector(),
	}
	f.client = client.New(client.Options{
		BaseURL: f.api.BaseURL(),
		Tokens:  f.store,
		Events:  f.pub,
		Metrics: f.metrics,
	})
	return f
}

// signIn stores a server-issued credential for alice.
func (f *fixture) signIn(t *testing.T) {
	t.Helper()
	f.api.AddUser("alice", "secret1", "Alice")
	tok := f.api.IssueToken("alice")
	require.NoError(t, f.store.Save(context.Background(), tok, models.User{Username: "alice"}))
}

func TestLoginDoesNotAttachCredential(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	resp, err := f.client.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Username)
	assert.NotEmpty(t, resp.Token)

	reqs := f.api.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Authorization)
	assert.NotEmpty(t, reqs[0].RequestID)
}

func TestAuthenticatedCallsCarryBearer(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	tok, _ := f.store.Token(context.Background())

	user, err := f.client.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	reqs := f.api.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer "+tok, reqs[0].Authorization)
}

func TestRequestIDsAreUnique(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	for range 3 {
		_, err := f.client.Me(context.Background())
		require.NoError(t, err)
	}
	seen := map[string]bool{}
	for _, r := range f.api.Requests() {
		assert.False(t, seen[r.RequestID], "duplicate request id %s", r.RequestID)
		seen[r.RequestID] = true
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		kind     client.Kind
		sentinel error
	}{
		{http.StatusUnauthorized, client.KindUnauthorized, client.ErrUnauthorized},
		{http.StatusForbidden, client.KindForbidden, client.ErrForbidden},
		{http.StatusNotFound, client.KindNotFound, client.ErrNotFound},
		{http.StatusInternalServerError, client.KindServer, client.ErrServer},
		{http.StatusBadGateway, client.KindServer, client.ErrServer},
		{http.StatusBadRequest, client.KindOther, client.ErrOther},
		{http.StatusConflict, client.KindOther, client.ErrOther},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			f := newFixture(t)
			f.signIn(t)
			f.api.FailNext(http.MethodGet, "/roleplay/sessions", tt.status, "boom")

			_, err := f.client.ListSessions(context.Background())
			require.Error(t, err)

			var apiErr *client.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.kind, apiErr.Kind)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, "boom", apiErr.Message)
			assert.NotEmpty(t, apiErr.RequestID)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestUnauthorizedPublishesAuthExpired(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	f.api.RevokeAll()

	_, err := f.client.Me(context.Background())
	require.Error(t, err)
	assert.True(t, client.IsAuthExpired(err))
	require.Equal(t, 1, f.pub.count())
	assert.Equal(t, "/auth/me", f.pub.seen[0].Path)
	assert.Equal(t, http.MethodGet, f.pub.seen[0].Method)
}

func TestFailedLoginDoesNotPublishAuthExpired(t *testing.T) {
	f := newFixture(t)
	f.api.AddUser("alice", "secret1", "Alice")

	_, err := f.client.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, client.KindUnauthorized, client.KindOf(err))
	assert.Equal(t, 0, f.pub.count())
}

func TestNetworkUnreachable(t *testing.T) {
	api := fakeapi.New(t)
	base := api.BaseURL()
	api.Close()

	c := client.New(client.Options{BaseURL: base})
	_, err := c.ListKnowledgeBases(context.Background())
	require.Error(t, err)
	assert.Equal(t, client.KindNetwork, client.KindOf(err))
	assert.ErrorIs(t, err, client.ErrNetwork)
}

func TestCanceledContextIsNetworkKind(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.client.Me(ctx)
	require.Error(t, err)
	assert.Equal(t, client.KindNetwork, client.KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidationRejectedBeforeNetwork(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	tests := []struct {
		name string
		call func() error
	}{
		{"empty login", func() error {
			_, err := f.client.Login(context.Background(), models.LoginRequest{})
			return err
		}},
		{"short register password", func() error {
			_, err := f.client.Register(context.Background(), models.RegisterRequest{
				Username: "bob", Email: "bob@example.com", Password: "123", FullName: "Bob",
			})
			return err
		}},
		{"bad register email", func() error {
			_, err := f.client.Register(context.Background(), models.RegisterRequest{
				Username: "bob", Email: "not-an-email", Password: "secret1", FullName: "Bob",
			})
			return err
		}},
		{"rating out of range", func() error {
			return f.client.RateMessage(context.Background(), "1", 6)
		}},
		{"blank message", func() error {
			_, err := f.client.SendMessage(context.Background(), models.SendMessageRequest{SessionID: "s"})
			return err
		}},
		{"ask without knowledge base", func() error {
			_, err := f.client.Ask(context.Background(), models.AskRequest{Question: "why"})
			return err
		}},
		{"knowledge base without name", func() error {
			_, err := f.client.CreateKnowledgeBase(context.Background(), models.KnowledgeBaseInput{})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(f.api.Requests())
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, client.KindValidation, client.KindOf(err))
			assert.ErrorIs(t, err, client.ErrValidation)
			assert.Len(t, f.api.Requests(), before, "no request may be sent")
		})
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)

	resp, err := f.client.Register(context.Background(), models.RegisterRequest{
		Username: "bob", Email: "bob@example.com", Password: "secret1", FullName: "Bob",
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "registered")

	_, err = f.client.Login(context.Background(), models.LoginRequest{Username: "bob", Password: "secret1"})
	assert.NoError(t, err)
}

func TestRolePlayRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	charID := f.api.SeedCharacter("Sherlock")
	ctx := context.Background()

	session, err := f.client.StartSession(ctx, models.StartSessionRequest{CharacterID: charID})
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, session.Status)
	assert.Equal(t, charID, session.CharacterID)
	assert.False(t, session.CreatedAt.IsZero())

	resp, err := f.client.SendMessage(ctx, models.SendMessageRequest{SessionID: session.ID, Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", resp.CharacterResponse)
	assert.Equal(t, models.TokenCount(15), resp.TokenUsage)
	require.NotNil(t, resp.MessageID)

	history, err := f.client.History(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.TokenCount(15), history[0].TokenUsage, "string-encoded usage is decoded")
	assert.Equal(t, 1, history[0].TurnNumber)

	msgID := strconv.FormatInt(*resp.MessageID, 10)
	require.NoError(t, f.client.RateMessage(ctx, msgID, 4))
	rating, ok := f.api.Rating(*resp.MessageID)
	require.True(t, ok)
	assert.Equal(t, 4, rating)

	require.NoError(t, f.client.EndSession(ctx, session.ID))
	_, err = f.client.SendMessage(ctx, models.SendMessageRequest{SessionID: session.ID, Message: "again"})
	require.Error(t, err)
	assert.Equal(t, client.KindOther, client.KindOf(err))

	sessions, err := f.client.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, models.SessionEnded, sessions[0].Status)

	require.NoError(t, f.client.DeleteSession(ctx, session.ID))
	_, err = f.client.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestKnowledgeBaseAndDocuments(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	ctx := context.Background()

	kb, err := f.client.CreateKnowledgeBase(ctx, models.KnowledgeBaseInput{Name: "Docs", Description: "manuals"})
	require.NoError(t, err)
	assert.Equal(t, "Docs", kb.Name)
	assert.Equal(t, "manuals", kb.Description)

	last := f.api.Requests()[len(f.api.Requests())-1]
	assert.True(t, strings.HasPrefix(last.ContentType, "multipart/form-data"))

	kb, err = f.client.UpdateKnowledgeBase(ctx, kb.ID, models.KnowledgeBaseInput{Name: "Guides"})
	require.NoError(t, err)
	assert.Equal(t, "Guides", kb.Name)

	doc, err := f.client.UploadDocument(ctx, kb.ID, "intro.txt", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "intro.txt", doc.OriginalFilename)
	assert.Equal(t, int64(11), doc.FileSize)

	docs, err := f.client.ListDocuments(ctx, kb.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, f.client.DeleteDocument(ctx, doc.ID))
	require.NoError(t, f.client.DeleteKnowledgeBase(ctx, kb.ID))

	_, err = f.client.GetKnowledgeBase(ctx, kb.ID)
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestAsk(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	kbID := f.api.SeedKnowledgeBase("Docs")

	resp, err := f.client.Ask(context.Background(), models.AskRequest{
		Question:        "what is ragone?",
		KnowledgeBaseID: kbID,
		SessionID:       "rag-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "answer to: what is ragone?", resp.Answer)
	assert.Equal(t, kbID, resp.KnowledgeBaseID)
	assert.Equal(t, "rag-1", resp.SessionID)
}

func TestCharacters(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	ctx := context.Background()
	kbID := f.api.SeedKnowledgeBase("Lore")

	ch, err := f.client.CreateCharacter(ctx, models.CharacterInput{Name: "Watson", Description: "doctor", KnowledgeBaseID: kbID})
	require.NoError(t, err)
	assert.Equal(t, models.CharacterDraft, ch.Status)

	ch, err = f.client.ToggleCharacterStatus(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CharacterActive, ch.Status)

	found, err := f.client.SearchCharacters(ctx, "wat", 0)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	byKB, err := f.client.CharactersByKnowledgeBase(ctx, kbID)
	require.NoError(t, err)
	assert.Len(t, byKB, 1)

	_, err = f.client.GenerateProfile(ctx, ch.ID)
	require.NoError(t, err)
	ch, err = f.client.GetCharacter(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CharacterGenerating, ch.Status)

	_, err = f.client.CreateCharacter(ctx, models.CharacterInput{Name: "x", AvatarURL: "not a url"})
	assert.ErrorIs(t, err, client.ErrValidation)

	require.NoError(t, f.client.DeleteCharacter(ctx, ch.ID))
	all, err := f.client.ListCharacters(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMetricsRecorded(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	f.api.FailNext(http.MethodGet, "/auth/me", http.StatusInternalServerError, "down")

	_, _ = f.client.Me(context.Background())
	_, _ = f.client.Me(context.Background())

	ops := f.metrics.Snapshot().Operations
	require.Len(t, ops, 1)
	assert.Equal(t, "GET /auth/me", ops[0].Name)
	assert.Equal(t, int64(2), ops[0].Count)
	assert.Equal(t, int64(1), ops[0].Failures)
}

func TestHint(t *testing.T) {
	assert.Contains(t, client.Hint(&client.APIError{Kind: client.KindUnauthorized}), "ragone login")
	assert.Contains(t, client.Hint(&client.APIError{Kind: client.KindNetwork}), "RAGONE_API_URL")
	assert.Empty(t, client.Hint(errors.New("plain")))
}
