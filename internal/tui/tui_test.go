package tui

import (
	"context"
	"errors"
	"fmt"
	"testing"

	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/ragone/internal/client"
	"github.com/raphaelgruber/ragone/internal/conversation"
	"github.com/raphaelgruber/ragone/internal/credential"
	"github.com/raphaelgruber/ragone/internal/models"
	"github.com/raphaelgruber/ragone/internal/testutil/fakeapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConversation struct {
	turns   []Turn
	sendErr error
	rated   map[int]int
	ended   bool
}

func (s *stubConversation) Title() string { return "Sherlock" }

func (s *stubConversation) Turns() []Turn { return append([]Turn(nil), s.turns...) }

func (s *stubConversation) Send(_ context.Context, text string) (Turn, error) {
	if s.sendErr != nil {
		return Turn{}, s.sendErr
	}
	t := Turn{Index: len(s.turns) + 1, User: text, Reply: "echo: " + text}
	s.turns = append(s.turns, t)
	return t, nil
}

func (s *stubConversation) RateTurn(_ context.Context, turn, rating int) error {
	if s.rated == nil {
		s.rated = map[int]int{}
	}
	s.rated[turn] = rating
	return nil
}

func (s *stubConversation) End(context.Context) error {
	s.ended = true
	return nil
}

func key(s string) tea.KeyPressMsg {
	if s == "enter" {
		return tea.KeyPressMsg{Code: tea.KeyEnter}
	}
	return tea.KeyPressMsg{Code: []rune(s)[0], Text: s}
}

func typeText(t *testing.T, m chatModel, text string) chatModel {
	t.Helper()
	for _, r := range text {
		next, _ := m.Update(key(string(r)))
		m = next.(chatModel)
	}
	return m
}

// run executes cmd and feeds its message back, as the program loop would.
func run(t *testing.T, m chatModel, cmd tea.Cmd) chatModel {
	t.Helper()
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	return next.(chatModel)
}

func TestChatSendShowsPlaceholderThenConfirmedTurn(t *testing.T) {
	conv := &stubConversation{}
	m := newChatModel(context.Background(), conv, ChatOptions{})

	m = typeText(t, m, "hello")
	next, cmd := m.Update(key("enter"))
	m = next.(chatModel)

	require.NotNil(t, m.pending)
	assert.Equal(t, "hello", m.pending.text)
	assert.Empty(t, m.turns, "nothing is appended before confirmation")
	assert.Contains(t, m.transcript(), "sending…")

	m = run(t, m, cmd)
	assert.Nil(t, m.pending)
	require.Len(t, m.turns, 1)
	assert.Equal(t, "echo: hello", m.turns[0].Reply)
	assert.NotContains(t, m.transcript(), "sending…")
}

func TestChatSecondSendWhileWaitingIsRefused(t *testing.T) {
	m := newChatModel(context.Background(), &stubConversation{}, ChatOptions{})

	m = typeText(t, m, "one")
	next, first := m.Update(key("enter"))
	m = next.(chatModel)

	m = typeText(t, m, "two")
	next, second := m.Update(key("enter"))
	m = next.(chatModel)

	assert.Nil(t, second)
	assert.True(t, m.statusErr)
	assert.Equal(t, "one", m.pending.text)

	m = run(t, m, first)
	require.Len(t, m.turns, 1)
}

func TestChatFailedSendRestoresInput(t *testing.T) {
	conv := &stubConversation{sendErr: &client.APIError{Kind: client.KindServer, Message: "llm down"}}
	m := newChatModel(context.Background(), conv, ChatOptions{})

	m = typeText(t, m, "hi")
	next, cmd := m.Update(key("enter"))
	m = run(t, next.(chatModel), cmd)

	assert.Nil(t, m.pending)
	assert.Empty(t, m.turns)
	assert.Equal(t, "hi", m.input.Value())
	assert.True(t, m.statusErr)
	assert.Contains(t, m.status, "try again later")
}

func TestChatStaleResultIgnored(t *testing.T) {
	m := newChatModel(context.Background(), &stubConversation{}, ChatOptions{})
	m = typeText(t, m, "hi")
	next, _ := m.Update(key("enter"))
	m = next.(chatModel)

	next, _ = m.Update(sentMsg{id: "someone-else", err: errors.New("boom")})
	m = next.(chatModel)
	assert.NotNil(t, m.pending)
	assert.Empty(t, m.status)
}

func TestChatSlashCommands(t *testing.T) {
	conv := &stubConversation{turns: []Turn{{Index: 1, User: "a", Reply: "b"}}}
	m := newChatModel(context.Background(), conv, ChatOptions{})

	m = typeText(t, m, "/rate 1 4")
	next, cmd := m.Update(key("enter"))
	m = run(t, next.(chatModel), cmd)
	assert.Equal(t, 4, conv.rated[1])
	assert.Equal(t, "Rated turn 1: 4/5", m.status)

	m = typeText(t, m, "/rate x")
	next, cmd = m.Update(key("enter"))
	m = next.(chatModel)
	assert.Nil(t, cmd)
	assert.True(t, m.statusErr)

	m = typeText(t, m, "/end")
	next, cmd = m.Update(key("enter"))
	m = run(t, next.(chatModel), cmd)
	assert.True(t, conv.ended)
	assert.True(t, m.ended)
	assert.Contains(t, m.renderContent(), "(ended)")
}

// enter types text and presses enter.
func enter(t *testing.T, m chatModel, text string) (chatModel, tea.Cmd) {
	t.Helper()
	m = typeText(t, m, text)
	next, cmd := m.Update(key("enter"))
	return next.(chatModel), cmd
}

// rolePlayChat opens a chat screen over a live session against the fake API,
// which answers sends without a message id.
func rolePlayChat(t *testing.T) (chatModel, *conversation.Machine, *fakeapi.Server) {
	t.Helper()
	api := fakeapi.New(t)
	api.AddUser("ada", "secret", "Ada")
	api.OmitMessageIDs()
	store := credential.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), api.IssueToken("ada"), models.User{Username: "ada"}))
	c := client.New(client.Options{BaseURL: api.BaseURL(), Tokens: store})

	machine, err := conversation.Start(context.Background(), c, api.SeedCharacter("Holmes"), "case")
	require.NoError(t, err)
	t.Cleanup(machine.Release)
	return newChatModel(context.Background(), RolePlay(machine, "Holmes"), ChatOptions{}), machine, api
}

func TestChatRatesTurnSentWithoutMessageID(t *testing.T) {
	m, machine, _ := rolePlayChat(t)

	m, cmd := enter(t, m, "hello")
	m = run(t, m, cmd)
	require.Len(t, m.turns, 1)

	m, cmd = enter(t, m, "/rate 1 5")
	m = run(t, m, cmd)
	assert.False(t, m.statusErr, m.status)
	assert.Equal(t, "Rated turn 1: 5/5", m.status)
	assert.Contains(t, m.turns[0].Meta, "rated 5")

	snap, err := machine.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, 5, *snap.Messages[0].FeedbackRating)
}

func TestChatReloadReplacesTurns(t *testing.T) {
	m, machine, api := rolePlayChat(t)

	m, cmd := enter(t, m, "hello")
	m = run(t, m, cmd)

	m, cmd = enter(t, m, "/reload")
	m = run(t, m, cmd)
	assert.Equal(t, "History reloaded", m.status)
	require.Len(t, m.turns, 1)
	assert.Equal(t, "echo: hello", m.turns[0].Reply)
	assert.Equal(t, 1, api.Count("GET", "/roleplay/sessions/"+machine.ID()+"/history"))
}

func TestChatPauseBlocksSendsUntilResume(t *testing.T) {
	m, _, api := rolePlayChat(t)

	m, cmd := enter(t, m, "/pause")
	assert.Nil(t, cmd)
	assert.False(t, m.statusErr)

	m, cmd = enter(t, m, "hello")
	m = run(t, m, cmd)
	assert.True(t, m.statusErr)
	assert.Empty(t, m.turns)
	assert.Equal(t, "hello", m.input.Value(), "rejected text is kept")
	assert.Zero(t, api.Count("POST", "/roleplay/message"))

	m.input.Reset()
	m, _ = enter(t, m, "/resume")
	assert.Equal(t, "Resumed", m.status)

	m, cmd = enter(t, m, "hello")
	m = run(t, m, cmd)
	require.Len(t, m.turns, 1)
}

func TestChatCommandsNeedCapableConversation(t *testing.T) {
	m := newChatModel(context.Background(), &stubConversation{}, ChatOptions{})

	m, cmd := enter(t, m, "/pause")
	assert.Nil(t, cmd)
	assert.True(t, m.statusErr)

	m, cmd = enter(t, m, "/reload")
	assert.Nil(t, cmd)
	assert.True(t, m.statusErr)
}

func TestChatClosesWhenSessionExpires(t *testing.T) {
	ch := make(chan models.AuthState, 1)
	m := newChatModel(context.Background(), &stubConversation{}, ChatOptions{Auth: ch})

	ch <- models.AuthState{Status: models.StatusAuthenticated, User: &models.User{Username: "ada"}}
	next, cmd := m.Update(waitAuth(ch)())
	m = next.(chatModel)
	assert.False(t, m.expired)
	assert.NotNil(t, cmd, "keeps watching")

	ch <- models.AuthState{Status: models.StatusUnauthenticated}
	next, _ = m.Update(waitAuth(ch)())
	m = next.(chatModel)
	assert.True(t, m.expired)
}

type stubAuth struct {
	calls int
	fail  bool
}

func (s *stubAuth) Login(_ context.Context, username, password string) (bool, error) {
	s.calls++
	if s.fail {
		return false, &client.APIError{Kind: client.KindUnauthorized, Message: "bad credentials"}
	}
	return true, nil
}

func TestLoginFormSubmits(t *testing.T) {
	auth := &stubAuth{}
	m := newLoginModel(context.Background(), auth, "ada")
	assert.Equal(t, 1, m.focus, "prefilled username focuses password")

	for _, r := range "secret" {
		next, _ := m.Update(key(string(r)))
		m = next.(loginModel)
	}
	next, cmd := m.Update(key("enter"))
	m = next.(loginModel)
	assert.True(t, m.busy)
	require.NotNil(t, cmd)

	next, _ = m.Update(cmd())
	m = next.(loginModel)
	assert.True(t, m.done)
	assert.Equal(t, 1, auth.calls)
}

func TestLoginFormShowsFailureAndClearsPassword(t *testing.T) {
	auth := &stubAuth{fail: true}
	m := newLoginModel(context.Background(), auth, "ada")
	for _, r := range "wrong" {
		next, _ := m.Update(key(string(r)))
		m = next.(loginModel)
	}
	next, cmd := m.Update(key("enter"))
	next, _ = next.(loginModel).Update(cmd())
	m = next.(loginModel)

	assert.False(t, m.done)
	assert.False(t, m.busy)
	assert.Empty(t, m.inputs[1].Value())
	assert.Contains(t, m.renderContent(), "bad credentials")
}

func TestLoginFormRequiresBothFields(t *testing.T) {
	auth := &stubAuth{}
	m := newLoginModel(context.Background(), auth, "")
	next, _ := m.Update(key("enter")) // moves to password
	next, cmd := next.(loginModel).Update(key("enter"))
	m = next.(loginModel)

	assert.Nil(t, cmd)
	assert.Error(t, m.err)
	assert.Zero(t, auth.calls)
}

func TestSummarize(t *testing.T) {
	docs := []models.Document{
		{ID: 1, ProcessStatus: models.ProcessCompleted, ChunkCount: 4},
		{ID: 2, ProcessStatus: models.ProcessProcessing},
		{ID: 3, ProcessStatus: models.ProcessFailed, OriginalFilename: "bad.pdf"},
		{ID: 4, ProcessStatus: models.ProcessPending},
	}

	tests := []struct {
		name      string
		ids       []int64
		total     int
		completed int
		failed    int
		done      bool
	}{
		{"all documents", nil, 4, 1, 1, false},
		{"finished subset", []int64{1, 3}, 2, 1, 1, true},
		{"pending subset", []int64{4}, 1, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Summarize(docs, tt.ids...)
			if in.Total != tt.total || in.Completed != tt.completed || len(in.Failed) != tt.failed {
				t.Errorf("Summarize() = %+v", in)
			}
			if in.Done() != tt.done {
				t.Errorf("Done() = %v, want %v", in.Done(), tt.done)
			}
		})
	}
}

type stubLister struct {
	calls  int
	status []models.ProcessStatus
}

func (s *stubLister) ListDocuments(context.Context, int64) ([]models.Document, error) {
	st := s.status[min(s.calls, len(s.status)-1)]
	s.calls++
	return []models.Document{{ID: 7, OriginalFilename: "notes.md", ProcessStatus: st, ChunkCount: 3}}, nil
}

func TestProgressPollsUntilDone(t *testing.T) {
	lister := &stubLister{status: []models.ProcessStatus{models.ProcessPending, models.ProcessCompleted}}
	m := newProgressModel(context.Background(), lister, 1, []int64{7})

	next, cmd := m.Update(m.fetchDocs()())
	m = next.(progressModel)
	assert.False(t, m.done)
	assert.NotNil(t, cmd, "schedules the next poll")
	assert.Contains(t, m.renderContent(), "0/1 documents")

	next, _ = m.Update(m.fetchDocs()())
	m = next.(progressModel)
	assert.True(t, m.done)
	assert.Contains(t, m.renderContent(), "Chunks indexed:      3")
	assert.Equal(t, 2, lister.calls)
}

func TestErrorText(t *testing.T) {
	err := fmt.Errorf("list sessions: %w", &client.APIError{Kind: client.KindNetwork, Message: "connection refused"})
	assert.Contains(t, ErrorText(err), "RAGONE_API_URL")
	assert.Equal(t, "plain", ErrorText(errors.New("plain")))
}
