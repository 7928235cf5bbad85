// Package conversation keeps a local, server-confirmed view of a chat
// session: its lifecycle, its ordered message log and its running counters.
//
// Local state only ever advances after the server confirmed a change. A
// failed call leaves the session exactly as it was.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/ragone/internal/models"
	"golang.org/x/sync/semaphore"
)

var (
	ErrReleased     = errors.New("conversation released")
	ErrEnded        = errors.New("session has ended")
	ErrNotActive    = errors.New("session is not active")
	ErrNotPaused    = errors.New("session is not paused")
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSendInFlight rejects a second send, or an End, while a send awaits
	// its reply.
	ErrSendInFlight   = errors.New("a message is already being sent")
	ErrInvalidRating  = fmt.Errorf("rating must be between %d and %d", models.MinRating, models.MaxRating)
	ErrUnknownMessage = errors.New("message not in this conversation")
	// ErrNotRateable means the server did not report the message's id.
	// Reloading the history assigns one.
	ErrNotRateable = errors.New("message has no server id")
)

// Backend is the subset of the API a Machine needs.
type Backend interface {
	StartSession(ctx context.Context, req models.StartSessionRequest) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	History(ctx context.Context, sessionID string) ([]models.HistoryEntry, error)
	SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.SendMessageResponse, error)
	RateMessage(ctx context.Context, messageID string, rating int) error
	EndSession(ctx context.Context, sessionID string) error
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine is the state of one conversation. All methods are safe for
// concurrent use; network calls never hold the internal lock.
type Machine struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
	sending *semaphore.Weighted

	mu       sync.Mutex
	session  models.Session
	log      []models.Message
	released bool
}

// Snapshot is a copy of a Machine's state for rendering.
type Snapshot struct {
	Session  models.Session
	Messages []models.Message
}

func newMachine(backend Backend, session models.Session, opts []Option) *Machine {
	m := &Machine{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
		sending: semaphore.NewWeighted(1),
		session: session,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "conversation", "session_id", session.ID)
	return m
}

// Start creates a new session with subject on the server.
func Start(ctx context.Context, backend Backend, subjectID int64, name string, opts ...Option) (*Machine, error) {
	s, err := backend.StartSession(ctx, models.StartSessionRequest{CharacterID: subjectID, SessionName: name})
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	m := newMachine(backend, *s, opts)
	m.logger.Info("session started", "subject_id", subjectID)
	return m, nil
}

// Open rehydrates an existing session and its full history from the server.
func Open(ctx context.Context, backend Backend, sessionID string, opts ...Option) (*Machine, error) {
	s, err := backend.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	entries, err := backend.History(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	m := newMachine(backend, *s, opts)
	m.log = fromHistory(s.ID, entries)
	if n := len(m.log); m.session.MessageCount < n {
		m.session.MessageCount = n
	}
	m.logger.Debug("session opened", "messages", len(m.log))
	return m, nil
}

// fromHistory orders server entries by turn and numbers them by position.
func fromHistory(sessionID string, entries []models.HistoryEntry) []models.Message {
	sorted := append([]models.HistoryEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TurnNumber < sorted[j].TurnNumber })

	log := make([]models.Message, 0, len(sorted))
	for i, e := range sorted {
		msg := models.Message{
			ID:             strconv.FormatInt(e.ID, 10),
			SessionID:      sessionID,
			UserText:       e.UserMessage,
			ResponseText:   e.CharacterResponse,
			ResponseTimeMs: e.ResponseTimeMs,
			TokenUsage:     int64(e.TokenUsage),
			UsedRetrieval:  e.UsedRAG,
			RetrievedCount: e.RetrievedChunksCount,
			TurnIndex:      i + 1,
			CreatedAt:      e.CreatedAt.Time,
		}
		if e.UserRating != nil {
			r := *e.UserRating
			msg.FeedbackRating = &r
		}
		log = append(log, msg)
	}
	return log
}

// ID returns the server-assigned session id.
func (m *Machine) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ID
}

// Snapshot returns a copy of the session and its log.
func (m *Machine) Snapshot() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return Snapshot{}, ErrReleased
	}
	return Snapshot{Session: m.session, Messages: cloneLog(m.log)}, nil
}

func cloneLog(log []models.Message) []models.Message {
	out := make([]models.Message, len(log))
	for i, msg := range log {
		out[i] = msg
		if msg.FeedbackRating != nil {
			r := *msg.FeedbackRating
			out[i].FeedbackRating = &r
		}
	}
	return out
}

// checkSendable reports why a send cannot start. Caller must hold m.mu.
func (m *Machine) checkSendable() error {
	switch {
	case m.released:
		return ErrReleased
	case m.session.Status.Terminal():
		return ErrEnded
	case m.session.Status != models.SessionActive:
		return ErrNotActive
	}
	return nil
}

// Send posts text and appends the confirmed exchange to the log. It is
// rejected without any network call when the session is not active, the
// text is blank, the machine was released, or another send is in flight.
func (m *Machine) Send(ctx context.Context, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}

	m.mu.Lock()
	err := m.checkSendable()
	sessionID := m.session.ID
	m.mu.Unlock()
	if err != nil {
		return models.Message{}, err
	}

	if !m.sending.TryAcquire(1) {
		return models.Message{}, ErrSendInFlight
	}
	defer m.sending.Release(1)

	resp, err := m.backend.SendMessage(ctx, models.SendMessageRequest{SessionID: sessionID, Message: text})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return models.Message{}, ErrReleased
	}
	if err != nil {
		m.logger.Warn("send failed", "error", err)
		return models.Message{}, err
	}

	now := m.now()
	msg := models.Message{
		SessionID:      sessionID,
		UserText:       text,
		ResponseText:   resp.CharacterResponse,
		ResponseTimeMs: resp.ResponseTimeMs,
		TokenUsage:     int64(resp.TokenUsage),
		UsedRetrieval:  resp.UsedRAG,
		RetrievedCount: resp.RetrievedDocumentCount,
		TurnIndex:      m.lastTurn() + 1,
		CreatedAt:      now,
	}
	if resp.MessageID != nil {
		msg.ID = strconv.FormatInt(*resp.MessageID, 10)
	}
	if !resp.Timestamp.IsZero() {
		msg.CreatedAt = resp.Timestamp.Time
	}

	m.log = append(m.log, msg)
	m.session.MessageCount++
	m.session.TokenUsage += msg.TokenUsage
	m.session.LastActiveAt = models.NewTimestamp(now)

	m.logger.Debug("message confirmed", "turn", msg.TurnIndex, "tokens", msg.TokenUsage)
	return msg, nil
}

// Rate records feedback for a message after the server accepted it. A later
// rating replaces an earlier one. Counters are not affected.
func (m *Machine) Rate(ctx context.Context, messageID string, rating int) error {
	if rating < models.MinRating || rating > models.MaxRating {
		return ErrInvalidRating
	}

	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return ErrReleased
	}
	if messageID == "" {
		m.mu.Unlock()
		return ErrNotRateable
	}
	if m.indexOf(messageID) < 0 {
		m.mu.Unlock()
		return ErrUnknownMessage
	}
	m.mu.Unlock()

	if err := m.backend.RateMessage(ctx, messageID, rating); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return ErrReleased
	}
	if i := m.indexOf(messageID); i >= 0 {
		r := rating
		m.log[i].FeedbackRating = &r
	}
	return nil
}

// RateTurn rates the message at a 1-based turn index. A turn sent without a
// server id is resolved by reloading the history once.
func (m *Machine) RateTurn(ctx context.Context, turn, rating int) error {
	if rating < models.MinRating || rating > models.MaxRating {
		return ErrInvalidRating
	}

	id, err := m.turnID(turn)
	if err != nil {
		return err
	}
	if id == "" {
		m.logger.Debug("turn has no id, reloading history", "turn", turn)
		if _, err := m.ListHistory(ctx); err != nil {
			return fmt.Errorf("reload history: %w", err)
		}
		if id, err = m.turnID(turn); err != nil {
			return err
		}
		if id == "" {
			return ErrNotRateable
		}
	}
	return m.Rate(ctx, id, rating)
}

func (m *Machine) turnID(turn int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return "", ErrReleased
	}
	i := slices.IndexFunc(m.log, func(msg models.Message) bool { return msg.TurnIndex == turn })
	if i < 0 {
		return "", ErrUnknownMessage
	}
	return m.log[i].ID, nil
}

// lastTurn is the highest turn index in the log. Caller must hold m.mu.
func (m *Machine) lastTurn() int {
	last := 0
	for _, msg := range m.log {
		last = max(last, msg.TurnIndex)
	}
	return last
}

// indexOf returns the log position of messageID or -1. Caller must hold m.mu.
func (m *Machine) indexOf(messageID string) int {
	for i := range m.log {
		if m.log[i].ID == messageID {
			return i
		}
	}
	return -1
}

// End closes the session on the server. An ended session accepts nothing.
func (m *Machine) End(ctx context.Context) error {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return ErrReleased
	}
	if m.session.Status.Terminal() {
		m.mu.Unlock()
		return ErrEnded
	}
	sessionID := m.session.ID
	m.mu.Unlock()

	if !m.sending.TryAcquire(1) {
		return ErrSendInFlight
	}
	defer m.sending.Release(1)

	if err := m.backend.EndSession(ctx, sessionID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return ErrReleased
	}
	m.session.Status = models.SessionEnded
	m.logger.Info("session ended", "messages", m.session.MessageCount)
	return nil
}

// Pause stops accepting sends until Resume. It is local only.
func (m *Machine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.released:
		return ErrReleased
	case m.session.Status.Terminal():
		return ErrEnded
	case m.session.Status != models.SessionActive:
		return ErrNotActive
	}
	m.session.Status = models.SessionPaused
	return nil
}

// Resume reverts Pause.
func (m *Machine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.released:
		return ErrReleased
	case m.session.Status.Terminal():
		return ErrEnded
	case m.session.Status != models.SessionPaused:
		return ErrNotPaused
	}
	m.session.Status = models.SessionActive
	return nil
}

// ListHistory replaces the local log with the server's and returns a copy.
func (m *Machine) ListHistory(ctx context.Context) ([]models.Message, error) {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return nil, ErrReleased
	}
	sessionID := m.session.ID
	m.mu.Unlock()

	entries, err := m.backend.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return nil, ErrReleased
	}
	m.log = fromHistory(sessionID, entries)
	if n := len(m.log); m.session.MessageCount < n {
		m.session.MessageCount = n
	}
	return cloneLog(m.log), nil
}

// Release drops the in-memory copy. Server state is untouched. Results of
// calls still in flight are discarded and every later call fails with
// ErrReleased.
func (m *Machine) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = true
	m.log = nil
}
