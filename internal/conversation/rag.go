package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/ragone/internal/models"
	"golang.org/x/sync/semaphore"
)

// Asker answers questions against a knowledge base.
type Asker interface {
	Ask(ctx context.Context, req models.AskRequest) (*models.AskResponse, error)
}

// Exchange is one answered question.
type Exchange struct {
	Question       string
	Answer         string
	ResponseTimeMs int64
	At             time.Time
}

// RAGChat is a question/answer transcript against one knowledge base. Only
// answered questions enter the transcript.
type RAGChat struct {
	backend         Asker
	knowledgeBaseID int64
	sessionID       string
	asking          *semaphore.Weighted

	mu       sync.Mutex
	entries  []Exchange
	released bool
}

// NewRAGChat starts an empty transcript. The server groups its questions
// under a client-chosen session id.
func NewRAGChat(backend Asker, knowledgeBaseID int64) *RAGChat {
	return &RAGChat{
		backend:         backend,
		knowledgeBaseID: knowledgeBaseID,
		sessionID:       uuid.NewString(),
		asking:          semaphore.NewWeighted(1),
	}
}

// SessionID returns the id questions are grouped under.
func (c *RAGChat) SessionID() string {
	return c.sessionID
}

// Ask sends question and appends the answer on success.
func (c *RAGChat) Ask(ctx context.Context, question string) (Exchange, error) {
	if strings.TrimSpace(question) == "" {
		return Exchange{}, ErrEmptyMessage
	}
	c.mu.Lock()
	released := c.released
	c.mu.Unlock()
	if released {
		return Exchange{}, ErrReleased
	}
	if !c.asking.TryAcquire(1) {
		return Exchange{}, ErrSendInFlight
	}
	defer c.asking.Release(1)

	resp, err := c.backend.Ask(ctx, models.AskRequest{
		Question:        question,
		KnowledgeBaseID: c.knowledgeBaseID,
		SessionID:       c.sessionID,
	})
	if err != nil {
		return Exchange{}, err
	}

	ex := Exchange{
		Question:       question,
		Answer:         resp.Answer,
		ResponseTimeMs: resp.ResponseTimeMs,
		At:             resp.Timestamp.Time,
	}
	if ex.At.IsZero() {
		ex.At = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return Exchange{}, ErrReleased
	}
	c.entries = append(c.entries, ex)
	return ex, nil
}

// Transcript returns a copy of the answered exchanges in order.
func (c *RAGChat) Transcript() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Exchange(nil), c.entries...)
}

// Release drops the transcript.
func (c *RAGChat) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	c.entries = nil
}
