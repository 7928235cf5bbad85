package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SessionStatus is the lifecycle state of a role-play session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "ACTIVE"
	SessionPaused   SessionStatus = "PAUSED"
	SessionEnded    SessionStatus = "ENDED"
	SessionArchived SessionStatus = "ARCHIVED"
	SessionDeleted  SessionStatus = "DELETED"
)

// Terminal reports whether no further messages may be appended.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionEnded, SessionArchived, SessionDeleted:
		return true
	}
	return false
}

// Session is a server-tracked role-play conversation.
type Session struct {
	ID           string        `json:"sessionId"`
	Name         string        `json:"name"`
	CharacterID  int64         `json:"characterId"`
	Status       SessionStatus `json:"status"`
	MessageCount int           `json:"messageCount"`
	TokenUsage   int64         `json:"tokenUsage"`
	LastActiveAt Timestamp     `json:"lastActiveAt"`
	CreatedAt    Timestamp     `json:"createdAt"`
}

// Message is one confirmed turn: the user's text and the character's reply.
// TurnIndex is the 1-based position in the session log.
type Message struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"sessionId"`
	UserText       string    `json:"userText"`
	ResponseText   string    `json:"responseText"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	TokenUsage     int64     `json:"tokenUsage"`
	UsedRetrieval  bool      `json:"usedRetrieval"`
	RetrievedCount int       `json:"retrievedCount"`
	TurnIndex      int       `json:"turnIndex"`
	FeedbackRating *int      `json:"feedbackRating,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// StartSessionRequest is the body of POST /roleplay/start.
type StartSessionRequest struct {
	CharacterID int64  `json:"characterId" validate:"gt=0"`
	SessionName string `json:"sessionName,omitempty" validate:"max=200"`
}

// SendMessageRequest is the body of POST /roleplay/message.
type SendMessageRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Message   string `json:"message" validate:"required"`
}

// SendMessageResponse is the confirmed result of POST /roleplay/message.
// MessageID is present only on backends that expose the history record id.
type SendMessageResponse struct {
	MessageID              *int64     `json:"messageId,omitempty"`
	SessionID              string     `json:"sessionId"`
	UserMessage            string     `json:"userMessage"`
	CharacterResponse      string     `json:"characterResponse"`
	ResponseTimeMs         int64      `json:"responseTimeMs"`
	TokenUsage             TokenCount `json:"tokenUsage"`
	UsedRAG                bool       `json:"usedRag"`
	RetrievedDocumentCount int        `json:"retrievedDocumentCount"`
	Timestamp              Timestamp  `json:"timestamp"`
}

// HistoryEntry is one element of GET /roleplay/sessions/{id}/history.
type HistoryEntry struct {
	ID                   int64      `json:"id"`
	UserMessage          string     `json:"userMessage"`
	CharacterResponse    string     `json:"characterResponse"`
	ResponseTimeMs       int64      `json:"responseTimeMs"`
	TokenUsage           TokenCount `json:"tokenUsage"`
	UserRating           *int       `json:"userRating,omitempty"`
	TurnNumber           int        `json:"turnNumber"`
	UsedRAG              bool       `json:"usedRag"`
	RetrievedChunksCount int        `json:"retrievedChunksCount"`
	CreatedAt            Timestamp  `json:"createdAt"`
}

// RateRequest is the body of PATCH /roleplay/messages/{id}/rate.
type RateRequest struct {
	Rating int `json:"rating" validate:"min=1,max=5"`
}

// Rating bounds for message feedback.
const (
	MinRating = 1
	MaxRating = 5
)

// TokenCount is a token total. The history endpoint stores usage as a JSON
// document ({"totalTokens": n}) serialized into a string; the message endpoint
// sends a plain number.
type TokenCount int64

// UnmarshalJSON accepts a number, a numeric string, an embedded usage document, or null.
func (tc *TokenCount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*tc = 0
		return nil
	}

	if data[0] != '"' {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("token usage: %w", err)
		}
		v, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return fmt.Errorf("token usage: %w", err)
			}
			v = int64(f)
		}
		*tc = TokenCount(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*tc = TokenCount(v)
		return nil
	}

	var usage struct {
		TotalTokens int64 `json:"totalTokens"`
	}
	if err := json.Unmarshal([]byte(s), &usage); err != nil {
		// Unparseable usage counts as zero, matching the server's own extraction.
		*tc = 0
		return nil
	}
	*tc = TokenCount(usage.TotalTokens)
	return nil
}
