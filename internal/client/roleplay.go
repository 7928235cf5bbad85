package client

import (
	"context"
	"net/http"

	"github.com/raphaelgruber/ragone/internal/models"
)

// StartSession creates a role-play session with a character.
func (c *Client) StartSession(ctx context.Context, req models.StartSessionRequest) (*models.Session, error) {
	if err := check(http.MethodPost, "/roleplay/start", req); err != nil {
		return nil, err
	}
	var session models.Session
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/roleplay/start",
		route:  "POST /roleplay/start",
		json:   req,
	}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// SendMessage posts one user message and returns the character's reply.
func (c *Client) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.SendMessageResponse, error) {
	if err := check(http.MethodPost, "/roleplay/message", req); err != nil {
		return nil, err
	}
	var resp models.SendMessageResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/roleplay/message",
		route:  "POST /roleplay/message",
		json:   req,
	}, &resp)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordTokens("POST /roleplay/message", int64(resp.TokenUsage))
	return &resp, nil
}

// ListSessions returns the signed-in user's sessions.
func (c *Client) ListSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/roleplay/sessions",
		route:  "GET /roleplay/sessions",
	}, &sessions)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession fetches one session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/roleplay/sessions/" + pathID(sessionID),
		route:  "GET /roleplay/sessions/{id}",
	}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// History returns the session's messages in turn order.
func (c *Client) History(ctx context.Context, sessionID string) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/roleplay/sessions/" + pathID(sessionID) + "/history",
		route:  "GET /roleplay/sessions/{id}/history",
	}, &entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// EndSession closes a session for further messages.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, call{
		method: http.MethodPatch,
		path:   "/roleplay/sessions/" + pathID(sessionID) + "/end",
		route:  "PATCH /roleplay/sessions/{id}/end",
	}, nil)
}

// DeleteSession removes a session and its history.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, call{
		method: http.MethodDelete,
		path:   "/roleplay/sessions/" + pathID(sessionID),
		route:  "DELETE /roleplay/sessions/{id}",
	}, nil)
}

// RateMessage stores feedback for a message. A later rating replaces an earlier one.
func (c *Client) RateMessage(ctx context.Context, messageID string, rating int) error {
	req := models.RateRequest{Rating: rating}
	path := "/roleplay/messages/" + pathID(messageID) + "/rate"
	if err := check(http.MethodPatch, path, req); err != nil {
		return err
	}
	return c.do(ctx, call{
		method: http.MethodPatch,
		path:   path,
		route:  "PATCH /roleplay/messages/{id}/rate",
		json:   req,
	}, nil)
}
