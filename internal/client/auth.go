package client

import (
	"context"
	"net/http"

	"github.com/raphaelgruber/ragone/internal/models"
)

// Login exchanges credentials for a bearer token. The request never carries
// a stored credential, and a 401 here does not end the current session.
func (c *Client) Login(ctx context.Context, req models.LoginRequest) (*models.JWTResponse, error) {
	if err := check(http.MethodPost, "/auth/login", req); err != nil {
		return nil, err
	}
	var resp models.JWTResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/login",
		route:  "POST /auth/login",
		json:   req,
		public: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account. It does not sign in.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.MessageResponse, error) {
	if err := check(http.MethodPost, "/auth/register", req); err != nil {
		return nil, err
	}
	var resp models.MessageResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/register",
		route:  "POST /auth/register",
		json:   req,
		public: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the server's record of the signed-in user.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var user models.User
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/auth/me",
		route:  "GET /auth/me",
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
