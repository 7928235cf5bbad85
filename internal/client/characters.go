package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/raphaelgruber/ragone/internal/models"
)

func (c *Client) listCharacters(ctx context.Context, cl call) ([]models.Character, error) {
	var chars []models.Character
	if err := c.do(ctx, cl, &chars); err != nil {
		return nil, err
	}
	return chars, nil
}

func (c *Client) oneCharacter(ctx context.Context, cl call) (*models.Character, error) {
	var ch models.Character
	if err := c.do(ctx, cl, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListCharacters returns all characters visible to the user.
func (c *Client) ListCharacters(ctx context.Context) ([]models.Character, error) {
	return c.listCharacters(ctx, call{
		method: http.MethodGet,
		path:   "/characters",
		route:  "GET /characters",
	})
}

// CharactersByKnowledgeBase returns the characters bound to a knowledge base.
func (c *Client) CharactersByKnowledgeBase(ctx context.Context, knowledgeBaseID int64) ([]models.Character, error) {
	return c.listCharacters(ctx, call{
		method: http.MethodGet,
		path:   "/characters/knowledge-base/" + pathID(knowledgeBaseID),
		route:  "GET /characters/knowledge-base/{id}",
	})
}

// SearchCharacters matches characters by name or description. A zero
// knowledgeBaseID searches all knowledge bases.
func (c *Client) SearchCharacters(ctx context.Context, query string, knowledgeBaseID int64) ([]models.Character, error) {
	q := url.Values{"query": {query}}
	if knowledgeBaseID > 0 {
		q.Set("knowledgeBaseId", strconv.FormatInt(knowledgeBaseID, 10))
	}
	return c.listCharacters(ctx, call{
		method: http.MethodGet,
		path:   "/characters/search",
		route:  "GET /characters/search",
		query:  q,
	})
}

// GetCharacter fetches one character.
func (c *Client) GetCharacter(ctx context.Context, id int64) (*models.Character, error) {
	return c.oneCharacter(ctx, call{
		method: http.MethodGet,
		path:   "/characters/" + pathID(id),
		route:  "GET /characters/{id}",
	})
}

// CreateCharacter creates a character.
func (c *Client) CreateCharacter(ctx context.Context, in models.CharacterInput) (*models.Character, error) {
	if err := check(http.MethodPost, "/characters", in); err != nil {
		return nil, err
	}
	return c.oneCharacter(ctx, call{
		method: http.MethodPost,
		path:   "/characters",
		route:  "POST /characters",
		json:   in,
	})
}

// UpdateCharacter replaces a character's editable fields.
func (c *Client) UpdateCharacter(ctx context.Context, id int64, in models.CharacterInput) (*models.Character, error) {
	path := "/characters/" + pathID(id)
	if err := check(http.MethodPut, path, in); err != nil {
		return nil, err
	}
	return c.oneCharacter(ctx, call{
		method: http.MethodPut,
		path:   path,
		route:  "PUT /characters/{id}",
		json:   in,
	})
}

// DeleteCharacter removes a character.
func (c *Client) DeleteCharacter(ctx context.Context, id int64) error {
	return c.do(ctx, call{
		method: http.MethodDelete,
		path:   "/characters/" + pathID(id),
		route:  "DELETE /characters/{id}",
	}, nil)
}

// ToggleCharacterStatus flips a character between active and inactive.
func (c *Client) ToggleCharacterStatus(ctx context.Context, id int64) (*models.Character, error) {
	return c.oneCharacter(ctx, call{
		method: http.MethodPatch,
		path:   "/characters/" + pathID(id) + "/toggle-status",
		route:  "PATCH /characters/{id}/toggle-status",
	})
}

// GenerateProfile asks the server to derive the character's persona from its
// knowledge base. Generation runs asynchronously; the character reports
// status GENERATING until done.
func (c *Client) GenerateProfile(ctx context.Context, id int64) (*models.MessageResponse, error) {
	var resp models.MessageResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/characters/" + pathID(id) + "/generate-profile",
		route:  "POST /characters/{id}/generate-profile",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
