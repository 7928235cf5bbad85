package client

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/raphaelgruber/ragone/internal/models"
)

// ListKnowledgeBases returns all knowledge bases visible to the user.
func (c *Client) ListKnowledgeBases(ctx context.Context) ([]models.KnowledgeBase, error) {
	var kbs []models.KnowledgeBase
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/knowledge-bases",
		route:  "GET /knowledge-bases",
	}, &kbs)
	if err != nil {
		return nil, err
	}
	return kbs, nil
}

// GetKnowledgeBase fetches one knowledge base.
func (c *Client) GetKnowledgeBase(ctx context.Context, id int64) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/knowledge-bases/" + pathID(id),
		route:  "GET /knowledge-bases/{id}",
	}, &kb)
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

func knowledgeBaseForm(in models.KnowledgeBaseInput) *form {
	f := (&form{}).add("name", in.Name)
	if in.Description != "" {
		f.add("description", in.Description)
	}
	return f
}

// CreateKnowledgeBase creates a knowledge base.
func (c *Client) CreateKnowledgeBase(ctx context.Context, in models.KnowledgeBaseInput) (*models.KnowledgeBase, error) {
	if err := check(http.MethodPost, "/knowledge-bases", in); err != nil {
		return nil, err
	}
	var kb models.KnowledgeBase
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/knowledge-bases",
		route:  "POST /knowledge-bases",
		form:   knowledgeBaseForm(in),
	}, &kb)
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

// UpdateKnowledgeBase replaces a knowledge base's name and description.
func (c *Client) UpdateKnowledgeBase(ctx context.Context, id int64, in models.KnowledgeBaseInput) (*models.KnowledgeBase, error) {
	path := "/knowledge-bases/" + pathID(id)
	if err := check(http.MethodPut, path, in); err != nil {
		return nil, err
	}
	var kb models.KnowledgeBase
	err := c.do(ctx, call{
		method: http.MethodPut,
		path:   path,
		route:  "PUT /knowledge-bases/{id}",
		form:   knowledgeBaseForm(in),
	}, &kb)
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

// DeleteKnowledgeBase removes a knowledge base.
func (c *Client) DeleteKnowledgeBase(ctx context.Context, id int64) error {
	return c.do(ctx, call{
		method: http.MethodDelete,
		path:   "/knowledge-bases/" + pathID(id),
		route:  "DELETE /knowledge-bases/{id}",
	}, nil)
}

// UploadDocument sends a file for ingestion into a knowledge base.
// Processing continues server-side; poll ListDocuments for its status.
func (c *Client) UploadDocument(ctx context.Context, knowledgeBaseID int64, filename string, content io.Reader) (*models.Document, error) {
	if knowledgeBaseID <= 0 || filename == "" {
		return nil, &APIError{
			Kind:    KindValidation,
			Method:  http.MethodPost,
			Path:    "/documents/upload",
			Message: "knowledge base id and file name are required",
		}
	}
	f := (&form{}).add("knowledgeBaseId", strconv.FormatInt(knowledgeBaseID, 10))
	f.file = &formFile{field: "file", filename: filename, content: content}

	var doc models.Document
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/documents/upload",
		route:  "POST /documents/upload",
		form:   f,
	}, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns the documents of a knowledge base.
func (c *Client) ListDocuments(ctx context.Context, knowledgeBaseID int64) ([]models.Document, error) {
	var docs []models.Document
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/documents",
		route:  "GET /documents",
		query:  url.Values{"knowledgeBaseId": {strconv.FormatInt(knowledgeBaseID, 10)}},
	}, &docs)
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// DeleteDocument removes a document and its chunks.
func (c *Client) DeleteDocument(ctx context.Context, id int64) error {
	return c.do(ctx, call{
		method: http.MethodDelete,
		path:   "/documents/" + pathID(id),
		route:  "DELETE /documents/{id}",
	}, nil)
}

// Ask poses a question against a knowledge base.
func (c *Client) Ask(ctx context.Context, req models.AskRequest) (*models.AskResponse, error) {
	if err := check(http.MethodPost, "/rag/ask", req); err != nil {
		return nil, err
	}
	f := (&form{}).
		add("question", req.Question).
		add("knowledgeBaseId", strconv.FormatInt(req.KnowledgeBaseID, 10))
	if req.SessionID != "" {
		f.add("sessionId", req.SessionID)
	}

	var resp models.AskResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/rag/ask",
		route:  "POST /rag/ask",
		form:   f,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
