// Package client provides the REST client for the ragone API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/ragone/internal/events"
	"github.com/raphaelgruber/ragone/internal/metrics"
)

const (
	// DefaultBaseURL is used when Options.BaseURL is empty.
	DefaultBaseURL = "http://localhost:8080/api"
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second
	// DefaultSlowThreshold is the duration above which requests are logged at WARN.
	DefaultSlowThreshold = 2 * time.Second

	headerRequestID = "X-Request-ID"

	// maxResponseSize bounds how much of a response body is read.
	maxResponseSize = 16 << 20
)

// TokenSource supplies the bearer credential attached to requests.
type TokenSource interface {
	Token(ctx context.Context) (string, bool)
}

// AuthExpiredPublisher is notified when the server rejects the credential.
// PublishAuthExpired must not return before subscribers have reacted.
type AuthExpiredPublisher interface {
	PublishAuthExpired(ctx context.Context, evt events.AuthExpired) error
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	SlowThreshold time.Duration
	Tokens        TokenSource
	Events        AuthExpiredPublisher
	Logger        *slog.Logger
	Metrics       *metrics.Collector
	// Transport overrides the underlying round tripper (tests).
	Transport http.RoundTripper
}

// Client talks to the ragone REST API. A single Client is shared by every
// caller; it attaches credentials and classifies failures so callers never do.
// No request is retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	events     AuthExpiredPublisher
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// New creates a client from opts.
func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	slow := opts.SlowThreshold
	if slow <= 0 {
		slow = DefaultSlowThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	next := opts.Transport
	if next == nil {
		next = http.DefaultTransport
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &loggingTransport{next: next, logger: logger, slow: slow},
		},
		tokens:  opts.Tokens,
		events:  opts.Events,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// BaseURL returns the API root requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Metrics returns the collector requests are recorded in, if any.
func (c *Client) Metrics() *metrics.Collector {
	return c.metrics
}

// call describes one API request.
type call struct {
	method string
	path   string
	// route names the endpoint for metrics, e.g. "GET /roleplay/sessions/{id}".
	route string
	query url.Values
	json  any
	form  *form
	// public calls never carry the credential.
	public bool
}

// form is a multipart/form-data body.
type form struct {
	fields [][2]string
	file   *formFile
}

type formFile struct {
	field    string
	filename string
	content  io.Reader
}

func (f *form) add(name, value string) *form {
	f.fields = append(f.fields, [2]string{name, value})
	return f
}

func (f *form) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, kv := range f.fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", kv[0], err)
		}
	}
	if f.file != nil {
		part, err := w.CreateFormFile(f.file.field, f.file.filename)
		if err != nil {
			return nil, "", fmt.Errorf("create file part: %w", err)
		}
		if _, err := io.Copy(part, f.file.content); err != nil {
			return nil, "", fmt.Errorf("copy file %s: %w", f.file.filename, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// do executes c and decodes a successful JSON response into out (if non-nil).
// Any failure is returned as *APIError.
func (c *Client) do(ctx context.Context, cl call, out any) error {
	start := time.Now()
	err := c.execute(ctx, cl, out)
	c.metrics.RecordRequest(cl.route, time.Since(start), err != nil)
	return err
}

func (c *Client) execute(ctx context.Context, cl call, out any) error {
	requestID := uuid.NewString()
	fail := func(kind Kind, status int, msg string, err error) *APIError {
		return &APIError{
			Kind:      kind,
			Method:    cl.method,
			Path:      cl.path,
			Status:    status,
			Message:   msg,
			RequestID: requestID,
			Err:       err,
		}
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case cl.form != nil:
		r, ct, err := cl.form.encode()
		if err != nil {
			return fail(KindMalformed, 0, "", err)
		}
		body, contentType = r, ct
	case cl.json != nil:
		data, err := json.Marshal(cl.json)
		if err != nil {
			return fail(KindMalformed, 0, "", fmt.Errorf("marshal request: %w", err))
		}
		body, contentType = bytes.NewReader(data), "application/json"
	}

	target := c.baseURL + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, target, body)
	if err != nil {
		return fail(KindMalformed, 0, "", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if !cl.public && c.tokens != nil {
		if token, ok := c.tokens.Token(ctx); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(KindNetwork, 0, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fail(KindNetwork, resp.StatusCode, "", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := classifyStatus(resp.StatusCode)
		apiErr := fail(kind, resp.StatusCode, serverMessage(data), nil)
		if kind == KindUnauthorized && !cl.public {
			c.expire(ctx, cl, requestID)
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fail(KindOther, resp.StatusCode, "unexpected response body", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// expire announces that the server rejected the credential. It returns after
// subscribers handled the event, so the forced logout is visible to the
// caller before the 401 error is.
func (c *Client) expire(ctx context.Context, cl call, requestID string) {
	if c.events == nil {
		return
	}
	evt := events.AuthExpired{
		RequestID: requestID,
		Method:    cl.method,
		Path:      cl.path,
		At:        time.Now(),
	}
	if err := c.events.PublishAuthExpired(context.WithoutCancel(ctx), evt); err != nil {
		c.logger.Error("failed to publish auth-expired", "path", cl.path, "error", err)
	}
}

// IsAuthExpired reports whether err is a credential rejection.
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func pathID[T int64 | string](v T) string {
	return url.PathEscape(fmt.Sprint(v))
}
