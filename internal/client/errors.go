package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failed API call. Every APIError has exactly one.
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not-found"
	KindServer       Kind = "server-error"
	KindNetwork      Kind = "network-unreachable"
	KindValidation   Kind = "validation-rejected"
	KindMalformed    Kind = "malformed-request"
	KindOther        Kind = "other"
)

// Sentinel errors, one per Kind, for use with errors.Is.
var (
	// ErrUnauthorized means the server rejected or did not receive a credential.
	// The session has already been ended when the caller sees it.
	ErrUnauthorized = errors.New("authentication expired")
	ErrForbidden    = errors.New("permission denied")
	ErrNotFound     = errors.New("resource not found")
	ErrServer       = errors.New("server error")
	ErrNetwork      = errors.New("server unreachable")
	// ErrValidation is returned before any request is sent.
	ErrValidation = errors.New("request rejected by validation")
	ErrMalformed  = errors.New("request could not be built")
	ErrOther      = errors.New("request failed")
)

var kindErrors = map[Kind]error{
	KindUnauthorized: ErrUnauthorized,
	KindForbidden:    ErrForbidden,
	KindNotFound:     ErrNotFound,
	KindServer:       ErrServer,
	KindNetwork:      ErrNetwork,
	KindValidation:   ErrValidation,
	KindMalformed:    ErrMalformed,
	KindOther:        ErrOther,
}

func sentinel(k Kind) error {
	if err, ok := kindErrors[k]; ok {
		return err
	}
	return ErrOther
}

// APIError is the single failure type returned by Client methods.
type APIError struct {
	Kind      Kind
	Method    string
	Path      string
	Status    int // 0 when no response was received
	Message   string
	RequestID string
	Err       error
}

func (e *APIError) Error() string {
	var b strings.Builder
	if e.Method != "" {
		fmt.Fprintf(&b, "%s %s: ", e.Method, e.Path)
	}
	b.WriteString(sentinel(e.Kind).Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *APIError) Unwrap() []error {
	errs := []error{sentinel(e.Kind)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the kind of err, or "" if err is not an APIError.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// Hint returns a short recovery suggestion for err, or "".
func Hint(err error) string {
	switch KindOf(err) {
	case KindUnauthorized:
		return "Run 'ragone login' to sign in again"
	case KindForbidden:
		return "Your account lacks permission for this resource"
	case KindNotFound:
		return "Check the id; list resources to see what exists"
	case KindServer:
		return "The server failed; try again later"
	case KindNetwork:
		return "Check that the API is running and RAGONE_API_URL is correct"
	case KindValidation:
		return "Fix the input and retry"
	}
	return ""
}

// classifyStatus maps an HTTP status to a Kind.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindServer
	}
	return KindOther
}

// maxMessageLen bounds server-provided messages carried on errors.
const maxMessageLen = 300

// serverMessage extracts a human readable message from an error body.
func serverMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return truncate(payload.Message, maxMessageLen)
		}
		if payload.Error != "" {
			return truncate(payload.Error, maxMessageLen)
		}
		return ""
	}
	return truncate(strings.TrimSpace(string(body)), maxMessageLen)
}
