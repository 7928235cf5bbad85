package client

import (
	"log/slog"
	"net/http"
	"time"
)

// maxURLLogLen is the maximum length for logged URLs before truncation.
const maxURLLogLen = 200

// loggingTransport logs every round trip with timing.
// Slow requests are logged at WARN level, transport failures at ERROR.
type loggingTransport struct {
	next   http.RoundTripper
	logger *slog.Logger
	slow   time.Duration
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	resp, err := t.next.RoundTrip(req)

	duration := time.Since(start)

	attrs := []any{
		"method", req.Method,
		"url", truncate(req.URL.Redacted(), maxURLLogLen),
		"request_id", req.Header.Get(headerRequestID),
		"duration_ms", duration.Milliseconds(),
	}

	switch {
	case err != nil:
		attrs = append(attrs, "error", err.Error())
		t.logger.Error("request failed", attrs...)
	case duration > t.slow:
		attrs = append(attrs, "status", resp.StatusCode)
		t.logger.Warn("slow request", attrs...)
	case resp.StatusCode >= 500:
		attrs = append(attrs, "status", resp.StatusCode)
		t.logger.Warn("server error", attrs...)
	default:
		attrs = append(attrs, "status", resp.StatusCode)
		t.logger.Debug("request completed", attrs...)
	}

	return resp, err
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
