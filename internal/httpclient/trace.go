// Package httpclient provides an HTTP client with trace-level request
// logging and token redaction.
package httpclient

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// maxLoggedBody caps how much of a response body lands in the trace log.
// Subtitle samples run to tens of kilobytes.
const maxLoggedBody = 2048

type traceTransport struct {
	base http.RoundTripper
	name string
}

// NewTraceClient returns an HTTP client that logs requests at trace level.
func NewTraceClient(name string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &traceTransport{name: name},
	}
}

func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	urlStr := redactURL(req.URL)
	start := time.Now()

	log.Trace().
		Str("client", t.name).
		Str("method", req.Method).
		Str("url", urlStr).
		Msg("HTTP request")

	resp, err := base.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		log.Trace().
			Str("client", t.name).
			Str("method", req.Method).
			Str("url", urlStr).
			Dur("duration", duration).
			Err(err).
			Msg("HTTP request failed")
		return nil, err
	}

	// Body logging only peeks at a bounded prefix, and only when trace is
	// on. The body must never be consumed beyond what the caller reads.
	if logEvent := log.Trace(); logEvent.Enabled() {
		peeked, readErr := peekBody(resp, maxLoggedBody)
		logEvent.
			Str("client", t.name).
			Str("method", req.Method).
			Str("url", urlStr).
			Int("status", resp.StatusCode).
			Dur("duration", duration)

		if readErr != nil {
			logEvent.Err(readErr)
		}

		if len(peeked) > 0 {
			if json.Valid(peeked) {
				logEvent.RawJSON("body", peeked)
			} else {
				logEvent.Str("body", string(peeked))
			}
		}

		logEvent.Msg("HTTP response")
	}

	return resp, nil
}

// peekBody reads at most limit bytes off the response body and splices
// them back in front so the caller still sees the whole stream.
func peekBody(resp *http.Response, limit int64) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, nil
	}

	peeked, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	resp.Body = &splicedBody{
		Reader: io.MultiReader(bytes.NewReader(peeked), resp.Body),
		closer: resp.Body,
	}
	return peeked, err
}

type splicedBody struct {
	io.Reader
	closer io.Closer
}

func (s *splicedBody) Close() error { return s.closer.Close() }

func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	copyURL := *u
	if copyURL.RawQuery == "" {
		return copyURL.String()
	}

	q := copyURL.Query()
	for key := range q {
		if isSensitiveQueryKey(key) {
			q.Set(key, "redacted")
		}
	}

	copyURL.RawQuery = q.Encode()
	return copyURL.String()
}

func isSensitiveQueryKey(key string) bool {
	switch strings.ToLower(key) {
	case "apikey", "api_key", "api-key", "token", "access_token", "x-plex-token", "authorization", "auth":
		return true
	default:
		return false
	}
}
