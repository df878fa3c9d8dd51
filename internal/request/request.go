package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/verdantgrow/growlink/internal/errclass"
	"github.com/verdantgrow/growlink/internal/version"
)

// HTTPError represents a non-2xx response from the server.
type HTTPError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus reports the response status for error classification.
func (e *HTTPError) HTTPStatus() int {
	return e.StatusCode
}

// IsRetryable returns true if the error should trigger a retry.
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// RateLimitInfo is server-advertised quota state parsed from response
// headers. Observational only; the pipeline never enforces it.
type RateLimitInfo struct {
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Response is a completed request with timing and rate-limit metadata.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	TraceID    string
	RateLimit  *RateLimitInfo
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Do issues a request with augmentation and sequential retry. The
// method, URL, headers, and body are fixed for the lifetime of the
// logical request; every retry replays them unchanged. Terminal
// failures come back as *errclass.ErrorInfo.
func (p *Pipeline) Do(ctx context.Context, method, path string, body []byte, header http.Header) (*Response, error) {
	traceID := uuid.NewString()
	fullURL := p.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.backoff(attempt)
			p.logger.Debug("retrying request",
				"trace_id", traceID,
				"attempt", attempt,
				"delay", delay,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, errclass.Classify(ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := p.attempt(ctx, method, fullURL, body, header, traceID)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// A cancelled caller context is terminal regardless of shape.
		if ctx.Err() != nil {
			break
		}
		if !isRetryable(err) {
			break
		}
	}

	return nil, errclass.Classify(lastErr)
}

// attempt performs one HTTP exchange.
func (p *Pipeline) attempt(ctx context.Context, method, fullURL string, body []byte, header http.Header, traceID string) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if header != nil {
		req.Header = header.Clone()
	}
	p.augment(req, body, traceID)

	started := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       respBody,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
		Duration:   time.Since(started),
		TraceID:    traceID,
		RateLimit:  parseRateLimit(resp.Header),
	}, nil
}

// augment attaches the standard request headers: trace id, client
// version, content-sniffing protection, inferred content type, and the
// bearer token when configured.
func (p *Pipeline) augment(req *http.Request, body []byte, traceID string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", traceID)
	req.Header.Set("X-Client-Version", version.Version)
	req.Header.Set("X-Content-Type-Options", "nosniff")

	if len(body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}
}

// backoff computes the delay before retry n (1-based): base * 2^(n-1),
// capped when a maximum is configured.
func (p *Pipeline) backoff(attempt int) time.Duration {
	delay := p.baseRetryDelay << (attempt - 1)
	if p.maxRetryDelay > 0 && delay > p.maxRetryDelay {
		delay = p.maxRetryDelay
	}
	return delay
}

// isRetryable applies the retry allow-list: connection-level failures
// (no response received), timeouts, 5xx, and 429. Everything else is
// terminal.
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	// No response received: network failure or timeout.
	return true
}

// parseRateLimit extracts rate-limit headers when present.
func parseRateLimit(h http.Header) *RateLimitInfo {
	limit := h.Get("X-RateLimit-Limit")
	remaining := h.Get("X-RateLimit-Remaining")
	reset := h.Get("X-RateLimit-Reset")
	retryAfter := h.Get("Retry-After")

	if limit == "" && remaining == "" && reset == "" && retryAfter == "" {
		return nil
	}

	info := &RateLimitInfo{}
	if v, err := strconv.Atoi(limit); err == nil {
		info.Limit = v
	}
	if v, err := strconv.Atoi(remaining); err == nil {
		info.Remaining = v
	}
	if v, err := strconv.ParseInt(reset, 10, 64); err == nil {
		info.Reset = time.Unix(v, 0)
	}
	if v, err := strconv.Atoi(retryAfter); err == nil {
		info.RetryAfter = time.Duration(v) * time.Second
	}
	return info
}
