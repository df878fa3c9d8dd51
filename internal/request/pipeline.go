package request

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Default pipeline settings.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultBaseRetryDelay = 1 * time.Second
)

// Pipeline issues HTTP requests against a base URL with augmentation,
// sequential retry, and error translation.
type Pipeline struct {
	baseURL   string
	authToken string

	httpClient *http.Client
	logger     *slog.Logger

	maxRetries     int
	baseRetryDelay time.Duration
	maxRetryDelay  time.Duration // 0 means uncapped
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// NewPipeline creates a request pipeline for the given base URL.
func NewPipeline(baseURL string, opts ...Option) *Pipeline {
	p := &Pipeline{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:         slog.Default(),
		maxRetries:     DefaultMaxRetries,
		baseRetryDelay: DefaultBaseRetryDelay,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.httpClient.Timeout = d
	}
}

// WithRetries sets the retry budget and base backoff delay.
func WithRetries(max int, baseDelay time.Duration) Option {
	return func(p *Pipeline) {
		p.maxRetries = max
		p.baseRetryDelay = baseDelay
	}
}

// WithMaxRetryDelay caps the exponential backoff delay.
func WithMaxRetryDelay(d time.Duration) Option {
	return func(p *Pipeline) {
		p.maxRetryDelay = d
	}
}

// WithAuthToken attaches a bearer token to every request.
func WithAuthToken(token string) Option {
	return func(p *Pipeline) {
		p.authToken = token
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Pipeline) {
		p.httpClient = hc
	}
}

// Get issues a GET request.
func (p *Pipeline) Get(ctx context.Context, path string) (*Response, error) {
	return p.Do(ctx, http.MethodGet, path, nil, nil)
}

// Delete issues a DELETE request.
func (p *Pipeline) Delete(ctx context.Context, path string) (*Response, error) {
	return p.Do(ctx, http.MethodDelete, path, nil, nil)
}

// Post issues a POST request with a JSON-encoded body.
func (p *Pipeline) Post(ctx context.Context, path string, body any) (*Response, error) {
	return p.doJSON(ctx, http.MethodPost, path, body)
}

// Put issues a PUT request with a JSON-encoded body.
func (p *Pipeline) Put(ctx context.Context, path string, body any) (*Response, error) {
	return p.doJSON(ctx, http.MethodPut, path, body)
}

// Patch issues a PATCH request with a JSON-encoded body.
func (p *Pipeline) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return p.doJSON(ctx, http.MethodPatch, path, body)
}

func (p *Pipeline) doJSON(ctx context.Context, method, path string, body any) (*Response, error) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}
	return p.Do(ctx, method, path, data, nil)
}
