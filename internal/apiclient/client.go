// Package apiclient is the JSON transport shared by the embedding, mixture
// and optimisation clients.
//
// It owns request throttling, tracing and the mapping from HTTP status codes
// to the engine's error classes:
//
//	400/422 mentioning "session"  → latent.ErrStaleSession
//	other 400/422                 → latent.ErrValidation
//	404                           → latent.ErrUnknownKey
//	anything else                 → *latent.ServiceError
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/latentd/internal/latent"
	"github.com/fyrsmithlabs/latentd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/latentd/internal/apiclient"

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

// ErrInvalidConfig indicates invalid client configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config configures the transport.
type Config struct {
	// BaseURL is prepended to every request path.
	BaseURL string

	// Timeout bounds a single request, zero disables it.
	Timeout time.Duration

	// Rate is the sustained request rate per second, zero means unlimited.
	Rate float64

	// Burst is the token bucket size used with Rate.
	Burst int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: base URL %q is not absolute", ErrInvalidConfig, c.BaseURL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if c.Rate < 0 {
		return fmt.Errorf("%w: negative rate", ErrInvalidConfig)
	}
	if c.Rate > 0 && c.Burst < 1 {
		return fmt.Errorf("%w: burst must be at least 1 when rate is set", ErrInvalidConfig)
	}
	return nil
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client issues JSON requests against one backend.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New creates a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, max(cfg.Burst, 1)),
		tracer:  otel.Tracer(instrumentationName),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Get issues a GET request and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, op, path string, query url.Values, out any) error {
	return c.do(ctx, op, http.MethodGet, path, query, nil, out)
}

// Post issues a POST request with in encoded as JSON and decodes the response
// into out. out may be nil.
func (c *Client) Post(ctx context.Context, op, path string, in, out any) error {
	return c.do(ctx, op, http.MethodPost, path, nil, in, out)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, op, path string, in, out any) error {
	return c.do(ctx, op, http.MethodPut, path, nil, in, out)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, op, path string, in, out any) error {
	return c.do(ctx, op, http.MethodPatch, path, nil, in, out)
}

// Delete issues a DELETE request. out may be nil.
func (c *Client) Delete(ctx context.Context, op, path string, out any) error {
	return c.do(ctx, op, http.MethodDelete, path, nil, nil, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return latent.NewServiceError(op, 0, "", fmt.Errorf("waiting for rate limiter: %w", err))
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshaling request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return latent.NewServiceError(op, 0, "", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.Debug("backend call", append(logging.ContextFields(ctx),
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)...)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classify(op, resp.StatusCode, raw)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return latent.NewServiceError(op, resp.StatusCode, "", fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// errorBody is the error envelope used by the backend.
type errorBody struct {
	Error   string `json:"error"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func classify(op string, status int, raw []byte) error {
	msg := strings.TrimSpace(string(raw))
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil {
		switch {
		case eb.Error != "":
			msg = eb.Error
		case eb.Detail != "":
			msg = eb.Detail
		case eb.Message != "":
			msg = eb.Message
		}
	}

	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if strings.Contains(strings.ToLower(msg), "session") {
			return fmt.Errorf("%s: %w: %s", op, latent.ErrStaleSession, msg)
		}
		return fmt.Errorf("%s: %w: %s", op, latent.ErrValidation, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, latent.ErrUnknownKey, msg)
	default:
		return latent.NewServiceError(op, status, msg, nil)
	}
}
