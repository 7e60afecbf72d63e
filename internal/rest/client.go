package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/civicpulse/engine/internal/apierr"
	"github.com/civicpulse/engine/internal/observability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TokenSource hands the transport the current bearer token, if any.
// Keep this small interface so tests can fake it easily.
type TokenSource interface {
	Token() (string, bool)
}

// Client is the engine's only path to the backend. Every call is bounded by
// the configured timeout, carries a request ID, and never retries on its own.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     *slog.Logger
	tracer  trace.Tracer

	metrics *observability.Prom
	tokens  TokenSource

	// invoked on any 401 so the session can be dropped exactly once,
	// no matter which component made the call
	onAuthFailure func()
}

type Option func(*Client)

func WithMetrics(p *observability.Prom) Option {
	return func(c *Client) { c.metrics = p }
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func WithAuthFailureHook(fn func()) Option {
	return func(c *Client) { c.onAuthFailure = fn }
}

// WithHTTPClient is for tests that point the client at an httptest server.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

func NewClient(baseURL string, timeout time.Duration, log *slog.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		log:     log,
		tracer:  otel.Tracer("civicpulse/engine"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetTokenSource exists because the session is built after the client
// (the client is the session's own transport too).
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

func (c *Client) SetAuthFailureHook(fn func()) {
	c.onAuthFailure = fn
}

type errorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details,omitempty"`
	} `json:"error"`
}

// Do issues one remote call. op is the logical operation name used for
// metrics and spans (e.g. "issue.vote"), not the raw path.
func (c *Client) Do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	ctx, span := c.tracer.Start(ctx, "engine."+op)
	defer span.End()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return apierr.Validation("Request could not be encoded.", err.Error())
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return apierr.Network("Request could not be built.", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	if c.tokens != nil {
		if tok, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	if c.metrics != nil {
		c.metrics.InFlight.Inc()
		defer c.metrics.InFlight.Dec()
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	secs := time.Since(start).Seconds()

	if err != nil {
		// A caller-driven cancel is not a network failure; hand the
		// context error back untouched so the UI can drop it silently.
		if errors.Is(err, context.Canceled) {
			c.observe(op, "canceled", secs)
			return context.Canceled
		}

		c.observe(op, "network_error", secs)
		span.SetStatus(codes.Error, "transport failure")
		c.log.Debug("remote call failed", "op", op, "err", err)
		return apierr.Network("The service could not be reached. Check your connection and retry.", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.observe(op, strconv.Itoa(resp.StatusCode), secs)

	if resp.StatusCode >= 400 {
		apiErr := c.decodeError(resp)

		if resp.StatusCode == http.StatusUnauthorized && c.onAuthFailure != nil {
			c.onAuthFailure()
		}

		span.SetStatus(codes.Error, string(apiErr.Kind))
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierr.Network("The service sent a response the app could not read.", err)
	}

	return nil
}

func (c *Client) decodeError(resp *http.Response) *apierr.Error {
	var env errorEnvelope

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &env)
	}

	// 5xx bodies are untrusted; FromStatus substitutes a generic message.
	if resp.StatusCode >= 500 {
		return apierr.FromStatus(resp.StatusCode, "", "")
	}

	return apierr.FromStatus(resp.StatusCode, env.Error.Code, env.Error.Message)
}

func (c *Client) observe(op, code string, secs float64) {
	if c.metrics == nil {
		return
	}
	c.metrics.RequestsTotal.WithLabelValues(op, code).Inc()
	c.metrics.RequestsDuration.WithLabelValues(op).Observe(secs)
}

// Query is a small helper so callers don't import net/url everywhere.
func Query(pairs ...string) url.Values {
	v := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			v.Set(pairs[i], pairs[i+1])
		}
	}
	return v
}

// Path joins an integer id into a route, e.g. Path("/api/issues/%d/vote", id).
func Path(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
