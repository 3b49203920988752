// Package client provides the authenticated HTTP client for the AutoMarket
// listings backend.
//
// A request carrying an ID token that comes back 401 is retried once after a
// forced token refresh. Concurrent 401s for the same session share a single
// refresh.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/donaldgifford/automarket/internal/metrics"
	"github.com/donaldgifford/automarket/pkg/logger"
)

const (
	tracerName       = "github.com/donaldgifford/automarket/internal/api/client"
	defaultUserAgent = "automarket-client"
	refreshTimeout   = 15 * time.Second
)

// ErrServerUnavailable is returned when the backend cannot be reached.
var ErrServerUnavailable = errors.New("API server not running")

// TokenSource supplies ID tokens for the signed-in session.
type TokenSource interface {
	// SessionID is empty when nobody is signed in.
	SessionID() string
	IDToken(ctx context.Context, force bool) (string, error)
}

// Client is an HTTP client for the AutoMarket backend. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
	userAgent  string
	log        *slog.Logger
	tracer     trace.Tracer

	refreshes singleflight.Group
}

// New creates a new API client targeting the given base URL, for example
// "http://localhost:8080/api".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.Component(c.log, "api-client")
	c.tracer = otel.Tracer(tracerName)
	return c
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTokenSource attaches ID tokens from ts to every request made while a
// session is active.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithRateLimiter throttles outgoing requests.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// get performs a GET request and decodes the JSON response into dst.
func (c *Client) get(ctx context.Context, path string, dst any) error {
	return c.do(ctx, http.MethodGet, path, nil, dst)
}

// post performs a POST request with a JSON body and decodes the response into dst.
func (c *Client) post(ctx context.Context, path string, body, dst any) error {
	return c.do(ctx, http.MethodPost, path, body, dst)
}

// put performs a PUT request with a JSON body and decodes the response into dst.
func (c *Client) put(ctx context.Context, path string, body, dst any) error {
	return c.do(ctx, http.MethodPut, path, body, dst)
}

// del performs a DELETE request and decodes the response into dst.
func (c *Client) del(ctx context.Context, path string, dst any) error {
	return c.do(ctx, http.MethodDelete, path, nil, dst)
}

func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	respBody, err := c.roundTrip(ctx, method, path, payload)
	if err != nil {
		return err
	}

	if dst != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, dst); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

// roundTrip sends the request and performs the one-shot refresh-and-retry on
// 401.
func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "api "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		))
	defer span.End()

	retried := false
	for {
		status, respBody, err := c.attempt(ctx, method, path, payload)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		if status == http.StatusUnauthorized && !retried {
			if sid := c.sessionID(); sid != "" {
				if rerr := c.refresh(ctx, sid); rerr != nil {
					c.log.Warn("token refresh after 401 failed",
						"method", method, "path", path, "error", rerr)
					metrics.AuthRetriesTotal.WithLabelValues("refresh_failed").Inc()
				} else {
					retried = true
					c.log.Debug("retrying after token refresh", "method", method, "path", path)
					continue
				}
			}
		}

		if retried {
			outcome := "success"
			if status >= http.StatusBadRequest {
				outcome = "failed"
			}
			metrics.AuthRetriesTotal.WithLabelValues(outcome).Inc()
		}

		span.SetAttributes(
			attribute.Int("http.response.status_code", status),
			attribute.Bool("automarket.retried", retried),
		)

		if status >= http.StatusBadRequest {
			apiErr := newAPIError(method, path, status, respBody)
			span.SetStatus(codes.Error, apiErr.Error())
			return nil, apiErr
		}
		return respBody, nil
	}
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	reqID := RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set(RequestIDHeader, reqID)

	if c.sessionID() != "" {
		tok, err := c.tokens.IDToken(ctx, false)
		if err != nil {
			c.log.Warn("no id token, sending request anonymously",
				"method", method, "path", path, "error", err)
		} else {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APIRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(method, "error").Inc()
		if isConnectionRefused(err) {
			return 0, nil, fmt.Errorf("%w at %s", ErrServerUnavailable, c.baseURL)
		}
		return 0, nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response body: %w", err)
	}

	c.log.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", reqID,
	)

	return resp.StatusCode, respBody, nil
}

func (c *Client) sessionID() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.SessionID()
}

// refresh forces a token refresh for session sid. Callers that arrive while a
// refresh for the same session is in flight wait for it instead of starting
// their own.
func (c *Client) refresh(ctx context.Context, sid string) error {
	_, err, shared := c.refreshes.Do(sid, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		_, err := c.tokens.IDToken(rctx, true)
		return nil, err
	})
	if shared {
		c.log.Debug("joined in-flight token refresh", "session", sid)
	}
	return err
}

func isConnectionRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}
