// Package store is the HTTP client for the backing catalog/orders/
// appointments service that every tool handler ultimately calls into.
//
// A single [Client] instance is shared by all tool handlers. Every call is
// guarded by a [resilience.CircuitBreaker] and retried according to the
// policy in its doc comments: up to [Config.MaxRetries] retries, only for
// {429, 503} and network errors, honoring Retry-After when present.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/voxline/callhandler/internal/resilience"
)

// ErrUnavailable is returned when the circuit breaker is open or every retry
// attempt has been exhausted. Tool handlers surface it to the model as a
// structured {ok: false} result rather than propagating it as a pipeline
// failure.
var ErrUnavailable = errors.New("store: backing service unavailable")

// ErrNotFound is returned for a 404 response only on endpoints where a
// missing resource is a normal outcome (tire availability lookups, via
// requestSpec.NotFoundIsNormal). Callers that expect a "not found" outcome
// should check for this with [errors.Is]. A 404 on any other endpoint is
// returned as a plain error instead, since it means the backend lost state
// the call expects to exist.
var ErrNotFound = errors.New("store: resource not found")

// ErrUnauthorized is returned for a 401 response. The request is never
// retried: a bad credential will not heal itself between attempts.
var ErrUnauthorized = errors.New("store: unauthorized")

const (
	defaultMaxRetries = 2
	firstRetryDelay   = 1 * time.Second
	secondRetryDelay  = 2 * time.Second
)

// Client wraps net/http.Client with the request policy, idempotency-key
// plumbing, and circuit breaker required by every call into the backing
// store.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
	breaker    *resilience.CircuitBreaker
}

// Config carries the tunables needed to construct a [Client].
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	FailMax        int
	OpenDuration   time.Duration

	// MaxRetries caps retry attempts in [Client.do], on top of the initial
	// attempt. Zero or negative uses defaultMaxRetries.
	MaxRetries int
}

// New constructs a Client. The underlying http.Client uses cfg.RequestTimeout
// as its per-request deadline.
func New(cfg Config) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxRetries: maxRetries,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "backing-store",
			MaxFailures:  cfg.FailMax,
			ResetTimeout: cfg.OpenDuration,
			HalfOpenMax:  1,
		}),
	}
}

// requestSpec describes one logical call to the backing store.
type requestSpec struct {
	Method         string
	Path           string
	Body           any
	IdempotencyKey string // empty for non-mutating endpoints

	// NotFoundIsNormal scopes the "404 means ErrNotFound" classification to
	// endpoints where a missing resource is an expected outcome (tire
	// availability lookups). Every other endpoint's 404 is a store error: it
	// means the backend lost state the call itself expects to exist (e.g. an
	// order this same call just created), not a legitimate "no such thing".
	NotFoundIsNormal bool
}

// do executes spec against the backing store, applying the retry policy and
// routing the attempt through the circuit breaker. result, if non-nil, is
// populated by decoding the response body as JSON on a 2xx response.
func (c *Client) do(ctx context.Context, spec requestSpec, result any) error {
	var bodyBytes []byte
	if spec.Body != nil {
		b, err := json.Marshal(spec.Body)
		if err != nil {
			return fmt.Errorf("store: encode request body: %w", err)
		}
		bodyBytes = b
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			var re *retryableError
			if errors.As(lastErr, &re) && re.retryAfter > 0 {
				delay = re.retryAfter
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		breakerErr := c.breaker.Execute(func() error {
			err := c.attempt(ctx, spec, bodyBytes, result)
			lastErr = err
			return err
		})

		if errors.Is(breakerErr, resilience.ErrCircuitOpen) {
			slog.Warn("store: circuit open, failing fast", "path", spec.Path)
			return ErrUnavailable
		}

		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: exhausted retries: %v", ErrUnavailable, lastErr)
}

func retryDelay(attempt int) time.Duration {
	if attempt == 1 {
		return firstRetryDelay
	}
	return secondRetryDelay
}

// retryableError marks an error as eligible for retry, optionally carrying a
// server-requested Retry-After override.
type retryableError struct {
	err        error
	retryAfter time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// attempt performs a single HTTP round trip.
func (c *Client) attempt(ctx context.Context, spec requestSpec, bodyBytes []byte, result any) error {
	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, c.baseURL+spec.Path, bodyReader)
	if err != nil {
		return fmt.Errorf("store: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if spec.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", spec.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("store: request %s %s: %w", spec.Method, spec.Path, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		slog.Error("store: unauthorized", "path", spec.Path)
		return ErrUnauthorized

	case resp.StatusCode == http.StatusNotFound:
		if spec.NotFoundIsNormal {
			return ErrNotFound
		}
		return fmt.Errorf("store: %s %s returned 404 unexpectedly", spec.Method, spec.Path)

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		err := fmt.Errorf("store: %s %s returned %d", spec.Method, spec.Path, resp.StatusCode)
		if d, ok := retryAfter(resp); ok {
			return &retryableError{err: err, retryAfter: d}
		}
		return &retryableError{err: err}

	case resp.StatusCode >= 500:
		// 500 is explicitly not retried per the backing-store request policy.
		return fmt.Errorf("store: %s %s returned %d", spec.Method, spec.Path, resp.StatusCode)

	case resp.StatusCode >= 400:
		return fmt.Errorf("store: %s %s returned %d", spec.Method, spec.Path, resp.StatusCode)
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("store: decode response: %w", err)
	}
	return nil
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

// Ping checks that the backing store is reachable, for use as a
// health.Checker. It goes through the same circuit breaker and retry policy
// as every other call.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, requestSpec{Method: http.MethodGet, Path: "/health"}, nil)
}

// NewIdempotencyKey mints a fresh key for a mutating call. Tool handlers call
// this once per logical invocation and reuse the same value across retries.
func NewIdempotencyKey() string {
	return uuid.NewString()
}
