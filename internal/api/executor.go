package api

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

	"github.com/squadup/mobilecore/internal/backoff"
	"github.com/squadup/mobilecore/internal/credentials"
	"github.com/squadup/mobilecore/internal/logging"
	"golang.org/x/sync/singleflight"
)

const (
	authorizationHeader = "Authorization"
	retryAfterHeader    = "Retry-After"
	contentTypeJSON     = "application/json"
)

// Policy configures the executor's retry behavior.
type Policy struct {
	// MaxAttempts bounds total dispatches on 5xx/network failures.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff: delay before retry i is
	// BaseDelay * 2^(i-1).
	BaseDelay time.Duration
	// MaxDelay caps a single backoff pause. Zero means uncapped.
	MaxDelay time.Duration
	// RetryAfterDefault is used when a 429 carries no Retry-After header.
	RetryAfterDefault time.Duration
	// RequestTimeout bounds each individual dispatch.
	RequestTimeout time.Duration
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		RetryAfterDefault: 5 * time.Second,
		RequestTimeout:    30 * time.Second,
	}
}

// Executor dispatches Descriptors against the backend with auth-header
// injection and class-based retries. Safe for concurrent use.
type Executor struct {
	baseURL string
	http    *http.Client
	creds   credentials.Store
	policy  Policy
	log     logging.Logger
	refresh singleflight.Group
}

func NewExecutor(baseURL string, creds credentials.Store, policy Policy, log logging.Logger) *Executor {
	if log == nil {
		log = logging.NewNop()
	}
	return &Executor{
		baseURL: baseURL,
		http:    &http.Client{},
		creds:   creds,
		policy:  policy,
		log:     log,
	}
}

// Execute dispatches d and retries according to the failure class:
//
//   - 401: one coalesced token refresh, then exactly one redo; a failed
//     refresh clears the session and surfaces AuthError.
//   - 403: AuthError immediately, no retry.
//   - 400: ValidationError with the server's field errors, no retry.
//   - 429: wait the server's Retry-After (default from policy), then redo
//     the whole call; does not count against the backoff ceiling.
//   - 5xx / transport failure: exponential backoff up to MaxAttempts total
//     dispatches, then ServerError / NetworkError.
//
// Any other response is returned unmodified.
func (e *Executor) Execute(ctx context.Context, d Descriptor) (*Response, error) {
	if err := e.refreshIfExpired(ctx); err != nil {
		return nil, err
	}

	attempt := 0
	authRetried := false

	for {
		resp, err := e.dispatch(ctx, d)
		if err != nil {
			var fe *fatalError
			if errors.As(err, &fe) {
				return nil, fe.err
			}

			attempt++
			if attempt >= e.policy.MaxAttempts {
				return nil, &NetworkError{Attempts: attempt, Err: err}
			}
			delay := backoff.Delay(e.policy.BaseDelay, attempt-1, e.policy.MaxDelay)
			e.log.Debug(ctx, "network failure, backing off", "attempt", attempt, "delay", delay, "error", err)
			if serr := backoff.Sleep(ctx, delay); serr != nil {
				return nil, &NetworkError{Attempts: attempt, Err: serr}
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if authRetried {
				return nil, &AuthError{Err: ErrSessionExpired}
			}
			if err := e.refreshTokens(ctx); err != nil {
				return nil, err
			}
			authRetried = true
			continue

		case resp.StatusCode == http.StatusForbidden:
			return nil, &AuthError{Forbidden: true}

		case resp.StatusCode == http.StatusBadRequest:
			return nil, decodeValidationError(resp)

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(resp.Header, e.policy.RetryAfterDefault)
			e.log.Debug(ctx, "rate limited", "retry_after", wait)
			if serr := backoff.Sleep(ctx, wait); serr != nil {
				return nil, &RateLimitedError{RetryAfter: wait, Err: serr}
			}
			continue

		case resp.StatusCode >= 500:
			attempt++
			if attempt >= e.policy.MaxAttempts {
				return nil, &ServerError{StatusCode: resp.StatusCode, Attempts: attempt}
			}
			delay := backoff.Delay(e.policy.BaseDelay, attempt-1, e.policy.MaxDelay)
			e.log.Debug(ctx, "server error, backing off", "status", resp.StatusCode, "attempt", attempt, "delay", delay)
			if serr := backoff.Sleep(ctx, delay); serr != nil {
				return nil, &ServerError{StatusCode: resp.StatusCode, Attempts: attempt}
			}
			continue

		default:
			return resp, nil
		}
	}
}

// Ping checks server liveness via the health endpoint. Used by the
// connectivity prober; no retries.
func (e *Executor) Ping(ctx context.Context) error {
	resp, err := e.dispatch(ctx, Descriptor{Method: http.MethodGet, Path: "/health"})
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// fatalError marks request-construction and credential-store failures,
// which must not enter the network retry path.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// dispatch performs exactly one HTTP round trip, re-reading the access
// token so retries after a refresh pick up the new credential.
func (e *Executor) dispatch(ctx context.Context, d Descriptor) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.policy.RequestTimeout)
	defer cancel()

	var body io.Reader
	if len(d.Body) > 0 {
		body = bytes.NewReader(d.Body)
	}

	req, err := http.NewRequestWithContext(callCtx, d.Method, e.baseURL+d.Path, body)
	if err != nil {
		return nil, &fatalError{err: fmt.Errorf("failed to build request: %w", err)}
	}
	if len(d.Body) > 0 {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	for k, v := range d.Header {
		req.Header.Set(k, v)
	}

	toks, err := e.creds.Get(ctx)
	if err != nil {
		return nil, &fatalError{err: fmt.Errorf("failed to read credentials: %w", err)}
	}
	// absent token: the call proceeds unauthenticated
	if toks != nil && toks.AccessToken != "" {
		req.Header.Set(authorizationHeader, "Bearer "+toks.AccessToken)
	}

	res, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: res.StatusCode, Header: res.Header.Clone(), Body: b}, nil
}

func decodeValidationError(resp *Response) *ValidationError {
	var payload struct {
		Errors map[string][]string `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil || payload.Errors == nil {
		return &ValidationError{Fields: map[string][]string{}}
	}
	return &ValidationError{Fields: payload.Errors}
}

// retryAfter reads the Retry-After header (seconds), falling back to def.
func retryAfter(h http.Header, def time.Duration) time.Duration {
	v := h.Get(retryAfterHeader)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
