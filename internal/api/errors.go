package api

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionExpired is wrapped by AuthError when the refresh token was
// rejected and the user must sign in again.
var ErrSessionExpired = errors.New("session expired")

// AuthError means the caller is not (or no longer) allowed: the token
// refresh failed, or the server answered 403. Never retried.
type AuthError struct {
	// Forbidden is true for 403 responses (authorization, not authentication).
	Forbidden bool
	Err       error
}

func (e *AuthError) Error() string {
	if e.Forbidden {
		return "forbidden"
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError carries the field-keyed errors of a 400 response.
// Client-caused; never retried.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%d fields)", len(e.Fields))
}

// RateLimitedError surfaces only when the context ends while waiting out a
// 429; otherwise rate-limited calls are retried internally.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// ServerError means the backoff ceiling was exhausted on 5xx responses.
type ServerError struct {
	StatusCode int
	Attempts   int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d after %d attempts", e.StatusCode, e.Attempts)
}

// NetworkError means the backoff ceiling was exhausted on transport
// failures (includes per-call timeouts).
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
