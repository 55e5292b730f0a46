// Package credentials owns the session tokens for the signed-in user.
// The request executor reads tokens from here and asks for refreshes; it
// never mutates them directly.
package credentials

import "context"

// Tokens is the session triple returned by the auth endpoints.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

// Store holds the current session tokens.
//
// Contract:
//   - Get returns (nil, nil) when no session is stored.
//   - Set replaces the whole triple atomically.
//   - Clear removes the stored session (forced logout).
//
// Implementations must be durable across process restarts unless documented
// otherwise (the in-memory store is test-only).
type Store interface {
	Get(ctx context.Context) (*Tokens, error)
	Set(ctx context.Context, t Tokens) error
	Clear(ctx context.Context) error
}
