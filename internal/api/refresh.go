package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/squadup/mobilecore/internal/credentials"
)

const refreshPath = "/auth/refresh"

// expiryLeeway makes the proactive check fire slightly before the token
// actually expires, so the refreshed token is valid for the whole call.
const expiryLeeway = 30 * time.Second

// refreshTokens performs one token refresh, coalesced across concurrent
// callers: when several requests observe a 401 at once, a single refresh
// call is issued and all of them wait for its outcome.
//
// A rejected refresh token clears the whole session and returns AuthError;
// a transport failure leaves the session intact (the server was never
// reached, so the refresh token may still be good).
func (e *Executor) refreshTokens(ctx context.Context) error {
	_, err, _ := e.refresh.Do("refresh", func() (any, error) {
		return nil, e.doRefresh(ctx)
	})
	return err
}

func (e *Executor) doRefresh(ctx context.Context) error {
	toks, err := e.creds.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	if toks == nil || toks.RefreshToken == "" {
		return &AuthError{Err: ErrSessionExpired}
	}

	body, err := json.Marshal(map[string]string{"refresh_token": toks.RefreshToken})
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.policy.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.baseURL+refreshPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentTypeJSON)

	res, err := e.http.Do(req)
	if err != nil {
		return &NetworkError{Attempts: 1, Err: fmt.Errorf("token refresh: %w", err)}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		// the server rejected the refresh token: session is over
		if cerr := e.creds.Clear(ctx); cerr != nil {
			e.log.Error(ctx, "failed to clear session after rejected refresh", "error", cerr)
		}
		e.log.Warn(ctx, "token refresh rejected", "status", res.StatusCode)
		return &AuthError{Err: ErrSessionExpired}
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		UserID       string `json:"user_id"`
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return &NetworkError{Attempts: 1, Err: err}
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}

	if err := e.creds.Set(ctx, credentials.Tokens{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		UserID:       payload.UserID,
	}); err != nil {
		return fmt.Errorf("failed to store refreshed tokens: %w", err)
	}

	e.log.Debug(ctx, "tokens refreshed", "user_id", payload.UserID)
	return nil
}

// refreshIfExpired refreshes proactively when the stored access token is a
// JWT whose exp claim is already (nearly) past, saving a guaranteed 401
// round trip. Opaque tokens are left for the server to judge.
func (e *Executor) refreshIfExpired(ctx context.Context) error {
	toks, err := e.creds.Get(ctx)
	if err != nil || toks == nil || toks.AccessToken == "" || toks.RefreshToken == "" {
		return nil
	}
	if !tokenExpired(toks.AccessToken, time.Now()) {
		return nil
	}

	e.log.Debug(ctx, "access token expired, refreshing proactively")
	err = e.refreshTokens(ctx)
	var ne *NetworkError
	if errors.As(err, &ne) {
		// offline: dispatch anyway and let the normal 401 path decide later
		return nil
	}
	return err
}

func tokenExpired(accessToken string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Time.Before(now.Add(expiryLeeway))
}
