package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/squadup/mobilecore/internal/api"
	"github.com/squadup/mobilecore/internal/credentials"
	"github.com/squadup/mobilecore/internal/logging"
)

// AuthService owns the login session lifecycle.
type AuthService struct {
	exec  Executor
	creds credentials.Store
	log   logging.Logger
}

func NewAuthService(exec Executor, creds credentials.Store, log logging.Logger) *AuthService {
	if log == nil {
		log = logging.NewNop()
	}
	return &AuthService{exec: exec, creds: creds, log: log}
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token pair and persists it.
func (s *AuthService) Login(ctx context.Context, login, password string) error {
	body, err := json.Marshal(loginRequest{Login: login, Password: password})
	if err != nil {
		return err
	}

	resp, err := s.exec.Execute(ctx, api.Descriptor{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   body,
	})
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	var tokens credentials.Tokens
	if err := json.Unmarshal(resp.Body, &tokens); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if err := s.creds.Set(ctx, tokens); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	s.log.Info(ctx, "logged in", "user_id", tokens.UserID)
	return nil
}

// Logout discards the stored session.
func (s *AuthService) Logout(ctx context.Context) error {
	return s.creds.Clear(ctx)
}

// LoggedIn reports whether a session is stored locally.
func (s *AuthService) LoggedIn(ctx context.Context) (bool, error) {
	tokens, err := s.creds.Get(ctx)
	if err != nil {
		return false, err
	}
	return tokens != nil, nil
}
