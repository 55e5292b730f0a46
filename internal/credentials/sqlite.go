package credentials

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/squadup/mobilecore/internal/cryptox"
	"github.com/squadup/mobilecore/internal/repositories/kv"
)

// storageKey is the well-known kv key the encrypted session lives under.
const storageKey = "session_tokens"

// envelope is the persisted form: the salt used for key derivation plus the
// AES-GCM ciphertext and nonce of the JSON-encoded Tokens.
type envelope struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// SQLiteStore persists tokens encrypted at rest in the kv repository.
// The encryption key is derived from a device-local secret, so a copied
// database file alone does not leak the session.
type SQLiteStore struct {
	repo   kv.Repository
	secret []byte
}

func NewSQLiteStore(repo kv.Repository, deviceSecret []byte) *SQLiteStore {
	return &SQLiteStore{repo: repo, secret: deviceSecret}
}

func (s *SQLiteStore) Get(ctx context.Context) (*Tokens, error) {
	raw, err := s.repo.Get(ctx, storageKey)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode stored session: %w", err)
	}

	key := cryptox.DeriveKey(s.secret, env.Salt)

	var t Tokens
	if err := cryptox.DecryptValue(env.Ciphertext, env.Nonce, key, &t); err != nil {
		return nil, fmt.Errorf("failed to decrypt stored session: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) Set(ctx context.Context, t Tokens) error {
	salt := cryptox.RandBytes(16)
	key := cryptox.DeriveKey(s.secret, salt)

	ciphertext, nonce, err := cryptox.EncryptValue(t, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}

	raw, err := json.Marshal(envelope{Salt: salt, Nonce: nonce, Ciphertext: ciphertext})
	if err != nil {
		return err
	}
	return s.repo.Set(ctx, storageKey, raw)
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.repo.Delete(ctx, storageKey)
}
