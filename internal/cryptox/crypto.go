// Package cryptox holds the crypto primitives used to protect session
// tokens at rest on the device.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"

	"golang.org/x/crypto/argon2"
)

// DeriveKey derives a 32-byte AES key from a device secret and salt using
// Argon2id. Parameters follow the library's recommended interactive profile.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
}

// EncryptValue serializes v to JSON and encrypts it with AES-GCM under key.
// A fresh random 12-byte nonce is generated per call and returned alongside
// the ciphertext. The key must be 16, 24 or 32 bytes.
func EncryptValue(v any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// DecryptValue decrypts AES-GCM ciphertext produced by EncryptValue and
// unmarshals the resulting JSON into v. key and nonce must match the ones
// used during encryption.
func DecryptValue(ciphertext, nonce, key []byte, v any) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return err
	}

	return json.Unmarshal(plaintext, v)
}

// RandBytes returns n cryptographically random bytes, panicking only if the
// system entropy source is unavailable.
func RandBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}
