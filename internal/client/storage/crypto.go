package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// NewAEAD derives an AES-GCM cipher from an arbitrary secret.
func NewAEAD(secret []byte) (cipher.AEAD, error) {
	key := sha256.Sum256(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return aead, nil
}

// SealedStore encrypts values before handing them to the wrapped store.
// Stored form is base64(nonce || ciphertext).
type SealedStore struct {
	inner Store
	aead  cipher.AEAD
}

// NewSealedStore wraps inner with AES-GCM keyed by secret.
func NewSealedStore(inner Store, secret string) (*SealedStore, error) {
	if secret == "" {
		return nil, errors.New("seal key is empty")
	}
	aead, err := NewAEAD([]byte(secret))
	if err != nil {
		return nil, err
	}
	return &SealedStore{inner: inner, aead: aead}, nil
}

func (s *SealedStore) Get(ctx context.Context, key string) ([]byte, error) {
	enc, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(string(enc))
	if err != nil || len(raw) < s.aead.NonceSize() {
		return nil, fmt.Errorf("sealed %q: decode error", key)
	}
	nonce, ct := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ct, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("sealed %q: decryption error", key)
	}
	return plain, nil
}

func (s *SealedStore) Set(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	ct := s.aead.Seal(nonce, nonce, value, []byte(key))
	return s.inner.Set(ctx, key, []byte(base64.StdEncoding.EncodeToString(ct)))
}

func (s *SealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
