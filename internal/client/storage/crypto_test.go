package storage

import (
	"context"
	"strings"
	"testing"
)

func TestSealedStore(t *testing.T) {
	s, err := NewSealedStore(NewMemoryStore(), "cert-or-passphrase")
	if err != nil {
		t.Fatalf("NewSealedStore failed: %v", err)
	}
	exerciseStore(t, s)
}

func TestSealedStore_CiphertextAtRest(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	s, _ := NewSealedStore(inner, "k1")

	if err := s.Set(ctx, TokenKey, []byte(`{"access":"secret-token"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	raw, _ := inner.Get(ctx, TokenKey)
	if strings.Contains(string(raw), "secret-token") {
		t.Errorf("plaintext leaked to inner store: %s", raw)
	}

	other, _ := NewSealedStore(inner, "k2")
	if _, err := other.Get(ctx, TokenKey); err == nil || !strings.Contains(err.Error(), "decryption error") {
		t.Errorf("wrong key: err = %v; want decryption error", err)
	}

	_ = inner.Set(ctx, "junk", []byte("%%%"))
	if _, err := s.Get(ctx, "junk"); err == nil || !strings.Contains(err.Error(), "decode error") {
		t.Errorf("junk record: err = %v; want decode error", err)
	}
}

func TestNewSealedStore_EmptyKey(t *testing.T) {
	if _, err := NewSealedStore(NewMemoryStore(), ""); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestNewAEAD(t *testing.T) {
	aead, err := NewAEAD([]byte("dummy-cert-content"))
	if err != nil {
		t.Fatalf("NewAEAD returned error: %v", err)
	}
	if aead.NonceSize() != 12 {
		t.Errorf("nonce size = %d; want 12", aead.NonceSize())
	}
}
