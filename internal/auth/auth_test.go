package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestGenerateAndValidateKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	rawKey, key, err := m.GenerateKey(ctx, "0xABC0000000000000000000000000000000000001", "test key")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if !strings.HasPrefix(rawKey, "sk_") {
		t.Errorf("raw key should have sk_ prefix, got %s", rawKey)
	}
	if key.Address != "0xabc0000000000000000000000000000000000001" {
		t.Errorf("address should be lowercased, got %s", key.Address)
	}

	validated, err := m.ValidateKey(ctx, rawKey)
	if err != nil {
		t.Fatalf("ValidateKey failed: %v", err)
	}
	if validated.ID != key.ID {
		t.Errorf("expected key %s, got %s", key.ID, validated.ID)
	}
}

func TestValidateKeyWithBearerPrefix(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	rawKey, _, err := m.GenerateKey(ctx, "0x0000000000000000000000000000000000000001", "")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	if _, err := m.ValidateKey(ctx, "Bearer "+rawKey); err != nil {
		t.Errorf("ValidateKey with Bearer prefix failed: %v", err)
	}
}

func TestValidateInvalidKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	cases := []string{"", "not_a_key", "sk_0000000000000000000000000000000000000000000000000000000000000000"}
	for _, raw := range cases {
		if _, err := m.ValidateKey(ctx, raw); err == nil {
			t.Errorf("expected error for key %q", raw)
		}
	}
}

func TestRevokedKeyRejected(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	addr := "0x0000000000000000000000000000000000000001"
	rawKey, key, err := m.GenerateKey(ctx, addr, "")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	if err := m.RevokeKey(ctx, key.ID, addr); err != nil {
		t.Fatalf("RevokeKey failed: %v", err)
	}

	if _, err := m.ValidateKey(ctx, rawKey); err == nil {
		t.Error("revoked key should not validate")
	}
}

func TestExpiredKeyRejected(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	rawKey, key, err := m.GenerateKey(ctx, "0x0000000000000000000000000000000000000001", "")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	past := time.Now().Add(-time.Hour)
	key.ExpiresAt = &past
	store.Update(ctx, key)

	if _, err := m.ValidateKey(ctx, rawKey); err == nil {
		t.Error("expired key should not validate")
	}
}
