package security

import (
	"testing"
)

func TestHashRefreshID_Consistent(t *testing.T) {
	id := "3f0c2b9a7e5d4c1b8a6f0e2d4c6b8a0f"
	hash1 := HashRefreshID(id)
	hash2 := HashRefreshID(id)

	if hash1 != hash2 {
		t.Errorf("HashRefreshID not consistent: hash1 = %q, hash2 = %q", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(hash1))
	}
	if HashRefreshID("other") == hash1 {
		t.Error("HashRefreshID produced same hash for different ids")
	}
}

func TestRefreshIDHashEqual(t *testing.T) {
	id := NewRefreshID()
	stored := HashRefreshID(id)
	if !RefreshIDHashEqual(id, stored) {
		t.Error("RefreshIDHashEqual should match its own hash")
	}
	if RefreshIDHashEqual(id+"x", stored) {
		t.Error("RefreshIDHashEqual should not match a different id")
	}
}

func TestNewRefreshID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewRefreshID()
		if len(id) != 32 {
			t.Fatalf("id length = %d, want 32", len(id))
		}
		for _, c := range id {
			if c == '-' {
				t.Fatalf("id %q contains a dash", id)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
