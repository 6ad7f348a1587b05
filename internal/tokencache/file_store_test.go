package tokencache

import (
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	s := NewFileStore(path)

	_, ok, err := s.Lookup(t.Context(), "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("expected a miss before any Store call")
	}

	if err := s.Store(t.Context(), "alice@example.com", "pw", "ABC"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	token, ok, err := s.Lookup(t.Context(), "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || token != "ABC" {
		t.Fatalf("Lookup = (%q, %v), want (ABC, true)", token, ok)
	}
}

func TestFileStoreMissesOnChangedSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	s := NewFileStore(path)

	if err := s.Store(t.Context(), "alice@example.com", "pw", "ABC"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	_, ok, err := s.Lookup(t.Context(), "alice@example.com", "different-pw")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("expected a miss when the secret changed")
	}
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := NewFileStore(path).Store(t.Context(), "alice@example.com", "pw", "ABC"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	token, ok, err := NewFileStore(path).Lookup(t.Context(), "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || token != "ABC" {
		t.Fatalf("Lookup = (%q, %v), want (ABC, true)", token, ok)
	}
}
