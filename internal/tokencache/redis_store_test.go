package tokencache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, 0)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s := newTestRedisStore(t)

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

func TestRedisStoreRespectsTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStore(client, time.Minute)

	if err := s.Store(t.Context(), "alice@example.com", "pw", "ABC"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	_, ok, err := s.Lookup(t.Context(), "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("expected the token to have expired")
	}
}
