package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/corvusbot/corvus/internal/model"
)

func TestOnMatchesRegisteredKindOnly(t *testing.T) {
	b := New(0, nil)
	var mu sync.Mutex
	var got []any

	b.On(model.KindMessage, nil, func(p any) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p)
	})
	b.On(model.KindTyping, nil, func(p any) {
		t.Error("typing handler should not fire for a message event")
	})

	b.Raise(model.Event{Kind: model.KindMessage, Payload: "hello"}, nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("handler never fired")
}

func TestOffRemovesRegistration(t *testing.T) {
	b := New(0, nil)
	fired := false
	id := b.On(model.KindTyping, nil, func(p any) { fired = true })
	b.Off(id)
	b.Raise(model.Event{Kind: model.KindTyping, Payload: nil}, nil)

	time.Sleep(20 * time.Millisecond)
	if fired {
		t.Fatal("handler fired after being removed with Off")
	}
}

func TestPredicateFiltersPayload(t *testing.T) {
	b := New(0, nil)
	var mu sync.Mutex
	matched := 0

	b.On(model.KindMessage, func(p any) bool {
		return p.(string) == "wanted"
	}, func(p any) {
		mu.Lock()
		matched++
		mu.Unlock()
	})

	b.Raise(model.Event{Kind: model.KindMessage, Payload: "unwanted"}, nil)
	b.Raise(model.Event{Kind: model.KindMessage, Payload: "wanted"}, nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := matched
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected exactly 1 match, got %d", matched)
}

func TestAddAwaitGeneratesKeyWhenEmpty(t *testing.T) {
	b := New(0, nil)
	a := b.AddAwait("", model.KindReady, nil, nil, false)
	if a.Key == "" {
		t.Fatal("expected a generated key when none supplied")
	}
}

func TestRaiseFiresAwaitAndRemovesNonDurable(t *testing.T) {
	b := New(0, nil)
	b.AddAwait("k1", model.KindVoiceServerUpdate, map[string]string{"server_id": "1"}, nil, false)

	source := func(attr string) (string, bool) {
		if attr == "server_id" {
			return "1", true
		}
		return "", false
	}
	b.Raise(model.Event{Kind: model.KindVoiceServerUpdate, Payload: nil}, source)

	b.mu.RLock()
	remaining := len(b.awaits)
	b.mu.RUnlock()
	if remaining != 0 {
		t.Fatalf("expected the non-durable await to be removed, %d remain", remaining)
	}
}

func TestRaiseKeepsDurableAwaitAfterFiring(t *testing.T) {
	b := New(0, nil)
	b.AddAwait("k1", model.KindVoiceServerUpdate, nil, nil, true)

	b.Raise(model.Event{Kind: model.KindVoiceServerUpdate, Payload: nil}, nil)

	b.mu.RLock()
	remaining := len(b.awaits)
	b.mu.RUnlock()
	if remaining != 1 {
		t.Fatalf("expected the durable await to survive, got %d remaining", remaining)
	}
}

func TestWorkerLimitBoundsConcurrentHandlers(t *testing.T) {
	b := New(2, nil)
	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup

	handler := func(p any) {
		defer wg.Done()
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
	}
	b.On(model.KindTyping, nil, handler)

	wg.Add(5)
	for range 5 {
		b.Raise(model.Event{Kind: model.KindTyping, Payload: nil}, nil)
	}
	wg.Wait()

	if maxActive > 2 {
		t.Fatalf("max concurrent handlers = %d, want <= 2", maxActive)
	}
}
