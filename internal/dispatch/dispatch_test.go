package dispatch

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/corvusbot/corvus/internal/cache"
	"github.com/corvusbot/corvus/internal/eventbus"
	"github.com/corvusbot/corvus/internal/model"
)

func newTestDispatcher() (*Dispatcher, *cache.Store, *eventbus.Bus) {
	store := cache.New()
	bus := eventbus.New(0, nil)
	return New(store, bus, nil), store, bus
}

func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestHandleReadyRebuildsCacheAndRaisesReadyEvent(t *testing.T) {
	d, store, bus := newTestDispatcher()
	var mu sync.Mutex
	var got *model.ReadyEvent
	bus.On(model.KindReady, nil, func(p any) {
		mu.Lock()
		defer mu.Unlock()
		ev := p.(model.ReadyEvent)
		got = &ev
	})

	raw := json.RawMessage(`{
		"user": {"id": "1", "username": "bot"},
		"guilds": [{"id": "10", "name": "guild"}],
		"private_channels": []
	}`)
	d.Handle("READY", raw)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	})
	if store.Server(10) == nil {
		t.Fatal("READY should have populated the server cache")
	}
	if store.BotUser() == nil || store.BotUser().ID != 1 {
		t.Fatal("READY should have populated the bot user")
	}
}

func TestHandleMessageCreateRaisesMentionForBotID(t *testing.T) {
	d, _, bus := newTestDispatcher()
	d.SetBotUserID(5)

	var mu sync.Mutex
	mentionFired := false
	bus.On(model.KindMention, nil, func(p any) {
		mu.Lock()
		mentionFired = true
		mu.Unlock()
	})

	raw := json.RawMessage(`{"id":"1","channel_id":"2","author":{"id":"3"},"content":"hi","mentions":[{"id":"5"}]}`)
	d.Handle("MESSAGE_CREATE", raw)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return mentionFired
	})
}

func TestHandleMessageCreateTruncatesLongContent(t *testing.T) {
	d, _, bus := newTestDispatcher()
	var mu sync.Mutex
	var gotLen int
	bus.On(model.KindMessage, nil, func(p any) {
		mu.Lock()
		defer mu.Unlock()
		gotLen = len(p.(model.MessageEvent).Message.Content)
	})

	long := make([]byte, 2500)
	for i := range long {
		long[i] = 'x'
	}
	raw, _ := json.Marshal(map[string]any{
		"id": "1", "channel_id": "2", "author": map[string]string{"id": "3"}, "content": string(long),
	})
	d.Handle("MESSAGE_CREATE", raw)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotLen != 0
	})
	if gotLen != 2000 {
		t.Fatalf("content length = %d, want 2000", gotLen)
	}
}

func TestHandleGuildRoleDeleteStripsRoleFromCache(t *testing.T) {
	d, store, _ := newTestDispatcher()
	srv := model.NewServer(1)
	store.AddServer(srv)
	store.UpsertRole(1, &model.Role{ID: 99, Name: "mod"})

	raw := json.RawMessage(`{"guild_id":"1","role_id":"99"}`)
	d.Handle("GUILD_ROLE_DELETE", raw)

	if _, ok := srv.RoleByID(99); ok {
		t.Fatal("role should have been removed from the server")
	}
}

func TestHandleUnrecognizedEventIsDroppedWithoutPanic(t *testing.T) {
	d, _, _ := newTestDispatcher()
	d.Handle("SOME_FUTURE_EVENT", json.RawMessage(`{}`))
}

func TestHandleVoiceServerUpdateRaisesEvent(t *testing.T) {
	d, _, bus := newTestDispatcher()
	var mu sync.Mutex
	var got *model.VoiceServerUpdate
	bus.On(model.KindVoiceServerUpdate, nil, func(p any) {
		mu.Lock()
		defer mu.Unlock()
		ev := p.(model.VoiceServerUpdate)
		got = &ev
	})

	raw := json.RawMessage(`{"guild_id":"1","token":"tok","endpoint":"voice.example.test:443"}`)
	d.Handle("VOICE_SERVER_UPDATE", raw)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	})
	mu.Lock()
	defer mu.Unlock()
	if got.Endpoint != "voice.example.test:443" {
		t.Fatalf("Endpoint = %q, want voice.example.test:443", got.Endpoint)
	}
}
