package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewNotifierReturnsNilForEmptyURL(t *testing.T) {
	if n := NewNotifier("", nil); n != nil {
		t.Fatalf("expected nil notifier for empty URL, got %v", n)
	}
}

func TestNilNotifierMethodsAreNoOps(t *testing.T) {
	var n *Notifier
	n.NotifyDisconnected("bot", nil)
	n.NotifyReconnecting("bot", 1, time.Second)
	n.NotifyReady("bot", 3)
}

func TestNotifyReadyPostsEmbed(t *testing.T) {
	received := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, nil)
	n.NotifyReady("echobot", 5)

	select {
	case p := <-received:
		if len(p.Embeds) != 1 {
			t.Fatalf("expected one embed, got %d", len(p.Embeds))
		}
		if p.Embeds[0].Color != ColorGreen {
			t.Errorf("expected green embed, got %#x", p.Embeds[0].Color)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not posted")
	}
}
