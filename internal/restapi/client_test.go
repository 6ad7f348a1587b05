package restapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/corvusbot/corvus/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New("test-bot", nil)
	c.SetBaseURL(srv.URL)
	return c
}

func TestClassifyStatusCodes(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{401, ErrInvalidAuthentication},
		{403, ErrNoPermission},
		{404, ErrNotFound},
		{200, nil},
	}
	for _, tc := range cases {
		got := classify(tc.code, 0)
		if tc.want == nil {
			if got != nil {
				t.Errorf("classify(%d) = %v, want nil", tc.code, got)
			}
			continue
		}
		if got != tc.want {
			t.Errorf("classify(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassifyRateLimited(t *testing.T) {
	err := classify(429, 2.5)
	rl, ok := err.(*RateLimited)
	if !ok {
		t.Fatalf("classify(429) = %T, want *RateLimited", err)
	}
	if rl.RetryAfter != 2.5 {
		t.Errorf("RetryAfter = %v, want 2.5", rl.RetryAfter)
	}
}

func TestClassifyUnmappedStatus(t *testing.T) {
	err := classify(503, 0)
	se, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("classify(503) = %T, want *StatusError", err)
	}
	if se.Code != 503 {
		t.Errorf("Code = %d, want 503", se.Code)
	}
}

func TestChannelWireToModelVoice(t *testing.T) {
	w := channelWire{ID: "42", Name: "general", Type: "voice", GuildID: "7"}
	ch := w.toModel()
	if ch.ID != 42 {
		t.Errorf("ID = %d, want 42", ch.ID)
	}
	if ch.ServerID != 7 {
		t.Errorf("ServerID = %d, want 7", ch.ServerID)
	}
	if ch.Type != model.ChannelVoice {
		t.Errorf("Type = %v, want ChannelVoice", ch.Type)
	}
}

func TestGatewayUsesBotIdentityHeaderAndDecodesURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Bot-Name") != "test-bot" {
			t.Errorf("missing bot identity header, got %q", r.Header.Get("X-Bot-Name"))
		}
		if r.URL.Path != "/gateway" {
			t.Errorf("path = %s, want /gateway", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "wss://example.test/gateway"})
	})

	url, err := c.Gateway(t.Context())
	if err != nil {
		t.Fatalf("Gateway: %v", err)
	}
	if url != "wss://example.test/gateway" {
		t.Errorf("Gateway() = %q, want wss://example.test/gateway", url)
	}
}

func TestChannelReturnsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Channel(t.Context(), 123)
	if err != ErrNotFound {
		t.Fatalf("Channel() error = %v, want ErrNotFound", err)
	}
}

func TestChannelCachesSecondLookup(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(channelWire{ID: "5", Name: "general", Type: "text"})
	})

	for range 2 {
		ch, err := c.Channel(t.Context(), 5)
		if err != nil {
			t.Fatalf("Channel: %v", err)
		}
		if ch.ID != 5 {
			t.Fatalf("ID = %d, want 5", ch.ID)
		}
	}
	if calls != 1 {
		t.Fatalf("expected the second Channel lookup to be served from cache, got %d HTTP calls", calls)
	}
}

func TestSendMessageTruncatesContentAt2000Chars(t *testing.T) {
	var gotLen int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotLen = len(body.Content)
		_ = json.NewEncoder(w).Encode(messageWire{ID: "1", ChannelID: "2", AuthorID: "3"})
	})

	longContent := make([]byte, 2500)
	for i := range longContent {
		longContent[i] = 'a'
	}
	_, err := c.SendMessage(t.Context(), 2, string(longContent), false)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if gotLen != 2000 {
		t.Fatalf("server received content length %d, want 2000", gotLen)
	}
}
