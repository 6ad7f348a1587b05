package gatewaytransport

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestHandleFrameUnrecognizedOpIsProtocolViolation(t *testing.T) {
	c := New(nil)
	c.heartbeatStop = make(chan struct{})

	err := c.handleFrame(nil, []byte(`{"op":99,"d":null}`))
	if !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("handleFrame(op=99) = %v, want ErrProtocolViolation", err)
	}
}

func TestHandleFrameDispatchUpdatesSequence(t *testing.T) {
	c := New(nil)
	c.heartbeatStop = make(chan struct{})

	seen := ""
	c.OnDispatch = func(eventType string, data json.RawMessage) {
		seen = eventType
	}

	err := c.handleFrame(nil, []byte(`{"op":0,"t":"GUILD_CREATE","s":42,"d":{"id":"1"}}`))
	if err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	if seen != "GUILD_CREATE" {
		t.Fatalf("OnDispatch event = %q, want GUILD_CREATE", seen)
	}
	if got := c.Sequence(); got != 42 {
		t.Fatalf("Sequence() = %d, want 42", got)
	}
}

func TestIdentifyDataMarshalsVersionAsV(t *testing.T) {
	c := &Conn{logger: nil}
	_ = c
	d := IdentifyData{Version: 0, Token: "t"}
	d.Version = 3
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	var roundTrip map[string]any
	if err := json.Unmarshal(raw, &roundTrip); err != nil {
		t.Fatal(err)
	}
	if v, _ := roundTrip["v"].(float64); v != 3 {
		t.Fatalf("identify v = %v, want 3", roundTrip["v"])
	}
}
