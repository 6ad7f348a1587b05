package gatewaytransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// GatewayURL is the fixed Discord gateway endpoint for protocol v3.
const GatewayURL = "wss://gateway.discord.gg/?v=3&encoding=json"

// Common errors.
var (
	ErrNotConnected      = errors.New("gatewaytransport: not connected")
	ErrProtocolViolation = errors.New("gatewaytransport: unrecognized op code from server")
)

// Conn is a single WebSocket connection to the Discord gateway. It
// owns the socket, the read loop, and the heartbeat ticker; it knows
// nothing about guilds or caches. One Conn backs one gateway session.
type Conn struct {
	conn *websocket.Conn
	mu   sync.RWMutex

	url string

	sessionID string
	sequence  int

	heartbeatInterval time.Duration
	heartbeatStop     chan struct{}

	readDone chan struct{}

	logger *slog.Logger

	// OnDispatch is invoked for every op=0 frame, in the order read.
	OnDispatch func(eventType string, data json.RawMessage)
	// OnReady is invoked once the READY dispatch has updated
	// heartbeat state, just before OnDispatch fires for READY itself.
	OnReady func(sessionID string, heartbeatInterval time.Duration)
	// OnClose is invoked exactly once when the read loop exits for
	// any reason: clean close, network error, or protocol violation.
	OnClose func(err error)
}

// New returns an unconnected Conn.
func New(logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{logger: logger.With("component", "gatewaytransport")}
}

// SetURL overrides the gateway endpoint to dial, e.g. with the value
// the REST gateway-discovery endpoint returned. Unset, Dial falls
// back to the fixed GatewayURL.
func (c *Conn) SetURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = url
}

// Dial opens the WebSocket and starts the read loop. It returns once
// the socket is open; IDENTIFY is the caller's responsibility (the
// session manager sends it).
func (c *Conn) Dial(ctx context.Context) error {
	c.mu.RLock()
	url := c.url
	c.mu.RUnlock()
	if url == "" {
		url = GatewayURL
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	conn.SetReadLimit(1024 * 1024)

	c.mu.Lock()
	c.conn = conn
	c.heartbeatStop = make(chan struct{})
	c.readDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(ctx)
	return nil
}

// Close closes the socket and waits (briefly) for the read loop to exit.
func (c *Conn) Close() error {
	c.mu.Lock()
	conn := c.conn
	stop := c.heartbeatStop
	done := c.readDone
	c.conn = nil
	c.heartbeatStop = nil
	c.mu.Unlock()

	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}
	return nil
}

func (c *Conn) write(ctx context.Context, op int, data any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	payload := struct {
		Op   int `json:"op"`
		Data any `json:"d"`
	}{Op: op, Data: data}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal op %d: %w", op, err)
	}
	return conn.Write(ctx, websocket.MessageText, raw)
}

// SendIdentify sends the op=2 IDENTIFY payload.
func (c *Conn) SendIdentify(ctx context.Context, d IdentifyData) error {
	d.Version = 3
	return c.write(ctx, OpIdentify, d)
}

// SendResume sends the op=6 RESUME payload. Exposed for completeness
// of the wire protocol; the session manager never calls it.
func (c *Conn) SendResume(ctx context.Context, d ResumeData) error {
	return c.write(ctx, OpResume, d)
}

// SendHeartbeat sends the op=1 heartbeat carrying the current Unix
// millisecond timestamp, per the glossary definition of Heartbeat.
func (c *Conn) SendHeartbeat(ctx context.Context) error {
	return c.write(ctx, OpHeartbeat, time.Now().UnixMilli())
}

// SendPresenceUpdate sends the op=3 presence frame.
func (c *Conn) SendPresenceUpdate(ctx context.Context, d PresenceUpdateData) error {
	return c.write(ctx, OpPresenceUpdate, d)
}

// SendVoiceStateUpdate sends the op=4 voice state frame.
func (c *Conn) SendVoiceStateUpdate(ctx context.Context, d VoiceStateUpdateData) error {
	return c.write(ctx, OpVoiceStateUpdate, d)
}

// SendRequestMembers sends the op=8 request-members frame.
func (c *Conn) SendRequestMembers(ctx context.Context, d RequestMembersData) error {
	return c.write(ctx, OpRequestMembers, d)
}

// SessionID returns the session id recorded from the last READY.
func (c *Conn) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Sequence returns the last sequence number observed on a dispatch frame.
func (c *Conn) Sequence() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		if c.heartbeatStop != nil {
			select {
			case <-c.heartbeatStop:
			default:
				close(c.heartbeatStop)
			}
		}
		done := c.readDone
		c.readDone = nil
		c.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			c.notifyClose(nil)
			return
		}

		readCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			c.notifyClose(err)
			return
		}

		if err := c.handleFrame(ctx, data); err != nil {
			if errors.Is(err, ErrProtocolViolation) {
				c.logger.Error("protocol violation, dropping connection", "error", err)
				_ = conn.Close(websocket.StatusProtocolError, "protocol violation")
				c.notifyClose(err)
				return
			}
			c.logger.Error("error handling frame", "error", err)
		}
	}
}

func (c *Conn) handleFrame(ctx context.Context, raw []byte) error {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Sequence != nil {
		c.mu.Lock()
		c.sequence = *f.Sequence
		c.mu.Unlock()
	}

	switch f.Op {
	case OpDispatch:
		return c.handleDispatch(ctx, f.Type, f.Data)
	case OpHeartbeat:
		c.logger.Debug("received heartbeat request from gateway")
		return c.SendHeartbeat(ctx)
	default:
		return fmt.Errorf("%w: op %d", ErrProtocolViolation, f.Op)
	}
}

func (c *Conn) handleDispatch(ctx context.Context, eventType string, data json.RawMessage) error {
	if eventType == "READY" {
		var meta readyMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("unmarshal ready: %w", err)
		}

		interval := time.Duration(meta.HeartbeatInterval) * time.Millisecond
		c.mu.Lock()
		c.sessionID = meta.SessionID
		c.heartbeatInterval = interval
		c.mu.Unlock()

		go c.startHeartbeat(ctx, interval)

		if c.OnReady != nil {
			c.OnReady(meta.SessionID, interval)
		}
	}

	if c.OnDispatch != nil {
		c.OnDispatch(eventType, data)
	}
	return nil
}

func (c *Conn) notifyClose(err error) {
	if c.OnClose != nil {
		c.OnClose(err)
	}
}

// startHeartbeat runs the heartbeat timer. It is active if and only
// if a READY has been received on this connection and no close has
// been observed (invariant 5).
func (c *Conn) startHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	c.mu.RLock()
	stop := c.heartbeatStop
	c.mu.RUnlock()
	if stop == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SendHeartbeat(ctx); err != nil {
				c.logger.Error("failed to send heartbeat", "error", err)
				return
			}
		}
	}
}
