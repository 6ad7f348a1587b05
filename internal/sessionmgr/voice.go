package sessionmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/corvusbot/corvus/internal/gatewaytransport"
	"github.com/corvusbot/corvus/internal/model"
)

// VoiceSession is the parameter set handed to a VoiceConstructor once
// a voice-connect handshake completes.
// Opening the RTP/UDP transport itself is outside the gateway core;
// the constructor is the caller's collaborator.
type VoiceSession struct {
	ServerID  uint64
	ChannelID uint64
	SessionID string
	Token     string
	Endpoint  string
	Encrypted bool
}

// VoiceConstructor builds the actual voice transport from a completed handshake.
type VoiceConstructor func(VoiceSession)

type voicePending struct {
	serverID  uint64
	channelID uint64
	encrypted bool
	sessionID string
	done      chan model.VoiceServerUpdate
}

type voiceState struct {
	mu      sync.Mutex
	pending *voicePending
	active  *VoiceSession
}

// VoiceConnect tears down any existing voice session, sends the op=4
// join frame, and waits for the handshake to complete (recording the
// session id from VOICE_STATE_UPDATE and the token/endpoint from
// VOICE_SERVER_UPDATE) before invoking the constructor.
func (m *Manager) VoiceConnect(ctx context.Context, serverID, channelID uint64, encrypted bool) error {
	conn := m.Conn()
	if conn == nil {
		return gatewaytransport.ErrNotConnected
	}
	m.teardownVoiceLocked()

	done := make(chan model.VoiceServerUpdate, 1)
	m.voice.mu.Lock()
	m.voice.pending = &voicePending{serverID: serverID, channelID: channelID, encrypted: encrypted, done: done}
	m.voice.mu.Unlock()

	guildID := fmt.Sprintf("%d", serverID)
	chanID := fmt.Sprintf("%d", channelID)
	if err := conn.SendVoiceStateUpdate(ctx, gatewaytransport.VoiceStateUpdateData{
		GuildID:   &guildID,
		ChannelID: &chanID,
	}); err != nil {
		return err
	}

	select {
	case ev := <-done:
		m.voice.mu.Lock()
		sessionID := ""
		if m.voice.pending != nil {
			sessionID = m.voice.pending.sessionID
		}
		session := VoiceSession{
			ServerID:  serverID,
			ChannelID: channelID,
			SessionID: sessionID,
			Token:     ev.Token,
			Endpoint:  ev.Endpoint,
			Encrypted: encrypted,
		}
		m.voice.active = &session
		m.voice.pending = nil
		m.voice.mu.Unlock()

		if m.VoiceConstructor != nil {
			m.VoiceConstructor(session)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// VoiceDestroy sends the op=4 leave frame and tears down any active session.
func (m *Manager) VoiceDestroy(ctx context.Context) error {
	m.teardownVoiceLocked()
	conn := m.Conn()
	if conn == nil {
		return gatewaytransport.ErrNotConnected
	}
	return conn.SendVoiceStateUpdate(ctx, gatewaytransport.VoiceStateUpdateData{})
}

func (m *Manager) teardownVoiceLocked() {
	m.voice.mu.Lock()
	m.voice.pending = nil
	m.voice.active = nil
	m.voice.mu.Unlock()
}

// onVoiceStateUpdate captures the bot's own session id while a voice
// join is pending; wired as an event-bus handler for KindVoiceStateUpdate.
func (m *Manager) onVoiceStateUpdate(payload any) {
	ev, ok := payload.(model.VoiceStateUpdate)
	if !ok || ev.UserID != m.botUserID() {
		return
	}
	m.voice.mu.Lock()
	defer m.voice.mu.Unlock()
	if m.voice.pending != nil && m.voice.pending.serverID == ev.ServerID {
		m.voice.pending.sessionID = ev.State.SessionID
	}
}

// onVoiceServerUpdate satisfies a pending voice-connect wait; wired as
// an event-bus handler for KindVoiceServerUpdate.
func (m *Manager) onVoiceServerUpdate(payload any) {
	ev, ok := payload.(model.VoiceServerUpdate)
	if !ok {
		return
	}
	m.voice.mu.Lock()
	pending := m.voice.pending
	m.voice.mu.Unlock()
	if pending == nil || pending.serverID != ev.ServerID {
		return
	}
	select {
	case pending.done <- ev:
	default:
	}
}
