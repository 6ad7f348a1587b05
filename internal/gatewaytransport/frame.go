// Package gatewaytransport owns the WebSocket connection to Discord's
// real-time gateway: dialing, framing, heartbeating, and the outbound
// op codes a session needs to send. It knows nothing about guilds,
// users, or caches — that is the dispatcher's job, one layer up.
//
// The core targets gateway protocol version 3: the
// client IDENTIFYs immediately on socket open and learns the
// heartbeat interval from the READY dispatch, rather than waiting for
// a HELLO frame. The ops sent are {1,2,3,4,8} (plus 6, RESUME, which
// the session manager never sends); the only ops accepted from the
// server are 0 (dispatch) and 1 (heartbeat request). Any other op
// received from the server is a protocol violation, not a
// newer-protocol op to be tolerated.
package gatewaytransport

import "encoding/json"

// Gateway op codes the core sends or recognizes.
const (
	OpDispatch         = 0 // Dispatch: a named event was pushed (S->C)
	OpHeartbeat        = 1 // Heartbeat: keep the session alive (either direction)
	OpIdentify         = 2 // Identify: authenticate a new session (C->S)
	OpPresenceUpdate   = 3 // Presence Update (C->S)
	OpVoiceStateUpdate = 4 // Voice State Update: join/leave voice (C->S)
	OpResume           = 6 // Resume: continue a previous session (C->S only; never sent by the session manager)
	OpRequestMembers   = 8 // Request Guild Members (C->S)
)

// Frame is the wire envelope for every gateway message: {op, d, t?, s?}.
type Frame struct {
	Op       int             `json:"op"`
	Data     json.RawMessage `json:"d"`
	Sequence *int            `json:"s,omitempty"`
	Type     string          `json:"t,omitempty"`
}

// IdentifyProperties describes the client Discord's rate limiter sees.
type IdentifyProperties struct {
	OS              string `json:"$os"`
	Browser         string `json:"$browser"`
	Device          string `json:"$device"`
	Referrer        string `json:"$referrer"`
	ReferringDomain string `json:"$referring_domain"`
}

// IdentifyData is the op=2 payload. The v:3 protocol version is mandatory.
type IdentifyData struct {
	Version        int                `json:"v"`
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	LargeThreshold int                `json:"large_threshold"`
}

// ResumeData is the op=6 payload, sent only if a caller explicitly
// invokes SendResume; the session manager never does.
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int    `json:"seq"`
}

// GameObject names the activity shown under a user's name.
type GameObject struct {
	Name string `json:"name"`
}

// PresenceUpdateData is the op=3 payload.
type PresenceUpdateData struct {
	Game   *GameObject `json:"game"`
	Status string      `json:"status,omitempty"`
	Since  *int64      `json:"since"`
	AFK    bool        `json:"afk"`
}

// VoiceStateUpdateData is the op=4 payload.
type VoiceStateUpdateData struct {
	GuildID   *string `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// RequestMembersData is the op=8 payload.
type RequestMembersData struct {
	GuildID []string `json:"guild_id"`
	Query   string   `json:"query"`
	Limit   int      `json:"limit"`
}

// readyMeta is the slice of the READY dispatch payload the transport
// itself needs (heartbeat interval, session id); the rest of the
// payload is handed to the dispatcher untouched via the Frame.
type readyMeta struct {
	HeartbeatInterval int    `json:"heartbeat_interval"`
	SessionID         string `json:"session_id"`
}
