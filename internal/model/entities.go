// Package model defines the entities dispatched over the Discord gateway
// and cached in-process by the core. It is a leaf package: it imports
// nothing else in this module so that the cache, dispatcher, REST
// client, session manager, and the public facade can all share one
// definition of a User, Server, Channel, Role, Message, and Invite
// without an import cycle back to the facade package.
package model

import "time"

// ChannelType distinguishes the three channel shapes the core tracks.
type ChannelType int

const (
	ChannelText ChannelType = iota
	ChannelVoice
	ChannelPrivate
)

// Status is a user's online presence.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// VoiceState is a user's voice-channel membership within one server.
type VoiceState struct {
	ChannelID uint64
	SessionID string
	Mute      bool
	Deaf      bool
	SelfMute  bool
	SelfDeaf  bool
}

// User is a Discord account as the core sees it: identity plus, per
// server, the set of role ids it holds there (invariant 2).
type User struct {
	ID            uint64
	Username      string
	Discriminator string
	Avatar        string
	Bot           bool
	Status        Status
	Game          string

	// Roles maps server id -> role ids held on that server.
	Roles map[uint64][]uint64
}

// RolesOn returns the role ids u holds on server id, creating no entry
// if none exist.
func (u *User) RolesOn(serverID uint64) []uint64 {
	if u.Roles == nil {
		return nil
	}
	return u.Roles[serverID]
}

// PermissionOverwrite grants or denies a permission mask to a role or member.
type PermissionOverwrite struct {
	ID    uint64
	Type  string // "role" | "member"
	Allow uint64
	Deny  uint64
}

// Role is a named permission set positioned within one server's role list.
type Role struct {
	ID          uint64
	Name        string
	Color       int
	Hoist       bool
	Position    int
	Permissions uint64 // 53-bit mask
}

// Channel is a text, voice, or private channel.
type Channel struct {
	ID                   uint64
	Name                 string
	Type                 ChannelType
	ServerID             uint64 // zero for private channels
	Position             int
	Topic                string
	RecipientID          uint64 // private channels only
	PermissionOverwrites []PermissionOverwrite
}

// IsPrivate reports whether c is a DM channel.
func (c *Channel) IsPrivate() bool {
	return c.Type == ChannelPrivate
}

// Server (guild) aggregates channels, members, roles, and voice state
// by id, never by direct pointer, so deleting a server never leaves a dangling owner
// pointer on a Channel or Role.
type Server struct {
	ID      uint64
	Name    string
	Icon    string
	Region  string
	OwnerID uint64

	Roles       []*Role
	ChannelIDs  map[uint64]bool
	MemberIDs   map[uint64]bool
	VoiceStates map[uint64]VoiceState // user id -> state
}

// NewServer returns an empty Server ready for mutation.
func NewServer(id uint64) *Server {
	return &Server{
		ID:          id,
		ChannelIDs:  make(map[uint64]bool),
		MemberIDs:   make(map[uint64]bool),
		VoiceStates: make(map[uint64]VoiceState),
	}
}

// RoleByID returns the role with the given id and whether it was found.
func (s *Server) RoleByID(id uint64) (*Role, bool) {
	for _, r := range s.Roles {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// RemoveRole removes the role with the given id, if present.
func (s *Server) RemoveRole(id uint64) {
	for i, r := range s.Roles {
		if r.ID == id {
			s.Roles = append(s.Roles[:i], s.Roles[i+1:]...)
			return
		}
	}
}

// Attachment is a file attached to a Message.
type Attachment struct {
	ID       uint64
	Filename string
	URL      string
	Size     int
}

// Message is a channel message. Content is capped at 2000
// characters and messages themselves are never cached.
type Message struct {
	ID          uint64
	ChannelID   uint64
	AuthorID    uint64
	Content     string
	Timestamp   time.Time
	Mentions    []uint64
	Attachments []Attachment
	TTS         bool
}

// InviteServer is the server summary embedded in an Invite.
type InviteServer struct {
	ID   uint64
	Name string
}

// InviteChannel is the channel summary embedded in an Invite.
type InviteChannel struct {
	ID   uint64
	Name string
}

// Invite describes an invite link and the terms under which it was created.
type Invite struct {
	Code      string
	Server    InviteServer
	Channel   InviteChannel
	Inviter   *User
	Uses      int
	MaxUses   int
	MaxAge    int
	Temporary bool
}

// Profile is the bot's own identity plus the credential used to obtain it.
type Profile struct {
	User  *User
	Token string
}

// Await is a one-shot keyed subscription matching the next event that
// satisfies Kind and Attrs. A Durable await survives
// its own firing instead of being removed.
type Await struct {
	Key     string
	Kind    string
	Attrs   map[string]string
	Payload any
	Durable bool
}
