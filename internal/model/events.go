package model

// Kind identifies the shape of an emitted Event so the event bus can
// match handlers and awaits against it without reflection on the
// payload type.
type Kind string

const (
	KindReady             Kind = "READY"
	KindGuildCreate       Kind = "GUILD_CREATE"
	KindGuildUpdate       Kind = "GUILD_UPDATE"
	KindGuildDelete       Kind = "GUILD_DELETE"
	KindGuildMemberAdd    Kind = "GUILD_MEMBER_ADD"
	KindGuildMemberUpdate Kind = "GUILD_MEMBER_UPDATE"
	KindGuildMemberDelete Kind = "GUILD_MEMBER_DELETE"
	KindGuildRoleCreate   Kind = "GUILD_ROLE_CREATE"
	KindGuildRoleUpdate   Kind = "GUILD_ROLE_UPDATE"
	KindGuildRoleDelete   Kind = "GUILD_ROLE_DELETE"
	KindUserBan           Kind = "USER_BAN"
	KindUserUnban         Kind = "USER_UNBAN"
	KindChannelCreate     Kind = "CHANNEL_CREATE"
	KindChannelUpdate     Kind = "CHANNEL_UPDATE"
	KindChannelDelete     Kind = "CHANNEL_DELETE"
	KindMessage           Kind = "MESSAGE"
	KindMention           Kind = "MENTION"
	KindPrivateMessage    Kind = "PRIVATE_MESSAGE"
	KindMessageEdit       Kind = "MESSAGE_EDIT"
	KindMessageDelete     Kind = "MESSAGE_DELETE"
	KindTyping            Kind = "TYPING"
	KindPlaying           Kind = "PLAYING"
	KindPresence          Kind = "PRESENCE"
	KindVoiceStateUpdate  Kind = "VOICE_STATE_UPDATE"
	KindVoiceServerUpdate Kind = "VOICE_SERVER_UPDATE"
)

// Event is the envelope handed to the event bus: a Kind plus whatever
// payload struct corresponds to it below.
type Event struct {
	Kind    Kind
	Payload any
}

// ReadyEvent is raised once the cache has been rebuilt from a READY dispatch.
type ReadyEvent struct {
	ServerIDs        []uint64
	HeartbeatMillis  int
	PrivateChannels  []uint64
	BotUser          *User
}

// GuildCreate is raised when a server becomes visible to the bot.
type GuildCreate struct{ Server *Server }

// GuildUpdate is raised when a server's fields change.
type GuildUpdate struct{ Server *Server }

// GuildDelete is raised when a server is removed or the bot leaves it.
type GuildDelete struct{ ServerID uint64 }

// GuildMemberAdd is raised when a user joins a server.
type GuildMemberAdd struct {
	ServerID uint64
	User     *User
}

// GuildMemberUpdate is raised when a member's role set changes.
type GuildMemberUpdate struct {
	ServerID uint64
	User     *User
}

// GuildMemberDelete is raised when a user leaves or is removed from a server.
type GuildMemberDelete struct {
	ServerID uint64
	UserID   uint64
}

// GuildRoleCreate is raised when a role is created on a server.
type GuildRoleCreate struct {
	ServerID uint64
	Role     *Role
}

// GuildRoleUpdate is raised when a role's fields change.
type GuildRoleUpdate struct {
	ServerID uint64
	Role     *Role
}

// GuildRoleDelete is raised when a role is removed from a server.
type GuildRoleDelete struct {
	ServerID uint64
	RoleID   uint64
}

// UserBan is raised on GUILD_BAN_ADD. The cache does not track bans.
type UserBan struct {
	ServerID uint64
	User     *User
}

// UserUnban is raised on GUILD_BAN_REMOVE.
type UserUnban struct {
	ServerID uint64
	User     *User
}

// ChannelCreate is raised when a channel becomes visible to the bot.
type ChannelCreate struct{ Channel *Channel }

// ChannelUpdate is raised when a channel's fields change.
type ChannelUpdate struct{ Channel *Channel }

// ChannelDelete is raised when a channel is removed.
type ChannelDelete struct{ Channel *Channel }

// MessageEvent is raised for every non-suppressed MESSAGE_CREATE.
type MessageEvent struct{ Message *Message }

// Mention is raised in addition to MessageEvent when the bot's id
// appears in the message's mention list.
type Mention struct{ Message *Message }

// PrivateMessage is raised in addition to MessageEvent when the channel is a DM.
type PrivateMessage struct{ Message *Message }

// MessageEdit is raised on MESSAGE_UPDATE. Reserved extension point:
// the event fires but no cache mutation corresponds to it.
type MessageEdit struct {
	ChannelID uint64
	MessageID uint64
}

// MessageDelete is raised on MESSAGE_DELETE. Reserved extension point.
type MessageDelete struct {
	ChannelID uint64
	MessageID uint64
}

// Typing is raised on TYPING_START.
type Typing struct {
	ChannelID uint64
	UserID    uint64
}

// Playing is raised on PRESENCE_UPDATE when the reported game changed.
type Playing struct {
	UserID uint64
	Game   string
}

// Presence is raised on PRESENCE_UPDATE when the game did not change.
type Presence struct {
	UserID uint64
	Status Status
}

// VoiceStateUpdate is raised on VOICE_STATE_UPDATE.
type VoiceStateUpdate struct {
	ServerID uint64
	UserID   uint64
	State    VoiceState
}

// VoiceServerUpdate is raised on VOICE_SERVER_UPDATE, the signal that
// completes a pending voice-connect wait with the endpoint and token
// needed to open the voice socket.
type VoiceServerUpdate struct {
	ServerID uint64
	Token    string
	Endpoint string
}
