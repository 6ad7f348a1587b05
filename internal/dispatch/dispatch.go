// Package dispatch turns one inbound gateway dispatch frame at a time
// into cache mutations and bus events. Every recognized
// event name applies its cache mutation (if it has one) first, then
// raises its typed events (GUILD_MEMBERS_CHUNK raises none);
// unrecognized names are logged and dropped.
package dispatch

import (
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/corvusbot/corvus/internal/cache"
	"github.com/corvusbot/corvus/internal/eventbus"
	"github.com/corvusbot/corvus/internal/model"
)

// Dispatcher consumes dispatch frames and drives the cache and event bus.
type Dispatcher struct {
	cache  *cache.Store
	bus    *eventbus.Bus
	logger *slog.Logger

	botUserID uint64

	// ParseSelf makes MESSAGE_CREATE raise events for messages authored
	// by the bot itself. Off by default.
	ParseSelf bool
}

// New returns a Dispatcher wired to store and bus.
func New(store *cache.Store, bus *eventbus.Bus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{cache: store, bus: bus, logger: logger.With("component", "dispatch")}
}

// SetBotUserID records the bot's own id so MESSAGE_CREATE can detect mentions.
func (d *Dispatcher) SetBotUserID(id uint64) { d.botUserID = id }

func parseID(s string) uint64 {
	id, _ := strconv.ParseUint(s, 10, 64)
	return id
}

// Handle decodes one dispatch frame and routes it by event name. It is
// the callback the session manager wires to the transport's OnDispatch.
func (d *Dispatcher) Handle(eventType string, raw json.RawMessage) {
	switch eventType {
	case "READY":
		d.handleReady(raw)
	case "GUILD_CREATE":
		d.handleGuildCreate(raw)
	case "GUILD_UPDATE":
		d.handleGuildUpdate(raw)
	case "GUILD_DELETE":
		d.handleGuildDelete(raw)
	case "GUILD_MEMBERS_CHUNK":
		d.handleGuildMembersChunk(raw)
	case "GUILD_MEMBER_ADD":
		d.handleGuildMemberAdd(raw)
	case "GUILD_MEMBER_UPDATE":
		d.handleGuildMemberUpdate(raw)
	case "GUILD_MEMBER_REMOVE":
		d.handleGuildMemberRemove(raw)
	case "GUILD_ROLE_CREATE":
		d.handleGuildRoleCreate(raw)
	case "GUILD_ROLE_UPDATE":
		d.handleGuildRoleUpdate(raw)
	case "GUILD_ROLE_DELETE":
		d.handleGuildRoleDelete(raw)
	case "GUILD_BAN_ADD":
		d.handleBanAdd(raw)
	case "GUILD_BAN_REMOVE":
		d.handleBanRemove(raw)
	case "CHANNEL_CREATE":
		d.handleChannelCreate(raw)
	case "CHANNEL_UPDATE":
		d.handleChannelUpdate(raw)
	case "CHANNEL_DELETE":
		d.handleChannelDelete(raw)
	case "MESSAGE_CREATE":
		d.handleMessageCreate(raw)
	case "MESSAGE_UPDATE":
		d.handleMessageUpdate(raw)
	case "MESSAGE_DELETE":
		d.handleMessageDelete(raw)
	case "TYPING_START":
		d.handleTyping(raw)
	case "PRESENCE_UPDATE":
		d.handlePresenceUpdate(raw)
	case "VOICE_STATE_UPDATE":
		d.handleVoiceStateUpdate(raw)
	case "VOICE_SERVER_UPDATE":
		d.handleVoiceServerUpdate(raw)
	default:
		d.logger.Warn("dropping unrecognized dispatch event", "event", eventType)
	}
}

func (d *Dispatcher) raise(kind model.Kind, payload any) {
	d.bus.Raise(model.Event{Kind: kind, Payload: payload}, nil)
}

// --- READY ---

type readyWire struct {
	User     userWire      `json:"user"`
	Guilds   []guildWire   `json:"guilds"`
	Private  []channelWire `json:"private_channels"`
}

func (d *Dispatcher) handleReady(raw json.RawMessage) {
	var w readyWire
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed READY payload", "error", err)
		return
	}

	bot := w.User.toModel()
	servers := make([]*model.Server, 0, len(w.Guilds))
	serverIDs := make([]uint64, 0, len(w.Guilds))
	for _, gw := range w.Guilds {
		srv := gw.toModel()
		servers = append(servers, srv)
		serverIDs = append(serverIDs, srv.ID)
	}
	var private []*model.Channel
	privateIDs := make([]uint64, 0, len(w.Private))
	for _, cw := range w.Private {
		ch := cw.toModel()
		private = append(private, ch)
		privateIDs = append(privateIDs, ch.ID)
	}

	d.cache.BuildFromReady(servers, private, bot)
	d.botUserID = bot.ID

	d.raise(model.KindReady, model.ReadyEvent{
		ServerIDs:       serverIDs,
		PrivateChannels: privateIDs,
		BotUser:         bot,
	})
}

// --- guilds ---

type guildWire struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Icon    string       `json:"icon"`
	Region  string       `json:"region"`
	OwnerID string       `json:"owner_id"`
	Roles   []roleWire   `json:"roles"`
	Members []memberWire `json:"members"`
}

func (w guildWire) toModel() *model.Server {
	srv := model.NewServer(parseID(w.ID))
	srv.Name = w.Name
	srv.Icon = w.Icon
	srv.Region = w.Region
	srv.OwnerID = parseID(w.OwnerID)
	for _, rw := range w.Roles {
		srv.Roles = append(srv.Roles, rw.toModel())
	}
	for _, mw := range w.Members {
		srv.MemberIDs[parseID(mw.User.ID)] = true
	}
	return srv
}

func (d *Dispatcher) handleGuildCreate(raw json.RawMessage) {
	var w guildWire
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed GUILD_CREATE payload", "error", err)
		return
	}
	srv := w.toModel()
	d.cache.AddServer(srv)
	for _, mw := range w.Members {
		d.cache.AddMember(srv.ID, mw.User.toModel())
		d.cache.MergeRoles(srv.ID, parseID(mw.User.ID), mw.roleIDs())
	}
	d.raise(model.KindGuildCreate, model.GuildCreate{Server: srv})
}

func (d *Dispatcher) handleGuildUpdate(raw json.RawMessage) {
	var w guildWire
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed GUILD_UPDATE payload", "error", err)
		return
	}
	srv := w.toModel()
	d.cache.AddServer(srv)
	d.raise(model.KindGuildUpdate, model.GuildUpdate{Server: srv})
}

func (d *Dispatcher) handleGuildDelete(raw json.RawMessage) {
	var w struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed GUILD_DELETE payload", "error", err)
		return
	}
	id := parseID(w.ID)
	d.cache.RemoveServer(id)
	d.raise(model.KindGuildDelete, model.GuildDelete{ServerID: id})
}

func (d *Dispatcher) handleGuildMembersChunk(raw json.RawMessage) {
	var w struct {
		GuildID string       `json:"guild_id"`
		Members []memberWire `json:"members"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed GUILD_MEMBERS_CHUNK payload", "error", err)
		return
	}
	serverID := parseID(w.GuildID)
	for _, mw := range w.Members {
		u := mw.User.toModel()
		d.cache.AddMember(serverID, u)
		d.cache.MergeRoles(serverID, u.ID, mw.roleIDs())
	}
}

// --- members ---

type userWire struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar"`
	Bot           bool   `json:"bot"`
}

func (w userWire) toModel() *model.User {
	return &model.User{
		ID:            parseID(w.ID),
		Username:      w.Username,
		Discriminator: w.Discriminator,
		Avatar:        w.Avatar,
		Bot:           w.Bot,
		Roles:         make(map[uint64][]uint64),
	}
}

type memberWire struct {
	User  userWire `json:"user"`
	Roles []string `json:"roles"`
}

func (w memberWire) roleIDs() []uint64 {
	ids := make([]uint64, 0, len(w.Roles))
	for _, s := range w.Roles {
		ids = append(ids, parseID(s))
	}
	return ids
}

func (d *Dispatcher) handleGuildMemberAdd(raw json.RawMessage) {
	var w struct {
		GuildID string `json:"guild_id"`
		memberWire
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed GUILD_MEMBER_ADD payload", "error", err)
		return
	}

	serverID := parseID(w.GuildID)
	u := w.User.toModel()
	d.cache.AddMember(serverID, u)
	d.cache.MergeRoles(serverID, u.ID, w.roleIDs())
	d.raise(model.KindGuildMemberAdd, model.GuildMemberAdd{ServerID: serverID, User: u})
}

func (d *Dispatcher) handleGuildMemberUpdate(raw json.RawMessage) {
	var w struct {
		GuildID string   `json:"guild_id"`
		User    userWire `json:"user"`
		Roles   []string `json:"roles"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed GUILD_MEMBER_UPDATE payload", "error", err)
		return
	}
	serverID := parseID(w.GuildID)
	u := w.User.toModel()
	ids := make([]uint64, 0, len(w.Roles))
	for _, s := range w.Roles {
		ids = append(ids, parseID(s))
	}
	d.cache.MergeRoles(serverID, u.ID, ids)
	d.raise(model.KindGuildMemberUpdate, model.GuildMemberUpdate{ServerID: serverID, User: u})
}

func (d *Dispatcher) handleGuildMemberRemove(raw json.RawMessage) {
	var w struct {
		GuildID string   `json:"guild_id"`
		User    userWire `json:"user"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed GUILD_MEMBER_REMOVE payload", "error", err)
		return
	}
	serverID := parseID(w.GuildID)
	userID := parseID(w.User.ID)
	d.cache.RemoveMember(serverID, userID)
	d.raise(model.KindGuildMemberDelete, model.GuildMemberDelete{ServerID: serverID, UserID: userID})
}

// --- roles ---

type roleWire struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Position    int    `json:"position"`
	Permissions uint64 `json:"permissions"`
}

func (w roleWire) toModel() *model.Role {
	return &model.Role{
		ID:          parseID(w.ID),
		Name:        w.Name,
		Color:       w.Color,
		Hoist:       w.Hoist,
		Position:    w.Position,
		Permissions: w.Permissions,
	}
}

func (d *Dispatcher) handleGuildRoleCreate(raw json.RawMessage) {
	var w struct {
		GuildID string   `json:"guild_id"`
		Role    roleWire `json:"role"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed GUILD_ROLE_CREATE payload", "error", err)
		return
	}
	serverID := parseID(w.GuildID)
	role := w.Role.toModel()
	d.cache.UpsertRole(serverID, role)
	d.raise(model.KindGuildRoleCreate, model.GuildRoleCreate{ServerID: serverID, Role: role})
}

func (d *Dispatcher) handleGuildRoleUpdate(raw json.RawMessage) {
	var w struct {
		GuildID string   `json:"guild_id"`
		Role    roleWire `json:"role"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed GUILD_ROLE_UPDATE payload", "error", err)
		return
	}
	serverID := parseID(w.GuildID)
	role := w.Role.toModel()
	d.cache.UpsertRole(serverID, role)
	d.raise(model.KindGuildRoleUpdate, model.GuildRoleUpdate{ServerID: serverID, Role: role})
}

func (d *Dispatcher) handleGuildRoleDelete(raw json.RawMessage) {
	var w struct {
		GuildID string `json:"guild_id"`
		RoleID  string `json:"role_id"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed GUILD_ROLE_DELETE payload", "error", err)
		return
	}
	serverID := parseID(w.GuildID)
	roleID := parseID(w.RoleID)
	d.cache.RemoveRole(serverID, roleID)
	d.raise(model.KindGuildRoleDelete, model.GuildRoleDelete{ServerID: serverID, RoleID: roleID})
}

// --- bans: reserved extension points, no cache mutation ---

func (d *Dispatcher) handleBanAdd(raw json.RawMessage) {
	var w struct {
		GuildID string   `json:"guild_id"`
		User    userWire `json:"user"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed GUILD_BAN_ADD payload", "error", err)
		return
	}
	d.raise(model.KindUserBan, model.UserBan{ServerID: parseID(w.GuildID), User: w.User.toModel()})
}

func (d *Dispatcher) handleBanRemove(raw json.RawMessage) {
	var w struct {
		GuildID string   `json:"guild_id"`
		User    userWire `json:"user"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed GUILD_BAN_REMOVE payload", "error", err)
		return
	}
	d.raise(model.KindUserUnban, model.UserUnban{ServerID: parseID(w.GuildID), User: w.User.toModel()})
}

// --- channels ---

type channelWire struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	GuildID     string `json:"guild_id"`
	Topic       string `json:"topic"`
	Position    int    `json:"position"`
	RecipientID string `json:"recipient_id"`
}

func (w channelWire) toModel() *model.Channel {
	ch := &model.Channel{
		ID:          parseID(w.ID),
		Name:        w.Name,
		ServerID:    parseID(w.GuildID),
		Topic:       w.Topic,
		Position:    w.Position,
		RecipientID: parseID(w.RecipientID),
	}
	switch w.Type {
	case "voice":
		ch.Type = model.ChannelVoice
	case "private":
		ch.Type = model.ChannelPrivate
	default:
		ch.Type = model.ChannelText
	}
	return ch
}

func (d *Dispatcher) handleChannelCreate(raw json.RawMessage) {
	var w channelWire
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed CHANNEL_CREATE payload", "error", err)
		return
	}
	ch := w.toModel()
	d.cache.UpsertChannel(ch)
	d.raise(model.KindChannelCreate, model.ChannelCreate{Channel: ch})
}

func (d *Dispatcher) handleChannelUpdate(raw json.RawMessage) {
	var w channelWire
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed CHANNEL_UPDATE payload", "error", err)
		return
	}
	ch := w.toModel()
	d.cache.UpsertChannel(ch)
	d.raise(model.KindChannelUpdate, model.ChannelUpdate{Channel: ch})
}

func (d *Dispatcher) handleChannelDelete(raw json.RawMessage) {
	var w channelWire
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed CHANNEL_DELETE payload", "error", err)
		return
	}
	ch := w.toModel()
	d.cache.RemoveChannel(ch.ID)
	d.raise(model.KindChannelDelete, model.ChannelDelete{Channel: ch})
}

// --- messages ---

type userRefWire struct {
	ID string `json:"id"`
}

type messageWire struct {
	ID        string        `json:"id"`
	ChannelID string        `json:"channel_id"`
	Author    userRefWire   `json:"author"`
	Content   string        `json:"content"`
	Mentions  []userRefWire `json:"mentions"`
	TTS       bool          `json:"tts"`
}

func (w messageWire) toModel() *model.Message {
	m := &model.Message{
		ID:        parseID(w.ID),
		ChannelID: parseID(w.ChannelID),
		AuthorID:  parseID(w.Author.ID),
		Content:   w.Content,
		TTS:       w.TTS,
	}
	for _, ref := range w.Mentions {
		m.Mentions = append(m.Mentions, parseID(ref.ID))
	}
	return m
}

func (d *Dispatcher) handleMessageCreate(raw json.RawMessage) {
	var w messageWire
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed MESSAGE_CREATE payload", "error", err)
		return
	}
	if r := []rune(w.Content); len(r) > 2000 {
		w.Content = string(r[:2000])
	}
	m := w.toModel()
	if m.AuthorID == d.botUserID && !d.ParseSelf {
		return
	}
	d.raise(model.KindMessage, model.MessageEvent{Message: m})

	mentioned := false
	for _, id := range m.Mentions {
		if id == d.botUserID {
			mentioned = true
			break
		}
	}
	if mentioned {
		d.raise(model.KindMention, model.Mention{Message: m})
	}
	if ch := d.cache.Channel(m.ChannelID); ch != nil && ch.IsPrivate() {
		d.raise(model.KindPrivateMessage, model.PrivateMessage{Message: m})
	}
}

// handleMessageUpdate is a reserved extension point: no cache state
// corresponds to a message edit, but the event still fires.
func (d *Dispatcher) handleMessageUpdate(raw json.RawMessage) {
	var w struct {
		ID        string `json:"id"`
		ChannelID string `json:"channel_id"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed MESSAGE_UPDATE payload", "error", err)
		return
	}
	d.raise(model.KindMessageEdit, model.MessageEdit{ChannelID: parseID(w.ChannelID), MessageID: parseID(w.ID)})
}

func (d *Dispatcher) handleMessageDelete(raw json.RawMessage) {
	var w struct {
		ID        string `json:"id"`
		ChannelID string `json:"channel_id"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed MESSAGE_DELETE payload", "error", err)
		return
	}
	d.raise(model.KindMessageDelete, model.MessageDelete{ChannelID: parseID(w.ChannelID), MessageID: parseID(w.ID)})
}

// --- typing / presence / voice ---

func (d *Dispatcher) handleTyping(raw json.RawMessage) {
	var w struct {
		ChannelID string `json:"channel_id"`
		UserID    string `json:"user_id"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed TYPING_START payload", "error", err)
		return
	}
	channelID := parseID(w.ChannelID)
	if d.cache.IsDenied(channelID) {
		return
	}
	d.raise(model.KindTyping, model.Typing{ChannelID: channelID, UserID: parseID(w.UserID)})
}

func (d *Dispatcher) handlePresenceUpdate(raw json.RawMessage) {
	var w struct {
		GuildID string   `json:"guild_id"`
		User    userWire `json:"user"`
		Status  string   `json:"status"`
		Game    *struct {
			Name string `json:"name"`
		} `json:"game"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed PRESENCE_UPDATE payload", "error", err)
		return
	}
	serverID := parseID(w.GuildID)
	userID := parseID(w.User.ID)
	status := model.Status(w.Status)
	if status == "" {
		status = model.StatusOnline
	}
	game := ""
	if w.Game != nil {
		game = w.Game.Name
	}

	gameChanged := d.cache.SetPresence(serverID, userID, w.User.Username, status, game)
	if gameChanged {
		d.raise(model.KindPlaying, model.Playing{UserID: userID, Game: game})
	} else {
		d.raise(model.KindPresence, model.Presence{UserID: userID, Status: status})
	}
}

func (d *Dispatcher) handleVoiceStateUpdate(raw json.RawMessage) {
	var w struct {
		GuildID   string `json:"guild_id"`
		UserID    string `json:"user_id"`
		ChannelID string `json:"channel_id"`
		SessionID string `json:"session_id"`
		Mute      bool   `json:"mute"`
		Deaf      bool   `json:"deaf"`
		SelfMute  bool   `json:"self_mute"`
		SelfDeaf  bool   `json:"self_deaf"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed VOICE_STATE_UPDATE payload", "error", err)
		return
	}
	serverID := parseID(w.GuildID)
	userID := parseID(w.UserID)
	state := model.VoiceState{
		ChannelID: parseID(w.ChannelID),
		SessionID: w.SessionID,
		Mute:      w.Mute,
		Deaf:      w.Deaf,
		SelfMute:  w.SelfMute,
		SelfDeaf:  w.SelfDeaf,
	}
	d.cache.SetVoiceState(serverID, userID, state)
	d.raise(model.KindVoiceStateUpdate, model.VoiceStateUpdate{ServerID: serverID, UserID: userID, State: state})
}

// handleVoiceServerUpdate raises the event that completes a pending
// voice-connect wait; the cache holds no voice-server state.
func (d *Dispatcher) handleVoiceServerUpdate(raw json.RawMessage) {
	var w struct {
		GuildID  string `json:"guild_id"`
		Token    string `json:"token"`
		Endpoint string `json:"endpoint"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		d.logger.Error("malformed VOICE_SERVER_UPDATE payload", "error", err)
		return
	}
	d.raise(model.KindVoiceServerUpdate, model.VoiceServerUpdate{
		ServerID: parseID(w.GuildID),
		Token:    w.Token,
		Endpoint: w.Endpoint,
	})
}
