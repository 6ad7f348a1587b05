// Package corvus is a client for Discord's real-time gateway: it
// establishes and maintains the authenticated WebSocket session,
// dispatches server-pushed events into an in-process cache of
// guilds, channels, users, and roles, fans events out to registered
// handlers and one-shot awaits, and initiates the voice-session
// handshake. The REST surface, the full handler-registration DSL,
// and voice audio transport are out of scope; Session exposes the
// narrow contract described in its method set.
package corvus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/corvusbot/corvus/internal/cache"
	"github.com/corvusbot/corvus/internal/dispatch"
	"github.com/corvusbot/corvus/internal/eventbus"
	"github.com/corvusbot/corvus/internal/gatewaytransport"
	"github.com/corvusbot/corvus/internal/model"
	"github.com/corvusbot/corvus/internal/restapi"
	"github.com/corvusbot/corvus/internal/sessionmgr"
)

// Predicate filters which events a handler receives within its Kind.
type Predicate = eventbus.Predicate

// Handler processes one matched event, on its own goroutine.
type Handler = eventbus.Handler

// Kind identifies the shape of an event, matching a Session.On registration.
type Kind = model.Kind

// Re-export the event kinds and payload types bot authors switch on,
// so importing only this package is enough to register handlers.
const (
	KindReady             = model.KindReady
	KindGuildCreate       = model.KindGuildCreate
	KindGuildUpdate       = model.KindGuildUpdate
	KindGuildDelete       = model.KindGuildDelete
	KindGuildMemberAdd    = model.KindGuildMemberAdd
	KindGuildMemberUpdate = model.KindGuildMemberUpdate
	KindGuildMemberDelete = model.KindGuildMemberDelete
	KindGuildRoleCreate   = model.KindGuildRoleCreate
	KindGuildRoleUpdate   = model.KindGuildRoleUpdate
	KindGuildRoleDelete   = model.KindGuildRoleDelete
	KindUserBan           = model.KindUserBan
	KindUserUnban         = model.KindUserUnban
	KindChannelCreate     = model.KindChannelCreate
	KindChannelUpdate     = model.KindChannelUpdate
	KindChannelDelete     = model.KindChannelDelete
	KindMessage           = model.KindMessage
	KindMention           = model.KindMention
	KindPrivateMessage    = model.KindPrivateMessage
	KindMessageEdit       = model.KindMessageEdit
	KindMessageDelete     = model.KindMessageDelete
	KindTyping            = model.KindTyping
	KindPlaying           = model.KindPlaying
	KindPresence          = model.KindPresence
	KindVoiceStateUpdate  = model.KindVoiceStateUpdate
	KindVoiceServerUpdate = model.KindVoiceServerUpdate
)

// Event payload types, re-exported so handlers can type-assert without
// importing an internal package.
type (
	ReadyEvent        = model.ReadyEvent
	GuildCreate       = model.GuildCreate
	GuildUpdate       = model.GuildUpdate
	GuildDelete       = model.GuildDelete
	GuildMemberAdd    = model.GuildMemberAdd
	GuildMemberUpdate = model.GuildMemberUpdate
	GuildMemberDelete = model.GuildMemberDelete
	GuildRoleCreate   = model.GuildRoleCreate
	GuildRoleUpdate   = model.GuildRoleUpdate
	GuildRoleDelete   = model.GuildRoleDelete
	UserBan           = model.UserBan
	UserUnban         = model.UserUnban
	ChannelCreate     = model.ChannelCreate
	ChannelUpdate     = model.ChannelUpdate
	ChannelDelete     = model.ChannelDelete
	MessageEvent      = model.MessageEvent
	Mention           = model.Mention
	PrivateMessage    = model.PrivateMessage
	MessageEdit       = model.MessageEdit
	MessageDelete     = model.MessageDelete
	Typing            = model.Typing
	Playing           = model.Playing
	Presence          = model.Presence
	VoiceStateUpdate  = model.VoiceStateUpdate
	VoiceServerUpdate = model.VoiceServerUpdate
)

// Session is the library's single entry point: construct one with
// New, register handlers with On/AddAwait, then Run it.
type Session struct {
	cache      *cache.Store
	bus        *eventbus.Bus
	dispatcher *dispatch.Dispatcher
	rest       *restapi.Client
	manager    *sessionmgr.Manager
	logger     *slog.Logger
}

var mentionPattern = regexp.MustCompile(`<@(\d+)>`)

// New builds a Session from the given options. WithIdentity is
// required; everything else has a working default.
func New(opts ...Option) (*Session, error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(s)
	}
	if s.tokenCacheErr != nil {
		return nil, fmt.Errorf("corvus: token cache setup: %w", s.tokenCacheErr)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	store := cache.New()
	bus := eventbus.New(s.workerLimit, s.logger)
	d := dispatch.New(store, bus, s.logger)
	d.ParseSelf = s.parseSelf
	rest := restapi.New(s.botName, s.logger)

	manager := sessionmgr.New(sessionmgr.Config{
		Identity:   s.identity,
		Secret:     s.secret,
		BotName:    s.botName,
		Rest:       rest,
		TokenCache: s.tokens,
		Cache:      store,
		Bus:        bus,
		Dispatcher: d,
		Logger:     s.logger,
		OSName:     s.osName,
		ClientName: s.clientName,
		Webhook:    s.webhookNotifier(),
	})

	return &Session{
		cache:      store,
		bus:        bus,
		dispatcher: d,
		rest:       rest,
		manager:    manager,
		logger:     s.logger.With("component", "corvus"),
	}, nil
}

// Run starts the session manager. If async is false it blocks until
// the session terminates (user Stop or a fatal authentication error).
func (s *Session) Run(ctx context.Context, async bool) error {
	return s.manager.Run(ctx, async)
}

// Wait blocks until a Run(ctx, true) session terminates.
func (s *Session) Wait() { s.manager.Wait() }

// Stop forcibly terminates the current session.
func (s *Session) Stop() { s.manager.Stop() }

// On registers handler for events of kind, filtered by predicate (nil
// matches every event of that kind), returning a registration id
// usable with Off.
func (s *Session) On(kind Kind, predicate Predicate, handler Handler) string {
	return s.bus.On(kind, predicate, handler)
}

// Off removes a handler registered with On.
func (s *Session) Off(registrationID string) { s.bus.Off(registrationID) }

// AddAwait registers a one-shot subscription for the next event of
// kind whose attrs match. When it fires it is removed from the await
// table (a durable await stays); payload is kept on the returned
// Await and is not passed to any handler.
func (s *Session) AddAwait(key string, kind Kind, attrs map[string]string, payload any, durable bool) *model.Await {
	return s.bus.AddAwait(key, kind, attrs, payload, durable)
}

// Channel consults the cache, falling back to REST on a miss; a
// successful REST result is cached, and a NoPermission result adds
// the id to the cache's denylist.
func (s *Session) Channel(ctx context.Context, id uint64) (*model.Channel, error) {
	if ch := s.cache.Channel(id); ch != nil {
		return ch, nil
	}
	ch, err := s.rest.Channel(ctx, id)
	if err != nil {
		if errors.Is(err, restapi.ErrNoPermission) {
			s.cache.Denylist(id)
		}
		return nil, err
	}
	s.cache.CacheChannel(ch)
	return ch, nil
}

// User is a cache-only lookup; it never falls back to REST.
func (s *Session) User(id uint64) (*model.User, bool) {
	u := s.cache.User(id)
	return u, u != nil
}

// Server is a cache-only lookup; it never falls back to REST.
func (s *Session) Server(id uint64) (*model.Server, bool) {
	srv := s.cache.Server(id)
	return srv, srv != nil
}

// FindChannel enumerates every cached server's channels and returns
// every one matching name. When serverName is non-empty only channels
// belonging to a server with that exact name are returned; an absent
// serverName matches every server.
func (s *Session) FindChannel(name, serverName string) []*model.Channel {
	var out []*model.Channel
	for _, srv := range s.cache.Servers() {
		if serverName != "" && srv.Name != serverName {
			continue
		}
		for id := range srv.ChannelIDs {
			ch := s.cache.Channel(id)
			if ch != nil && ch.Name == name {
				out = append(out, ch)
			}
		}
	}
	return out
}

// FindUser enumerates the user cache and returns every user matching
// name (by username).
func (s *Session) FindUser(name string) []*model.User {
	var out []*model.User
	for _, u := range s.cache.Users() {
		if u.Username == name {
			out = append(out, u)
		}
	}
	return out
}

// SendMessage posts content to channelID via REST.
func (s *Session) SendMessage(ctx context.Context, channelID uint64, content string, tts bool) (*model.Message, error) {
	return s.rest.SendMessage(ctx, channelID, content, tts)
}

// ParseMention extracts the first `<@id>` mention in text and resolves
// it against the user cache.
func (s *Session) ParseMention(text string) (*model.User, bool) {
	m := mentionPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return nil, false
	}
	return s.User(id)
}

// SetGame sends an op=3 presence update reporting name as the bot's
// current activity.
func (s *Session) SetGame(ctx context.Context, name string) error {
	conn := s.manager.Conn()
	if conn == nil {
		return gatewaytransport.ErrNotConnected
	}
	var game *gatewaytransport.GameObject
	if name != "" {
		game = &gatewaytransport.GameObject{Name: name}
	}
	return conn.SendPresenceUpdate(ctx, gatewaytransport.PresenceUpdateData{Game: game})
}

// VoiceConnect joins a voice channel, tearing down any existing voice
// session first, and blocks until the handshake completes.
func (s *Session) VoiceConnect(ctx context.Context, ch *model.Channel, encrypted bool) error {
	return s.manager.VoiceConnect(ctx, ch.ServerID, ch.ID, encrypted)
}

// VoiceDestroy leaves the active voice channel, if any.
func (s *Session) VoiceDestroy(ctx context.Context) error {
	return s.manager.VoiceDestroy(ctx)
}

// SetVoiceConstructor installs the callback invoked once a
// VoiceConnect handshake completes, with the parameters needed to
// open the voice RTP/UDP transport (out of this library's scope).
func (s *Session) SetVoiceConstructor(fn sessionmgr.VoiceConstructor) {
	s.manager.VoiceConstructor = fn
}
