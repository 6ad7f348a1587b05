// Package cache is the in-memory, process-wide store of servers,
// channels, users, roles, private channels, and the permission
// denylist. Mutation operations are coarse-grained and each one
// maintains the store's invariants, including lazily creating users
// when an event references an id the cache has not seen yet.
//
// Writers are confined to the dispatcher plus the facade's channel
// REST fallback; both serialize through the single mutex here. The
// session manager keeps its voice-connect state itself and does not
// write to this store.
package cache

import (
	"sync"

	"github.com/corvusbot/corvus/internal/model"
)

// Store is the shared cache. The zero value is not usable; use New.
type Store struct {
	mu sync.RWMutex

	servers         map[uint64]*model.Server
	channels        map[uint64]*model.Channel
	users           map[uint64]*model.User
	privateChannels map[uint64]*model.Channel // keyed by recipient id
	denylist        map[uint64]bool

	botUser *model.User
}

// New returns an empty Store.
func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.servers = make(map[uint64]*model.Server)
	s.channels = make(map[uint64]*model.Channel)
	s.users = make(map[uint64]*model.User)
	s.privateChannels = make(map[uint64]*model.Channel)
	s.denylist = make(map[uint64]bool)
	s.botUser = nil
}

// Reset clears every map. Called on every successful READY.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// --- reads ---

// Server returns the server with the given id, or nil if absent.
func (s *Store) Server(id uint64) *model.Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servers[id]
}

// Channel returns the channel with the given id, or nil if absent.
func (s *Store) Channel(id uint64) *model.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[id]
}

// User returns the user with the given id, or nil if absent.
func (s *Store) User(id uint64) *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[id]
}

// PrivateChannel returns the DM channel with the given recipient id.
func (s *Store) PrivateChannel(recipientID uint64) *model.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.privateChannels[recipientID]
}

// IsDenied reports whether id is on the permission denylist.
func (s *Store) IsDenied(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.denylist[id]
}

// BotUser returns the bot's own cached user. Per invariant 4 it is the
// identical object stored in the user cache at its id.
func (s *Store) BotUser() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botUser
}

// Servers returns a snapshot slice of every cached server.
func (s *Store) Servers() []*model.Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Server, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, srv)
	}
	return out
}

// Users returns a snapshot slice of every cached user.
func (s *Store) Users() []*model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out
}

// --- lazy creation ---

// userOrCreate returns the cached user at id, creating a skeletal
// entry if none exists yet. Caller must hold s.mu for writing.
func (s *Store) userOrCreate(id uint64) *model.User {
	u, ok := s.users[id]
	if !ok {
		u = &model.User{ID: id, Roles: make(map[uint64][]uint64), Status: model.StatusOffline}
		s.users[id] = u
	}
	if u.Roles == nil {
		u.Roles = make(map[uint64][]uint64)
	}
	return u
}

// --- bootstrap ---

// BuildFromReady rebuilds the entire cache from a READY payload's
// servers, private channels, and bot profile.
func (s *Store) BuildFromReady(servers []*model.Server, privateChannels []*model.Channel, botUser *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	s.botUser = botUser
	if botUser != nil {
		s.users[botUser.ID] = botUser
	}

	for _, srv := range servers {
		s.servers[srv.ID] = srv
		for uid := range srv.MemberIDs {
			s.userOrCreate(uid)
			if _, ok := s.users[uid].Roles[srv.ID]; !ok {
				s.users[uid].Roles[srv.ID] = nil
			}
		}
	}

	for _, ch := range privateChannels {
		s.channels[ch.ID] = ch
		s.privateChannels[ch.RecipientID] = ch
	}
}

// --- server mutations ---

// AddServer inserts or replaces a server in the cache (GUILD_CREATE).
func (s *Store) AddServer(srv *model.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[srv.ID] = srv
	for uid := range srv.MemberIDs {
		s.userOrCreate(uid)
	}
}

// RemoveServer deletes a server and strips its roles from every user
// (GUILD_DELETE, invariant: no user keeps a role map entry keyed by a
// removed server).
func (s *Store) RemoveServer(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, id)
	for _, u := range s.users {
		delete(u.Roles, id)
	}
}

// UpsertChannel inserts or updates a channel and, for server channels,
// registers it in that server's channel set; removes it from the
// denylist so invariant 3 (denylist disjoint from the channel cache)
// holds.
func (s *Store) UpsertChannel(ch *model.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = ch
	delete(s.denylist, ch.ID)
	if ch.IsPrivate() {
		s.privateChannels[ch.RecipientID] = ch
		return
	}
	if srv, ok := s.servers[ch.ServerID]; ok {
		srv.ChannelIDs[ch.ID] = true
	}
}

// RemoveChannel deletes a channel and unregisters it from its server.
func (s *Store) RemoveChannel(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return
	}
	delete(s.channels, id)
	if ch.IsPrivate() {
		delete(s.privateChannels, ch.RecipientID)
		return
	}
	if srv, ok := s.servers[ch.ServerID]; ok {
		delete(srv.ChannelIDs, ch.ID)
	}
}

// Denylist marks a channel id as one the bot lacks permission to read.
func (s *Store) Denylist(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; ok {
		return // invariant 3: never denylist a channel already cached
	}
	s.denylist[id] = true
}

// CacheChannel stores a channel fetched via REST fallback (facade's
// channel(id) operation.7).
func (s *Store) CacheChannel(ch *model.Channel) {
	s.UpsertChannel(ch)
}

// --- member / role mutations ---

// AddMember adds a user to a server's member set, creating the user if
// unknown (GUILD_CREATE bootstrap, GUILD_MEMBER_ADD, GUILD_MEMBERS_CHUNK).
func (s *Store) AddMember(serverID uint64, user *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		user.Roles = cloneRoles(user.Roles)
		s.users[user.ID] = user
		existing = user
	} else {
		existing.Username = user.Username
		existing.Discriminator = user.Discriminator
		existing.Avatar = user.Avatar
		existing.Bot = user.Bot
	}
	if existing.Roles == nil {
		existing.Roles = make(map[uint64][]uint64)
	}
	if _, ok := existing.Roles[serverID]; !ok {
		existing.Roles[serverID] = append([]uint64(nil), user.Roles[serverID]...)
	}

	if srv, ok := s.servers[serverID]; ok {
		srv.MemberIDs[user.ID] = true
	}
}

func cloneRoles(m map[uint64][]uint64) map[uint64][]uint64 {
	out := make(map[uint64][]uint64, len(m))
	for k, v := range m {
		out[k] = append([]uint64(nil), v...)
	}
	return out
}

// RemoveMember removes a user from a server's member set and clears
// its role map entry for that server (GUILD_MEMBER_REMOVE).
func (s *Store) RemoveMember(serverID, userID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if srv, ok := s.servers[serverID]; ok {
		delete(srv.MemberIDs, userID)
	}
	if u, ok := s.users[userID]; ok {
		delete(u.Roles, serverID)
	}
}

// MergeRoles replaces a member's role set for one server
// (GUILD_MEMBER_UPDATE).
func (s *Store) MergeRoles(serverID, userID uint64, roles []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userOrCreate(userID)
	u.Roles[serverID] = append([]uint64(nil), roles...)
}

// UpsertRole inserts or updates a role on a server.
func (s *Store) UpsertRole(serverID uint64, role *model.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[serverID]
	if !ok {
		return
	}
	for i, r := range srv.Roles {
		if r.ID == role.ID {
			srv.Roles[i] = role
			return
		}
	}
	srv.Roles = append(srv.Roles, role)
}

// RemoveRole deletes a role from a server and from every member who held it.
func (s *Store) RemoveRole(serverID, roleID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if srv, ok := s.servers[serverID]; ok {
		srv.RemoveRole(roleID)
	}
	for _, u := range s.users {
		roles, ok := u.Roles[serverID]
		if !ok {
			continue
		}
		for i, r := range roles {
			if r == roleID {
				u.Roles[serverID] = append(roles[:i], roles[i+1:]...)
				break
			}
		}
	}
}

// --- presence / voice ---

// SetPresence updates a user's status and game, creating the user if
// unknown, and adds it as a server member if it newly became non-offline
// (PRESENCE_UPDATE row.5). It returns whether the game
// value changed, which the dispatcher uses to choose between emitting
// Playing and Presence.
func (s *Store) SetPresence(serverID, userID uint64, username string, status model.Status, game string) (gameChanged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userOrCreate(userID)
	wasOffline := u.Status == model.StatusOffline
	if username != "" {
		u.Username = username
	}
	gameChanged = u.Game != game
	u.Status = status
	u.Game = game

	if wasOffline && status != model.StatusOffline && serverID != 0 {
		if srv, ok := s.servers[serverID]; ok {
			srv.MemberIDs[userID] = true
		}
	}
	return gameChanged
}

// SetVoiceState updates a user's voice state on a server, moving it
// into or out of a channel.
func (s *Store) SetVoiceState(serverID, userID uint64, state model.VoiceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[serverID]
	if !ok {
		return
	}
	if state.ChannelID == 0 {
		delete(srv.VoiceStates, userID)
		return
	}
	srv.VoiceStates[userID] = state
}
