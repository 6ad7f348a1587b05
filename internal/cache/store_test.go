package cache

import (
	"testing"

	"github.com/corvusbot/corvus/internal/model"
)

func TestUpsertChannelRegistersOnServerAndRemovesDenylist(t *testing.T) {
	s := New()
	srv := model.NewServer(1)
	s.AddServer(srv)
	s.Denylist(42)

	s.UpsertChannel(&model.Channel{ID: 42, ServerID: 1, Type: model.ChannelText})

	if s.IsDenied(42) {
		t.Fatal("channel 42 should have been removed from the denylist once cached")
	}
	if !srv.ChannelIDs[42] {
		t.Fatal("server should list channel 42 in its channel set")
	}
	if s.Channel(42) == nil {
		t.Fatal("channel should be retrievable by id")
	}
}

func TestRemoveServerStripsRolesFromUsers(t *testing.T) {
	s := New()
	srv := model.NewServer(10)
	s.AddServer(srv)
	s.MergeRoles(10, 99, []uint64{1, 2, 3})

	s.RemoveServer(10)

	u := s.User(99)
	if u == nil {
		t.Fatal("user should still exist after its server is removed")
	}
	if _, ok := u.Roles[10]; ok {
		t.Fatal("user should have no role map entry for the removed server")
	}
	if s.Server(10) != nil {
		t.Fatal("server should be absent from the cache")
	}
}

func TestAddMemberCreatesUserLazilyWithRoleEntry(t *testing.T) {
	s := New()
	srv := model.NewServer(5)
	s.AddServer(srv)

	s.AddMember(5, &model.User{ID: 77, Username: "new-user"})

	u := s.User(77)
	if u == nil {
		t.Fatal("member should be created lazily")
	}
	if _, ok := u.Roles[5]; !ok {
		t.Fatal("member's role map must contain an entry for the server it joined")
	}
	if !srv.MemberIDs[77] {
		t.Fatal("server should list the new member")
	}
}

func TestRemoveMemberClearsRoleMapEntry(t *testing.T) {
	s := New()
	srv := model.NewServer(5)
	s.AddServer(srv)
	s.AddMember(5, &model.User{ID: 77})
	s.MergeRoles(5, 77, []uint64{9})

	s.RemoveMember(5, 77)

	u := s.User(77)
	if _, ok := u.Roles[5]; ok {
		t.Fatal("role map entry should be cleared on member removal")
	}
	if srv.MemberIDs[77] {
		t.Fatal("member should be removed from the server's member set")
	}
}

func TestSetPresenceReportsGameChange(t *testing.T) {
	s := New()
	s.userOrCreateForTest(1)

	changed := s.SetPresence(0, 1, "", model.StatusOnline, "Chess")
	if !changed {
		t.Fatal("first game assignment should report a change")
	}
	changed = s.SetPresence(0, 1, "", model.StatusOnline, "Chess")
	if changed {
		t.Fatal("unchanged game should report no change")
	}
	changed = s.SetPresence(0, 1, "", model.StatusOnline, "")
	if !changed {
		t.Fatal("clearing the game should report a change")
	}
}

func TestSetPresenceAddsMemberWhenNewlyNonOffline(t *testing.T) {
	s := New()
	srv := model.NewServer(3)
	s.AddServer(srv)

	s.SetPresence(3, 55, "fresh", model.StatusOnline, "")

	if !srv.MemberIDs[55] {
		t.Fatal("a user transitioning to non-offline should be added as a member")
	}
}

func TestSetVoiceStateMovesUserBetweenChannels(t *testing.T) {
	s := New()
	srv := model.NewServer(1)
	s.AddServer(srv)

	s.SetVoiceState(1, 2, model.VoiceState{ChannelID: 100})
	if srv.VoiceStates[2].ChannelID != 100 {
		t.Fatal("user should be recorded in channel 100")
	}

	s.SetVoiceState(1, 2, model.VoiceState{ChannelID: 0})
	if _, ok := srv.VoiceStates[2]; ok {
		t.Fatal("user should be removed from voice state once it leaves")
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := New()
	s.AddServer(model.NewServer(1))
	s.UpsertChannel(&model.Channel{ID: 2, ServerID: 1})

	s.Reset()

	if s.Server(1) != nil || s.Channel(2) != nil {
		t.Fatal("Reset should clear servers and channels")
	}
}

// userOrCreateForTest exposes the unexported lazy-creation helper for
// a test that only needs a bare user to exist before exercising
// SetPresence; it takes the lock itself so tests never reach past the
// package's mutex discipline.
func (s *Store) userOrCreateForTest(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userOrCreate(id)
}
