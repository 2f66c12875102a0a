package room

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"LobbyHub/module/chat/model"
	"LobbyHub/service/event"
	"LobbyHub/service/event/eventtest"
	"LobbyHub/service/presence"
	"LobbyHub/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sink struct {
	mu       sync.Mutex
	messages []model.MessageRecord
	history  []model.MembershipEvent
}

func (s *sink) Archive(msg model.MessageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *sink) Record(ev model.MembershipEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, ev)
}

type fixture struct {
	reg   *presence.Registry
	rec   *eventtest.Recorder
	clock *fakeClock
	sink  *sink
	c     *Coordinator
}

func newFixture(t *testing.T, conf Conf, online ...string) *fixture {
	t.Helper()
	f := &fixture{
		reg:   presence.NewRegistry(presence.Conf{}),
		rec:   eventtest.NewRecorder(),
		clock: &fakeClock{now: time.Unix(1700000000, 0)},
		sink:  &sink{},
	}
	conf.Clock = f.clock.Now
	conf.Archiver = f.sink
	conf.History = f.sink
	n := 0
	conf.NewID = func() string { n++; return fmt.Sprintf("m%d", n) }
	f.c = NewCoordinator(f.reg, f.rec, conf)
	for _, u := range online {
		_, err := f.reg.Register(u)
		require.NoError(t, err)
	}
	return f
}

func lobbyMessages(rec *eventtest.Recorder, user string) []model.MessageRecord {
	var out []model.MessageRecord
	for _, ev := range rec.OfType(user, event.NewLobbyChatMessage) {
		out = append(out, ev.Data.(event.LobbyMessageData).Message)
	}
	return out
}

func TestJoinRequiresOnlineAndActiveLobby(t *testing.T) {
	f := newFixture(t, Conf{}, "alice")

	assert.ErrorIs(t, f.c.Join("lobby-1", "alice"), errs.ErrRoomNotFound)

	f.c.OpenLobby("lobby-1")
	assert.ErrorIs(t, f.c.Join("lobby-1", "ghost"), errs.ErrNotConnected)
	assert.ErrorIs(t, f.c.Join("", "alice"), errs.ErrArgs)
	require.NoError(t, f.c.Join("lobby-1", "alice"))

	members, err := f.c.Members("lobby-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)
}

func TestJoinNotifiesMembers(t *testing.T) {
	f := newFixture(t, Conf{}, "alice", "bob")
	f.c.OpenLobby("lobby-1")

	require.NoError(t, f.c.Join("lobby-1", "alice"))
	require.NoError(t, f.c.Join("lobby-1", "bob"))

	joined := f.rec.OfType("alice", event.UserJoinedLobby)
	require.Len(t, joined, 1)
	assert.Equal(t, event.LobbyUserData{RoomID: "lobby-1", User: "bob"}, joined[0].Data)

	lists := f.rec.OfType("bob", event.LobbyMembers)
	require.Len(t, lists, 1)
	assert.Equal(t, []string{"alice", "bob"}, lists[0].Data.(event.LobbyMembersData).Members)
	assert.Empty(t, f.rec.OfType("bob", event.UserJoinedLobby), "joiner is not told about itself")

	// joining twice leaves a single membership
	require.NoError(t, f.c.Join("lobby-1", "bob"))
	members, _ := f.c.Members("lobby-1")
	assert.Equal(t, []string{"alice", "bob"}, members)
	assert.Equal(t, []model.MembershipKind{model.MemberJoined, model.MemberJoined}, kinds(f.sink.history))
}

func kinds(evs []model.MembershipEvent) []model.MembershipKind {
	out := make([]model.MembershipKind, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Kind)
	}
	return out
}

func TestMessagesOnlyReachTheirRoom(t *testing.T) {
	f := newFixture(t, Conf{}, "alice", "bob", "carol")
	f.c.OpenLobby("lobby-1")
	f.c.OpenLobby("lobby-2")
	require.NoError(t, f.c.Join("lobby-1", "alice"))
	require.NoError(t, f.c.Join("lobby-1", "bob"))
	require.NoError(t, f.c.Join("lobby-2", "carol"))

	msg, err := f.c.SendMessage("lobby-1", "alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), msg.Seq)
	assert.Equal(t, "alice", msg.SenderID)

	assert.Equal(t, []model.MessageRecord{msg}, lobbyMessages(f.rec, "alice"))
	assert.Equal(t, []model.MessageRecord{msg}, lobbyMessages(f.rec, "bob"))
	assert.Empty(t, lobbyMessages(f.rec, "carol"))
	assert.Equal(t, []model.MessageRecord{msg}, f.sink.messages)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, Conf{MaxTextLen: 5}, "alice", "bob")

	_, err := f.c.SendMessage("nowhere", "alice", "hi")
	assert.ErrorIs(t, err, errs.ErrRoomNotFound)

	f.c.OpenLobby("lobby-1")
	_, err = f.c.SendMessage("lobby-1", "alice", "hi")
	assert.ErrorIs(t, err, errs.ErrNotAMember)

	require.NoError(t, f.c.Join("lobby-1", "alice"))
	_, err = f.c.SendMessage("lobby-1", "bob", "hi")
	assert.ErrorIs(t, err, errs.ErrNotAMember)
	_, err = f.c.SendMessage("lobby-1", "alice", "   ")
	assert.ErrorIs(t, err, errs.ErrArgs)
	_, err = f.c.SendMessage("lobby-1", "alice", "toolong")
	assert.ErrorIs(t, err, errs.ErrArgs)
	_, err = f.c.SendMessage("lobby-1", "alice", "héllo")
	assert.NoError(t, err, "length counts runes")

	assert.Len(t, f.sink.messages, 1)
}

func TestConcurrentSendersShareOneOrder(t *testing.T) {
	users := []string{"u1", "u2", "u3", "u4"}
	f := newFixture(t, Conf{}, users...)
	f.c.OpenLobby("lobby-1")
	for _, u := range users {
		require.NoError(t, f.c.Join("lobby-1", u))
	}

	const perUser = 50
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			for i := 0; i < perUser; i++ {
				_, err := f.c.SendMessage("lobby-1", u, fmt.Sprintf("%s-%d", u, i))
				assert.NoError(t, err)
			}
		}(u)
	}
	wg.Wait()

	first := lobbyMessages(f.rec, users[0])
	require.Len(t, first, perUser*len(users))
	for i, m := range first {
		assert.Equal(t, uint64(i+1), m.Seq)
	}
	for _, u := range users[1:] {
		assert.Equal(t, first, lobbyMessages(f.rec, u), "every member sees the same order")
	}
}

func TestTypingMarkers(t *testing.T) {
	f := newFixture(t, Conf{TypingWindow: 3 * time.Second}, "alice", "bob")
	f.c.OpenLobby("lobby-1")
	require.NoError(t, f.c.Join("lobby-1", "alice"))
	require.NoError(t, f.c.Join("lobby-1", "bob"))

	assert.ErrorIs(t, f.c.SetTyping("lobby-1", "carol", true), errs.ErrNotAMember)

	require.NoError(t, f.c.SetTyping("lobby-1", "alice", true))
	f.clock.Advance(2 * time.Second)
	require.NoError(t, f.c.SetTyping("lobby-1", "alice", true))

	typing := f.rec.OfType("bob", event.UserTyping)
	require.Len(t, typing, 1, "refresh is not rebroadcast")
	assert.Equal(t, event.TypingData{RoomID: "lobby-1", User: "alice", IsTyping: true}, typing[0].Data)
	assert.Empty(t, f.rec.OfType("alice", event.UserTyping), "typist is not told about itself")

	// refreshed at t+2s, so still alive at t+4s
	f.c.Sweep(f.clock.Now().Add(2 * time.Second))
	assert.Len(t, f.rec.OfType("bob", event.UserTyping), 1)

	f.c.Sweep(f.clock.Now().Add(3 * time.Second))
	typing = f.rec.OfType("bob", event.UserTyping)
	require.Len(t, typing, 2)
	assert.False(t, typing[1].Data.(event.TypingData).IsTyping)

	// stopping an absent marker is quiet
	require.NoError(t, f.c.SetTyping("lobby-1", "alice", false))
	assert.Len(t, f.rec.OfType("bob", event.UserTyping), 2)
}

func TestSendClearsTyping(t *testing.T) {
	f := newFixture(t, Conf{}, "alice", "bob")
	f.c.OpenLobby("lobby-1")
	require.NoError(t, f.c.Join("lobby-1", "alice"))
	require.NoError(t, f.c.Join("lobby-1", "bob"))
	require.NoError(t, f.c.SetTyping("lobby-1", "alice", true))

	_, err := f.c.SendMessage("lobby-1", "alice", "done")
	require.NoError(t, err)

	evs := f.rec.For("bob")
	require.GreaterOrEqual(t, len(evs), 2)
	last2 := evs[len(evs)-2:]
	assert.Equal(t, event.UserTyping, last2[0].Type)
	assert.False(t, last2[0].Data.(event.TypingData).IsTyping)
	assert.Equal(t, event.NewLobbyChatMessage, last2[1].Type)
}

func TestLeave(t *testing.T) {
	f := newFixture(t, Conf{GraceWindow: time.Hour}, "alice", "bob")
	f.c.OpenLobby("lobby-1")
	require.NoError(t, f.c.Join("lobby-1", "alice"))
	require.NoError(t, f.c.Join("lobby-1", "bob"))
	require.NoError(t, f.c.SetTyping("lobby-1", "bob", true))

	assert.ErrorIs(t, f.c.Leave("lobby-1", "carol"), errs.ErrNotAMember)
	require.NoError(t, f.c.Leave("lobby-1", "bob"))
	assert.ErrorIs(t, f.c.Leave("lobby-1", "bob"), errs.ErrNotAMember)

	left := f.rec.OfType("alice", event.UserLeftLobby)
	require.Len(t, left, 1)
	assert.Equal(t, "bob", left[0].Data.(event.LobbyUserData).User)
	typing := f.rec.OfType("alice", event.UserTyping)
	require.Len(t, typing, 2)
	assert.False(t, typing[1].Data.(event.TypingData).IsTyping, "leaving drops the typing marker")

	assert.Empty(t, f.c.RoomsOf("bob"))
	assert.Equal(t, []string{"lobby-1"}, f.c.RoomsOf("alice"))
}

func TestEmptyRoomKeepsSequenceAcrossDisposal(t *testing.T) {
	f := newFixture(t, Conf{GraceWindow: 0}, "alice")
	f.c.OpenLobby("lobby-1")
	require.NoError(t, f.c.Join("lobby-1", "alice"))
	_, err := f.c.SendMessage("lobby-1", "alice", "one")
	require.NoError(t, err)
	require.NoError(t, f.c.Leave("lobby-1", "alice"))
	assert.Empty(t, f.c.Rosters(), "empty room is disposed")

	require.NoError(t, f.c.Join("lobby-1", "alice"))
	msg, err := f.c.SendMessage("lobby-1", "alice", "two")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), msg.Seq)
}

func TestGraceWindowDisposal(t *testing.T) {
	f := newFixture(t, Conf{GraceWindow: 20 * time.Millisecond}, "alice")
	f.c.OpenLobby("lobby-1")
	require.NoError(t, f.c.Join("lobby-1", "alice"))
	require.NoError(t, f.c.Leave("lobby-1", "alice"))

	// rejoining inside the window cancels disposal
	require.NoError(t, f.c.Join("lobby-1", "alice"))
	time.Sleep(50 * time.Millisecond)
	assert.Contains(t, f.c.Rosters(), "lobby-1")

	require.NoError(t, f.c.Leave("lobby-1", "alice"))
	require.Eventually(t, func() bool {
		_, ok := f.c.Rosters()["lobby-1"]
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.True(t, f.c.IsActive("lobby-1"), "disposing room state keeps the lobby open")
}

func TestCloseLobbyEvictsMembers(t *testing.T) {
	f := newFixture(t, Conf{}, "alice", "bob")
	f.c.OpenLobby("lobby-1")
	require.NoError(t, f.c.Join("lobby-1", "alice"))
	require.NoError(t, f.c.Join("lobby-1", "bob"))

	f.c.CloseLobby("lobby-1")

	assert.Len(t, f.rec.OfType("alice", event.LobbyClosed), 1)
	assert.Len(t, f.rec.OfType("bob", event.LobbyClosed), 1)
	assert.Empty(t, f.c.RoomsOf("alice"))
	assert.False(t, f.c.IsActive("lobby-1"))
	assert.ErrorIs(t, f.c.Join("lobby-1", "alice"), errs.ErrRoomNotFound)
	_, err := f.c.Members("lobby-1")
	assert.ErrorIs(t, err, errs.ErrRoomNotFound)

	// closing twice is harmless
	f.c.CloseLobby("lobby-1")
	assert.Len(t, f.rec.OfType("alice", event.LobbyClosed), 1)
}

func TestLeaveAllAndCoMembers(t *testing.T) {
	f := newFixture(t, Conf{}, "alice", "bob", "carol")
	f.c.OpenLobby("lobby-1")
	f.c.OpenLobby("lobby-2")
	require.NoError(t, f.c.Join("lobby-1", "alice"))
	require.NoError(t, f.c.Join("lobby-1", "bob"))
	require.NoError(t, f.c.Join("lobby-2", "alice"))
	require.NoError(t, f.c.Join("lobby-2", "carol"))

	assert.Equal(t, []string{"bob", "carol"}, f.c.CoMembers("alice"))
	assert.Equal(t, []string{"alice"}, f.c.CoMembers("bob"))
	assert.True(t, f.c.IsMember("lobby-2", "carol"))
	assert.False(t, f.c.IsMember("lobby-1", "carol"))

	f.c.LeaveAll("alice")
	assert.Empty(t, f.c.RoomsOf("alice"))
	assert.Len(t, f.rec.OfType("bob", event.UserLeftLobby), 1)
	assert.Len(t, f.rec.OfType("carol", event.UserLeftLobby), 1)

	assert.Equal(t, map[string][]string{
		"lobby-1": {"bob"},
		"lobby-2": {"carol"},
	}, f.c.Rosters())
}

func TestMembersOfUnjoinedLobby(t *testing.T) {
	f := newFixture(t, Conf{})
	f.c.OpenLobby("lobby-9")
	members, err := f.c.Members("lobby-9")
	require.NoError(t, err)
	assert.NotNil(t, members)
	assert.Empty(t, members)
}

func TestClearTyping(t *testing.T) {
	f := newFixture(t, Conf{}, "alice", "bob")
	f.c.OpenLobby("lobby-1")
	f.c.OpenLobby("lobby-2")
	for _, id := range []string{"lobby-1", "lobby-2"} {
		require.NoError(t, f.c.Join(id, "alice"))
		require.NoError(t, f.c.Join(id, "bob"))
	}
	require.NoError(t, f.c.SetTyping("lobby-2", "alice", true))

	f.c.ClearTyping("alice")
	f.c.ClearTyping("alice")

	typing := f.rec.OfType("bob", event.UserTyping)
	require.Len(t, typing, 2)
	assert.Equal(t, event.TypingData{RoomID: "lobby-2", User: "alice", IsTyping: false}, typing[1].Data)
	assert.Equal(t, []string{"lobby-1", "lobby-2"}, f.c.RoomsOf("alice"), "membership is untouched")
}
