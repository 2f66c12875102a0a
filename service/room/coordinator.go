// Package room coordinates lobby chat rooms: membership, ordered message
// fan-out, typing markers and disposal of empty rooms.
package room

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"LobbyHub/logger"
	"LobbyHub/module/chat/model"
	"LobbyHub/service/event"
	"LobbyHub/service/typing"
	"LobbyHub/tools/errs"
	"LobbyHub/tools/ids"
	"LobbyHub/tools/safe"

	"go.uber.org/zap"
)

// Presence gates joins on the user holding a live connection.
type Presence interface {
	WithOnline(userID string, fn func() error) error
}

// Archiver receives accepted chat messages. Archive must not block.
type Archiver interface {
	Archive(msg model.MessageRecord)
}

// HistoryRecorder receives membership changes. Record must not block.
type HistoryRecorder interface {
	Record(ev model.MembershipEvent)
}

// ===== 配置 =====

type Conf struct {
	TypingWindow time.Duration
	SweepEvery   time.Duration
	GraceWindow  time.Duration // 房间空置多久后回收；0 = 立即回收
	MaxTextLen   int
	Clock        func() time.Time
	NewID        func() string
	Archiver     Archiver
	History      HistoryRecorder
}

func (c *Conf) norm() {
	c.TypingWindow = safe.DefaultDuration(c.TypingWindow, typing.DefaultWindow)
	c.SweepEvery = safe.DefaultDuration(c.SweepEvery, time.Second)
	c.MaxTextLen = safe.DefaultInt(c.MaxTextLen, 2000)
	if c.GraceWindow < 0 {
		c.GraceWindow = 0
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewID == nil {
		c.NewID = ids.GenerateString
	}
}

// ===== 数据结构 =====

type lobby struct {
	lastSeq uint64 // 回收房间时保存，重建后继续递增
}

type roomState struct {
	mu       sync.Mutex
	id       string
	members  map[string]struct{}
	seq      uint64
	typing   *typing.Set
	disposal *time.Timer
	disposed bool
}

func (r *roomState) memberList() []string {
	out := make([]string, 0, len(r.members))
	for m := range r.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (r *roomState) others(userID string) []string {
	out := make([]string, 0, len(r.members))
	for m := range r.members {
		if m != userID {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

func (r *roomState) isMember(userID string) bool {
	_, ok := r.members[userID]
	return ok
}

// Coordinator owns every room. Each room has its own mutex; mu guards only
// the room table, the active lobby table and the user -> rooms index.
// Lock order: user (presence) -> room -> mu.
type Coordinator struct {
	mu        sync.Mutex
	rooms     map[string]*roomState
	lobbies   map[string]*lobby
	userRooms map[string]map[string]struct{}

	presence Presence
	emit     event.Emitter
	conf     Conf
}

func NewCoordinator(presence Presence, emit event.Emitter, conf Conf) *Coordinator {
	safe.MustNotNil(presence, "presence")
	safe.MustNotNil(emit, "emitter")
	conf.norm()
	return &Coordinator{
		rooms:     make(map[string]*roomState),
		lobbies:   make(map[string]*lobby),
		userRooms: make(map[string]map[string]struct{}),
		presence:  presence,
		emit:      emit,
		conf:      conf,
	}
}

// ===== 大厅生命周期 =====

// OpenLobby marks roomID as an active lobby. Room state is created on the
// first join.
func (c *Coordinator) OpenLobby(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lobbies[roomID]; !ok {
		c.lobbies[roomID] = &lobby{}
		logger.Info("room: lobby opened", zap.String("room", roomID))
	}
}

// CloseLobby deactivates roomID, evicts its members and disposes the room.
func (c *Coordinator) CloseLobby(roomID string) {
	c.mu.Lock()
	_, active := c.lobbies[roomID]
	delete(c.lobbies, roomID)
	r := c.rooms[roomID]
	c.mu.Unlock()

	if active {
		logger.Info("room: lobby closed", zap.String("room", roomID))
	}
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return
	}
	members := r.memberList()
	now := c.conf.Clock()
	for _, m := range members {
		delete(r.members, m)
		c.index(m, roomID, false)
		c.record(roomID, m, model.MemberEvicted, now)
	}
	if len(members) > 0 {
		c.emit.Emit(event.NewLobbyClosed(roomID), members...)
	}
	c.disposeLocked(r)
}

func (c *Coordinator) IsActive(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lobbies[roomID]
	return ok
}

// lockRoom returns the room with its mutex held. With create it
// materializes state for an active lobby. A nil room and nil error means
// the lobby is active but nobody has joined yet.
func (c *Coordinator) lockRoom(roomID string, create bool) (*roomState, error) {
	for {
		c.mu.Lock()
		lb, active := c.lobbies[roomID]
		r := c.rooms[roomID]
		if r == nil {
			if !active {
				c.mu.Unlock()
				return nil, errs.ErrRoomNotFound.WrapMsg("no active lobby", "room", roomID)
			}
			if !create {
				c.mu.Unlock()
				return nil, nil
			}
			r = &roomState{
				id:      roomID,
				members: make(map[string]struct{}),
				seq:     lb.lastSeq,
				typing:  typing.NewSet(c.conf.TypingWindow),
			}
			c.rooms[roomID] = r
		}
		c.mu.Unlock()

		r.mu.Lock()
		if !r.disposed {
			return r, nil
		}
		r.mu.Unlock()
	}
}

// ===== 成员 =====

// Join adds userID to roomID. Joining again is harmless: the joiner gets a
// fresh member list and the others see a join notice either way.
func (c *Coordinator) Join(roomID, userID string) error {
	if strings.TrimSpace(roomID) == "" {
		return errs.ErrArgs.WrapMsg("join: empty room id")
	}
	return c.presence.WithOnline(userID, func() error {
		r, err := c.lockRoom(roomID, true)
		if err != nil {
			return err
		}
		defer r.mu.Unlock()

		if !r.isMember(userID) {
			r.members[userID] = struct{}{}
			c.index(userID, roomID, true)
			if r.disposal != nil {
				r.disposal.Stop()
				r.disposal = nil
			}
			c.record(roomID, userID, model.MemberJoined, c.conf.Clock())
			logger.Debug("room: joined", zap.String("room", roomID), zap.String("user", userID),
				zap.Int("members", len(r.members)))
		}

		c.emit.Emit(event.NewLobbyMembers(roomID, r.memberList()), userID)
		if others := r.others(userID); len(others) > 0 {
			c.emit.Emit(event.NewUserJoined(roomID, userID), others...)
		}
		return nil
	})
}

func (c *Coordinator) Leave(roomID, userID string) error {
	r, err := c.lockRoom(roomID, false)
	if err != nil {
		return err
	}
	if r == nil {
		return errs.ErrNotAMember.WrapMsg("leave", "room", roomID, "user", userID)
	}
	defer r.mu.Unlock()
	return c.leaveLocked(r, userID)
}

// LeaveAll removes userID from every room, as a regular leave for each.
func (c *Coordinator) LeaveAll(userID string) {
	for _, roomID := range c.RoomsOf(userID) {
		r, err := c.lockRoom(roomID, false)
		if err != nil || r == nil {
			continue
		}
		_ = c.leaveLocked(r, userID)
		r.mu.Unlock()
	}
}

func (c *Coordinator) leaveLocked(r *roomState, userID string) error {
	if !r.isMember(userID) {
		return errs.ErrNotAMember.WrapMsg("leave", "room", r.id, "user", userID)
	}
	delete(r.members, userID)
	c.index(userID, r.id, false)
	c.record(r.id, userID, model.MemberLeft, c.conf.Clock())

	others := r.memberList()
	if r.typing.Clear(userID) && len(others) > 0 {
		c.emit.Emit(event.NewUserTyping(r.id, userID, false), others...)
	}
	if len(others) > 0 {
		c.emit.Emit(event.NewUserLeft(r.id, userID), others...)
		return nil
	}

	if c.conf.GraceWindow == 0 {
		c.disposeLocked(r)
		return nil
	}
	if r.disposal == nil {
		r.disposal = time.AfterFunc(c.conf.GraceWindow, func() { c.disposeIfEmpty(r) })
	}
	return nil
}

func (c *Coordinator) disposeIfEmpty(r *roomState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed || len(r.members) > 0 {
		return
	}
	c.disposeLocked(r)
}

// disposeLocked must be called with r.mu held.
func (c *Coordinator) disposeLocked(r *roomState) {
	r.disposed = true
	if r.disposal != nil {
		r.disposal.Stop()
		r.disposal = nil
	}
	c.mu.Lock()
	if c.rooms[r.id] == r {
		delete(c.rooms, r.id)
	}
	if lb := c.lobbies[r.id]; lb != nil && r.seq > lb.lastSeq {
		lb.lastSeq = r.seq
	}
	c.mu.Unlock()
	logger.Debug("room: disposed", zap.String("room", r.id), zap.Uint64("seq", r.seq))
}

// ===== 消息 =====

// SendMessage stamps text with the room's next sequence number and delivers
// it to every member while the room is locked, so all members observe the
// same order.
func (c *Coordinator) SendMessage(roomID, userID, text string) (model.MessageRecord, error) {
	r, err := c.lockRoom(roomID, false)
	if err != nil {
		return model.MessageRecord{}, err
	}
	if r == nil {
		return model.MessageRecord{}, errs.ErrNotAMember.WrapMsg("send", "room", roomID, "user", userID)
	}

	msg, err := func() (model.MessageRecord, error) {
		defer r.mu.Unlock()
		if !r.isMember(userID) {
			return model.MessageRecord{}, errs.ErrNotAMember.WrapMsg("send", "room", roomID, "user", userID)
		}
		if err := c.validateText(text); err != nil {
			return model.MessageRecord{}, err
		}

		r.seq++
		msg := model.MessageRecord{
			ID:       c.conf.NewID(),
			RoomID:   roomID,
			SenderID: userID,
			Text:     text,
			Seq:      r.seq,
			SentAt:   c.conf.Clock(),
		}
		if r.typing.Clear(userID) {
			if others := r.others(userID); len(others) > 0 {
				c.emit.Emit(event.NewUserTyping(roomID, userID, false), others...)
			}
		}
		res := c.emit.Emit(event.NewLobbyMessage(msg), r.memberList()...)
		if res.Dropped > 0 {
			logger.Warn("room: slow consumers dropped",
				zap.String("room", roomID), zap.Int("dropped", res.Dropped))
		}
		return msg, nil
	}()
	if err != nil {
		return msg, err
	}
	if c.conf.Archiver != nil {
		c.conf.Archiver.Archive(msg)
	}
	return msg, nil
}

func (c *Coordinator) validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errs.ErrArgs.WrapMsg("message text is empty")
	}
	if n := utf8.RuneCountInString(text); n > c.conf.MaxTextLen {
		return errs.ErrArgs.WrapMsg("message text too long", "len", n, "max", c.conf.MaxTextLen)
	}
	return nil
}

// ===== 正在输入 =====

func (c *Coordinator) SetTyping(roomID, userID string, isTyping bool) error {
	r, err := c.lockRoom(roomID, false)
	if err != nil {
		return err
	}
	if r == nil {
		return errs.ErrNotAMember.WrapMsg("typing", "room", roomID, "user", userID)
	}
	defer r.mu.Unlock()
	if !r.isMember(userID) {
		return errs.ErrNotAMember.WrapMsg("typing", "room", roomID, "user", userID)
	}

	changed := false
	if isTyping {
		changed = r.typing.Mark(userID, c.conf.Clock())
	} else {
		changed = r.typing.Clear(userID)
	}
	if changed {
		if others := r.others(userID); len(others) > 0 {
			c.emit.Emit(event.NewUserTyping(roomID, userID, isTyping), others...)
		}
	}
	return nil
}

// ClearTyping drops userID's typing marker in every room it is a member of.
func (c *Coordinator) ClearTyping(userID string) {
	for _, roomID := range c.RoomsOf(userID) {
		r, err := c.lockRoom(roomID, false)
		if err != nil || r == nil {
			continue
		}
		if r.typing.Clear(userID) {
			if others := r.others(userID); len(others) > 0 {
				c.emit.Emit(event.NewUserTyping(roomID, userID, false), others...)
			}
		}
		r.mu.Unlock()
	}
}

// Sweep expires typing markers whose deadline passed and announces that
// those users stopped typing.
func (c *Coordinator) Sweep(now time.Time) {
	for _, r := range c.snapshotRooms() {
		r.mu.Lock()
		if !r.disposed {
			for _, u := range r.typing.Expire(now) {
				if others := r.others(u); len(others) > 0 {
					c.emit.Emit(event.NewUserTyping(r.id, u, false), others...)
				}
			}
		}
		r.mu.Unlock()
	}
}

// Run sweeps typing markers until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	safe.Loop(ctx, "room-typing-sweep", c.conf.SweepEvery, func(time.Time) {
		c.Sweep(c.conf.Clock())
	})
}

// ===== 查询 =====

func (c *Coordinator) Members(roomID string) ([]string, error) {
	r, err := c.lockRoom(roomID, false)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return []string{}, nil
	}
	defer r.mu.Unlock()
	return r.memberList(), nil
}

func (c *Coordinator) IsMember(roomID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.userRooms[userID][roomID]
	return ok
}

// RoomsOf lists the rooms userID is a member of.
func (c *Coordinator) RoomsOf(userID string) []string {
	c.mu.Lock()
	out := make([]string, 0, len(c.userRooms[userID]))
	for id := range c.userRooms[userID] {
		out = append(out, id)
	}
	c.mu.Unlock()
	sort.Strings(out)
	return out
}

// CoMembers lists every user sharing at least one room with userID.
func (c *Coordinator) CoMembers(userID string) []string {
	seen := make(map[string]struct{})
	for _, roomID := range c.RoomsOf(userID) {
		c.mu.Lock()
		r := c.rooms[roomID]
		c.mu.Unlock()
		if r == nil {
			continue
		}
		r.mu.Lock()
		for m := range r.members {
			if m != userID {
				seen[m] = struct{}{}
			}
		}
		r.mu.Unlock()
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Rosters snapshots the member list of every live room.
func (c *Coordinator) Rosters() map[string][]string {
	out := make(map[string][]string)
	for _, r := range c.snapshotRooms() {
		r.mu.Lock()
		if !r.disposed {
			out[r.id] = r.memberList()
		}
		r.mu.Unlock()
	}
	return out
}

func (c *Coordinator) snapshotRooms() []*roomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*roomState, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// index must be called with the room's mutex held.
func (c *Coordinator) index(userID, roomID string, add bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.userRooms[userID]
	if add {
		if set == nil {
			set = make(map[string]struct{})
			c.userRooms[userID] = set
		}
		set[roomID] = struct{}{}
		return
	}
	delete(set, roomID)
	if len(set) == 0 {
		delete(c.userRooms, userID)
	}
}

func (c *Coordinator) record(roomID, userID string, kind model.MembershipKind, at time.Time) {
	if c.conf.History != nil {
		c.conf.History.Record(model.MembershipEvent{RoomID: roomID, UserID: userID, Kind: kind, At: at})
	}
}
