// Package dispatch is the single entry and exit point of the realtime core.
// It decodes inbound frames, routes them to the owning component, and owns
// the hub through which every outbound event is delivered.
package dispatch

import (
	"context"
	"sort"

	"LobbyHub/logger"
	"LobbyHub/module/chat/model"
	usermodel "LobbyHub/module/user/model"
	"LobbyHub/service/direct"
	"LobbyHub/service/event"
	"LobbyHub/service/presence"
	"LobbyHub/service/relation"
	"LobbyHub/service/room"
	"LobbyHub/tools/errs"
	"LobbyHub/tools/safe"

	"go.uber.org/zap"
)

// Directory is the part of the identity store lifecycle hooks write to.
type Directory interface {
	PutUser(ctx context.Context, u usermodel.User) error
	DeleteUser(ctx context.Context, userID string) error
}

type Deps struct {
	Registry  *presence.Registry
	Hub       *Hub
	Rooms     *room.Coordinator
	Direct    *direct.Router
	Relations *relation.Manager
	Directory Directory
}

// ===== ack payloads =====

type MessageAck struct {
	Message model.MessageRecord `json:"message"`
	Notice  *errs.CodeError     `json:"notice,omitempty"`
}

type InvitationAck struct {
	RoomID   string          `json:"roomID"`
	ToUserID string          `json:"toUserID"`
	Notice   *errs.CodeError `json:"notice,omitempty"`
}

type StatusAck struct {
	Status model.Status `json:"status"`
}

type RequestAck struct {
	Request model.FriendRequest `json:"request"`
}

type FriendsAck struct {
	Friends []string `json:"friends"`
}

type RequestsAck struct {
	Direction model.Direction       `json:"direction"`
	Requests  []model.FriendRequest `json:"requests"`
}

type handlerFunc func(ctx context.Context, s *Session, cmd Command) (any, error)

// on adapts a typed handler to the handler table.
func on[T Command](fn func(ctx context.Context, s *Session, cmd T) (any, error)) handlerFunc {
	return func(ctx context.Context, s *Session, cmd Command) (any, error) {
		return fn(ctx, s, cmd.(T))
	}
}

type Dispatcher struct {
	Deps
	handlers map[Kind]handlerFunc
}

// New wires the dispatcher and installs it as the registry's listener.
func New(deps Deps) *Dispatcher {
	safe.MustNotNil(deps.Registry, "registry")
	safe.MustNotNil(deps.Hub, "hub")
	safe.MustNotNil(deps.Rooms, "rooms")
	safe.MustNotNil(deps.Direct, "direct router")
	safe.MustNotNil(deps.Relations, "relation manager")
	safe.MustNotNil(deps.Directory, "directory")

	d := &Dispatcher{Deps: deps}
	d.handlers = map[Kind]handlerFunc{
		JoinLobby:            on(d.joinLobby),
		LeaveLobby:           on(d.leaveLobby),
		LobbyChatMessage:     on(d.lobbyChatMessage),
		LobbyTyping:          on(d.lobbyTyping),
		PrivateMessage:       on(d.privateMessage),
		PrivateTyping:        on(d.privateTyping),
		LobbyInvitation:      on(d.lobbyInvitation),
		UpdateStatus:         on(d.updateStatus),
		SendFriendRequest:    on(d.sendFriendRequest),
		RespondFriendRequest: on(d.respondFriendRequest),
		RemoveFriend:         on(d.removeFriend),
		ListFriends:          on(d.listFriends),
		ListPending:          on(d.listPending),
	}
	deps.Registry.SetListener(d)
	return d
}

// ===== connection lifecycle =====

// Connect admits a verified user: it warms the relationship cache, attaches
// a session and registers the connection, then sends the online user list.
// The session is attached before the user is announced online.
func (d *Dispatcher) Connect(ctx context.Context, userID string) (*Session, error) {
	if err := d.Relations.Warm(ctx, userID); err != nil {
		return nil, errs.WrapMsg(err, "connect: warm relations", "user", userID)
	}
	var s *Session
	conn, err := d.Registry.Admit(userID, func(c presence.Connection) {
		s = d.Hub.Attach(c.ID, userID)
		// a last disconnect may have evicted the view since the warm up
		if err := d.Relations.Warm(ctx, userID); err != nil {
			logger.Warn("dispatch: rewarm relations", zap.String("user", userID), zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	d.Hub.SendTo(s, event.NewOnlineUsers(d.Registry.SnapshotOnlineUsers()))
	logger.Info("dispatch: connected", zap.String("user", userID), zap.String("conn", conn.ID))
	return s, nil
}

// Disconnect tears a connection down. Repeated calls are no-ops.
func (d *Dispatcher) Disconnect(connID string) {
	s := d.Hub.Detach(connID)
	if d.Registry.Unregister(connID) && s != nil {
		fields := []zap.Field{zap.String("user", s.UserID), zap.String("conn", connID)}
		if err := s.Err(); err != nil {
			fields = append(fields, zap.Error(err))
		}
		logger.Info("dispatch: disconnected", fields...)
	}
}

// Handle processes one inbound frame from s and replies on s. A non-nil
// return means the frame was malformed and the connection must be closed.
func (d *Dispatcher) Handle(ctx context.Context, s *Session, raw []byte) error {
	f, cmd, err := Decode(raw)
	if err != nil {
		logger.Warn("dispatch: malformed frame",
			zap.String("user", s.UserID), zap.String("conn", s.ConnID), zap.Error(err))
		d.Hub.SendTo(s, event.NewError(f.ID, err))
		return err
	}

	data, err := d.handlers[cmd.Kind()](ctx, s, cmd)
	if err != nil {
		if _, ok := errs.AsCode(err); !ok {
			logger.Error("dispatch: handler failed",
				zap.String("type", string(f.Type)), zap.String("user", s.UserID), zap.Error(err))
		}
		d.Hub.SendTo(s, event.NewError(f.ID, err))
		return nil
	}
	d.Hub.SendTo(s, event.NewAck(f.ID, data))
	return nil
}

// ===== handlers =====

func (d *Dispatcher) joinLobby(_ context.Context, s *Session, c JoinLobbyCmd) (any, error) {
	return event.LobbyData{RoomID: c.RoomID}, d.Rooms.Join(c.RoomID, s.UserID)
}

func (d *Dispatcher) leaveLobby(_ context.Context, s *Session, c LeaveLobbyCmd) (any, error) {
	return event.LobbyData{RoomID: c.RoomID}, d.Rooms.Leave(c.RoomID, s.UserID)
}

func (d *Dispatcher) lobbyChatMessage(_ context.Context, s *Session, c LobbyChatMessageCmd) (any, error) {
	msg, err := d.Rooms.SendMessage(c.RoomID, s.UserID, c.Text)
	if err != nil {
		return nil, err
	}
	return MessageAck{Message: msg}, nil
}

func (d *Dispatcher) lobbyTyping(_ context.Context, s *Session, c LobbyTypingCmd) (any, error) {
	return nil, d.Rooms.SetTyping(c.RoomID, s.UserID, *c.IsTyping)
}

func (d *Dispatcher) privateMessage(_ context.Context, s *Session, c PrivateMessageCmd) (any, error) {
	msg, dl, err := d.Direct.SendDirect(s.UserID, c.ToUserID, c.Text)
	if err != nil {
		return nil, err
	}
	ack := MessageAck{Message: msg}
	if dl.RecipientOffline {
		ack.Notice = errs.ErrRecipientOffline
	}
	return ack, nil
}

func (d *Dispatcher) privateTyping(_ context.Context, s *Session, c PrivateTypingCmd) (any, error) {
	return nil, d.Direct.SetTypingDirect(s.UserID, c.ToUserID, *c.IsTyping)
}

func (d *Dispatcher) lobbyInvitation(_ context.Context, s *Session, c LobbyInvitationCmd) (any, error) {
	if c.ToUserID == s.UserID {
		return nil, errs.ErrArgs.WrapMsg("cannot invite yourself")
	}
	if !d.Rooms.IsActive(c.RoomID) {
		return nil, errs.ErrRoomNotFound.WrapMsg("invite", "room", c.RoomID)
	}
	if !d.Rooms.IsMember(c.RoomID, s.UserID) {
		return nil, errs.ErrNotAMember.WrapMsg("invite", "room", c.RoomID, "user", s.UserID)
	}
	ack := InvitationAck{RoomID: c.RoomID, ToUserID: c.ToUserID}
	res := d.Hub.Emit(event.NewInvitation(c.RoomID, s.UserID), c.ToUserID)
	if res.Sent == 0 {
		ack.Notice = errs.ErrRecipientOffline
	}
	return ack, nil
}

func (d *Dispatcher) updateStatus(_ context.Context, s *Session, c UpdateStatusCmd) (any, error) {
	if err := d.Registry.SetStatus(s.UserID, c.Status); err != nil {
		return nil, err
	}
	return StatusAck{Status: c.Status}, nil
}

func (d *Dispatcher) sendFriendRequest(ctx context.Context, s *Session, c SendFriendRequestCmd) (any, error) {
	req, err := d.Relations.SendFriendRequest(ctx, s.UserID, c.ToUserID, c.Message)
	if err != nil {
		return nil, err
	}
	return RequestAck{Request: req}, nil
}

func (d *Dispatcher) respondFriendRequest(ctx context.Context, s *Session, c RespondFriendRequestCmd) (any, error) {
	req, err := d.Relations.RespondToRequest(ctx, c.RequestID, s.UserID, *c.Accept)
	if err != nil {
		return nil, err
	}
	return RequestAck{Request: req}, nil
}

func (d *Dispatcher) removeFriend(ctx context.Context, s *Session, c RemoveFriendCmd) (any, error) {
	return event.FriendData{UserID: c.UserID}, d.Relations.RemoveFriend(ctx, s.UserID, c.UserID)
}

func (d *Dispatcher) listFriends(ctx context.Context, s *Session, _ ListFriendsCmd) (any, error) {
	friends, err := d.Relations.ListFriends(ctx, s.UserID)
	if err != nil {
		return nil, err
	}
	if friends == nil {
		friends = []string{}
	}
	return FriendsAck{Friends: friends}, nil
}

func (d *Dispatcher) listPending(ctx context.Context, s *Session, c ListPendingCmd) (any, error) {
	reqs, err := d.Relations.ListPending(ctx, s.UserID, c.Direction)
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []model.FriendRequest{}
	}
	return RequestsAck{Direction: c.Direction, Requests: reqs}, nil
}

// ===== presence.Listener =====

// PresenceChanged runs under the user's registry lock. The audience is
// computed before an offline teardown removes the user from its rooms.
func (d *Dispatcher) PresenceChanged(userID string, status model.Status) {
	defer d.forgetOffline(userID, status)
	audience := d.audience(userID)
	if status == model.StatusOffline {
		d.Rooms.ClearTyping(userID)
		d.Direct.ClearUser(userID)
		d.Rooms.LeaveAll(userID)
	}
	if len(audience) == 0 {
		return
	}
	res := d.Hub.Emit(event.NewUserStatusChanged(userID, status), audience...)
	logger.Debug("dispatch: presence broadcast",
		zap.String("user", userID), zap.String("status", string(status)),
		zap.Int("sent", res.Sent), zap.Int("dropped", res.Dropped))
}

// forgetOffline drops the relationship cache of a user whose last
// connection closed.
func (d *Dispatcher) forgetOffline(userID string, status model.Status) {
	if status == model.StatusOffline {
		d.Relations.Evict(userID)
	}
}

func (d *Dispatcher) ConnectionEvicted(conn presence.Connection) {
	d.Hub.Kill(conn.ID, nil)
}

// audience is the user's cached friends plus everyone sharing a room.
func (d *Dispatcher) audience(userID string) []string {
	set := make(map[string]struct{})
	for _, f := range d.Relations.CachedFriends(userID) {
		set[f] = struct{}{}
	}
	for _, m := range d.Rooms.CoMembers(userID) {
		set[m] = struct{}{}
	}
	delete(set, userID)
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ===== lifecycle signals =====

func (d *Dispatcher) LobbyOpened(roomID string) error {
	if roomID == "" {
		return errs.ErrArgs.WrapMsg("lobby opened: empty room id")
	}
	d.Rooms.OpenLobby(roomID)
	return nil
}

func (d *Dispatcher) LobbyClosed(roomID string) error {
	if roomID == "" {
		return errs.ErrArgs.WrapMsg("lobby closed: empty room id")
	}
	d.Rooms.CloseLobby(roomID)
	return nil
}

func (d *Dispatcher) UserUpserted(ctx context.Context, u usermodel.User) error {
	if u.UserID == "" {
		return errs.ErrArgs.WrapMsg("user upsert: empty user id")
	}
	return d.Directory.PutUser(ctx, u)
}

// UserDeleted removes every relationship of userID, deletes the identity
// and closes its live sessions.
func (d *Dispatcher) UserDeleted(ctx context.Context, userID string) error {
	if userID == "" {
		return errs.ErrArgs.WrapMsg("user deleted: empty user id")
	}
	if err := d.Relations.ForgetUser(ctx, userID); err != nil {
		return err
	}
	if err := d.Directory.DeleteUser(ctx, userID); err != nil {
		return err
	}
	if n := d.Hub.KillUser(userID, errs.ErrUserNotFound.WrapMsg("user deleted", "user", userID)); n > 0 {
		logger.Info("dispatch: closed sessions of deleted user", zap.String("user", userID), zap.Int("sessions", n))
	}
	return nil
}
