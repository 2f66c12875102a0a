// Package event defines the outbound events pushed to connections and the
// Emitter through which components ask for their delivery.
package event

import (
	"LobbyHub/module/chat/model"
	"LobbyHub/tools/errs"
)

type Type string

const (
	OnlineUsers         Type = "onlineUsers"
	UserStatusChanged   Type = "userStatusChanged"
	NewLobbyChatMessage Type = "newLobbyChatMessage"
	UserJoinedLobby     Type = "userJoinedLobby"
	UserLeftLobby       Type = "userLeftLobby"
	UserTyping          Type = "userTyping"
	NewPrivateMessage   Type = "newPrivateMessage"
	UserPrivateTyping   Type = "userPrivateTyping"
	NewLobbyInvitation  Type = "newLobbyInvitation"

	LobbyMembers          Type = "lobbyMembers"
	LobbyClosed           Type = "lobbyClosed"
	PrivateMessageSent    Type = "privateMessageSent"
	FriendRequestReceived Type = "friendRequestReceived"
	FriendRequestSent     Type = "friendRequestSent"
	FriendRequestUpdated  Type = "friendRequestUpdated"
	FriendAdded           Type = "friendAdded"
	FriendRemoved         Type = "friendRemoved"

	Ack   Type = "ack"
	Error Type = "error"
)

// Event is the outbound envelope written to the wire as JSON.
type Event struct {
	Type    Type   `json:"type"`
	ReplyTo string `json:"replyTo,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Result reports how many connections an event was queued on and how many
// were dropped because their backlog was full.
type Result struct {
	Sent    int
	Dropped int
}

func (r *Result) Add(o Result) {
	r.Sent += o.Sent
	r.Dropped += o.Dropped
}

// Emitter delivers an event to every live connection of the given users.
// Implementations must not block on slow connections.
type Emitter interface {
	Emit(ev Event, userIDs ...string) Result
}

// Discard is an Emitter that drops everything.
type Discard struct{}

func (Discard) Emit(Event, ...string) Result { return Result{} }

// ===== payloads =====

type OnlineUsersData struct {
	Users []string `json:"users"`
}

type StatusData struct {
	UserID string       `json:"userID"`
	Status model.Status `json:"status"`
}

type LobbyMessageData struct {
	RoomID  string              `json:"roomID"`
	Message model.MessageRecord `json:"message"`
}

type LobbyUserData struct {
	RoomID string `json:"roomID"`
	User   string `json:"user"`
}

type LobbyMembersData struct {
	RoomID  string   `json:"roomID"`
	Members []string `json:"members"`
}

type LobbyData struct {
	RoomID string `json:"roomID"`
}

type TypingData struct {
	RoomID   string `json:"roomID"`
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

type PrivateMessageData struct {
	Message model.MessageRecord `json:"message"`
}

type PrivateMessageSentData struct {
	Message          model.MessageRecord `json:"message"`
	RecipientOffline bool                `json:"recipientOffline"`
}

type PrivateTypingData struct {
	User     string `json:"user"`
	IsTyping bool   `json:"isTyping"`
}

type InvitationData struct {
	RoomID  string `json:"roomID"`
	Inviter string `json:"inviter"`
}

type FriendRequestData struct {
	Request model.FriendRequest `json:"request"`
}

type FriendData struct {
	UserID string `json:"userID"`
}

// ===== constructors =====

func NewOnlineUsers(users []string) Event {
	if users == nil {
		users = []string{}
	}
	return Event{Type: OnlineUsers, Data: OnlineUsersData{Users: users}}
}

func NewUserStatusChanged(userID string, status model.Status) Event {
	return Event{Type: UserStatusChanged, Data: StatusData{UserID: userID, Status: status}}
}

func NewLobbyMessage(msg model.MessageRecord) Event {
	return Event{Type: NewLobbyChatMessage, Data: LobbyMessageData{RoomID: msg.RoomID, Message: msg}}
}

func NewUserJoined(roomID, userID string) Event {
	return Event{Type: UserJoinedLobby, Data: LobbyUserData{RoomID: roomID, User: userID}}
}

func NewUserLeft(roomID, userID string) Event {
	return Event{Type: UserLeftLobby, Data: LobbyUserData{RoomID: roomID, User: userID}}
}

func NewLobbyMembers(roomID string, members []string) Event {
	return Event{Type: LobbyMembers, Data: LobbyMembersData{RoomID: roomID, Members: members}}
}

func NewLobbyClosed(roomID string) Event {
	return Event{Type: LobbyClosed, Data: LobbyData{RoomID: roomID}}
}

func NewUserTyping(roomID, userID string, typing bool) Event {
	return Event{Type: UserTyping, Data: TypingData{RoomID: roomID, User: userID, IsTyping: typing}}
}

func NewPrivateMsg(msg model.MessageRecord) Event {
	return Event{Type: NewPrivateMessage, Data: PrivateMessageData{Message: msg}}
}

func NewPrivateMessageSent(msg model.MessageRecord, recipientOffline bool) Event {
	return Event{Type: PrivateMessageSent, Data: PrivateMessageSentData{Message: msg, RecipientOffline: recipientOffline}}
}

func NewPrivateTyping(userID string, typing bool) Event {
	return Event{Type: UserPrivateTyping, Data: PrivateTypingData{User: userID, IsTyping: typing}}
}

func NewInvitation(roomID, inviter string) Event {
	return Event{Type: NewLobbyInvitation, Data: InvitationData{RoomID: roomID, Inviter: inviter}}
}

func NewFriendRequestEvent(t Type, req model.FriendRequest) Event {
	return Event{Type: t, Data: FriendRequestData{Request: req}}
}

func NewFriendEvent(t Type, userID string) Event {
	return Event{Type: t, Data: FriendData{UserID: userID}}
}

func NewAck(replyTo string, data any) Event {
	return Event{Type: Ack, ReplyTo: replyTo, Data: data}
}

// NewError turns err into an error ack. Errors without a code are reported
// as internal errors.
func NewError(replyTo string, err error) Event {
	return Event{Type: Error, ReplyTo: replyTo, Data: errs.Public(err)}
}
