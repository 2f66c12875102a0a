package dispatch

import (
	"bytes"
	"encoding/json"
	"strings"

	"LobbyHub/module/chat/model"
	"LobbyHub/tools/decode"
	"LobbyHub/tools/errs"
)

// Kind names an inbound frame type.
type Kind string

const (
	JoinLobby            Kind = "joinLobby"
	LeaveLobby           Kind = "leaveLobby"
	LobbyChatMessage     Kind = "lobbyChatMessage"
	LobbyTyping          Kind = "lobbyTyping"
	PrivateMessage       Kind = "privateMessage"
	PrivateTyping        Kind = "privateTyping"
	LobbyInvitation      Kind = "lobbyInvitation"
	UpdateStatus         Kind = "updateStatus"
	SendFriendRequest    Kind = "sendFriendRequest"
	RespondFriendRequest Kind = "respondFriendRequest"
	RemoveFriend         Kind = "removeFriend"
	ListFriends          Kind = "listFriends"
	ListPending          Kind = "listPending"
)

// Frame is the inbound envelope.
type Frame struct {
	Type Kind            `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Command is one decoded and validated inbound variant.
type Command interface {
	Kind() Kind
	validate() error
}

type JoinLobbyCmd struct {
	RoomID string `json:"roomID" decode:"trim"`
}

type LeaveLobbyCmd struct {
	RoomID string `json:"roomID" decode:"trim"`
}

type LobbyChatMessageCmd struct {
	RoomID string `json:"roomID" decode:"trim"`
	Text   string `json:"text"`
}

type LobbyTypingCmd struct {
	RoomID   string `json:"roomID" decode:"trim"`
	IsTyping *bool  `json:"isTyping"`
}

type PrivateMessageCmd struct {
	ToUserID string `json:"toUserID" decode:"trim"`
	Text     string `json:"text"`
}

type PrivateTypingCmd struct {
	ToUserID string `json:"toUserID" decode:"trim"`
	IsTyping *bool  `json:"isTyping"`
}

type LobbyInvitationCmd struct {
	RoomID   string `json:"roomID" decode:"trim"`
	ToUserID string `json:"toUserID" decode:"trim"`
}

type UpdateStatusCmd struct {
	Status model.Status `json:"status" decode:"trim"`
}

type SendFriendRequestCmd struct {
	ToUserID string `json:"toUserID" decode:"trim"`
	Message  string `json:"message"`
}

type RespondFriendRequestCmd struct {
	RequestID string `json:"requestID" decode:"trim"`
	Accept    *bool  `json:"accept"`
}

type RemoveFriendCmd struct {
	UserID string `json:"userID" decode:"trim"`
}

type ListFriendsCmd struct{}

type ListPendingCmd struct {
	Direction model.Direction `json:"direction" decode:"trim"`
}

func (JoinLobbyCmd) Kind() Kind            { return JoinLobby }
func (LeaveLobbyCmd) Kind() Kind           { return LeaveLobby }
func (LobbyChatMessageCmd) Kind() Kind     { return LobbyChatMessage }
func (LobbyTypingCmd) Kind() Kind          { return LobbyTyping }
func (PrivateMessageCmd) Kind() Kind       { return PrivateMessage }
func (PrivateTypingCmd) Kind() Kind        { return PrivateTyping }
func (LobbyInvitationCmd) Kind() Kind      { return LobbyInvitation }
func (UpdateStatusCmd) Kind() Kind         { return UpdateStatus }
func (SendFriendRequestCmd) Kind() Kind    { return SendFriendRequest }
func (RespondFriendRequestCmd) Kind() Kind { return RespondFriendRequest }
func (RemoveFriendCmd) Kind() Kind         { return RemoveFriend }
func (ListFriendsCmd) Kind() Kind          { return ListFriends }
func (ListPendingCmd) Kind() Kind          { return ListPending }

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return errs.ErrMalformedEvent.WrapMsg("missing field", "field", field)
	}
	return nil
}

func requiredBool(field string, v *bool) error {
	if v == nil {
		return errs.ErrMalformedEvent.WrapMsg("missing field", "field", field)
	}
	return nil
}

func (c JoinLobbyCmd) validate() error  { return required("roomID", c.RoomID) }
func (c LeaveLobbyCmd) validate() error { return required("roomID", c.RoomID) }

func (c LobbyChatMessageCmd) validate() error { return required("roomID", c.RoomID) }

func (c LobbyTypingCmd) validate() error {
	if err := required("roomID", c.RoomID); err != nil {
		return err
	}
	return requiredBool("isTyping", c.IsTyping)
}

func (c PrivateMessageCmd) validate() error { return required("toUserID", c.ToUserID) }

func (c PrivateTypingCmd) validate() error {
	if err := required("toUserID", c.ToUserID); err != nil {
		return err
	}
	return requiredBool("isTyping", c.IsTyping)
}

func (c LobbyInvitationCmd) validate() error {
	if err := required("roomID", c.RoomID); err != nil {
		return err
	}
	return required("toUserID", c.ToUserID)
}

func (c UpdateStatusCmd) validate() error { return required("status", string(c.Status)) }

func (c SendFriendRequestCmd) validate() error { return required("toUserID", c.ToUserID) }

func (c RespondFriendRequestCmd) validate() error {
	if err := required("requestID", c.RequestID); err != nil {
		return err
	}
	return requiredBool("accept", c.Accept)
}

func (c RemoveFriendCmd) validate() error { return required("userID", c.UserID) }

func (ListFriendsCmd) validate() error { return nil }

func (c ListPendingCmd) validate() error {
	if !c.Direction.Valid() {
		return errs.ErrMalformedEvent.WrapMsg("direction must be incoming or outgoing", "direction", c.Direction)
	}
	return nil
}

type decoderFunc func(json.RawMessage) (Command, error)

func decodeAs[T Command](raw json.RawMessage) (Command, error) {
	v, err := decode.DecodeJSON[T](raw)
	if err != nil {
		return nil, errs.ErrMalformedEvent.WrapMsg(err.Error())
	}
	if err := (*v).validate(); err != nil {
		return nil, err
	}
	return *v, nil
}

var decoders = map[Kind]decoderFunc{
	JoinLobby:            decodeAs[JoinLobbyCmd],
	LeaveLobby:           decodeAs[LeaveLobbyCmd],
	LobbyChatMessage:     decodeAs[LobbyChatMessageCmd],
	LobbyTyping:          decodeAs[LobbyTypingCmd],
	PrivateMessage:       decodeAs[PrivateMessageCmd],
	PrivateTyping:        decodeAs[PrivateTypingCmd],
	LobbyInvitation:      decodeAs[LobbyInvitationCmd],
	UpdateStatus:         decodeAs[UpdateStatusCmd],
	SendFriendRequest:    decodeAs[SendFriendRequestCmd],
	RespondFriendRequest: decodeAs[RespondFriendRequestCmd],
	RemoveFriend:         decodeAs[RemoveFriendCmd],
	ListFriends:          decodeAs[ListFriendsCmd],
	ListPending:          decodeAs[ListPendingCmd],
}

// Decode parses one inbound frame. The returned Frame carries whatever
// envelope fields could be read, so a failed frame can still be answered by
// its ID.
func Decode(raw []byte) (Frame, Command, error) {
	var f Frame
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		// best effort to recover the correlation id
		var loose struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &loose)
		f.ID = loose.ID
		return f, nil, errs.ErrMalformedEvent.WrapMsg("bad envelope", "err", err.Error())
	}
	if dec.More() {
		return f, nil, errs.ErrMalformedEvent.WrapMsg("trailing data after frame")
	}
	d, ok := decoders[f.Type]
	if !ok {
		return f, nil, errs.ErrMalformedEvent.WrapMsg("unknown event type", "type", f.Type)
	}
	cmd, err := d(f.Data)
	if err != nil {
		return f, nil, err
	}
	return f, cmd, nil
}
