package errs

// 通用错误码
const (
	ServerInternalError = 500
	ArgsError           = 1013
)

// 业务错误码
const (
	NotConnectedError      = 1001
	NotAMemberError        = 1002
	RoomNotFoundError      = 1003
	SelfRequestError       = 1004
	AlreadyFriendsError    = 1005
	DuplicatePendingError  = 1006
	NotRecipientError      = 1007
	RequestNotPendingError = 1008
	RecipientOfflineError  = 1009
	UserNotFoundError      = 1010
	NotFriendsError        = 1011
	RequestNotFoundError   = 1012
	MalformedEventError    = 1014
	RequestCooldownError   = 1015
	SlowConsumerError      = 1016
	UnauthorizedError      = 1017
	TooManyRequestsError   = 1018
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "internal server error")
	ErrArgs           = NewCodeError(ArgsError, "invalid argument")

	ErrNotConnected      = NewCodeError(NotConnectedError, "user has no live connection")
	ErrNotAMember        = NewCodeError(NotAMemberError, "not a member of the room")
	ErrRoomNotFound      = NewCodeError(RoomNotFoundError, "room not found")
	ErrSelfRequest       = NewCodeError(SelfRequestError, "cannot befriend yourself")
	ErrAlreadyFriends    = NewCodeError(AlreadyFriendsError, "already friends")
	ErrDuplicatePending  = NewCodeError(DuplicatePendingError, "a pending request already exists")
	ErrNotRecipient      = NewCodeError(NotRecipientError, "only the recipient can respond")
	ErrRequestNotPending = NewCodeError(RequestNotPendingError, "request already resolved")
	ErrRecipientOffline  = NewCodeError(RecipientOfflineError, "recipient is offline")
	ErrUserNotFound      = NewCodeError(UserNotFoundError, "user not found")
	ErrNotFriends        = NewCodeError(NotFriendsError, "not friends")
	ErrRequestNotFound   = NewCodeError(RequestNotFoundError, "request not found")
	ErrMalformedEvent    = NewCodeError(MalformedEventError, "malformed event")
	ErrRequestCooldown   = NewCodeError(RequestCooldownError, "request rejected recently, try later")
	ErrSlowConsumer      = NewCodeError(SlowConsumerError, "outbound backlog full")
	ErrUnauthorized      = NewCodeError(UnauthorizedError, "unauthorized")
	ErrTooManyRequests   = NewCodeError(TooManyRequestsError, "rate limit exceeded")
)

// Public converts any error into the CodeError a client may see. Errors
// without a code collapse to ErrInternalServer so internals do not leak.
func Public(err error) *CodeError {
	if err == nil {
		return nil
	}
	if ce, ok := AsCode(err); ok {
		return ce
	}
	return ErrInternalServer
}
