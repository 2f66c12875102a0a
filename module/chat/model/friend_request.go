package model

import (
	"fmt"
	"time"
)

const FriendRequestTableName = "friend_requests"

// RequestStatus 处理结果: 0=未处理, 1=同意, 2=拒绝
type RequestStatus int32

const (
	RequestPending  RequestStatus = 0
	RequestAccepted RequestStatus = 1
	RequestRejected RequestStatus = 2
)

func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestAccepted:
		return "accepted"
	case RequestRejected:
		return "rejected"
	}
	return fmt.Sprintf("RequestStatus(%d)", int32(s))
}

func (s RequestStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RequestStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending":
		*s = RequestPending
	case "accepted":
		*s = RequestAccepted
	case "rejected":
		*s = RequestRejected
	default:
		return fmt.Errorf("unknown request status %q", b)
	}
	return nil
}

// FriendRequest 表示一次好友申请（FromUserID -> ToUserID）的完整生命周期。
// 在 MongoDB 中以 request_id 为唯一索引，from_user_id / to_user_id 各建索引。
type FriendRequest struct {
	RequestID    string        `bson:"request_id" json:"requestID"`      // 全局唯一请求ID（雪花）
	FromUserID   string        `bson:"from_user_id" json:"fromUserID"`   // 发起方
	ToUserID     string        `bson:"to_user_id" json:"toUserID"`       // 接收方
	HandleResult RequestStatus `bson:"handle_result" json:"status"`      // 0=未处理, 1=同意, 2=拒绝
	ReqMsg       string        `bson:"req_msg,omitempty" json:"message"` // 申请附带的留言
	CreateTime   time.Time     `bson:"create_time" json:"createTime"`    // 创建时间
	HandleTime   time.Time     `bson:"handle_time,omitempty" json:"handleTime,omitempty"`
}

func (r *FriendRequest) Pending() bool { return r.HandleResult == RequestPending }

// Between reports whether the request connects a and b in either direction.
func (r *FriendRequest) Between(a, b string) bool {
	return (r.FromUserID == a && r.ToUserID == b) || (r.FromUserID == b && r.ToUserID == a)
}

// Counterpart returns the other party of the request as seen by userID.
func (r *FriendRequest) Counterpart(userID string) string {
	if r.FromUserID == userID {
		return r.ToUserID
	}
	return r.FromUserID
}

func (r *FriendRequest) PairKey() string { return PairKey(r.FromUserID, r.ToUserID) }

// Resolve returns a copy of r moved to status at t.
func (r FriendRequest) Resolve(status RequestStatus, t time.Time) FriendRequest {
	r.HandleResult = status
	r.HandleTime = t
	return r
}

// Direction selects which side of a user's requests to list.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

func (d Direction) Valid() bool { return d == Incoming || d == Outgoing }
