package model

import (
	"strings"
	"time"
)

const (
	FriendTableName = "friends"
	pairSep         = "|"
)

// Friend 表示用户好友关系的一条记录（单向存储，双向各存一条）。
// 在 MongoDB 中以 owner_user_id + friend_user_id 作为唯一索引。
type Friend struct {
	OwnerUserID  string    `bson:"owner_user_id" json:"ownerUserID"`   // 谁的好友列表
	FriendUserID string    `bson:"friend_user_id" json:"friendUserID"` // 好友用户ID（对方）
	CreateTime   time.Time `bson:"create_time" json:"createTime"`      // 成为好友的时间
}

// FriendEdge is a confirmed friendship. UserA is always the lower ID.
type FriendEdge struct {
	UserA     string    `json:"userA"`
	UserB     string    `json:"userB"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewFriendEdge(a, b string, at time.Time) FriendEdge {
	if b < a {
		a, b = b, a
	}
	return FriendEdge{UserA: a, UserB: b, CreatedAt: at}
}

// Rows returns the two directed records persisted for the edge.
func (e FriendEdge) Rows() []Friend {
	return []Friend{
		{OwnerUserID: e.UserA, FriendUserID: e.UserB, CreateTime: e.CreatedAt},
		{OwnerUserID: e.UserB, FriendUserID: e.UserA, CreateTime: e.CreatedAt},
	}
}

// Other returns the peer of userID, or "" when userID is not on the edge.
func (e FriendEdge) Other(userID string) string {
	switch userID {
	case e.UserA:
		return e.UserB
	case e.UserB:
		return e.UserA
	}
	return ""
}

func (e FriendEdge) Key() string { return PairKey(e.UserA, e.UserB) }

// PairKey identifies an unordered pair of users, lower ID first.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + pairSep + b
}

// SplitPairKey is the inverse of PairKey.
func SplitPairKey(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, pairSep)
	return a, b, ok
}
