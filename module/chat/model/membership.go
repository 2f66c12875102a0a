package model

import "time"

const MembershipTableName = "lobby_membership_events"

type MembershipKind string

const (
	MemberJoined  MembershipKind = "joined"
	MemberLeft    MembershipKind = "left"
	MemberEvicted MembershipKind = "evicted" // lobby closed
)

// MembershipEvent is one row of a room's membership history.
type MembershipEvent struct {
	RoomID string         `json:"roomID"`
	UserID string         `json:"userID"`
	Kind   MembershipKind `json:"kind"`
	At     time.Time      `json:"at"`
}
