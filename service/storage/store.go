// Package storage holds the durable store for user identities, friendships
// and friend requests, plus the side stores fed by the realtime core.
package storage

import (
	"context"

	"LobbyHub/module/chat/model"
	usermodel "LobbyHub/module/user/model"
)

// Directory resolves user identities.
type Directory interface {
	PutUser(ctx context.Context, u usermodel.User) error
	GetUser(ctx context.Context, userID string) (usermodel.User, error)
	UserExists(ctx context.Context, userID string) (bool, error)
	// ExistingUsers reports which of ids resolve to a user.
	ExistingUsers(ctx context.Context, ids []string) (map[string]bool, error)
	// DeleteUser removes the identity only. Edges and requests that point at
	// it are cleaned up separately.
	DeleteUser(ctx context.Context, userID string) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

// RelationStore persists friendships and friend requests.
type RelationStore interface {
	// ListFriends returns the friend IDs stored on userID's side.
	ListFriends(ctx context.Context, userID string) ([]string, error)
	// ListRequests returns every request sent or received by userID.
	ListRequests(ctx context.Context, userID string) ([]model.FriendRequest, error)
	GetRequest(ctx context.Context, requestID string) (model.FriendRequest, error)
	CreateRequest(ctx context.Context, req model.FriendRequest) error
	SaveRequest(ctx context.Context, req model.FriendRequest) error
	// CommitAcceptance stores the accepted request, both rows of edge and
	// every request in rejected as one atomic write.
	CommitAcceptance(ctx context.Context, accepted model.FriendRequest, edge model.FriendEdge, rejected []model.FriendRequest) error
	// RemoveEdge deletes both rows of the a-b friendship atomically.
	RemoveEdge(ctx context.Context, a, b string) error
}

type Store interface {
	Directory
	RelationStore
	Close(ctx context.Context) error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*MongoStore)(nil)
)
