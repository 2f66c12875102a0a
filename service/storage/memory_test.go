package storage

import (
	"context"
	"testing"
	"time"

	"LobbyHub/module/chat/model"
	usermodel "LobbyHub/module/user/model"
	"LobbyHub/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.Error(t, m.PutUser(ctx, usermodel.User{}))
	created := time.Unix(100, 0)
	require.NoError(t, m.PutUser(ctx, usermodel.User{UserID: "b", CreateTime: created}))
	require.NoError(t, m.PutUser(ctx, usermodel.User{UserID: "a"}))
	// re-put keeps the original create time
	require.NoError(t, m.PutUser(ctx, usermodel.User{UserID: "b", Nickname: "bee"}))

	u, err := m.GetUser(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "bee", u.Nickname)
	assert.True(t, u.CreateTime.Equal(created))

	_, err = m.GetUser(ctx, "zed")
	assert.True(t, errs.ErrUserNotFound.Is(err))

	ids, err := m.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	found, err := m.ExistingUsers(ctx, []string{"a", "zed"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "zed": false}, found)

	require.NoError(t, m.DeleteUser(ctx, "a"))
	ok, err := m.UserExists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRefusesSecondPendingPerPair(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Unix(100, 0)
	require.NoError(t, m.CreateRequest(ctx, model.FriendRequest{RequestID: "r1", FromUserID: "a", ToUserID: "b", CreateTime: now}))

	err := m.CreateRequest(ctx, model.FriendRequest{RequestID: "r2", FromUserID: "b", ToUserID: "a", CreateTime: now})
	assert.True(t, errs.ErrDuplicatePending.Is(err))
	_, err = m.GetRequest(ctx, "r2")
	assert.True(t, errs.ErrRequestNotFound.Is(err))

	// other pairs and resolved rows do not count
	require.NoError(t, m.CreateRequest(ctx, model.FriendRequest{RequestID: "r3", FromUserID: "a", ToUserID: "c", CreateTime: now}))
	require.NoError(t, m.SaveRequest(ctx, model.FriendRequest{RequestID: "r1", FromUserID: "a", ToUserID: "b",
		HandleResult: model.RequestRejected, CreateTime: now, HandleTime: now}))
	require.NoError(t, m.CreateRequest(ctx, model.FriendRequest{RequestID: "r4", FromUserID: "b", ToUserID: "a", CreateTime: now}))
}

func TestMemoryAcceptanceIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Unix(200, 0)
	req := model.FriendRequest{RequestID: "r1", FromUserID: "a", ToUserID: "b", CreateTime: now}
	require.NoError(t, m.CreateRequest(ctx, req))
	require.Error(t, m.CreateRequest(ctx, req), "duplicate request id")

	// an unknown rejected request aborts the whole commit
	ghost := model.FriendRequest{RequestID: "ghost", FromUserID: "b", ToUserID: "a"}
	err := m.CommitAcceptance(ctx, req.Resolve(model.RequestAccepted, now), model.NewFriendEdge("a", "b", now), []model.FriendRequest{ghost})
	assert.True(t, errs.ErrRequestNotFound.Is(err))
	friends, _ := m.ListFriends(ctx, "a")
	assert.Empty(t, friends)

	require.NoError(t, m.CommitAcceptance(ctx, req.Resolve(model.RequestAccepted, now), model.NewFriendEdge("b", "a", now), nil))
	fa, _ := m.ListFriends(ctx, "a")
	fb, _ := m.ListFriends(ctx, "b")
	assert.Equal(t, []string{"b"}, fa)
	assert.Equal(t, []string{"a"}, fb)

	got, err := m.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RequestAccepted, got.HandleResult)

	require.NoError(t, m.RemoveEdge(ctx, "b", "a"))
	fa, _ = m.ListFriends(ctx, "a")
	fb, _ = m.ListFriends(ctx, "b")
	assert.Empty(t, fa)
	assert.Empty(t, fb)
}

func TestMemoryListRequestsOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	t0 := time.Unix(300, 0)
	require.NoError(t, m.CreateRequest(ctx, model.FriendRequest{RequestID: "r2", FromUserID: "a", ToUserID: "c", CreateTime: t0}))
	require.NoError(t, m.CreateRequest(ctx, model.FriendRequest{RequestID: "r1", FromUserID: "b", ToUserID: "a", CreateTime: t0}))
	require.NoError(t, m.CreateRequest(ctx, model.FriendRequest{RequestID: "r0", FromUserID: "a", ToUserID: "d", CreateTime: t0.Add(time.Second)}))

	reqs, err := m.ListRequests(ctx, "a")
	require.NoError(t, err)
	var order []string
	for _, r := range reqs {
		order = append(order, r.RequestID)
	}
	assert.Equal(t, []string{"r1", "r2", "r0"}, order)

	assert.True(t, errs.ErrRequestNotFound.Is(m.SaveRequest(ctx, model.FriendRequest{RequestID: "nope"})))
}
