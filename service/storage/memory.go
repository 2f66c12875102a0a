package storage

import (
	"context"
	"sort"
	"sync"

	"LobbyHub/module/chat/model"
	usermodel "LobbyHub/module/user/model"
	"LobbyHub/tools/errs"
)

// Memory is an in-process Store. It applies the same atomicity as the Mongo
// store by holding one lock per call.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]usermodel.User
	friends  map[string]map[string]model.Friend // owner -> friend -> row
	requests map[string]model.FriendRequest
	byUser   map[string]map[string]struct{} // userID -> requestIDs
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]usermodel.User),
		friends:  make(map[string]map[string]model.Friend),
		requests: make(map[string]model.FriendRequest),
		byUser:   make(map[string]map[string]struct{}),
	}
}

func (m *Memory) Close(context.Context) error { return nil }

// ===== Directory =====

func (m *Memory) PutUser(_ context.Context, u usermodel.User) error {
	if u.UserID == "" {
		return errs.ErrArgs.WrapMsg("put user: empty user id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.users[u.UserID]; ok && u.CreateTime.IsZero() {
		u.CreateTime = old.CreateTime
	}
	m.users[u.UserID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, userID string) (usermodel.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return usermodel.User{}, errs.ErrUserNotFound.WrapMsg("get user", "user", userID)
	}
	return u, nil
}

func (m *Memory) UserExists(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[userID]
	return ok, nil
}

func (m *Memory) ExistingUsers(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, out[id] = m.users[id]
	}
	return out, nil
}

func (m *Memory) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
	return nil
}

func (m *Memory) ListUserIDs(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.users))
	for id := range m.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ===== RelationStore =====

func (m *Memory) ListFriends(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.friends[userID]))
	for id := range m.friends[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ListRequests(_ context.Context, userID string) ([]model.FriendRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.FriendRequest, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		out = append(out, m.requests[id])
	}
	SortRequests(out)
	return out, nil
}

func (m *Memory) GetRequest(_ context.Context, requestID string) (model.FriendRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[requestID]
	if !ok {
		return model.FriendRequest{}, errs.ErrRequestNotFound.WrapMsg("get request", "request", requestID)
	}
	return req, nil
}

func (m *Memory) CreateRequest(_ context.Context, req model.FriendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.RequestID]; ok {
		return errs.ErrArgs.WrapMsg("request id already used", "request", req.RequestID)
	}
	if req.Pending() {
		for id := range m.byUser[req.FromUserID] {
			if r := m.requests[id]; r.Pending() && r.Between(req.FromUserID, req.ToUserID) {
				return errs.ErrDuplicatePending.WrapMsg("create request", "pending", id)
			}
		}
	}
	m.putRequest(req)
	return nil
}

func (m *Memory) SaveRequest(_ context.Context, req model.FriendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.RequestID]; !ok {
		return errs.ErrRequestNotFound.WrapMsg("save request", "request", req.RequestID)
	}
	m.putRequest(req)
	return nil
}

func (m *Memory) CommitAcceptance(_ context.Context, accepted model.FriendRequest, edge model.FriendEdge, rejected []model.FriendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range append([]model.FriendRequest{accepted}, rejected...) {
		if _, ok := m.requests[r.RequestID]; !ok {
			return errs.ErrRequestNotFound.WrapMsg("commit acceptance", "request", r.RequestID)
		}
	}
	m.putRequest(accepted)
	for _, r := range rejected {
		m.putRequest(r)
	}
	for _, row := range edge.Rows() {
		m.putFriendRow(row)
	}
	return nil
}

func (m *Memory) RemoveEdge(_ context.Context, a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteFriendRow(a, b)
	m.deleteFriendRow(b, a)
	return nil
}

// PutFriendRow writes a single directed friend row as is. Imports use it to
// load rows from systems that stored friendships one side at a time.
func (m *Memory) PutFriendRow(row model.Friend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putFriendRow(row)
}

// PutRequestRaw stores req without any pair checks.
func (m *Memory) PutRequestRaw(req model.FriendRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putRequest(req)
}

func (m *Memory) putRequest(req model.FriendRequest) {
	m.requests[req.RequestID] = req
	for _, u := range []string{req.FromUserID, req.ToUserID} {
		set := m.byUser[u]
		if set == nil {
			set = make(map[string]struct{})
			m.byUser[u] = set
		}
		set[req.RequestID] = struct{}{}
	}
}

func (m *Memory) putFriendRow(row model.Friend) {
	set := m.friends[row.OwnerUserID]
	if set == nil {
		set = make(map[string]model.Friend)
		m.friends[row.OwnerUserID] = set
	}
	set[row.FriendUserID] = row
}

func (m *Memory) deleteFriendRow(owner, friend string) {
	set := m.friends[owner]
	delete(set, friend)
	if len(set) == 0 {
		delete(m.friends, owner)
	}
}

// SortRequests orders requests by creation time, then ID.
func SortRequests(reqs []model.FriendRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreateTime.Equal(reqs[j].CreateTime) {
			return reqs[i].RequestID < reqs[j].RequestID
		}
		return reqs[i].CreateTime.Before(reqs[j].CreateTime)
	})
}
