// Package relation manages friendships and friend requests on top of a
// durable store, keeping a write-through cache of every user it has seen.
package relation

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"LobbyHub/logger"
	"LobbyHub/module/chat/model"
	"LobbyHub/service/event"
	"LobbyHub/service/storage"
	"LobbyHub/tools/errs"
	"LobbyHub/tools/ids"
	"LobbyHub/tools/safe"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store is the durable side of the manager. Every mutation reaches it before
// the cache changes.
type Store interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	ExistingUsers(ctx context.Context, ids []string) (map[string]bool, error)
	ListFriends(ctx context.Context, userID string) ([]string, error)
	ListRequests(ctx context.Context, userID string) ([]model.FriendRequest, error)
	GetRequest(ctx context.Context, requestID string) (model.FriendRequest, error)
	CreateRequest(ctx context.Context, req model.FriendRequest) error
	SaveRequest(ctx context.Context, req model.FriendRequest) error
	CommitAcceptance(ctx context.Context, accepted model.FriendRequest, edge model.FriendEdge, rejected []model.FriendRequest) error
	RemoveEdge(ctx context.Context, a, b string) error
}

const (
	stripeCount   = 64
	maxRequestMsg = 200
)

type Conf struct {
	RejectCooldown time.Duration // 被拒后多久可再次申请；0 = 立即
	StoreTimeout   time.Duration
	Clock          func() time.Time
	NewID          func() string
}

func (c *Conf) norm() {
	c.StoreTimeout = safe.DefaultDuration(c.StoreTimeout, 5*time.Second)
	if c.RejectCooldown < 0 {
		c.RejectCooldown = 0
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewID == nil {
		c.NewID = ids.GenerateString
	}
}

// userView is the cached relationship state of one user.
type userView struct {
	friends  map[string]struct{}
	requests map[string]model.FriendRequest
}

type Manager struct {
	store Store
	emit  event.Emitter
	conf  Conf

	stripes [stripeCount]sync.Mutex

	mu    sync.RWMutex
	views map[string]*userView
	loads singleflight.Group
}

func NewManager(store Store, emit event.Emitter, conf Conf) *Manager {
	safe.MustNotNil(store, "store")
	safe.MustNotNil(emit, "emitter")
	conf.norm()
	return &Manager{
		store: store,
		emit:  emit,
		conf:  conf,
		views: make(map[string]*userView),
	}
}

// lockPair serializes mutations of one unordered pair.
func (m *Manager) lockPair(a, b string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(model.PairKey(a, b)))
	mu := &m.stripes[h.Sum32()%stripeCount]
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.conf.StoreTimeout)
}

// ===== 缓存 =====

func (m *Manager) cached(userID string) *userView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.views[userID]
}

// view returns userID's cached state, loading it once on a miss.
func (m *Manager) view(ctx context.Context, userID string) (*userView, error) {
	if v := m.cached(userID); v != nil {
		return v, nil
	}
	res, err, _ := m.loads.Do(userID, func() (any, error) {
		if v := m.cached(userID); v != nil {
			return v, nil
		}
		sctx, cancel := m.storeCtx(ctx)
		defer cancel()
		friends, err := m.store.ListFriends(sctx, userID)
		if err != nil {
			return nil, errs.WrapMsg(err, "load friends", "user", userID)
		}
		reqs, err := m.store.ListRequests(sctx, userID)
		if err != nil {
			return nil, errs.WrapMsg(err, "load requests", "user", userID)
		}
		v := &userView{
			friends:  make(map[string]struct{}, len(friends)),
			requests: make(map[string]model.FriendRequest, len(reqs)),
		}
		for _, f := range friends {
			v.friends[f] = struct{}{}
		}
		for _, r := range reqs {
			v.requests[r.RequestID] = r
		}
		m.mu.Lock()
		if cur := m.views[userID]; cur != nil {
			v = cur
		} else {
			m.views[userID] = v
		}
		m.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*userView), nil
}

func (m *Manager) loadPair(ctx context.Context, a, b string) (*userView, *userView, error) {
	va, err := m.view(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	vb, err := m.view(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	return va, vb, nil
}

// syncPair folds the store's current friendship and requests between a and b
// into both cached views. Another node may have changed the pair since the
// views were loaded. Callers hold the pair lock.
func (m *Manager) syncPair(ctx context.Context, a, b string) error {
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	friends, err := m.store.ListFriends(sctx, a)
	if err != nil {
		return errs.WrapMsg(err, "sync pair: friends", "a", a, "b", b)
	}
	reqs, err := m.store.ListRequests(sctx, a)
	if err != nil {
		return errs.WrapMsg(err, "sync pair: requests", "a", a, "b", b)
	}
	friend := false
	for _, f := range friends {
		if f == b {
			friend = true
			break
		}
	}
	var pair []model.FriendRequest
	for _, r := range reqs {
		if r.Between(a, b) {
			pair = append(pair, r)
		}
	}
	m.cacheEdge(a, b, friend)
	m.cacheRequests(pair...)
	return nil
}

func (m *Manager) cacheRequests(reqs ...model.FriendRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range reqs {
		for _, u := range []string{r.FromUserID, r.ToUserID} {
			if v := m.views[u]; v != nil {
				v.requests[r.RequestID] = r
			}
		}
	}
}

func (m *Manager) cacheEdge(a, b string, add bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range [][2]string{{a, b}, {b, a}} {
		v := m.views[p[0]]
		if v == nil {
			continue
		}
		if add {
			v.friends[p[1]] = struct{}{}
		} else {
			delete(v.friends, p[1])
		}
	}
}

func (m *Manager) isFriend(v *userView, other string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := v.friends[other]
	return ok
}

// pendingBetween returns the pending requests between a and b, oldest first.
func (m *Manager) pendingBetween(v *userView, a, b string) []model.FriendRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.FriendRequest
	for _, r := range v.requests {
		if r.Pending() && r.Between(a, b) {
			out = append(out, r)
		}
	}
	storage.SortRequests(out)
	return out
}

// lastRejected returns the newest rejected request from -> to.
func (m *Manager) lastRejected(v *userView, from, to string) (model.FriendRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		out   model.FriendRequest
		found bool
	)
	for _, r := range v.requests {
		if r.HandleResult == model.RequestRejected && r.FromUserID == from && r.ToUserID == to {
			if !found || r.HandleTime.After(out.HandleTime) {
				out, found = r, true
			}
		}
	}
	return out, found
}

// ===== 好友申请 =====

func (m *Manager) SendFriendRequest(ctx context.Context, from, to, message string) (model.FriendRequest, error) {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return model.FriendRequest{}, errs.ErrArgs.WrapMsg("friend request: empty user id")
	}
	if from == to {
		return model.FriendRequest{}, errs.ErrSelfRequest.WrapMsg("friend request", "user", from)
	}
	if utf8.RuneCountInString(message) > maxRequestMsg {
		return model.FriendRequest{}, errs.ErrArgs.WrapMsg("request message too long", "max", maxRequestMsg)
	}

	sctx, cancel := m.storeCtx(ctx)
	ok, err := m.store.UserExists(sctx, to)
	cancel()
	if err != nil {
		return model.FriendRequest{}, errs.WrapMsg(err, "lookup recipient", "user", to)
	}
	if !ok {
		return model.FriendRequest{}, errs.ErrUserNotFound.WrapMsg("friend request", "user", to)
	}

	unlock := m.lockPair(from, to)
	defer unlock()

	vFrom, _, err := m.loadPair(ctx, from, to)
	if err != nil {
		return model.FriendRequest{}, err
	}
	if err := m.syncPair(ctx, from, to); err != nil {
		return model.FriendRequest{}, err
	}
	if m.isFriend(vFrom, to) {
		return model.FriendRequest{}, errs.ErrAlreadyFriends.WrapMsg("friend request", "from", from, "to", to)
	}
	if p := m.pendingBetween(vFrom, from, to); len(p) > 0 {
		return model.FriendRequest{}, errs.ErrDuplicatePending.WrapMsg("friend request", "pending", p[0].RequestID)
	}
	now := m.conf.Clock()
	if m.conf.RejectCooldown > 0 {
		if last, ok := m.lastRejected(vFrom, from, to); ok && now.Sub(last.HandleTime) < m.conf.RejectCooldown {
			return model.FriendRequest{}, errs.ErrRequestCooldown.WrapMsg("friend request",
				"retryAfter", last.HandleTime.Add(m.conf.RejectCooldown).Sub(now).Round(time.Second))
		}
	}

	req := model.FriendRequest{
		RequestID:    m.conf.NewID(),
		FromUserID:   from,
		ToUserID:     to,
		HandleResult: model.RequestPending,
		ReqMsg:       message,
		CreateTime:   now,
	}
	sctx, cancel = m.storeCtx(ctx)
	err = m.store.CreateRequest(sctx, req)
	cancel()
	if errs.ErrDuplicatePending.Is(err) {
		// created elsewhere after our sync
		if serr := m.syncPair(ctx, from, to); serr != nil {
			logger.Warn("relation: resync after duplicate", zap.String("from", from), zap.String("to", to), zap.Error(serr))
		}
		return model.FriendRequest{}, err
	}
	if err != nil {
		return model.FriendRequest{}, errs.WrapMsg(err, "create friend request", "from", from, "to", to)
	}
	m.cacheRequests(req)

	m.emit.Emit(event.NewFriendRequestEvent(event.FriendRequestReceived, req), to)
	m.emit.Emit(event.NewFriendRequestEvent(event.FriendRequestSent, req), from)
	logger.Debug("relation: request sent", zap.String("request", req.RequestID),
		zap.String("from", from), zap.String("to", to))
	return req, nil
}

// RespondToRequest accepts or rejects a pending request. Only its recipient
// may respond.
func (m *Manager) RespondToRequest(ctx context.Context, requestID, userID string, accept bool) (model.FriendRequest, error) {
	if strings.TrimSpace(requestID) == "" {
		return model.FriendRequest{}, errs.ErrArgs.WrapMsg("respond: empty request id")
	}
	sctx, cancel := m.storeCtx(ctx)
	req, err := m.store.GetRequest(sctx, requestID)
	cancel()
	if err != nil {
		return model.FriendRequest{}, err
	}
	if req.ToUserID != userID {
		return model.FriendRequest{}, errs.ErrNotRecipient.WrapMsg("respond", "request", requestID, "user", userID)
	}

	unlock := m.lockPair(req.FromUserID, req.ToUserID)
	defer unlock()

	vFrom, _, err := m.loadPair(ctx, req.FromUserID, req.ToUserID)
	if err != nil {
		return model.FriendRequest{}, err
	}
	if err := m.syncPair(ctx, req.FromUserID, req.ToUserID); err != nil {
		return model.FriendRequest{}, err
	}
	m.mu.RLock()
	if cur, ok := vFrom.requests[requestID]; ok {
		req = cur
	}
	m.mu.RUnlock()
	if !req.Pending() {
		return model.FriendRequest{}, errs.ErrRequestNotPending.WrapMsg("respond",
			"request", requestID, "status", req.HandleResult)
	}

	now := m.conf.Clock()
	if !accept {
		rejected := req.Resolve(model.RequestRejected, now)
		sctx, cancel := m.storeCtx(ctx)
		err := m.store.SaveRequest(sctx, rejected)
		cancel()
		if err != nil {
			return model.FriendRequest{}, errs.WrapMsg(err, "reject friend request", "request", requestID)
		}
		m.cacheRequests(rejected)
		m.emit.Emit(event.NewFriendRequestEvent(event.FriendRequestUpdated, rejected), rejected.FromUserID, rejected.ToUserID)
		return rejected, nil
	}

	accepted := req.Resolve(model.RequestAccepted, now)
	edge := model.NewFriendEdge(req.FromUserID, req.ToUserID, now)
	var others []model.FriendRequest
	for _, p := range m.pendingBetween(vFrom, req.FromUserID, req.ToUserID) {
		if p.RequestID != requestID {
			others = append(others, p.Resolve(model.RequestRejected, now))
		}
	}
	sctx, cancel = m.storeCtx(ctx)
	err = m.store.CommitAcceptance(sctx, accepted, edge, others)
	cancel()
	if err != nil {
		return model.FriendRequest{}, errs.WrapMsg(err, "accept friend request", "request", requestID)
	}
	m.cacheRequests(append([]model.FriendRequest{accepted}, others...)...)
	m.cacheEdge(edge.UserA, edge.UserB, true)

	for _, r := range append([]model.FriendRequest{accepted}, others...) {
		m.emit.Emit(event.NewFriendRequestEvent(event.FriendRequestUpdated, r), r.FromUserID, r.ToUserID)
	}
	m.emit.Emit(event.NewFriendEvent(event.FriendAdded, accepted.ToUserID), accepted.FromUserID)
	m.emit.Emit(event.NewFriendEvent(event.FriendAdded, accepted.FromUserID), accepted.ToUserID)
	logger.Info("relation: friendship created", zap.String("a", edge.UserA), zap.String("b", edge.UserB),
		zap.Int("crossedRequests", len(others)))
	return accepted, nil
}

// RemoveFriend deletes the friendship in both directions. Requests are kept.
func (m *Manager) RemoveFriend(ctx context.Context, userID, other string) error {
	if userID == other {
		return errs.ErrNotFriends.WrapMsg("remove friend", "user", userID)
	}
	unlock := m.lockPair(userID, other)
	defer unlock()

	vUser, _, err := m.loadPair(ctx, userID, other)
	if err != nil {
		return err
	}
	if err := m.syncPair(ctx, userID, other); err != nil {
		return err
	}
	if !m.isFriend(vUser, other) {
		return errs.ErrNotFriends.WrapMsg("remove friend", "user", userID, "other", other)
	}
	sctx, cancel := m.storeCtx(ctx)
	err = m.store.RemoveEdge(sctx, userID, other)
	cancel()
	if err != nil {
		return errs.WrapMsg(err, "remove friend", "user", userID, "other", other)
	}
	m.cacheEdge(userID, other, false)

	m.emit.Emit(event.NewFriendEvent(event.FriendRemoved, userID), other)
	m.emit.Emit(event.NewFriendEvent(event.FriendRemoved, other), userID)
	return nil
}

// ===== 查询 =====

// ListFriends returns userID's friends that still resolve to a user.
func (m *Manager) ListFriends(ctx context.Context, userID string) ([]string, error) {
	v, err := m.view(ctx, userID)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	ids := setToSorted(v.friends)
	m.mu.RUnlock()
	return m.filterExisting(ctx, ids)
}

// ListPending returns userID's pending requests in direction, oldest first.
// Requests whose counterpart no longer resolves are left out.
func (m *Manager) ListPending(ctx context.Context, userID string, dir model.Direction) ([]model.FriendRequest, error) {
	if !dir.Valid() {
		return nil, errs.ErrArgs.WrapMsg("list pending: bad direction", "direction", dir)
	}
	v, err := m.view(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []model.FriendRequest
	m.mu.RLock()
	for _, r := range v.requests {
		if !r.Pending() {
			continue
		}
		if (dir == model.Incoming && r.ToUserID == userID) || (dir == model.Outgoing && r.FromUserID == userID) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()

	counterparts := make([]string, 0, len(out))
	for _, r := range out {
		counterparts = append(counterparts, r.Counterpart(userID))
	}
	exists, err := m.existing(ctx, counterparts)
	if err != nil {
		return nil, err
	}
	kept := make([]model.FriendRequest, 0, len(out))
	for _, r := range out {
		if exists[r.Counterpart(userID)] {
			kept = append(kept, r)
		}
	}
	storage.SortRequests(kept)
	return kept, nil
}

// CachedFriends returns the cached friend set of userID without touching the
// store. Unknown users have none.
func (m *Manager) CachedFriends(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v := m.views[userID]
	if v == nil {
		return nil
	}
	return setToSorted(v.friends)
}

// Evict drops userID's cached view. The next access reloads it from the
// store.
func (m *Manager) Evict(userID string) {
	m.mu.Lock()
	delete(m.views, userID)
	m.mu.Unlock()
}

// Warm loads userID's state into the cache.
func (m *Manager) Warm(ctx context.Context, userID string) error {
	_, err := m.view(ctx, userID)
	return err
}

// ForgetUser removes every friendship of userID and rejects its pending
// requests. Former friends are told the friendship is gone.
func (m *Manager) ForgetUser(ctx context.Context, userID string) error {
	v, err := m.view(ctx, userID)
	if err != nil {
		return err
	}
	m.mu.RLock()
	friends := setToSorted(v.friends)
	var pending []model.FriendRequest
	for _, r := range v.requests {
		if r.Pending() {
			pending = append(pending, r)
		}
	}
	m.mu.RUnlock()
	storage.SortRequests(pending)

	for _, f := range friends {
		if err := m.forgetEdge(ctx, userID, f); err != nil {
			return err
		}
	}
	for _, r := range pending {
		if err := m.forgetRequest(ctx, userID, r); err != nil {
			return err
		}
	}

	m.mu.Lock()
	delete(m.views, userID)
	m.mu.Unlock()
	logger.Info("relation: user forgotten", zap.String("user", userID),
		zap.Int("friends", len(friends)), zap.Int("pending", len(pending)))
	return nil
}

func (m *Manager) forgetEdge(ctx context.Context, userID, friend string) error {
	unlock := m.lockPair(userID, friend)
	defer unlock()
	if _, err := m.view(ctx, friend); err != nil {
		return err
	}
	sctx, cancel := m.storeCtx(ctx)
	err := m.store.RemoveEdge(sctx, userID, friend)
	cancel()
	if err != nil {
		return errs.WrapMsg(err, "forget user: remove edge", "user", userID, "friend", friend)
	}
	m.cacheEdge(userID, friend, false)
	m.emit.Emit(event.NewFriendEvent(event.FriendRemoved, userID), friend)
	return nil
}

func (m *Manager) forgetRequest(ctx context.Context, userID string, r model.FriendRequest) error {
	other := r.Counterpart(userID)
	unlock := m.lockPair(userID, other)
	defer unlock()
	if _, err := m.view(ctx, other); err != nil {
		return err
	}
	rejected := r.Resolve(model.RequestRejected, m.conf.Clock())
	sctx, cancel := m.storeCtx(ctx)
	err := m.store.SaveRequest(sctx, rejected)
	cancel()
	if err != nil {
		return errs.WrapMsg(err, "forget user: reject request", "request", r.RequestID)
	}
	m.cacheRequests(rejected)
	m.emit.Emit(event.NewFriendRequestEvent(event.FriendRequestUpdated, rejected), other)
	return nil
}

func (m *Manager) existing(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	exists, err := m.store.ExistingUsers(sctx, ids)
	if err != nil {
		return nil, errs.WrapMsg(err, "resolve users", "count", len(ids))
	}
	return exists, nil
}

func (m *Manager) filterExisting(ctx context.Context, ids []string) ([]string, error) {
	exists, err := m.existing(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if exists[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
