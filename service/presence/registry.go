// Package presence tracks the live connections of every user and derives
// their presence state from them.
package presence

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"LobbyHub/logger"
	"LobbyHub/module/chat/model"
	"LobbyHub/tools/errs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ===== 配置 =====

type Conf struct {
	MaxPerUser int              // 每用户最大连接数（<=0 不限制），超限淘汰最老连接
	Clock      func() time.Time // 可注入时钟（单测用）；nil => time.Now
	NewID      func() string    // 连接ID生成；nil => uuid
	Mirror     Mirror           // 在线状态镜像（可选）
}

func (c *Conf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
}

// ===== 数据结构 =====

type Connection struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userID"`
	CreatedAt time.Time `json:"createdAt"`
}

// Listener observes presence transitions. Callbacks run while the user's
// lock is held, so they are ordered per user and must not call back into
// the registry for the same user.
type Listener interface {
	PresenceChanged(userID string, status model.Status)
	ConnectionEvicted(conn Connection)
}

// Mirror receives every presence transition. Publish must not block.
type Mirror interface {
	Publish(userID string, status model.Status)
}

type userEntry struct {
	mu      sync.Mutex
	conns   map[string]Connection
	count   atomic.Int32
	status  atomic.Value // model.Status
	removed bool
}

func (e *userEntry) loadStatus() model.Status {
	if s, ok := e.status.Load().(model.Status); ok && e.count.Load() > 0 {
		return s
	}
	return model.StatusOffline
}

func (e *userEntry) oldest() Connection {
	var out Connection
	for _, c := range e.conns {
		if out.ID == "" || c.CreatedAt.Before(out.CreatedAt) ||
			(c.CreatedAt.Equal(out.CreatedAt) && c.ID < out.ID) {
			out = c
		}
	}
	return out
}

// Registry owns Connection records. Each user has a private mutex; the
// registry mutex only guards the user table and the connection index.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]*userEntry
	byConn map[string]string // connID -> userID

	conf Conf
	lis  Listener
}

func NewRegistry(conf Conf) *Registry {
	conf.norm()
	return &Registry{
		users:  make(map[string]*userEntry),
		byConn: make(map[string]string),
		conf:   conf,
	}
}

// SetListener installs the transition listener. Call before serving traffic.
func (r *Registry) SetListener(l Listener) { r.lis = l }

// lockUser returns the user's entry with its mutex held, or nil when the
// user is unknown and create is false.
func (r *Registry) lockUser(userID string, create bool) *userEntry {
	for {
		r.mu.RLock()
		e := r.users[userID]
		r.mu.RUnlock()
		if e == nil {
			if !create {
				return nil
			}
			r.mu.Lock()
			if e = r.users[userID]; e == nil {
				e = &userEntry{conns: make(map[string]Connection)}
				r.users[userID] = e
			}
			r.mu.Unlock()
		}
		e.mu.Lock()
		if !e.removed {
			return e
		}
		// entry was retired between lookup and lock
		e.mu.Unlock()
	}
}

// Register adds a live connection for userID. The first connection moves
// the user to online.
func (r *Registry) Register(userID string) (Connection, error) {
	return r.Admit(userID, nil)
}

// Admit is Register with a hook. The hook runs under the user's lock once
// the connection ID is known, before the user is announced online.
func (r *Registry) Admit(userID string, hook func(Connection)) (Connection, error) {
	if strings.TrimSpace(userID) == "" {
		return Connection{}, errs.ErrArgs.WrapMsg("register: empty user id")
	}
	e := r.lockUser(userID, true)
	defer e.mu.Unlock()

	conn := Connection{ID: r.conf.NewID(), UserID: userID, CreatedAt: r.conf.Clock()}
	if hook != nil {
		hook(conn)
	}

	var evicted []Connection
	if r.conf.MaxPerUser > 0 {
		for len(e.conns) >= r.conf.MaxPerUser {
			old := e.oldest()
			delete(e.conns, old.ID)
			evicted = append(evicted, old)
		}
	}
	first := len(e.conns) == 0
	e.conns[conn.ID] = conn
	e.count.Store(int32(len(e.conns)))

	r.mu.Lock()
	r.byConn[conn.ID] = userID
	for _, old := range evicted {
		delete(r.byConn, old.ID)
	}
	r.mu.Unlock()

	if first {
		r.transition(e, userID, model.StatusOnline)
	}
	for _, old := range evicted {
		logger.Info("presence: evicted oldest connection",
			zap.String("user", userID), zap.String("conn", old.ID))
		if r.lis != nil {
			r.lis.ConnectionEvicted(old)
		}
	}
	logger.Debug("presence: registered",
		zap.String("user", userID), zap.String("conn", conn.ID), zap.Int("conns", len(e.conns)))
	return conn, nil
}

// Unregister drops a connection. Unknown or already removed IDs are no-ops
// and return false. Dropping the last connection moves the user to offline.
func (r *Registry) Unregister(connID string) bool {
	r.mu.RLock()
	userID, ok := r.byConn[connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	e := r.lockUser(userID, false)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()

	if _, ok := e.conns[connID]; !ok {
		return false
	}
	delete(e.conns, connID)
	e.count.Store(int32(len(e.conns)))

	r.mu.Lock()
	delete(r.byConn, connID)
	r.mu.Unlock()

	if len(e.conns) > 0 {
		return true
	}

	r.transition(e, userID, model.StatusOffline)

	r.mu.Lock()
	if r.users[userID] == e {
		delete(r.users, userID)
	}
	r.mu.Unlock()
	e.removed = true

	logger.Debug("presence: user went offline", zap.String("user", userID))
	return true
}

// SetStatus changes an explicitly chosen status. It fails with NotConnected
// when the user has no live connection.
func (r *Registry) SetStatus(userID string, status model.Status) error {
	if !status.Settable() {
		return errs.ErrArgs.WrapMsg("status cannot be set", "status", status)
	}
	e := r.lockUser(userID, false)
	if e == nil {
		return errs.ErrNotConnected.WrapMsg("set status", "user", userID)
	}
	defer e.mu.Unlock()

	if len(e.conns) == 0 {
		return errs.ErrNotConnected.WrapMsg("set status", "user", userID)
	}
	if e.loadStatus() == status {
		return nil
	}
	r.transition(e, userID, status)
	return nil
}

// WithOnline runs fn while holding userID's lock, provided the user has a
// live connection. Teardown of the user's last connection cannot interleave
// with fn.
func (r *Registry) WithOnline(userID string, fn func() error) error {
	e := r.lockUser(userID, false)
	if e == nil {
		return errs.ErrNotConnected.WrapMsg("user is offline", "user", userID)
	}
	defer e.mu.Unlock()
	if len(e.conns) == 0 {
		return errs.ErrNotConnected.WrapMsg("user is offline", "user", userID)
	}
	return fn()
}

// transition must be called with e.mu held.
func (r *Registry) transition(e *userEntry, userID string, status model.Status) {
	e.status.Store(status)
	if r.conf.Mirror != nil {
		r.conf.Mirror.Publish(userID, status)
	}
	if r.lis != nil {
		r.lis.PresenceChanged(userID, status)
	}
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	e := r.users[userID]
	r.mu.RUnlock()
	return e != nil && e.count.Load() > 0
}

func (r *Registry) Status(userID string) model.Status {
	r.mu.RLock()
	e := r.users[userID]
	r.mu.RUnlock()
	if e == nil {
		return model.StatusOffline
	}
	return e.loadStatus()
}

// ConnectionCount returns the number of live connections of userID.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	e := r.users[userID]
	r.mu.RUnlock()
	if e == nil {
		return 0
	}
	return int(e.count.Load())
}

// Connections lists the user's connections, oldest first. Must not be
// called from a Listener callback for the same user.
func (r *Registry) Connections(userID string) []Connection {
	e := r.lockUser(userID, false)
	if e == nil {
		return nil
	}
	defer e.mu.Unlock()
	out := make([]Connection, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SnapshotOnlineUsers returns every user with at least one connection.
func (r *Registry) SnapshotOnlineUsers() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.users))
	for id, e := range r.users {
		if e.count.Load() > 0 {
			out = append(out, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
