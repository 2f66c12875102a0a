package dispatch

import (
	"encoding/json"
	"sync"

	"LobbyHub/logger"
	"LobbyHub/service/event"
	"LobbyHub/tools/errs"

	"go.uber.org/zap"
)

const DefaultSendQueue = 256

// Session is the hub side of one live connection. Frames queued on Send are
// already JSON encoded. The queue is never closed; writers watch Done.
type Session struct {
	ConnID string
	UserID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func newSession(connID, userID string, queue int) *Session {
	return &Session{
		ConnID: connID,
		UserID: userID,
		send:   make(chan []byte, queue),
		done:   make(chan struct{}),
	}
}

func (s *Session) Send() <-chan []byte   { return s.send }
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session was closed, or nil while it is alive or when
// it ended normally.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close kills the session. Only the first call has an effect.
func (s *Session) Close(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// offer enqueues b without blocking. full reports a backlog overflow.
func (s *Session) offer(b []byte) (ok, full bool) {
	if s.closed() {
		return false, false
	}
	select {
	case s.send <- b:
		return true, false
	default:
		return false, true
	}
}

// Hub indexes live sessions by connection and by user and fans events out
// to them. Its lock is a leaf: nothing else is acquired while it is held.
type Hub struct {
	mu     sync.RWMutex
	byConn map[string]*Session
	byUser map[string]map[string]*Session
	queue  int
}

func NewHub(queue int) *Hub {
	if queue <= 0 {
		queue = DefaultSendQueue
	}
	return &Hub{
		byConn: make(map[string]*Session),
		byUser: make(map[string]map[string]*Session),
		queue:  queue,
	}
}

func (h *Hub) Attach(connID, userID string) *Session {
	s := newSession(connID, userID, h.queue)
	h.mu.Lock()
	defer h.mu.Unlock()
	if old := h.byConn[connID]; old != nil {
		old.Close(nil)
	}
	h.byConn[connID] = s
	set := h.byUser[userID]
	if set == nil {
		set = make(map[string]*Session)
		h.byUser[userID] = set
	}
	set[connID] = s
	return s
}

// Detach removes the session of connID and returns it, or nil when unknown.
func (h *Hub) Detach(connID string) *Session {
	h.mu.Lock()
	s := h.byConn[connID]
	if s != nil {
		delete(h.byConn, connID)
		if set := h.byUser[s.UserID]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(h.byUser, s.UserID)
			}
		}
	}
	h.mu.Unlock()
	if s != nil {
		s.Close(nil)
	}
	return s
}

func (h *Hub) Session(connID string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.byConn[connID]
	return s, ok
}

// Kill closes the session of connID with err and leaves it attached until
// the transport detaches it.
func (h *Hub) Kill(connID string, err error) {
	if s, ok := h.Session(connID); ok {
		s.Close(err)
	}
}

// KillUser closes every session of userID.
func (h *Hub) KillUser(userID string, err error) int {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.byUser[userID]))
	for _, s := range h.byUser[userID] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()
	for _, s := range sessions {
		s.Close(err)
	}
	return len(sessions)
}

// Emit delivers ev to every session of userIDs without blocking. A session
// whose backlog is full is closed with SlowConsumer.
func (h *Hub) Emit(ev event.Event, userIDs ...string) event.Result {
	var res event.Result
	if len(userIDs) == 0 {
		return res
	}
	b, err := json.Marshal(ev)
	if err != nil {
		logger.Error("hub: encode event", zap.String("type", string(ev.Type)), zap.Error(err))
		return res
	}

	var targets []*Session
	seen := make(map[string]struct{}, len(userIDs))
	h.mu.RLock()
	for _, u := range userIDs {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		for _, s := range h.byUser[u] {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		res.Add(h.deliver(s, b))
	}
	return res
}

// SendTo delivers ev to one session.
func (h *Hub) SendTo(s *Session, ev event.Event) event.Result {
	b, err := json.Marshal(ev)
	if err != nil {
		logger.Error("hub: encode event", zap.String("type", string(ev.Type)), zap.Error(err))
		return event.Result{}
	}
	return h.deliver(s, b)
}

func (h *Hub) deliver(s *Session, b []byte) event.Result {
	ok, full := s.offer(b)
	switch {
	case ok:
		return event.Result{Sent: 1}
	case full:
		logger.Warn("hub: slow consumer, closing session",
			zap.String("conn", s.ConnID), zap.String("user", s.UserID), zap.Int("queue", cap(s.send)))
		s.Close(errs.ErrSlowConsumer.WrapMsg("send queue full", "conn", s.ConnID))
		return event.Result{Dropped: 1}
	}
	return event.Result{}
}
