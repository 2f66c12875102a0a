// Package direct routes private messages and typing markers between two
// users, independent of room membership.
package direct

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"LobbyHub/logger"
	"LobbyHub/module/chat/model"
	"LobbyHub/service/event"
	"LobbyHub/service/typing"
	"LobbyHub/tools/errs"
	"LobbyHub/tools/ids"
	"LobbyHub/tools/safe"

	"go.uber.org/zap"
)

// Archiver receives accepted direct messages. Archive must not block.
type Archiver interface {
	Archive(msg model.MessageRecord)
}

type Conf struct {
	TypingWindow time.Duration
	SweepEvery   time.Duration
	IdleAfter    time.Duration // 会话对空闲多久后回收
	MaxTextLen   int
	Clock        func() time.Time
	NewID        func() string
	Archiver     Archiver
}

func (c *Conf) norm() {
	c.TypingWindow = safe.DefaultDuration(c.TypingWindow, typing.DefaultWindow)
	c.SweepEvery = safe.DefaultDuration(c.SweepEvery, time.Second)
	c.IdleAfter = safe.DefaultDuration(c.IdleAfter, time.Minute)
	c.MaxTextLen = safe.DefaultInt(c.MaxTextLen, 2000)
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.NewID == nil {
		c.NewID = ids.GenerateString
	}
}

// Delivery describes how a direct message was delivered.
type Delivery struct {
	RecipientOffline bool `json:"recipientOffline"`
	Sent             int  `json:"sent"`
}

// pairState serializes traffic between one unordered pair of users.
type pairState struct {
	mu       sync.Mutex
	key      string
	a, b     string
	typing   *typing.Set // keyed by sender
	lastUsed time.Time
	dead     bool
}

func (p *pairState) peer(userID string) string {
	switch userID {
	case p.a:
		return p.b
	case p.b:
		return p.a
	}
	return ""
}

type Router struct {
	mu    sync.Mutex
	pairs map[string]*pairState

	emit event.Emitter
	conf Conf
}

func NewRouter(emit event.Emitter, conf Conf) *Router {
	safe.MustNotNil(emit, "emitter")
	conf.norm()
	return &Router{
		pairs: make(map[string]*pairState),
		emit:  emit,
		conf:  conf,
	}
}

func (r *Router) lockPair(a, b string) *pairState {
	key := model.PairKey(a, b)
	for {
		r.mu.Lock()
		p := r.pairs[key]
		if p == nil {
			lo, hi := a, b
			if hi < lo {
				lo, hi = hi, lo
			}
			p = &pairState{key: key, a: lo, b: hi, typing: typing.NewSet(r.conf.TypingWindow)}
			r.pairs[key] = p
		}
		r.mu.Unlock()

		p.mu.Lock()
		if !p.dead {
			return p
		}
		p.mu.Unlock()
	}
}

func validPair(from, to string) error {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return errs.ErrArgs.WrapMsg("direct: empty user id")
	}
	if from == to {
		return errs.ErrArgs.WrapMsg("direct: cannot message yourself", "user", from)
	}
	return nil
}

// SendDirect forwards text to every connection of to and echoes it to every
// connection of from. An unreachable recipient is reported in Delivery, not
// as an error.
func (r *Router) SendDirect(from, to, text string) (model.MessageRecord, Delivery, error) {
	if err := validPair(from, to); err != nil {
		return model.MessageRecord{}, Delivery{}, err
	}
	if strings.TrimSpace(text) == "" {
		return model.MessageRecord{}, Delivery{}, errs.ErrArgs.WrapMsg("message text is empty")
	}
	if n := utf8.RuneCountInString(text); n > r.conf.MaxTextLen {
		return model.MessageRecord{}, Delivery{}, errs.ErrArgs.WrapMsg("message text too long", "len", n, "max", r.conf.MaxTextLen)
	}

	p := r.lockPair(from, to)
	now := r.conf.Clock()
	msg := model.MessageRecord{
		ID:          r.conf.NewID(),
		SenderID:    from,
		RecipientID: to,
		Text:        text,
		SentAt:      now,
	}
	p.lastUsed = now
	if p.typing.Clear(from) {
		r.emit.Emit(event.NewPrivateTyping(from, false), to)
	}
	res := r.emit.Emit(event.NewPrivateMsg(msg), to)
	d := Delivery{RecipientOffline: res.Sent == 0, Sent: res.Sent}
	r.emit.Emit(event.NewPrivateMessageSent(msg, d.RecipientOffline), from)
	p.mu.Unlock()

	if d.RecipientOffline {
		logger.Debug("direct: recipient offline", zap.String("from", from), zap.String("to", to))
	}
	if r.conf.Archiver != nil {
		r.conf.Archiver.Archive(msg)
	}
	return msg, d, nil
}

// SetTypingDirect marks or clears from's typing marker towards to. Only the
// peer is notified.
func (r *Router) SetTypingDirect(from, to string, isTyping bool) error {
	if err := validPair(from, to); err != nil {
		return err
	}
	p := r.lockPair(from, to)
	defer p.mu.Unlock()

	now := r.conf.Clock()
	p.lastUsed = now
	changed := false
	if isTyping {
		changed = p.typing.Mark(from, now)
	} else {
		changed = p.typing.Clear(from)
	}
	if changed {
		r.emit.Emit(event.NewPrivateTyping(from, isTyping), to)
	}
	return nil
}

// ClearUser drops every typing marker userID holds and tells each peer.
func (r *Router) ClearUser(userID string) {
	for _, p := range r.snapshot() {
		peer := p.peer(userID)
		if peer == "" {
			continue
		}
		p.mu.Lock()
		if !p.dead && p.typing.Clear(userID) {
			r.emit.Emit(event.NewPrivateTyping(userID, false), peer)
		}
		p.mu.Unlock()
	}
}

// Sweep expires typing markers and retires pairs idle for longer than
// IdleAfter.
func (r *Router) Sweep(now time.Time) {
	for _, p := range r.snapshot() {
		p.mu.Lock()
		if p.dead {
			p.mu.Unlock()
			continue
		}
		for _, sender := range p.typing.Expire(now) {
			r.emit.Emit(event.NewPrivateTyping(sender, false), p.peer(sender))
		}
		if p.typing.Len() == 0 && now.Sub(p.lastUsed) >= r.conf.IdleAfter {
			p.dead = true
			r.mu.Lock()
			if r.pairs[p.key] == p {
				delete(r.pairs, p.key)
			}
			r.mu.Unlock()
		}
		p.mu.Unlock()
	}
}

func (r *Router) Run(ctx context.Context) {
	safe.Loop(ctx, "direct-typing-sweep", r.conf.SweepEvery, func(time.Time) {
		r.Sweep(r.conf.Clock())
	})
}

// PairCount returns the number of live pair states.
func (r *Router) PairCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

func (r *Router) snapshot() []*pairState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*pairState, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, p)
	}
	return out
}
