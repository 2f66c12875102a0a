// Package audit scans relationship and room data for dangling or
// inconsistent references. It only reports; it never repairs.
package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"LobbyHub/logger"
	"LobbyHub/module/chat/model"
	"LobbyHub/tools/errs"
	"LobbyHub/tools/safe"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Kind string

const (
	BrokenFriendship     Kind = "BrokenFriendship"
	AsymmetricFriendship Kind = "AsymmetricFriendship"
	BrokenRequest        Kind = "BrokenRequest"
	DuplicatePending     Kind = "DuplicatePending"
	MismatchedPending    Kind = "MismatchedPending"
	StaleRoomMember      Kind = "StaleRoomMember"
	BrokenRoomMember     Kind = "BrokenRoomMember"
)

// Finding is one advisory entry of a Report.
type Finding struct {
	Kind      Kind   `json:"kind"`
	UserID    string `json:"userID"`
	RefID     string `json:"refID,omitempty"`
	RequestID string `json:"requestID,omitempty"`
	RoomID    string `json:"roomID,omitempty"`
}

func (f Finding) key() string {
	return strings.Join([]string{string(f.Kind), f.UserID, f.RefID, f.RequestID, f.RoomID}, "\x00")
}

type Report struct {
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	UsersScanned int       `json:"usersScanned"`
	RoomsScanned int       `json:"roomsScanned"`
	Findings     []Finding `json:"findings"`
}

// Count returns the number of findings of kind k.
func (r Report) Count(k Kind) int {
	n := 0
	for _, f := range r.Findings {
		if f.Kind == k {
			n++
		}
	}
	return n
}

// Source is the read-only view of the durable store the auditor scans.
type Source interface {
	ListUserIDs(ctx context.Context) ([]string, error)
	UserExists(ctx context.Context, userID string) (bool, error)
	ExistingUsers(ctx context.Context, ids []string) (map[string]bool, error)
	ListFriends(ctx context.Context, userID string) ([]string, error)
	ListRequests(ctx context.Context, userID string) ([]model.FriendRequest, error)
}

// Rooms exposes live room rosters.
type Rooms interface {
	Rosters() map[string][]string
}

type Presence interface {
	IsOnline(userID string) bool
}

type Conf struct {
	Every       time.Duration // 定时审计周期；0 = 关闭
	Concurrency int
	Clock       func() time.Time
}

func (c *Conf) norm() {
	c.Concurrency = safe.DefaultInt(c.Concurrency, 8)
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type Auditor struct {
	src      Source
	rooms    Rooms
	presence Presence
	conf     Conf
}

// NewAuditor builds an auditor. rooms and presence may be nil, which skips
// the roster checks.
func NewAuditor(src Source, rooms Rooms, presence Presence, conf Conf) *Auditor {
	safe.MustNotNil(src, "source")
	conf.norm()
	return &Auditor{src: src, rooms: rooms, presence: presence, conf: conf}
}

type collector struct {
	mu   sync.Mutex
	seen map[string]struct{}
	out  []Finding
}

func (c *collector) add(fs ...Finding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	for _, f := range fs {
		k := f.key()
		if _, dup := c.seen[k]; dup {
			continue
		}
		c.seen[k] = struct{}{}
		c.out = append(c.out, f)
	}
}

func (c *collector) sorted() []Finding {
	out := append([]Finding{}, c.out...)
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

// AuditUser checks a single user plus the rooms it is a member of.
func (a *Auditor) AuditUser(ctx context.Context, userID string) (Report, error) {
	rep := Report{StartedAt: a.conf.Clock()}
	ok, err := a.src.UserExists(ctx, userID)
	if err != nil {
		return rep, errs.WrapMsg(err, "audit user", "user", userID)
	}
	if !ok {
		return rep, errs.ErrUserNotFound.WrapMsg("audit user", "user", userID)
	}

	var c collector
	if err := a.checkUser(ctx, userID, &c); err != nil {
		return rep, err
	}
	rep.UsersScanned = 1
	rooms, err := a.checkRooms(ctx, &c, func(members []string) bool {
		for _, m := range members {
			if m == userID {
				return true
			}
		}
		return false
	})
	if err != nil {
		return rep, err
	}
	rep.RoomsScanned = rooms
	rep.Findings = c.sorted()
	rep.FinishedAt = a.conf.Clock()
	return rep, nil
}

// AuditAll scans every user with bounded concurrency, then every live room.
func (a *Auditor) AuditAll(ctx context.Context) (Report, error) {
	rep := Report{StartedAt: a.conf.Clock()}
	ids, err := a.src.ListUserIDs(ctx)
	if err != nil {
		return rep, errs.WrapMsg(err, "audit: list users")
	}

	var c collector
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.conf.Concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error { return a.checkUser(gctx, id, &c) })
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}
	rep.UsersScanned = len(ids)

	rooms, err := a.checkRooms(ctx, &c, nil)
	if err != nil {
		return rep, err
	}
	rep.RoomsScanned = rooms
	rep.Findings = c.sorted()
	rep.FinishedAt = a.conf.Clock()

	logger.Info("audit: finished",
		zap.Int("users", rep.UsersScanned),
		zap.Int("rooms", rep.RoomsScanned),
		zap.Int("findings", len(rep.Findings)),
		zap.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)))
	return rep, nil
}

func (a *Auditor) checkUser(ctx context.Context, userID string, c *collector) error {
	if err := a.checkFriends(ctx, userID, c); err != nil {
		return err
	}
	return a.checkRequests(ctx, userID, c)
}

func (a *Auditor) checkFriends(ctx context.Context, userID string, c *collector) error {
	friends, err := a.src.ListFriends(ctx, userID)
	if err != nil {
		return errs.WrapMsg(err, "audit: list friends", "user", userID)
	}
	if len(friends) == 0 {
		return nil
	}
	exists, err := a.src.ExistingUsers(ctx, friends)
	if err != nil {
		return errs.WrapMsg(err, "audit: resolve friends", "user", userID)
	}
	for _, f := range friends {
		if !exists[f] {
			c.add(Finding{Kind: BrokenFriendship, UserID: userID, RefID: f})
			continue
		}
		back, err := a.src.ListFriends(ctx, f)
		if err != nil {
			return errs.WrapMsg(err, "audit: list friends", "user", f)
		}
		if !contains(back, userID) {
			c.add(Finding{Kind: AsymmetricFriendship, UserID: userID, RefID: f})
		}
	}
	return nil
}

func (a *Auditor) checkRequests(ctx context.Context, userID string, c *collector) error {
	reqs, err := a.src.ListRequests(ctx, userID)
	if err != nil {
		return errs.WrapMsg(err, "audit: list requests", "user", userID)
	}
	if len(reqs) == 0 {
		return nil
	}
	counterparts := make([]string, 0, len(reqs))
	for _, r := range reqs {
		counterparts = append(counterparts, r.Counterpart(userID))
	}
	exists, err := a.src.ExistingUsers(ctx, counterparts)
	if err != nil {
		return errs.WrapMsg(err, "audit: resolve requests", "user", userID)
	}

	pendingByPair := make(map[string][]string)
	for _, r := range reqs {
		if r.Pending() && r.FromUserID == r.ToUserID {
			c.add(Finding{Kind: MismatchedPending, UserID: userID, RefID: userID, RequestID: r.RequestID})
			continue
		}
		cp := r.Counterpart(userID)
		if !exists[cp] {
			c.add(Finding{Kind: BrokenRequest, UserID: userID, RefID: cp, RequestID: r.RequestID})
			continue
		}
		if !r.Pending() {
			continue
		}
		pendingByPair[r.PairKey()] = append(pendingByPair[r.PairKey()], r.RequestID)

		theirs, err := a.src.ListRequests(ctx, cp)
		if err != nil {
			return errs.WrapMsg(err, "audit: list requests", "user", cp)
		}
		if !hasRequest(theirs, r.RequestID) {
			c.add(Finding{Kind: MismatchedPending, UserID: userID, RefID: cp, RequestID: r.RequestID})
		}
	}
	for pair, reqIDs := range pendingByPair {
		if len(reqIDs) < 2 {
			continue
		}
		lo, hi, _ := model.SplitPairKey(pair)
		sort.Strings(reqIDs)
		c.add(Finding{Kind: DuplicatePending, UserID: lo, RefID: hi, RequestID: strings.Join(reqIDs, ",")})
	}
	return nil
}

// checkRooms validates every roster accepted by keep (all when nil) and
// returns how many rooms it looked at.
func (a *Auditor) checkRooms(ctx context.Context, c *collector, keep func([]string) bool) (int, error) {
	if a.rooms == nil {
		return 0, nil
	}
	scanned := 0
	for roomID, members := range a.rooms.Rosters() {
		if keep != nil && !keep(members) {
			continue
		}
		scanned++
		if len(members) == 0 {
			continue
		}
		exists, err := a.src.ExistingUsers(ctx, members)
		if err != nil {
			return scanned, errs.WrapMsg(err, "audit: resolve members", "room", roomID)
		}
		for _, m := range members {
			if !exists[m] {
				c.add(Finding{Kind: BrokenRoomMember, UserID: m, RoomID: roomID})
			}
			if a.presence != nil && !a.presence.IsOnline(m) {
				c.add(Finding{Kind: StaleRoomMember, UserID: m, RoomID: roomID})
			}
		}
	}
	return scanned, nil
}

// Run audits everything every conf.Every until ctx is done. It is a no-op
// when Every is zero.
func (a *Auditor) Run(ctx context.Context) {
	if a.conf.Every <= 0 {
		return
	}
	safe.Loop(ctx, "audit", a.conf.Every, func(time.Time) {
		if _, err := a.AuditAll(ctx); err != nil {
			logger.Warn("audit: scheduled run failed", zap.Error(err))
		}
	})
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func hasRequest(reqs []model.FriendRequest, id string) bool {
	for _, r := range reqs {
		if r.RequestID == id {
			return true
		}
	}
	return false
}
