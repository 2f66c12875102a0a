package storage

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"LobbyHub/logger"
	"LobbyHub/module/chat/model"
	"LobbyHub/tools/safe"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const presenceKeyPrefix = "lobby:presence:"

// PresenceKey names the hash of userID's presence. Each node writes its own
// field, so one node seeing the user leave does not hide the user's
// connections on another node.
//
//	lobby:presence:<user>  { <node>: {"status":..,"ts":..} }
func PresenceKey(userID string) string { return presenceKeyPrefix + userID }

// PresenceRedis is the slice of the go-redis client the mirror uses.
type PresenceRedis interface {
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

type PresenceMirrorConf struct {
	Node    string
	TTL     time.Duration
	Channel string
	Queue   int
	// Online lists this node's online users and their status. Their
	// entries are rewritten every TTL/2.
	Online func() map[string]model.Status
	Clock  func() time.Time
}

type presenceUpdate struct {
	UserID string       `json:"userID"`
	Status model.Status `json:"status"`
	Node   string       `json:"node"`
	At     int64        `json:"ts"`
}

// RedisPresence mirrors presence transitions into Redis for other nodes and
// services. Publish only enqueues; Run performs the writes.
type RedisPresence struct {
	rdb     PresenceRedis
	conf    PresenceMirrorConf
	queue   chan presenceUpdate
	dropped atomic.Int64
}

func NewRedisPresence(rdb PresenceRedis, conf PresenceMirrorConf) *RedisPresence {
	safe.MustNotNil(rdb, "redis client")
	conf.TTL = safe.DefaultDuration(conf.TTL, 2*time.Minute)
	conf.Queue = safe.DefaultInt(conf.Queue, 1024)
	if conf.Channel == "" {
		conf.Channel = "lobby:presence"
	}
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	return &RedisPresence{rdb: rdb, conf: conf, queue: make(chan presenceUpdate, conf.Queue)}
}

// Publish implements presence.Mirror. It never blocks; when the queue is
// full the update is dropped and counted.
func (p *RedisPresence) Publish(userID string, status model.Status) {
	select {
	case p.queue <- p.update(userID, status):
	default:
		if n := p.dropped.Add(1); n == 1 || n%1000 == 0 {
			logger.Warn("presence mirror: queue full, dropping updates", zap.Int64("dropped", n))
		}
	}
}

func (p *RedisPresence) update(userID string, status model.Status) presenceUpdate {
	return presenceUpdate{UserID: userID, Status: status, Node: p.conf.Node, At: p.conf.Clock().UnixMilli()}
}

func (p *RedisPresence) Dropped() int64 { return p.dropped.Load() }

// Run drains the queue until ctx is done and refreshes online entries.
func (p *RedisPresence) Run(ctx context.Context) {
	refresh := time.NewTicker(p.conf.TTL / 2)
	defer refresh.Stop()
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		case u := <-p.queue:
			if err := p.write(ctx, u); err != nil {
				logger.Warn("presence mirror: write failed", zap.String("user", u.UserID), zap.Error(err))
			}
		case <-refresh.C:
			if p.conf.Online == nil {
				continue
			}
			if err := p.refresh(ctx, p.conf.Online()); err != nil {
				logger.Warn("presence mirror: refresh failed", zap.Error(err))
			}
		}
	}
}

// flush writes whatever is still queued, bounded by a short timeout.
func (p *RedisPresence) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case u := <-p.queue:
			if err := p.write(ctx, u); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *RedisPresence) write(ctx context.Context, u presenceUpdate) error {
	msg, err := json.Marshal(u)
	if err != nil {
		return err
	}
	key := PresenceKey(u.UserID)
	_, err = p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if u.Status == model.StatusOffline {
			pipe.HDel(ctx, key, u.Node)
		} else {
			pipe.HSet(ctx, key, u.Node, msg)
			pipe.Expire(ctx, key, p.conf.TTL)
		}
		pipe.Publish(ctx, p.conf.Channel, msg)
		return nil
	})
	return err
}

func (p *RedisPresence) refresh(ctx context.Context, users map[string]model.Status) error {
	if len(users) == 0 {
		return nil
	}
	_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for userID, status := range users {
			msg, err := json.Marshal(p.update(userID, status))
			if err != nil {
				return err
			}
			key := PresenceKey(userID)
			pipe.HSet(ctx, key, p.conf.Node, msg)
			pipe.Expire(ctx, key, p.conf.TTL)
		}
		return nil
	})
	return err
}

// Lookup reads userID's mirrored status across nodes. Entries older than the
// TTL belong to nodes that stopped refreshing and are ignored. When several
// nodes hold the user the newest entry wins. No live entry means offline.
func (p *RedisPresence) Lookup(ctx context.Context, userID string) (model.Status, string, error) {
	entries, err := p.rdb.HGetAll(ctx, PresenceKey(userID)).Result()
	if err != nil {
		return "", "", err
	}
	cutoff := p.conf.Clock().Add(-p.conf.TTL).UnixMilli()
	var best presenceUpdate
	for _, raw := range entries {
		var u presenceUpdate
		if json.Unmarshal([]byte(raw), &u) != nil || u.At < cutoff || !u.Status.Settable() {
			continue
		}
		if u.At > best.At {
			best = u
		}
	}
	if best.Status == "" {
		return model.StatusOffline, "", nil
	}
	return best.Status, best.Node, nil
}
