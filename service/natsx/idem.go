package natsx

import (
	"context"
	"sync"
	"time"

	"LobbyHub/tools/safe"
)

// IdemStore remembers message ids for a while.
type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool)
}

// MemIdem 内存实现（单进程）
type MemIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expire
	ttl time.Duration
	now func() time.Time
}

func NewMemIdem(defaultTTL time.Duration) *MemIdem {
	return &MemIdem{m: make(map[string]time.Time), ttl: safe.DefaultDuration(defaultTTL, time.Minute), now: time.Now}
}

// Run 定期清理过期 key，ctx 结束时返回
func (mi *MemIdem) Run(ctx context.Context) {
	safe.Loop(ctx, "natsx.idem", time.Minute, mi.sweep)
}

func (mi *MemIdem) sweep(now time.Time) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	for k, exp := range mi.m {
		if !exp.After(now) {
			delete(mi.m, k)
		}
	}
}

func (mi *MemIdem) SeenOnce(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true
	}
	mi.m[key] = now.Add(ttl)
	return false
}

func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{"Nats-Msg-Id", "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// IdemMiddleware skips messages whose id header was seen within ttl.
// Messages without an id always pass.
func IdemMiddleware(store IdemStore, ttl time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			id := msgIDFromHeader(msg.Header)
			if id != "" && store.SeenOnce(id, ttl) {
				return nil
			}
			return next(ctx, msg)
		}
	}
}
