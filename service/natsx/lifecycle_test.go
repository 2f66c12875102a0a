package natsx

import (
	"context"
	"testing"
	"time"

	"LobbyHub/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLifecycle struct {
	calls []string
}

func (f *fakeLifecycle) LobbyOpened(roomID string) error {
	f.calls = append(f.calls, "opened:"+roomID)
	return nil
}

func (f *fakeLifecycle) LobbyClosed(roomID string) error {
	f.calls = append(f.calls, "closed:"+roomID)
	return nil
}

func (f *fakeLifecycle) UserDeleted(_ context.Context, userID string) error {
	f.calls = append(f.calls, "deleted:"+userID)
	return nil
}

var subjects = Subjects{LobbyOpened: "lobby.opened", LobbyClosed: "lobby.closed", UserDeleted: "user.deleted"}

func routeFor(t *testing.T, routes []Route, subject string) Handler {
	t.Helper()
	for _, r := range routes {
		if r.Subject == subject {
			return r.Handler
		}
	}
	t.Fatalf("no route for %s", subject)
	return nil
}

func TestLifecycleRoutesDispatch(t *testing.T) {
	lc := &fakeLifecycle{}
	routes := LifecycleRoutes(subjects, lc)
	require.Len(t, routes, 3)
	ctx := context.Background()

	require.NoError(t, routeFor(t, routes, "lobby.opened")(ctx, Message{Subject: "lobby.opened", Data: []byte(`{"roomID":"r1"}`)}))
	require.NoError(t, routeFor(t, routes, "lobby.closed")(ctx, Message{Subject: "lobby.closed", Data: []byte(`{"roomID":"r1"}`)}))
	require.NoError(t, routeFor(t, routes, "user.deleted")(ctx, Message{Subject: "user.deleted", Data: []byte(`{"userID":"u1"}`)}))

	assert.Equal(t, []string{"opened:r1", "closed:r1", "deleted:u1"}, lc.calls)
}

func TestLifecycleRoutesSkipEmptySubjects(t *testing.T) {
	routes := LifecycleRoutes(Subjects{LobbyClosed: "lobby.closed"}, &fakeLifecycle{})
	require.Len(t, routes, 1)
	assert.Equal(t, "lobby.closed", routes[0].Subject)
}

func TestLifecycleRejectsBadPayload(t *testing.T) {
	lc := &fakeLifecycle{}
	h := routeFor(t, LifecycleRoutes(subjects, lc), "lobby.opened")
	err := h(context.Background(), Message{Subject: "lobby.opened", Data: []byte(`not json`)})
	require.Error(t, err)
	assert.True(t, errs.ErrMalformedEvent.Is(err))
	assert.Empty(t, lc.calls)
}

func TestIdemMiddlewareSkipsRepeatedIDs(t *testing.T) {
	n := 0
	h := Chain(func(context.Context, Message) error { n++; return nil }, IdemMiddleware(NewMemIdem(time.Minute), 0))
	ctx := context.Background()

	withID := Message{Subject: "lobby.opened", Header: map[string]string{"Nats-Msg-Id": "m1"}}
	require.NoError(t, h(ctx, withID))
	require.NoError(t, h(ctx, withID))
	assert.Equal(t, 1, n)

	// no id: every delivery passes, so reopen after close is not swallowed
	plain := Message{Subject: "lobby.opened", Data: []byte(`{"roomID":"r1"}`)}
	require.NoError(t, h(ctx, plain))
	require.NoError(t, h(ctx, plain))
	assert.Equal(t, 3, n)
}

func TestMemIdemExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	mi := NewMemIdem(time.Second)
	mi.now = func() time.Time { return now }

	assert.False(t, mi.SeenOnce("k", 0))
	assert.True(t, mi.SeenOnce("k", 0))

	now = now.Add(2 * time.Second)
	mi.sweep(now)
	assert.False(t, mi.SeenOnce("k", 0))
}

func TestChainOrder(t *testing.T) {
	var trace []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, m Message) error {
				trace = append(trace, name)
				return next(ctx, m)
			}
		}
	}
	h := Chain(func(context.Context, Message) error { trace = append(trace, "h"); return nil }, mw("a"), mw("b"))
	require.NoError(t, h(context.Background(), Message{}))
	assert.Equal(t, []string{"a", "b", "h"}, trace)
}

func TestRecoverTurnsPanicIntoError(t *testing.T) {
	h := Chain(func(context.Context, Message) error { panic("bad payload") }, Recover())
	err := h(context.Background(), Message{Subject: "lobby.closed"})
	require.Error(t, err)
	assert.True(t, errs.ErrInternalServer.Is(err))
	assert.Contains(t, err.Error(), "lobby.closed")
}

func TestTimeoutBoundsHandler(t *testing.T) {
	var deadline bool
	h := Chain(func(ctx context.Context, _ Message) error {
		_, deadline = ctx.Deadline()
		return nil
	}, Timeout(time.Second))
	require.NoError(t, h(context.Background(), Message{}))
	assert.True(t, deadline)

	h = Chain(func(ctx context.Context, _ Message) error {
		_, deadline = ctx.Deadline()
		return nil
	}, Timeout(0))
	require.NoError(t, h(context.Background(), Message{}))
	assert.False(t, deadline)
}
