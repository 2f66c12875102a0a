package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"LobbyHub/module/chat/model"
	"LobbyHub/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type change struct {
	user   string
	status model.Status
}

type recordingListener struct {
	mu      sync.Mutex
	changes []change
	evicted []Connection
}

func (l *recordingListener) PresenceChanged(userID string, status model.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, change{userID, status})
}

func (l *recordingListener) ConnectionEvicted(conn Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evicted = append(l.evicted, conn)
}

func (l *recordingListener) count(user string, status model.Status) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.changes {
		if c.user == user && c.status == status {
			n++
		}
	}
	return n
}

func newTestRegistry(conf Conf) (*Registry, *recordingListener) {
	r := NewRegistry(conf)
	l := &recordingListener{}
	r.SetListener(l)
	return r, l
}

func TestFirstConnectionGoesOnline(t *testing.T) {
	r, l := newTestRegistry(Conf{})

	c1, err := r.Register("alice")
	require.NoError(t, err)
	c2, err := r.Register("alice")
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID, c2.ID)

	assert.True(t, r.IsOnline("alice"))
	assert.Equal(t, model.StatusOnline, r.Status("alice"))
	assert.Equal(t, 2, r.ConnectionCount("alice"))
	assert.Equal(t, 1, l.count("alice", model.StatusOnline), "second device must not re-announce")
}

func TestLastConnectionGoesOfflineExactlyOnce(t *testing.T) {
	r, l := newTestRegistry(Conf{})
	c1, _ := r.Register("alice")
	c2, _ := r.Register("alice")

	assert.True(t, r.Unregister(c1.ID))
	assert.Equal(t, 0, l.count("alice", model.StatusOffline))
	assert.True(t, r.IsOnline("alice"))

	assert.True(t, r.Unregister(c2.ID))
	assert.False(t, r.Unregister(c2.ID), "repeated disconnect is a no-op")
	assert.False(t, r.Unregister("never-seen"))

	assert.Equal(t, 1, l.count("alice", model.StatusOffline))
	assert.False(t, r.IsOnline("alice"))
	assert.Equal(t, model.StatusOffline, r.Status("alice"))
	assert.Empty(t, r.SnapshotOnlineUsers())
}

func TestSetStatus(t *testing.T) {
	r, l := newTestRegistry(Conf{})

	err := r.SetStatus("bob", model.StatusAway)
	assert.ErrorIs(t, err, errs.ErrNotConnected)

	c, _ := r.Register("bob")
	require.NoError(t, r.SetStatus("bob", model.StatusAway))
	require.NoError(t, r.SetStatus("bob", model.StatusAway))
	assert.Equal(t, model.StatusAway, r.Status("bob"))
	assert.Equal(t, 1, l.count("bob", model.StatusAway), "unchanged status is not rebroadcast")

	assert.ErrorIs(t, r.SetStatus("bob", model.StatusOffline), errs.ErrArgs)
	assert.ErrorIs(t, r.SetStatus("bob", "dancing"), errs.ErrArgs)

	// reconnecting after going offline starts from online again
	r.Unregister(c.ID)
	_, _ = r.Register("bob")
	assert.Equal(t, model.StatusOnline, r.Status("bob"))
}

func TestRegisterRejectsEmptyUser(t *testing.T) {
	r, _ := newTestRegistry(Conf{})
	_, err := r.Register(" ")
	assert.ErrorIs(t, err, errs.ErrArgs)
}

func TestMaxPerUserEvictsOldest(t *testing.T) {
	base := time.Unix(1700000000, 0)
	var tick int64
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	r, l := newTestRegistry(Conf{MaxPerUser: 2, Clock: clock})
	c1, _ := r.Register("carol")
	c2, _ := r.Register("carol")
	c3, _ := r.Register("carol")

	require.Len(t, l.evicted, 1)
	assert.Equal(t, c1.ID, l.evicted[0].ID)
	assert.Equal(t, 2, r.ConnectionCount("carol"))
	assert.False(t, r.Unregister(c1.ID), "evicted connection is already gone")

	ids := []string{}
	for _, c := range r.Connections("carol") {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{c2.ID, c3.ID}, ids)
}

func TestWithOnline(t *testing.T) {
	r, _ := newTestRegistry(Conf{})
	called := false
	err := r.WithOnline("dave", func() error { called = true; return nil })
	assert.ErrorIs(t, err, errs.ErrNotConnected)
	assert.False(t, called)

	_, _ = r.Register("dave")
	require.NoError(t, r.WithOnline("dave", func() error { called = true; return nil }))
	assert.True(t, called)
}

type recordingMirror struct {
	mu  sync.Mutex
	got []change
}

func (m *recordingMirror) Publish(userID string, status model.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, change{userID, status})
}

func TestMirrorSeesEveryTransition(t *testing.T) {
	m := &recordingMirror{}
	r, _ := newTestRegistry(Conf{Mirror: m})
	c, _ := r.Register("erin")
	_ = r.SetStatus("erin", model.StatusBusy)
	r.Unregister(c.ID)

	assert.Equal(t, []change{
		{"erin", model.StatusOnline},
		{"erin", model.StatusBusy},
		{"erin", model.StatusOffline},
	}, m.got)
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	r, l := newTestRegistry(Conf{})
	const users, rounds = 20, 50

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		user := fmt.Sprintf("user-%02d", u)
		for w := 0; w < 3; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < rounds; i++ {
					c, err := r.Register(user)
					if err != nil {
						t.Error(err)
						return
					}
					r.Unregister(c.ID)
				}
			}()
		}
	}
	wg.Wait()

	assert.Empty(t, r.SnapshotOnlineUsers())
	for u := 0; u < users; u++ {
		user := fmt.Sprintf("user-%02d", u)
		assert.Equal(t, l.count(user, model.StatusOnline), l.count(user, model.StatusOffline),
			"every online transition is matched by exactly one offline transition")
	}
}
