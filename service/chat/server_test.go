package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"LobbyHub/global/config"
	midsec "LobbyHub/middleware/security"
	"LobbyHub/module/chat/model"
	usermodel "LobbyHub/module/user/model"
	"LobbyHub/service/audit"
	"LobbyHub/service/direct"
	"LobbyHub/service/dispatch"
	"LobbyHub/service/event"
	"LobbyHub/service/presence"
	"LobbyHub/service/relation"
	"LobbyHub/service/room"
	"LobbyHub/service/storage"
	jwtsec "LobbyHub/tools/security"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "test-secret"
	testInternal = "internal-token"
)

type harness struct {
	ts    *httptest.Server
	srv   *Server
	store *storage.Memory
}

func newHarness(t *testing.T, users ...string) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.InternalToken = testInternal
	require.NoError(t, cfg.Validate())

	store := storage.NewMemory()
	for _, u := range users {
		require.NoError(t, store.PutUser(context.Background(), usermodel.User{UserID: u}))
	}
	hub := dispatch.NewHub(cfg.Server.SendQueue)
	reg := presence.NewRegistry(presence.Conf{})
	rooms := room.NewCoordinator(reg, hub, room.Conf{})
	d := dispatch.New(dispatch.Deps{
		Registry:  reg,
		Hub:       hub,
		Rooms:     rooms,
		Direct:    direct.NewRouter(hub, direct.Conf{}),
		Relations: relation.NewManager(store, hub, relation.Conf{}),
		Directory: store,
	})
	srv := NewServer(cfg.Server, cfg.Auth.InternalToken, Deps{
		Dispatcher: d,
		Registry:   reg,
		Auditor:    audit.NewAuditor(store, rooms, reg, audit.Conf{}),
		Auth:       midsec.JWTAuthenticator{Opts: jwtsec.DefaultOptions([]byte(testSecret))},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
	})
	return &harness{ts: ts, srv: srv, store: store}
}

func (h *harness) token(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := jwtsec.Generate(jwtsec.DefaultOptions([]byte(testSecret)), userID)
	require.NoError(t, err)
	return tok
}

func (h *harness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"
	hdr := http.Header{"Authorization": {"Bearer " + h.token(t, userID)}}
	ws, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (h *harness) internal(t *testing.T, method, path string) int {
	t.Helper()
	req, err := http.NewRequest(method, h.ts.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("X-Internal-Token", testInternal)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

type frame struct {
	Type    event.Type      `json:"type"`
	ReplyTo string          `json:"replyTo"`
	Data    json.RawMessage `json:"data"`
}

func writeFrame(t *testing.T, ws *websocket.Conn, typ, id string, data any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]any{"type": typ, "id": id, "data": data}))
}

// readUntil reads frames until one of type typ arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ event.Type) frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		require.NoError(t, ws.ReadJSON(&f))
		if f.Type == typ {
			return f
		}
	}
}

func TestHandshakeRequiresToken(t *testing.T) {
	h := newHarness(t, "alice")
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ws, resp, err := websocket.DefaultDialer.Dial(url+"?token="+h.token(t, "alice"), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer ws.Close()
	f := readUntil(t, ws, event.OnlineUsers)
	assert.JSONEq(t, `{"users":["alice"]}`, string(f.Data))
}

func TestLobbyChatEndToEnd(t *testing.T) {
	h := newHarness(t, "A", "B")
	require.Equal(t, http.StatusNoContent, h.internal(t, http.MethodPut, "/internal/lobbies/lobby-1"))

	a, b := h.dial(t, "A"), h.dial(t, "B")
	readUntil(t, a, event.OnlineUsers)
	readUntil(t, b, event.OnlineUsers)

	writeFrame(t, a, "joinLobby", "1", map[string]any{"roomID": "lobby-1"})
	readUntil(t, a, event.Ack)
	writeFrame(t, b, "joinLobby", "1", map[string]any{"roomID": "lobby-1"})
	members := readUntil(t, b, event.LobbyMembers)
	assert.JSONEq(t, `{"roomID":"lobby-1","members":["A","B"]}`, string(members.Data))

	writeFrame(t, a, "lobbyChatMessage", "2", map[string]any{"roomID": "lobby-1", "text": "hello"})
	got := readUntil(t, b, event.NewLobbyChatMessage)
	var data event.LobbyMessageData
	require.NoError(t, json.Unmarshal(got.Data, &data))
	assert.Equal(t, "A", data.Message.SenderID)
	assert.Equal(t, "hello", data.Message.Text)
	assert.EqualValues(t, 1, data.Message.Seq)

	require.Equal(t, http.StatusNoContent, h.internal(t, http.MethodDelete, "/internal/lobbies/lobby-1"))
	closed := readUntil(t, b, event.LobbyClosed)
	assert.JSONEq(t, `{"roomID":"lobby-1"}`, string(closed.Data))
}

func TestMalformedFrameClosesSocket(t *testing.T) {
	h := newHarness(t, "alice")
	ws := h.dial(t, "alice")
	readUntil(t, ws, event.OnlineUsers)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"joinLobby","id":"x","nope":1}`)))
	f := readUntil(t, ws, event.Error)
	assert.Equal(t, "x", f.ReplyTo)

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	require.Eventually(t, func() bool {
		return h.srv.deps.Registry.ConnectionCount("alice") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInternalRoutesRequireToken(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Post(h.ts.URL+"/admin/audit", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, http.StatusNoContent, h.internal(t, http.MethodPut, "/internal/users/zed"))
	ok, err := h.store.UserExists(context.Background(), "zed")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, http.StatusOK, h.internal(t, http.MethodPost, "/admin/audit"))
	assert.Equal(t, http.StatusNotFound, h.internal(t, http.MethodGet, "/admin/audit/users/nobody"))

	resp, err = http.Get(h.ts.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPresenceRoutes(t *testing.T) {
	h := newHarness(t, "alice")
	ws := h.dial(t, "alice")
	readUntil(t, ws, event.OnlineUsers)

	resp, err := http.Get(h.ts.URL + "/api/presence/alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		UserID      string `json:"userID"`
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "online", body.Status)
	assert.Equal(t, 1, body.Connections)
}

type stubCluster map[string]model.Status

func (s stubCluster) Lookup(_ context.Context, userID string) (model.Status, string, error) {
	if st, ok := s[userID]; ok {
		return st, "node-2", nil
	}
	return model.StatusOffline, "", nil
}

func TestPresenceFallsBackToCluster(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	h.srv.deps.Cluster = stubCluster{"bob": model.StatusAway, "alice": model.StatusBusy}
	ws := h.dial(t, "alice")
	readUntil(t, ws, event.OnlineUsers)

	get := func(uid string) map[string]any {
		resp, err := http.Get(h.ts.URL + "/api/presence/" + uid)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body
	}

	// a local connection wins over the mirror
	alice := get("alice")
	assert.Equal(t, "online", alice["status"])
	assert.NotContains(t, alice, "node")

	bob := get("bob")
	assert.Equal(t, "away", bob["status"])
	assert.Equal(t, "node-2", bob["node"])

	carol := get("carol")
	assert.Equal(t, "offline", carol["status"])
}
