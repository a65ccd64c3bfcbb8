package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"webim/internal/config"
	"webim/internal/database"
	"webim/internal/directory"
	"webim/internal/models"
	"webim/internal/presence"
	"webim/internal/router"
	"webim/internal/session"
	ws "webim/internal/websocket"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type server struct {
	http     *httptest.Server
	registry *session.Registry
	manager  *ws.Manager
}

func newServer(t *testing.T, origins []string) *server {
	t.Helper()

	db := database.NewMemoryDB()
	registry := session.NewRegistry(session.PolicyEvict)
	manager := ws.NewManager(config.WebSocketConfig{
		MaxMessageSize:  4096,
		RateLimitBurst:  100,
		RateLimitRefill: 10 * time.Millisecond,
	})
	manager.SetHandler(router.New(router.Deps{
		Directory:   directory.New(db).WithHashCost(bcrypt.MinCost),
		Registry:    registry,
		Connections: manager,
		Presence:    presence.NewBroadcaster(registry, manager),
		Actions:     db,
	}))

	srv := httptest.NewServer(NewRouter(
		NewWebSocketHandlers(manager, origins),
		NewStatusHandlers(registry, manager),
	))
	t.Cleanup(func() {
		srv.Close()
		_ = manager.Shutdown(time.Second)
	})

	return &server{http: srv, registry: registry, manager: manager}
}

func (s *server) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, module string, data map[string]string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"module": module, "data": data}))
}

// await reads frames until one matches module and act.
func await(t *testing.T, conn *websocket.Conn, module models.Module, act string) models.Response {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var resp models.Response
		require.NoError(t, conn.ReadJSON(&resp))
		if resp.Module == module && resp.Act == act {
			return resp
		}
	}
}

func TestChatEndToEnd(t *testing.T) {
	s := newServer(t, []string{"*"})
	alice := s.dial(t)
	bob := s.dial(t)

	send(t, alice, "register", map[string]string{"username": "alice", "password": "pw1", "email": "a@x.com"})
	assert.Equal(t, models.CodeOK, await(t, alice, models.ModuleRegister, "").Err)
	send(t, bob, "register", map[string]string{"username": "bob", "password": "pw2", "email": "b@x.com"})
	assert.Equal(t, models.CodeOK, await(t, bob, models.ModuleRegister, "").Err)

	send(t, alice, "login", map[string]string{"username": "alice", "password": "pw1"})
	assert.Equal(t, models.CodeOK, await(t, alice, models.ModuleLogin, "").Err)
	send(t, bob, "login", map[string]string{"username": "bob", "password": "pw2"})
	assert.Equal(t, models.CodeOK, await(t, bob, models.ModuleLogin, "").Err)
	assert.Equal(t, []string{"alice", "bob"}, s.registry.ListOnlineUsernames())

	send(t, alice, "chat", map[string]string{"to": "bob", "body": "hello"})
	got := await(t, bob, models.ModuleChat, models.ActReceive)
	data := got.Data.(map[string]interface{})
	assert.Equal(t, "alice", data["from"])
	assert.Equal(t, "hello", data["body"])
	assert.Equal(t, models.CodeOK, await(t, alice, models.ModuleChat, models.ActSend).Err)

	bob.Close()
	require.Eventually(t, func() bool {
		return len(s.registry.ListOnlineUsernames()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	send(t, alice, "chat", map[string]string{"to": "bob", "body": "still there?"})
	assert.Equal(t, models.CodeRecipientOffline, await(t, alice, models.ModuleChat, models.ActSend).Err)
}

func TestMalformedFrameClosesOnlyThatConnection(t *testing.T) {
	s := newServer(t, []string{"*"})
	good := s.dial(t)
	bad := s.dial(t)

	require.NoError(t, bad.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, bad.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := bad.ReadMessage(); err != nil {
			break
		}
	}

	send(t, good, "forgetpwd", map[string]string{"username": "x"})
	assert.Equal(t, models.CodeOK, await(t, good, models.ModuleForgetPwd, "").Err)
}

func TestHealthAndOnline(t *testing.T) {
	s := newServer(t, []string{"*"})
	conn := s.dial(t)
	send(t, conn, "register", map[string]string{"username": "alice", "password": "pw1", "email": "a@x.com"})
	await(t, conn, models.ModuleRegister, "")
	send(t, conn, "login", map[string]string{"username": "alice", "password": "pw1"})
	await(t, conn, models.ModuleLogin, "")

	resp, err := http.Get(s.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.EqualValues(t, 1, health["connections"])
	assert.EqualValues(t, 1, health["online"])

	rec := httptest.NewRecorder()
	NewStatusHandlers(s.registry, s.manager).Online(rec, httptest.NewRequest(http.MethodGet, "/online", nil))
	var online struct {
		Users []string `json:"users"`
		Count int      `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&online))
	assert.Equal(t, []string{"alice"}, online.Users)
	assert.Equal(t, 1, online.Count)
}

func TestOnlineEmptyList(t *testing.T) {
	rec := httptest.NewRecorder()
	h := NewStatusHandlers(session.NewRegistry(session.PolicyEvict), ws.NewManager(config.WebSocketConfig{}))
	h.Online(rec, httptest.NewRequest(http.MethodGet, "/online", nil))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"users":[],"count":0}`, rec.Body.String())
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://chat.example.com", "http://localhost:3000/"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://chat.example.com", true},
		{"HTTPS://Chat.Example.com", true},
		{"http://localhost:3000", true},
		{"http://chat.example.com", false},
		{"https://evil.com", false},
		{"::bad", false},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, check(r), tt.origin)
	}

	assert.True(t, originChecker([]string{"*"})(httptest.NewRequest(http.MethodGet, "/ws", nil)))
}

func TestWebSocketRejectsDisallowedOrigin(t *testing.T) {
	s := newServer(t, []string{"https://chat.example.com"})
	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws"

	header := http.Header{}
	header.Set("Origin", "https://evil.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, s.manager.Count())
}

func TestCORSPreflight(t *testing.T) {
	s := newServer(t, []string{"*"})
	req, err := http.NewRequest(http.MethodOptions, s.http.URL+"/health", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
