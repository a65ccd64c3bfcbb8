package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"webim/internal/config"
	"webim/internal/session"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBadFrame = errors.New("bad frame")

type recordingHandler struct {
	mu     sync.Mutex
	opened []session.Handle
	frames []string
	closed []session.Handle
	openCh chan session.Handle
	closCh chan session.Handle
	frCh   chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		openCh: make(chan session.Handle, 16),
		closCh: make(chan session.Handle, 16),
		frCh:   make(chan string, 64),
	}
}

func (r *recordingHandler) HandleOpen(h session.Handle) {
	r.mu.Lock()
	r.opened = append(r.opened, h)
	r.mu.Unlock()
	r.openCh <- h
}

func (r *recordingHandler) HandleFrame(ctx context.Context, h session.Handle, frame []byte) error {
	if string(frame) == "bad" {
		return errBadFrame
	}
	r.mu.Lock()
	r.frames = append(r.frames, string(frame))
	r.mu.Unlock()
	r.frCh <- string(frame)
	return nil
}

func (r *recordingHandler) HandleClose(h session.Handle) {
	r.mu.Lock()
	r.closed = append(r.closed, h)
	r.mu.Unlock()
	r.closCh <- h
}

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		MaxMessageSize:  1024,
		RateLimitBurst:  100,
		RateLimitRefill: time.Second,
	}
}

func startServer(t *testing.T, cfg config.WebSocketConfig) (*Manager, *recordingHandler, string) {
	t.Helper()

	m := NewManager(cfg)
	h := newRecordingHandler()
	m.SetHandler(h)

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.Accept(conn)
	}))
	t.Cleanup(func() {
		m.Shutdown(time.Second)
		srv.Close()
	})

	return m, h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitHandle(t *testing.T, ch chan session.Handle) session.Handle {
	t.Helper()
	select {
	case h := <-ch:
		return h
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection event")
		return ""
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestAcceptAndPush(t *testing.T) {
	m, h, url := startServer(t, testConfig())
	conn := dial(t, url)
	handle := waitHandle(t, h.openCh)

	assert.True(t, m.IsAlive(handle))
	assert.Contains(t, m.Handles(), handle)
	assert.Equal(t, 1, m.Count())

	require.NoError(t, m.Push(handle, []byte("hello")))
	require.NoError(t, m.Push(handle, []byte("world")))
	assert.Equal(t, "hello", readText(t, conn))
	assert.Equal(t, "world", readText(t, conn))
}

func TestHandlesAreUnique(t *testing.T) {
	m, h, url := startServer(t, testConfig())
	dial(t, url)
	dial(t, url)
	a := waitHandle(t, h.openCh)
	b := waitHandle(t, h.openCh)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, m.Count())
}

func TestFramesReachHandlerInOrder(t *testing.T) {
	_, h, url := startServer(t, testConfig())
	conn := dial(t, url)
	waitHandle(t, h.openCh)

	for _, f := range []string{"one", "two", "three"} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(f)))
	}

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case f := <-h.frCh:
			got = append(got, f)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestClientDisconnectRunsTeardown(t *testing.T) {
	m, h, url := startServer(t, testConfig())
	conn := dial(t, url)
	handle := waitHandle(t, h.openCh)

	conn.Close()
	assert.Equal(t, handle, waitHandle(t, h.closCh))

	assert.False(t, m.IsAlive(handle))
	assert.ErrorIs(t, m.Push(handle, []byte("late")), ErrNotConnected)
	assert.Zero(t, m.Count())
}

func TestCloseFlushesQueuedFrames(t *testing.T) {
	m, h, url := startServer(t, testConfig())
	conn := dial(t, url)
	handle := waitHandle(t, h.openCh)

	require.NoError(t, m.Push(handle, []byte("bye")))
	m.Close(handle)
	assert.False(t, m.IsAlive(handle))

	assert.Equal(t, "bye", readText(t, conn))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.Equal(t, handle, waitHandle(t, h.closCh))
	h.mu.Lock()
	assert.Len(t, h.closed, 1)
	h.mu.Unlock()
}

func TestHandlerErrorClosesOnlyThatConnection(t *testing.T) {
	m, h, url := startServer(t, testConfig())
	bad := dial(t, url)
	badHandle := waitHandle(t, h.openCh)
	good := dial(t, url)
	goodHandle := waitHandle(t, h.openCh)

	require.NoError(t, bad.WriteMessage(websocket.TextMessage, []byte("bad")))
	assert.Equal(t, badHandle, waitHandle(t, h.closCh))

	assert.True(t, m.IsAlive(goodHandle))
	require.NoError(t, m.Push(goodHandle, []byte("still here")))
	assert.Equal(t, "still here", readText(t, good))
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 16
	_, h, url := startServer(t, cfg)
	conn := dial(t, url)
	handle := waitHandle(t, h.openCh)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64))))
	assert.Equal(t, handle, waitHandle(t, h.closCh))
}

func TestRateLimitedFramesAreDropped(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitBurst = 2
	cfg.RateLimitRefill = time.Hour
	_, h, url := startServer(t, cfg)
	conn := dial(t, url)
	waitHandle(t, h.openCh)

	for i := 0; i < 5; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("f")))
	}
	// A frame the limiter drops never reaches the handler; give the pump time.
	time.Sleep(200 * time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.frames, 2)
}

func TestPushUnknownHandle(t *testing.T) {
	m := NewManager(testConfig())
	assert.ErrorIs(t, m.Push("nope", []byte("x")), ErrNotConnected)
	assert.False(t, m.IsAlive("nope"))
	m.Close("nope")
}

func TestShutdownClosesEverything(t *testing.T) {
	m, h, url := startServer(t, testConfig())
	dial(t, url)
	dial(t, url)
	waitHandle(t, h.openCh)
	waitHandle(t, h.openCh)

	require.NoError(t, m.Shutdown(2*time.Second))
	assert.Zero(t, m.Count())
	waitHandle(t, h.closCh)
	waitHandle(t, h.closCh)
}

func TestRateLimiter(t *testing.T) {
	now := time.Now()
	rl := newRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }
	rl.lastCheck = now

	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	now = now.Add(10 * time.Second)
	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())
}
