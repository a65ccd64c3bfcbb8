// Package websocket owns the live WebSocket connections. Each connection gets
// a session.Handle, a read pump that feeds frames to an EventHandler and a
// write pump that serializes everything pushed to it.
package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"webim/internal/config"
	"webim/internal/session"
	"webim/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("connection not alive")
	ErrShuttingDown = errors.New("connection manager shutting down")
)

// EventHandler receives the lifecycle and frames of every connection.
// HandleFrame runs on the connection's read goroutine, so frames from one
// connection are handled in order. A non-nil error closes that connection.
type EventHandler interface {
	HandleOpen(h session.Handle)
	HandleFrame(ctx context.Context, h session.Handle, frame []byte) error
	HandleClose(h session.Handle)
}

type Manager struct {
	mu      sync.RWMutex
	clients map[session.Handle]*Client
	handler EventHandler
	cfg     config.WebSocketConfig
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	closing bool
}

func NewManager(cfg config.WebSocketConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		clients: make(map[session.Handle]*Client),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetHandler installs the frame handler. It must be called before Accept.
func (m *Manager) SetHandler(h EventHandler) {
	m.handler = h
}

// Accept takes ownership of conn, assigns it a handle and starts its pumps.
func (m *Manager) Accept(conn *websocket.Conn) (session.Handle, error) {
	handle := session.Handle(uuid.NewString())
	client := newClient(m, conn, handle)

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		conn.Close()
		return "", ErrShuttingDown
	}
	m.clients[handle] = client
	count := len(m.clients)
	m.mu.Unlock()

	logger.Info("Connection %s opened from %s. Total connections: %d", handle, client.addr, count)
	if m.handler != nil {
		m.handler.HandleOpen(handle)
	}

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		client.writePump()
	}()
	go func() {
		defer m.wg.Done()
		client.readPump()
	}()

	return handle, nil
}

// Push enqueues payload for handle without blocking. A client whose buffer is
// full is treated as dead and closed.
func (m *Manager) Push(h session.Handle, payload []byte) error {
	m.mu.RLock()
	client, ok := m.clients[h]
	if !ok || client.closed {
		m.mu.RUnlock()
		return ErrNotConnected
	}

	select {
	case client.send <- payload:
		m.mu.RUnlock()
		return nil
	default:
	}
	m.mu.RUnlock()

	logger.Warn("Send buffer full for %s, closing connection", h)
	m.Close(h)
	return ErrNotConnected
}

func (m *Manager) IsAlive(h session.Handle) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients[h]
	return ok && !client.closed
}

// Handles returns a snapshot of every live handle.
func (m *Manager) Handles() []session.Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	handles := make([]session.Handle, 0, len(m.clients))
	for h := range m.clients {
		handles = append(handles, h)
	}
	return handles
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Close detaches handle. Messages already queued are flushed before the close
// frame is written; the read pump then exits and reports HandleClose.
func (m *Manager) Close(h session.Handle) {
	m.detach(h)
}

func (m *Manager) detach(h session.Handle) *Client {
	m.mu.Lock()
	client, ok := m.clients[h]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.clients, h)
	client.closed = true
	count := len(m.clients)
	m.mu.Unlock()

	// Senders check closed under the read lock, so closing here is safe.
	close(client.send)
	logger.Debug("Connection %s detached. Total connections: %d", h, count)
	return client
}

// Shutdown closes every connection and waits for their goroutines, or until
// timeout.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.mu.Lock()
	m.closing = true
	handles := make([]session.Handle, 0, len(m.clients))
	for h := range m.clients {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	logger.Info("Closing %d connections", len(handles))
	m.cancel()
	for _, h := range handles {
		m.detach(h)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
