package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"webim/internal/session"
	"webim/pkg/logger"

	"github.com/gorilla/websocket"
)

// Acceptor takes ownership of an upgraded connection.
type Acceptor interface {
	Accept(conn *websocket.Conn) (session.Handle, error)
}

type WebSocketHandlers struct {
	acceptor Acceptor
	upgrader websocket.Upgrader
}

func NewWebSocketHandlers(acceptor Acceptor, allowedOrigins []string) *WebSocketHandlers {
	return &WebSocketHandlers{
		acceptor: acceptor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade writes its own error response on failure.
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Upgrade error from %s: %v", r.RemoteAddr, err)
		return
	}

	if _, err := h.acceptor.Accept(conn); err != nil {
		logger.Warn("Rejected connection from %s: %v", r.RemoteAddr, err)
	}
}

// originChecker allows requests without an Origin header, any origin when the
// list contains "*", and otherwise only exact scheme://host matches.
func originChecker(allowed []string) func(r *http.Request) bool {
	allowAll := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = true
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		if !ok {
			logger.Warn("Origin %s not allowed", origin)
		}
		return ok
	}
}
