package handlers

import (
	"encoding/json"
	"net/http"

	"webim/pkg/logger"
)

type OnlineLister interface {
	ListOnlineUsernames() []string
	Count() int
}

type ConnectionCounter interface {
	Count() int
}

type StatusHandlers struct {
	online OnlineLister
	conns  ConnectionCounter
}

func NewStatusHandlers(online OnlineLister, conns ConnectionCounter) *StatusHandlers {
	return &StatusHandlers{online: online, conns: conns}
}

func (h *StatusHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": h.conns.Count(),
		"online":      h.online.Count(),
	})
}

func (h *StatusHandlers) Online(w http.ResponseWriter, r *http.Request) {
	users := h.online.ListOnlineUsernames()
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error writing response: %v", err)
	}
}
