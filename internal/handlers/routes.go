package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

func NewRouter(wsHandlers *WebSocketHandlers, statusHandlers *StatusHandlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	r.HandleFunc("/ws", wsHandlers.HandleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/health", statusHandlers.Health).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/online", statusHandlers.Online).Methods(http.MethodGet, http.MethodOptions)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
