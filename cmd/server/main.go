package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"webim/internal/auth"
	"webim/internal/config"
	"webim/internal/database"
	"webim/internal/directory"
	"webim/internal/handlers"
	"webim/internal/presence"
	"webim/internal/router"
	"webim/internal/session"
	"webim/internal/websocket"
	"webim/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	// Initialize database
	db, err := database.Open(context.Background(), cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open %s database: %v", cfg.Database.Backend, err)
	}
	defer db.Close()

	policy, err := session.ParsePolicy(cfg.Session.DuplicateLogin)
	if err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}

	// Initialize core services
	registry := session.NewRegistry(policy)
	manager := websocket.NewManager(cfg.WebSocket)
	broadcaster := presence.NewBroadcaster(registry, manager)

	var offline database.OfflineSink
	if cfg.Database.StoreUndelivered {
		offline = db
	}

	manager.SetHandler(router.New(router.Deps{
		Directory:   directory.New(db),
		Registry:    registry,
		Connections: manager,
		Presence:    broadcaster,
		Tokens:      auth.NewService(cfg.JWT),
		Actions:     db,
		Offline:     offline,
	}))

	// Setup routes
	wsHandlers := handlers.NewWebSocketHandlers(manager, cfg.Server.AllowedOrigins)
	statusHandlers := handlers.NewStatusHandlers(registry, manager)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handlers.NewRouter(wsHandlers, statusHandlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
	logger.Info("Directory backend: %s, duplicate login policy: %s", cfg.Database.Backend, cfg.Session.DuplicateLogin)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown: %v", err)
	}
	if err := manager.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		logger.Error("Connection shutdown: %v", err)
	}
	logger.Info("Server stopped")
}
