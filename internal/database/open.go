package database

import (
	"context"
	"fmt"

	"webim/internal/config"
)

// Open returns the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Database, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return NewMemoryDB(), nil
	case config.BackendPostgres:
		return NewPostgresDB(ctx, cfg.URL)
	case config.BackendSQLite:
		return NewSQLiteDB(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
