package database

import (
	"context"
	"errors"

	"webim/internal/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
)

// AccountStore is the flat username -> account mapping behind the directory.
type AccountStore interface {
	GetAccount(ctx context.Context, username string) (*models.Account, error)
	// CreateAccount inserts the account only if the username is free.
	CreateAccount(ctx context.Context, account *models.Account) error
}

type ActionLog interface {
	LogAction(ctx context.Context, action models.Action) error
}

// OfflineSink receives chat messages whose recipient was not online.
type OfflineSink interface {
	SaveUndelivered(ctx context.Context, msg models.ChatMessage) error
}

type Database interface {
	AccountStore
	ActionLog
	OfflineSink
	Close() error
}
