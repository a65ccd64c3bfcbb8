package database

import (
	"context"
	"sync"

	"webim/internal/models"
)

const memoryLogCapacity = 1024

// MemoryDB keeps everything in process memory. Action log and undelivered
// messages are bounded; the oldest entries are dropped first.
type MemoryDB struct {
	mu          sync.RWMutex
	accounts    map[string]*models.Account
	actions     []models.Action
	undelivered []models.ChatMessage
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[string]*models.Account),
	}
}

func (db *MemoryDB) Close() error {
	return nil
}

func (db *MemoryDB) GetAccount(ctx context.Context, username string) (*models.Account, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	account, ok := db.accounts[username]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (db *MemoryDB) CreateAccount(ctx context.Context, account *models.Account) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.accounts[account.Username]; exists {
		return ErrAccountExists
	}
	db.accounts[account.Username] = cloneAccount(account)
	return nil
}

func (db *MemoryDB) LogAction(ctx context.Context, action models.Action) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.actions = appendBounded(db.actions, action)
	return nil
}

func (db *MemoryDB) SaveUndelivered(ctx context.Context, msg models.ChatMessage) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.undelivered = appendBounded(db.undelivered, msg)
	return nil
}

// Actions returns a copy of the retained action log, oldest first.
func (db *MemoryDB) Actions() []models.Action {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]models.Action(nil), db.actions...)
}

func (db *MemoryDB) Undelivered() []models.ChatMessage {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]models.ChatMessage(nil), db.undelivered...)
}

func appendBounded[T any](items []T, item T) []T {
	if len(items) >= memoryLogCapacity {
		items = append(items[:0], items[1:]...)
	}
	return append(items, item)
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	if a.Attributes != nil {
		c.Attributes = make(map[string]string, len(a.Attributes))
		for k, v := range a.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}
