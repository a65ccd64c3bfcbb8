package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"webim/internal/models"
	"webim/pkg/logger"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		username   TEXT PRIMARY KEY,
		password   TEXT NOT NULL,
		email      TEXT NOT NULL,
		attributes TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS action_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		kind       TEXT NOT NULL,
		username   TEXT NOT NULL,
		handle     TEXT NOT NULL DEFAULT '',
		detail     TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS undelivered_messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		from_user  TEXT NOT NULL,
		to_user    TEXT NOT NULL,
		body       TEXT NOT NULL,
		sent_at    DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_undelivered_to_user ON undelivered_messages(to_user)`,
}

// SQLiteDB is the single-file account store.
type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(ctx context.Context, path string) (*SQLiteDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for i, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("schema statement %d failed: %w", i+1, err)
		}
	}

	logger.Info("Opened sqlite account store: %s", path)
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) GetAccount(ctx context.Context, username string) (*models.Account, error) {
	query := `SELECT username, password, email, attributes, created_at FROM accounts WHERE username = ?`

	account := &models.Account{}
	var attrs string
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&account.Username, &account.PasswordHash, &account.Email, &attrs, &account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if account.Attributes, err = decodeAttributes([]byte(attrs)); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *SQLiteDB) CreateAccount(ctx context.Context, account *models.Account) error {
	attrs, err := encodeAttributes(account.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT OR IGNORE INTO accounts (username, password, email, attributes, created_at)
		VALUES (?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		account.Username, account.PasswordHash, account.Email, string(attrs), account.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	if affected == 0 {
		return ErrAccountExists
	}
	return nil
}

func (s *SQLiteDB) LogAction(ctx context.Context, action models.Action) error {
	query := `INSERT INTO action_log (kind, username, handle, detail, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		string(action.Kind), action.Username, action.Handle, action.Detail, action.CreatedAt.UTC())
	return err
}

func (s *SQLiteDB) SaveUndelivered(ctx context.Context, msg models.ChatMessage) error {
	query := `INSERT INTO undelivered_messages (from_user, to_user, body, sent_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, msg.From, msg.To, msg.Body, msg.Timestamp.UTC())
	return err
}

// CountUndelivered reports how many undelivered messages are stored for a user.
func (s *SQLiteDB) CountUndelivered(ctx context.Context, username string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM undelivered_messages WHERE to_user = ?`, username).Scan(&n)
	return n, err
}

// RecentActions returns up to limit action log entries, newest first.
func (s *SQLiteDB) RecentActions(ctx context.Context, limit int) ([]models.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, username, handle, detail, created_at FROM action_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []models.Action
	for rows.Next() {
		var a models.Action
		var kind string
		var created time.Time
		if err := rows.Scan(&kind, &a.Username, &a.Handle, &a.Detail, &created); err != nil {
			return nil, err
		}
		a.Kind = models.ActionKind(kind)
		a.CreatedAt = created
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
