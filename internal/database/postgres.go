package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"webim/internal/models"
	"webim/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		username   TEXT PRIMARY KEY,
		password   TEXT NOT NULL,
		email      TEXT NOT NULL,
		attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS action_log (
		id         BIGSERIAL PRIMARY KEY,
		kind       TEXT NOT NULL,
		username   TEXT NOT NULL,
		handle     TEXT NOT NULL DEFAULT '',
		detail     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS undelivered_messages (
		id         BIGSERIAL PRIMARY KEY,
		from_user  TEXT NOT NULL,
		to_user    TEXT NOT NULL,
		body       TEXT NOT NULL,
		sent_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_undelivered_to_user ON undelivered_messages(to_user)`,
}

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for i, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("schema statement %d failed: %w", i+1, err)
		}
	}

	logger.Info("Connected to postgres account store")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgresDB) GetAccount(ctx context.Context, username string) (*models.Account, error) {
	query := `SELECT username, password, email, attributes, created_at FROM accounts WHERE username = $1`

	account := &models.Account{}
	var attrs []byte
	err := db.pool.QueryRow(ctx, query, username).Scan(
		&account.Username, &account.PasswordHash, &account.Email, &attrs, &account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if account.Attributes, err = decodeAttributes(attrs); err != nil {
		return nil, err
	}
	return account, nil
}

func (db *PostgresDB) CreateAccount(ctx context.Context, account *models.Account) error {
	attrs, err := encodeAttributes(account.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO accounts (username, password, email, attributes, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (username) DO NOTHING`

	tag, err := db.pool.Exec(ctx, query,
		account.Username, account.PasswordHash, account.Email, string(attrs), account.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountExists
	}
	return nil
}

func (db *PostgresDB) LogAction(ctx context.Context, action models.Action) error {
	query := `INSERT INTO action_log (kind, username, handle, detail, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := db.pool.Exec(ctx, query,
		string(action.Kind), action.Username, action.Handle, action.Detail, action.CreatedAt)
	return err
}

func (db *PostgresDB) SaveUndelivered(ctx context.Context, msg models.ChatMessage) error {
	query := `INSERT INTO undelivered_messages (from_user, to_user, body, sent_at) VALUES ($1, $2, $3, $4)`
	_, err := db.pool.Exec(ctx, query, msg.From, msg.To, msg.Body, msg.Timestamp)
	return err
}

func encodeAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes: %w", err)
	}
	return data, nil
}

func decodeAttributes(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var attrs map[string]string
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}
