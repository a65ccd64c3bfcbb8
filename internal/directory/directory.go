// Package directory holds registered accounts and checks credentials.
package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"webim/internal/database"
	"webim/internal/models"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrBadCredentials = errors.New("invalid credentials")
	ErrAlreadyExists  = errors.New("username already registered")
	ErrInvalidInput   = errors.New("invalid input")
)

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

type Directory struct {
	store database.AccountStore
	cost  int
	now   func() time.Time
}

func New(store database.AccountStore) *Directory {
	return &Directory{
		store: store,
		cost:  bcrypt.DefaultCost,
		now:   time.Now,
	}
}

// WithHashCost overrides the bcrypt cost, mainly so tests stay fast.
func (d *Directory) WithHashCost(cost int) *Directory {
	d.cost = cost
	return d
}

func (d *Directory) Register(ctx context.Context, username, password, email string, extra map[string]string) error {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if err := validateRegistration(username, password, email); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		Username:     username,
		PasswordHash: string(hash),
		Email:        email,
		Attributes:   extra,
		CreatedAt:    d.now(),
	}

	if err := d.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, database.ErrAccountExists) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (d *Directory) Authenticate(ctx context.Context, username, password string) (*models.Account, error) {
	account, err := d.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}

	// Remove sensitive data
	account.PasswordHash = ""
	return account, nil
}

func (d *Directory) Lookup(ctx context.Context, username string) (*models.Account, error) {
	account, err := d.store.GetAccount(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, database.ErrAccountNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func validateRegistration(username, password, email string) error {
	if username == "" || password == "" || email == "" {
		return fmt.Errorf("%w: missing required fields", ErrInvalidInput)
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	if len(password) > maxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	if len(username) > 64 {
		return fmt.Errorf("%w: username must be at most 64 characters", ErrInvalidInput)
	}
	return nil
}
