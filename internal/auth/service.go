package auth

import (
	"errors"
	"fmt"
	"time"

	"webim/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Service issues and validates the login tokens handed out on successful
// password logins. A valid token lets a client log in again without its
// password until it expires.
type Service struct {
	secret    []byte
	expiresIn time.Duration
	now       func() time.Time
}

func NewService(cfg config.JWTConfig) *Service {
	return &Service{
		secret:    cfg.Secret,
		expiresIn: cfg.ExpiresIn,
		now:       time.Now,
	}
}

func (s *Service) GenerateToken(username string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"username": username,
		"exp":      now.Add(s.expiresIn).Unix(),
		"iat":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// UsernameFromToken validates tokenString and returns the username claim.
func (s *Service) UsernameFromToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	username, ok := (*claims)["username"].(string)
	if !ok || username == "" {
		return "", fmt.Errorf("%w: missing username", ErrInvalidToken)
	}
	return username, nil
}
