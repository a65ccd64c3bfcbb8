package models

import "time"

type Account struct {
	Username     string            `json:"username"`
	PasswordHash string            `json:"-"`
	Email        string            `json:"email"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// AccountInfo is the public view of an Account sent to its owner.
type AccountInfo struct {
	Username   string            `json:"username"`
	Email      string            `json:"email"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (a *Account) Info() AccountInfo {
	return AccountInfo{
		Username:   a.Username,
		Email:      a.Email,
		Attributes: a.Attributes,
		CreatedAt:  a.CreatedAt,
	}
}

type ChatMessage struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Body      string    `json:"body"`
}

type ActionKind string

const (
	ActionRegister   ActionKind = "register"
	ActionLogin      ActionKind = "login"
	ActionLogout     ActionKind = "logout"
	ActionEvicted    ActionKind = "evicted"
	ActionDisconnect ActionKind = "disconnect"
	ActionOffline    ActionKind = "chat_offline"
)

// Action is one entry of the timestamped action log.
type Action struct {
	Kind      ActionKind `json:"kind"`
	Username  string     `json:"username"`
	Handle    string     `json:"handle,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
