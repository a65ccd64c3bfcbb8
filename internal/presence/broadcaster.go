// Package presence pushes the online-user list to connected clients.
package presence

import (
	"encoding/json"
	"fmt"
	"sync"

	"webim/internal/models"
	"webim/internal/session"
	"webim/pkg/logger"
)

type OnlineLister interface {
	ListOnlineUsernames() []string
}

type Connections interface {
	Handles() []session.Handle
	Push(h session.Handle, payload []byte) error
}

type Broadcaster struct {
	// mu serializes broadcasts so snapshots go out in the order they were taken.
	mu     sync.Mutex
	online OnlineLister
	conns  Connections
}

func NewBroadcaster(online OnlineLister, conns Connections) *Broadcaster {
	return &Broadcaster{online: online, conns: conns}
}

// Broadcast sends the current presence list to every live connection,
// logged in or not, and returns how many pushes succeeded. Failed pushes
// are skipped.
func (b *Broadcaster) Broadcast() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	payload, err := b.payload()
	if err != nil {
		logger.Error("Error marshaling presence update: %v", err)
		return 0
	}

	delivered := 0
	for _, h := range b.conns.Handles() {
		if err := b.conns.Push(h, payload); err != nil {
			logger.Debug("Presence push to %s dropped: %v", h, err)
			continue
		}
		delivered++
	}

	logger.Debug("Presence update delivered to %d connections", delivered)
	return delivered
}

// SendTo pushes the current presence list to a single connection.
func (b *Broadcaster) SendTo(h session.Handle) error {
	payload, err := b.payload()
	if err != nil {
		return fmt.Errorf("failed to marshal presence update: %w", err)
	}
	return b.conns.Push(h, payload)
}

func (b *Broadcaster) payload() ([]byte, error) {
	users := b.online.ListOnlineUsernames()
	return json.Marshal(models.Response{
		Module: models.ModulePresence,
		Act:    models.ActUpdate,
		Err:    models.CodeOK,
		Data: models.PresenceData{
			Users: users,
			Count: len(users),
		},
	})
}
