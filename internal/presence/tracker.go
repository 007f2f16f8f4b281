// Package presence tracks which remote participants are currently signaled
// as typing in one order conversation.
package presence

import (
	"sync"

	"github.com/nlanhduy/online-auction-chat/internal/wire"
)

// Tracker maintains at most one typing entry per user id.
//
// Remote entries persist until an explicit stop event arrives; the protocol
// uses explicit start/stop, so there is no local timeout on remote entries.
// Expiry of the local user's own typing signal is the Session Coordinator's
// debounce, not the tracker's concern.
type Tracker struct {
	mu    sync.RWMutex
	order []string
	users map[string]wire.TypingUser
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{users: make(map[string]wire.TypingUser)}
}

// SetTyping records a user as typing. Re-announcing an already typing user
// updates the display name but keeps the original position.
func (t *Tracker) SetTyping(userID, fullName string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.users[userID]; !ok {
		t.order = append(t.order, userID)
	}
	t.users[userID] = wire.TypingUser{UserID: userID, FullName: fullName}
}

// ClearTyping removes a user's typing entry. Unknown ids are a no-op.
func (t *Tracker) ClearTyping(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.users[userID]; !ok {
		return
	}
	delete(t.users, userID)
	for i, id := range t.order {
		if id == userID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// List returns the typing users in the order they started typing.
func (t *Tracker) List() []wire.TypingUser {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]wire.TypingUser, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.users[id])
	}
	return out
}

// Len returns the number of users currently typing.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}

// Reset drops all entries. Called on session teardown.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	t.users = make(map[string]wire.TypingUser)
}
