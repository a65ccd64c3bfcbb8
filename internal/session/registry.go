// Package session maps live connection handles to logged-in usernames.
//
// The Registry keeps two indices, handle -> Session and username -> handle,
// and every mutation updates both under a single lock, so a reader never
// observes a session present in one index and missing from the other.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Handle identifies one transport connection. Handles are never reused.
type Handle string

var (
	ErrAlreadyOnline = errors.New("user already online")
	ErrAlreadyBound  = errors.New("connection already bound to another user")
	ErrTerminated    = errors.New("session terminated")
	ErrCorrupted     = errors.New("session indices disagree")
	ErrInvalidBind   = errors.New("empty handle or username")
)

// Policy decides what happens when a username that is already online logs
// in again from a different connection.
type Policy int

const (
	// PolicyEvict removes the existing session and binds the new one.
	PolicyEvict Policy = iota
	// PolicyReject refuses the second login.
	PolicyReject
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "evict", "":
		return PolicyEvict, nil
	case "reject":
		return PolicyReject, nil
	default:
		return PolicyEvict, fmt.Errorf("unknown duplicate login policy %q", s)
	}
}

type Session struct {
	Handle   Handle
	Username string
	LoginAt  time.Time
}

type Registry struct {
	mu         sync.RWMutex
	byHandle   map[Handle]Session
	byUsername map[string]Handle
	// handles holds every open connection. An entry is removed only by
	// Release, so a handle that is absent can never bind again.
	handles map[Handle]handleState
	policy  Policy
	now     func() time.Time
}

type handleState int

const (
	stateOpen handleState = iota
	stateTerminated
)

func NewRegistry(policy Policy) *Registry {
	return &Registry{
		byHandle:   make(map[Handle]Session),
		byUsername: make(map[string]Handle),
		handles:    make(map[Handle]handleState),
		policy:     policy,
		now:        time.Now,
	}
}

func (r *Registry) Policy() Policy {
	return r.policy
}

// Open registers a new connection handle. Only open handles can Bind.
// Handles are never reused, so Open is called once per connection.
func (r *Registry) Open(handle Handle) {
	if handle == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[handle]; !ok {
		r.handles[handle] = stateOpen
	}
}

// Bind attaches username to handle. Under PolicyEvict, a session the user
// already had on another handle is removed and that handle is returned so the
// caller can close its connection; that handle is terminated. A handle that
// is not open, or was terminated, fails with ErrTerminated.
func (r *Registry) Bind(handle Handle, username string) (evicted Handle, err error) {
	if handle == "" || username == "" {
		return "", ErrInvalidBind
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.handles[handle]; !ok || state == stateTerminated {
		return "", ErrTerminated
	}

	if current, ok := r.byHandle[handle]; ok {
		if current.Username == username {
			return "", nil
		}
		return "", ErrAlreadyBound
	}

	if prev, online := r.byUsername[username]; online {
		if r.policy == PolicyReject {
			return "", ErrAlreadyOnline
		}
		r.removeLocked(prev)
		r.handles[prev] = stateTerminated
		evicted = prev
	}

	r.byHandle[handle] = Session{Handle: handle, Username: username, LoginAt: r.now()}
	r.byUsername[username] = handle
	return evicted, nil
}

// Unbind removes the session on handle and terminates the handle. A handle
// without a session is left untouched.
func (r *Registry) Unbind(handle Handle) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.removeLocked(handle)
	if ok {
		r.handles[handle] = stateTerminated
	}
	return s, ok
}

// Release is Unbind for a closed connection. The handle is forgotten and
// every later Bind on it fails with ErrTerminated.
func (r *Registry) Release(handle Handle) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.removeLocked(handle)
	delete(r.handles, handle)
	return s, ok
}

func (r *Registry) removeLocked(handle Handle) (Session, bool) {
	s, ok := r.byHandle[handle]
	if !ok {
		return Session{}, false
	}
	delete(r.byHandle, handle)
	if r.byUsername[s.Username] == handle {
		delete(r.byUsername, s.Username)
	} else {
		panic(fmt.Sprintf("%v: handle %s bound to %q but username index points elsewhere", ErrCorrupted, handle, s.Username))
	}
	return s, true
}

func (r *Registry) LookupByHandle(handle Handle) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byHandle[handle]
	return s, ok
}

func (r *Registry) LookupByUsername(username string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byUsername[username]
	return h, ok
}

// IsTerminated reports whether handle can no longer log in: it logged out,
// was evicted, or is not an open connection.
func (r *Registry) IsTerminated(handle Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.handles[handle]
	return !ok || state == stateTerminated
}

// ListOnlineUsernames returns a sorted snapshot of the online usernames.
func (r *Registry) ListOnlineUsernames() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.byUsername))
	for name := range r.byUsername {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}

// Check verifies that both indices describe the same set of sessions.
func (r *Registry) Check() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.byHandle) != len(r.byUsername) {
		return fmt.Errorf("%w: %d handles, %d usernames", ErrCorrupted, len(r.byHandle), len(r.byUsername))
	}
	for h, s := range r.byHandle {
		if s.Handle != h {
			return fmt.Errorf("%w: session under %s claims handle %s", ErrCorrupted, h, s.Handle)
		}
		if r.byUsername[s.Username] != h {
			return fmt.Errorf("%w: %q does not point back to %s", ErrCorrupted, s.Username, h)
		}
		if state, ok := r.handles[h]; !ok || state != stateOpen {
			return fmt.Errorf("%w: session on %s whose handle is not open", ErrCorrupted, h)
		}
	}
	return nil
}
