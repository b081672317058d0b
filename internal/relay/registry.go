package relay

import (
	"sort"
	"sync"
)

// Policy controls what Register does when a user who already has a live
// entry announces a second connection.
type Policy int

const (
	// PolicyLastWins replaces the existing connection for the user. The
	// replaced connection id is returned from Register so the caller can
	// close the dead transport. Pragmatic default: a reconnect after a
	// silent drop becomes authoritative immediately.
	PolicyLastWins Policy = iota

	// PolicyFirstWins keeps the existing connection and silently ignores
	// the new registration. This is the single-device behavior the
	// original product shipped with.
	PolicyFirstWins

	// PolicyMultiDevice tracks a set of connections per user, so every
	// registered device receives forwarded messages.
	PolicyMultiDevice
)

func (p Policy) String() string {
	switch p {
	case PolicyLastWins:
		return "last-wins"
	case PolicyFirstWins:
		return "first-wins"
	case PolicyMultiDevice:
		return "multi"
	default:
		return "unknown"
	}
}

// Registry owns the userID to connectionID presence mapping. No other
// component mutates it; the lifecycle layer is the only writer and the
// router and broadcaster are read-only consumers. It is thread-safe.
type Registry struct {
	mu     sync.RWMutex
	policy Policy

	// byUser preserves registration order per user; only PolicyMultiDevice
	// ever holds more than one element.
	byUser map[string][]string
	byConn map[string]string
}

// NewRegistry creates an empty Registry with the given duplicate policy.
func NewRegistry(policy Policy) *Registry {
	return &Registry{
		policy: policy,
		byUser: make(map[string][]string),
		byConn: make(map[string]string),
	}
}

// Policy returns the configured duplicate policy.
func (r *Registry) Policy() Policy {
	return r.policy
}

// RegisterResult reports everything one Register call did to the
// presence mapping, observed atomically under the registry lock.
type RegisterResult struct {
	// Changed reports whether the mapping mutated at all. It is what
	// gates a presence broadcast, and it can be true even when the
	// policy refused the registration: a connection switching identity
	// sheds its previous entry first, and that detach is a mutation.
	Changed bool

	// Registered reports whether the (userID, connID) pair was inserted.
	// False when the pair already existed or the policy refused it.
	Registered bool

	// WasOnline reports whether userID already had a live entry before
	// this call.
	WasOnline bool

	// Evicted holds connection ids displaced under PolicyLastWins. The
	// caller owns closing those transports.
	Evicted []string

	// PrevUser is the identity this connection shed by re-announcing as
	// a different user, empty otherwise. PrevUserOffline reports whether
	// that user lost their last entry in the process.
	PrevUser        string
	PrevUserOffline bool
}

// Register inserts a presence entry for (userID, connID).
//
// Registering the same pair twice is a silent no-op. A second connection
// for an already-present user is resolved by the policy.
func (r *Registry) Register(userID, connID string) RegisterResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res RegisterResult

	// A connection re-announcing under a different identity sheds its old
	// entry first, so no connection id ever appears under two users.
	if prevUser, ok := r.byConn[connID]; ok && prevUser != userID {
		r.detachLocked(prevUser, connID)
		res.PrevUser = prevUser
		res.PrevUserOffline = len(r.byUser[prevUser]) == 0
		res.Changed = true
	}

	conns := r.byUser[userID]
	res.WasOnline = len(conns) > 0

	for _, c := range conns {
		if c == connID {
			return res
		}
	}

	if len(conns) > 0 {
		switch r.policy {
		case PolicyFirstWins:
			return res
		case PolicyLastWins:
			for _, c := range conns {
				delete(r.byConn, c)
			}
			res.Evicted = conns
			conns = nil
		case PolicyMultiDevice:
			// keep existing entries
		}
	}

	r.byUser[userID] = append(conns, connID)
	r.byConn[connID] = userID
	res.Changed = true
	res.Registered = true
	return res
}

// Lookup returns the connection ids for a user, in registration order.
// ok is false when the user is not present.
func (r *Registry) Lookup(userID string) (connIDs []string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns, ok := r.byUser[userID]
	if !ok || len(conns) == 0 {
		return nil, false
	}
	out := make([]string, len(conns))
	copy(out, conns)
	return out, true
}

// Remove deletes the entry whose connection id matches. Handles the case
// where a connection closes without an explicit logical logout. Removing
// an unknown connection id is a no-op with changed=false, so a double
// remove never triggers a second presence broadcast.
func (r *Registry) Remove(connID string) (userID string, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	r.detachLocked(userID, connID)
	return userID, true
}

// detachLocked removes one (userID, connID) pair. Caller holds r.mu.
func (r *Registry) detachLocked(userID, connID string) {
	delete(r.byConn, connID)

	conns := r.byUser[userID]
	remaining := conns[:0]
	for _, c := range conns {
		if c != connID {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 0 {
		delete(r.byUser, userID)
	} else {
		r.byUser[userID] = remaining
	}
}

// Snapshot returns the distinct online user ids, sorted for deterministic
// broadcasts.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Entries returns every (userID, connectionID) pair, sorted by user then
// connection id. This is the getUsers payload.
func (r *Registry) Entries() []PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]PresenceEntry, 0, len(r.byConn))
	for userID, conns := range r.byUser {
		for _, connID := range conns {
			entries = append(entries, PresenceEntry{UserID: userID, ConnectionID: connID})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UserID != entries[j].UserID {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].ConnectionID < entries[j].ConnectionID
	})
	return entries
}

// Online reports whether a user has at least one live entry.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser[userID]) > 0
}

// Count returns the number of presence entries.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byConn)
}
