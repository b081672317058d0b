package relay

import "sync"

// SessionSet tracks every live connection by connection id, announced or
// not. It is thread-safe.
type SessionSet struct {
	mu       sync.RWMutex
	sessions map[string]*Client
}

// NewSessionSet creates an empty SessionSet.
func NewSessionSet() *SessionSet {
	return &SessionSet{
		sessions: make(map[string]*Client),
	}
}

// Add inserts a client. Connection ids are unique, so an existing entry
// under the same id is a programming error and is replaced after closing
// the stale client.
func (s *SessionSet) Add(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.sessions[client.ID]; ok && old != client {
		old.Close()
		if old.Conn != nil {
			_ = old.Conn.Close()
		}
	}
	s.sessions[client.ID] = client
}

// Remove deletes and closes the client for a connection id. Removing an
// unknown id is a no-op.
func (s *SessionSet) Remove(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.sessions[connID]
	if !ok {
		return
	}
	client.Close()
	if client.Conn != nil {
		_ = client.Conn.Close()
	}
	delete(s.sessions, connID)
}

// RemoveAndWait removes the client and blocks until its pump goroutines
// have exited. Used during graceful shutdown.
func (s *SessionSet) RemoveAndWait(connID string) {
	s.mu.Lock()
	client, ok := s.sessions[connID]
	if ok {
		delete(s.sessions, connID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	client.Close()
	if client.Conn != nil {
		_ = client.Conn.Close()
	}
	client.Wait()
}

// Get retrieves the client for a connection id.
func (s *SessionSet) Get(connID string) (*Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.sessions[connID]
	return client, ok
}

// All returns a snapshot of every live client.
func (s *SessionSet) All() []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*Client, 0, len(s.sessions))
	for _, client := range s.sessions {
		clients = append(clients, client)
	}
	return clients
}

// Count returns the number of live connections.
func (s *SessionSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}
