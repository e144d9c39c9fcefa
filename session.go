package mcp

import "sync"

// sessionState holds the session endpoint announced by the server for one connection attempt.
// The receive loop writes it once; request dispatch reads it concurrently. The lock is only ever
// held to read or write the fields, never across I/O, and never together with pendingTable's lock.
type sessionState struct {
	mu       sync.Mutex
	endpoint string
	set      bool
}

// setEndpoint records the endpoint. Only the first call has any effect; it reports whether the
// value was stored.
func (s *sessionState) setEndpoint(endpoint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.set {
		return false
	}
	s.endpoint = endpoint
	s.set = true
	return true
}

func (s *sessionState) get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.endpoint, s.set
}
