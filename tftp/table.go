package tftp

import (
	"net"
	"sort"
	"sync"
)

// SessionTable maps a peer's transfer ID to its live session. It is the only
// state the server shares between session goroutines.
type SessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionTable() *SessionTable {
	return &SessionTable{
		sessions: make(map[string]*Session),
	}
}

// Insert registers s for peer. It returns false, leaving the table
// unchanged, if a live session already exists for that peer. A terminal
// session left in place is replaced.
func (t *SessionTable) Insert(peer net.Addr, s *Session) bool {
	key := peerKey(peer)

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.sessions[key]; ok && !existing.State().Terminal() {
		return false
	}
	t.sessions[key] = s
	return true
}

// Lookup returns the live session for peer. Terminal sessions are never
// returned.
func (t *SessionTable) Lookup(peer net.Addr) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[peerKey(peer)]
	if !ok || s.State().Terminal() {
		return nil, false
	}
	return s, true
}

// Remove deletes the entry for peer if it still refers to s.
func (t *SessionTable) Remove(peer net.Addr, s *Session) {
	key := peerKey(peer)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessions[key] == s {
		delete(t.sessions, key)
	}
}

func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Peers lists the transfer IDs currently in the table, sorted.
func (t *SessionTable) Peers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	peers := make([]string, 0, len(t.sessions))
	for key := range t.sessions {
		peers = append(peers, key)
	}
	sort.Strings(peers)
	return peers
}
