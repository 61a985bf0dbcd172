package transcript

import "sync"

// Store is the append-only transcript sequence. Exactly one writer (the
// session's message router) appends; renderers read snapshots.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Append adds finalized entries in order
func (s *Store) Append(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	s.mu.Lock()
	s.entries = append(s.entries, entries...)
	s.mu.Unlock()
}

// Entries returns a snapshot of the transcript
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of finalized entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
