package transcript

import "sync"

// Source is a citation returned by the remote service backing a factual
// claim. Identity is the URI.
type Source struct {
	Title string
	URI   string
}

// SourceSet holds the deduplicated citation sequence. Merge recomputes the
// reduced list from the full cumulative input, so the latest occurrence of a
// URI determines both its title and its position. Merging the same input
// twice yields the same result as merging it once.
type SourceSet struct {
	mu      sync.RWMutex
	sources []Source
}

// NewSourceSet creates an empty source set
func NewSourceSet() *SourceSet {
	return &SourceSet{}
}

// Merge appends newSources to the prior sequence and collapses to one entry
// per distinct URI. Must be called with the full cumulative source list, not
// deltas. Sources with an empty URI are dropped.
func (s *SourceSet) Merge(newSources []Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	combined := make([]Source, 0, len(s.sources)+len(newSources))
	combined = append(combined, s.sources...)
	combined = append(combined, newSources...)

	index := make(map[string]int, len(combined))
	reduced := make([]Source, 0, len(combined))
	for _, src := range combined {
		if src.URI == "" {
			continue
		}
		if at, seen := index[src.URI]; seen {
			// Later occurrence wins: refresh content and move to the end.
			reduced = append(reduced[:at], reduced[at+1:]...)
			for uri, pos := range index {
				if pos > at {
					index[uri] = pos - 1
				}
			}
		}
		index[src.URI] = len(reduced)
		reduced = append(reduced, src)
	}

	s.sources = reduced
}

// Sources returns a snapshot of the deduplicated citation sequence
func (s *SourceSet) Sources() []Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Source, len(s.sources))
	copy(out, s.sources)
	return out
}

// Len returns the number of distinct sources
func (s *SourceSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sources)
}
