// Package transcript assembles streamed transcription fragments into
// turn-complete entries and tracks grounding sources across turns.
package transcript

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of the conversation produced a fragment
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// finalizeOrder fixes the order entries are emitted on turn completion:
// user speech first, then the assistant reply.
var finalizeOrder = []Role{RoleUser, RoleAssistant}

// Entry is one finalized transcript line. Immutable once created.
type Entry struct {
	ID        string
	Role      Role
	Text      string
	CreatedAt time.Time
}

// Aggregator accumulates partial-text fragments per role for the turn in
// progress. Not safe for concurrent use; the session's event loop is the
// single writer.
type Aggregator struct {
	pending map[Role]*strings.Builder
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		pending: map[Role]*strings.Builder{
			RoleUser:      {},
			RoleAssistant: {},
		},
	}
}

// Append concatenates a streamed fragment onto the role's pending buffer.
// Fragments arrive in arbitrary number per turn; no upper bound is enforced.
func (a *Aggregator) Append(role Role, text string) {
	b, ok := a.pending[role]
	if !ok || text == "" {
		return
	}
	b.WriteString(text)
}

// Pending returns the in-progress text for a role
func (a *Aggregator) Pending(role Role) string {
	if b, ok := a.pending[role]; ok {
		return b.String()
	}
	return ""
}

// CompleteTurn finalizes the turn: each role with accumulated text produces
// one entry (user before assistant), and both buffers are cleared. A turn
// with no speech on either side yields no entries; that is not an error.
func (a *Aggregator) CompleteTurn(now func() time.Time) []Entry {
	if now == nil {
		now = time.Now
	}

	var entries []Entry
	for _, role := range finalizeOrder {
		b := a.pending[role]
		if b.Len() == 0 {
			continue
		}
		entries = append(entries, Entry{
			ID:        uuid.New().String(),
			Role:      role,
			Text:      b.String(),
			CreatedAt: now(),
		})
		b.Reset()
	}
	return entries
}
