package transcript

import (
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestCompleteTurn_JoinsFragments(t *testing.T) {
	a := NewAggregator()
	a.Append(RoleUser, "Hel")
	a.Append(RoleUser, "lo")

	entries := a.CompleteTurn(fixedNow)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.Text != "Hello" {
		t.Errorf("Expected text 'Hello', got '%s'", e.Text)
	}
	if e.Role != RoleUser {
		t.Errorf("Expected role user, got %s", e.Role)
	}
	if e.ID == "" {
		t.Error("Expected a generated entry ID")
	}
	if !e.CreatedAt.Equal(fixedNow()) {
		t.Errorf("Expected CreatedAt %v, got %v", fixedNow(), e.CreatedAt)
	}

	if a.Pending(RoleUser) != "" {
		t.Errorf("Pending buffer not cleared: '%s'", a.Pending(RoleUser))
	}

	// A second completion with no new fragments yields nothing
	if again := a.CompleteTurn(fixedNow); len(again) != 0 {
		t.Errorf("Expected 0 entries on empty turn, got %d", len(again))
	}
}

func TestCompleteTurn_UserBeforeAssistant(t *testing.T) {
	a := NewAggregator()
	a.Append(RoleAssistant, "Sure, here is the answer.")
	a.Append(RoleUser, "What is the answer?")

	entries := a.CompleteTurn(fixedNow)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Role != RoleUser || entries[1].Role != RoleAssistant {
		t.Errorf("Expected user then assistant, got %s then %s", entries[0].Role, entries[1].Role)
	}
	if entries[0].ID == entries[1].ID {
		t.Error("Entry IDs must be unique")
	}
}

func TestCompleteTurn_SilentTurn(t *testing.T) {
	a := NewAggregator()
	if entries := a.CompleteTurn(fixedNow); len(entries) != 0 {
		t.Errorf("Silent turn produced %d entries", len(entries))
	}
}

func TestCompleteTurn_OneSidedTurn(t *testing.T) {
	a := NewAggregator()
	a.Append(RoleAssistant, "Proactive remark.")

	entries := a.CompleteTurn(nil)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Role != RoleAssistant {
		t.Errorf("Expected assistant entry, got %s", entries[0].Role)
	}
}

func TestAppend_IgnoresUnknownRoleAndEmptyText(t *testing.T) {
	a := NewAggregator()
	a.Append(Role("narrator"), "should vanish")
	a.Append(RoleUser, "")

	if entries := a.CompleteTurn(fixedNow); len(entries) != 0 {
		t.Errorf("Expected 0 entries, got %d", len(entries))
	}
}

func TestStore_AppendOnly(t *testing.T) {
	s := NewStore()
	a := NewAggregator()
	a.Append(RoleUser, "first")
	s.Append(a.CompleteTurn(fixedNow)...)
	a.Append(RoleUser, "second")
	s.Append(a.CompleteTurn(fixedNow)...)

	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Text != "first" || entries[1].Text != "second" {
		t.Errorf("Entries out of order: %q, %q", entries[0].Text, entries[1].Text)
	}

	// Snapshot must be detached from the store
	entries[0].Text = "mutated"
	if s.Entries()[0].Text != "first" {
		t.Error("Store snapshot is not a copy")
	}
}
