package transcript

import (
	"reflect"
	"testing"
)

func TestMerge_Dedup(t *testing.T) {
	set := NewSourceSet()
	set.Merge([]Source{
		{URI: "https://a.example", Title: "X"},
		{URI: "https://b.example", Title: "Y"},
		{URI: "https://a.example", Title: "X"},
	})

	got := set.Sources()
	expected := []Source{
		{URI: "https://b.example", Title: "Y"},
		{URI: "https://a.example", Title: "X"},
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Sources() = %v, expected %v", got, expected)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	input := []Source{
		{URI: "https://a.example", Title: "X"},
		{URI: "https://b.example", Title: "Y"},
	}

	set := NewSourceSet()
	set.Merge(input)
	once := set.Sources()

	set.Merge(input)
	twice := set.Sources()

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Merging twice changed the result: %v vs %v", once, twice)
	}
	if len(twice) != 2 {
		t.Errorf("Expected 2 sources, got %d", len(twice))
	}
}

func TestMerge_LaterOccurrenceWins(t *testing.T) {
	set := NewSourceSet()
	set.Merge([]Source{
		{URI: "https://a.example", Title: "X"},
		{URI: "https://b.example", Title: "Y"},
	})
	set.Merge([]Source{
		{URI: "https://a.example", Title: "Z"},
	})

	got := set.Sources()
	if len(got) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(got))
	}

	var a *Source
	for i := range got {
		if got[i].URI == "https://a.example" {
			a = &got[i]
		}
	}
	if a == nil {
		t.Fatal("Source A missing after re-merge")
	}
	if a.Title != "Z" {
		t.Errorf("Expected A's title updated to 'Z', got '%s'", a.Title)
	}

	// Later occurrence also determines position
	if got[len(got)-1].URI != "https://a.example" {
		t.Errorf("Expected A moved to the end, got order %v", got)
	}
	if got[0].URI != "https://b.example" {
		t.Errorf("Expected B retained, got order %v", got)
	}
}

func TestMerge_DropsEmptyURI(t *testing.T) {
	set := NewSourceSet()
	set.Merge([]Source{
		{URI: "", Title: "untitled"},
		{URI: "https://a.example", Title: "X"},
	})
	if set.Len() != 1 {
		t.Errorf("Expected 1 source, got %d", set.Len())
	}
}
