package extract

import (
	"errors"
	"strings"
	"testing"
)

func TestProcessNormalizesText(t *testing.T) {
	p := NewTextProcessor()

	res, err := p.Process("First   paragraph.\n\n\n\nSecond    paragraph.", "Notes", "Ada")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Content != "First paragraph.\n\nSecond paragraph." {
		t.Errorf("content = %q", res.Content)
	}
	if res.Title != "Notes" || res.Author != "Ada" {
		t.Errorf("title/author = %q, %q", res.Title, res.Author)
	}
	if res.Metadata["word_count"] != "4" {
		t.Errorf("word_count = %q", res.Metadata["word_count"])
	}
}

func TestProcessEmptyText(t *testing.T) {
	p := NewTextProcessor()

	for _, input := range []string{"", "   ", "\n\n\t\n"} {
		if _, err := p.Process(input, "t", ""); !errors.Is(err, ErrUnsupported) {
			t.Errorf("Process(%q) error = %v, want ErrUnsupported", input, err)
		}
	}
}

func TestProcessDerivesTitle(t *testing.T) {
	p := NewTextProcessor()

	res, err := p.Process("A short first line\nand the rest of the body follows here.", "", "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Title != "A short first line" {
		t.Errorf("title = %q", res.Title)
	}
}

func TestProcessDerivedTitleCapped(t *testing.T) {
	p := NewTextProcessor()

	long := strings.Repeat("é", 120)
	res, err := p.Process(long, "", "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	runes := []rune(res.Title)
	if len(runes) != 80 {
		t.Errorf("title = %d runes, want 80", len(runes))
	}
	if !strings.HasSuffix(res.Title, "...") || string(runes[:77]) != strings.Repeat("é", 77) {
		t.Errorf("title = %q", res.Title)
	}
}
