package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPDFExtractMissingFile(t *testing.T) {
	e := NewPDFExtractor()

	_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "absent.pdf"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestPDFExtractCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("this is not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewPDFExtractor()
	if _, err := e.Extract(context.Background(), path); !errors.Is(err, ErrUnsupported) {
		t.Errorf("error = %v, want ErrUnsupported", err)
	}
}
