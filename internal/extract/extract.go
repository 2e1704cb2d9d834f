// Package extract pulls normalized text out of heterogeneous sources:
// web pages, PDF files, YouTube transcripts, and raw text.
package extract

import (
	"context"
	"errors"
)

// Typed failures. Extractors never return empty content silently; a total
// failure is always one of these (possibly wrapped).
var (
	// ErrNotFound means the source does not exist (404, missing file,
	// video without a transcript).
	ErrNotFound = errors.New("source not found")
	// ErrUnreachable means the source exists but could not be fetched.
	ErrUnreachable = errors.New("source unreachable")
	// ErrUnsupported means the source cannot be handled (bad scheme,
	// blocked host, unusable content).
	ErrUnsupported = errors.New("source unsupported")
)

// Page is one page of a paginated source.
type Page struct {
	Number int
	Text   string
}

// Result is the normalized extraction output. CleanContent, when set, is
// an alternate rendering better suited for embedding (e.g. a transcript
// without inline timestamps); Content is the display form.
type Result struct {
	Title        string
	Content      string
	CleanContent string
	Author       string
	Pages        []Page
	Metadata     map[string]string
}

// Extractor resolves a source locator into normalized text.
type Extractor interface {
	Extract(ctx context.Context, source string) (*Result, error)
}
