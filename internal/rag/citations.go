package rag

import (
	"fmt"
	"regexp"

	"github.com/kalambet/scribe/internal/storage"
)

var citationPattern = regexp.MustCompile(`\[Source:[^\]]+\]`)

// FormatCitation renders the inline citation marker for a source, using
// the page number for PDFs and the timestamp for videos when present.
func FormatCitation(ref storage.SourceReference) string {
	switch {
	case ref.Type == storage.DocTypePDF && ref.PageNumber > 0:
		return fmt.Sprintf("[Source: %s, Page %d]", ref.Title, ref.PageNumber)
	case ref.Type == storage.DocTypeYouTube && ref.Timestamp != "":
		return fmt.Sprintf("[Source: %s, %s]", ref.Title, ref.Timestamp)
	default:
		return fmt.Sprintf("[Source: %s]", ref.Title)
	}
}

// ExtractCitations returns the citation markers present in an answer, in
// order of appearance.
func ExtractCitations(answer string) []string {
	return citationPattern.FindAllString(answer, -1)
}
