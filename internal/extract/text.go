package extract

import (
	"fmt"
	"strconv"
	"strings"
)

// TextProcessor normalizes raw text uploads.
type TextProcessor struct{}

// NewTextProcessor creates a TextProcessor.
func NewTextProcessor() *TextProcessor {
	return &TextProcessor{}
}

// Process normalizes whitespace in user-supplied text. Empty input is
// ErrUnsupported: callers validate presence at the request boundary, so an
// empty body here means the payload was unusable.
func (p *TextProcessor) Process(text, title, author string) (*Result, error) {
	content := normalizeText(text)
	if content == "" {
		return nil, fmt.Errorf("%w: empty text content", ErrUnsupported)
	}

	if title == "" {
		title = deriveTitle(content)
	}

	return &Result{
		Title:   title,
		Content: content,
		Author:  author,
		Metadata: map[string]string{
			"word_count": strconv.Itoa(len(strings.Fields(content))),
			"char_count": strconv.Itoa(len(content)),
		},
	}, nil
}

// deriveTitle takes the first line, capped to 80 characters.
func deriveTitle(content string) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	runes := []rune(line)
	if len(runes) > 80 {
		return string(runes[:77]) + "..."
	}
	return line
}
