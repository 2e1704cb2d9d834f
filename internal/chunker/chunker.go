// Package chunker splits normalized document text into bounded,
// overlapping segments with positional metadata. It performs no I/O.
package chunker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// minTextLength is the shortest input worth chunking; anything below it
// yields an empty result, not an error.
const minTextLength = 10

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// Chunker produces chunks of at most Size characters with Overlap
// characters carried between sentence-packed chunks.
type Chunker struct {
	size    int
	overlap int
}

// New validates the configuration. Overlap must be strictly smaller than
// size; an overlap at or above the chunk size would re-emit the same text
// forever.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunk overlap (%d) must be smaller than chunk size (%d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Piece is one emitted chunk: its content plus metadata carrying the
// caller's fields and chunk_index, total_chunks, char_count.
type Piece struct {
	Content  string
	Metadata map[string]string
}

// Page is one page of a paginated source document.
type Page struct {
	Number int
	Text   string
}

// Chunk splits text into ordered pieces. Text shorter than 10 characters
// after trimming returns nil.
func (c *Chunker) Chunk(text string, metadata map[string]string) []Piece {
	if len(strings.TrimSpace(text)) < minTextLength {
		return nil
	}

	paragraphs := splitParagraphs(text)
	pieces := c.packParagraphs(paragraphs, metadata)
	stampIndices(pieces)
	return pieces
}

// ChunkPages chunks each page independently, tagging pieces with the page
// number, then re-indexes the concatenated result so chunk_index and
// total_chunks are document-wide.
func (c *Chunker) ChunkPages(pages []Page, metadata map[string]string) []Piece {
	var all []Piece
	for _, page := range pages {
		if len(strings.TrimSpace(page.Text)) < minTextLength {
			continue
		}
		pageMeta := cloneMeta(metadata)
		pageMeta["page_number"] = strconv.Itoa(page.Number)
		all = append(all, c.packParagraphs(splitParagraphs(page.Text), pageMeta)...)
	}
	stampIndices(all)
	return all
}

// packParagraphs greedily accumulates paragraphs up to the chunk size.
// A paragraph that alone exceeds the size is split into sentences and
// packed with character-level overlap carried between flushes.
func (c *Chunker) packParagraphs(paragraphs []string, metadata map[string]string) []Piece {
	var pieces []Piece
	var current string

	emit := func(content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		pieces = append(pieces, Piece{Content: content, Metadata: cloneMeta(metadata)})
	}

	for _, paragraph := range paragraphs {
		if len(current)+len(paragraph) > c.size {
			emit(current)

			if len(paragraph) > c.size {
				current = c.packSentences(paragraph, emit)
			} else {
				current = paragraph
			}
			continue
		}
		if current == "" {
			current = paragraph
		} else {
			current += "\n\n" + paragraph
		}
	}
	emit(current)
	return pieces
}

// packSentences splits an oversized paragraph into sentences and packs
// them greedily, emitting full buffers through emit. Each flush seeds the
// next buffer with the trailing overlap characters of the flushed text,
// so consecutive chunks share character-level (not sentence-aligned)
// context. The unemitted remainder is returned as the running buffer.
func (c *Chunker) packSentences(paragraph string, emit func(string)) string {
	var buffer string
	for _, sentence := range splitSentences(paragraph) {
		if buffer != "" && len(buffer)+len(sentence) > c.size {
			emit(buffer)
			seed := overlapTail(buffer, c.overlap)
			if seed == "" {
				buffer = sentence
			} else {
				buffer = seed + " " + sentence
			}
			continue
		}
		if buffer == "" {
			buffer = sentence
		} else {
			buffer += " " + sentence
		}
	}
	return buffer
}

// overlapTail returns the last n bytes of s, snapped forward to a rune
// boundary so multi-byte characters are never split.
func overlapTail(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	start := len(s) - n
	if start <= 0 {
		return s
	}
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, p := range paragraphSplit.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// splitSentences breaks text at sentence boundaries: terminal punctuation
// followed by whitespace and a capital letter. The regexp package has no
// lookarounds, so the boundary scan is explicit.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 || j >= len(runes) || !unicode.IsUpper(runes[j]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// stampIndices is the second pass: positions are final only once the whole
// input has been consumed.
func stampIndices(pieces []Piece) {
	total := strconv.Itoa(len(pieces))
	for i := range pieces {
		pieces[i].Metadata["chunk_index"] = strconv.Itoa(i)
		pieces[i].Metadata["total_chunks"] = total
		pieces[i].Metadata["char_count"] = strconv.Itoa(len(pieces[i].Content))
	}
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}
