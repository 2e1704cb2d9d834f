package chunker

import (
	"strconv"
	"strings"
	"testing"
)

func mustNew(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := New(size, overlap)
	if err != nil {
		t.Fatalf("New(%d, %d): %v", size, overlap, err)
	}
	return c
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name    string
		size    int
		overlap int
	}{
		{"zero size", 0, 0},
		{"negative size", -1, 0},
		{"negative overlap", 100, -1},
		{"overlap equals size", 100, 100},
		{"overlap above size", 100, 150},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.size, tc.overlap); err == nil {
				t.Errorf("New(%d, %d) accepted invalid config", tc.size, tc.overlap)
			}
		})
	}
}

func TestChunkEmptyAndShortInput(t *testing.T) {
	c := mustNew(t, 100, 10)

	for _, input := range []string{"", "   \n\t  ", "too short"} {
		if got := c.Chunk(input, nil); got != nil {
			t.Errorf("Chunk(%q) = %d pieces, want none", input, len(got))
		}
	}
}

func TestChunkSingleParagraph(t *testing.T) {
	c := mustNew(t, 100, 10)

	pieces := c.Chunk("The quick brown fox jumps over the lazy dog.", map[string]string{"title": "fox"})
	if len(pieces) != 1 {
		t.Fatalf("got %d pieces, want 1", len(pieces))
	}

	p := pieces[0]
	if p.Content != "The quick brown fox jumps over the lazy dog." {
		t.Errorf("content = %q", p.Content)
	}
	if p.Metadata["title"] != "fox" {
		t.Errorf("caller metadata dropped: %v", p.Metadata)
	}
	if p.Metadata["chunk_index"] != "0" || p.Metadata["total_chunks"] != "1" {
		t.Errorf("index metadata = %v", p.Metadata)
	}
	if p.Metadata["char_count"] != strconv.Itoa(len(p.Content)) {
		t.Errorf("char_count = %q, want %d", p.Metadata["char_count"], len(p.Content))
	}
}

func TestChunkPacksParagraphsGreedily(t *testing.T) {
	c := mustNew(t, 100, 10)

	// Two paragraphs of ~40 chars fit one chunk; the third forces a flush.
	p1 := strings.Repeat("aa ", 13) // 39 chars
	p2 := strings.Repeat("bb ", 13)
	p3 := strings.Repeat("cc ", 13)
	pieces := c.Chunk(p1+"\n\n"+p2+"\n\n"+p3, nil)

	if len(pieces) != 2 {
		t.Fatalf("got %d pieces, want 2: %#v", len(pieces), pieces)
	}
	if !strings.Contains(pieces[0].Content, "aa") || !strings.Contains(pieces[0].Content, "bb") {
		t.Errorf("first chunk should hold both small paragraphs: %q", pieces[0].Content)
	}
	if !strings.Contains(pieces[1].Content, "cc") {
		t.Errorf("second chunk should hold the third paragraph: %q", pieces[1].Content)
	}
	for i, p := range pieces {
		if p.Metadata["chunk_index"] != strconv.Itoa(i) {
			t.Errorf("piece %d chunk_index = %q", i, p.Metadata["chunk_index"])
		}
		if p.Metadata["total_chunks"] != "2" {
			t.Errorf("piece %d total_chunks = %q", i, p.Metadata["total_chunks"])
		}
	}
}

func TestChunkOversizedParagraphSplitsOnSentences(t *testing.T) {
	c := mustNew(t, 80, 20)

	var sb strings.Builder
	for i := 0; i < 8; i++ {
		sb.WriteString("This sentence number " + strconv.Itoa(i) + " fills the paragraph with words. ")
	}
	pieces := c.Chunk(sb.String(), nil)

	if len(pieces) < 2 {
		t.Fatalf("oversized paragraph not split: %d pieces", len(pieces))
	}
	for i, p := range pieces {
		// A chunk may exceed size only when a single sentence does.
		if len(p.Content) > 80+len("This sentence number 0 fills the paragraph with words.") {
			t.Errorf("piece %d oversized: %d chars", i, len(p.Content))
		}
	}
}

func TestChunkSentenceOverlapCarriesContext(t *testing.T) {
	c := mustNew(t, 60, 15)

	text := "Alpha beta gamma delta epsilon zeta. Second sentence follows here now. Third sentence closes the paragraph out."
	pieces := c.Chunk(text, nil)
	if len(pieces) < 2 {
		t.Fatalf("expected multiple pieces, got %d", len(pieces))
	}

	// Each flush seeds the next chunk with the tail of the previous one.
	for i := 1; i < len(pieces); i++ {
		prev := pieces[i-1].Content
		tail := prev[len(prev)-10:]
		if !strings.Contains(pieces[i].Content, tail) {
			t.Errorf("piece %d does not carry overlap from piece %d:\nprev: %q\nnext: %q", i, i-1, prev, pieces[i].Content)
		}
	}
}

func TestChunkNoTextLost(t *testing.T) {
	c := mustNew(t, 70, 10)

	sentences := []string{
		"First unique marker sentence one.",
		"Second unique marker sentence two.",
		"Third unique marker sentence three.",
		"Fourth unique marker sentence four.",
		"Fifth unique marker sentence five.",
	}
	pieces := c.Chunk(strings.Join(sentences, " "), nil)

	joined := ""
	for _, p := range pieces {
		joined += p.Content + " "
	}
	for _, s := range sentences {
		if !strings.Contains(joined, s) {
			t.Errorf("sentence lost during chunking: %q", s)
		}
	}
}

func TestChunkPagesStampsGlobalIndices(t *testing.T) {
	c := mustNew(t, 50, 5)

	pages := []Page{
		{Number: 1, Text: "Page one has a paragraph.\n\nAnd another paragraph here."},
		{Number: 2, Text: "short"},
		{Number: 3, Text: "Page three carries one more usable paragraph of text."},
	}
	pieces := c.ChunkPages(pages, map[string]string{"title": "doc"})

	if len(pieces) < 3 {
		t.Fatalf("got %d pieces, want at least 3", len(pieces))
	}

	total := strconv.Itoa(len(pieces))
	seenPages := map[string]bool{}
	for i, p := range pieces {
		if p.Metadata["chunk_index"] != strconv.Itoa(i) {
			t.Errorf("piece %d chunk_index = %q, want %d", i, p.Metadata["chunk_index"], i)
		}
		if p.Metadata["total_chunks"] != total {
			t.Errorf("piece %d total_chunks = %q, want %s", i, p.Metadata["total_chunks"], total)
		}
		if p.Metadata["page_number"] == "" {
			t.Errorf("piece %d missing page_number", i)
		}
		seenPages[p.Metadata["page_number"]] = true
	}

	if seenPages["2"] {
		t.Error("page 2 is below the minimum text length and should produce no chunks")
	}
	if !seenPages["1"] || !seenPages["3"] {
		t.Errorf("pages 1 and 3 should both contribute chunks: %v", seenPages)
	}
}

func TestChunkMetadataIsolatedPerPiece(t *testing.T) {
	c := mustNew(t, 40, 5)

	base := map[string]string{"document_id": "d1"}
	pieces := c.Chunk("First paragraph with content.\n\nSecond paragraph with content.", base)
	if len(pieces) != 2 {
		t.Fatalf("got %d pieces, want 2", len(pieces))
	}

	pieces[0].Metadata["document_id"] = "mutated"
	if pieces[1].Metadata["document_id"] != "d1" {
		t.Error("metadata maps shared between pieces")
	}
	if base["chunk_index"] != "" {
		t.Error("caller metadata map mutated")
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First one. Second one! Third? Fourth ends without terminator")
	want := []string{"First one.", "Second one!", "Third?", "Fourth ends without terminator"}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}

	// Abbreviation-style periods without a following capital do not split.
	got = splitSentences("Version 1.2 is out. It is stable.")
	if len(got) != 2 {
		t.Errorf("decimal point treated as boundary: %v", got)
	}
}

func TestOverlapTailRuneSafe(t *testing.T) {
	s := "héllo wörld"
	for n := 1; n <= len(s); n++ {
		tail := overlapTail(s, n)
		if !strings.HasSuffix(s, tail) {
			t.Errorf("overlapTail(%q, %d) = %q is not a suffix", s, n, tail)
		}
		for _, r := range tail {
			if r == '\uFFFD' {
				t.Errorf("overlapTail(%q, %d) split a rune: %q", s, n, tail)
			}
		}
	}
	if overlapTail(s, 0) != "" {
		t.Error("overlapTail with n=0 should be empty")
	}
	if overlapTail(s, 100) != s {
		t.Error("overlapTail larger than input should return the whole string")
	}
}
