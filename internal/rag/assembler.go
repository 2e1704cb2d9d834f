package rag

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kalambet/scribe/internal/storage"
)

const excerptLength = 200

// DocumentLoader resolves chunk metadata to document records.
type DocumentLoader interface {
	GetDocument(id string) (storage.Document, error)
}

// Assembler filters retrieved chunks by relevance and renders them into
// a context block plus one source reference per distinct document.
type Assembler struct {
	docs      DocumentLoader
	threshold float64
	topK      int
	logger    *slog.Logger
}

// NewAssembler creates an Assembler keeping chunks scoring at or above
// threshold, capped at topK.
func NewAssembler(docs DocumentLoader, threshold float64, topK int) *Assembler {
	if topK <= 0 {
		topK = 5
	}
	return &Assembler{
		docs:      docs,
		threshold: threshold,
		topK:      topK,
		logger:    slog.Default(),
	}
}

// Assemble builds the context string and source references. An empty
// context string means nothing cleared the relevance threshold and the
// caller should answer with the insufficient-information message.
func (a *Assembler) Assemble(chunks []RetrievedChunk) (string, []storage.SourceReference) {
	var relevant []RetrievedChunk
	for _, c := range chunks {
		if c.Score >= a.threshold {
			relevant = append(relevant, c)
		}
	}
	if len(relevant) > a.topK {
		relevant = relevant[:a.topK]
	}
	if len(relevant) == 0 {
		return "", nil
	}

	parts := []string{"CONTEXT FROM SOURCES:\n"}
	var sources []storage.SourceReference
	seen := make(map[string]storage.Document)

	for i, chunk := range relevant {
		docID := chunk.DocumentID
		if docID != "" {
			if _, ok := seen[docID]; !ok {
				doc, err := a.docs.GetDocument(docID)
				if err != nil {
					if !errors.Is(err, storage.ErrNotFound) {
						a.logger.Error("loading source document", "document_id", docID, "error", err)
					}
					// Chunks whose document is gone still add context,
					// they just cannot be cited.
				} else {
					seen[docID] = doc
					sources = append(sources, sourceRef(doc, chunk))
				}
			}
		}

		label := chunk.Metadata["title"]
		if label == "" {
			label = "Unknown Source"
		}
		pageInfo := ""
		if page := chunk.Metadata["page_number"]; page != "" {
			pageInfo = ", Page " + page
		}
		parts = append(parts, fmt.Sprintf("\n[Source %d: %s%s]\n%s\n", i+1, label, pageInfo, chunk.Content))
	}

	return strings.Join(parts, "\n"), sources
}

func sourceRef(doc storage.Document, chunk RetrievedChunk) storage.SourceReference {
	ref := storage.SourceReference{
		DocumentID:     doc.ID,
		Title:          doc.Title,
		Type:           doc.Type,
		Author:         doc.Author,
		URL:            doc.SourceURL,
		Excerpt:        excerpt(chunk.Content),
		RelevanceScore: chunk.Score,
		Timestamp:      chunk.Metadata["timestamp"],
	}
	if page := chunk.Metadata["page_number"]; page != "" {
		if n, err := strconv.Atoi(page); err == nil {
			ref.PageNumber = n
		}
	}
	return ref
}

func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= excerptLength {
		return content
	}
	return string(runes[:excerptLength]) + "..."
}
