// Package ingest runs the per-document processing pipeline
// (extract -> chunk -> embed -> index -> persist) and the background
// worker that drains process_document jobs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/scribe/internal/chunker"
	"github.com/kalambet/scribe/internal/extract"
	"github.com/kalambet/scribe/internal/storage"
)

// ErrEmptyContent is returned when extraction succeeded but chunking
// produced nothing usable.
var ErrEmptyContent = errors.New("no chunks produced from document content")

// DocumentStore is the slice of storage the pipeline needs.
type DocumentStore interface {
	GetDocument(id string) (storage.Document, error)
	SaveProcessingResult(documentID string, chunks []storage.Chunk, metadata map[string]string) error
	MarkDocumentFailed(documentID, errMsg string) error
}

// Embedder batch-embeds chunk texts.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex receives chunk embeddings and supports per-document purges.
type VectorIndex interface {
	Upsert(ids []string, embeddings [][]float32, texts []string, metadatas []map[string]string) ([]string, error)
	DeleteByDocument(documentID string) error
}

// TextProcessor normalizes raw text uploads (the text document type has no
// source locator to fetch).
type TextProcessor interface {
	Process(text, title, author string) (*extract.Result, error)
}

// Pipeline processes one document end to end. It owns the document state
// transitions: success marks processed=true with enriched metadata, any
// failure annotates the document and leaves it processed=false. A retry
// restarts from extraction; pre-existing chunks and index entries are
// purged first so re-runs are idempotent.
type Pipeline struct {
	store    DocumentStore
	chunker  *chunker.Chunker
	embedder Embedder
	index    VectorIndex

	web     extract.Extractor
	pdf     extract.Extractor
	youtube extract.Extractor
	text    TextProcessor

	logger *slog.Logger
}

// Extractors bundles the per-type source extractors.
type Extractors struct {
	Web     extract.Extractor
	PDF     extract.Extractor
	YouTube extract.Extractor
	Text    TextProcessor
}

// NewPipeline creates a Pipeline with the given dependencies.
func NewPipeline(store DocumentStore, ch *chunker.Chunker, embedder Embedder, index VectorIndex, ex Extractors) *Pipeline {
	return &Pipeline{
		store:    store,
		chunker:  ch,
		embedder: embedder,
		index:    index,
		web:      ex.Web,
		pdf:      ex.PDF,
		youtube:  ex.YouTube,
		text:     ex.Text,
		logger:   slog.Default(),
	}
}

// Process runs the full pipeline for one document. Failures after the
// document is loaded are annotated onto the record before returning.
func (p *Pipeline) Process(ctx context.Context, documentID string) error {
	doc, err := p.store.GetDocument(documentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", documentID, err)
	}

	p.logger.Info("processing document", "document_id", doc.ID, "type", doc.Type, "title", doc.Title)

	if err := p.process(ctx, doc); err != nil {
		p.logger.Warn("document processing failed", "document_id", doc.ID, "error", err)
		if markErr := p.store.MarkDocumentFailed(doc.ID, err.Error()); markErr != nil {
			p.logger.Error("failed to annotate document failure", "document_id", doc.ID, "error", markErr)
		}
		return err
	}
	return nil
}

func (p *Pipeline) process(ctx context.Context, doc storage.Document) error {
	result, err := p.extractContent(ctx, doc)
	if err != nil {
		return fmt.Errorf("extracting content: %w", err)
	}

	title := doc.Title
	if title == "" {
		title = result.Title
	}

	baseMeta := map[string]string{
		"document_id": doc.ID,
		"title":       title,
		"type":        doc.Type,
		"source_url":  doc.SourceURL,
	}

	var pieces []chunker.Piece
	if len(result.Pages) > 0 {
		pages := make([]chunker.Page, len(result.Pages))
		for i, pg := range result.Pages {
			pages[i] = chunker.Page{Number: pg.Number, Text: pg.Text}
		}
		pieces = p.chunker.ChunkPages(pages, baseMeta)
	} else {
		content := result.CleanContent
		if content == "" {
			content = result.Content
		}
		pieces = p.chunker.Chunk(content, baseMeta)
	}

	if len(pieces) == 0 {
		return ErrEmptyContent
	}

	texts := make([]string, len(pieces))
	metadatas := make([]map[string]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Content
		metadatas[i] = piece.Metadata
	}

	embeddings, err := p.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	// Purge any entries from an earlier (possibly partial) run before
	// indexing, so a scheduler retry cannot duplicate vectors.
	if err := p.index.DeleteByDocument(doc.ID); err != nil {
		return fmt.Errorf("purging old index entries: %w", err)
	}
	embeddingIDs, err := p.index.Upsert(nil, embeddings, texts, metadatas)
	if err != nil {
		return fmt.Errorf("indexing chunks: %w", err)
	}

	now := time.Now().UTC()
	chunks := make([]storage.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = storage.Chunk{
			ID:          uuid.New().String(),
			DocumentID:  doc.ID,
			Content:     piece.Content,
			ChunkIndex:  i,
			EmbeddingID: embeddingIDs[i],
			Metadata:    piece.Metadata,
			CreatedAt:   now,
		}
	}

	merged := mergeMetadata(doc.Metadata, result.Metadata)
	merged["chunks_count"] = strconv.Itoa(len(chunks))
	merged["total_characters"] = strconv.Itoa(len(result.Content))
	if doc.Title == "" && result.Title != "" {
		merged["extracted_title"] = result.Title
	}

	if err := p.store.SaveProcessingResult(doc.ID, chunks, merged); err != nil {
		return fmt.Errorf("persisting chunks: %w", err)
	}

	p.logger.Info("document processed", "document_id", doc.ID, "chunks", len(chunks))
	return nil
}

func (p *Pipeline) extractContent(ctx context.Context, doc storage.Document) (*extract.Result, error) {
	switch doc.Type {
	case storage.DocTypeURL:
		return p.web.Extract(ctx, doc.SourceURL)
	case storage.DocTypePDF:
		return p.pdf.Extract(ctx, doc.SourceURL)
	case storage.DocTypeYouTube:
		return p.youtube.Extract(ctx, doc.SourceURL)
	case storage.DocTypeText:
		return p.text.Process(doc.Metadata["content"], doc.Title, doc.Author)
	default:
		return nil, fmt.Errorf("%w: unknown document type %q", extract.ErrUnsupported, doc.Type)
	}
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra)+4)
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
