// Package rag answers questions over the indexed corpus: retrieve
// relevant chunks, assemble a cited context, prompt the model, and keep
// the conversation record.
package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/scribe/internal/vectorstore"
)

// QueryEmbedder embeds a search query.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex answers nearest-neighbor queries over indexed chunks.
type VectorIndex interface {
	Query(embedding []float32, k int, filter map[string]string) ([]vectorstore.Result, error)
}

// RetrievedChunk is one search hit with its similarity score.
type RetrievedChunk struct {
	ID         string
	DocumentID string
	Content    string
	Metadata   map[string]string
	Score      float64
}

// Retriever turns a question into scored chunks.
type Retriever struct {
	embedder QueryEmbedder
	index    VectorIndex
	topK     int
	logger   *slog.Logger
}

// NewRetriever creates a Retriever fetching up to topK chunks per query.
func NewRetriever(embedder QueryEmbedder, index VectorIndex, topK int) *Retriever {
	if topK <= 0 {
		topK = 10
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		topK:     topK,
		logger:   slog.Default(),
	}
}

// Retrieve embeds the query and searches the index. Scores map distance
// to 1/(1+distance), so an exact match scores 1 and scores fall toward
// zero as chunks get less similar.
func (r *Retriever) Retrieve(ctx context.Context, query string, filter map[string]string) ([]RetrievedChunk, error) {
	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := r.index.Query(embedding, r.topK, filter)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	chunks := make([]RetrievedChunk, len(results))
	for i, res := range results {
		chunks[i] = RetrievedChunk{
			ID:         res.ID,
			DocumentID: res.Metadata["document_id"],
			Content:    res.Text,
			Metadata:   res.Metadata,
			Score:      1 / (1 + res.Distance),
		}
	}

	r.logger.Info("retrieved chunks", "query_len", len(query), "count", len(chunks))
	return chunks, nil
}
