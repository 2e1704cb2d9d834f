// Package embedding wraps the model provider with retry and batch
// semantics: transient per-item failures degrade to zero vectors instead
// of aborting a whole document's batch.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	maxAttempts      = 3
	baseBackoff      = 2 * time.Second
	maxBackoff       = 10 * time.Second
	batchConcurrency = 4
)

// Provider generates embeddings for text. Document and query intents are
// distinct because asymmetric-retrieval models embed them differently.
type Provider interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Gateway converts text to fixed-dimension vectors with retry on transient
// failures and a zero-vector fallback in batch mode.
type Gateway struct {
	provider Provider
	dim      int
	backoff  time.Duration
	logger   *slog.Logger
}

// NewGateway creates a Gateway. dim is the provider's embedding
// dimensionality, used to size fallback vectors.
func NewGateway(provider Provider, dim int) *Gateway {
	return &Gateway{
		provider: provider,
		dim:      dim,
		backoff:  baseBackoff,
		logger:   slog.Default(),
	}
}

// EmbedOne embeds a single document text, retrying transient failures
// before propagating the error.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return g.withRetry(ctx, func(ctx context.Context) ([]float32, error) {
		return g.provider.EmbedDocument(ctx, text)
	})
}

// EmbedQuery embeds a search query with the query-mode intent.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return g.withRetry(ctx, func(ctx context.Context) ([]float32, error) {
		return g.provider.EmbedQuery(ctx, text)
	})
}

// EmbedMany embeds texts concurrently, returning one vector per input in
// input order. An item that still fails after retries is replaced with a
// zero vector so one bad chunk cannot abort the batch; zero vectors are
// effectively non-retrievable downstream. Only context cancellation
// aborts the whole batch.
func (g *Gateway) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(batchConcurrency)

	for i, text := range texts {
		group.Go(func() error {
			vec, err := g.EmbedOne(groupCtx, text)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				g.logger.Warn("embedding failed, falling back to zero vector", "item", i, "error", err)
				vec = make([]float32, g.dim)
			}
			results[i] = vec
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (g *Gateway) withRetry(ctx context.Context, fn func(context.Context) ([]float32, error)) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := g.backoff << (attempt - 1)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		vec, err := fn(ctx)
		if err == nil {
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", maxAttempts, lastErr)
}
