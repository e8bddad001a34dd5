package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/drleelm/drleelm/internal/provider"
	"golang.org/x/sync/errgroup"
)

// EmbeddingCache persists vectors keyed by model and content hash.
// *storage.Store satisfies it.
type EmbeddingCache interface {
	CachedEmbedding(model, hash string) ([]float32, bool, error)
	PutEmbedding(model, hash string, vec []float32) error
}

// Embedder wraps an embeddings provider with an optional vector cache.
type Embedder struct {
	emb   provider.Embeddings
	model string
	cache EmbeddingCache
}

// NewEmbedder creates an Embedder. model identifies the vector space and is
// used both as the cache key and to detect stale indexes; cache may be nil.
func NewEmbedder(emb provider.Embeddings, model string, cache EmbeddingCache) *Embedder {
	return &Embedder{emb: emb, model: model, cache: cache}
}

// Model returns the vector space identifier.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := contentHash(text)
	if e.cache != nil {
		vec, ok, err := e.cache.CachedEmbedding(e.model, hash)
		if err != nil {
			slog.Warn("embedding cache read failed", "model", e.model, "error", err)
		} else if ok {
			return vec, nil
		}
	}

	vec, err := e.emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}

	if e.cache != nil {
		if err := e.cache.PutEmbedding(e.model, hash, vec); err != nil {
			slog.Warn("embedding cache write failed", "model", e.model, "error", err)
		}
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Empty texts are skipped and leave a nil vector at their position.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to stay under vendor rate limits.

	for i, text := range texts {
		if text == "" {
			continue
		}
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
