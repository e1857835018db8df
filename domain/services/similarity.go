package services

import (
	"context"

	"ideaflow/domain/core/valueobjects"

	"go.uber.org/zap"
)

// Embedder is the similarity capability port. Implementations may fail; the
// scorer below always has a deterministic fallback.
type Embedder interface {
	Embed(ctx context.Context, text string) (valueobjects.Embedding, error)
}

// SimilarityScorer compares texts and centroids through an Embedder and falls
// back to keyword overlap (Jaccard over salient terms) when the port errors
// or is absent.
type SimilarityScorer struct {
	embedder Embedder
	logger   *zap.Logger
}

// NewSimilarityScorer creates a scorer. A nil embedder means keyword overlap only.
func NewSimilarityScorer(embedder Embedder, logger *zap.Logger) *SimilarityScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimilarityScorer{embedder: embedder, logger: logger}
}

// Embed returns the embedding of text, or nil when the port is unavailable.
// The boolean reports whether the keyword fallback must be used.
func (s *SimilarityScorer) Embed(ctx context.Context, text string) (valueobjects.Embedding, bool) {
	if s.embedder == nil {
		return nil, true
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil || len(vec) == 0 {
		s.logger.Warn("Similarity port failed, using keyword overlap",
			zap.Error(err),
			zap.Int("textLength", len(text)),
		)
		return nil, true
	}
	return vec, false
}

// Score compares two items that each carry an optional embedding and a
// keyword set. Cosine is used when both embeddings exist, Jaccard otherwise.
func Score(a valueobjects.Embedding, aTerms []string, b valueobjects.Embedding, bTerms []string) (float64, bool) {
	if len(a) > 0 && len(a) == len(b) {
		return a.Cosine(b), false
	}
	return valueobjects.Jaccard(aTerms, bTerms), true
}
