package genai

import (
	"context"
	"fmt"

	"ideaflow/domain/core/valueobjects"
	pkgerrors "ideaflow/pkg/errors"

	"google.golang.org/genai"
)

// Embedder produces semantic similarity embeddings
type Embedder struct {
	models Models
	model  string
}

// NewEmbedder creates an embedder for model, defaulting to text-embedding-004
func NewEmbedder(models Models, model string) *Embedder {
	if model == "" {
		model = "text-embedding-004"
	}
	return &Embedder{models: models, model: model}
}

// Embed implements domain.Embedder
func (e *Embedder) Embed(ctx context.Context, text string) (valueobjects.Embedding, error) {
	result, err := e.models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"},
	)
	if err != nil {
		return nil, pkgerrors.NewExternalError("genai", err).WithDetail("model", e.model)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, pkgerrors.NewExternalError("genai", fmt.Errorf("no embeddings returned"))
	}
	return valueobjects.Embedding(result.Embeddings[0].Values).Clone(), nil
}
