// Package genai backs the model capabilities of the pipeline with Google's
// Gemini API: embeddings for similarity, idea classification and plan content.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pkgerrors "ideaflow/pkg/errors"

	"google.golang.org/genai"
)

// Models is the part of the genai client the adapters use. *genai.Models
// satisfies it.
type Models interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewModels creates a Gemini API client
func NewModels(ctx context.Context, apiKey string) (Models, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client.Models, nil
}

// jsonModel asks a text model for a JSON document and decodes it
type jsonModel struct {
	models      Models
	model       string
	temperature float32
}

func (m jsonModel) generate(ctx context.Context, stage, system, prompt string, out any) error {
	temp := m.temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       &temp,
		ResponseMIMEType:  "application/json",
	}
	res, err := m.models.GenerateContent(ctx, m.model, []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return pkgerrors.NewExternalError("genai", err).WithDetail("stage", stage)
	}

	text := strings.TrimSpace(res.Text())
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")
	if text == "" {
		return pkgerrors.NewInvalidOutputError(stage, fmt.Errorf("model returned empty text"))
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return pkgerrors.NewInvalidOutputError(stage, err)
	}
	return nil
}

func encodeJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
