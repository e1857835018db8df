package genai

import (
	"context"
	"strings"

	domain "ideaflow/domain/services"
)

const classifierInstruction = `You classify chat messages from a product discussion.
A message is an idea when it proposes something the group could do or build.
Questions, greetings and plain agreement are not ideas.
Return JSON: {"isIdea": boolean, "reasoningFragments": [string]}.
reasoningFragments are verbatim spans of the message that justify the proposal,
such as clauses starting with "because" or "so that". Use an empty list when there are none.`

// Classifier decides whether a message proposes an idea
type Classifier struct {
	model jsonModel
}

// NewClassifier creates a model-backed classifier
func NewClassifier(models Models, model string) *Classifier {
	return &Classifier{model: jsonModel{models: models, model: model, temperature: 0}}
}

// Classify implements domain.Classifier. Fragments the model invents are
// dropped so only text from the message is kept.
func (c *Classifier) Classify(ctx context.Context, content string) (domain.Classification, error) {
	var out domain.Classification
	if err := c.model.generate(ctx, "classification", classifierInstruction, content, &out); err != nil {
		return domain.Classification{}, err
	}

	lower := strings.ToLower(content)
	fragments := make([]string, 0, len(out.ReasoningFragments))
	for _, f := range out.ReasoningFragments {
		f = strings.TrimSpace(f)
		if f != "" && strings.Contains(lower, strings.ToLower(f)) {
			fragments = append(fragments, f)
		}
	}
	out.ReasoningFragments = fragments
	if !out.IsIdea {
		out.ReasoningFragments = nil
	}
	return out, nil
}
