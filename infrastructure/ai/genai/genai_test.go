package genai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ideaflow/domain/config"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/services/planning"
	pkgerrors "ideaflow/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// fakeModels answers GenerateContent by matching a marker in the prompt
type fakeModels struct {
	mu        sync.Mutex
	replies   map[string]string
	embedding []float32
	err       error
	prompts   []string
}

func (f *fakeModels) EmbedContent(_ context.Context, _ string, _ []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	if cfg == nil || cfg.TaskType != "SEMANTIC_SIMILARITY" {
		return nil, errors.New("unexpected task type")
	}
	return &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: f.embedding}}}, nil
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	prompt := contents[0].Parts[0].Text
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	for marker, reply := range f.replies {
		if strings.Contains(prompt, marker) {
			return textResponse(reply), nil
		}
	}
	return textResponse(""), nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func TestEmbedder(t *testing.T) {
	models := &fakeModels{embedding: []float32{0.1, 0.2, 0.3}}
	e := NewEmbedder(models, "")

	vec, err := e.Embed(context.Background(), "queue the billing jobs")
	require.NoError(t, err)
	assert.Equal(t, valueobjects.Embedding{0.1, 0.2, 0.3}, vec)

	vec[0] = 9
	assert.Equal(t, float32(0.1), models.embedding[0], "embedding is copied")

	models.embedding = nil
	_, err = e.Embed(context.Background(), "x")
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeExternal))

	models.err = errors.New("quota exceeded")
	_, err = e.Embed(context.Background(), "x")
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeExternal))
}

func TestClassifier(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		wantIdea  bool
		fragments []string
		wantType  pkgerrors.ErrorType
	}{
		{
			name:      "keeps fragments found in the message",
			reply:     `{"isIdea": true, "reasoningFragments": ["because cron keeps failing", "it is cheaper"]}`,
			wantIdea:  true,
			fragments: []string{"because cron keeps failing"},
		},
		{
			name:  "fenced json",
			reply: "```json\n{\"isIdea\": false, \"reasoningFragments\": [\"because cron keeps failing\"]}\n```",
		},
		{name: "malformed", reply: `{"isIdea": tru`, wantType: pkgerrors.ErrorTypeInvalidOutput},
		{name: "empty", reply: ``, wantType: pkgerrors.ErrorTypeInvalidOutput},
	}
	const msg = "We should move billing to the queue because cron keeps failing"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(&fakeModels{replies: map[string]string{"billing": tt.reply}}, "gemini-2.0-flash")
			got, err := c.Classify(context.Background(), msg)
			if tt.wantType != "" {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsType(err, tt.wantType))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantIdea, got.IsIdea)
			if len(tt.fragments) == 0 {
				assert.Empty(t, got.ReasoningFragments)
			} else {
				assert.Equal(t, tt.fragments, got.ReasoningFragments)
			}
		})
	}
}

func planContext() planning.PlanContext {
	return planning.PlanContext{
		SessionID:    valueobjects.NewSessionID(),
		SessionTitle: "Billing",
		Consensus:    entities.ConsensusStatus{Detected: true, IdeaID: "idea-1", Type: entities.ConsensusStrong},
		Idea: entities.IdeaView{
			ID: "idea-1", Author: "al", SourceMessageID: "m1",
			Content:   "We should move billing jobs to a queue",
			Reasoning: []string{"because cron keeps failing"},
		},
		Discussion: []entities.MessageView{
			{ID: "m1", Author: "al", Content: "We should move billing jobs to a queue"},
			{ID: "m2", Author: "bo", Content: "Agreed, retries would be free"},
		},
		Participants: []valueobjects.ParticipantID{"al", "bo"},
		MessageCount: 4,
	}
}

var planReplies = map[string]string{
	"Write the problem statement": `{"summary": "Billing jobs fail under cron", "context": "Nightly runs", "goals": ["Reliable billing"]}`,
	"List at most": `{"features": [
		{"id": "F1", "name": "Job queue", "description": "Queue billing jobs", "priority": "must-have"},
		{"id": "F2", "name": "Dashboard", "description": "Show job state", "priority": "nice-to-have"}]}`,
	"Break every feature": `{"tasks": [
		{"id": "T1", "featureId": "F1", "title": "Provision queue", "effort": "small"},
		{"id": "T2", "featureId": "F1", "title": "Move jobs", "effort": "medium", "dependencies": ["T1"]},
		{"id": "T3", "featureId": "F2", "title": "Build dashboard", "effort": "medium", "dependencies": ["T2"]}]}`,
	"Recommend technologies": `{
		"frontend": [{"name": "React", "justification": "Team knows it", "alternatives": ["Svelte"]}],
		"backend": [{"name": "Go", "justification": "Existing services", "alternatives": ["Kotlin"]}],
		"database": [{"name": "PostgreSQL", "justification": "Job state", "alternatives": ["MySQL"]}],
		"infrastructure": [{"name": "SQS", "justification": "Managed queue", "alternatives": ["RabbitMQ"]}]}`,
	"List risks": `{"risks": [
		{"id": "R1", "category": "technical", "description": "Duplicate charges", "severity": "high", "mitigation": "Idempotency keys"},
		{"id": "R2", "category": "project", "description": "Migration window", "severity": "medium", "mitigation": "Run both paths"}]}`,
}

func TestProducer_GeneratesValidPlan(t *testing.T) {
	models := &fakeModels{replies: planReplies}
	gen := planning.NewGenerator(NewProducer(models, "gemini-2.0-flash"), config.DefaultDomainConfig(), nil).
		WithClock(func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) })

	plan, err := gen.Generate(context.Background(), planContext())
	require.NoError(t, err)
	assert.False(t, plan.Incomplete)
	assert.Equal(t, valueobjects.IdeaID("idea-1"), plan.Problem.SourceIdeaID)
	require.Len(t, plan.Features, 2)
	assert.Equal(t, []valueobjects.IdeaID{"idea-1"}, plan.Features[0].SourceIdeaIDs)
	assert.Equal(t, []string{"T1", "T2", "T3"}, plan.Timeline.TopologicalOrder)
	assert.Equal(t, []string{}, plan.Tasks[0].Dependencies)
	assert.Len(t, plan.Risks.Risks, 2)

	require.NotEmpty(t, models.prompts)
	assert.Contains(t, models.prompts[0], "al: We should move billing jobs to a queue")
}

func TestProducer_LinearDependenciesOnRetry(t *testing.T) {
	models := &fakeModels{replies: map[string]string{"Break every feature": `{"tasks": []}`}}
	p := NewProducer(models, "m")
	features := []entities.Feature{{ID: "F1", Name: "Queue", Description: "d", Priority: entities.PriorityMustHave}}

	_, err := p.Tasks(context.Background(), planContext(), features, planning.GenerationParams{LinearDependencies: true})
	require.NoError(t, err)
	assert.Contains(t, models.prompts[0], "depends only on the task listed immediately before it")
}

func TestProducer_ModelFailure(t *testing.T) {
	p := NewProducer(&fakeModels{err: errors.New("503")}, "m")
	_, err := p.ProblemStatement(context.Background(), planContext(), planning.GenerationParams{})
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeExternal))
}
