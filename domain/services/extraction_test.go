package services

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"ideaflow/domain/config"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(ctx context.Context, content string) (Classification, error) {
	args := m.Called(ctx, content)
	return args.Get(0).(Classification), args.Error(1)
}

func TestHeuristicClassifier(t *testing.T) {
	tests := []struct {
		content   string
		isIdea    bool
		reasoning []string
	}{
		{"We should add offline mode because trains have no signal", true, []string{"because trains have no signal"}},
		{"What if we moved standup to 10am?", true, []string{}},
		{"Good morning everyone", false, []string{}},
		{"I agree, since it keeps the build green", false, []string{"since it keeps the build green"}},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			got, err := HeuristicClassifier{}.Classify(context.Background(), tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.isIdea, got.IsIdea)
			assert.ElementsMatch(t, tt.reasoning, got.ReasoningFragments)
		})
	}
}

func TestExtractReasoning(t *testing.T) {
	content := "We should cache results because the API is slow. Since traffic doubles yearly, we need headroom! The becauseless word is ignored"

	fragments := slices.Collect(ExtractReasoning(content))
	assert.Equal(t, []string{
		"because the API is slow",
		"Since traffic doubles yearly, we need headroom",
	}, fragments)

	// the sequence can be consumed again and stopped early
	for f := range ExtractReasoning(content) {
		assert.Equal(t, "because the API is slow", f)
		break
	}
	assert.Empty(t, slices.Collect(ExtractReasoning("")))
}

func TestIdeaExtractor_Extract(t *testing.T) {
	cfg := config.DefaultDomainConfig()
	existing := newTestIdea(t, "idea-1", "p0", "We should add offline mode for trains", baseTime)
	existing.RecordReference("msg-ref", "p1", nil, false)
	ideas := []*entities.Idea{existing}

	aligned := valueobjects.Embedding{1, 0, 0}
	embeddingOf := func(valueobjects.IdeaID) valueobjects.Embedding { return aligned }

	tests := []struct {
		name       string
		embedder   Embedder
		ideas      []*entities.Idea
		text       string
		metadata   map[string]interface{}
		expectKind ExtractionKind
		expectRef  valueobjects.IdeaID
		asReply    bool
		fallback   bool
	}{
		{
			name:       "proposal becomes an idea",
			text:       "We should add offline mode because trains have no signal",
			expectKind: KindIdea,
			fallback:   true,
		},
		{
			name:       "chatter is a comment",
			text:       "Good morning everyone",
			expectKind: KindComment,
		},
		{
			name:       "reply to the source message",
			ideas:      ideas,
			text:       "Yes, and sync later",
			metadata:   map[string]interface{}{valueobjects.MetaReplyTo: "msg-idea-1"},
			expectKind: KindReference,
			expectRef:  "idea-1",
			asReply:    true,
		},
		{
			name:       "reply to an earlier reference",
			ideas:      ideas,
			text:       "Agreed with you",
			metadata:   map[string]interface{}{valueobjects.MetaReplyTo: "msg-ref"},
			expectKind: KindReference,
			expectRef:  "idea-1",
			asReply:    true,
		},
		{
			name:       "explicit idea reference",
			ideas:      ideas,
			text:       "+1 to this",
			metadata:   map[string]interface{}{valueobjects.MetaReferencesIdea: "idea-1"},
			expectKind: KindReference,
			expectRef:  "idea-1",
		},
		{
			name:       "semantic match references the idea",
			embedder:   staticEmbedder{vectors: map[string]valueobjects.Embedding{"Offline support would be huge": aligned}},
			ideas:      ideas,
			text:       "Offline support would be huge",
			expectKind: KindReference,
			expectRef:  "idea-1",
		},
		{
			name:       "keyword overlap references the idea without embeddings",
			ideas:      ideas,
			text:       "We should add offline mode for trains",
			expectKind: KindReference,
			expectRef:  "idea-1",
			fallback:   true,
		},
		{
			name:       "unrelated proposal is a new idea",
			embedder:   staticEmbedder{},
			ideas:      ideas,
			text:       "Let's rotate the on-call schedule weekly",
			expectKind: KindIdea,
		},
		{
			name:       "embedder failure falls back to keywords",
			embedder:   staticEmbedder{err: errors.New("quota")},
			ideas:      ideas,
			text:       "Let's rotate the on-call schedule weekly",
			expectKind: KindIdea,
			fallback:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var scorer *SimilarityScorer
			if tt.embedder != nil {
				scorer = NewSimilarityScorer(tt.embedder, nil)
			} else {
				scorer = NewSimilarityScorer(nil, nil)
			}
			extractor := NewIdeaExtractor(nil, scorer, cfg, nil)
			msg := newTestMessage(t, "msg-new", "p2", tt.text, baseTime.Add(time.Minute), tt.metadata)

			got := extractor.Extract(context.Background(), msg, tt.ideas, embeddingOf)

			assert.Equal(t, tt.expectKind, got.Kind)
			assert.Equal(t, tt.expectRef, got.ReferencedIdea)
			assert.Equal(t, tt.asReply, got.AsReply)
			if tt.expectKind == KindIdea {
				require.NotNil(t, got.Idea)
				assert.Equal(t, valueobjects.ParticipantID("p2"), got.Idea.Author())
				assert.Equal(t, msg.ID(), got.Idea.SourceMessageID())
				assert.Equal(t, tt.fallback, got.Fallback)
			} else {
				assert.Nil(t, got.Idea)
			}
		})
	}
}

func TestIdeaExtractor_ClassifierFailureIsComment(t *testing.T) {
	classifier := new(mockClassifier)
	classifier.On("Classify", mock.Anything, "We should do X").
		Return(Classification{}, errors.New("model unavailable"))

	extractor := NewIdeaExtractor(classifier, NewSimilarityScorer(nil, nil), nil, nil)
	msg := newTestMessage(t, "m1", "p0", "We should do X", baseTime, nil)

	got := extractor.Extract(context.Background(), msg, nil, nil)

	assert.Equal(t, KindComment, got.Kind)
	assert.Error(t, got.Warning)
	classifier.AssertExpectations(t)
}

func TestIdeaExtractor_ReferenceNeverCreatesIdea(t *testing.T) {
	classifier := new(mockClassifier)
	classifier.On("Classify", mock.Anything, mock.Anything).
		Return(Classification{IsIdea: true, ReasoningFragments: []string{" because it is faster "}}, nil)

	existing := newTestIdea(t, "idea-1", "p0", "We should use a queue", baseTime)
	extractor := NewIdeaExtractor(classifier, NewSimilarityScorer(nil, nil), nil, nil)
	msg := newTestMessage(t, "m2", "p1", "We should really use a queue", baseTime,
		map[string]interface{}{valueobjects.MetaReferencesIdea: "idea-1"})

	got := extractor.Extract(context.Background(), msg, []*entities.Idea{existing}, nil)

	assert.Equal(t, KindReference, got.Kind)
	assert.Nil(t, got.Idea)
	assert.Equal(t, []string{"because it is faster"}, got.Reasoning)
}
