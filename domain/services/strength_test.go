package services

import (
	"testing"
	"time"

	"ideaflow/domain/config"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrengthEvaluator_EngagementIsMonotonic(t *testing.T) {
	s := NewStrengthEvaluator(config.DefaultDomainConfig())
	base := newTestIdea(t, "a", "p0", "We should add search", baseTime)
	baseline := s.EngagementScore(base.Engagement())

	tests := []struct {
		name   string
		mutate func(*entities.Idea)
	}{
		{"reaction", func(i *entities.Idea) { i.AddReaction() }},
		{"reply", func(i *entities.Idea) { i.RecordReference("m-r", "p0", nil, true) }},
		{"mention", func(i *entities.Idea) { i.RecordReference("m-m", "p0", nil, false) }},
		{"supporter", func(i *entities.Idea) { i.AddSupporter("p9") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idea := newTestIdea(t, "a", "p0", "We should add search", baseTime)
			tt.mutate(idea)
			assert.Greater(t, s.EngagementScore(idea.Engagement()), baseline)
		})
	}
}

func TestStrengthEvaluator_ReasoningScore(t *testing.T) {
	s := NewStrengthEvaluator(config.DefaultDomainConfig())

	tests := []struct {
		name      string
		fragments []string
		expected  float64
	}{
		{"no reasoning", nil, 0},
		{"trivial fragment only earns presence", []string{"because yes"}, 1.0},
		{"two substantive fragments", []string{"because users asked twice", "since churn is rising fast"}, 2.0},
		{"bonus is capped", []string{
			"because one two three", "because four five six", "because seven eight nine",
			"because ten eleven twelve", "because more words here",
		}, 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, s.ReasoningScore(tt.fragments), 1e-9)
		})
	}
}

func TestStrengthEvaluator_UpdateStrength(t *testing.T) {
	s := NewStrengthEvaluator(config.DefaultDomainConfig())
	msg := newTestMessage(t, "m1", "p0", "We should add search because people cannot find docs", baseTime, nil)
	idea, err := entities.NewIdea("a", msg, []string{"because people cannot find docs"})
	require.NoError(t, err)
	idea.AssignCluster("c1")
	idea.AddReaction()

	st := s.UpdateStrength(idea)

	assert.Equal(t, valueobjects.ClusterID("c1"), st.ClusterID)
	assert.InDelta(t, 1.0+2.0, st.EngagementScore, 1e-9)
	assert.InDelta(t, 1.5, st.ReasoningScore, 1e-9)
	assert.InDelta(t, 3.0*1.0+1.5*0.8, st.TotalStrength, 1e-9)
}

func TestStrengthEvaluator_RankCluster(t *testing.T) {
	s := NewStrengthEvaluator(config.DefaultDomainConfig())

	early := newTestIdea(t, "z-early", "p0", "We should add search", baseTime)
	late := newTestIdea(t, "a-late", "p1", "We should add tags", baseTime.Add(time.Minute))
	popular := newTestIdea(t, "m-popular", "p2", "We should add filters", baseTime.Add(2*time.Minute))
	popular.AddReaction()
	twin := newTestIdea(t, "b-twin", "p3", "We should add sorting", baseTime.Add(time.Minute))

	ranked := s.RankCluster([]*entities.Idea{late, early, popular, twin})

	require.Len(t, ranked, 4)
	ids := make([]valueobjects.IdeaID, len(ranked))
	for i, st := range ranked {
		ids[i] = st.IdeaID
		assert.Equal(t, i+1, st.Rank)
	}
	assert.Equal(t, []valueobjects.IdeaID{"m-popular", "z-early", "a-late", "b-twin"}, ids)
}
