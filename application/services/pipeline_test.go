package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"ideaflow/domain/config"
	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	domain "ideaflow/domain/services"
	"ideaflow/domain/events"
	pkgerrors "ideaflow/pkg/errors"
	"ideaflow/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventTypes(s *aggregates.Session) []string {
	var out []string
	for _, e := range s.GetUncommittedEvents() {
		out = append(out, e.GetEventType())
	}
	return out
}

func TestPipeline_DiscussionReachesConsensus(t *testing.T) {
	ctx := context.Background()
	clock := utils.NewFakeClock(t0.Add(10 * time.Minute))
	p := NewPipeline(config.NewHolder(testPolicy()), nil, nil, clock, nil, nil)
	s := newTestSession(t, "al", "bo", "cy")

	steps := []struct {
		id, author, text string
		md               map[string]interface{}
		kind             domain.ExtractionKind
		state            entities.ConsensusState
	}{
		{"m1", "al", "Morning everyone", nil, domain.KindComment, entities.StateNone},
		{"m2", "bo", "Hi all, coffee first", nil, domain.KindComment, entities.StateNone},
		{"m3", "cy", "Hello, ready when you are", nil, domain.KindComment, entities.StateNone},
		{"m4", "al", "We should build a shared release calendar because launches keep colliding", nil, domain.KindIdea, entities.StateNone},
		{"m5", "bo", "Agreed, that would help a lot", map[string]interface{}{"reply_to": "m4"}, domain.KindReference, entities.StateWeak},
	}

	var ideaOutcome MessageOutcome
	for i, step := range steps {
		msg := newMessage(t, step.id, step.author, step.text, t0.Add(time.Duration(i)*time.Minute), int64(i+1), step.md)
		outcome, err := p.Process(ctx, s, msg)
		require.NoError(t, err, step.id)
		assert.Equal(t, step.kind, outcome.Kind, step.id)
		assert.Equal(t, step.state, outcome.Consensus, step.id)
		if step.kind == domain.KindIdea {
			ideaOutcome = outcome
		}
	}

	require.NotEmpty(t, ideaOutcome.IdeaID)
	require.NotEmpty(t, ideaOutcome.ClusterID)
	assert.True(t, ideaOutcome.Fallback, "no embedder means keyword similarity")

	idea, ok := s.Idea(ideaOutcome.IdeaID)
	require.True(t, ok)
	assert.Equal(t, ideaOutcome.ClusterID, idea.ClusterID())
	assert.Equal(t, 1, idea.Engagement().Replies)
	assert.Len(t, s.Ideas(), 1, "a reference never creates an idea")

	strength, ok := s.Strength(idea.ID())
	require.True(t, ok)
	assert.Equal(t, 1, strength.Rank)

	assert.Equal(t, entities.ModeExecution, s.Mode())
	assert.Equal(t, aggregates.PlanPending, s.PlanState())
	status := s.Consensus().Current
	assert.True(t, status.Detected)
	assert.Equal(t, entities.ConsensusWeak, status.Type)
	assert.Equal(t, 3, status.ActiveParticipants)

	types := eventTypes(s)
	for _, want := range []string{
		events.TypeIdeaCreated, events.TypeClusterUpdated, events.TypeStrengthUpdated,
		events.TypeReferenceLinked, events.TypeConsensusDetected, events.TypeModeChanged, events.TypePlanRequested,
	} {
		assert.Contains(t, types, want)
	}
}

func TestPipeline_ClassifierFailureDegradesToComment(t *testing.T) {
	p := NewPipeline(nil, failingClassifier{}, nil, utils.NewFakeClock(t0), nil, nil)
	s := newTestSession(t, "al")

	outcome, err := p.Process(context.Background(), s, newMessage(t, "m1", "al", "We should rewrite everything", t0, 1, nil))
	require.NoError(t, err)
	assert.Equal(t, domain.KindComment, outcome.Kind)
	assert.Len(t, s.Messages(), 1, "the message is kept in the log")
	assert.Empty(t, s.Ideas())
}

func TestPipeline_DuplicateMessageIsRejected(t *testing.T) {
	p := NewPipeline(nil, nil, nil, utils.NewFakeClock(t0), nil, nil)
	s := newTestSession(t, "al")
	msg := newMessage(t, "m1", "al", "Morning", t0, 1, nil)

	_, err := p.Process(context.Background(), s, msg)
	require.NoError(t, err)
	_, err = p.Process(context.Background(), s, msg)
	assert.True(t, pkgerrors.IsConflict(err))
}

func TestPipeline_EngagementAndCooldown(t *testing.T) {
	ctx := context.Background()
	clock := utils.NewFakeClock(t0.Add(5 * time.Minute))
	p := NewPipeline(config.NewHolder(testPolicy()), nil, nil, clock, nil, nil)
	s := newTestSession(t, "al", "bo", "cy")

	for i, author := range []string{"al", "bo", "cy"} {
		_, err := p.Process(ctx, s, newMessage(t, "c"+author, author, "Checking in", t0.Add(time.Duration(i)*time.Second), int64(i+1), nil))
		require.NoError(t, err)
	}
	outcome, err := p.Process(ctx, s, newMessage(t, "idea", "al", "What if we moved standups to the afternoon", t0.Add(time.Minute), 4, nil))
	require.NoError(t, err)
	require.Equal(t, domain.KindIdea, outcome.Kind)
	ideaID := outcome.IdeaID

	eval, err := p.Engage(s, EngagementReaction, ideaID, "")
	require.NoError(t, err)
	assert.False(t, eval.Transitioned)

	eval, err = p.Engage(s, EngagementSupport, ideaID, "bo")
	require.NoError(t, err)
	assert.True(t, eval.Transitioned)
	assert.Equal(t, entities.StateWeak, eval.Outcome.Tracker.State)

	eval, err = p.Engage(s, EngagementRetract, ideaID, "bo")
	require.NoError(t, err)
	assert.True(t, eval.Deferred, "breakdown waits for the cooldown")
	assert.Equal(t, entities.StateWeak, s.Consensus().State)

	clock.Advance(testPolicy().ConsensusCooldown + time.Second)
	eval = p.Reevaluate(s, "")
	assert.True(t, eval.Outcome.Broken)
	assert.Equal(t, entities.StateBrokenCooldown, s.Consensus().State)
	assert.Equal(t, entities.ModeExecution, s.Mode(), "mode stays in execution after a breakdown")

	_, err = p.Engage(s, EngagementSupport, ideaID, "zed")
	assert.True(t, pkgerrors.IsValidation(err))
	_, err = p.Engage(s, EngagementKind("wave"), ideaID, "bo")
	assert.True(t, pkgerrors.IsValidation(err))
}

type topicEmbedder map[string]valueobjects.Embedding

func (e topicEmbedder) Embed(_ context.Context, text string) (valueobjects.Embedding, error) {
	if v, ok := e[text]; ok {
		return v, nil
	}
	return nil, errors.New("unknown text")
}

func TestPipeline_IdeasPartitionIntoTopicClusters(t *testing.T) {
	ctx := context.Background()
	const (
		calendar = "We should ship a shared release calendar"
		colors   = "We should color code the release calendar by team"
		oncall   = "We could sync the release calendar with on-call rotations"
		cache    = "We should move the build cache to object storage"
		shard    = "Maybe we shard the build cache by platform"
	)
	// Ideas of one topic sit between the assignment and reference thresholds
	// of each other, the two topics are orthogonal.
	embedder := topicEmbedder{
		calendar: {1, 0, 0, 0},
		colors:   {0.8, 0.6, 0, 0},
		oncall:   {0.8, 0, 0.6, 0},
		cache:    {0, 0, 0, 1},
		shard:    {0, 0.6, 0, 0.8},
	}
	clock := utils.NewFakeClock(t0.Add(10 * time.Minute))
	p := NewPipeline(config.NewHolder(testPolicy()), nil, embedder, clock, nil, nil)
	s := newTestSession(t, "al", "bo", "cy")

	stream := []struct{ id, author, text string }{
		{"m1", "al", calendar},
		{"m2", "bo", cache},
		{"m3", "cy", colors},
		{"m4", "al", shard},
		{"m5", "bo", oncall},
	}
	ideaOf := make(map[string]valueobjects.IdeaID)
	clusterOf := make(map[string]valueobjects.ClusterID)
	for i, m := range stream {
		msg := newMessage(t, m.id, m.author, m.text, t0.Add(time.Duration(i)*time.Minute), int64(i+1), nil)
		outcome, err := p.Process(ctx, s, msg)
		require.NoError(t, err, m.id)
		require.Equal(t, domain.KindIdea, outcome.Kind, m.id)
		assert.False(t, outcome.Fallback, m.id)
		ideaOf[m.text] = outcome.IdeaID
		clusterOf[m.text] = outcome.ClusterID
	}

	assert.Equal(t, clusterOf[calendar], clusterOf[colors])
	assert.Equal(t, clusterOf[calendar], clusterOf[oncall])
	assert.Equal(t, clusterOf[cache], clusterOf[shard])
	assert.NotEqual(t, clusterOf[calendar], clusterOf[cache])

	_, err := p.Engage(s, EngagementSupport, ideaOf[oncall], "al")
	require.NoError(t, err)
	_, err = p.Engage(s, EngagementSupport, ideaOf[oncall], "cy")
	require.NoError(t, err)

	require.Len(t, s.Clusters(), 2)
	seen := make(map[valueobjects.IdeaID]valueobjects.ClusterID)
	for _, c := range s.Clusters() {
		var ranks []int
		for _, id := range c.IdeaIDs() {
			prev, dup := seen[id]
			assert.False(t, dup, "idea %s is in clusters %s and %s", id, prev, c.ID())
			seen[id] = c.ID()

			idea, ok := s.Idea(id)
			require.True(t, ok)
			assert.Equal(t, c.ID(), idea.ClusterID())

			st, ok := s.Strength(id)
			require.True(t, ok)
			assert.Equal(t, c.ID(), st.ClusterID)
			ranks = append(ranks, st.Rank)
		}
		sort.Ints(ranks)
		for i, r := range ranks {
			assert.Equal(t, i+1, r, "ranks in cluster %s are dense", c.ID())
		}
	}

	var all []valueobjects.IdeaID
	for _, idea := range s.Ideas() {
		all = append(all, idea.ID())
	}
	var clustered []valueobjects.IdeaID
	for id := range seen {
		clustered = append(clustered, id)
	}
	assert.ElementsMatch(t, all, clustered)
	assert.Len(t, all, len(stream))
}
