package entities

import (
	"testing"
	"time"

	"ideaflow/domain/core/valueobjects"
	pkgerrors "ideaflow/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func mustMessage(t *testing.T, id, author, text string, seq int64) *Message {
	t.Helper()
	content, err := valueobjects.NewContent(text, 100)
	require.NoError(t, err)
	msg, err := NewMessage(valueobjects.MessageID(id), valueobjects.ParticipantID(author), content, now, "", nil, seq)
	require.NoError(t, err)
	return msg
}

func TestNewMessage_Validation(t *testing.T) {
	content, err := valueobjects.NewContent("hello", 100)
	require.NoError(t, err)

	tests := []struct {
		name    string
		id      valueobjects.MessageID
		author  valueobjects.ParticipantID
		content valueobjects.Content
		ts      time.Time
	}{
		{"missing id", "", "al", content, now},
		{"missing author", "m1", "", content, now},
		{"empty content", "m1", "al", valueobjects.Content{}, now},
		{"missing timestamp", "m1", "al", content, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMessage(tt.id, tt.author, tt.content, tt.ts, "slack", nil, 1)
			assert.True(t, pkgerrors.IsValidation(err))
		})
	}

	msg := mustMessage(t, "m1", "al", "hello", 1)
	assert.Equal(t, "unknown", msg.Platform())
}

func TestMessage_Before(t *testing.T) {
	a := mustMessage(t, "a", "al", "one", 1)
	b := mustMessage(t, "b", "al", "two", 2)
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
}

func TestIdea_Engagement(t *testing.T) {
	idea, err := NewIdea("idea-1", mustMessage(t, "m1", "al", "We should ship", 1), []string{"because"})
	require.NoError(t, err)

	assert.Equal(t, []valueobjects.ParticipantID{"al"}, idea.Engagement().Supporters())

	idea.RecordReference("m2", "bo", []string{"since it helps"}, false)
	idea.RecordReference("m2", "bo", []string{"since it helps"}, false)
	idea.RecordReference("m3", "cy", nil, true)

	eng := idea.Engagement()
	assert.Equal(t, 1, eng.Mentions)
	assert.Equal(t, 1, eng.Replies)
	assert.Equal(t, []valueobjects.ParticipantID{"al", "bo", "cy"}, eng.SupportSet())
	assert.Equal(t, []string{"because", "since it helps"}, idea.Reasoning())

	assert.False(t, idea.AddSupporter("al"))
	assert.True(t, idea.RetractSupport("bo"))
	assert.False(t, idea.RetractSupport("bo"))
	assert.False(t, idea.Engagement().Supports("bo"))

	// copies do not leak into the idea
	eng.Reactions = 99
	assert.Equal(t, 0, idea.Engagement().Reactions)
}

func TestCluster_AddIdea(t *testing.T) {
	first, err := NewIdea("i1", mustMessage(t, "m1", "al", "offline mode", 1), nil)
	require.NoError(t, err)
	second, err := NewIdea("i2", mustMessage(t, "m2", "bo", "offline sync", 2), nil)
	require.NoError(t, err)
	third, err := NewIdea("i3", mustMessage(t, "m3", "bo", "offline cache", 3), nil)
	require.NoError(t, err)

	c := NewCluster("c1", first, valueobjects.Embedding{1, 0}, 0, now)
	c.AddIdea(second, valueobjects.Embedding{0, 1}, now)
	c.AddIdea(second, valueobjects.Embedding{0, 1}, now)
	c.AddIdea(third, nil, now)

	assert.Equal(t, 3, c.Size())
	assert.Equal(t, []valueobjects.IdeaID{"i1", "i2", "i3"}, c.IdeaIDs())
	assert.InDeltaSlice(t, []float32{0.5, 0.5}, []float32(c.Centroid()), 1e-6)
	assert.Equal(t, 3, c.TermFrequencies()["offline"])
	assert.Equal(t, 2, c.AdditionsSinceLabel())

	c.Relabel("")
	assert.Equal(t, 2, c.AdditionsSinceLabel(), "empty labels are ignored")
	c.Relabel("Offline")
	assert.Equal(t, "Offline", c.Label())
	assert.Zero(t, c.AdditionsSinceLabel())
}

func TestConsensusTracker_Clone(t *testing.T) {
	tr := NewConsensusTracker()
	tr.CrossedAt["i1"] = now
	tr.Current.Supporters = []valueobjects.ParticipantID{"al"}

	clone := tr.Clone()
	clone.CrossedAt["i2"] = now
	clone.Current.Supporters[0] = "bo"

	assert.Len(t, tr.CrossedAt, 1)
	assert.Equal(t, valueobjects.ParticipantID("al"), tr.Current.Supporters[0])
	assert.True(t, ConsensusTracker{CooldownUntil: now.Add(time.Minute)}.InCooldown(now))
	assert.False(t, ConsensusTracker{CooldownUntil: now}.InCooldown(now))
}

func TestParticipant_ActiveSince(t *testing.T) {
	cutoff := now.Add(-30 * time.Minute)
	assert.True(t, Participant{JoinedAt: now}.ActiveSince(cutoff))
	assert.False(t, Participant{JoinedAt: now.Add(-time.Hour)}.ActiveSince(cutoff))
	assert.True(t, Participant{JoinedAt: now.Add(-time.Hour), LastActiveAt: cutoff}.ActiveSince(cutoff))
}

func TestProjectPlan_Helpers(t *testing.T) {
	plan := ProjectPlan{Tasks: []Task{{ID: "T1", FeatureID: "F1"}, {ID: "T2", FeatureID: "F2"}, {ID: "T3", FeatureID: "F1"}}}
	assert.Len(t, plan.TasksForFeature("F1"), 2)
	assert.Empty(t, plan.TasksForFeature("F9"))

	assert.Equal(t, SeverityLow, RiskSeverityFor(1, 3, 5))
	assert.Equal(t, SeverityMedium, RiskSeverityFor(3, 3, 5))
	assert.Equal(t, SeverityHigh, RiskSeverityFor(9, 3, 5))
}
