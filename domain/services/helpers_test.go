package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"

	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestMessage(t *testing.T, id, author, text string, at time.Time, md map[string]interface{}) *entities.Message {
	t.Helper()
	content, err := valueobjects.NewContent(text, 8000)
	require.NoError(t, err)
	msg, err := entities.NewMessage(valueobjects.MessageID(id), valueobjects.ParticipantID(author), content, at, "test", valueobjects.NewMetadata(md), 0)
	require.NoError(t, err)
	return msg
}

func newTestIdea(t *testing.T, id, author, text string, at time.Time) *entities.Idea {
	t.Helper()
	idea, err := entities.NewIdea(valueobjects.IdeaID(id), newTestMessage(t, "msg-"+id, author, text, at, nil), nil)
	require.NoError(t, err)
	return idea
}

// participants returns n participants p0..p(n-1), all active at ts.
func participants(n int, ts time.Time) []entities.Participant {
	out := make([]entities.Participant, n)
	for i := range out {
		out[i] = entities.Participant{
			ID:           valueobjects.ParticipantID(fmt.Sprintf("p%d", i)),
			JoinedAt:     ts.Add(-time.Hour),
			LastActiveAt: ts,
		}
	}
	return out
}

// supportedBy makes participants p0..p(k-1) support idea. p0 is expected to
// be the author.
func supportedBy(idea *entities.Idea, k int) {
	for i := 1; i < k; i++ {
		idea.AddSupporter(valueobjects.ParticipantID(fmt.Sprintf("p%d", i)))
	}
}

// withdraw removes participants p(from)..p(to-1) from the support set.
func withdraw(idea *entities.Idea, from, to int) {
	for i := from; i < to; i++ {
		idea.RetractSupport(valueobjects.ParticipantID(fmt.Sprintf("p%d", i)))
	}
}

type staticEmbedder struct {
	vectors map[string]valueobjects.Embedding
	err     error
}

func (s staticEmbedder) Embed(_ context.Context, text string) (valueobjects.Embedding, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return valueobjects.Embedding{0, 0, 1}, nil
}
