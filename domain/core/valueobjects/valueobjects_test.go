package valueobjects

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()

	assert.False(t, id.IsZero())
	_, err := uuid.Parse(id.String())
	assert.NoError(t, err)
}

func TestNewSessionIDFromString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "valid UUID string", input: uuid.New().String()},
		{name: "empty string", input: "", wantErr: "session ID cannot be empty"},
		{name: "invalid UUID format", input: "not-a-uuid", wantErr: "session ID must be a valid UUID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewSessionIDFromString(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
				assert.True(t, id.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, id.String())
		})
	}
}

func TestSessionID_JSONRoundTrip(t *testing.T) {
	id := NewSessionID()
	data, err := json.Marshal(struct {
		ID SessionID `json:"id"`
	}{id})
	require.NoError(t, err)

	var decoded struct {
		ID SessionID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, id.Equals(decoded.ID))
}

func TestNewContent(t *testing.T) {
	c, err := NewContent("  we should   add\ncaching  ", 100)
	require.NoError(t, err)
	assert.Equal(t, "we should add caching", c.String())
	assert.Equal(t, 4, c.WordCount())

	_, err = NewContent("   ", 100)
	assert.Error(t, err)

	_, err = NewContent(strings.Repeat("x", 11), 10)
	assert.Error(t, err)
}

func TestKeywordsAndJaccard(t *testing.T) {
	a := Keywords("We should add a Redis cache for the session API!")
	b := Keywords("Adding a cache in front of the session API sounds good")

	assert.Equal(t, []string{"redis", "cache", "session"}, a)
	assert.InDelta(t, 2.0/float64(len(a)+len(b)-2), Jaccard(a, b), 1e-9)
	assert.Equal(t, 0.0, Jaccard(nil, nil))
	assert.Equal(t, 1.0, Jaccard([]string{"x"}, []string{"x", "x"}))
}

func TestTopTerms(t *testing.T) {
	terms := TopTerms(map[string]int{"cache": 3, "redis": 3, "api": 1, "queue": 2}, 3)
	assert.Equal(t, []string{"cache", "redis", "queue"}, terms)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt("short", 10))
	assert.Equal(t, "abcd...", Excerpt("abcdefghij", 7))
	assert.Equal(t, "", Excerpt("abc", 0))
}

func TestEmbedding_Cosine(t *testing.T) {
	a := Embedding{1, 0}
	assert.InDelta(t, 1.0, a.Cosine(Embedding{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, a.Cosine(Embedding{0, 1}), 1e-9)
	assert.Equal(t, 0.0, a.Cosine(Embedding{-1, 0}))
	assert.Equal(t, 0.0, a.Cosine(Embedding{1, 0, 0}))
	assert.Equal(t, 0.0, a.Cosine(Embedding{0, 0}))
}

func TestEmbedding_IncrementalMeanReturnsNewVector(t *testing.T) {
	centroid := Embedding{1, 1}
	next := centroid.IncrementalMean(Embedding{3, 5}, 1)

	assert.Equal(t, Embedding{2, 3}, next)
	assert.Equal(t, Embedding{1, 1}, centroid)

	next[0] = 42
	assert.Equal(t, float32(1), centroid[0])
}

func TestMetadata(t *testing.T) {
	md := NewMetadata(map[string]interface{}{
		MetaReplyTo: "m-1",
		"votes":     float64(3),
		"pinned":    true,
		"ignored":   nil,
	})

	reply, ok := md.ReplyTo()
	assert.True(t, ok)
	assert.Equal(t, MessageID("m-1"), reply)
	assert.Equal(t, "3", md["votes"])
	assert.Equal(t, "true", md["pinned"])
	_, ok = md.ReferencedIdea()
	assert.False(t, ok)
	assert.Nil(t, NewMetadata(nil))
}
