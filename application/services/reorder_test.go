package services

import (
	"testing"
	"time"

	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"

	"github.com/stretchr/testify/assert"
)

func ids(msgs []*entities.Message) []valueobjects.MessageID {
	out := make([]valueobjects.MessageID, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID())
	}
	return out
}

func TestReorderBuffer_ReleasesInEventTimeOrder(t *testing.T) {
	b := newReorderBuffer(2 * time.Second)

	assert.True(t, b.Push(newMessage(t, "m2", "al", "second", t0.Add(2*time.Second), 1, nil)))
	assert.True(t, b.Push(newMessage(t, "m1", "bo", "first", t0.Add(time.Second), 2, nil)))
	assert.Empty(t, b.Ready(), "nothing is older than the watermark yet")
	assert.True(t, b.Contains("m1"))

	assert.True(t, b.Push(newMessage(t, "m3", "al", "third", t0.Add(4*time.Second), 3, nil)))
	assert.Equal(t, []valueobjects.MessageID{"m1", "m2"}, ids(b.Ready()))
	assert.False(t, b.Contains("m1"))
	assert.Equal(t, 1, b.Len())
}

func TestReorderBuffer_TiesBrokenBySequence(t *testing.T) {
	b := newReorderBuffer(0)
	b.Push(newMessage(t, "b", "al", "same time", t0, 7, nil))
	b.Push(newMessage(t, "a", "bo", "same time", t0, 3, nil))

	assert.Equal(t, []valueobjects.MessageID{"a", "b"}, ids(b.Drain()))
}

func TestReorderBuffer_LateMessagesAreRejected(t *testing.T) {
	b := newReorderBuffer(time.Second)
	b.Push(newMessage(t, "m1", "al", "one", t0, 1, nil))
	b.Push(newMessage(t, "m2", "al", "two", t0.Add(5*time.Second), 2, nil))
	assert.Len(t, b.Ready(), 1)

	late := newMessage(t, "m0", "bo", "zero", t0.Add(-time.Second), 3, nil)
	assert.False(t, b.Push(late))
	assert.False(t, b.Contains("m0"))

	assert.Equal(t, []valueobjects.MessageID{"m2"}, ids(b.Drain()))
	assert.Zero(t, b.Len())
}

func TestReorderBuffer_RestoreAndRemove(t *testing.T) {
	b := newReorderBuffer(time.Minute)
	b.Push(newMessage(t, "m1", "al", "one", t0, 1, nil))
	b.Push(newMessage(t, "m2", "bo", "two", t0.Add(2*time.Minute), 2, nil))
	released := b.Ready()
	assert.Equal(t, []valueobjects.MessageID{"m1"}, ids(released))

	b.Restore(released[0])
	b.Restore(released[0])
	assert.Equal(t, 2, b.Len())
	assert.True(t, b.Remove("m2"))
	assert.False(t, b.Remove("m2"))

	assert.Equal(t, []valueobjects.MessageID{"m1"}, ids(b.Ready()), "restored messages skip the watermark check")
	assert.Zero(t, b.Len())
}
