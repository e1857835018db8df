package services

import (
	"container/heap"
	"time"

	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
)

// reorderBuffer holds concurrently ingested messages until the event-time
// watermark passes them, then releases them in (timestamp, sequence) order.
// The watermark trails the newest timestamp seen by the lateness window.
type reorderBuffer struct {
	window    time.Duration
	pending   messageHeap
	ids       map[valueobjects.MessageID]bool
	maxSeen   time.Time
	watermark time.Time
}

func newReorderBuffer(window time.Duration) *reorderBuffer {
	return &reorderBuffer{window: window, ids: make(map[valueobjects.MessageID]bool)}
}

// Contains reports whether a message with id is still buffered.
func (b *reorderBuffer) Contains(id valueobjects.MessageID) bool {
	return b.ids[id]
}

// Len returns the number of buffered messages.
func (b *reorderBuffer) Len() int {
	return len(b.pending)
}

// Push buffers msg. It reports false when msg is older than what was already
// released; such messages must be processed immediately in arrival order.
func (b *reorderBuffer) Push(msg *entities.Message) bool {
	if !b.watermark.IsZero() && msg.Timestamp().Before(b.watermark) {
		return false
	}
	heap.Push(&b.pending, msg)
	b.ids[msg.ID()] = true
	if msg.Timestamp().After(b.maxSeen) {
		b.maxSeen = msg.Timestamp()
	}
	return true
}

// Restore puts back a message that was released but never persisted. The
// watermark is not consulted, so the next release returns it first.
func (b *reorderBuffer) Restore(msg *entities.Message) {
	if b.ids[msg.ID()] {
		return
	}
	heap.Push(&b.pending, msg)
	b.ids[msg.ID()] = true
}

// Remove drops a buffered message. It reports whether the message was held.
func (b *reorderBuffer) Remove(id valueobjects.MessageID) bool {
	if !b.ids[id] {
		return false
	}
	for i, msg := range b.pending {
		if msg.ID() == id {
			heap.Remove(&b.pending, i)
			break
		}
	}
	delete(b.ids, id)
	return true
}

// Ready pops every message at or below the current watermark.
func (b *reorderBuffer) Ready() []*entities.Message {
	return b.release(b.maxSeen.Add(-b.window))
}

// Drain pops every buffered message regardless of the watermark.
func (b *reorderBuffer) Drain() []*entities.Message {
	return b.release(b.maxSeen)
}

func (b *reorderBuffer) release(upTo time.Time) []*entities.Message {
	var out []*entities.Message
	for len(b.pending) > 0 && !b.pending[0].Timestamp().After(upTo) {
		msg := heap.Pop(&b.pending).(*entities.Message)
		delete(b.ids, msg.ID())
		out = append(out, msg)
	}
	if len(out) > 0 {
		if last := out[len(out)-1].Timestamp(); last.After(b.watermark) {
			b.watermark = last
		}
	}
	return out
}

type messageHeap []*entities.Message

func (h messageHeap) Len() int           { return len(h) }
func (h messageHeap) Less(i, j int) bool { return h[i].Before(h[j]) }
func (h messageHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x any) { *h = append(*h, x.(*entities.Message)) }

func (h *messageHeap) Pop() any {
	old := *h
	n := len(old)
	msg := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return msg
}
