package ports

import (
	"context"
	"time"

	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"
)

// StoredSession is a session document together with its message log.
type StoredSession struct {
	Snapshot aggregates.SessionSnapshot
	Messages []entities.MessageView
}

// SessionStore persists session documents with optimistic versioning and an
// append-only message log. This is a port in hexagonal architecture; the
// application layer does not know about the backing store.
type SessionStore interface {
	// Create stores a brand-new session. It fails with a conflict when the id exists.
	Create(ctx context.Context, snap aggregates.SessionSnapshot) error

	// Load returns the latest verified document and the full message log.
	Load(ctx context.Context, id valueobjects.SessionID) (StoredSession, error)

	// Save writes snap if the stored version still equals expectedVersion and
	// appends the given messages to the log. It returns the new version.
	Save(ctx context.Context, snap aggregates.SessionSnapshot, messages []entities.MessageView, expectedVersion int) (int, error)

	// AppendEvents records emitted events for later listing.
	AppendEvents(ctx context.Context, id valueobjects.SessionID, records []events.Record) error

	// ListEvents returns events with a version greater than afterVersion, oldest first.
	ListEvents(ctx context.Context, id valueobjects.SessionID, afterVersion, limit int) ([]events.Record, error)
}

// Notifier delivers session events to subscribers. Delivery is at-least-once,
// receivers deduplicate by event id.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, sessionID valueobjects.SessionID, records []events.Record) error
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// PipelineMetrics receives pipeline counters and timings.
type PipelineMetrics interface {
	MessageProcessed(kind string, fallback bool)
	ConsensusTransition(state string)
	PlanFinished(outcome string, duration time.Duration)
	StorageRetry(operation string)
	NotificationFailed(notifier string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) MessageProcessed(string, bool)      {}
func (NopMetrics) ConsensusTransition(string)         {}
func (NopMetrics) PlanFinished(string, time.Duration) {}
func (NopMetrics) StorageRetry(string)                {}
func (NopMetrics) NotificationFailed(string)          {}

// MultiMetrics fans metrics out to several sinks.
type MultiMetrics []PipelineMetrics

func (m MultiMetrics) MessageProcessed(kind string, fallback bool) {
	for _, s := range m {
		s.MessageProcessed(kind, fallback)
	}
}

func (m MultiMetrics) ConsensusTransition(state string) {
	for _, s := range m {
		s.ConsensusTransition(state)
	}
}

func (m MultiMetrics) PlanFinished(outcome string, d time.Duration) {
	for _, s := range m {
		s.PlanFinished(outcome, d)
	}
}

func (m MultiMetrics) StorageRetry(operation string) {
	for _, s := range m {
		s.StorageRetry(operation)
	}
}

func (m MultiMetrics) NotificationFailed(notifier string) {
	for _, s := range m {
		s.NotificationFailed(notifier)
	}
}
