package events

import (
	"time"

	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"

	"github.com/google/uuid"
)

// Event type names published on the session event stream.
const (
	TypeSessionCreated         = "session.created"
	TypeParticipantsRegistered = "session.participants_registered"
	TypeSessionClosed          = "session.closed"
	TypeIdeaCreated            = "idea.created"
	TypeReferenceLinked        = "idea.reference_linked"
	TypeClusterUpdated         = "cluster.updated"
	TypeStrengthUpdated        = "strength.updated"
	TypeConsensusDetected      = "consensus.detected"
	TypeConsensusBroken        = "consensus.broken"
	TypeConsensusTie           = "consensus.tie"
	TypeModeChanged            = "mode.changed"
	TypePlanRequested          = "plan.requested"
	TypePlanGenerated          = "plan.generated"
	TypePlanFailed             = "plan.failed"
)

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetEventID() string
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields. EventID lets at-least-once
// receivers drop duplicates.
type BaseEvent struct {
	EventID     string    `json:"event_id"`
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetEventID() string      { return e.EventID }
func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

func newBase(sessionID valueobjects.SessionID, eventType string, timestamp time.Time, version int) BaseEvent {
	return BaseEvent{
		EventID:     uuid.New().String(),
		AggregateID: sessionID.String(),
		EventType:   eventType,
		Timestamp:   timestamp,
		Version:     version,
	}
}

// Session lifecycle events

// SessionCreated is raised when a discussion session starts
type SessionCreated struct {
	BaseEvent
	Title        string                       `json:"title"`
	Participants []valueobjects.ParticipantID `json:"participants"`
}

// NewSessionCreated creates a SessionCreated event
func NewSessionCreated(sessionID valueobjects.SessionID, title string, participants []valueobjects.ParticipantID, timestamp time.Time) SessionCreated {
	return SessionCreated{
		BaseEvent:    newBase(sessionID, TypeSessionCreated, timestamp, 1),
		Title:        title,
		Participants: participants,
	}
}

// ParticipantsRegistered is raised when participants join a running session
type ParticipantsRegistered struct {
	BaseEvent
	Participants []valueobjects.ParticipantID `json:"participants"`
}

// NewParticipantsRegistered creates a ParticipantsRegistered event
func NewParticipantsRegistered(sessionID valueobjects.SessionID, participants []valueobjects.ParticipantID, timestamp time.Time, version int) ParticipantsRegistered {
	return ParticipantsRegistered{
		BaseEvent:    newBase(sessionID, TypeParticipantsRegistered, timestamp, version),
		Participants: participants,
	}
}

// SessionClosed is raised when a session is torn down
type SessionClosed struct {
	BaseEvent
	Reason string `json:"reason"`
}

// NewSessionClosed creates a SessionClosed event
func NewSessionClosed(sessionID valueobjects.SessionID, reason string, timestamp time.Time, version int) SessionClosed {
	return SessionClosed{
		BaseEvent: newBase(sessionID, TypeSessionClosed, timestamp, version),
		Reason:    reason,
	}
}

// Idea events

// IdeaCreated is raised when a message yields a new idea
type IdeaCreated struct {
	BaseEvent
	Idea entities.IdeaView `json:"idea"`
}

// NewIdeaCreated creates an IdeaCreated event
func NewIdeaCreated(sessionID valueobjects.SessionID, idea entities.IdeaView, timestamp time.Time, version int) IdeaCreated {
	return IdeaCreated{
		BaseEvent: newBase(sessionID, TypeIdeaCreated, timestamp, version),
		Idea:      idea,
	}
}

// ReferenceLinked is raised when a message is attached to an existing idea
type ReferenceLinked struct {
	BaseEvent
	MessageID valueobjects.MessageID `json:"message_id"`
	AsReply   bool                   `json:"as_reply"`
	Idea      entities.IdeaView      `json:"idea"`
}

// NewReferenceLinked creates a ReferenceLinked event
func NewReferenceLinked(sessionID valueobjects.SessionID, messageID valueobjects.MessageID, asReply bool, idea entities.IdeaView, timestamp time.Time, version int) ReferenceLinked {
	return ReferenceLinked{
		BaseEvent: newBase(sessionID, TypeReferenceLinked, timestamp, version),
		MessageID: messageID,
		AsReply:   asReply,
		Idea:      idea,
	}
}

// Cluster and strength events

// ClusterUpdated is raised when a cluster is created or gains a member
type ClusterUpdated struct {
	BaseEvent
	Cluster  entities.ClusterView `json:"cluster"`
	IdeaID   valueobjects.IdeaID  `json:"idea_id"`
	Created  bool                 `json:"created"`
	Fallback bool                 `json:"fallback"`
}

// NewClusterUpdated creates a ClusterUpdated event
func NewClusterUpdated(sessionID valueobjects.SessionID, cluster entities.ClusterView, ideaID valueobjects.IdeaID, created, fallback bool, timestamp time.Time, version int) ClusterUpdated {
	return ClusterUpdated{
		BaseEvent: newBase(sessionID, TypeClusterUpdated, timestamp, version),
		Cluster:   cluster,
		IdeaID:    ideaID,
		Created:   created,
		Fallback:  fallback,
	}
}

// StrengthUpdated carries the full re-ranked list of one cluster
type StrengthUpdated struct {
	BaseEvent
	ClusterID valueobjects.ClusterID  `json:"cluster_id"`
	Strengths []entities.IdeaStrength `json:"strengths"`
}

// NewStrengthUpdated creates a StrengthUpdated event
func NewStrengthUpdated(sessionID valueobjects.SessionID, clusterID valueobjects.ClusterID, strengths []entities.IdeaStrength, timestamp time.Time, version int) StrengthUpdated {
	return StrengthUpdated{
		BaseEvent: newBase(sessionID, TypeStrengthUpdated, timestamp, version),
		ClusterID: clusterID,
		Strengths: strengths,
	}
}

// Consensus events

// ConsensusDetected is raised when an idea crosses a consensus threshold
type ConsensusDetected struct {
	BaseEvent
	State  entities.ConsensusState  `json:"state"`
	Status entities.ConsensusStatus `json:"status"`
}

// NewConsensusDetected creates a ConsensusDetected event
func NewConsensusDetected(sessionID valueobjects.SessionID, state entities.ConsensusState, status entities.ConsensusStatus, timestamp time.Time, version int) ConsensusDetected {
	return ConsensusDetected{
		BaseEvent: newBase(sessionID, TypeConsensusDetected, timestamp, version),
		State:     state,
		Status:    status,
	}
}

// ConsensusBroken is raised when active consensus drops below the majority threshold
type ConsensusBroken struct {
	BaseEvent
	PreviousIdeaID valueobjects.IdeaID      `json:"previous_idea_id"`
	Status         entities.ConsensusStatus `json:"status"`
}

// NewConsensusBroken creates a ConsensusBroken event
func NewConsensusBroken(sessionID valueobjects.SessionID, previous valueobjects.IdeaID, status entities.ConsensusStatus, timestamp time.Time, version int) ConsensusBroken {
	return ConsensusBroken{
		BaseEvent:      newBase(sessionID, TypeConsensusBroken, timestamp, version),
		PreviousIdeaID: previous,
		Status:         status,
	}
}

// ConsensusTie is raised when several ideas qualify as primary with equal strength
type ConsensusTie struct {
	BaseEvent
	Candidates []valueobjects.IdeaID    `json:"candidates"`
	Status     entities.ConsensusStatus `json:"status"`
}

// NewConsensusTie creates a ConsensusTie event
func NewConsensusTie(sessionID valueobjects.SessionID, candidates []valueobjects.IdeaID, status entities.ConsensusStatus, timestamp time.Time, version int) ConsensusTie {
	return ConsensusTie{
		BaseEvent:  newBase(sessionID, TypeConsensusTie, timestamp, version),
		Candidates: candidates,
		Status:     status,
	}
}

// ModeChanged is raised when the session switches between discussion and execution
type ModeChanged struct {
	BaseEvent
	From entities.SessionMode `json:"from"`
	To   entities.SessionMode `json:"to"`
}

// NewModeChanged creates a ModeChanged event
func NewModeChanged(sessionID valueobjects.SessionID, from, to entities.SessionMode, timestamp time.Time, version int) ModeChanged {
	return ModeChanged{
		BaseEvent: newBase(sessionID, TypeModeChanged, timestamp, version),
		From:      from,
		To:        to,
	}
}

// Plan events

// PlanRequested asks the plan service to synthesize a plan for a consensus
type PlanRequested struct {
	BaseEvent
	Status entities.ConsensusStatus `json:"status"`
}

// NewPlanRequested creates a PlanRequested event
func NewPlanRequested(sessionID valueobjects.SessionID, status entities.ConsensusStatus, timestamp time.Time, version int) PlanRequested {
	return PlanRequested{
		BaseEvent: newBase(sessionID, TypePlanRequested, timestamp, version),
		Status:    status,
	}
}

// PlanGenerated carries the complete generated plan
type PlanGenerated struct {
	BaseEvent
	Plan entities.ProjectPlan `json:"plan"`
}

// NewPlanGenerated creates a PlanGenerated event
func NewPlanGenerated(sessionID valueobjects.SessionID, plan entities.ProjectPlan, timestamp time.Time, version int) PlanGenerated {
	return PlanGenerated{
		BaseEvent: newBase(sessionID, TypePlanGenerated, timestamp, version),
		Plan:      plan,
	}
}

// PlanFailed reports a plan attempt that could not produce a plan
type PlanFailed struct {
	BaseEvent
	IdeaID      valueobjects.IdeaID `json:"idea_id"`
	Code        string              `json:"code"`
	Message     string              `json:"message"`
	Recoverable bool                `json:"recoverable"`
}

// NewPlanFailed creates a PlanFailed event
func NewPlanFailed(sessionID valueobjects.SessionID, ideaID valueobjects.IdeaID, code, message string, recoverable bool, timestamp time.Time, version int) PlanFailed {
	return PlanFailed{
		BaseEvent:   newBase(sessionID, TypePlanFailed, timestamp, version),
		IdeaID:      ideaID,
		Code:        code,
		Message:     message,
		Recoverable: recoverable,
	}
}
