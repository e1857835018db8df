package entities

import (
	"time"

	"ideaflow/domain/core/valueobjects"
)

// ConsensusType classifies the level of agreement on an idea.
type ConsensusType string

const (
	ConsensusNone   ConsensusType = "none"
	ConsensusWeak   ConsensusType = "weak"
	ConsensusStrong ConsensusType = "strong"
)

// ConsensusState is the detector's state machine position.
type ConsensusState string

const (
	StateNone           ConsensusState = "NONE"
	StateWeak           ConsensusState = "WEAK"
	StateStrong         ConsensusState = "STRONG"
	StateBrokenCooldown ConsensusState = "BROKEN_COOLDOWN"
)

// SessionMode is the phase of the discussion.
type SessionMode string

const (
	ModeDiscussion SessionMode = "discussion"
	ModeExecution  SessionMode = "execution"
)

// ConsensusStatus is the current consensus view of a session.
type ConsensusStatus struct {
	Detected           bool                         `json:"detected"`
	IdeaID             valueobjects.IdeaID          `json:"ideaId,omitempty"`
	Type               ConsensusType                `json:"type"`
	SupportPercentage  float64                      `json:"supportPercentage"`
	ActiveParticipants int                          `json:"activeParticipants"`
	Supporters         []valueobjects.ParticipantID `json:"supporters"`
	Timestamp          time.Time                    `json:"timestamp"`
	Breakdown          bool                         `json:"breakdown,omitempty"`
	Candidates         []valueobjects.IdeaID        `json:"candidates,omitempty"`
}

// NoConsensus returns the initial status.
func NoConsensus() ConsensusStatus {
	return ConsensusStatus{Type: ConsensusNone, Supporters: []valueobjects.ParticipantID{}}
}

// ConsensusTransition records one state change for audit and breakdown detection.
type ConsensusTransition struct {
	From      ConsensusState      `json:"from"`
	To        ConsensusState      `json:"to"`
	IdeaID    valueobjects.IdeaID `json:"ideaId,omitempty"`
	Support   float64             `json:"support"`
	Reason    string              `json:"reason"`
	Timestamp time.Time           `json:"timestamp"`
}

// ConsensusTracker is the persisted state of the consensus state machine.
type ConsensusTracker struct {
	State           ConsensusState                    `json:"state"`
	Current         ConsensusStatus                   `json:"current"`
	History         []ConsensusTransition             `json:"history"`
	CooldownUntil   time.Time                         `json:"cooldownUntil"`
	PendingReeval   bool                              `json:"pendingReeval"`
	CrossedAt       map[valueobjects.IdeaID]time.Time `json:"crossedAt"`
	PrimaryDetected bool                              `json:"primaryDetected"`
	TieCandidates   []valueobjects.IdeaID             `json:"tieCandidates,omitempty"`
}

// NewConsensusTracker returns a tracker in the NONE state.
func NewConsensusTracker() ConsensusTracker {
	return ConsensusTracker{
		State:     StateNone,
		Current:   NoConsensus(),
		History:   []ConsensusTransition{},
		CrossedAt: make(map[valueobjects.IdeaID]time.Time),
	}
}

// InCooldown reports whether automatic transitions are suppressed at now.
func (t ConsensusTracker) InCooldown(now time.Time) bool {
	return now.Before(t.CooldownUntil)
}

// Clone returns a deep copy.
func (t ConsensusTracker) Clone() ConsensusTracker {
	out := t
	out.Current.Supporters = append([]valueobjects.ParticipantID{}, t.Current.Supporters...)
	out.Current.Candidates = append([]valueobjects.IdeaID(nil), t.Current.Candidates...)
	out.History = append([]ConsensusTransition{}, t.History...)
	out.TieCandidates = append([]valueobjects.IdeaID(nil), t.TieCandidates...)
	out.CrossedAt = make(map[valueobjects.IdeaID]time.Time, len(t.CrossedAt))
	for id, ts := range t.CrossedAt {
		out.CrossedAt[id] = ts
	}
	return out
}
