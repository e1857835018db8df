package entities

import (
	"time"

	"ideaflow/domain/core/valueobjects"
)

// Participant is a member of a discussion session.
type Participant struct {
	ID           valueobjects.ParticipantID `json:"id"`
	DisplayName  string                     `json:"displayName,omitempty"`
	JoinedAt     time.Time                  `json:"joinedAt"`
	LastActiveAt time.Time                  `json:"lastActiveAt"`
}

// ActiveSince reports whether the participant has been active at or after cutoff.
// Participants who joined but never spoke count as active from their join time.
func (p Participant) ActiveSince(cutoff time.Time) bool {
	last := p.LastActiveAt
	if last.IsZero() {
		last = p.JoinedAt
	}
	return !last.Before(cutoff)
}
