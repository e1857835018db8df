package valueobjects

import (
	"errors"
	"strings"

	pkgerrors "ideaflow/pkg/errors"

	"github.com/google/uuid"
)

// SessionID is a value object representing a unique discussion session identifier
type SessionID struct {
	value string
}

// NewSessionID creates a new random SessionID
func NewSessionID() SessionID {
	return SessionID{value: uuid.New().String()}
}

// NewSessionIDFromString creates a SessionID from an existing string
func NewSessionIDFromString(id string) (SessionID, error) {
	if id == "" {
		return SessionID{}, pkgerrors.NewValidationError("session ID cannot be empty").WithCode("INVALID_SESSION_ID")
	}
	if !isValidUUID(id) {
		return SessionID{}, pkgerrors.NewValidationError("session ID must be a valid UUID").WithCode("INVALID_SESSION_ID")
	}
	return SessionID{value: id}, nil
}

// String returns the string representation of the SessionID
func (id SessionID) String() string {
	return id.value
}

// Equals checks if two SessionIDs are equal
func (id SessionID) Equals(other SessionID) bool {
	return id.value == other.value
}

// IsZero checks if the SessionID is the zero value
func (id SessionID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler
func (id SessionID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.value + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *SessionID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("SessionID must be a string")
	}
	id.value = string(data[1 : len(data)-1])
	return nil
}

// MessageID identifies a message as assigned by the ingestion boundary.
type MessageID string

// ParticipantID identifies a discussion participant.
type ParticipantID string

// NewParticipantID trims and validates a participant identifier.
func NewParticipantID(id string) (ParticipantID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("participant ID cannot be empty")
	}
	return ParticipantID(id), nil
}

// IdeaID identifies an idea within a session.
type IdeaID string

// NewIdeaID creates a new random IdeaID
func NewIdeaID() IdeaID {
	return IdeaID("idea-" + uuid.New().String())
}

// ClusterID identifies a cluster within a session.
type ClusterID string

// NewClusterID creates a new random ClusterID
func NewClusterID() ClusterID {
	return ClusterID("cluster-" + uuid.New().String())
}

// isValidUUID validates if a string is a valid UUID
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
