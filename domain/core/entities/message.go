package entities

import (
	"encoding/json"
	"time"

	"ideaflow/domain/core/valueobjects"
	pkgerrors "ideaflow/pkg/errors"
)

// Message is one normalized discussion message. It is immutable once created.
type Message struct {
	id        valueobjects.MessageID
	author    valueobjects.ParticipantID
	content   valueobjects.Content
	timestamp time.Time
	platform  string
	metadata  valueobjects.Metadata
	sequence  int64
}

// NewMessage validates and creates a message. The sequence number is the
// arrival order assigned by the session and breaks timestamp ties.
func NewMessage(
	id valueobjects.MessageID,
	author valueobjects.ParticipantID,
	content valueobjects.Content,
	timestamp time.Time,
	platform string,
	metadata valueobjects.Metadata,
	sequence int64,
) (*Message, error) {
	if id == "" {
		return nil, pkgerrors.NewValidationError("message id cannot be empty")
	}
	if author == "" {
		return nil, pkgerrors.NewValidationError("message author cannot be empty")
	}
	if content.IsEmpty() {
		return nil, pkgerrors.NewValidationError("message content cannot be empty")
	}
	if timestamp.IsZero() {
		return nil, pkgerrors.NewValidationError("message timestamp is required")
	}
	if platform == "" {
		platform = "unknown"
	}

	return &Message{
		id:        id,
		author:    author,
		content:   content,
		timestamp: timestamp.UTC(),
		platform:  platform,
		metadata:  metadata.Clone(),
		sequence:  sequence,
	}, nil
}

func (m *Message) ID() valueobjects.MessageID { return m.id }
func (m *Message) Author() valueobjects.ParticipantID { return m.author }
func (m *Message) Content() valueobjects.Content { return m.content }
func (m *Message) Timestamp() time.Time { return m.timestamp }
func (m *Message) Platform() string { return m.platform }
func (m *Message) Sequence() int64 { return m.sequence }
func (m *Message) Metadata() valueobjects.Metadata { return m.metadata.Clone() }

// Before reports whether m sorts ahead of other in the session log.
func (m *Message) Before(other *Message) bool {
	if !m.timestamp.Equal(other.timestamp) {
		return m.timestamp.Before(other.timestamp)
	}
	return m.sequence < other.sequence
}

// MessageView is the serialized form of a Message.
type MessageView struct {
	ID        valueobjects.MessageID     `json:"id"`
	Author    valueobjects.ParticipantID `json:"author"`
	Content   string                     `json:"content"`
	Timestamp time.Time                  `json:"timestamp"`
	Platform  string                     `json:"platform"`
	Metadata  valueobjects.Metadata      `json:"metadata,omitempty"`
	Sequence  int64                      `json:"sequence"`
}

// View returns the serialized form of the message.
func (m *Message) View() MessageView {
	return MessageView{
		ID:        m.id,
		Author:    m.author,
		Content:   m.content.String(),
		Timestamp: m.timestamp,
		Platform:  m.platform,
		Metadata:  m.metadata.Clone(),
		Sequence:  m.sequence,
	}
}

// MarshalJSON implements json.Marshaler
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.View())
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Message) UnmarshalJSON(data []byte) error {
	var v MessageView
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Message{
		id:        v.ID,
		author:    v.Author,
		content:   valueobjects.Content{},
		timestamp: v.Timestamp,
		platform:  v.Platform,
		metadata:  v.Metadata,
		sequence:  v.Sequence,
	}
	return m.content.UnmarshalText([]byte(v.Content))
}

// ReconstructMessage rebuilds a message from its stored form without
// re-validating it.
func ReconstructMessage(v MessageView) *Message {
	m := &Message{
		id:        v.ID,
		author:    v.Author,
		timestamp: v.Timestamp,
		platform:  v.Platform,
		metadata:  v.Metadata.Clone(),
		sequence:  v.Sequence,
	}
	_ = m.content.UnmarshalText([]byte(v.Content))
	return m
}
