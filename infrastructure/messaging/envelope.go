// Package messaging holds the wire shape shared by the push transports.
package messaging

import (
	"encoding/json"
	"time"

	"ideaflow/domain/events"
)

// Envelope is the message pushed to live clients. Data carries the full event
// so clients never need a follow-up read.
type Envelope struct {
	Type      string          `json:"type"`
	EventID   string          `json:"eventId"`
	SessionID string          `json:"sessionId"`
	Version   int             `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope wraps a recorded event
func NewEnvelope(r events.Record) Envelope {
	return Envelope{
		Type:      r.EventType,
		EventID:   r.EventID,
		SessionID: r.SessionID,
		Version:   r.Version,
		Timestamp: r.Timestamp,
		Data:      r.Payload,
	}
}

// Encode marshals records into envelopes, one JSON document per record
func Encode(records []events.Record) ([][]byte, error) {
	out := make([][]byte, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(NewEnvelope(r))
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}
