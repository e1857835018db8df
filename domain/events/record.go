package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the transport and storage form of a domain event. The payload is
// the full event encoded as JSON, so receivers can rebuild entities without a
// follow-up read.
type Record struct {
	EventID   string          `json:"event_id"`
	SessionID string          `json:"session_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Version   int             `json:"version"`
	Payload   json.RawMessage `json:"payload"`
}

// ToRecord encodes a domain event.
func ToRecord(event DomainEvent) (Record, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal event %s: %w", event.GetEventType(), err)
	}
	return Record{
		EventID:   event.GetEventID(),
		SessionID: event.GetAggregateID(),
		EventType: event.GetEventType(),
		Timestamp: event.GetTimestamp(),
		Version:   event.GetVersion(),
		Payload:   payload,
	}, nil
}

// ToRecords encodes a batch of events, stopping at the first failure.
func ToRecords(batch []DomainEvent) ([]Record, error) {
	records := make([]Record, 0, len(batch))
	for _, e := range batch {
		r, err := ToRecord(e)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}
