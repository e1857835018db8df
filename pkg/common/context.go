package common

import (
	"context"
	"time"
)

// ContextKey represents a context key type
type ContextKey string

// Context keys
const (
	ContextKeyRequestID     ContextKey = "request_id"
	ContextKeyStartTime     ContextKey = "start_time"
	ContextKeyParticipantID ContextKey = "participant_id"
)

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// GetRequestID extracts request ID from context
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(ContextKeyRequestID).(string)
	return requestID, ok && requestID != ""
}

// WithParticipantID records the participant a request acts for
func WithParticipantID(ctx context.Context, participantID string) context.Context {
	return context.WithValue(ctx, ContextKeyParticipantID, participantID)
}

// GetParticipantID extracts the acting participant from context
func GetParticipantID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextKeyParticipantID).(string)
	return id, ok && id != ""
}

// WithStartTime adds start time to context
func WithStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyStartTime, startTime)
}

// GetElapsedTime returns time since the request started, zero if unknown
func GetElapsedTime(ctx context.Context) time.Duration {
	if start, ok := ctx.Value(ContextKeyStartTime).(time.Time); ok {
		return time.Since(start)
	}
	return 0
}

// EnrichContext adds request metadata to context
func EnrichContext(ctx context.Context, requestID, participantID string) context.Context {
	ctx = WithRequestID(ctx, requestID)
	if participantID != "" {
		ctx = WithParticipantID(ctx, participantID)
	}
	return WithStartTime(ctx, time.Now())
}
