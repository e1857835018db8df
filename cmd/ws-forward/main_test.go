package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ideaflow/domain/core/valueobjects"
	domainevents "ideaflow/domain/events"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, sessionID valueobjects.SessionID, records []domainevents.Record) error {
	return m.Called(ctx, sessionID, records).Error(0)
}

func busEvent(t *testing.T, record domainevents.Record) events.CloudWatchEvent {
	t.Helper()
	detail, err := json.Marshal(record)
	require.NoError(t, err)
	return events.CloudWatchEvent{ID: "bus-1", DetailType: record.EventType, Detail: detail}
}

func TestForwarder(t *testing.T) {
	sid := valueobjects.NewSessionID()
	record := domainevents.Record{
		EventID:   "evt-1",
		SessionID: sid.String(),
		EventType: domainevents.TypeConsensusDetected,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Version:   7,
		Payload:   json.RawMessage(`{"idea_id":"i-1"}`),
	}

	t.Run("forwards the record to the session", func(t *testing.T) {
		n := &mockNotifier{}
		n.On("Notify", mock.Anything, sid, mock.MatchedBy(func(rs []domainevents.Record) bool {
			return len(rs) == 1 && rs[0].EventID == "evt-1" && rs[0].Version == 7
		})).Return(nil)

		f := &forwarder{notifier: n, logger: zap.NewNop()}
		require.NoError(t, f.handle(context.Background(), busEvent(t, record)))
		n.AssertExpectations(t)
	})

	t.Run("delivery failure is returned for retry", func(t *testing.T) {
		n := &mockNotifier{}
		n.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("gone"))

		f := &forwarder{notifier: n, logger: zap.NewNop()}
		assert.Error(t, f.handle(context.Background(), busEvent(t, record)))
	})

	t.Run("malformed events are dropped", func(t *testing.T) {
		n := &mockNotifier{}
		f := &forwarder{notifier: n, logger: zap.NewNop()}

		assert.NoError(t, f.handle(context.Background(), events.CloudWatchEvent{Detail: json.RawMessage(`"x"`)}))
		bad := record
		bad.SessionID = "not-a-uuid"
		assert.NoError(t, f.handle(context.Background(), busEvent(t, bad)))
		n.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
	})
}
