package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"
	pkgerrors "ideaflow/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"
)

// EventBridge limits PutEvents to 10 entries per call
const batchSize = 10

// PutEventsAPI is the part of the EventBridge client the notifier needs
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Notifier publishes session events to an EventBridge bus. Each entry's detail
// is the full event record.
type Notifier struct {
	client       PutEventsAPI
	eventBusName string
	source       string
	logger       *zap.Logger
}

// NewNotifier creates a new EventBridge notifier
func NewNotifier(client PutEventsAPI, eventBusName, source string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		client:       client,
		eventBusName: eventBusName,
		source:       source,
		logger:       logger,
	}
}

// Name implements ports.Notifier
func (n *Notifier) Name() string { return "eventbridge" }

// Notify implements ports.Notifier. A partially failed batch fails the whole
// call; the outbox redelivers and receivers deduplicate by event id.
func (n *Notifier) Notify(ctx context.Context, sessionID valueobjects.SessionID, records []events.Record) error {
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := n.publishBatch(ctx, sessionID, records[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) publishBatch(ctx context.Context, sessionID valueobjects.SessionID, batch []events.Record) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(batch))
	for _, r := range batch {
		detail, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", r.EventID, err)
		}
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(n.eventBusName),
			Source:       aws.String(n.source),
			DetailType:   aws.String(r.EventType),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(r.Timestamp),
		})
	}

	result, err := n.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return pkgerrors.NewExternalError("eventbridge", err).WithDetail("sessionID", sessionID.String())
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil && i < len(batch) {
				n.logger.Warn("Failed to publish event",
					zap.String("sessionID", sessionID.String()),
					zap.String("eventID", batch[i].EventID),
					zap.String("eventType", batch[i].EventType),
					zap.String("errorCode", aws.ToString(entry.ErrorCode)),
					zap.String("errorMessage", aws.ToString(entry.ErrorMessage)),
				)
			}
		}
		return pkgerrors.NewExternalError("eventbridge", fmt.Errorf("%d events failed to publish", result.FailedEntryCount)).
			WithDetail("sessionID", sessionID.String())
	}

	n.logger.Debug("Events published to EventBridge",
		zap.String("sessionID", sessionID.String()),
		zap.Int("count", len(entries)),
		zap.String("eventBus", n.eventBusName),
	)
	return nil
}
