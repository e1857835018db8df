package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"
	pkgerrors "ideaflow/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// DynamoDB limit is 25 items per batch
	batchWriteLimit     = 25
	unprocessedAttempts = 4
	eventTTL            = 90 * 24 * time.Hour
)

// EventRecord represents how events are stored in DynamoDB
type EventRecord struct {
	PK        string `dynamodbav:"PK"` // SESSION#<session_id>
	SK        string `dynamodbav:"SK"` // EVT#<version>#<event_id>
	EventID   string `dynamodbav:"EventID"`
	EventType string `dynamodbav:"EventType"`
	SessionID string `dynamodbav:"SessionID"`
	Timestamp string `dynamodbav:"Timestamp"`
	Version   int    `dynamodbav:"Version"`
	Payload   string `dynamodbav:"Payload"`

	// TTL for automatic cleanup
	TTL int64 `dynamodbav:"TTL,omitempty"`
}

func eventSortKey(version int, eventID string) string {
	return fmt.Sprintf("EVT#%012d#%s", version, eventID)
}

// AppendEvents implements ports.SessionStore. Items are keyed by version and
// event id, so writing a record twice leaves a single item.
func (s *SessionStore) AppendEvents(ctx context.Context, id valueobjects.SessionID, records []events.Record) error {
	if len(records) == 0 {
		return nil
	}
	requests := make([]types.WriteRequest, 0, len(records))
	for _, r := range records {
		item, err := attributevalue.MarshalMap(EventRecord{
			PK:        partitionKey(id),
			SK:        eventSortKey(r.Version, r.EventID),
			EventID:   r.EventID,
			EventType: r.EventType,
			SessionID: id.String(),
			Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
			Version:   r.Version,
			Payload:   string(r.Payload),
			TTL:       r.Timestamp.Add(eventTTL).Unix(),
		})
		if err != nil {
			return pkgerrors.NewDatabaseError("encode event", err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	return s.batchWrite(ctx, requests)
}

// batchWrite writes requests in batches and retries unprocessed items with
// backoff.
func (s *SessionStore) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for i := 0; i < len(requests); i += batchWriteLimit {
		pending := requests[i:min(i+batchWriteLimit, len(requests))]
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt >= unprocessedAttempts {
				return pkgerrors.NewDatabaseError("batch write",
					fmt.Errorf("%d items left unprocessed", len(pending)))
			}
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return pkgerrors.NewCancelledError("batch write").WithCause(ctx.Err())
				case <-time.After(50 * time.Millisecond << attempt):
				}
			}
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{s.tableName: pending},
			})
			if err != nil {
				return pkgerrors.NewDatabaseError("batch write", err)
			}
			pending = out.UnprocessedItems[s.tableName]
		}
	}
	return nil
}

// ListEvents implements ports.SessionStore
func (s *SessionStore) ListEvents(ctx context.Context, id valueobjects.SessionID, afterVersion, limit int) ([]events.Record, error) {
	keyCond := expression.KeyAnd(
		expression.Key("PK").Equal(expression.Value(partitionKey(id))),
		expression.Key("SK").Between(
			expression.Value(fmt.Sprintf("EVT#%012d", afterVersion+1)),
			expression.Value("EVT#~"),
		),
	)
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to build key condition").WithCause(err)
	}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	out := []events.Record{}
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("list events", err)
		}
		for _, raw := range result.Items {
			var record EventRecord
			if err := attributevalue.UnmarshalMap(raw, &record); err != nil {
				return nil, pkgerrors.NewDatabaseError("decode event", err).AsRecoverable(false)
			}
			ts, _ := time.Parse(time.RFC3339Nano, record.Timestamp)
			out = append(out, events.Record{
				EventID:   record.EventID,
				SessionID: record.SessionID,
				EventType: record.EventType,
				Timestamp: ts,
				Version:   record.Version,
				Payload:   json.RawMessage(record.Payload),
			})
		}
		if len(result.LastEvaluatedKey) == 0 || (limit > 0 && len(out) >= limit) {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	if len(out) == 0 {
		meta, err := s.getDocument(ctx, id, skMeta)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			return nil, pkgerrors.NewNotFoundError("session").WithDetail("sessionID", id.String())
		}
	}
	return out, nil
}
