package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ideaflow/application/ports"
	"ideaflow/domain/core/aggregates"
	"ideaflow/domain/core/entities"
	"ideaflow/domain/core/valueobjects"
	"ideaflow/infrastructure/persistence/schema"
	pkgerrors "ideaflow/pkg/errors"
	"ideaflow/pkg/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// Client is the subset of the DynamoDB API the store uses
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

const (
	skMeta   = "META"
	skBackup = "BACKUP"

	// TransactWriteItems accepts at most 100 items; two are reserved for the
	// session and backup documents.
	maxTransactMessages = 98
)

// sessionItem is the META and BACKUP item of a session
type sessionItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	EntityType    string `dynamodbav:"EntityType"`
	SessionID     string `dynamodbav:"SessionID"`
	Version       int    `dynamodbav:"Version"`
	SchemaVersion int    `dynamodbav:"SchemaVersion"`
	Checksum      string `dynamodbav:"Checksum"`
	MessageCount  int    `dynamodbav:"MessageCount"`
	SavedAt       string `dynamodbav:"SavedAt"`
	Document      string `dynamodbav:"Document"`
}

// messageItem is one MSG# item of the append-only message log
type messageItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	MessageID  string `dynamodbav:"MessageID"`
	Sequence   int64  `dynamodbav:"Sequence"`
	Body       string `dynamodbav:"Body"`
}

// SessionStore implements ports.SessionStore on a single DynamoDB table.
// Each session is one partition: META holds the current document, BACKUP the
// last backup copy, MSG# the message log and EVT# the recorded events.
type SessionStore struct {
	client    Client
	tableName string
	codec     *schema.SchemaEvolution
	clock     ports.Clock
	logger    *zap.Logger
}

// NewSessionStore creates a DynamoDB session store
func NewSessionStore(client Client, tableName string, codec *schema.SchemaEvolution, clock ports.Clock, logger *zap.Logger) *SessionStore {
	if codec == nil {
		codec = schema.NewSchemaEvolution(nil)
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionStore{client: client, tableName: tableName, codec: codec, clock: clock, logger: logger}
}

func partitionKey(id valueobjects.SessionID) string {
	return "SESSION#" + id.String()
}

func messageSortKey(sequence int64) string {
	return fmt.Sprintf("MSG#%012d", sequence)
}

func (s *SessionStore) key(id valueobjects.SessionID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: partitionKey(id)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (s *SessionStore) documentItem(id valueobjects.SessionID, sk string, doc schema.Document) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(sessionItem{
		PK:            partitionKey(id),
		SK:            sk,
		EntityType:    "session",
		SessionID:     id.String(),
		Version:       doc.Version,
		SchemaVersion: doc.SchemaVersion,
		Checksum:      doc.Checksum,
		MessageCount:  doc.MessageCount,
		SavedAt:       utils.FormatRFC3339(doc.SavedAt),
		Document:      string(doc.Data),
	})
}

func itemDocument(item sessionItem) schema.Document {
	saved, _ := utils.ParseRFC3339(item.SavedAt)
	return schema.Document{
		SchemaVersion: item.SchemaVersion,
		Version:       item.Version,
		Checksum:      item.Checksum,
		MessageCount:  item.MessageCount,
		SavedAt:       saved,
		Data:          json.RawMessage(item.Document),
	}
}

// Create implements ports.SessionStore
func (s *SessionStore) Create(ctx context.Context, snap aggregates.SessionSnapshot) error {
	snap.Version = 1
	doc, err := s.codec.Seal(snap, 0, s.clock.Now())
	if err != nil {
		return pkgerrors.NewDatabaseError("create session", err)
	}
	meta, err := s.documentItem(snap.ID, skMeta, doc)
	if err != nil {
		return pkgerrors.NewDatabaseError("create session", err)
	}
	backup, err := s.documentItem(snap.ID, skBackup, doc)
	if err != nil {
		return pkgerrors.NewDatabaseError("create session", err)
	}

	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("PK"))).
		Build()
	if err != nil {
		return pkgerrors.NewInternalError("failed to build condition").WithCause(err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:                aws.String(s.tableName),
				Item:                     meta,
				ConditionExpression:      cond.Condition(),
				ExpressionAttributeNames: cond.Names(),
			}},
			{Put: &types.Put{TableName: aws.String(s.tableName), Item: backup}},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return pkgerrors.NewConflictError("session already exists").
				WithCode("SESSION_EXISTS").
				WithDetail("sessionID", snap.ID.String())
		}
		return pkgerrors.NewDatabaseError("create session", err)
	}
	return nil
}

func (s *SessionStore) getDocument(ctx context.Context, id valueobjects.SessionID, sk string) (*sessionItem, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(id, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("get session", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var item sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, pkgerrors.NewDatabaseError("decode session", err).AsRecoverable(false)
	}
	return &item, nil
}

// Load implements ports.SessionStore
func (s *SessionStore) Load(ctx context.Context, id valueobjects.SessionID) (ports.StoredSession, error) {
	item, err := s.getDocument(ctx, id, skMeta)
	if err != nil {
		return ports.StoredSession{}, err
	}
	if item == nil {
		return ports.StoredSession{}, pkgerrors.NewNotFoundError("session").WithDetail("sessionID", id.String())
	}

	snap, err := s.codec.Open(itemDocument(*item))
	if err != nil {
		if !schema.IsIntegrityError(err) {
			return ports.StoredSession{}, pkgerrors.NewDatabaseError("load session", err).AsRecoverable(false)
		}
		snap, err = s.restoreBackup(ctx, id, err)
		if err != nil {
			return ports.StoredSession{}, err
		}
	}

	messages, err := s.loadMessages(ctx, id, snap.LastSequence)
	if err != nil {
		return ports.StoredSession{}, err
	}
	return ports.StoredSession{Snapshot: snap, Messages: messages}, nil
}

// restoreBackup replaces META with the backup copy. Messages newer than the
// backup stay in the table but are not returned, and are overwritten when
// their sequence numbers are reused.
func (s *SessionStore) restoreBackup(ctx context.Context, id valueobjects.SessionID, cause error) (aggregates.SessionSnapshot, error) {
	backup, err := s.getDocument(ctx, id, skBackup)
	if err != nil {
		return aggregates.SessionSnapshot{}, err
	}
	if backup == nil {
		return aggregates.SessionSnapshot{}, pkgerrors.NewDatabaseError("load session", cause).AsRecoverable(false)
	}
	doc := itemDocument(*backup)
	snap, err := s.codec.Open(doc)
	if err != nil {
		return snap, pkgerrors.NewDatabaseError("restore session backup", err).AsRecoverable(false)
	}

	meta, err := s.documentItem(id, skMeta, doc)
	if err != nil {
		return snap, pkgerrors.NewDatabaseError("restore session backup", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.tableName), Item: meta}); err != nil {
		return snap, pkgerrors.NewDatabaseError("restore session backup", err)
	}

	s.logger.Warn("Session document failed integrity check, restored backup",
		zap.String("sessionID", id.String()),
		zap.Int("restoredVersion", doc.Version),
		zap.Error(cause),
	)
	return snap, nil
}

func (s *SessionStore) loadMessages(ctx context.Context, id valueobjects.SessionID, lastSequence int64) ([]entities.MessageView, error) {
	keyCond := expression.KeyAnd(
		expression.Key("PK").Equal(expression.Value(partitionKey(id))),
		expression.Key("SK").Between(expression.Value(messageSortKey(0)), expression.Value(messageSortKey(lastSequence))),
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
		ConsistentRead:            aws.Bool(true),
		ScanIndexForward:          aws.Bool(true),
	}

	messages := []entities.MessageView{}
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("load messages", err)
		}
		for _, raw := range out.Items {
			var item messageItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, pkgerrors.NewDatabaseError("decode message", err).AsRecoverable(false)
			}
			var view entities.MessageView
			if err := json.Unmarshal([]byte(item.Body), &view); err != nil {
				return nil, pkgerrors.NewDatabaseError("decode message", err).AsRecoverable(false)
			}
			messages = append(messages, view)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return messages, nil
}

// Save implements ports.SessionStore. The META write is conditional on the
// expected version and commits atomically with the backup and the new
// message items.
func (s *SessionStore) Save(ctx context.Context, snap aggregates.SessionSnapshot, messages []entities.MessageView, expectedVersion int) (int, error) {
	current, err := s.getDocument(ctx, snap.ID, skMeta)
	if err != nil {
		return 0, err
	}
	if current == nil {
		return 0, pkgerrors.NewNotFoundError("session").WithDetail("sessionID", snap.ID.String())
	}
	if current.Version != expectedVersion {
		return 0, versionConflict(snap.ID, expectedVersion, current.Version)
	}

	now := s.clock.Now()
	snap.Version = expectedVersion + 1
	doc, err := s.codec.Seal(snap, int(snap.LastSequence), now)
	if err != nil {
		return 0, pkgerrors.NewDatabaseError("save session", err)
	}
	meta, err := s.documentItem(snap.ID, skMeta, doc)
	if err != nil {
		return 0, pkgerrors.NewDatabaseError("save session", err)
	}

	msgItems := make([]map[string]types.AttributeValue, 0, len(messages))
	for _, m := range messages {
		item, err := s.messageItem(snap.ID, m)
		if err != nil {
			return 0, err
		}
		msgItems = append(msgItems, item)
	}
	// Overflow is written ahead of the transaction. Message items are
	// immutable and keyed by sequence, so a failed save leaves nothing wrong.
	if len(msgItems) > maxTransactMessages {
		overflow := msgItems[maxTransactMessages:]
		msgItems = msgItems[:maxTransactMessages]
		puts := make([]types.WriteRequest, 0, len(overflow))
		for _, item := range overflow {
			puts = append(puts, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		}
		if err := s.batchWrite(ctx, puts); err != nil {
			return 0, err
		}
	}

	cond, err := expression.NewBuilder().
		WithCondition(expression.Name("Version").Equal(expression.Value(expectedVersion))).
		Build()
	if err != nil {
		return 0, pkgerrors.NewInternalError("failed to build condition").WithCause(err)
	}

	items := []types.TransactWriteItem{{Put: &types.Put{
		TableName:                 aws.String(s.tableName),
		Item:                      meta,
		ConditionExpression:       cond.Condition(),
		ExpressionAttributeNames:  cond.Names(),
		ExpressionAttributeValues: cond.Values(),
	}}}

	policy := s.codec.Versioning().Policy()
	previous := itemDocument(*current)
	backupInfo, err := s.getDocument(ctx, snap.ID, skBackup)
	if err != nil {
		return 0, err
	}
	if backupInfo == nil || policy.ShouldBackup(itemDocument(*backupInfo).SessionVersion(snap.ID.String()), doc.MessageCount, now) {
		backup, err := s.documentItem(snap.ID, skBackup, previous)
		if err != nil {
			return 0, pkgerrors.NewDatabaseError("save session", err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(s.tableName), Item: backup}})
	}
	for _, item := range msgItems {
		items = append(items, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(s.tableName), Item: item}})
	}

	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		if isConditionFailure(err) {
			return 0, versionConflict(snap.ID, expectedVersion, -1)
		}
		return 0, pkgerrors.NewDatabaseError("save session", err)
	}
	return snap.Version, nil
}

func (s *SessionStore) messageItem(id valueobjects.SessionID, m entities.MessageView) (map[string]types.AttributeValue, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("encode message", err)
	}
	item, err := attributevalue.MarshalMap(messageItem{
		PK:         partitionKey(id),
		SK:         messageSortKey(m.Sequence),
		EntityType: "message",
		MessageID:  string(m.ID),
		Sequence:   m.Sequence,
		Body:       string(body),
	})
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("encode message", err)
	}
	return item, nil
}

func versionConflict(id valueobjects.SessionID, expected, actual int) error {
	err := pkgerrors.NewConflictError("session was modified concurrently").
		WithCode("VERSION_CONFLICT").
		WithDetail("sessionID", id.String()).
		WithDetail("expectedVersion", expected)
	if actual >= 0 {
		err = err.WithDetail("actualVersion", actual)
	}
	return err
}

// isConditionFailure reports whether a write was rejected by its condition
func isConditionFailure(err error) bool {
	var conditionalCheckFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionalCheckFailed) {
		return true
	}
	var cancelled *types.TransactionCanceledException
	if errors.As(err, &cancelled) {
		for _, reason := range cancelled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}
