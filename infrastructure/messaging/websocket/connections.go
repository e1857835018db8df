// Package websocket pushes session events to clients connected through an
// API Gateway WebSocket API.
package websocket

import (
	"context"
	"fmt"
	"time"

	"ideaflow/domain/core/valueobjects"
	pkgerrors "ideaflow/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// connectionTTL bounds how long a connection record outlives a missed disconnect
const connectionTTL = 24 * time.Hour

// DynamoDBAPI is the part of the DynamoDB client the registry needs
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Connection is a client subscribed to one session
type Connection struct {
	ConnectionID string
	SessionID    valueobjects.SessionID
	Endpoint     string
	ConnectedAt  time.Time
}

// connectionItem is stored twice: under the session partition for fan-out and
// under the connection partition for the disconnect lookup.
type connectionItem struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	ConnectionID string `dynamodbav:"ConnectionID"`
	SessionID    string `dynamodbav:"SessionID"`
	Endpoint     string `dynamodbav:"Endpoint"`
	ConnectedAt  string `dynamodbav:"ConnectedAt"`
	TTL          int64  `dynamodbav:"TTL"`
}

func sessionKey(id string) string    { return "SESSION#" + id }
func connectionKey(id string) string { return "CONNECTION#" + id }

const skMetadata = "METADATA"

// Registry tracks which connections follow which session
type Registry struct {
	client    DynamoDBAPI
	tableName string
}

// NewRegistry creates a connection registry on the connections table
func NewRegistry(client DynamoDBAPI, tableName string) *Registry {
	return &Registry{client: client, tableName: tableName}
}

// Add records a connection
func (r *Registry) Add(ctx context.Context, conn Connection) error {
	base := connectionItem{
		ConnectionID: conn.ConnectionID,
		SessionID:    conn.SessionID.String(),
		Endpoint:     conn.Endpoint,
		ConnectedAt:  conn.ConnectedAt.UTC().Format(time.RFC3339),
		TTL:          conn.ConnectedAt.Add(connectionTTL).Unix(),
	}

	bySession := base
	bySession.PK, bySession.SK = sessionKey(base.SessionID), connectionKey(base.ConnectionID)
	byConnection := base
	byConnection.PK, byConnection.SK = connectionKey(base.ConnectionID), skMetadata

	for _, item := range []connectionItem{byConnection, bySession} {
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return pkgerrors.NewInternalError("failed to marshal connection").WithCause(err)
		}
		if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(r.tableName),
			Item:      av,
		}); err != nil {
			return pkgerrors.NewDatabaseError("store connection", err)
		}
	}
	return nil
}

// Remove deletes a connection. Unknown connections are ignored.
func (r *Registry) Remove(ctx context.Context, connectionID string) error {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(connectionKey(connectionID), skMetadata),
	})
	if err != nil {
		return pkgerrors.NewDatabaseError("load connection", err)
	}
	if len(out.Item) == 0 {
		return nil
	}
	var item connectionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return pkgerrors.NewDatabaseError("decode connection", err).AsRecoverable(false)
	}

	keys := []map[string]types.AttributeValue{
		itemKey(sessionKey(item.SessionID), connectionKey(connectionID)),
		itemKey(connectionKey(connectionID), skMetadata),
	}
	for _, key := range keys {
		if _, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(r.tableName),
			Key:       key,
		}); err != nil {
			return pkgerrors.NewDatabaseError("delete connection", err)
		}
	}
	return nil
}

// ForSession lists the connections following a session
func (r *Registry) ForSession(ctx context.Context, sessionID valueobjects.SessionID) ([]Connection, error) {
	keyCond := expression.KeyAnd(
		expression.Key("PK").Equal(expression.Value(sessionKey(sessionID.String()))),
		expression.Key("SK").BeginsWith("CONNECTION#"),
	)
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError("failed to build key condition").WithCause(err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var conns []Connection
	for {
		out, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("query connections", err)
		}
		for _, raw := range out.Items {
			var item connectionItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to decode connection: %w", err)
			}
			connectedAt, _ := time.Parse(time.RFC3339, item.ConnectedAt)
			conns = append(conns, Connection{
				ConnectionID: item.ConnectionID,
				SessionID:    sessionID,
				Endpoint:     item.Endpoint,
				ConnectedAt:  connectedAt,
			})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return conns, nil
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}
