package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ideaflow/domain/core/valueobjects"
	"ideaflow/domain/events"
	"ideaflow/infrastructure/messaging"
	pkgerrors "ideaflow/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwTypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDynamo struct {
	mock.Mock
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.DeleteItemOutput)
	return out, args.Error(1)
}

func (m *mockDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

type mockPoster struct {
	mock.Mock
}

func (m *mockPoster) PostToConnection(ctx context.Context, in *apigatewaymanagementapi.PostToConnectionInput, _ ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	args := m.Called(aws.ToString(in.ConnectionId), in.Data)
	out, _ := args.Get(0).(*apigatewaymanagementapi.PostToConnectionOutput)
	return out, args.Error(1)
}

type staticConnections struct {
	conns   []Connection
	removed []string
}

func (s *staticConnections) ForSession(context.Context, valueobjects.SessionID) ([]Connection, error) {
	return s.conns, nil
}

func (s *staticConnections) Remove(_ context.Context, id string) error {
	s.removed = append(s.removed, id)
	return nil
}

func sampleRecords(sid valueobjects.SessionID) []events.Record {
	return []events.Record{{
		EventID:   "evt-1",
		SessionID: sid.String(),
		EventType: events.TypeConsensusDetected,
		Timestamp: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
		Version:   7,
		Payload:   json.RawMessage(`{"state":"WEAK"}`),
	}}
}

func TestRegistry_AddWritesBothItems(t *testing.T) {
	client := &mockDynamo{}
	var keys []string
	client.On("PutItem", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			in := args.Get(1).(*dynamodb.PutItemInput)
			var item connectionItem
			require.NoError(t, attributevalue.UnmarshalMap(in.Item, &item))
			keys = append(keys, item.PK+"|"+item.SK)
		}).
		Return(&dynamodb.PutItemOutput{}, nil).Twice()

	sid := valueobjects.NewSessionID()
	reg := NewRegistry(client, "connections")
	require.NoError(t, reg.Add(context.Background(), Connection{
		ConnectionID: "c1",
		SessionID:    sid,
		Endpoint:     "abc/prod",
		ConnectedAt:  time.Now(),
	}))
	assert.Equal(t, []string{
		"CONNECTION#c1|METADATA",
		"SESSION#" + sid.String() + "|CONNECTION#c1",
	}, keys)
}

func TestRegistry_RemoveLooksUpSession(t *testing.T) {
	sid := valueobjects.NewSessionID()
	stored, err := attributevalue.MarshalMap(connectionItem{PK: "CONNECTION#c1", SK: skMetadata, ConnectionID: "c1", SessionID: sid.String()})
	require.NoError(t, err)

	client := &mockDynamo{}
	client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: stored}, nil).Once()
	var deleted []string
	client.On("DeleteItem", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			key := args.Get(1).(*dynamodb.DeleteItemInput).Key
			deleted = append(deleted, key["PK"].(*types.AttributeValueMemberS).Value)
		}).
		Return(&dynamodb.DeleteItemOutput{}, nil)

	require.NoError(t, NewRegistry(client, "connections").Remove(context.Background(), "c1"))
	assert.Equal(t, []string{"SESSION#" + sid.String(), "CONNECTION#c1"}, deleted)
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	client := &mockDynamo{}
	client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()
	require.NoError(t, NewRegistry(client, "connections").Remove(context.Background(), "ghost"))
	client.AssertNotCalled(t, "DeleteItem", mock.Anything, mock.Anything)
}

func TestRegistry_ForSessionPages(t *testing.T) {
	sid := valueobjects.NewSessionID()
	item := func(id string) map[string]types.AttributeValue {
		av, err := attributevalue.MarshalMap(connectionItem{ConnectionID: id, SessionID: sid.String(), Endpoint: "e", ConnectedAt: "2026-05-04T09:00:00Z"})
		require.NoError(t, err)
		return av
	}
	client := &mockDynamo{}
	client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool { return in.ExclusiveStartKey == nil })).
		Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item("a")}, LastEvaluatedKey: item("a")}, nil).Once()
	client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool { return in.ExclusiveStartKey != nil })).
		Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item("b")}}, nil).Once()

	conns, err := NewRegistry(client, "connections").ForSession(context.Background(), sid)
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, "a", conns[0].ConnectionID)
	assert.Equal(t, "b", conns[1].ConnectionID)
	assert.Equal(t, 2026, conns[0].ConnectedAt.Year())
}

func TestNotifier_PostsEnvelopeAndPrunesGone(t *testing.T) {
	sid := valueobjects.NewSessionID()
	source := &staticConnections{conns: []Connection{{ConnectionID: "live"}, {ConnectionID: "stale"}}}
	poster := &mockPoster{}
	poster.On("PostToConnection", "live", mock.Anything).
		Run(func(args mock.Arguments) {
			var env messaging.Envelope
			require.NoError(t, json.Unmarshal(args.Get(1).([]byte), &env))
			assert.Equal(t, events.TypeConsensusDetected, env.Type)
			assert.Equal(t, "evt-1", env.EventID)
			assert.Equal(t, 7, env.Version)
			assert.JSONEq(t, `{"state":"WEAK"}`, string(env.Data))
		}).
		Return(&apigatewaymanagementapi.PostToConnectionOutput{}, nil).Once()
	poster.On("PostToConnection", "stale", mock.Anything).Return(nil, &apigwTypes.GoneException{}).Once()

	n := NewNotifier(poster, source, nil)
	require.NoError(t, n.Notify(context.Background(), sid, sampleRecords(sid)))
	assert.Equal(t, []string{"stale"}, source.removed)
	poster.AssertExpectations(t)
}

func TestNotifier_FailsWhenNoConnectionReceives(t *testing.T) {
	sid := valueobjects.NewSessionID()
	source := &staticConnections{conns: []Connection{{ConnectionID: "c1"}}}
	poster := &mockPoster{}
	poster.On("PostToConnection", "c1", mock.Anything).Return(nil, errors.New("throttled")).Once()

	err := NewNotifier(poster, source, nil).Notify(context.Background(), sid, sampleRecords(sid))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsType(err, pkgerrors.ErrorTypeExternal))
}

func TestNotifier_NoConnectionsIsNoop(t *testing.T) {
	sid := valueobjects.NewSessionID()
	poster := &mockPoster{}
	require.NoError(t, NewNotifier(poster, &staticConnections{}, nil).Notify(context.Background(), sid, sampleRecords(sid)))
	poster.AssertNotCalled(t, "PostToConnection", mock.Anything, mock.Anything)
}
